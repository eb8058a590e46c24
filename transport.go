package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	serial "github.com/hootrhino/goserial"
)

// Transport is the byte-stream boundary below the framers. It carries raw
// ADU bytes with no knowledge of framing or transactions.
//
// Read returns whatever bytes are available within the timeout. A quiet
// timeout with no data is not an error: Read returns a zero-length slice and
// a nil error, letting the caller distinguish "link is idle" from "link is
// broken".
type Transport interface {
	Write(p []byte) error
	Read(maxBytes int, timeout time.Duration) ([]byte, error)
	Close() error
}

// TimedReadWriteCloser is implemented by ports that support per-operation
// timeouts, such as serial ports.
type TimedReadWriteCloser interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
	SetWriteTimeout(timeout time.Duration) error
}

// NetTransport adapts a net.Conn (TCP or TLS) to the Transport interface
// using read deadlines.
type NetTransport struct {
	conn net.Conn
	// WriteTimeout bounds each Write call. Zero means block until the
	// kernel accepts the data.
	WriteTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewNetTransport wraps an established network connection.
func NewNetTransport(conn net.Conn) *NetTransport {
	return &NetTransport{conn: conn}
}

// Write sends p in full.
func (t *NetTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if len(p) == 0 {
		return fmt.Errorf("nothing to write")
	}

	if t.WriteTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
		defer t.conn.SetWriteDeadline(time.Time{})
	}

	written := 0
	for written < len(p) {
		n, err := t.conn.Write(p[written:])
		if err != nil {
			return fmt.Errorf("write failed after %d bytes: %w", written, err)
		}
		written += n
	}
	return nil
}

// Read returns up to maxBytes from the connection, or a zero-length slice
// when the timeout passes with no data.
func (t *NetTransport) Read(maxBytes int, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	conn := t.conn
	t.mu.Unlock()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		// Deadlines fail only on a dead connection.
		if isConnDown(err) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := make([]byte, maxBytes)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		if isConnDown(err) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		return nil, fmt.Errorf("read failed: %w", err)
	}
	return buf[:n], nil
}

// isConnDown reports whether err means the peer or the connection itself is
// gone, as opposed to a transient or local failure.
func isConnDown(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

// Close closes the underlying connection. Safe to call more than once.
func (t *NetTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// LocalAddr returns the local network address.
func (t *NetTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the remote network address.
func (t *NetTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

type serialReadResult struct {
	data []byte
	err  error
}

// SerialTransport adapts a serial port to the Transport interface. Ports
// implementing TimedReadWriteCloser get native timeout handling; anything
// else falls back to goroutine reads bounded by a context, keeping at most
// one read in flight so no bytes are lost when a timeout races a late
// arrival.
type SerialTransport struct {
	port    io.ReadWriteCloser
	isTimed bool
	// pending holds the result of a read whose caller timed out before the
	// byte arrived. The next Read drains it first.
	pending chan serialReadResult

	mu       sync.Mutex
	inFlight bool
	closed   bool
}

// NewSerialTransport wraps an open serial port.
func NewSerialTransport(port io.ReadWriteCloser) *SerialTransport {
	_, isTimed := port.(TimedReadWriteCloser)
	return &SerialTransport{
		port:    port,
		isTimed: isTimed,
		pending: make(chan serialReadResult, 1),
	}
}

// Write sends p in full.
func (t *SerialTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if len(p) == 0 {
		return fmt.Errorf("nothing to write")
	}

	written := 0
	for written < len(p) {
		n, err := t.port.Write(p[written:])
		if err != nil {
			return fmt.Errorf("write failed after %d bytes: %w", written, err)
		}
		written += n
	}
	return nil
}

// Read returns up to maxBytes from the port, or a zero-length slice when the
// timeout passes with no data.
func (t *SerialTransport) Read(maxBytes int, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.mu.Unlock()

	if t.isTimed {
		return t.timedRead(maxBytes, timeout)
	}
	return t.goroutineRead(maxBytes, timeout)
}

func (t *SerialTransport) timedRead(maxBytes int, timeout time.Duration) ([]byte, error) {
	timed := t.port.(TimedReadWriteCloser)
	if err := timed.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	buf := make([]byte, maxBytes)
	n, err := t.port.Read(buf)
	if err != nil {
		if errors.Is(err, serial.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("read failed: %w", err)
	}
	return buf[:n], nil
}

func (t *SerialTransport) goroutineRead(maxBytes int, timeout time.Duration) ([]byte, error) {
	// Spawn a reader only if none is already blocked on the port.
	t.mu.Lock()
	if !t.inFlight {
		t.inFlight = true
		go func() {
			buf := make([]byte, maxBytes)
			n, err := t.port.Read(buf)
			t.pending <- serialReadResult{data: buf[:n], err: err}
		}()
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case res := <-t.pending:
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
		return t.finishRead(res)
	case <-ctx.Done():
		// The reader stays in flight; its result is picked up next call.
		return nil, nil
	}
}

func (t *SerialTransport) finishRead(res serialReadResult) ([]byte, error) {
	if res.err != nil {
		if errors.Is(res.err, serial.ErrTimeout) {
			return nil, nil
		}
		if errors.Is(res.err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, res.err)
		}
		return nil, fmt.Errorf("read failed: %w", res.err)
	}
	return res.data, nil
}

// Close closes the underlying port. Safe to call more than once.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}
