package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// ServerConfig holds server tuning parameters.
type ServerConfig struct {
	// UnitID is the address this server answers on. Zero accepts every
	// unit id, which suits TCP gateways; serial servers should set their
	// station address.
	UnitID byte
	// ReadSize is the per-read buffer size handed to the transport.
	ReadSize int
	Logger   *SimpleLogger
}

// DefaultServerConfig returns the defaults used when fields are left zero.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{ReadSize: MaxTCPFrameLength}
}

// Server answers Modbus requests from a DeviceContext over any framing. One
// Server may serve many connections concurrently; each connection gets its
// own Framer instance.
type Server struct {
	device DeviceContext
	cfg    ServerConfig
	logger *SimpleLogger

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	closed    bool
}

// NewServer creates a server answering from device.
func NewServer(device DeviceContext, cfg ServerConfig) *Server {
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = DefaultServerConfig().ReadSize
	}
	return &Server{
		device:    device,
		cfg:       cfg,
		logger:    cfg.Logger,
		listeners: make(map[net.Listener]struct{}),
	}
}

// serverPollInterval is the transport read timeout used between frames so
// shutdown is noticed on quiet links.
const serverPollInterval = 100 * time.Millisecond

// ListenAndServeTCP listens on addr and serves Modbus TCP until Close.
func (s *Server) ListenAndServeTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s failed: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln and serves Modbus TCP framing on each.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrClosed
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.logger.Infof("accepted connection from %s", conn.RemoteAddr())
		go func() {
			defer conn.Close()
			if err := s.ServeConn(conn); err != nil {
				s.logger.Warnf("connection %s closed: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// ServeConn serves Modbus TCP framing on a single established connection
// until it fails or the server closes.
func (s *Server) ServeConn(conn net.Conn) error {
	return s.ServeLink(NewNetTransport(conn), NewSocketFramer())
}

// ServeRTU serves Modbus RTU framing on an open serial port.
func (s *Server) ServeRTU(port io.ReadWriteCloser) error {
	return s.ServeLink(NewSerialTransport(port), NewRTUFramer(RoleServer))
}

// ServeASCII serves Modbus ASCII framing on an open serial port.
func (s *Server) ServeASCII(port io.ReadWriteCloser) error {
	return s.ServeLink(NewSerialTransport(port), NewASCIIFramer())
}

// ServeLink runs the request loop over an arbitrary transport and framer
// pair until the transport fails or the server closes. The framer must not
// be shared with another link.
func (s *Server) ServeLink(transport Transport, framer Framer) error {
	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil
		}

		data, err := transport.Read(s.cfg.ReadSize, serverPollInterval)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, ErrConnectionLost) {
				return nil
			}
			return err
		}
		if len(data) == 0 {
			continue
		}

		framer.Feed(data)
		for {
			frame, status, ferr := framer.TryExtractFrame()
			if status == NeedMoreData {
				break
			}
			if status == FrameInvalid {
				s.logger.Warnf("invalid frame, resyncing: %v", ferr)
				framer.Resync()
				continue
			}
			if err := s.handleFrame(transport, framer, frame); err != nil {
				return err
			}
		}
	}
}

// Close stops all listeners. In-flight connections finish their current
// request and exit on the next poll.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for ln := range s.listeners {
		ln.Close()
	}
	return nil
}

func (s *Server) handleFrame(transport Transport, framer Framer, frame Frame) error {
	// A configured unit id filters serial traffic addressed elsewhere.
	broadcast := frame.UnitID == BroadcastUnitID && !framer.UsesTransactionIDs()
	if s.cfg.UnitID != 0 && frame.UnitID != s.cfg.UnitID && !broadcast {
		s.logger.Debugf("ignoring frame for unit %d", frame.UnitID)
		return nil
	}

	resp := s.respond(frame.PDU)

	// Broadcast requests are executed silently.
	if broadcast {
		return nil
	}

	adu := framer.BuildFrame(EncodeResponse(resp), frame.TransactionID, frame.UnitID)
	if err := transport.Write(adu); err != nil {
		return fmt.Errorf("write response failed: %w", err)
	}
	return nil
}

// respond decodes one request PDU and produces the response, mapping
// handler errors to protocol exceptions.
func (s *Server) respond(pdu []byte) Response {
	req, err := DecodeRequest(pdu)
	if err != nil {
		s.logger.Warnf("malformed request: %v", err)
		fc := FunctionCode(0)
		if len(pdu) > 0 {
			fc = FunctionCode(pdu[0])
		}
		return BuildExceptionResponse(fc, ExcIllegalDataValue)
	}

	resp, err := s.dispatch(req)
	if err != nil {
		var exc ExceptionCode
		if !errors.As(err, &exc) {
			s.logger.Errorf("handler error for function 0x%02X: %v", byte(req.FunctionCode()), err)
			exc = ExcSlaveDeviceFailure
		}
		return BuildExceptionResponse(req.FunctionCode(), exc)
	}
	return resp
}

func (s *Server) dispatch(req Request) (Response, error) {
	switch r := req.(type) {
	case ReadCoilsRequest:
		if r.Count < 1 || r.Count > MaxReadCoilsQuantity {
			return nil, ExcIllegalDataValue
		}
		bits, err := s.device.ReadCoils(r.Address, r.Count)
		if err != nil {
			return nil, err
		}
		return ReadCoilsResponse{Bits: bits}, nil

	case ReadDiscreteInputsRequest:
		if r.Count < 1 || r.Count > MaxReadCoilsQuantity {
			return nil, ExcIllegalDataValue
		}
		bits, err := s.device.ReadDiscreteInputs(r.Address, r.Count)
		if err != nil {
			return nil, err
		}
		return ReadDiscreteInputsResponse{Bits: bits}, nil

	case ReadHoldingRegistersRequest:
		if r.Count < 1 || r.Count > MaxReadRegistersQuantity {
			return nil, ExcIllegalDataValue
		}
		values, err := s.device.ReadHoldingRegisters(r.Address, r.Count)
		if err != nil {
			return nil, err
		}
		return ReadHoldingRegistersResponse{Values: values}, nil

	case ReadInputRegistersRequest:
		if r.Count < 1 || r.Count > MaxReadRegistersQuantity {
			return nil, ExcIllegalDataValue
		}
		values, err := s.device.ReadInputRegisters(r.Address, r.Count)
		if err != nil {
			return nil, err
		}
		return ReadInputRegistersResponse{Values: values}, nil

	case WriteSingleCoilRequest:
		if err := s.device.WriteCoils(r.Address, []bool{r.Value}); err != nil {
			return nil, err
		}
		return WriteSingleCoilResponse{Address: r.Address, Value: r.Value}, nil

	case WriteSingleRegisterRequest:
		if err := s.device.WriteHoldingRegisters(r.Address, []uint16{r.Value}); err != nil {
			return nil, err
		}
		return WriteSingleRegisterResponse{Address: r.Address, Value: r.Value}, nil

	case WriteMultipleCoilsRequest:
		if len(r.Values) < 1 || len(r.Values) > MaxWriteCoilsQuantity {
			return nil, ExcIllegalDataValue
		}
		if err := s.device.WriteCoils(r.Address, r.Values); err != nil {
			return nil, err
		}
		return WriteMultipleCoilsResponse{Address: r.Address, Count: uint16(len(r.Values))}, nil

	case WriteMultipleRegistersRequest:
		if len(r.Values) < 1 || len(r.Values) > MaxWriteRegistersQuantity {
			return nil, ExcIllegalDataValue
		}
		if err := s.device.WriteHoldingRegisters(r.Address, r.Values); err != nil {
			return nil, err
		}
		return WriteMultipleRegistersResponse{Address: r.Address, Count: uint16(len(r.Values))}, nil

	case MaskWriteRegisterRequest:
		current, err := s.device.ReadHoldingRegisters(r.Address, 1)
		if err != nil {
			return nil, err
		}
		masked := (current[0] & r.AndMask) | (r.OrMask &^ r.AndMask)
		if err := s.device.WriteHoldingRegisters(r.Address, []uint16{masked}); err != nil {
			return nil, err
		}
		return MaskWriteRegisterResponse{Address: r.Address, AndMask: r.AndMask, OrMask: r.OrMask}, nil

	case ReadWriteMultipleRegistersRequest:
		if r.ReadCount < 1 || r.ReadCount > MaxReadRegistersQuantity ||
			len(r.WriteValues) < 1 || len(r.WriteValues) > MaxWriteRegistersQuantity {
			return nil, ExcIllegalDataValue
		}
		// The write is performed before the read.
		if err := s.device.WriteHoldingRegisters(r.WriteAddress, r.WriteValues); err != nil {
			return nil, err
		}
		values, err := s.device.ReadHoldingRegisters(r.ReadAddress, r.ReadCount)
		if err != nil {
			return nil, err
		}
		return ReadWriteMultipleRegistersResponse{Values: values}, nil

	case ReadExceptionStatusRequest:
		reader, ok := s.device.(ExceptionStatusReader)
		if !ok {
			return nil, ExcIllegalFunction
		}
		status, err := reader.ExceptionStatus()
		if err != nil {
			return nil, err
		}
		return ReadExceptionStatusResponse{Status: status}, nil

	case DiagnosticsRequest:
		if r.SubFunction != DiagSubReturnQueryData {
			return nil, ExcIllegalFunction
		}
		return DiagnosticsResponse{SubFunction: r.SubFunction, Data: r.Data}, nil

	case ReadDeviceIDRequest:
		return s.readDeviceID(r)

	case IllegalFunctionRequest:
		return nil, ExcIllegalFunction

	default:
		return nil, ExcIllegalFunction
	}
}

// Device identification object ranges per read code.
const (
	deviceIDBasicEnd   = 0x03
	deviceIDRegularEnd = 0x80
)

func (s *Server) readDeviceID(r ReadDeviceIDRequest) (Response, error) {
	identity, ok := s.device.(DeviceIdentity)
	if !ok {
		return nil, ExcIllegalFunction
	}
	objects := identity.DeviceIdentification()

	var selected []DeviceIDObject
	switch r.ReadDeviceIDCode {
	case 1, 2, 3:
		end := byte(0xFF)
		switch r.ReadDeviceIDCode {
		case 1:
			end = deviceIDBasicEnd
		case 2:
			end = deviceIDRegularEnd
		}
		for _, obj := range objects {
			if obj.ID >= r.ObjectID && obj.ID < end {
				selected = append(selected, obj)
			}
		}
	case 4:
		for _, obj := range objects {
			if obj.ID == r.ObjectID {
				selected = append(selected, obj)
				break
			}
		}
		if len(selected) == 0 {
			return nil, ExcIllegalDataAddress
		}
	default:
		return nil, ExcIllegalDataValue
	}

	return ReadDeviceIDResponse{
		ReadDeviceIDCode: r.ReadDeviceIDCode,
		ConformityLevel:  0x81 + r.ReadDeviceIDCode - 1,
		Objects:          selected,
	}, nil
}

// ServeContext runs Serve and stops when ctx is cancelled.
func (s *Server) ServeContext(ctx context.Context, ln net.Listener) error {
	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()
	select {
	case <-ctx.Done():
		s.Close()
		return <-done
	case err := <-done:
		return err
	}
}
