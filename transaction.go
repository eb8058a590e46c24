package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BroadcastUnitID is the unit id that addresses every device on a serial
// line. Broadcast requests are executed silently; no device responds.
const BroadcastUnitID = 0

// TransactionConfig holds tuning parameters for a TransactionManager.
type TransactionConfig struct {
	// Timeout bounds one send/receive attempt.
	Timeout time.Duration
	// MaxRetries is the number of resends after the initial attempt. A
	// silent peer sees exactly 1+MaxRetries writes before TimeoutError.
	MaxRetries int
	// RetryOnEmpty treats a zero-length read before the deadline as a
	// missing response and resends immediately instead of waiting out the
	// rest of the attempt.
	RetryOnEmpty bool
	// ReadSize is the per-read buffer size handed to the transport.
	ReadSize int
	Logger   *SimpleLogger
}

// DefaultTransactionConfig returns the defaults used by the client
// constructors.
func DefaultTransactionConfig() TransactionConfig {
	return TransactionConfig{
		Timeout:    1 * time.Second,
		MaxRetries: 3,
		ReadSize:   MaxTCPFrameLength,
	}
}

type txResult struct {
	pdu []byte
	err error
}

// pendingTransaction tracks one in-flight request on an id-carrying framing.
type pendingTransaction struct {
	unitID byte
	done   chan txResult
}

// pumpPollInterval is how often the receive pump wakes to check for
// shutdown when the link is quiet.
const pumpPollInterval = 50 * time.Millisecond

// TransactionManager drives send/receive cycles over one Transport and one
// Framer. For framings that carry transaction ids it allocates ids, permits
// multiple concurrent in-flight requests and correlates responses by id via
// a background receive pump. For id-less framings (RTU, ASCII, TLS) it
// enforces a single in-flight request and accepts the first decodable
// response.
//
// Execute and ExecutePDU are safe for concurrent use; on id-less framings a
// second concurrent call fails with ErrBusy rather than blocking.
type TransactionManager struct {
	transport Transport
	framer    Framer
	cfg       TransactionConfig
	logger    *SimpleLogger

	// framerMu guards the framer's accumulation buffer.
	framerMu sync.Mutex

	mu      sync.Mutex
	nextTID uint16
	pending map[uint16]*pendingTransaction
	busy    bool // one-at-a-time gate for id-less framings
	lost    bool
	closed  bool

	pumpDone chan struct{}
}

// NewTransactionManager creates a manager over the given transport and
// framer. For id-carrying framings this starts a background receive
// goroutine that runs until Close.
func NewTransactionManager(transport Transport, framer Framer, cfg TransactionConfig) *TransactionManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTransactionConfig().Timeout
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = DefaultTransactionConfig().ReadSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	m := &TransactionManager{
		transport: transport,
		framer:    framer,
		cfg:       cfg,
		logger:    cfg.Logger,
		pending:   make(map[uint16]*pendingTransaction),
		pumpDone:  make(chan struct{}),
	}
	if framer.UsesTransactionIDs() {
		go m.receiveLoop()
	} else {
		close(m.pumpDone)
	}
	return m
}

// Execute encodes the request, runs a full transaction and decodes the
// response. Broadcast requests (unit id 0 on id-less framings) return
// (nil, nil) immediately after the write.
//
// A response carrying a Modbus exception is returned alongside a
// *ModbusError so callers can inspect either.
func (m *TransactionManager) Execute(ctx context.Context, unitID byte, req Request) (Response, error) {
	pdu := EncodeRequest(req)
	respPDU, err := m.ExecutePDU(ctx, unitID, pdu)
	if err != nil {
		return nil, err
	}
	if respPDU == nil {
		// Broadcast, executed silently.
		return nil, nil
	}

	resp, err := DecodeResponse(respPDU)
	if err != nil {
		return nil, err
	}
	if resp.FunctionCode()&^exceptionBit != req.FunctionCode() {
		return nil, fmt.Errorf("function code mismatch: sent 0x%02X, received 0x%02X",
			byte(req.FunctionCode()), byte(resp.FunctionCode()))
	}
	if exc, ok := resp.(ExceptionResponse); ok {
		return resp, exc.Err()
	}
	return resp, nil
}

// ExecutePDU runs a full transaction for an already-encoded request PDU and
// returns the raw response PDU. A nil, nil return means the request was a
// broadcast and no response is expected.
func (m *TransactionManager) ExecutePDU(ctx context.Context, unitID byte, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("empty request PDU")
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("request PDU too long: %d bytes", len(pdu))
	}

	if m.framer.UsesTransactionIDs() {
		return m.executeCorrelated(ctx, unitID, pdu)
	}
	return m.executeSequential(ctx, unitID, pdu)
}

// Close shuts the manager down, closes the transport and fails every
// in-flight transaction with ErrClosed.
func (m *TransactionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	err := m.transport.Close()
	m.failAllPending(ErrClosed)
	<-m.pumpDone
	return err
}

// allocateTID returns the next transaction id, wrapping at 0xFFFF and never
// handing out an id that is still in flight. Caller holds m.mu.
func (m *TransactionManager) allocateTID() uint16 {
	for {
		m.nextTID++
		if _, inFlight := m.pending[m.nextTID]; !inFlight {
			return m.nextTID
		}
	}
}

func (m *TransactionManager) unregister(tid uint16) {
	m.mu.Lock()
	delete(m.pending, tid)
	m.mu.Unlock()
}

// executeCorrelated handles id-carrying framings. Multiple transactions may
// be in flight; the receive pump matches responses to them by id.
func (m *TransactionManager) executeCorrelated(ctx context.Context, unitID byte, pdu []byte) ([]byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.lost {
		m.mu.Unlock()
		return nil, ErrConnectionLost
	}
	tid := m.allocateTID()
	tx := &pendingTransaction{unitID: unitID, done: make(chan txResult, 1)}
	m.pending[tid] = tx
	m.mu.Unlock()
	defer m.unregister(tid)

	frame := m.framer.BuildFrame(pdu, tid, unitID)

	attempts := m.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := m.transport.Write(frame); err != nil {
			return nil, fmt.Errorf("write failed: %w", err)
		}
		m.logger.Debugf("sent request: tid=0x%04X unit=%d attempt=%d/%d", tid, unitID, attempt, attempts)

		timer := time.NewTimer(m.cfg.Timeout)
		select {
		case res := <-tx.done:
			timer.Stop()
			return res.pdu, res.err
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			if attempt < attempts {
				m.logger.Warnf("no response for tid=0x%04X within %v, resending", tid, m.cfg.Timeout)
			}
		}
	}

	return nil, &TimeoutError{Attempts: attempts, Partial: m.bufferedBytes() > 0}
}

// executeSequential handles id-less framings: one transaction at a time,
// inline read loop, first decodable frame wins.
func (m *TransactionManager) executeSequential(ctx context.Context, unitID byte, pdu []byte) ([]byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.lost {
		m.mu.Unlock()
		return nil, ErrConnectionLost
	}
	if m.busy {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	m.busy = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}()

	frame := m.framer.BuildFrame(pdu, 0, unitID)

	if unitID == BroadcastUnitID {
		if err := m.transport.Write(frame); err != nil {
			return nil, fmt.Errorf("write failed: %w", err)
		}
		m.logger.Debugf("broadcast request sent, not awaiting response")
		return nil, nil
	}

	attempts := m.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := m.transport.Write(frame); err != nil {
			return nil, fmt.Errorf("write failed: %w", err)
		}
		m.logger.Debugf("sent request: unit=%d attempt=%d/%d", unitID, attempt, attempts)

		respPDU, err := m.awaitResponse(ctx, unitID)
		if err == nil {
			return respPDU, nil
		}
		if !errors.Is(err, errAttemptTimedOut) {
			return nil, err
		}
	}

	return nil, &TimeoutError{Attempts: attempts, Partial: m.bufferedBytes() > 0}
}

// errAttemptTimedOut signals one attempt's budget ran out; the attempt loop
// decides whether a retry remains.
var errAttemptTimedOut = errors.New("attempt timed out")

// awaitResponse reads and decodes until a frame for unitID arrives or the
// attempt budget runs out.
func (m *TransactionManager) awaitResponse(ctx context.Context, unitID byte) ([]byte, error) {
	deadline := time.Now().Add(m.cfg.Timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errAttemptTimedOut
		}

		data, err := m.transport.Read(m.cfg.ReadSize, remaining)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			if m.cfg.RetryOnEmpty {
				m.logger.Warnf("empty read from unit %d, treating as missing response", unitID)
				return nil, errAttemptTimedOut
			}
			continue
		}

		m.framerMu.Lock()
		m.framer.Feed(data)
		pdu, found := m.drainForUnit(unitID)
		m.framerMu.Unlock()
		if found {
			return pdu, nil
		}
	}
}

// drainForUnit extracts frames until a frame from unitID is found or the
// buffer needs more data. Caller holds framerMu.
func (m *TransactionManager) drainForUnit(unitID byte) ([]byte, bool) {
	for {
		frame, status, err := m.framer.TryExtractFrame()
		switch status {
		case FrameReady:
			if frame.UnitID != unitID {
				m.logger.Warnf("discarding frame from unexpected unit %d (want %d)", frame.UnitID, unitID)
				continue
			}
			return frame.PDU, true
		case FrameInvalid:
			m.logger.Warnf("invalid frame, resyncing: %v", err)
			m.framer.Resync()
		case NeedMoreData:
			return nil, false
		}
	}
}

// receiveLoop is the background pump for id-carrying framings. It feeds the
// framer, extracts frames and completes the matching pending transaction.
// Frames with stale or foreign transaction ids are logged and discarded.
func (m *TransactionManager) receiveLoop() {
	defer close(m.pumpDone)

	for {
		data, err := m.transport.Read(m.cfg.ReadSize, pumpPollInterval)
		if err != nil {
			// A local Close surfaces here as a closed-connection read
			// error; that is shutdown, not connection loss.
			m.mu.Lock()
			closed := m.closed
			m.mu.Unlock()
			if closed || errors.Is(err, ErrClosed) {
				m.failAllPending(ErrClosed)
				return
			}
			m.logger.Errorf("receive failed, connection lost: %v", err)
			m.mu.Lock()
			m.lost = true
			m.mu.Unlock()
			m.failAllPending(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			return
		}
		if len(data) == 0 {
			m.mu.Lock()
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			continue
		}

		m.framerMu.Lock()
		m.framer.Feed(data)
		m.dispatchFrames()
		m.framerMu.Unlock()
	}
}

// dispatchFrames drains the framer and routes complete frames to their
// pending transactions. Caller holds framerMu.
func (m *TransactionManager) dispatchFrames() {
	for {
		frame, status, err := m.framer.TryExtractFrame()
		switch status {
		case FrameReady:
			m.completeTransaction(frame)
		case FrameInvalid:
			m.logger.Warnf("invalid frame, resyncing: %v", err)
			m.framer.Resync()
		case NeedMoreData:
			return
		}
	}
}

func (m *TransactionManager) completeTransaction(frame Frame) {
	m.mu.Lock()
	tx, ok := m.pending[frame.TransactionID]
	if ok && tx.unitID != frame.UnitID {
		m.mu.Unlock()
		m.logger.Warnf("discarding frame: tid=0x%04X unit mismatch (got %d, want %d)",
			frame.TransactionID, frame.UnitID, tx.unitID)
		return
	}
	if ok {
		delete(m.pending, frame.TransactionID)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Warnf("discarding frame with unknown transaction id 0x%04X", frame.TransactionID)
		return
	}
	tx.done <- txResult{pdu: frame.PDU}
}

// failAllPending completes every in-flight transaction with err.
func (m *TransactionManager) failAllPending(err error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint16]*pendingTransaction)
	m.mu.Unlock()

	for tid, tx := range pending {
		m.logger.Warnf("failing pending transaction tid=0x%04X: %v", tid, err)
		tx.done <- txResult{err: err}
	}
}

func (m *TransactionManager) bufferedBytes() int {
	m.framerMu.Lock()
	defer m.framerMu.Unlock()
	return m.framer.Buffered()
}
