package modbus

// Frame is one complete ADU with its transport header stripped. It is
// ephemeral: constructed by a framer, consumed immediately after decode.
type Frame struct {
	TransactionID    uint16
	HasTransactionID bool
	UnitID           byte
	PDU              []byte
}

// ExtractStatus is the outcome of a TryExtractFrame call.
type ExtractStatus int

const (
	// NeedMoreData means the buffer does not yet hold a complete frame.
	NeedMoreData ExtractStatus = iota
	// FrameReady means a complete, checksum-verified frame was extracted.
	FrameReady
	// FrameInvalid means the buffered prefix failed validation; the caller
	// must Resync to discard it before trying again.
	FrameInvalid
)

func (s ExtractStatus) String() string {
	switch s {
	case NeedMoreData:
		return "NeedMoreData"
	case FrameReady:
		return "FrameReady"
	case FrameInvalid:
		return "FrameInvalid"
	default:
		return "ExtractStatus(?)"
	}
}

// framerState tracks what the accumulation buffer is waiting for.
type framerState int

const (
	awaitingHeader framerState = iota
	awaitingBody
	resyncing
)

// Framer is the byte-stream to frame state machine for one wire variant.
// A framer instance owns its accumulation buffer; partial data from one
// Feed call carries into the next. Framers are not safe for concurrent use;
// each one is driven by a single TransactionManager or server session.
type Framer interface {
	// Feed appends raw transport bytes to the accumulation buffer.
	Feed(p []byte)

	// TryExtractFrame attempts to slice the next complete frame out of the
	// buffer. Multiple frames may be buffered after one Feed; callers loop
	// until NeedMoreData. The error is non-nil only for FrameInvalid.
	TryExtractFrame() (Frame, ExtractStatus, error)

	// BuildFrame serializes an encoded PDU into this variant's wire format.
	// The transaction id is ignored by variants that have none.
	BuildFrame(pdu []byte, transactionID uint16, unitID byte) []byte

	// Resync discards the minimal offending prefix after FrameInvalid so
	// extraction can realign on a later frame boundary.
	Resync()

	// Reset discards all buffered data.
	Reset()

	// UsesTransactionIDs reports whether frames of this variant carry a
	// transaction identifier for request/response correlation.
	UsesTransactionIDs() bool

	// Buffered returns the number of unconsumed bytes in the buffer.
	Buffered() int
}

// frameBuffer is the accumulation buffer shared by all framer variants.
type frameBuffer struct {
	buf []byte
}

func (b *frameBuffer) feed(p []byte) {
	b.buf = append(b.buf, p...)
}

// advance drops the first n buffered bytes.
func (b *frameBuffer) advance(n int) {
	if n >= len(b.buf) {
		b.buf = b.buf[:0]
		return
	}
	remaining := len(b.buf) - n
	copy(b.buf, b.buf[n:])
	b.buf = b.buf[:remaining]
}

func (b *frameBuffer) reset() {
	b.buf = b.buf[:0]
}

func (b *frameBuffer) buffered() int {
	return len(b.buf)
}
