package modbus

import (
	"bytes"
	"encoding/hex"
)

// ASCII framing constants.
const (
	asciiStart = ':'
	// Longest frame: start + 2*(unit + max PDU + LRC) hex chars + CRLF.
	MaxASCIIFrameLength = 1 + 2*(1+MaxPDULength+1) + 2
)

var asciiEnd = []byte{'\r', '\n'}

// ASCIIFramer implements Modbus ASCII framing: a ':' start delimiter, the
// hex-encoded unit id + PDU + LRC, and a CRLF terminator. Out-of-band noise
// before the ':' is discarded while scanning.
type ASCIIFramer struct {
	frameBuffer
	state framerState
	// discard is the prefix length of an invalid frame, consumed by Resync.
	discard int
}

// NewASCIIFramer creates a framer for Modbus ASCII streams.
func NewASCIIFramer() *ASCIIFramer {
	return &ASCIIFramer{}
}

// UsesTransactionIDs implements Framer.
func (f *ASCIIFramer) UsesTransactionIDs() bool { return false }

// Feed implements Framer.
func (f *ASCIIFramer) Feed(p []byte) { f.feed(p) }

// Buffered implements Framer.
func (f *ASCIIFramer) Buffered() int { return f.buffered() }

// Reset implements Framer.
func (f *ASCIIFramer) Reset() {
	f.reset()
	f.discard = 0
	f.state = awaitingHeader
}

// Resync discards the invalid frame flagged by the last TryExtractFrame,
// or a single byte when none is flagged.
func (f *ASCIIFramer) Resync() {
	if f.discard > 0 {
		f.advance(f.discard)
		f.discard = 0
	} else {
		f.advance(1)
	}
	f.state = awaitingHeader
}

// TryExtractFrame implements Framer.
func (f *ASCIIFramer) TryExtractFrame() (Frame, ExtractStatus, error) {
	// Hunt for the start delimiter, dropping any noise before it.
	start := bytes.IndexByte(f.buf, asciiStart)
	if start < 0 {
		f.reset()
		f.state = awaitingHeader
		return Frame{}, NeedMoreData, nil
	}
	if start > 0 {
		f.advance(start)
	}

	end := bytes.Index(f.buf, asciiEnd)
	if end < 0 {
		if f.buffered() > MaxASCIIFrameLength {
			f.state = resyncing
			f.discard = 1
			return Frame{}, FrameInvalid, framingErrorf("no CRLF within %d bytes of frame start", MaxASCIIFrameLength)
		}
		f.state = awaitingBody
		return Frame{}, NeedMoreData, nil
	}

	frameLen := end + len(asciiEnd)
	body := f.buf[1:end]

	decoded := make([]byte, hex.DecodedLen(len(body)))
	if _, err := hex.Decode(decoded, body); err != nil {
		f.state = resyncing
		f.discard = frameLen
		return Frame{}, FrameInvalid, framingErrorf("bad hex in ASCII frame: %v", err)
	}
	// Unit id, at least a function code, and the LRC byte.
	if len(decoded) < 3 {
		f.state = resyncing
		f.discard = frameLen
		return Frame{}, FrameInvalid, framingErrorf("ASCII frame too short: %d decoded bytes", len(decoded))
	}

	payload := decoded[:len(decoded)-1]
	if LRC(payload) != decoded[len(decoded)-1] {
		f.state = resyncing
		f.discard = frameLen
		return Frame{}, FrameInvalid, framingErrorf("LRC mismatch: computed 0x%02X, received 0x%02X",
			LRC(payload), decoded[len(decoded)-1])
	}

	pdu := make([]byte, len(payload)-1)
	copy(pdu, payload[1:])
	f.advance(frameLen)
	f.discard = 0
	f.state = awaitingHeader

	return Frame{UnitID: payload[0], PDU: pdu}, FrameReady, nil
}

// BuildFrame implements Framer: ':' + uppercase hex of unit id, PDU and LRC
// + CRLF.
func (f *ASCIIFramer) BuildFrame(pdu []byte, _ uint16, unitID byte) []byte {
	var sum lrc
	sum.reset().pushByte(unitID).pushBytes(pdu)

	raw := make([]byte, 0, 2+len(pdu))
	raw = append(raw, unitID)
	raw = append(raw, pdu...)
	raw = append(raw, sum.value())

	adu := make([]byte, 0, 1+2*len(raw)+2)
	adu = append(adu, asciiStart)
	adu = append(adu, bytes.ToUpper([]byte(hex.EncodeToString(raw)))...)
	return append(adu, asciiEnd...)
}
