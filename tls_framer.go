package modbus

// TLSFramer implements Modbus/TCP Security framing. The TLS record layer
// already delimits and authenticates messages, so the application payload is
// a bare PDU with no MBAP header and no checksum. Each extraction drains the
// whole buffer as one frame.
type TLSFramer struct {
	frameBuffer
	unitID byte
}

// NewTLSFramer creates a framer for Modbus/TCP Security connections. Frames
// carry no unit id on the wire; extracted frames report unitID so the rest
// of the stack sees a uniform Frame.
func NewTLSFramer(unitID byte) *TLSFramer {
	return &TLSFramer{unitID: unitID}
}

// UsesTransactionIDs implements Framer.
func (f *TLSFramer) UsesTransactionIDs() bool { return false }

// Feed implements Framer.
func (f *TLSFramer) Feed(p []byte) { f.feed(p) }

// Buffered implements Framer.
func (f *TLSFramer) Buffered() int { return f.buffered() }

// Reset implements Framer.
func (f *TLSFramer) Reset() { f.reset() }

// Resync implements Framer. There is no delimiter to hunt for; the only
// recovery is dropping whatever is buffered.
func (f *TLSFramer) Resync() { f.reset() }

// TryExtractFrame implements Framer.
func (f *TLSFramer) TryExtractFrame() (Frame, ExtractStatus, error) {
	if f.buffered() == 0 {
		return Frame{}, NeedMoreData, nil
	}
	if f.buffered() > MaxPDULength {
		return Frame{}, FrameInvalid, framingErrorf("oversized PDU: %d bytes", f.buffered())
	}
	pdu := make([]byte, f.buffered())
	copy(pdu, f.buf)
	f.reset()
	return Frame{UnitID: f.unitID, PDU: pdu}, FrameReady, nil
}

// BuildFrame implements Framer. The PDU goes on the wire as-is.
func (f *TLSFramer) BuildFrame(pdu []byte, _ uint16, _ byte) []byte {
	adu := make([]byte, len(pdu))
	copy(adu, pdu)
	return adu
}
