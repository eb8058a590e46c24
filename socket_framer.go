package modbus

import (
	"encoding/binary"
)

// Modbus TCP protocol constants.
const (
	MBAPHeaderLength  = 7                                // Transaction id + protocol id + length + unit id
	MaxPDULength      = 253                              // Maximum PDU length per the Modbus spec
	MaxTCPFrameLength = MBAPHeaderLength + MaxPDULength  // Maximum complete ADU length
	ProtocolIDTCP     = 0x0000                           // The only defined protocol identifier
)

// SocketFramer implements MBAP framing for Modbus TCP. The 7-byte header
// carries a transaction id, a protocol id that must be zero, a length field
// counting the unit id byte plus the PDU, and the unit id. TCP guarantees
// byte integrity, so there is no checksum.
type SocketFramer struct {
	frameBuffer
	state framerState
}

// NewSocketFramer creates a framer for MBAP (Modbus TCP) streams.
func NewSocketFramer() *SocketFramer {
	return &SocketFramer{}
}

// UsesTransactionIDs implements Framer.
func (f *SocketFramer) UsesTransactionIDs() bool { return true }

// Feed implements Framer.
func (f *SocketFramer) Feed(p []byte) { f.feed(p) }

// Buffered implements Framer.
func (f *SocketFramer) Buffered() int { return f.buffered() }

// Reset implements Framer.
func (f *SocketFramer) Reset() {
	f.reset()
	f.state = awaitingHeader
}

// Resync drops the first buffered byte. A bad MBAP header on a TCP stream
// means the peer is out of step; skipping one byte at a time lets the
// extraction loop hunt for a plausible header.
func (f *SocketFramer) Resync() {
	f.advance(1)
	f.state = awaitingHeader
}

// TryExtractFrame implements Framer.
func (f *SocketFramer) TryExtractFrame() (Frame, ExtractStatus, error) {
	if f.buffered() < MBAPHeaderLength {
		f.state = awaitingHeader
		return Frame{}, NeedMoreData, nil
	}

	transactionID := binary.BigEndian.Uint16(f.buf[0:2])
	protocolID := binary.BigEndian.Uint16(f.buf[2:4])
	length := binary.BigEndian.Uint16(f.buf[4:6])
	unitID := f.buf[6]

	if protocolID != ProtocolIDTCP {
		f.state = resyncing
		return Frame{}, FrameInvalid, framingErrorf("invalid protocol identifier 0x%04X", protocolID)
	}
	// Length counts the unit id byte plus the PDU.
	if length == 0 || int(length) > 1+MaxPDULength {
		f.state = resyncing
		return Frame{}, FrameInvalid, framingErrorf("invalid MBAP length field %d", length)
	}

	aduLen := 6 + int(length)
	if f.buffered() < aduLen {
		f.state = awaitingBody
		return Frame{}, NeedMoreData, nil
	}

	pdu := make([]byte, int(length)-1)
	copy(pdu, f.buf[MBAPHeaderLength:aduLen])
	f.advance(aduLen)
	f.state = awaitingHeader

	return Frame{
		TransactionID:    transactionID,
		HasTransactionID: true,
		UnitID:           unitID,
		PDU:              pdu,
	}, FrameReady, nil
}

// BuildFrame implements Framer: MBAP header followed by the PDU.
func (f *SocketFramer) BuildFrame(pdu []byte, transactionID uint16, unitID byte) []byte {
	adu := make([]byte, MBAPHeaderLength+len(pdu))
	binary.BigEndian.PutUint16(adu[0:2], transactionID)
	binary.BigEndian.PutUint16(adu[2:4], ProtocolIDTCP)
	binary.BigEndian.PutUint16(adu[4:6], uint16(1+len(pdu)))
	adu[6] = unitID
	copy(adu[7:], pdu)
	return adu
}
