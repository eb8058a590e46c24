package modbus

// RTU framing constants.
const (
	// MinRTUFrameLength is unit id + function code + CRC.
	MinRTUFrameLength = 4
	// MaxRTUFrameLength is unit id + max PDU + CRC.
	MaxRTUFrameLength = 1 + MaxPDULength + 2
)

// FramerRole selects which direction of traffic a serial framer decodes:
// a client extracts responses, a server extracts requests. The two have
// different per-function-code frame lengths.
type FramerRole int

const (
	RoleClient FramerRole = iota
	RoleServer
)

// RTUFramer implements Modbus RTU framing. RTU frames have no prefix or
// length field; the expected total length is derived from the function code
// (fixed-size messages) or from an embedded byte-count field (variable-size
// messages), and the trailing CRC16 validates the result. True silence-based
// frame boundaries belong to the transport; this framer works from content
// alone, which is why CRC failure triggers a one-byte resync hunt rather
// than a whole-buffer discard.
type RTUFramer struct {
	frameBuffer
	role  FramerRole
	state framerState
}

// NewRTUFramer creates an RTU framer for the given role.
func NewRTUFramer(role FramerRole) *RTUFramer {
	return &RTUFramer{role: role}
}

// UsesTransactionIDs implements Framer.
func (f *RTUFramer) UsesTransactionIDs() bool { return false }

// Feed implements Framer.
func (f *RTUFramer) Feed(p []byte) { f.feed(p) }

// Buffered implements Framer.
func (f *RTUFramer) Buffered() int { return f.buffered() }

// Reset implements Framer.
func (f *RTUFramer) Reset() {
	f.reset()
	f.state = awaitingHeader
}

// Resync drops the first buffered byte so extraction can hunt for the next
// plausible frame start after line noise. This is a heuristic, not a
// protocol guarantee: it recovers alignment for a subsequent clean frame
// but cannot repair arbitrary corruption patterns.
func (f *RTUFramer) Resync() {
	f.advance(1)
	f.state = awaitingHeader
}

// TryExtractFrame implements Framer.
func (f *RTUFramer) TryExtractFrame() (Frame, ExtractStatus, error) {
	if f.buffered() < MinRTUFrameLength {
		f.state = awaitingHeader
		return Frame{}, NeedMoreData, nil
	}

	aduLen, known, err := f.expectedADULength()
	if err != nil {
		f.state = resyncing
		return Frame{}, FrameInvalid, err
	}
	if !known || f.buffered() < aduLen {
		f.state = awaitingBody
		return Frame{}, NeedMoreData, nil
	}

	candidate := f.buf[:aduLen]
	if !verifyCRC16(candidate) {
		f.state = resyncing
		return Frame{}, FrameInvalid, framingErrorf("RTU CRC mismatch on %d byte frame", aduLen)
	}

	unitID := candidate[0]
	pdu := make([]byte, aduLen-3)
	copy(pdu, candidate[1:aduLen-2])
	f.advance(aduLen)
	f.state = awaitingHeader

	return Frame{UnitID: unitID, PDU: pdu}, FrameReady, nil
}

// BuildFrame implements Framer: unit id + PDU + little-endian CRC16.
func (f *RTUFramer) BuildFrame(pdu []byte, _ uint16, unitID byte) []byte {
	adu := make([]byte, 0, 1+len(pdu)+2)
	adu = append(adu, unitID)
	adu = append(adu, pdu...)
	return appendCRC16(adu)
}

// expectedADULength determines the total frame length from the buffered
// prefix. It returns known=false when the deciding byte-count field is not
// buffered yet, and an error for function codes the table cannot size
// (triggering a resync).
//
// This per-function-code table is authoritative; buffer layout is
// [0]=unit id, [1]=function code, [2]=first PDU data byte.
func (f *RTUFramer) expectedADULength() (length int, known bool, err error) {
	fc := FunctionCode(f.buf[1])

	if fc.IsException() {
		// Unit + func + exception code + CRC.
		return 5, true, nil
	}

	if f.role == RoleClient {
		length, known, err = expectedResponseLength(fc, f.buf)
	} else {
		length, known, err = expectedRequestLength(fc, f.buf)
	}
	if err != nil || !known {
		return length, known, err
	}
	if length > MaxRTUFrameLength {
		return 0, true, framingErrorf("RTU frame length %d exceeds maximum %d", length, MaxRTUFrameLength)
	}
	return length, true, nil
}

// expectedResponseLength sizes a response ADU. Variable-size responses
// carry their byte count as the first PDU data byte (buffer index 2).
func expectedResponseLength(fc FunctionCode, buf []byte) (int, bool, error) {
	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeReadWriteMultipleRegisters:
		if len(buf) < 3 {
			return 0, false, nil
		}
		// Unit + func + byte count + data + CRC.
		return 5 + int(buf[2]), true, nil

	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		// Unit + func + address + value/quantity + CRC.
		return 8, true, nil

	case FuncCodeMaskWriteRegister:
		// Unit + func + address + and mask + or mask + CRC.
		return 10, true, nil

	case FuncCodeReadExceptionStatus:
		// Unit + func + status + CRC.
		return 5, true, nil

	case FuncCodeDiagnostics:
		// Unit + func + sub-function + 2 data bytes + CRC.
		return 8, true, nil

	case FuncCodeEncapsulatedInterface:
		return expectedDeviceIDLength(buf)

	default:
		return 0, true, framingErrorf("cannot size RTU response for function code %02X", byte(fc))
	}
}

// expectedRequestLength sizes a request ADU. Variable-size requests carry
// their byte count after address and quantity fields.
func expectedRequestLength(fc FunctionCode, buf []byte) (int, bool, error) {
	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister:
		// Unit + func + address + count/value + CRC.
		return 8, true, nil

	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		// Byte count sits after address and quantity, at buffer index 6.
		if len(buf) < 7 {
			return 0, false, nil
		}
		return 9 + int(buf[6]), true, nil

	case FuncCodeMaskWriteRegister:
		return 10, true, nil

	case FuncCodeReadExceptionStatus:
		// Unit + func + CRC.
		return 4, true, nil

	case FuncCodeDiagnostics:
		return 8, true, nil

	case FuncCodeReadWriteMultipleRegisters:
		// Byte count sits after two address/quantity pairs, at index 10.
		if len(buf) < 11 {
			return 0, false, nil
		}
		return 13 + int(buf[10]), true, nil

	case FuncCodeEncapsulatedInterface:
		// Unit + func + MEI type + device id code + object id + CRC.
		return 7, true, nil

	default:
		return 0, true, framingErrorf("cannot size RTU request for function code %02X", byte(fc))
	}
}

// expectedDeviceIDLength walks the object list of a Read Device
// Identification response far enough to size the frame.
func expectedDeviceIDLength(buf []byte) (int, bool, error) {
	// Unit + func + MEI type + id code + conformity + more + next + count.
	const headerLen = 8
	if len(buf) < headerLen {
		return 0, false, nil
	}
	if buf[2] != MEITypeReadDeviceID {
		return 0, true, framingErrorf("cannot size MEI type 0x%02X response", buf[2])
	}
	objectCount := int(buf[7])
	offset := headerLen
	for i := 0; i < objectCount; i++ {
		if len(buf) < offset+2 {
			return 0, false, nil
		}
		offset += 2 + int(buf[offset+1])
	}
	return offset + 2, true, nil
}
