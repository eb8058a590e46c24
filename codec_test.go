package modbus

import (
	"testing"
)

func TestEncodeReadHoldingRegistersRequest(t *testing.T) {
	pdu := EncodeRequest(ReadHoldingRegistersRequest{Address: 0x006B, Count: 3})
	assertBytesEqual(t, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, pdu)
}

func TestDecodeReadHoldingRegistersRequest(t *testing.T) {
	req, err := DecodeRequest([]byte{0x03, 0x00, 0x6B, 0x00, 0x03})
	assertNoError(t, err)
	typed, ok := req.(ReadHoldingRegistersRequest)
	if !ok {
		t.Fatalf("Expected ReadHoldingRegistersRequest, got %T", req)
	}
	if typed.Address != 0x006B || typed.Count != 3 {
		t.Errorf("Unexpected fields: %+v", typed)
	}
}

func TestReadCoilsRoundTrip(t *testing.T) {
	req := ReadCoilsRequest{Address: 19, Count: 19}
	decoded, err := DecodeRequest(EncodeRequest(req))
	assertNoError(t, err)
	if decoded.(ReadCoilsRequest) != req {
		t.Errorf("Expected %+v, got %+v", req, decoded)
	}

	resp := ReadCoilsResponse{Bits: []bool{true, false, true, true, false, false, true, true, true}}
	pdu := EncodeResponse(resp)
	// 9 bits pack into 2 bytes, LSB first.
	assertBytesEqual(t, []byte{0x01, 0x02, 0xCD, 0x01}, pdu)

	back, err := DecodeResponse(pdu)
	assertNoError(t, err)
	bits := back.(ReadCoilsResponse).Bits
	// The decoder pads to a byte boundary.
	if len(bits) != 16 {
		t.Fatalf("Expected 16 padded bits, got %d", len(bits))
	}
	assertBoolsEqual(t, resp.Bits, bits[:9])
}

func TestWriteSingleCoilEncoding(t *testing.T) {
	on := EncodeRequest(WriteSingleCoilRequest{Address: 0x00AC, Value: true})
	assertBytesEqual(t, []byte{0x05, 0x00, 0xAC, 0xFF, 0x00}, on)

	off := EncodeRequest(WriteSingleCoilRequest{Address: 0x00AC, Value: false})
	assertBytesEqual(t, []byte{0x05, 0x00, 0xAC, 0x00, 0x00}, off)
}

func TestDecodeWriteSingleCoilRejectsBadValue(t *testing.T) {
	_, err := DecodeRequest([]byte{0x05, 0x00, 0xAC, 0x12, 0x34})
	assertError(t, err)
}

func TestWriteMultipleRegistersRoundTrip(t *testing.T) {
	req := WriteMultipleRegistersRequest{Address: 0x0001, Values: []uint16{0x000A, 0x0102}}
	pdu := EncodeRequest(req)
	assertBytesEqual(t, []byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02}, pdu)

	decoded, err := DecodeRequest(pdu)
	assertNoError(t, err)
	typed := decoded.(WriteMultipleRegistersRequest)
	if typed.Address != req.Address {
		t.Errorf("Expected address %d, got %d", req.Address, typed.Address)
	}
	assertUint16Equal(t, req.Values, typed.Values)
}

func TestDecodeWriteMultipleCoilsRejectsOverflowingQuantity(t *testing.T) {
	// Quantity 0xFFFF with byte count 0; the byte-count check must not
	// wrap in 16-bit arithmetic.
	_, err := DecodeRequest([]byte{0x0F, 0x00, 0x00, 0xFF, 0xFF, 0x00})
	assertError(t, err)
}

func TestDecodeWriteMultipleRegistersRejectsBadByteCount(t *testing.T) {
	// Byte count says 4 but quantity says 3 registers.
	_, err := DecodeRequest([]byte{0x10, 0x00, 0x01, 0x00, 0x03, 0x04, 0x00, 0x0A, 0x01, 0x02})
	assertError(t, err)
}

func TestMaskWriteRegisterRoundTrip(t *testing.T) {
	req := MaskWriteRegisterRequest{Address: 0x0004, AndMask: 0x00F2, OrMask: 0x0025}
	pdu := EncodeRequest(req)
	assertBytesEqual(t, []byte{0x16, 0x00, 0x04, 0x00, 0xF2, 0x00, 0x25}, pdu)

	decoded, err := DecodeRequest(pdu)
	assertNoError(t, err)
	if decoded.(MaskWriteRegisterRequest) != req {
		t.Errorf("Expected %+v, got %+v", req, decoded)
	}
}

func TestReadWriteMultipleRegistersRequestLayout(t *testing.T) {
	req := ReadWriteMultipleRegistersRequest{
		ReadAddress:  0x0003,
		ReadCount:    6,
		WriteAddress: 0x000E,
		WriteValues:  []uint16{0x00FF},
	}
	pdu := EncodeRequest(req)
	assertBytesEqual(t, []byte{
		0x17, 0x00, 0x03, 0x00, 0x06, 0x00, 0x0E, 0x00, 0x01, 0x02, 0x00, 0xFF,
	}, pdu)
}

func TestDecodeExceptionResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte{0x83, 0x02})
	assertNoError(t, err)
	exc, ok := resp.(ExceptionResponse)
	if !ok {
		t.Fatalf("Expected ExceptionResponse, got %T", resp)
	}
	if !exc.IsException() {
		t.Error("Expected IsException to be true")
	}
	if exc.Function != FuncCodeReadHoldingRegisters {
		t.Errorf("Expected function 0x03, got 0x%02X", byte(exc.Function))
	}
	if exc.Code != ExcIllegalDataAddress {
		t.Errorf("Expected code 0x02, got 0x%02X", byte(exc.Code))
	}
	assertError(t, exc.Err())
}

func TestDecodeTruncatedExceptionResponse(t *testing.T) {
	_, err := DecodeResponse([]byte{0x83})
	assertError(t, err)
}

func TestDecodeUnknownRequestFunctionCode(t *testing.T) {
	req, err := DecodeRequest([]byte{0x41, 0xDE, 0xAD})
	assertNoError(t, err)
	illegal, ok := req.(IllegalFunctionRequest)
	if !ok {
		t.Fatalf("Expected IllegalFunctionRequest, got %T", req)
	}
	if illegal.Code != FunctionCode(0x41) {
		t.Errorf("Expected code 0x41, got 0x%02X", byte(illegal.Code))
	}
	assertBytesEqual(t, []byte{0xDE, 0xAD}, illegal.Data)
}

func TestDecodeUnknownResponseFunctionCode(t *testing.T) {
	_, err := DecodeResponse([]byte{0x41, 0xDE, 0xAD})
	assertError(t, err)
}

func TestDecodeEmptyPDU(t *testing.T) {
	if _, err := DecodeRequest(nil); err == nil {
		t.Error("Expected an error for an empty request PDU")
	}
	if _, err := DecodeResponse(nil); err == nil {
		t.Error("Expected an error for an empty response PDU")
	}
}

func TestDecodeResponseByteCountMismatch(t *testing.T) {
	// Byte count claims 4 bytes but only 2 follow.
	_, err := DecodeResponse([]byte{0x03, 0x04, 0x12, 0x34})
	assertError(t, err)
}

func TestDiagnosticsEchoRoundTrip(t *testing.T) {
	req := DiagnosticsRequest{SubFunction: DiagSubReturnQueryData, Data: []byte{0xA5, 0x37}}
	pdu := EncodeRequest(req)
	assertBytesEqual(t, []byte{0x08, 0x00, 0x00, 0xA5, 0x37}, pdu)

	resp, err := DecodeResponse(pdu)
	assertNoError(t, err)
	typed := resp.(DiagnosticsResponse)
	if typed.SubFunction != DiagSubReturnQueryData {
		t.Errorf("Expected sub-function 0, got %d", typed.SubFunction)
	}
	assertBytesEqual(t, req.Data, typed.Data)
}

func TestReadDeviceIDRoundTrip(t *testing.T) {
	resp := ReadDeviceIDResponse{
		ReadDeviceIDCode: 1,
		ConformityLevel:  0x81,
		Objects: []DeviceIDObject{
			{ID: 0x00, Value: []byte("Acme")},
			{ID: 0x01, Value: []byte("PLC-1")},
			{ID: 0x02, Value: []byte("v1.2")},
		},
	}
	decoded, err := DecodeResponse(EncodeResponse(resp))
	assertNoError(t, err)
	typed := decoded.(ReadDeviceIDResponse)
	if len(typed.Objects) != 3 {
		t.Fatalf("Expected 3 objects, got %d", len(typed.Objects))
	}
	assertBytesEqual(t, []byte("PLC-1"), typed.Objects[1].Value)
}

func TestDecodeReadDeviceIDRejectsBadMEIType(t *testing.T) {
	_, err := DecodeRequest([]byte{0x2B, 0x0D, 0x01, 0x00})
	assertError(t, err)
}

func TestBuildExceptionResponse(t *testing.T) {
	exc := BuildExceptionResponse(FuncCodeReadCoils|exceptionBit, ExcIllegalFunction)
	if exc.Function != FuncCodeReadCoils {
		t.Errorf("Expected the high bit to be stripped, got 0x%02X", byte(exc.Function))
	}
	assertBytesEqual(t, []byte{0x81, 0x01}, EncodeResponse(exc))
}
