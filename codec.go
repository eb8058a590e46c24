package modbus

import (
	"encoding/binary"
)

// pduMessage is the common shape of requests and responses: a function code
// byte followed by type-specific fields.
type pduMessage interface {
	FunctionCode() FunctionCode
	encode() []byte
}

func encodePDU(m pduMessage) []byte {
	return append([]byte{byte(m.FunctionCode())}, m.encode()...)
}

// EncodeRequest serializes a request into raw PDU bytes.
func EncodeRequest(req Request) []byte { return encodePDU(req) }

// EncodeResponse serializes a response into raw PDU bytes.
func EncodeResponse(resp Response) []byte { return encodePDU(resp) }

// BuildExceptionResponse builds the exception reply for a failed request.
func BuildExceptionResponse(fc FunctionCode, code ExceptionCode) ExceptionResponse {
	return ExceptionResponse{Function: fc &^ exceptionBit, Code: code}
}

type requestDecoder func(data []byte) (Request, error)
type responseDecoder func(data []byte) (Response, error)

// requestDecoders maps function codes to request decode functions. The data
// argument is the PDU without its leading function code byte.
var requestDecoders = map[FunctionCode]requestDecoder{
	FuncCodeReadCoils:                  decodeReadCoilsRequest,
	FuncCodeReadDiscreteInputs:         decodeReadDiscreteInputsRequest,
	FuncCodeReadHoldingRegisters:       decodeReadHoldingRegistersRequest,
	FuncCodeReadInputRegisters:         decodeReadInputRegistersRequest,
	FuncCodeWriteSingleCoil:            decodeWriteSingleCoilRequest,
	FuncCodeWriteSingleRegister:        decodeWriteSingleRegisterRequest,
	FuncCodeWriteMultipleCoils:         decodeWriteMultipleCoilsRequest,
	FuncCodeWriteMultipleRegisters:     decodeWriteMultipleRegistersRequest,
	FuncCodeMaskWriteRegister:          decodeMaskWriteRegisterRequest,
	FuncCodeReadWriteMultipleRegisters: decodeReadWriteMultipleRegistersRequest,
	FuncCodeReadExceptionStatus:        decodeReadExceptionStatusRequest,
	FuncCodeDiagnostics:                decodeDiagnosticsRequest,
	FuncCodeEncapsulatedInterface:      decodeReadDeviceIDRequest,
}

// responseDecoders maps function codes to response decode functions.
var responseDecoders = map[FunctionCode]responseDecoder{
	FuncCodeReadCoils:                  decodeReadCoilsResponse,
	FuncCodeReadDiscreteInputs:         decodeReadDiscreteInputsResponse,
	FuncCodeReadHoldingRegisters:       decodeReadHoldingRegistersResponse,
	FuncCodeReadInputRegisters:         decodeReadInputRegistersResponse,
	FuncCodeWriteSingleCoil:            decodeWriteSingleCoilResponse,
	FuncCodeWriteSingleRegister:        decodeWriteSingleRegisterResponse,
	FuncCodeWriteMultipleCoils:         decodeWriteMultipleCoilsResponse,
	FuncCodeWriteMultipleRegisters:     decodeWriteMultipleRegistersResponse,
	FuncCodeMaskWriteRegister:          decodeMaskWriteRegisterResponse,
	FuncCodeReadWriteMultipleRegisters: decodeReadWriteMultipleRegistersResponse,
	FuncCodeReadExceptionStatus:        decodeReadExceptionStatusResponse,
	FuncCodeDiagnostics:                decodeDiagnosticsResponse,
	FuncCodeEncapsulatedInterface:      decodeReadDeviceIDResponse,
}

// DecodeRequest decodes raw request PDU bytes into a typed request.
// Unknown function codes decode to IllegalFunctionRequest rather than
// failing; malformed payloads of known codes are framing errors.
func DecodeRequest(pdu []byte) (Request, error) {
	if len(pdu) == 0 {
		return nil, framingErrorf("empty request PDU")
	}
	fc := FunctionCode(pdu[0])
	decoder, ok := requestDecoders[fc]
	if !ok {
		data := make([]byte, len(pdu)-1)
		copy(data, pdu[1:])
		return IllegalFunctionRequest{Code: fc, Data: data}, nil
	}
	return decoder(pdu[1:])
}

// DecodeResponse decodes raw response PDU bytes into a typed response.
// A function code with the high bit set decodes to ExceptionResponse.
func DecodeResponse(pdu []byte) (Response, error) {
	if len(pdu) == 0 {
		return nil, framingErrorf("empty response PDU")
	}
	fc := FunctionCode(pdu[0])
	if fc.IsException() {
		if len(pdu) < 2 {
			return nil, framingErrorf("exception response truncated: % X", pdu)
		}
		return ExceptionResponse{Function: fc &^ exceptionBit, Code: ExceptionCode(pdu[1])}, nil
	}
	decoder, ok := responseDecoders[fc]
	if !ok {
		return nil, framingErrorf("unknown response function code %02X", byte(fc))
	}
	return decoder(pdu[1:])
}

// ---------------------------------------------------------------------------
// Request decoders
// ---------------------------------------------------------------------------

func decodeAddressCount(fc FunctionCode, data []byte) (addr, count uint16, err error) {
	if len(data) != 4 {
		return 0, 0, framingErrorf("func %02X: expected 4 data bytes, got %d", byte(fc), len(data))
	}
	return binary.BigEndian.Uint16(data[0:2]), binary.BigEndian.Uint16(data[2:4]), nil
}

func decodeReadCoilsRequest(data []byte) (Request, error) {
	addr, count, err := decodeAddressCount(FuncCodeReadCoils, data)
	if err != nil {
		return nil, err
	}
	return ReadCoilsRequest{Address: addr, Count: count}, nil
}

func decodeReadDiscreteInputsRequest(data []byte) (Request, error) {
	addr, count, err := decodeAddressCount(FuncCodeReadDiscreteInputs, data)
	if err != nil {
		return nil, err
	}
	return ReadDiscreteInputsRequest{Address: addr, Count: count}, nil
}

func decodeReadHoldingRegistersRequest(data []byte) (Request, error) {
	addr, count, err := decodeAddressCount(FuncCodeReadHoldingRegisters, data)
	if err != nil {
		return nil, err
	}
	return ReadHoldingRegistersRequest{Address: addr, Count: count}, nil
}

func decodeReadInputRegistersRequest(data []byte) (Request, error) {
	addr, count, err := decodeAddressCount(FuncCodeReadInputRegisters, data)
	if err != nil {
		return nil, err
	}
	return ReadInputRegistersRequest{Address: addr, Count: count}, nil
}

func decodeWriteSingleCoilRequest(data []byte) (Request, error) {
	addr, value, err := decodeAddressCount(FuncCodeWriteSingleCoil, data)
	if err != nil {
		return nil, err
	}
	if value != WriteCoilValueOn && value != WriteCoilValueOff {
		return nil, framingErrorf("write single coil: invalid value 0x%04X", value)
	}
	return WriteSingleCoilRequest{Address: addr, Value: value == WriteCoilValueOn}, nil
}

func decodeWriteSingleRegisterRequest(data []byte) (Request, error) {
	addr, value, err := decodeAddressCount(FuncCodeWriteSingleRegister, data)
	if err != nil {
		return nil, err
	}
	return WriteSingleRegisterRequest{Address: addr, Value: value}, nil
}

func decodeWriteMultipleCoilsRequest(data []byte) (Request, error) {
	if len(data) < 5 {
		return nil, framingErrorf("write multiple coils: request truncated, got %d bytes", len(data))
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	count := binary.BigEndian.Uint16(data[2:4])
	byteCount := int(data[4])
	if byteCount != (int(count)+7)/8 {
		return nil, framingErrorf("write multiple coils: byte count %d does not match quantity %d", byteCount, count)
	}
	if len(data) != 5+byteCount {
		return nil, framingErrorf("write multiple coils: expected %d data bytes, got %d", 5+byteCount, len(data))
	}
	return WriteMultipleCoilsRequest{Address: addr, Values: unpackBits(data[5:], count)}, nil
}

func decodeWriteMultipleRegistersRequest(data []byte) (Request, error) {
	if len(data) < 5 {
		return nil, framingErrorf("write multiple registers: request truncated, got %d bytes", len(data))
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	count := binary.BigEndian.Uint16(data[2:4])
	byteCount := int(data[4])
	if byteCount != 2*int(count) {
		return nil, framingErrorf("write multiple registers: byte count %d does not match quantity %d", byteCount, count)
	}
	if len(data) != 5+byteCount {
		return nil, framingErrorf("write multiple registers: expected %d data bytes, got %d", 5+byteCount, len(data))
	}
	return WriteMultipleRegistersRequest{Address: addr, Values: unpackRegisters(data[5:])}, nil
}

func decodeMaskWriteRegisterRequest(data []byte) (Request, error) {
	if len(data) != 6 {
		return nil, framingErrorf("mask write register: expected 6 data bytes, got %d", len(data))
	}
	return MaskWriteRegisterRequest{
		Address: binary.BigEndian.Uint16(data[0:2]),
		AndMask: binary.BigEndian.Uint16(data[2:4]),
		OrMask:  binary.BigEndian.Uint16(data[4:6]),
	}, nil
}

func decodeReadWriteMultipleRegistersRequest(data []byte) (Request, error) {
	if len(data) < 9 {
		return nil, framingErrorf("read/write multiple registers: request truncated, got %d bytes", len(data))
	}
	readAddr := binary.BigEndian.Uint16(data[0:2])
	readCount := binary.BigEndian.Uint16(data[2:4])
	writeAddr := binary.BigEndian.Uint16(data[4:6])
	writeCount := binary.BigEndian.Uint16(data[6:8])
	byteCount := int(data[8])
	if byteCount != 2*int(writeCount) {
		return nil, framingErrorf("read/write multiple registers: byte count %d does not match write quantity %d", byteCount, writeCount)
	}
	if len(data) != 9+byteCount {
		return nil, framingErrorf("read/write multiple registers: expected %d data bytes, got %d", 9+byteCount, len(data))
	}
	return ReadWriteMultipleRegistersRequest{
		ReadAddress:  readAddr,
		ReadCount:    readCount,
		WriteAddress: writeAddr,
		WriteValues:  unpackRegisters(data[9:]),
	}, nil
}

func decodeReadExceptionStatusRequest(data []byte) (Request, error) {
	if len(data) != 0 {
		return nil, framingErrorf("read exception status: unexpected %d data bytes", len(data))
	}
	return ReadExceptionStatusRequest{}, nil
}

func decodeDiagnosticsRequest(data []byte) (Request, error) {
	if len(data) < 2 {
		return nil, framingErrorf("diagnostics: request truncated, got %d bytes", len(data))
	}
	payload := make([]byte, len(data)-2)
	copy(payload, data[2:])
	return DiagnosticsRequest{SubFunction: binary.BigEndian.Uint16(data[0:2]), Data: payload}, nil
}

func decodeReadDeviceIDRequest(data []byte) (Request, error) {
	if len(data) != 3 {
		return nil, framingErrorf("read device identification: expected 3 data bytes, got %d", len(data))
	}
	if data[0] != MEITypeReadDeviceID {
		return nil, framingErrorf("encapsulated interface: unsupported MEI type 0x%02X", data[0])
	}
	return ReadDeviceIDRequest{ReadDeviceIDCode: data[1], ObjectID: data[2]}, nil
}

// ---------------------------------------------------------------------------
// Response decoders
// ---------------------------------------------------------------------------

// decodeByteCounted validates the leading byte-count field and returns the
// payload after it.
func decodeByteCounted(fc FunctionCode, data []byte) ([]byte, error) {
	if len(data) < 1 {
		return nil, framingErrorf("func %02X: response missing byte count", byte(fc))
	}
	byteCount := int(data[0])
	if len(data) != 1+byteCount {
		return nil, framingErrorf("func %02X: byte count %d does not match %d payload bytes", byte(fc), byteCount, len(data)-1)
	}
	return data[1:], nil
}

func decodeReadCoilsResponse(data []byte) (Response, error) {
	payload, err := decodeByteCounted(FuncCodeReadCoils, data)
	if err != nil {
		return nil, err
	}
	return ReadCoilsResponse{Bits: unpackBits(payload, uint16(8*len(payload)))}, nil
}

func decodeReadDiscreteInputsResponse(data []byte) (Response, error) {
	payload, err := decodeByteCounted(FuncCodeReadDiscreteInputs, data)
	if err != nil {
		return nil, err
	}
	return ReadDiscreteInputsResponse{Bits: unpackBits(payload, uint16(8*len(payload)))}, nil
}

func decodeRegistersResponse(fc FunctionCode, data []byte) ([]uint16, error) {
	payload, err := decodeByteCounted(fc, data)
	if err != nil {
		return nil, err
	}
	if len(payload)%2 != 0 {
		return nil, framingErrorf("func %02X: odd register payload length %d", byte(fc), len(payload))
	}
	return unpackRegisters(payload), nil
}

func decodeReadHoldingRegistersResponse(data []byte) (Response, error) {
	values, err := decodeRegistersResponse(FuncCodeReadHoldingRegisters, data)
	if err != nil {
		return nil, err
	}
	return ReadHoldingRegistersResponse{Values: values}, nil
}

func decodeReadInputRegistersResponse(data []byte) (Response, error) {
	values, err := decodeRegistersResponse(FuncCodeReadInputRegisters, data)
	if err != nil {
		return nil, err
	}
	return ReadInputRegistersResponse{Values: values}, nil
}

func decodeWriteSingleCoilResponse(data []byte) (Response, error) {
	addr, value, err := decodeAddressCount(FuncCodeWriteSingleCoil, data)
	if err != nil {
		return nil, err
	}
	if value != WriteCoilValueOn && value != WriteCoilValueOff {
		return nil, framingErrorf("write single coil response: invalid value 0x%04X", value)
	}
	return WriteSingleCoilResponse{Address: addr, Value: value == WriteCoilValueOn}, nil
}

func decodeWriteSingleRegisterResponse(data []byte) (Response, error) {
	addr, value, err := decodeAddressCount(FuncCodeWriteSingleRegister, data)
	if err != nil {
		return nil, err
	}
	return WriteSingleRegisterResponse{Address: addr, Value: value}, nil
}

func decodeWriteMultipleCoilsResponse(data []byte) (Response, error) {
	addr, count, err := decodeAddressCount(FuncCodeWriteMultipleCoils, data)
	if err != nil {
		return nil, err
	}
	return WriteMultipleCoilsResponse{Address: addr, Count: count}, nil
}

func decodeWriteMultipleRegistersResponse(data []byte) (Response, error) {
	addr, count, err := decodeAddressCount(FuncCodeWriteMultipleRegisters, data)
	if err != nil {
		return nil, err
	}
	return WriteMultipleRegistersResponse{Address: addr, Count: count}, nil
}

func decodeMaskWriteRegisterResponse(data []byte) (Response, error) {
	if len(data) != 6 {
		return nil, framingErrorf("mask write register response: expected 6 data bytes, got %d", len(data))
	}
	return MaskWriteRegisterResponse{
		Address: binary.BigEndian.Uint16(data[0:2]),
		AndMask: binary.BigEndian.Uint16(data[2:4]),
		OrMask:  binary.BigEndian.Uint16(data[4:6]),
	}, nil
}

func decodeReadWriteMultipleRegistersResponse(data []byte) (Response, error) {
	values, err := decodeRegistersResponse(FuncCodeReadWriteMultipleRegisters, data)
	if err != nil {
		return nil, err
	}
	return ReadWriteMultipleRegistersResponse{Values: values}, nil
}

func decodeReadExceptionStatusResponse(data []byte) (Response, error) {
	if len(data) != 1 {
		return nil, framingErrorf("read exception status response: expected 1 data byte, got %d", len(data))
	}
	return ReadExceptionStatusResponse{Status: data[0]}, nil
}

func decodeDiagnosticsResponse(data []byte) (Response, error) {
	if len(data) < 2 {
		return nil, framingErrorf("diagnostics response truncated: got %d bytes", len(data))
	}
	payload := make([]byte, len(data)-2)
	copy(payload, data[2:])
	return DiagnosticsResponse{SubFunction: binary.BigEndian.Uint16(data[0:2]), Data: payload}, nil
}

func decodeReadDeviceIDResponse(data []byte) (Response, error) {
	if len(data) < 6 {
		return nil, framingErrorf("read device identification response truncated: got %d bytes", len(data))
	}
	if data[0] != MEITypeReadDeviceID {
		return nil, framingErrorf("encapsulated interface response: unsupported MEI type 0x%02X", data[0])
	}
	resp := ReadDeviceIDResponse{
		ReadDeviceIDCode: data[1],
		ConformityLevel:  data[2],
		MoreFollows:      data[3],
		NextObjectID:     data[4],
	}
	objectCount := int(data[5])
	offset := 6
	for i := 0; i < objectCount; i++ {
		if len(data) < offset+2 {
			return nil, framingErrorf("read device identification: object %d header truncated", i)
		}
		id := data[offset]
		valueLen := int(data[offset+1])
		offset += 2
		if len(data) < offset+valueLen {
			return nil, framingErrorf("read device identification: object %d value truncated", i)
		}
		value := make([]byte, valueLen)
		copy(value, data[offset:offset+valueLen])
		offset += valueLen
		resp.Objects = append(resp.Objects, DeviceIDObject{ID: id, Value: value})
	}
	if offset != len(data) {
		return nil, framingErrorf("read device identification: %d trailing bytes after object list", len(data)-offset)
	}
	return resp, nil
}
