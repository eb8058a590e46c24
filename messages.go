package modbus

import (
	"encoding/binary"
	"fmt"
)

// normalResponse marks non-exception responses.
type normalResponse struct{}

func (normalResponse) IsException() bool { return false }

func putUint16Pair(a, b uint16) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], a)
	binary.BigEndian.PutUint16(data[2:4], b)
	return data
}

// ---------------------------------------------------------------------------
// Bit access
// ---------------------------------------------------------------------------

// ReadCoilsRequest reads Count coil states starting at Address.
type ReadCoilsRequest struct {
	Address uint16
	Count   uint16
}

func (ReadCoilsRequest) FunctionCode() FunctionCode { return FuncCodeReadCoils }
func (r ReadCoilsRequest) encode() []byte           { return putUint16Pair(r.Address, r.Count) }

// ReadCoilsResponse carries coil states packed LSB-first on the wire.
// Bits is padded to a byte boundary; callers truncate to the count they
// asked for.
type ReadCoilsResponse struct {
	normalResponse
	Bits []bool
}

func (ReadCoilsResponse) FunctionCode() FunctionCode { return FuncCodeReadCoils }
func (r ReadCoilsResponse) encode() []byte {
	packed := packBits(r.Bits)
	return append([]byte{byte(len(packed))}, packed...)
}

// ReadDiscreteInputsRequest reads Count discrete inputs starting at Address.
type ReadDiscreteInputsRequest struct {
	Address uint16
	Count   uint16
}

func (ReadDiscreteInputsRequest) FunctionCode() FunctionCode { return FuncCodeReadDiscreteInputs }
func (r ReadDiscreteInputsRequest) encode() []byte           { return putUint16Pair(r.Address, r.Count) }

// ReadDiscreteInputsResponse carries discrete input states.
type ReadDiscreteInputsResponse struct {
	normalResponse
	Bits []bool
}

func (ReadDiscreteInputsResponse) FunctionCode() FunctionCode { return FuncCodeReadDiscreteInputs }
func (r ReadDiscreteInputsResponse) encode() []byte {
	packed := packBits(r.Bits)
	return append([]byte{byte(len(packed))}, packed...)
}

// WriteSingleCoilRequest forces a single coil ON or OFF.
type WriteSingleCoilRequest struct {
	Address uint16
	Value   bool
}

func (WriteSingleCoilRequest) FunctionCode() FunctionCode { return FuncCodeWriteSingleCoil }
func (r WriteSingleCoilRequest) encode() []byte {
	v := WriteCoilValueOff
	if r.Value {
		v = WriteCoilValueOn
	}
	return putUint16Pair(r.Address, v)
}

// WriteSingleCoilResponse echoes the request.
type WriteSingleCoilResponse struct {
	normalResponse
	Address uint16
	Value   bool
}

func (WriteSingleCoilResponse) FunctionCode() FunctionCode { return FuncCodeWriteSingleCoil }
func (r WriteSingleCoilResponse) encode() []byte {
	v := WriteCoilValueOff
	if r.Value {
		v = WriteCoilValueOn
	}
	return putUint16Pair(r.Address, v)
}

// WriteMultipleCoilsRequest writes a run of coils starting at Address.
type WriteMultipleCoilsRequest struct {
	Address uint16
	Values  []bool
}

func (WriteMultipleCoilsRequest) FunctionCode() FunctionCode { return FuncCodeWriteMultipleCoils }
func (r WriteMultipleCoilsRequest) encode() []byte {
	packed := packBits(r.Values)
	data := putUint16Pair(r.Address, uint16(len(r.Values)))
	data = append(data, byte(len(packed)))
	return append(data, packed...)
}

// WriteMultipleCoilsResponse confirms the written address and quantity.
type WriteMultipleCoilsResponse struct {
	normalResponse
	Address uint16
	Count   uint16
}

func (WriteMultipleCoilsResponse) FunctionCode() FunctionCode { return FuncCodeWriteMultipleCoils }
func (r WriteMultipleCoilsResponse) encode() []byte           { return putUint16Pair(r.Address, r.Count) }

// ---------------------------------------------------------------------------
// Register access
// ---------------------------------------------------------------------------

// ReadHoldingRegistersRequest reads Count holding registers at Address.
type ReadHoldingRegistersRequest struct {
	Address uint16
	Count   uint16
}

func (ReadHoldingRegistersRequest) FunctionCode() FunctionCode { return FuncCodeReadHoldingRegisters }
func (r ReadHoldingRegistersRequest) encode() []byte           { return putUint16Pair(r.Address, r.Count) }

// ReadHoldingRegistersResponse carries register values.
type ReadHoldingRegistersResponse struct {
	normalResponse
	Values []uint16
}

func (ReadHoldingRegistersResponse) FunctionCode() FunctionCode { return FuncCodeReadHoldingRegisters }
func (r ReadHoldingRegistersResponse) encode() []byte {
	return append([]byte{byte(2 * len(r.Values))}, packRegisters(r.Values)...)
}

// ReadInputRegistersRequest reads Count input registers at Address.
type ReadInputRegistersRequest struct {
	Address uint16
	Count   uint16
}

func (ReadInputRegistersRequest) FunctionCode() FunctionCode { return FuncCodeReadInputRegisters }
func (r ReadInputRegistersRequest) encode() []byte           { return putUint16Pair(r.Address, r.Count) }

// ReadInputRegistersResponse carries register values.
type ReadInputRegistersResponse struct {
	normalResponse
	Values []uint16
}

func (ReadInputRegistersResponse) FunctionCode() FunctionCode { return FuncCodeReadInputRegisters }
func (r ReadInputRegistersResponse) encode() []byte {
	return append([]byte{byte(2 * len(r.Values))}, packRegisters(r.Values)...)
}

// WriteSingleRegisterRequest writes one holding register.
type WriteSingleRegisterRequest struct {
	Address uint16
	Value   uint16
}

func (WriteSingleRegisterRequest) FunctionCode() FunctionCode { return FuncCodeWriteSingleRegister }
func (r WriteSingleRegisterRequest) encode() []byte           { return putUint16Pair(r.Address, r.Value) }

// WriteSingleRegisterResponse echoes the request.
type WriteSingleRegisterResponse struct {
	normalResponse
	Address uint16
	Value   uint16
}

func (WriteSingleRegisterResponse) FunctionCode() FunctionCode { return FuncCodeWriteSingleRegister }
func (r WriteSingleRegisterResponse) encode() []byte           { return putUint16Pair(r.Address, r.Value) }

// WriteMultipleRegistersRequest writes a run of holding registers.
type WriteMultipleRegistersRequest struct {
	Address uint16
	Values  []uint16
}

func (WriteMultipleRegistersRequest) FunctionCode() FunctionCode {
	return FuncCodeWriteMultipleRegisters
}
func (r WriteMultipleRegistersRequest) encode() []byte {
	data := putUint16Pair(r.Address, uint16(len(r.Values)))
	data = append(data, byte(2*len(r.Values)))
	return append(data, packRegisters(r.Values)...)
}

// WriteMultipleRegistersResponse confirms the written address and quantity.
type WriteMultipleRegistersResponse struct {
	normalResponse
	Address uint16
	Count   uint16
}

func (WriteMultipleRegistersResponse) FunctionCode() FunctionCode {
	return FuncCodeWriteMultipleRegisters
}
func (r WriteMultipleRegistersResponse) encode() []byte { return putUint16Pair(r.Address, r.Count) }

// MaskWriteRegisterRequest modifies a holding register using
// result = (current AND AndMask) OR (OrMask AND (NOT AndMask)).
type MaskWriteRegisterRequest struct {
	Address uint16
	AndMask uint16
	OrMask  uint16
}

func (MaskWriteRegisterRequest) FunctionCode() FunctionCode { return FuncCodeMaskWriteRegister }
func (r MaskWriteRegisterRequest) encode() []byte {
	data := make([]byte, 6)
	binary.BigEndian.PutUint16(data[0:2], r.Address)
	binary.BigEndian.PutUint16(data[2:4], r.AndMask)
	binary.BigEndian.PutUint16(data[4:6], r.OrMask)
	return data
}

// MaskWriteRegisterResponse echoes the request.
type MaskWriteRegisterResponse struct {
	normalResponse
	Address uint16
	AndMask uint16
	OrMask  uint16
}

func (MaskWriteRegisterResponse) FunctionCode() FunctionCode { return FuncCodeMaskWriteRegister }
func (r MaskWriteRegisterResponse) encode() []byte {
	data := make([]byte, 6)
	binary.BigEndian.PutUint16(data[0:2], r.Address)
	binary.BigEndian.PutUint16(data[2:4], r.AndMask)
	binary.BigEndian.PutUint16(data[4:6], r.OrMask)
	return data
}

// ReadWriteMultipleRegistersRequest performs a write followed by a read in
// one transaction.
type ReadWriteMultipleRegistersRequest struct {
	ReadAddress  uint16
	ReadCount    uint16
	WriteAddress uint16
	WriteValues  []uint16
}

func (ReadWriteMultipleRegistersRequest) FunctionCode() FunctionCode {
	return FuncCodeReadWriteMultipleRegisters
}
func (r ReadWriteMultipleRegistersRequest) encode() []byte {
	data := make([]byte, 9, 9+2*len(r.WriteValues))
	binary.BigEndian.PutUint16(data[0:2], r.ReadAddress)
	binary.BigEndian.PutUint16(data[2:4], r.ReadCount)
	binary.BigEndian.PutUint16(data[4:6], r.WriteAddress)
	binary.BigEndian.PutUint16(data[6:8], uint16(len(r.WriteValues)))
	data[8] = byte(2 * len(r.WriteValues))
	return append(data, packRegisters(r.WriteValues)...)
}

// ReadWriteMultipleRegistersResponse carries the values read back.
type ReadWriteMultipleRegistersResponse struct {
	normalResponse
	Values []uint16
}

func (ReadWriteMultipleRegistersResponse) FunctionCode() FunctionCode {
	return FuncCodeReadWriteMultipleRegisters
}
func (r ReadWriteMultipleRegistersResponse) encode() []byte {
	return append([]byte{byte(2 * len(r.Values))}, packRegisters(r.Values)...)
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// ReadExceptionStatusRequest reads the device exception status byte.
type ReadExceptionStatusRequest struct{}

func (ReadExceptionStatusRequest) FunctionCode() FunctionCode { return FuncCodeReadExceptionStatus }
func (ReadExceptionStatusRequest) encode() []byte             { return nil }

// ReadExceptionStatusResponse carries the device status byte.
type ReadExceptionStatusResponse struct {
	normalResponse
	Status byte
}

func (ReadExceptionStatusResponse) FunctionCode() FunctionCode { return FuncCodeReadExceptionStatus }
func (r ReadExceptionStatusResponse) encode() []byte           { return []byte{r.Status} }

// Diagnostics sub-function codes (function code 8).
const (
	DiagSubReturnQueryData          uint16 = 0x0000
	DiagSubRestartCommunications    uint16 = 0x0001
	DiagSubReturnDiagnosticRegister uint16 = 0x0002
	DiagSubForceListenOnlyMode      uint16 = 0x0004
	DiagSubClearCounters            uint16 = 0x000A
	DiagSubReturnBusMessageCount    uint16 = 0x000B
	DiagSubReturnBusCommErrorCount  uint16 = 0x000C
	DiagSubReturnSlaveMessageCount  uint16 = 0x000E
)

// DiagnosticsRequest is a function code 8 request. Data is the two-byte
// payload of the sub-function (most sub-functions echo or return counters).
type DiagnosticsRequest struct {
	SubFunction uint16
	Data        []byte
}

func (DiagnosticsRequest) FunctionCode() FunctionCode { return FuncCodeDiagnostics }
func (r DiagnosticsRequest) encode() []byte {
	data := make([]byte, 2, 2+len(r.Data))
	binary.BigEndian.PutUint16(data, r.SubFunction)
	return append(data, r.Data...)
}

// DiagnosticsResponse mirrors the request layout.
type DiagnosticsResponse struct {
	normalResponse
	SubFunction uint16
	Data        []byte
}

func (DiagnosticsResponse) FunctionCode() FunctionCode { return FuncCodeDiagnostics }
func (r DiagnosticsResponse) encode() []byte {
	data := make([]byte, 2, 2+len(r.Data))
	binary.BigEndian.PutUint16(data, r.SubFunction)
	return append(data, r.Data...)
}

// ---------------------------------------------------------------------------
// MEI / Read Device Identification (function code 43, MEI type 0x0E)
// ---------------------------------------------------------------------------

// DeviceIDObject is one identification object (vendor name, product code...).
type DeviceIDObject struct {
	ID    byte
	Value []byte
}

// ReadDeviceIDRequest reads device identification objects.
type ReadDeviceIDRequest struct {
	ReadDeviceIDCode byte // 1 basic, 2 regular, 3 extended, 4 individual
	ObjectID         byte
}

func (ReadDeviceIDRequest) FunctionCode() FunctionCode { return FuncCodeEncapsulatedInterface }
func (r ReadDeviceIDRequest) encode() []byte {
	return []byte{MEITypeReadDeviceID, r.ReadDeviceIDCode, r.ObjectID}
}

// ReadDeviceIDResponse carries the identification object list.
type ReadDeviceIDResponse struct {
	normalResponse
	ReadDeviceIDCode byte
	ConformityLevel  byte
	MoreFollows      byte
	NextObjectID     byte
	Objects          []DeviceIDObject
}

func (ReadDeviceIDResponse) FunctionCode() FunctionCode { return FuncCodeEncapsulatedInterface }
func (r ReadDeviceIDResponse) encode() []byte {
	data := []byte{
		MEITypeReadDeviceID,
		r.ReadDeviceIDCode,
		r.ConformityLevel,
		r.MoreFollows,
		r.NextObjectID,
		byte(len(r.Objects)),
	}
	for _, obj := range r.Objects {
		data = append(data, obj.ID, byte(len(obj.Value)))
		data = append(data, obj.Value...)
	}
	return data
}

// ---------------------------------------------------------------------------
// Fallbacks
// ---------------------------------------------------------------------------

// IllegalFunctionRequest is produced when a request arrives with a function
// code the registry does not know. Decoding never fails; the server answers
// it with an ExceptionResponse(ExcIllegalFunction).
type IllegalFunctionRequest struct {
	Code FunctionCode
	Data []byte
}

func (r IllegalFunctionRequest) FunctionCode() FunctionCode { return r.Code }
func (r IllegalFunctionRequest) encode() []byte             { return r.Data }

// ExceptionResponse is a valid decoded response value whose function code
// had the high bit set. It is never raised as an error by the transaction
// layer; callers check IsException.
type ExceptionResponse struct {
	Function FunctionCode // Original function code, high bit stripped
	Code     ExceptionCode
}

func (r ExceptionResponse) FunctionCode() FunctionCode { return r.Function | exceptionBit }
func (ExceptionResponse) IsException() bool            { return true }
func (r ExceptionResponse) encode() []byte             { return []byte{byte(r.Code)} }

// Err converts the exception response into a *ModbusError for callers that
// want to propagate it as an error value.
func (r ExceptionResponse) Err() error {
	return &ModbusError{FunctionCode: r.Function, ExceptionCode: r.Code}
}

func (r ExceptionResponse) String() string {
	return fmt.Sprintf("%v exception: %s", r.Function, r.Code.Message())
}
