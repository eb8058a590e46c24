package modbus

import (
	"fmt"
)

// FunctionCode represents a Modbus function code.
type FunctionCode byte

// Function codes supported by the codec registry.
const (
	// Bit access
	FuncCodeReadCoils          FunctionCode = 1
	FuncCodeReadDiscreteInputs FunctionCode = 2
	FuncCodeWriteSingleCoil    FunctionCode = 5
	FuncCodeWriteMultipleCoils FunctionCode = 15

	// 16-bit access
	FuncCodeReadHoldingRegisters       FunctionCode = 3
	FuncCodeReadInputRegisters         FunctionCode = 4
	FuncCodeWriteSingleRegister        FunctionCode = 6
	FuncCodeWriteMultipleRegisters     FunctionCode = 16
	FuncCodeMaskWriteRegister          FunctionCode = 22
	FuncCodeReadWriteMultipleRegisters FunctionCode = 23

	// Diagnostics
	FuncCodeReadExceptionStatus   FunctionCode = 7
	FuncCodeDiagnostics           FunctionCode = 8
	FuncCodeEncapsulatedInterface FunctionCode = 43
)

// exceptionBit is set on the function code of exception responses.
const exceptionBit = 0x80

// MEI type for Read Device Identification under function code 43.
const MEITypeReadDeviceID = 0x0E

// IsException reports whether a raw function code byte carries the
// exception flag.
func (f FunctionCode) IsException() bool {
	return byte(f)&exceptionBit != 0
}

func (f FunctionCode) String() string {
	switch f &^ exceptionBit {
	case FuncCodeReadCoils:
		return "ReadCoils"
	case FuncCodeReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncCodeReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncCodeReadInputRegisters:
		return "ReadInputRegisters"
	case FuncCodeWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncCodeWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncCodeWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncCodeWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case FuncCodeMaskWriteRegister:
		return "MaskWriteRegister"
	case FuncCodeReadWriteMultipleRegisters:
		return "ReadWriteMultipleRegisters"
	case FuncCodeReadExceptionStatus:
		return "ReadExceptionStatus"
	case FuncCodeDiagnostics:
		return "Diagnostics"
	case FuncCodeEncapsulatedInterface:
		return "EncapsulatedInterface"
	default:
		return fmt.Sprintf("FunctionCode(%d)", byte(f))
	}
}

// ExceptionCode represents a Modbus exception code.
type ExceptionCode byte

// Exception codes defined by the Modbus application protocol.
const (
	ExcIllegalFunction     ExceptionCode = 0x01
	ExcIllegalDataAddress  ExceptionCode = 0x02
	ExcIllegalDataValue    ExceptionCode = 0x03
	ExcSlaveDeviceFailure  ExceptionCode = 0x04
	ExcAcknowledge         ExceptionCode = 0x05
	ExcSlaveDeviceBusy     ExceptionCode = 0x06
	ExcMemoryParityError   ExceptionCode = 0x08
	ExcGatewayPathUnavail  ExceptionCode = 0x0A
	ExcGatewayTargetFailed ExceptionCode = 0x0B
)

// Message returns a human-readable message for a Modbus exception code.
func (e ExceptionCode) Message() string {
	switch e {
	case ExcIllegalFunction:
		return "Illegal function"
	case ExcIllegalDataAddress:
		return "Illegal data address"
	case ExcIllegalDataValue:
		return "Illegal data value"
	case ExcSlaveDeviceFailure:
		return "Slave device failure"
	case ExcAcknowledge:
		return "Acknowledge"
	case ExcSlaveDeviceBusy:
		return "Slave device busy"
	case ExcMemoryParityError:
		return "Memory parity error"
	case ExcGatewayPathUnavail:
		return "Gateway path unavailable"
	case ExcGatewayTargetFailed:
		return "Gateway target device failed to respond"
	default:
		return "Unknown exception code"
	}
}

// Error makes ExceptionCode usable as the error result of DeviceContext
// operations; the server turns it into an exception response.
func (e ExceptionCode) Error() string {
	return e.Message()
}

// Valid ON/OFF wire values for WriteSingleCoil.
const (
	WriteCoilValueOn  uint16 = 0xFF00
	WriteCoilValueOff uint16 = 0x0000
)

// Request is a typed Modbus request PDU.
type Request interface {
	FunctionCode() FunctionCode
	// encode serializes the PDU fields following the function code byte.
	encode() []byte
}

// Response is a typed Modbus response PDU. Exception responses implement
// Response as well; check with IsException before using the payload.
type Response interface {
	FunctionCode() FunctionCode
	IsException() bool
	encode() []byte
}

// ---------------------------------------------------------------------------
// Bit packing helpers. Bits go LSB-first into each byte, zero-padded to the
// next byte boundary.
// ---------------------------------------------------------------------------

func packBits(values []bool) []byte {
	packed := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	return packed
}

func unpackBits(data []byte, count uint16) []bool {
	bits := make([]bool, count)
	for i := range bits {
		byteIndex := i / 8
		bitIndex := i % 8
		if byteIndex < len(data) && data[byteIndex]&(1<<bitIndex) != 0 {
			bits[i] = true
		}
	}
	return bits
}

func packRegisters(values []uint16) []byte {
	packed := make([]byte, 2*len(values))
	for i, v := range values {
		packed[2*i] = byte(v >> 8)
		packed[2*i+1] = byte(v)
	}
	return packed
}

func unpackRegisters(data []byte) []uint16 {
	values := make([]uint16, len(data)/2)
	for i := range values {
		values[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return values
}
