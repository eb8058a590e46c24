package modbus

import (
	"errors"
	"fmt"
)

// ModbusError represents a Modbus exception response received from a device.
// It is carried by ExceptionResponse values; the transaction layer never
// raises it on its own, callers must inspect the decoded response.
type ModbusError struct {
	FunctionCode  FunctionCode // Original function code (high bit stripped)
	ExceptionCode ExceptionCode
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception response for func %02X: code 0x%02X - %s",
		byte(e.FunctionCode), byte(e.ExceptionCode), e.ExceptionCode.Message())
}

// FramingError reports a frame that failed an integrity or structure check
// (CRC/LRC mismatch, bad length field, truncated hex). It is recoverable
// locally by resyncing the framer and never reaches the application caller
// directly, only as a delayed timeout if no valid frame ever arrives.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "modbus: framing error: " + e.Reason
}

func framingErrorf(format string, v ...interface{}) *FramingError {
	return &FramingError{Reason: fmt.Sprintf(format, v...)}
}

// TimeoutError is returned after all retries are exhausted without a
// correlated response. Partial reports whether bytes of an incomplete frame
// were still buffered when the deadline expired, as opposed to total silence.
type TimeoutError struct {
	Attempts int
	Partial  bool
}

func (e *TimeoutError) Error() string {
	if e.Partial {
		return fmt.Sprintf("modbus: timeout after %d attempts: partial frame never completed", e.Attempts)
	}
	return fmt.Sprintf("modbus: timeout after %d attempts: no response", e.Attempts)
}

var (
	// ErrConnectionLost is reported to every pending transaction when the
	// transport signals closure. Fatal to the session, never retried.
	ErrConnectionLost = errors.New("modbus: connection lost")

	// ErrBusy is returned when a second Execute is attempted on a serial
	// transaction manager while one transaction is still pending.
	ErrBusy = errors.New("modbus: transaction already pending on serial link")

	// ErrClosed is returned for operations on a closed manager or transport.
	ErrClosed = errors.New("modbus: closed")
)
