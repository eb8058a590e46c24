package modbus

import "sync"

// DeviceContext is the boundary a server asks to satisfy requests. An
// implementation returning an ExceptionCode as the error selects the
// exception sent on the wire; any other error becomes
// ExcSlaveDeviceFailure.
type DeviceContext interface {
	ReadCoils(address, count uint16) ([]bool, error)
	ReadDiscreteInputs(address, count uint16) ([]bool, error)
	ReadHoldingRegisters(address, count uint16) ([]uint16, error)
	ReadInputRegisters(address, count uint16) ([]uint16, error)
	WriteCoils(address uint16, values []bool) error
	WriteHoldingRegisters(address uint16, values []uint16) error
}

// DeviceIdentity is optionally implemented by a DeviceContext that serves
// device identification objects.
type DeviceIdentity interface {
	DeviceIdentification() []DeviceIDObject
}

// ExceptionStatusReader is optionally implemented by a DeviceContext that
// exposes the eight exception status outputs.
type ExceptionStatusReader interface {
	ExceptionStatus() (byte, error)
}

// memoryBankSize is the full Modbus address space per table.
const memoryBankSize = 65536

// MemoryDevice is an in-memory DeviceContext backed by the four standard
// data tables. All methods are safe for concurrent use.
type MemoryDevice struct {
	mu               sync.RWMutex
	coils            []bool
	discreteInputs   []bool
	holdingRegisters []uint16
	inputRegisters   []uint16
	identity         []DeviceIDObject
	exceptionStatus  byte
}

// NewMemoryDevice creates a device covering the full 65536-entry address
// space in each table, zero-initialized.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{
		coils:            make([]bool, memoryBankSize),
		discreteInputs:   make([]bool, memoryBankSize),
		holdingRegisters: make([]uint16, memoryBankSize),
		inputRegisters:   make([]uint16, memoryBankSize),
	}
}

// checkRange rejects reads or writes that run past the address space.
func checkRange(address, count uint16) error {
	if count == 0 {
		return ExcIllegalDataValue
	}
	if int(address)+int(count) > memoryBankSize {
		return ExcIllegalDataAddress
	}
	return nil
}

// ReadCoils implements DeviceContext.
func (d *MemoryDevice) ReadCoils(address, count uint16) ([]bool, error) {
	if err := checkRange(address, count); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]bool, count)
	copy(out, d.coils[address:int(address)+int(count)])
	return out, nil
}

// ReadDiscreteInputs implements DeviceContext.
func (d *MemoryDevice) ReadDiscreteInputs(address, count uint16) ([]bool, error) {
	if err := checkRange(address, count); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]bool, count)
	copy(out, d.discreteInputs[address:int(address)+int(count)])
	return out, nil
}

// ReadHoldingRegisters implements DeviceContext.
func (d *MemoryDevice) ReadHoldingRegisters(address, count uint16) ([]uint16, error) {
	if err := checkRange(address, count); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]uint16, count)
	copy(out, d.holdingRegisters[address:int(address)+int(count)])
	return out, nil
}

// ReadInputRegisters implements DeviceContext.
func (d *MemoryDevice) ReadInputRegisters(address, count uint16) ([]uint16, error) {
	if err := checkRange(address, count); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]uint16, count)
	copy(out, d.inputRegisters[address:int(address)+int(count)])
	return out, nil
}

// WriteCoils implements DeviceContext.
func (d *MemoryDevice) WriteCoils(address uint16, values []bool) error {
	if err := checkRange(address, uint16(len(values))); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.coils[address:], values)
	return nil
}

// WriteHoldingRegisters implements DeviceContext.
func (d *MemoryDevice) WriteHoldingRegisters(address uint16, values []uint16) error {
	if err := checkRange(address, uint16(len(values))); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.holdingRegisters[address:], values)
	return nil
}

// SetDiscreteInput updates one discrete input, typically from a process
// scan feeding the server.
func (d *MemoryDevice) SetDiscreteInput(address uint16, value bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discreteInputs[address] = value
}

// SetInputRegister updates one input register.
func (d *MemoryDevice) SetInputRegister(address, value uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputRegisters[address] = value
}

// SetCoil updates one coil directly, bypassing the protocol path.
func (d *MemoryDevice) SetCoil(address uint16, value bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.coils[address] = value
}

// SetHoldingRegister updates one holding register directly.
func (d *MemoryDevice) SetHoldingRegister(address, value uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holdingRegisters[address] = value
}

// SetIdentity installs the device identification objects served for
// encapsulated interface requests.
func (d *MemoryDevice) SetIdentity(objects []DeviceIDObject) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identity = append([]DeviceIDObject(nil), objects...)
}

// DeviceIdentification implements DeviceIdentity.
func (d *MemoryDevice) DeviceIdentification() []DeviceIDObject {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]DeviceIDObject(nil), d.identity...)
}

// SetExceptionStatus sets the byte returned for read exception status
// requests.
func (d *MemoryDevice) SetExceptionStatus(status byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exceptionStatus = status
}

// ExceptionStatus implements ExceptionStatusReader.
func (d *MemoryDevice) ExceptionStatus() (byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.exceptionStatus, nil
}
