package modbus

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	serial "github.com/hootrhino/goserial"
)

// Quantity limits from the Modbus application protocol.
const (
	MaxReadCoilsQuantity      = 2000
	MaxReadRegistersQuantity  = 125
	MaxWriteCoilsQuantity     = 1968
	MaxWriteRegistersQuantity = 123
)

// Client is the high-level Modbus master. It owns a TransactionManager and
// exposes typed operations that validate response echoes the way the
// protocol requires.
//
// Write operations sent to BroadcastUnitID on serial framings return nil
// immediately; no device answers a broadcast.
type Client struct {
	tm *TransactionManager
}

// NewClient builds a client over an existing transport and framer.
func NewClient(transport Transport, framer Framer, cfg TransactionConfig) *Client {
	return &Client{tm: NewTransactionManager(transport, framer, cfg)}
}

// NewTCPClient builds a Modbus TCP client over an established connection.
func NewTCPClient(conn net.Conn, cfg TransactionConfig) *Client {
	return NewClient(NewNetTransport(conn), NewSocketFramer(), cfg)
}

// NewTLSClient builds a Modbus/TCP Security client over an established TLS
// connection. unitID is attributed to extracted frames since the wire
// carries none.
func NewTLSClient(conn *tls.Conn, unitID byte, cfg TransactionConfig) *Client {
	return NewClient(NewNetTransport(conn), NewTLSFramer(unitID), cfg)
}

// NewRTUClient builds a Modbus RTU client over an open serial port.
func NewRTUClient(port io.ReadWriteCloser, cfg TransactionConfig) *Client {
	return NewClient(NewSerialTransport(port), NewRTUFramer(RoleClient), cfg)
}

// NewASCIIClient builds a Modbus ASCII client over an open serial port.
func NewASCIIClient(port io.ReadWriteCloser, cfg TransactionConfig) *Client {
	return NewClient(NewSerialTransport(port), NewASCIIFramer(), cfg)
}

// DialTCP connects to addr and returns a Modbus TCP client.
func DialTCP(addr string, timeout time.Duration, cfg TransactionConfig) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", addr, err)
	}
	return NewTCPClient(conn, cfg), nil
}

// DialRTU opens the serial port described by config and returns a Modbus
// RTU client.
func DialRTU(config *serial.Config, cfg TransactionConfig) (*Client, error) {
	port, err := serial.Open(config)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s failed: %w", config.Address, err)
	}
	return NewRTUClient(port, cfg), nil
}

// DialASCII opens the serial port described by config and returns a Modbus
// ASCII client.
func DialASCII(config *serial.Config, cfg TransactionConfig) (*Client, error) {
	port, err := serial.Open(config)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s failed: %w", config.Address, err)
	}
	return NewASCIIClient(port, cfg), nil
}

// Close shuts down the underlying transaction manager and transport.
func (c *Client) Close() error { return c.tm.Close() }

// SupportsPipelining reports whether the client's framing correlates
// responses by transaction id and therefore tolerates concurrent requests.
func (c *Client) SupportsPipelining() bool { return c.tm.framer.UsesTransactionIDs() }

// Execute runs a typed request and returns the typed response. Most callers
// want the purpose-built methods below; Execute is the escape hatch for
// custom function codes.
func (c *Client) Execute(ctx context.Context, unitID byte, req Request) (Response, error) {
	return c.tm.Execute(ctx, unitID, req)
}

// ExecutePDU runs a raw, already-encoded PDU and returns the raw response.
func (c *Client) ExecutePDU(ctx context.Context, unitID byte, pdu []byte) ([]byte, error) {
	return c.tm.ExecutePDU(ctx, unitID, pdu)
}

// ReadCoils reads quantity coil states starting at address.
func (c *Client) ReadCoils(ctx context.Context, unitID byte, address, quantity uint16) ([]bool, error) {
	if quantity < 1 || quantity > MaxReadCoilsQuantity {
		return nil, fmt.Errorf("quantity %d out of range [1, %d]", quantity, MaxReadCoilsQuantity)
	}
	resp, err := c.tm.Execute(ctx, unitID, ReadCoilsRequest{Address: address, Count: quantity})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(ReadCoilsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", resp)
	}
	if len(r.Bits) < int(quantity) {
		return nil, fmt.Errorf("short response: %d coils, want %d", len(r.Bits), quantity)
	}
	return r.Bits[:quantity], nil
}

// ReadDiscreteInputs reads quantity discrete input states starting at
// address.
func (c *Client) ReadDiscreteInputs(ctx context.Context, unitID byte, address, quantity uint16) ([]bool, error) {
	if quantity < 1 || quantity > MaxReadCoilsQuantity {
		return nil, fmt.Errorf("quantity %d out of range [1, %d]", quantity, MaxReadCoilsQuantity)
	}
	resp, err := c.tm.Execute(ctx, unitID, ReadDiscreteInputsRequest{Address: address, Count: quantity})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(ReadDiscreteInputsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", resp)
	}
	if len(r.Bits) < int(quantity) {
		return nil, fmt.Errorf("short response: %d inputs, want %d", len(r.Bits), quantity)
	}
	return r.Bits[:quantity], nil
}

// ReadHoldingRegisters reads quantity holding registers starting at
// address.
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > MaxReadRegistersQuantity {
		return nil, fmt.Errorf("quantity %d out of range [1, %d]", quantity, MaxReadRegistersQuantity)
	}
	resp, err := c.tm.Execute(ctx, unitID, ReadHoldingRegistersRequest{Address: address, Count: quantity})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(ReadHoldingRegistersResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", resp)
	}
	if len(r.Values) != int(quantity) {
		return nil, fmt.Errorf("short response: %d registers, want %d", len(r.Values), quantity)
	}
	return r.Values, nil
}

// ReadInputRegisters reads quantity input registers starting at address.
func (c *Client) ReadInputRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]uint16, error) {
	if quantity < 1 || quantity > MaxReadRegistersQuantity {
		return nil, fmt.Errorf("quantity %d out of range [1, %d]", quantity, MaxReadRegistersQuantity)
	}
	resp, err := c.tm.Execute(ctx, unitID, ReadInputRegistersRequest{Address: address, Count: quantity})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(ReadInputRegistersResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", resp)
	}
	if len(r.Values) != int(quantity) {
		return nil, fmt.Errorf("short response: %d registers, want %d", len(r.Values), quantity)
	}
	return r.Values, nil
}

// WriteSingleCoil writes one coil and validates the echoed address and
// value.
func (c *Client) WriteSingleCoil(ctx context.Context, unitID byte, address uint16, value bool) error {
	resp, err := c.tm.Execute(ctx, unitID, WriteSingleCoilRequest{Address: address, Value: value})
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	r, ok := resp.(WriteSingleCoilResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", resp)
	}
	if r.Address != address {
		return fmt.Errorf("response address mismatch: sent %d, echoed %d", address, r.Address)
	}
	if r.Value != value {
		return fmt.Errorf("response value mismatch: sent %v, echoed %v", value, r.Value)
	}
	return nil
}

// WriteSingleRegister writes one holding register and validates the echoed
// address and value.
func (c *Client) WriteSingleRegister(ctx context.Context, unitID byte, address, value uint16) error {
	resp, err := c.tm.Execute(ctx, unitID, WriteSingleRegisterRequest{Address: address, Value: value})
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	r, ok := resp.(WriteSingleRegisterResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", resp)
	}
	if r.Address != address {
		return fmt.Errorf("response address mismatch: sent %d, echoed %d", address, r.Address)
	}
	if r.Value != value {
		return fmt.Errorf("response value mismatch: sent %d, echoed %d", value, r.Value)
	}
	return nil
}

// WriteMultipleCoils writes a run of coils and validates the echoed address
// and quantity.
func (c *Client) WriteMultipleCoils(ctx context.Context, unitID byte, address uint16, values []bool) error {
	if len(values) < 1 || len(values) > MaxWriteCoilsQuantity {
		return fmt.Errorf("quantity %d out of range [1, %d]", len(values), MaxWriteCoilsQuantity)
	}
	resp, err := c.tm.Execute(ctx, unitID, WriteMultipleCoilsRequest{Address: address, Values: values})
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	r, ok := resp.(WriteMultipleCoilsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", resp)
	}
	if r.Address != address {
		return fmt.Errorf("response address mismatch: sent %d, echoed %d", address, r.Address)
	}
	if int(r.Count) != len(values) {
		return fmt.Errorf("response quantity mismatch: sent %d, echoed %d", len(values), r.Count)
	}
	return nil
}

// WriteMultipleRegisters writes a run of holding registers and validates
// the echoed address and quantity.
func (c *Client) WriteMultipleRegisters(ctx context.Context, unitID byte, address uint16, values []uint16) error {
	if len(values) < 1 || len(values) > MaxWriteRegistersQuantity {
		return fmt.Errorf("quantity %d out of range [1, %d]", len(values), MaxWriteRegistersQuantity)
	}
	resp, err := c.tm.Execute(ctx, unitID, WriteMultipleRegistersRequest{Address: address, Values: values})
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	r, ok := resp.(WriteMultipleRegistersResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", resp)
	}
	if r.Address != address {
		return fmt.Errorf("response address mismatch: sent %d, echoed %d", address, r.Address)
	}
	if int(r.Count) != len(values) {
		return fmt.Errorf("response quantity mismatch: sent %d, echoed %d", len(values), r.Count)
	}
	return nil
}

// MaskWriteRegister applies (current AND andMask) OR (orMask AND NOT
// andMask) to one holding register and validates the echo.
func (c *Client) MaskWriteRegister(ctx context.Context, unitID byte, address, andMask, orMask uint16) error {
	resp, err := c.tm.Execute(ctx, unitID, MaskWriteRegisterRequest{Address: address, AndMask: andMask, OrMask: orMask})
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	r, ok := resp.(MaskWriteRegisterResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", resp)
	}
	if r.Address != address || r.AndMask != andMask || r.OrMask != orMask {
		return fmt.Errorf("response echo mismatch: sent (%d, 0x%04X, 0x%04X), echoed (%d, 0x%04X, 0x%04X)",
			address, andMask, orMask, r.Address, r.AndMask, r.OrMask)
	}
	return nil
}

// ReadWriteMultipleRegisters writes writeValues at writeAddress and reads
// readQuantity registers from readAddress in one transaction.
func (c *Client) ReadWriteMultipleRegisters(ctx context.Context, unitID byte, readAddress, readQuantity, writeAddress uint16, writeValues []uint16) ([]uint16, error) {
	if readQuantity < 1 || readQuantity > MaxReadRegistersQuantity {
		return nil, fmt.Errorf("read quantity %d out of range [1, %d]", readQuantity, MaxReadRegistersQuantity)
	}
	if len(writeValues) < 1 || len(writeValues) > MaxWriteRegistersQuantity {
		return nil, fmt.Errorf("write quantity %d out of range [1, %d]", len(writeValues), MaxWriteRegistersQuantity)
	}
	req := ReadWriteMultipleRegistersRequest{
		ReadAddress:  readAddress,
		ReadCount:    readQuantity,
		WriteAddress: writeAddress,
		WriteValues:  writeValues,
	}
	resp, err := c.tm.Execute(ctx, unitID, req)
	if err != nil {
		return nil, err
	}
	r, ok := resp.(ReadWriteMultipleRegistersResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", resp)
	}
	if len(r.Values) != int(readQuantity) {
		return nil, fmt.Errorf("short response: %d registers, want %d", len(r.Values), readQuantity)
	}
	return r.Values, nil
}

// ReadExceptionStatus reads the device's eight exception status outputs.
func (c *Client) ReadExceptionStatus(ctx context.Context, unitID byte) (byte, error) {
	resp, err := c.tm.Execute(ctx, unitID, ReadExceptionStatusRequest{})
	if err != nil {
		return 0, err
	}
	r, ok := resp.(ReadExceptionStatusResponse)
	if !ok {
		return 0, fmt.Errorf("unexpected response type %T", resp)
	}
	return r.Status, nil
}

// Diagnostics runs a serial-line diagnostic sub-function and returns the
// response data field.
func (c *Client) Diagnostics(ctx context.Context, unitID byte, subFunction uint16, data []byte) ([]byte, error) {
	resp, err := c.tm.Execute(ctx, unitID, DiagnosticsRequest{SubFunction: subFunction, Data: data})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(DiagnosticsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", resp)
	}
	if r.SubFunction != subFunction {
		return nil, fmt.Errorf("response sub-function mismatch: sent 0x%04X, echoed 0x%04X", subFunction, r.SubFunction)
	}
	return r.Data, nil
}

// ReadDeviceID reads device identification objects via the encapsulated
// interface transport.
func (c *Client) ReadDeviceID(ctx context.Context, unitID byte, readCode, objectID byte) (ReadDeviceIDResponse, error) {
	resp, err := c.tm.Execute(ctx, unitID, ReadDeviceIDRequest{ReadDeviceIDCode: readCode, ObjectID: objectID})
	if err != nil {
		return ReadDeviceIDResponse{}, err
	}
	r, ok := resp.(ReadDeviceIDResponse)
	if !ok {
		return ReadDeviceIDResponse{}, fmt.Errorf("unexpected response type %T", resp)
	}
	return r, nil
}
