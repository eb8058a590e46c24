// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// GroupRegisters batches registers into contiguous read spans. Registers
// are grouped per unit id and function code; addresses that follow each
// other without gaps merge into one span until the function code's quantity
// limit is hit. Quantity is derived from DataType where unset.
func GroupRegisters(registers []DeviceRegister) [][]DeviceRegister {
	if len(registers) == 0 {
		return [][]DeviceRegister{}
	}

	regs := make([]DeviceRegister, len(registers))
	copy(regs, registers)

	for i := range regs {
		if regs[i].Quantity == 0 {
			if _, err := regs[i].CalculateQuantity(); err != nil {
				regs[i].Status = fmt.Sprintf("INVALID:%v", err)
			}
		}
	}

	byUnit := make(map[byte][]DeviceRegister)
	for _, reg := range regs {
		if reg.Quantity == 0 {
			continue
		}
		byUnit[reg.UnitID] = append(byUnit[reg.UnitID], reg)
	}

	var result [][]DeviceRegister
	for _, unitRegs := range byUnit {
		byFunction := make(map[FunctionCode][]DeviceRegister)
		for _, reg := range unitRegs {
			byFunction[reg.Function] = append(byFunction[reg.Function], reg)
		}

		for _, funcRegs := range byFunction {
			sort.Slice(funcRegs, func(i, j int) bool {
				return funcRegs[i].Address < funcRegs[j].Address
			})

			current := []DeviceRegister{funcRegs[0]}
			for i := 1; i < len(funcRegs); i++ {
				prev, curr := funcRegs[i-1], funcRegs[i]
				contiguous := curr.Address == prev.Address+prev.Quantity
				if contiguous && fitsInGroup(current, curr) {
					current = append(current, curr)
				} else {
					result = append(result, current)
					current = []DeviceRegister{curr}
				}
			}
			result = append(result, current)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i][0], result[j][0]
		if a.UnitID != b.UnitID {
			return a.UnitID < b.UnitID
		}
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		return a.Address < b.Address
	})

	return result
}

// fitsInGroup checks the protocol's per-request quantity limit.
func fitsInGroup(group []DeviceRegister, next DeviceRegister) bool {
	total := next.Quantity
	for _, reg := range group {
		total += reg.Quantity
	}
	switch next.Function {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		return total <= MaxReadCoilsQuantity
	default:
		return total <= MaxReadRegistersQuantity
	}
}

// ReadGroup reads one contiguous span and distributes the data back onto
// its registers.
func ReadGroup(ctx context.Context, client *Client, group []DeviceRegister) ([]DeviceRegister, error) {
	if len(group) == 0 {
		return nil, fmt.Errorf("cannot read empty group")
	}
	unitID := group[0].UnitID
	start := group[0].Address
	var total uint16
	for _, reg := range group {
		total += reg.Quantity
	}

	var bits []bool
	var words []uint16
	var err error
	switch group[0].Function {
	case FuncCodeReadCoils:
		bits, err = client.ReadCoils(ctx, unitID, start, total)
	case FuncCodeReadDiscreteInputs:
		bits, err = client.ReadDiscreteInputs(ctx, unitID, start, total)
	case FuncCodeReadHoldingRegisters:
		words, err = client.ReadHoldingRegisters(ctx, unitID, start, total)
	case FuncCodeReadInputRegisters:
		words, err = client.ReadInputRegisters(ctx, unitID, start, total)
	default:
		return nil, fmt.Errorf("unsupported read function code: %d", group[0].Function)
	}
	if err != nil {
		for i := range group {
			group[i].Status = fmt.Sprintf("INVALID:%v", err)
		}
		return group, fmt.Errorf("read failed (unit %d, addr %d): %w", unitID, start, err)
	}

	offset := 0
	for i := range group {
		reg := &group[i]
		qty := int(reg.Quantity)
		switch reg.Function {
		case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
			err = scatterBits(reg, bits, offset, qty)
		default:
			err = scatterWords(reg, words, offset, qty)
		}
		if err != nil {
			return group, err
		}
		offset += qty
	}
	return group, nil
}

func scatterBits(reg *DeviceRegister, data []bool, offset, qty int) error {
	if offset+qty > len(data) {
		msg := fmt.Sprintf("bit data out of bounds (unit %d, addr %d, offset %d, qty %d, len %d)",
			reg.UnitID, reg.Address, offset, qty, len(data))
		reg.Status = "INVALID:" + msg
		return errors.New(msg)
	}
	raw := make([]byte, qty)
	for i := 0; i < qty; i++ {
		if data[offset+i] {
			raw[i] = 1
		}
	}
	reg.SetRawValue(raw)
	reg.Status = "VALID:OK"
	return nil
}

func scatterWords(reg *DeviceRegister, data []uint16, offset, qty int) error {
	if offset+qty > len(data) {
		msg := fmt.Sprintf("register data out of bounds (unit %d, addr %d, offset %d, qty %d, len %d)",
			reg.UnitID, reg.Address, offset, qty, len(data))
		reg.Status = "INVALID:" + msg
		return errors.New(msg)
	}
	reg.SetRawValue(packRegisters(data[offset : offset+qty]))
	reg.Status = "VALID:OK"
	return nil
}

// ReadGroupsConcurrently reads every group in parallel. Only correct for
// clients whose framing correlates responses by transaction id; serial
// clients reject concurrent transactions.
func ReadGroupsConcurrently(ctx context.Context, client *Client, grouped [][]DeviceRegister) ([][]DeviceRegister, []error) {
	var wg sync.WaitGroup
	result := make([][]DeviceRegister, len(grouped))
	errCh := make(chan error, len(grouped))

	for i, group := range grouped {
		wg.Add(1)
		go func(idx int, group []DeviceRegister) {
			defer wg.Done()
			out, err := ReadGroup(ctx, client, group)
			result[idx] = out
			if err != nil {
				errCh <- fmt.Errorf("group %d: %w", idx, err)
			}
		}(i, group)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return result, errs
}

// ReadGroupsSequential reads groups one at a time, as serial framings
// require.
func ReadGroupsSequential(ctx context.Context, client *Client, grouped [][]DeviceRegister) ([][]DeviceRegister, []error) {
	result := make([][]DeviceRegister, 0, len(grouped))
	var errs []error
	for i, group := range grouped {
		out, err := ReadGroup(ctx, client, group)
		if err != nil {
			errs = append(errs, fmt.Errorf("group %d: %w", i, err))
		}
		result = append(result, out)
	}
	return result, errs
}
