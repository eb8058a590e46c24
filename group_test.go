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
	"testing"
)

func holdingReg(tag string, unit byte, addr uint16, dataType string) DeviceRegister {
	return DeviceRegister{
		Tag: tag, UnitID: unit, Function: FuncCodeReadHoldingRegisters,
		Address: addr, DataType: dataType, DataOrder: "AB", Weight: 1.0,
	}
}

func TestGroupRegistersMergesContiguous(t *testing.T) {
	regs := []DeviceRegister{
		holdingReg("a", 1, 0, "uint16"),
		holdingReg("b", 1, 1, "uint32"),
		holdingReg("c", 1, 3, "uint16"),
	}
	groups := GroupRegisters(regs)
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}
	if len(groups[0]) != 3 {
		t.Fatalf("Expected 3 registers in group, got %d", len(groups[0]))
	}
	// Quantity derives from DataType when left unset.
	if groups[0][1].Quantity != 2 {
		t.Errorf("Expected derived quantity 2 for uint32, got %d", groups[0][1].Quantity)
	}
}

func TestGroupRegistersSplitsOnGap(t *testing.T) {
	regs := []DeviceRegister{
		holdingReg("a", 1, 0, "uint16"),
		holdingReg("b", 1, 5, "uint16"),
	}
	groups := GroupRegisters(regs)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}
}

func TestGroupRegistersSplitsByUnitAndFunction(t *testing.T) {
	inputReg := holdingReg("c", 1, 1, "uint16")
	inputReg.Function = FuncCodeReadInputRegisters

	regs := []DeviceRegister{
		holdingReg("a", 1, 0, "uint16"),
		holdingReg("b", 2, 1, "uint16"),
		inputReg,
	}
	groups := GroupRegisters(regs)
	if len(groups) != 3 {
		t.Fatalf("Expected 3 groups, got %d", len(groups))
	}
	// Deterministic order: unit, then function, then address.
	if groups[0][0].Tag != "a" || groups[1][0].Tag != "c" || groups[2][0].Tag != "b" {
		t.Errorf("Unexpected group order: %s, %s, %s",
			groups[0][0].Tag, groups[1][0].Tag, groups[2][0].Tag)
	}
}

func TestGroupRegistersRespectsQuantityLimit(t *testing.T) {
	// 3 contiguous spans of 50 registers each exceed the 125 limit as one
	// request, so the third starts a new group.
	var regs []DeviceRegister
	for i := 0; i < 3; i++ {
		reg := holdingReg("big", 1, uint16(i*50), "uint16")
		reg.Quantity = 50
		regs = append(regs, reg)
	}
	groups := GroupRegisters(regs)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}
	if len(groups[0]) != 2 || len(groups[1]) != 1 {
		t.Errorf("Expected split 2+1, got %d+%d", len(groups[0]), len(groups[1]))
	}
}

func TestGroupRegistersUnsortedInput(t *testing.T) {
	regs := []DeviceRegister{
		holdingReg("b", 1, 1, "uint16"),
		holdingReg("a", 1, 0, "uint16"),
	}
	groups := GroupRegisters(regs)
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}
	if groups[0][0].Tag != "a" {
		t.Errorf("Expected ascending address order inside the group")
	}
}

func TestGroupRegistersEmpty(t *testing.T) {
	groups := GroupRegisters(nil)
	if len(groups) != 0 {
		t.Errorf("Expected no groups, got %d", len(groups))
	}
}

func TestReadGroupScattersWords(t *testing.T) {
	device := NewMemoryDevice()
	device.SetHoldingRegister(10, 0x0102)
	device.SetHoldingRegister(11, 0x0000)
	device.SetHoldingRegister(12, 0x0001)
	client, _ := loopbackTCP(t, device)

	regs := []DeviceRegister{
		holdingReg("temp", 1, 10, "uint16"),
		holdingReg("count", 1, 11, "uint32"),
	}
	regs[1].DataOrder = "ABCD"
	groups := GroupRegisters(regs)
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}

	out, err := ReadGroup(context.Background(), client, groups[0])
	assertNoError(t, err)

	if out[0].Status != "VALID:OK" || out[1].Status != "VALID:OK" {
		t.Fatalf("Expected VALID:OK statuses, got %q and %q", out[0].Status, out[1].Status)
	}
	dv, err := out[0].DecodeValue()
	assertNoError(t, err)
	if dv.AsType.(uint16) != 0x0102 {
		t.Errorf("Expected 0x0102, got %v", dv.AsType)
	}
	dv, err = out[1].DecodeValue()
	assertNoError(t, err)
	if dv.AsType.(uint32) != 1 {
		t.Errorf("Expected 1, got %v", dv.AsType)
	}
}

func TestReadGroupScattersBits(t *testing.T) {
	device := NewMemoryDevice()
	device.SetCoil(4, true)
	client, _ := loopbackTCP(t, device)

	reg := DeviceRegister{
		Tag: "valve", UnitID: 1, Function: FuncCodeReadCoils,
		Address: 4, Quantity: 1, DataType: "bool", Weight: 1.0,
	}
	out, err := ReadGroup(context.Background(), client, []DeviceRegister{reg})
	assertNoError(t, err)
	if out[0].Status != "VALID:OK" {
		t.Fatalf("Expected VALID:OK, got %q", out[0].Status)
	}
	assertBytesEqual(t, []byte{1}, out[0].Value)
}

func TestReadGroupStampsInvalidOnError(t *testing.T) {
	device := NewMemoryDevice()
	client, _ := loopbackTCP(t, device)

	reg := holdingReg("edge", 1, 0xFFFF, "uint32")
	reg.Quantity = 2
	out, err := ReadGroup(context.Background(), client, []DeviceRegister{reg})
	assertError(t, err)
	if out[0].Status == "" || out[0].Status == "VALID:OK" {
		t.Errorf("Expected INVALID status, got %q", out[0].Status)
	}
}

func TestReadGroupRejectsWriteFunction(t *testing.T) {
	device := NewMemoryDevice()
	client, _ := loopbackTCP(t, device)

	reg := holdingReg("bad", 1, 0, "uint16")
	reg.Function = FuncCodeWriteSingleRegister
	reg.Quantity = 1
	_, err := ReadGroup(context.Background(), client, []DeviceRegister{reg})
	assertError(t, err)
}

func TestReadGroupsConcurrently(t *testing.T) {
	device := NewMemoryDevice()
	for i := uint16(0); i < 8; i++ {
		device.SetHoldingRegister(i, i+100)
	}
	device.SetHoldingRegister(100, 0xAA55)
	client, _ := loopbackTCP(t, device)

	regs := []DeviceRegister{
		holdingReg("span", 1, 0, "uint16[8]"),
		holdingReg("lone", 1, 100, "uint16"),
	}
	groups := GroupRegisters(regs)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}

	out, errs := ReadGroupsConcurrently(context.Background(), client, groups)
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	for _, group := range out {
		for _, reg := range group {
			if reg.Status != "VALID:OK" {
				t.Errorf("Register %s: status %q", reg.Tag, reg.Status)
			}
		}
	}
}

func TestReadGroupsSequential(t *testing.T) {
	device := NewMemoryDevice()
	device.SetHoldingRegister(0, 1)
	device.SetHoldingRegister(50, 2)
	client, _ := loopbackTCP(t, device)

	groups := GroupRegisters([]DeviceRegister{
		holdingReg("a", 1, 0, "uint16"),
		holdingReg("b", 1, 50, "uint16"),
	})
	out, errs := ReadGroupsSequential(context.Background(), client, groups)
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 groups back, got %d", len(out))
	}
}
