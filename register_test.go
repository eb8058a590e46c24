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
	"math"
	"testing"
)

func TestCalculateQuantity(t *testing.T) {
	for dataType, expected := range map[string]uint16{
		"uint16":     1,
		"int16":      1,
		"uint32":     2,
		"float32":    2,
		"float64":    4,
		"byte":       1,
		"bool":       1,
		"float32[4]": 8,
	} {
		reg := DeviceRegister{DataType: dataType}
		qty, err := reg.CalculateQuantity()
		assertNoError(t, err)
		if qty != expected {
			t.Errorf("CalculateQuantity(%s) = %d, expected %d", dataType, qty, expected)
		}
		if reg.Quantity != expected {
			t.Errorf("Quantity field not updated for %s", dataType)
		}
	}
}

func TestCalculateQuantityRejectsUnknownType(t *testing.T) {
	reg := DeviceRegister{DataType: "complex128"}
	_, err := reg.CalculateQuantity()
	assertError(t, err)
}

func TestDecodeUint16(t *testing.T) {
	reg := DeviceRegister{
		Tag: "temp", DataType: "uint16", DataOrder: "AB", Weight: 1.0,
		Value: []byte{0x01, 0x02},
	}
	dv, err := reg.DecodeValue()
	assertNoError(t, err)
	if dv.AsType.(uint16) != 0x0102 {
		t.Errorf("Expected 0x0102, got %v", dv.AsType)
	}
	if dv.Float64 != 258 {
		t.Errorf("Expected 258, got %f", dv.Float64)
	}
}

func TestDecodeUint16ByteSwapped(t *testing.T) {
	reg := DeviceRegister{
		Tag: "temp", DataType: "uint16", DataOrder: "BA", Weight: 1.0,
		Value: []byte{0x01, 0x02},
	}
	dv, err := reg.DecodeValue()
	assertNoError(t, err)
	if dv.AsType.(uint16) != 0x0201 {
		t.Errorf("Expected 0x0201, got %v", dv.AsType)
	}
}

func TestDecodeFloat32WordSwapped(t *testing.T) {
	bits := math.Float32bits(12.5)
	be := []byte{byte(bits >> 24), byte(bits >> 16), byte(bits >> 8), byte(bits)}
	// CDAB order means the register pairs arrive swapped.
	cdab := []byte{be[2], be[3], be[0], be[1]}

	reg := DeviceRegister{
		Tag: "flow", DataType: "float32", DataOrder: "CDAB", Weight: 1.0,
		Value: cdab,
	}
	dv, err := reg.DecodeValue()
	assertNoError(t, err)
	if dv.AsType.(float32) != 12.5 {
		t.Errorf("Expected 12.5, got %v", dv.AsType)
	}
}

func TestDecodeInt16Negative(t *testing.T) {
	reg := DeviceRegister{
		Tag: "offset", DataType: "int16", DataOrder: "AB", Weight: 1.0,
		Value: []byte{0xFF, 0xFE},
	}
	dv, err := reg.DecodeValue()
	assertNoError(t, err)
	if dv.AsType.(int16) != -2 {
		t.Errorf("Expected -2, got %v", dv.AsType)
	}
	if dv.Float64 != -2 {
		t.Errorf("Expected -2.0, got %f", dv.Float64)
	}
}

func TestDecodeWeightScaling(t *testing.T) {
	reg := DeviceRegister{
		Tag: "temp", DataType: "uint16", DataOrder: "AB", Weight: 0.1,
		Value: []byte{0x00, 0xFB},
	}
	dv, err := reg.DecodeValue()
	assertNoError(t, err)
	got := dv.GetFloat64Value(1)
	if got != 25.1 {
		t.Errorf("Expected 25.1, got %v", got)
	}
}

func TestDecodeBitfield(t *testing.T) {
	reg := DeviceRegister{
		Tag: "flags", DataType: "bitfield", DataOrder: "AB",
		BitMask: 0x000C, Weight: 1.0,
		Value: []byte{0x00, 0x0F},
	}
	dv, err := reg.DecodeValue()
	assertNoError(t, err)
	if dv.AsType.(uint16) != 0x000C {
		t.Errorf("Expected masked value 0x000C, got %v", dv.AsType)
	}
}

func TestDecodeBool(t *testing.T) {
	reg := DeviceRegister{
		Tag: "alarm", DataType: "bool", DataOrder: "AB",
		BitPosition: 3, Weight: 1.0,
		Value: []byte{0x00, 0x08},
	}
	dv, err := reg.DecodeValue()
	assertNoError(t, err)
	if dv.AsType.(bool) != true {
		t.Errorf("Expected bit 3 to be set")
	}
	if dv.Float64 != 1.0 {
		t.Errorf("Expected 1.0 for a set bit, got %f", dv.Float64)
	}
}

func TestDecodeString(t *testing.T) {
	reg := DeviceRegister{
		Tag: "name", DataType: "string", Weight: 1.0,
		Value: []byte{'p', 'u', 'm', 'p', 0x00, 0x00},
	}
	dv, err := reg.DecodeValue()
	assertNoError(t, err)
	if dv.AsType.(string) != "pump" {
		t.Errorf("Expected %q, got %q", "pump", dv.AsType)
	}
}

func TestDecodeArray(t *testing.T) {
	reg := DeviceRegister{
		Tag: "series", DataType: "uint16[3]", DataOrder: "AB", Weight: 1.0,
		Value: []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x03},
	}
	dv, err := reg.DecodeValue()
	assertNoError(t, err)
	values := dv.AsType.([]any)
	if len(values) != 3 {
		t.Fatalf("Expected 3 elements, got %d", len(values))
	}
	for i, expected := range []uint16{1, 2, 3} {
		if values[i].(uint16) != expected {
			t.Errorf("Element %d: expected %d, got %v", i, expected, values[i])
		}
	}
	if dv.Float64 != 6 {
		t.Errorf("Expected sum 6, got %f", dv.Float64)
	}
}

func TestDecodeEmptyValueFails(t *testing.T) {
	reg := DeviceRegister{Tag: "empty", DataType: "uint16", DataOrder: "AB"}
	_, err := reg.DecodeValue()
	assertError(t, err)
}

func TestDecodeInsufficientDataFails(t *testing.T) {
	reg := DeviceRegister{
		Tag: "short", DataType: "uint32", DataOrder: "ABCD", Weight: 1.0,
		Value: []byte{0x01, 0x02},
	}
	_, err := reg.DecodeValue()
	assertError(t, err)
}

func TestSetRawValueCopies(t *testing.T) {
	reg := DeviceRegister{}
	src := []byte{1, 2, 3}
	reg.SetRawValue(src)
	src[0] = 9
	assertBytesEqual(t, []byte{1, 2, 3}, reg.Value)
}

func TestCheckBit(t *testing.T) {
	if !CheckBit(0x0008, 3) {
		t.Error("Expected bit 3 of 0x0008 to be set")
	}
	if CheckBit(0x0008, 2) {
		t.Error("Expected bit 2 of 0x0008 to be clear")
	}
	if CheckBit(0xFFFF, 16) {
		t.Error("Expected out-of-range bit index to be false")
	}
}

func TestReorderBytes(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	assertBytesEqual(t, []byte{0x01, 0x02, 0x03, 0x04}, reorderBytes(data, "ABCD"))
	assertBytesEqual(t, []byte{0x04, 0x03, 0x02, 0x01}, reorderBytes(data, "DCBA"))
	assertBytesEqual(t, []byte{0x02, 0x01, 0x04, 0x03}, reorderBytes(data, "BADC"))
	assertBytesEqual(t, []byte{0x03, 0x04, 0x01, 0x02}, reorderBytes(data, "CDAB"))
	// Unknown orders pass data through unchanged.
	assertBytesEqual(t, data, reorderBytes(data, "XYZ"))
}

func TestParseArrayType(t *testing.T) {
	base, count, err := parseArrayType("float32[5]")
	assertNoError(t, err)
	if base != "float32" || count != 5 {
		t.Errorf("Expected (float32, 5), got (%s, %d)", base, count)
	}

	base, count, err = parseArrayType("uint16")
	assertNoError(t, err)
	if base != "uint16" || count != 1 {
		t.Errorf("Expected (uint16, 1), got (%s, %d)", base, count)
	}

	if _, _, err := parseArrayType("uint16[bad]"); err == nil {
		t.Error("Expected an error for a malformed array type")
	}
	if _, _, err := parseArrayType(""); err == nil {
		t.Error("Expected an error for an empty type")
	}
}
