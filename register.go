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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DeviceRegister describes one polled point in a register map: where it
// lives on the bus and how its raw words become a value.
type DeviceRegister struct {
	UUID        string       `json:"uuid"`        // Unique identifier
	Tag         string       `json:"tag"`         // Unique label for the point
	Alias       string       `json:"alias"`       // Human-readable name
	UnitID      byte         `json:"unitId"`      // Device address on the bus
	Function    FunctionCode `json:"function"`    // Read function (1, 2, 3 or 4)
	Address     uint16       `json:"address"`     // Start address
	Quantity    uint16       `json:"quantity"`    // Coils or registers to read
	DataType    string       `json:"dataType"`    // uint16, int32, float32, uint16[4]...
	DataOrder   string       `json:"dataOrder"`   // Byte order (AB, BA, ABCD, DCBA...)
	BitPosition uint16       `json:"bitPosition"` // Bit index for bool points
	BitMask     uint16       `json:"bitMask"`     // Mask for bitfield points
	Weight      float64      `json:"weight"`      // Scaling factor
	Frequency   uint64       `json:"frequency"`   // Poll interval in milliseconds
	Value       []byte       `json:"value"`       // Raw value, big-endian words
	Status      string       `json:"status"`      // "VALID:OK" or "INVALID:<reason>"
}

// DecodedValue holds the interpretations of a raw register value.
type DecodedValue struct {
	Raw     []byte  `json:"raw"`
	Float64 float64 `json:"float64"` // Scaled numeric value
	Type    string  `json:"type"`
	AsType  any     `json:"asType"` // Value as its declared type
}

// GetFloat64Value returns the scaled value, rounded to the given number of
// decimal places when round > 0.
func (dv DecodedValue) GetFloat64Value(round int) float64 {
	if round > 0 {
		shift := math.Pow(10, float64(round))
		return math.Round(dv.Float64*shift) / shift
	}
	return dv.Float64
}

func (dv DecodedValue) String() string {
	return fmt.Sprintf("Raw: % X, Float64: %f, AsType: %v", dv.Raw, dv.Float64, dv.AsType)
}

// CalculateQuantity derives Quantity from DataType for registers that leave
// it unset. Each register holds 2 bytes.
func (r *DeviceRegister) CalculateQuantity() (uint16, error) {
	baseType, count, err := parseArrayType(r.DataType)
	if err != nil {
		return 0, err
	}
	size, err := dataTypeSize(baseType)
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, fmt.Errorf("cannot derive quantity for variable-length type %s", baseType)
	}
	if size < 2 {
		size = 2
	}
	r.Quantity = uint16(count * size / 2)
	return r.Quantity, nil
}

// DecodeValue interprets the raw value according to DataType, DataOrder and
// Weight.
func (r DeviceRegister) DecodeValue() (DecodedValue, error) {
	result := DecodedValue{Raw: r.Value, Type: r.DataType}

	if len(r.Value) == 0 {
		return result, fmt.Errorf("empty value for register %s", r.Tag)
	}

	baseType, count, err := parseArrayType(r.DataType)
	if err != nil {
		return result, fmt.Errorf("invalid data type %s for register %s: %w", r.DataType, r.Tag, err)
	}
	size, err := dataTypeSize(baseType)
	if err != nil {
		return result, fmt.Errorf("register %s: %w", r.Tag, err)
	}

	if count == 0 {
		if size == 0 {
			return result, fmt.Errorf("cannot infer length for variable-length type %s", baseType)
		}
		count = int(r.Quantity) * 2 / size
		if count <= 0 {
			return result, fmt.Errorf("quantity %d too small for %s", r.Quantity, baseType)
		}
	}

	if baseType != "string" && len(r.Value) < size*count {
		return result, fmt.Errorf("insufficient data for %s[%d]: have %d bytes, need %d",
			baseType, count, len(r.Value), size*count)
	}

	if count > 1 {
		return r.decodeArray(result, baseType, count, size)
	}
	return r.decodeScalar(result, baseType)
}

func (r DeviceRegister) decodeArray(result DecodedValue, baseType string, count, size int) (DecodedValue, error) {
	values := make([]any, 0, count)
	var sum float64
	for i := 0; i < count; i++ {
		chunk := r.Value[i*size : (i+1)*size]
		if len(chunk) > 1 {
			chunk = reorderBytes(chunk, r.DataOrder)
		}
		val, err := decodeElement(chunk, baseType)
		if err != nil {
			return result, fmt.Errorf("element %d of %s[%d]: %w", i, baseType, count, err)
		}
		values = append(values, val)
		sum += toFloat64(val)
	}
	result.AsType = values
	result.Float64 = sum * r.Weight
	return result, nil
}

func (r DeviceRegister) decodeScalar(result DecodedValue, baseType string) (DecodedValue, error) {
	data := r.Value
	if len(data) > 1 {
		data = reorderBytes(data, r.DataOrder)
	}

	switch baseType {
	case "bitfield":
		if len(data) < 2 {
			return result, fmt.Errorf("insufficient bytes for bitfield: have %d", len(data))
		}
		val := binary.BigEndian.Uint16(data[:2]) & r.BitMask
		result.AsType = val
		result.Float64 = float64(val) * r.Weight
		return result, nil

	case "bool":
		if len(data) < 2 {
			return result, fmt.Errorf("insufficient bytes for bool: have %d", len(data))
		}
		b := CheckBit(binary.BigEndian.Uint16(data[:2]), r.BitPosition)
		result.AsType = b
		if b {
			result.Float64 = 1.0
		}
		return result, nil

	case "string":
		s := string(data)
		if i := strings.IndexByte(s, 0); i != -1 {
			s = s[:i]
		}
		result.AsType = strings.TrimSpace(s)
		return result, nil
	}

	val, err := decodeElement(data, baseType)
	if err != nil {
		return result, err
	}
	result.AsType = val
	result.Float64 = toFloat64(val) * r.Weight
	return result, nil
}

// decodeElement decodes one fixed-size numeric element. data is already in
// big-endian order after any reordering.
func decodeElement(data []byte, baseType string) (any, error) {
	need, err := dataTypeSize(baseType)
	if err != nil {
		return nil, err
	}
	if len(data) < need {
		return nil, fmt.Errorf("insufficient bytes for %s: need %d, have %d", baseType, need, len(data))
	}

	switch baseType {
	case "byte", "uint8":
		return data[0], nil
	case "int8":
		return int8(data[0]), nil
	case "uint16":
		return binary.BigEndian.Uint16(data), nil
	case "int16":
		return int16(binary.BigEndian.Uint16(data)), nil
	case "uint32":
		return binary.BigEndian.Uint32(data), nil
	case "int32":
		return int32(binary.BigEndian.Uint32(data)), nil
	case "uint64":
		return binary.BigEndian.Uint64(data), nil
	case "int64":
		return int64(binary.BigEndian.Uint64(data)), nil
	case "float32":
		return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
	case "float64":
		return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
	default:
		return nil, fmt.Errorf("unsupported element type: %s", baseType)
	}
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case uint8:
		return float64(v)
	case int8:
		return float64(v)
	case uint16:
		return float64(v)
	case int16:
		return float64(v)
	case uint32:
		return float64(v)
	case int32:
		return float64(v)
	case uint64:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

// dataTypeSize returns the byte size of one element, or 0 for
// variable-length types.
func dataTypeSize(dataType string) (int, error) {
	switch dataType {
	case "byte", "uint8", "int8":
		return 1, nil
	case "bool", "bitfield", "uint16", "int16":
		return 2, nil
	case "uint32", "int32", "float32":
		return 4, nil
	case "uint64", "int64", "float64":
		return 8, nil
	case "string":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown data type: %s", dataType)
	}
}

var arrayTypePattern = regexp.MustCompile(`^(\w+)\[(\d+)\]$`)

// parseArrayType splits "float32[5]" into ("float32", 5). A bare type
// yields count 1; "type[0]" yields count 0 meaning "infer from quantity".
func parseArrayType(dataType string) (string, int, error) {
	dataType = strings.TrimSpace(dataType)
	if dataType == "" {
		return "", 0, fmt.Errorf("empty data type")
	}
	if !strings.Contains(dataType, "[") {
		return dataType, 1, nil
	}
	matches := arrayTypePattern.FindStringSubmatch(dataType)
	if len(matches) != 3 {
		return "", 0, fmt.Errorf("invalid array type format: %s (expected type[count])", dataType)
	}
	count, err := strconv.Atoi(matches[2])
	if err != nil {
		return "", 0, fmt.Errorf("invalid array length in type %s: %w", dataType, err)
	}
	return matches[1], count, nil
}

// SetRawValue stores data as the register's raw value.
func (r *DeviceRegister) SetRawValue(data []byte) {
	if cap(r.Value) < len(data) {
		r.Value = make([]byte, len(data))
	} else {
		r.Value = r.Value[:len(data)]
	}
	copy(r.Value, data)
}

func (r DeviceRegister) String() string {
	jsonData, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return string(jsonData)
}

// CheckBit reports whether bit index of num is set.
func CheckBit(num uint16, index uint16) bool {
	if index > 15 {
		return false
	}
	return num&(1<<index) != 0
}

// reorderBytes rearranges data per the register's declared byte order.
// Unknown orders return the data unchanged.
func reorderBytes(data []byte, order string) []byte {
	n := len(data)
	switch order {
	case "A":
		if n >= 1 {
			return data[:1]
		}
	case "AB":
		if n >= 2 {
			return data[:2]
		}
	case "BA":
		if n >= 2 {
			return []byte{data[1], data[0]}
		}
	case "ABCD":
		if n >= 4 {
			return data[:4]
		}
	case "DCBA":
		if n >= 4 {
			return []byte{data[3], data[2], data[1], data[0]}
		}
	case "BADC":
		if n >= 4 {
			return []byte{data[1], data[0], data[3], data[2]}
		}
	case "CDAB":
		if n >= 4 {
			return []byte{data[2], data[3], data[0], data[1]}
		}
	case "ABCDEFGH":
		if n >= 8 {
			return data[:8]
		}
	case "HGFEDCBA":
		if n >= 8 {
			return []byte{data[7], data[6], data[5], data[4], data[3], data[2], data[1], data[0]}
		}
	case "BADCFEHG":
		if n >= 8 {
			return []byte{data[1], data[0], data[3], data[2], data[5], data[4], data[7], data[6]}
		}
	case "GHEFCDAB":
		if n >= 8 {
			return []byte{data[6], data[7], data[4], data[5], data[2], data[3], data[0], data[1]}
		}
	}
	return data
}
