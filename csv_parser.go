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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// isValidByteOrder checks whether the given byte order is supported by
// reorderBytes.
func isValidByteOrder(order string) bool {
	switch order {
	case "A", "AB", "BA", "ABCD", "DCBA", "BADC", "CDAB",
		"ABCDEFGH", "HGFEDCBA", "BADCFEHG", "GHEFCDAB":
		return true
	}
	return false
}

// CSVRegisterParser converts register maps between CSV and DeviceRegister.
type CSVRegisterParser struct {
	headers []string
}

// NewCSVRegisterParser creates a parser with the canonical column set.
func NewCSVRegisterParser() *CSVRegisterParser {
	return &CSVRegisterParser{
		headers: []string{
			"uuid",
			"tag",
			"alias",
			"unitId",
			"function",
			"address",
			"quantity",
			"dataType",
			"dataOrder",
			"bitPosition",
			"bitMask",
			"weight",
			"frequency",
		},
	}
}

// ParseCSV parses a register map. The first row must be a header carrying
// at least uuid, tag, unitId, function, address and dataType.
func (p *CSVRegisterParser) ParseCSV(reader io.Reader) ([]DeviceRegister, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty CSV file")
	}

	headerMap := make(map[string]int)
	for i, h := range records[0] {
		headerMap[strings.TrimSpace(h)] = i
	}
	for _, field := range []string{"uuid", "tag", "unitId", "function", "address", "dataType"} {
		if _, exists := headerMap[field]; !exists {
			return nil, fmt.Errorf("missing required field in CSV header: %s", field)
		}
	}

	var registers []DeviceRegister
	for i, record := range records[1:] {
		register, err := p.parseRecord(record, headerMap, i+2)
		if err != nil {
			return nil, fmt.Errorf("error parsing row %d: %w", i+2, err)
		}
		if err := p.ValidateRegister(register); err != nil {
			return nil, fmt.Errorf("validation error for row %d (tag %s): %w", i+2, register.Tag, err)
		}
		registers = append(registers, register)
	}
	return registers, nil
}

func (p *CSVRegisterParser) parseRecord(record []string, headerMap map[string]int, rowNum int) (DeviceRegister, error) {
	var register DeviceRegister

	getField := func(name string) string {
		if idx, exists := headerMap[name]; exists && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}
	parseUintField := func(name string, bitSize int) (uint64, error) {
		s := getField(name)
		if s == "" {
			return 0, fmt.Errorf("'%s' is required", name)
		}
		val, err := strconv.ParseUint(s, 10, bitSize)
		if err != nil {
			return 0, fmt.Errorf("invalid '%s': %w", name, err)
		}
		return val, nil
	}

	register.UUID = getField("uuid")
	if register.UUID == "" {
		return register, fmt.Errorf("'uuid' is required at row %d", rowNum)
	}
	register.Tag = getField("tag")
	if register.Tag == "" {
		return register, fmt.Errorf("'tag' is required at row %d", rowNum)
	}
	register.Alias = getField("alias")

	unitID, err := parseUintField("unitId", 8)
	if err != nil {
		return register, fmt.Errorf("at row %d: %w", rowNum, err)
	}
	register.UnitID = byte(unitID)

	function, err := parseUintField("function", 8)
	if err != nil {
		return register, fmt.Errorf("at row %d: %w", rowNum, err)
	}
	register.Function = FunctionCode(function)

	address, err := parseUintField("address", 16)
	if err != nil {
		return register, fmt.Errorf("at row %d: %w", rowNum, err)
	}
	register.Address = uint16(address)

	if s := getField("quantity"); s != "" {
		quantity, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return register, fmt.Errorf("invalid 'quantity' at row %d: %w", rowNum, err)
		}
		register.Quantity = uint16(quantity)
	}

	register.DataType = getField("dataType")
	if register.DataType == "" {
		return register, fmt.Errorf("'dataType' is required at row %d", rowNum)
	}
	if register.Quantity == 0 {
		if _, err := register.CalculateQuantity(); err != nil {
			return register, fmt.Errorf("failed to derive quantity for dataType '%s' at row %d: %w",
				register.DataType, rowNum, err)
		}
	}

	register.DataOrder = getField("dataOrder")
	if register.DataOrder == "" {
		register.DataOrder = "ABCD"
	}
	if !isValidByteOrder(register.DataOrder) {
		return register, fmt.Errorf("invalid 'dataOrder' '%s' at row %d", register.DataOrder, rowNum)
	}

	if s := getField("bitPosition"); s != "" {
		bitPosition, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return register, fmt.Errorf("invalid 'bitPosition' at row %d: %w", rowNum, err)
		}
		if bitPosition > 15 {
			return register, fmt.Errorf("'bitPosition' at row %d must be 0-15", rowNum)
		}
		register.BitPosition = uint16(bitPosition)
	}

	if s := getField("bitMask"); s != "" {
		var bitMask uint64
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			bitMask, err = strconv.ParseUint(s, 0, 16)
		} else {
			bitMask, err = strconv.ParseUint(s, 10, 16)
		}
		if err != nil {
			return register, fmt.Errorf("invalid 'bitMask' at row %d: %w", rowNum, err)
		}
		register.BitMask = uint16(bitMask)
	} else {
		register.BitMask = 0x01
	}

	if s := getField("weight"); s != "" {
		weight, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return register, fmt.Errorf("invalid 'weight' at row %d: %w", rowNum, err)
		}
		register.Weight = weight
	} else {
		register.Weight = 1.0
	}

	if s := getField("frequency"); s != "" {
		frequency, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return register, fmt.Errorf("invalid 'frequency' at row %d: %w", rowNum, err)
		}
		register.Frequency = frequency
	} else {
		register.Frequency = 1000
	}

	return register, nil
}

// ToCSV writes registers as CSV with the canonical header.
func (p *CSVRegisterParser) ToCSV(registers []DeviceRegister, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	defer csvWriter.Flush()

	if err := csvWriter.Write(p.headers); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, register := range registers {
		if err := csvWriter.Write(p.registerToRecord(register)); err != nil {
			return fmt.Errorf("failed to write CSV record for register %s: %w", register.Tag, err)
		}
	}
	return nil
}

func (p *CSVRegisterParser) registerToRecord(register DeviceRegister) []string {
	return []string{
		register.UUID,
		register.Tag,
		register.Alias,
		strconv.FormatUint(uint64(register.UnitID), 10),
		strconv.FormatUint(uint64(register.Function), 10),
		strconv.FormatUint(uint64(register.Address), 10),
		strconv.FormatUint(uint64(register.Quantity), 10),
		register.DataType,
		register.DataOrder,
		strconv.FormatUint(uint64(register.BitPosition), 10),
		fmt.Sprintf("0x%04X", register.BitMask),
		strconv.FormatFloat(register.Weight, 'f', -1, 64),
		strconv.FormatUint(register.Frequency, 10),
	}
}

// ValidateRegister checks a register map row for consistency.
func (p *CSVRegisterParser) ValidateRegister(register DeviceRegister) error {
	if register.UUID == "" {
		return fmt.Errorf("'uuid' is required")
	}
	if register.Tag == "" {
		return fmt.Errorf("'tag' is required")
	}
	if register.DataType == "" {
		return fmt.Errorf("'dataType' is required")
	}

	switch register.Function {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
	default:
		return fmt.Errorf("invalid read function code: %d", register.Function)
	}

	baseType, count, err := parseArrayType(register.DataType)
	if err != nil {
		return fmt.Errorf("invalid dataType '%s': %w", register.DataType, err)
	}
	size, err := dataTypeSize(baseType)
	if err != nil {
		return fmt.Errorf("invalid dataType '%s': %w", register.DataType, err)
	}
	if size > 0 {
		if size < 2 {
			size = 2
		}
		expected := uint16(count * size / 2)
		if register.Quantity != expected {
			return fmt.Errorf("quantity %d does not match expected %d for dataType '%s'",
				register.Quantity, expected, register.DataType)
		}
	}

	if !isValidByteOrder(register.DataOrder) {
		return fmt.Errorf("invalid dataOrder: '%s'", register.DataOrder)
	}

	if register.DataType == "bool" || register.DataType == "bitfield" {
		if register.BitPosition > 15 {
			return fmt.Errorf("bitPosition must be 0-15 for %s type", register.DataType)
		}
	} else if register.BitPosition != 0 {
		return fmt.Errorf("bitPosition must be 0 for dataType '%s'", register.DataType)
	}

	return nil
}

// ParseCSVFromString parses a register map held in a string.
func (p *CSVRegisterParser) ParseCSVFromString(csvData string) ([]DeviceRegister, error) {
	return p.ParseCSV(strings.NewReader(csvData))
}

// ToCSVString renders registers as a CSV string.
func (p *CSVRegisterParser) ToCSVString(registers []DeviceRegister) (string, error) {
	var builder strings.Builder
	if err := p.ToCSV(registers, &builder); err != nil {
		return "", err
	}
	return builder.String(), nil
}
