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
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf strings.Builder
	logger := NewSimpleLogger(&buf, LevelWarning, "TEST")

	logger.Debugf("debug message")
	logger.Infof("info message")
	logger.Warnf("warning message")
	logger.Errorf("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("Messages below the level were not filtered:\n%s", out)
	}
	if !strings.Contains(out, "warning message") || !strings.Contains(out, "error message") {
		t.Errorf("Messages at or above the level are missing:\n%s", out)
	}
	if !strings.Contains(out, "<TEST>") {
		t.Errorf("Prefix missing from output:\n%s", out)
	}
}

func TestLoggerSetLevel(t *testing.T) {
	var buf strings.Builder
	logger := NewSimpleLogger(&buf, LevelError, "")

	logger.Infof("hidden")
	logger.SetLevel(LevelDebug)
	logger.Debugf("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected the info message to be filtered:\n%s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("Expected the debug message after lowering the level:\n%s", out)
	}
	if logger.Level() != LevelDebug {
		t.Errorf("Expected LevelDebug, got %v", logger.Level())
	}
}

func TestLoggerLevelNoneDiscardsEverything(t *testing.T) {
	var buf strings.Builder
	logger := NewSimpleLogger(&buf, LevelNone, "")

	logger.Errorf("should not appear")
	if buf.Len() != 0 {
		t.Errorf("Expected no output, got:\n%s", buf.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *SimpleLogger
	logger.Debugf("no panic")
	logger.Errorf("no panic")
	logger.SetLevel(LevelDebug)
	if logger.Level() != LevelNone {
		t.Errorf("Expected a nil logger to report LevelNone")
	}
}

func TestParseLogLevel(t *testing.T) {
	for input, expected := range map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		" warn ":  LevelWarning,
		"Warning": LevelWarning,
		"error":   LevelError,
		"none":    LevelNone,
	} {
		level, err := ParseLogLevel(input)
		assertNoError(t, err)
		if level != expected {
			t.Errorf("ParseLogLevel(%q) = %v, expected %v", input, level, expected)
		}
	}

	if _, err := ParseLogLevel("bogus"); err == nil {
		t.Error("Expected an error for an unknown level name")
	}
}

func TestLoggerWriterAdapter(t *testing.T) {
	var buf strings.Builder
	logger := NewSimpleLogger(&buf, LevelInfo, "")

	n, err := logger.Write([]byte("adapted message\n"))
	assertNoError(t, err)
	if n != len("adapted message\n") {
		t.Errorf("Expected the full length to be reported, got %d", n)
	}
	if !strings.Contains(buf.String(), "adapted message") {
		t.Errorf("Expected the message in output:\n%s", buf.String())
	}
}
