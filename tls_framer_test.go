package modbus

import (
	"testing"
)

func TestTLSFramerPassesPDUThrough(t *testing.T) {
	f := NewTLSFramer(0xFF)
	pdu := []byte{0x03, 0x00, 0x00, 0x00, 0x01}
	assertBytesEqual(t, pdu, f.BuildFrame(pdu, 42, 1))

	f.Feed([]byte{0x03, 0x02, 0x12, 0x34})
	frame, status, err := f.TryExtractFrame()
	assertNoError(t, err)
	if status != FrameReady {
		t.Fatalf("Expected FrameReady, got %v", status)
	}
	if frame.UnitID != 0xFF {
		t.Errorf("Expected configured unit id 0xFF, got 0x%02X", frame.UnitID)
	}
	if frame.HasTransactionID {
		t.Error("TLS frames must not carry a transaction id")
	}
	assertBytesEqual(t, []byte{0x03, 0x02, 0x12, 0x34}, frame.PDU)
}

func TestTLSFramerEmptyBufferNeedsMoreData(t *testing.T) {
	f := NewTLSFramer(1)
	_, status, err := f.TryExtractFrame()
	assertNoError(t, err)
	if status != NeedMoreData {
		t.Fatalf("Expected NeedMoreData, got %v", status)
	}
}

func TestTLSFramerRejectsOversizedPDU(t *testing.T) {
	f := NewTLSFramer(1)
	f.Feed(make([]byte, MaxPDULength+1))

	_, status, err := f.TryExtractFrame()
	assertError(t, err)
	if status != FrameInvalid {
		t.Fatalf("Expected FrameInvalid, got %v", status)
	}
	f.Resync()
	if f.Buffered() != 0 {
		t.Errorf("Expected Resync to clear the buffer, %d bytes remain", f.Buffered())
	}
}
