package modbus

import (
	"testing"
)

func TestASCIIFramerBuildFrame(t *testing.T) {
	f := NewASCIIFramer()
	adu := f.BuildFrame([]byte{0x03, 0x00, 0x00, 0x00, 0x0A}, 0, 0x01)
	assertBytesEqual(t, []byte(":01030000000AF2\r\n"), adu)
}

func TestASCIIFramerRoundTrip(t *testing.T) {
	f := NewASCIIFramer()
	pdu := []byte{0x03, 0x02, 0x12, 0x34}
	f.Feed(f.BuildFrame(pdu, 0, 0x11))

	frame, status, err := f.TryExtractFrame()
	assertNoError(t, err)
	if status != FrameReady {
		t.Fatalf("Expected FrameReady, got %v", status)
	}
	if frame.UnitID != 0x11 {
		t.Errorf("Expected unit id 0x11, got 0x%02X", frame.UnitID)
	}
	assertBytesEqual(t, pdu, frame.PDU)
	if f.Buffered() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", f.Buffered())
	}
}

func TestASCIIFramerDropsNoiseBeforeStart(t *testing.T) {
	f := NewASCIIFramer()
	f.Feed([]byte("garbage"))
	f.Feed(f.BuildFrame([]byte{0x03, 0x00, 0x00, 0x00, 0x0A}, 0, 0x01))

	frame, status, err := f.TryExtractFrame()
	assertNoError(t, err)
	if status != FrameReady {
		t.Fatalf("Expected FrameReady, got %v", status)
	}
	if frame.UnitID != 1 {
		t.Errorf("Expected unit id 1, got %d", frame.UnitID)
	}
}

func TestASCIIFramerNoiseWithoutStartIsDiscarded(t *testing.T) {
	f := NewASCIIFramer()
	f.Feed([]byte("no delimiter here\r\n"))

	_, status, err := f.TryExtractFrame()
	assertNoError(t, err)
	if status != NeedMoreData {
		t.Fatalf("Expected NeedMoreData, got %v", status)
	}
	if f.Buffered() != 0 {
		t.Errorf("Expected the noise to be dropped, %d bytes remain", f.Buffered())
	}
}

func TestASCIIFramerPartialFrame(t *testing.T) {
	f := NewASCIIFramer()
	adu := f.BuildFrame([]byte{0x03, 0x00, 0x00, 0x00, 0x0A}, 0, 0x01)

	f.Feed(adu[:5])
	_, status, err := f.TryExtractFrame()
	assertNoError(t, err)
	if status != NeedMoreData {
		t.Fatalf("Expected NeedMoreData, got %v", status)
	}

	f.Feed(adu[5:])
	_, status, err = f.TryExtractFrame()
	assertNoError(t, err)
	if status != FrameReady {
		t.Fatalf("Expected FrameReady, got %v", status)
	}
}

func TestASCIIFramerLRCMismatch(t *testing.T) {
	f := NewASCIIFramer()
	f.Feed([]byte(":01030000000AF3\r\n"))

	_, status, err := f.TryExtractFrame()
	assertError(t, err)
	if status != FrameInvalid {
		t.Fatalf("Expected FrameInvalid, got %v", status)
	}
}

func TestASCIIFramerBadHex(t *testing.T) {
	f := NewASCIIFramer()
	f.Feed([]byte(":01ZZ00\r\n"))

	_, status, err := f.TryExtractFrame()
	assertError(t, err)
	if status != FrameInvalid {
		t.Fatalf("Expected FrameInvalid, got %v", status)
	}
}

func TestASCIIFramerResyncPreservesNextFrame(t *testing.T) {
	f := NewASCIIFramer()
	bad := []byte(":01030000000AF3\r\n")
	good := f.BuildFrame([]byte{0x03, 0x02, 0x12, 0x34}, 0, 0x02)
	f.Feed(append(bad, good...))

	_, status, err := f.TryExtractFrame()
	assertError(t, err)
	if status != FrameInvalid {
		t.Fatalf("Expected FrameInvalid, got %v", status)
	}
	f.Resync()

	frame, status, err := f.TryExtractFrame()
	assertNoError(t, err)
	if status != FrameReady {
		t.Fatalf("Expected FrameReady after Resync, got %v", status)
	}
	if frame.UnitID != 2 {
		t.Errorf("Expected unit id 2, got %d", frame.UnitID)
	}
}

func TestASCIIFramerAcceptsLowercaseHex(t *testing.T) {
	f := NewASCIIFramer()
	f.Feed([]byte(":01030000000af2\r\n"))

	frame, status, err := f.TryExtractFrame()
	assertNoError(t, err)
	if status != FrameReady {
		t.Fatalf("Expected FrameReady, got %v", status)
	}
	assertBytesEqual(t, []byte{0x03, 0x00, 0x00, 0x00, 0x0A}, frame.PDU)
}
