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
	"sync"
	"testing"
	"time"
)

func TestSchedulerRejectsDuplicateTags(t *testing.T) {
	rs := NewRegisterScheduler(nil)
	err := rs.Load([]DeviceRegister{
		holdingReg("temp", 1, 0, "uint16"),
		holdingReg("temp", 1, 1, "uint16"),
	})
	assertError(t, err)
}

func TestSchedulerReadGrouped(t *testing.T) {
	device := NewMemoryDevice()
	device.SetHoldingRegister(0, 11)
	device.SetHoldingRegister(1, 22)
	client, _ := loopbackTCP(t, device)

	rs := NewRegisterScheduler(client)
	assertNoError(t, rs.Load([]DeviceRegister{
		holdingReg("a", 1, 0, "uint16"),
		holdingReg("b", 1, 1, "uint16"),
	}))

	groups, errs := rs.ReadGrouped(context.Background())
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(groups) != 1 || len(groups[0]) != 2 {
		t.Fatalf("Expected one group of two registers")
	}
	dv, err := groups[0][1].DecodeValue()
	assertNoError(t, err)
	if dv.AsType.(uint16) != 22 {
		t.Errorf("Expected 22, got %v", dv.AsType)
	}
}

func TestStreamDeliversToCallback(t *testing.T) {
	stream := NewRegisterStream(4)
	received := make(chan string, 4)
	stream.SetOnData(func(regs []DeviceRegister) {
		received <- regs[0].Tag
	})
	stream.Start()
	defer stream.Stop()

	stream.Push([]DeviceRegister{{Tag: "first"}})
	stream.Push([]DeviceRegister{{Tag: "second"}})

	for _, expected := range []string{"first", "second"} {
		select {
		case tag := <-received:
			if tag != expected {
				t.Errorf("Expected %q, got %q", expected, tag)
			}
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for callback")
		}
	}
}

func TestStreamPushAfterStopDoesNotBlock(t *testing.T) {
	stream := NewRegisterStream(0)
	stream.Start()
	stream.Stop()

	done := make(chan struct{})
	go func() {
		stream.Push([]DeviceRegister{{Tag: "late"}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked after Stop")
	}
}

func TestManagerReadAndStream(t *testing.T) {
	device := NewMemoryDevice()
	device.SetHoldingRegister(3, 42)
	client, _ := loopbackTCP(t, device)

	mgr := NewRegisterManager(client, 4)
	assertNoError(t, mgr.LoadRegisters([]DeviceRegister{
		holdingReg("answer", 1, 3, "uint16"),
	}))

	received := make(chan DeviceRegister, 1)
	mgr.SetOnData(func(regs []DeviceRegister) {
		received <- regs[0]
	})
	mgr.Start()
	defer mgr.Stop()

	errs := mgr.ReadAndStream(context.Background())
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}

	select {
	case reg := <-received:
		if reg.Status != "VALID:OK" {
			t.Fatalf("Expected VALID:OK, got %q", reg.Status)
		}
		dv, err := reg.DecodeValue()
		assertNoError(t, err)
		if dv.AsType.(uint16) != 42 {
			t.Errorf("Expected 42, got %v", dv.AsType)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for streamed data")
	}
}

func TestManagerReportsReadErrors(t *testing.T) {
	device := NewMemoryDevice()
	client, _ := loopbackTCP(t, device)

	mgr := NewRegisterManager(client, 4)
	reg := holdingReg("edge", 1, 0xFFFF, "uint32")
	reg.Quantity = 2
	assertNoError(t, mgr.LoadRegisters([]DeviceRegister{reg}))

	gotErr := make(chan error, 1)
	mgr.SetOnError(func(err error) { gotErr <- err })
	mgr.Start()
	defer mgr.Stop()

	errs := mgr.ReadAndStream(context.Background())
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(errs))
	}
	select {
	case <-gotErr:
	case <-time.After(time.Second):
		t.Fatal("Error callback never fired")
	}
}

func TestDevicePollerDeliversPeriodically(t *testing.T) {
	device := NewMemoryDevice()
	device.SetHoldingRegister(0, 7)
	client, _ := loopbackTCP(t, device)

	mgr := NewRegisterManager(client, 8)
	assertNoError(t, mgr.LoadRegisters([]DeviceRegister{
		holdingReg("tick", 1, 0, "uint16"),
	}))

	var mu sync.Mutex
	count := 0
	mgr.SetOnData(func([]DeviceRegister) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	poller := NewDevicePoller(20 * time.Millisecond)
	poller.AddManager(mgr)
	poller.Start()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := count
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Poller never delivered two reads")
		case <-time.After(10 * time.Millisecond):
		}
	}
	poller.Stop()
}
