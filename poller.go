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
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// OnDataFunc receives freshly-read register data.
type OnDataFunc func([]DeviceRegister)

// OnErrorFunc receives read errors.
type OnErrorFunc func(error)

// RegisterScheduler groups a register map and reads it through one client.
// Pipelining clients read groups concurrently; serial clients read them in
// order.
type RegisterScheduler struct {
	client *Client
	mu     sync.Mutex
	groups [][]DeviceRegister
}

// NewRegisterScheduler creates a scheduler for the given client.
func NewRegisterScheduler(client *Client) *RegisterScheduler {
	return &RegisterScheduler{client: client}
}

// Load validates tag uniqueness and groups the registers for batched
// reads.
func (rs *RegisterScheduler) Load(registers []DeviceRegister) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	seen := make(map[string]bool)
	for _, r := range registers {
		if seen[r.Tag] {
			return fmt.Errorf("duplicate tag: %s", r.Tag)
		}
		seen[r.Tag] = true
	}
	rs.groups = GroupRegisters(registers)
	return nil
}

// ReadGrouped reads every group once.
func (rs *RegisterScheduler) ReadGrouped(ctx context.Context) ([][]DeviceRegister, []error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.client.SupportsPipelining() {
		return ReadGroupsConcurrently(ctx, rs.client, rs.groups)
	}
	return ReadGroupsSequential(ctx, rs.client, rs.groups)
}

// RegisterStream decouples readers from consumers: reads are pushed into a
// buffered channel and dispatched to the registered callback.
type RegisterStream struct {
	dataCh  chan []DeviceRegister
	stopCh  chan struct{}
	onData  atomic.Value
	onError atomic.Value
}

// NewRegisterStream creates a stream with the given channel buffer size.
func NewRegisterStream(bufferSize int) *RegisterStream {
	return &RegisterStream{
		dataCh: make(chan []DeviceRegister, bufferSize),
		stopCh: make(chan struct{}),
	}
}

// SetOnData sets the callback for data events.
func (rs *RegisterStream) SetOnData(fn OnDataFunc) { rs.onData.Store(fn) }

// SetOnError sets the callback for error events.
func (rs *RegisterStream) SetOnError(fn OnErrorFunc) { rs.onError.Store(fn) }

// Start launches the dispatch goroutine.
func (rs *RegisterStream) Start() {
	go func() {
		for {
			select {
			case <-rs.stopCh:
				return
			case data, ok := <-rs.dataCh:
				if !ok {
					return
				}
				if cb := rs.onData.Load(); cb != nil {
					cb.(OnDataFunc)(data)
				}
			}
		}
	}()
}

// Push queues register data for dispatch, unless stopped.
func (rs *RegisterStream) Push(data []DeviceRegister) {
	select {
	case rs.dataCh <- data:
	case <-rs.stopCh:
	}
}

// reportError forwards err to the error callback, if one is set.
func (rs *RegisterStream) reportError(err error) {
	if cb := rs.onError.Load(); cb != nil {
		cb.(OnErrorFunc)(err)
	}
}

// Stop ends dispatching.
func (rs *RegisterStream) Stop() { close(rs.stopCh) }

// RegisterManager couples one scheduler with one stream.
type RegisterManager struct {
	Scheduler *RegisterScheduler
	Stream    *RegisterStream
}

// NewRegisterManager creates a manager for one client.
func NewRegisterManager(client *Client, bufferSize int) *RegisterManager {
	return &RegisterManager{
		Scheduler: NewRegisterScheduler(client),
		Stream:    NewRegisterStream(bufferSize),
	}
}

// LoadRegisters loads and groups a register map.
func (m *RegisterManager) LoadRegisters(registers []DeviceRegister) error {
	return m.Scheduler.Load(registers)
}

// ReadAndStream reads every group and pushes the results downstream.
func (m *RegisterManager) ReadAndStream(ctx context.Context) []error {
	groups, errs := m.Scheduler.ReadGrouped(ctx)
	for _, group := range groups {
		m.Stream.Push(group)
	}
	for _, err := range errs {
		m.Stream.reportError(err)
	}
	return errs
}

// SetOnData sets the data callback.
func (m *RegisterManager) SetOnData(fn OnDataFunc) { m.Stream.SetOnData(fn) }

// SetOnError sets the error callback.
func (m *RegisterManager) SetOnError(fn OnErrorFunc) { m.Stream.SetOnError(fn) }

// Start launches the stream.
func (m *RegisterManager) Start() { m.Stream.Start() }

// Stop stops the stream.
func (m *RegisterManager) Stop() { m.Stream.Stop() }

// DevicePoller drives one or more register managers on a fixed interval.
type DevicePoller struct {
	managers []*RegisterManager
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDevicePoller creates a poller with the given interval.
func NewDevicePoller(interval time.Duration) *DevicePoller {
	return &DevicePoller{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// AddManager registers a manager with the poller.
func (dp *DevicePoller) AddManager(mgr *RegisterManager) {
	dp.managers = append(dp.managers, mgr)
}

// Start begins polling until Stop.
func (dp *DevicePoller) Start() {
	for _, mgr := range dp.managers {
		mgr.Start()
	}
	dp.wg.Add(1)
	go dp.poll()
}

func (dp *DevicePoller) poll() {
	defer dp.wg.Done()
	ticker := time.NewTicker(dp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-dp.stopCh:
			return
		case <-ticker.C:
			dp.pollManagers()
		}
	}
}

func (dp *DevicePoller) pollManagers() {
	ctx, cancel := context.WithTimeout(context.Background(), dp.interval)
	defer cancel()

	var wg sync.WaitGroup
	for _, mgr := range dp.managers {
		wg.Add(1)
		go func(m *RegisterManager) {
			defer wg.Done()
			m.ReadAndStream(ctx)
		}(mgr)
	}
	wg.Wait()
}

// Stop halts polling and the managed streams.
func (dp *DevicePoller) Stop() {
	close(dp.stopCh)
	dp.wg.Wait()
	for _, mgr := range dp.managers {
		mgr.Stop()
	}
}
