// Copyright The PagePool Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pagepool_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	. "github.com/containers/pagepool/pkg/pagepool"
)

// testAllocator is an in-memory Allocator which records every
// allocation attempt and can be told to reject orders above a limit
// or to fail outright after a number of successes.
type testAllocator struct {
	sync.Mutex
	attempts    []int // orders of all AllocRun calls, in order
	allocs      int
	frees       int
	outstanding int
	failAbove   int // reject orders above this, -1 accepts all
	failAfter   int // fail all allocations after this many, 0 is unlimited
	highMem     bool
}

func newTestAllocator() *testAllocator {
	return &testAllocator{failAbove: -1}
}

func (a *testAllocator) AllocRun(order int, flags AllocFlags) (*Run, error) {
	a.Lock()
	defer a.Unlock()

	a.attempts = append(a.attempts, order)

	if a.failAbove >= 0 && order > a.failAbove {
		return nil, ErrNoMem
	}
	if a.failAfter > 0 && a.allocs >= a.failAfter {
		return nil, ErrNoMem
	}

	a.allocs++
	a.outstanding++

	mem := make([]byte, PageSize<<order)
	return NewRun(mem, order).SetHighMem(a.highMem), nil
}

func (a *testAllocator) FreeRun(r *Run) {
	a.Lock()
	defer a.Unlock()

	a.frees++
	a.outstanding--
}

// attemptsAt returns how many allocation attempts were made at the
// given order.
func (a *testAllocator) attemptsAt(order int) int {
	a.Lock()
	defer a.Unlock()

	n := 0
	for _, o := range a.attempts {
		if o == order {
			n++
		}
	}
	return n
}

func (a *testAllocator) allocCount() int {
	a.Lock()
	defer a.Unlock()
	return a.allocs
}

func (a *testAllocator) outstandingCount() int {
	a.Lock()
	defer a.Unlock()
	return a.outstanding
}

// testDevice fakes the coherent DMA path with monotonically assigned
// device addresses.
type testDevice struct {
	sync.Mutex
	nextAddr DMAAddr
	allocs   int
	frees    int
	maps     int
	unmaps   int
	failMap  bool
}

func newTestDevice() *testDevice {
	return &testDevice{nextAddr: 0x1000000}
}

func (d *testDevice) Name() string {
	return "test-device"
}

func (d *testDevice) DMAAlloc(size int, flags AllocFlags, attrs DMAAttrs) ([]byte, DMAAddr, error) {
	d.Lock()
	defer d.Unlock()

	d.allocs++
	addr := d.nextAddr
	d.nextAddr += DMAAddr(size)
	return make([]byte, size), addr, nil
}

func (d *testDevice) DMAFree(mem []byte, dma DMAAddr, attrs DMAAttrs) {
	d.Lock()
	defer d.Unlock()
	d.frees++
}

func (d *testDevice) DMAMap(mem []byte) (DMAAddr, error) {
	d.Lock()
	defer d.Unlock()

	if d.failMap {
		return 0, fmt.Errorf("induced mapping failure")
	}

	d.maps++
	addr := d.nextAddr
	d.nextAddr += DMAAddr(len(mem))
	return addr, nil
}

func (d *testDevice) DMAUnmap(dma DMAAddr, size int) {
	d.Lock()
	defer d.Unlock()
	d.unmaps++
}

func (d *testDevice) allocCount() int {
	d.Lock()
	defer d.Unlock()
	return d.allocs
}

// testAttributor records batched caching transitions.
type testAttributor struct {
	sync.Mutex
	wcPages int
	ucPages int
	wbRuns  int
}

func (a *testAttributor) SetWriteCombined(pages []Page) error {
	a.Lock()
	defer a.Unlock()
	a.wcPages += len(pages)
	return nil
}

func (a *testAttributor) SetUncached(pages []Page) error {
	a.Lock()
	defer a.Unlock()
	a.ucPages += len(pages)
	return nil
}

func (a *testAttributor) SetWriteBack(r *Run) {
	a.Lock()
	defer a.Unlock()
	a.wbRuns++
}

// setup initializes the subsystem with the given options and tears it
// down when the test finishes.
func setup(t *testing.T, options ...Option) {
	require.NoError(t, Init(options...), "subsystem init")
	t.Cleanup(Fini)
}

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), msg)
}
