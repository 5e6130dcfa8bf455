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

package pagepool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordAlloc tracks freed runs in order, for verifying reclaim
// preference without a live worker racing the test.
type recordAlloc struct {
	freed []*Run
}

func (a *recordAlloc) AllocRun(order int, flags AllocFlags) (*Run, error) {
	return NewRun(make([]byte, PageSize<<order), order), nil
}

func (a *recordAlloc) FreeRun(r *Run) {
	a.freed = append(a.freed, r)
}

// workerless returns a dynamic pool with no background worker, so
// list contents stay exactly where the test puts them.
func workerless(order int, a Allocator) *DynamicPool {
	return &DynamicPool{
		order: order,
		alloc: a,
		wake:  make(chan struct{}, 1),
	}
}

func TestDynamicShrinkPreference(t *testing.T) {
	var (
		fa = &recordAlloc{}
		p  = workerless(0, fa)

		cleanLow  = NewRun(make([]byte, PageSize), 0)
		cleanHigh = NewRun(make([]byte, PageSize), 0).SetHighMem(true)
		dirtyLow  = NewRun(make([]byte, PageSize), 0)
		dirtyHigh = NewRun(make([]byte, PageSize), 0).SetHighMem(true)
	)

	p.addClean(cleanLow)
	p.addClean(cleanHigh)
	p.addDirty(dirtyLow)
	p.addDirty(dirtyHigh)

	// dirty before clean, low before high
	require.Equal(t, int64(4), p.DoShrink(4, true), "full shrink")
	require.Equal(t, []*Run{dirtyLow, dirtyHigh, cleanLow, cleanHigh}, fa.freed,
		"reclaim preference order")
}

func TestDynamicShrinkSkipsHighMem(t *testing.T) {
	var (
		fa = &recordAlloc{}
		p  = workerless(0, fa)

		cleanHigh = NewRun(make([]byte, PageSize), 0).SetHighMem(true)
		dirtyLow  = NewRun(make([]byte, PageSize), 0)
		dirtyHigh = NewRun(make([]byte, PageSize), 0).SetHighMem(true)
	)

	p.addClean(cleanHigh)
	p.addDirty(dirtyLow)
	p.addDirty(dirtyHigh)

	// without high reclaim only the low-memory dirty run goes
	require.Equal(t, int64(1), p.DoShrink(4, false), "low-only shrink")
	require.Equal(t, []*Run{dirtyLow}, fa.freed, "high-memory runs kept")
	require.Equal(t, 2, p.Total(true), "high-memory pages still pooled")
}

func TestDynamicAllocSalvagesDirtyRuns(t *testing.T) {
	var (
		fa = &recordAlloc{}
		p  = workerless(0, fa)

		dirty = NewRun(make([]byte, PageSize), 0)
	)

	dirty.mem[0] = 0xff
	p.addDirty(dirty)

	// with nothing clean, Alloc drains the deferred list itself
	r, err := p.Alloc(context.Background())
	require.NoError(t, err, "alloc")
	require.Equal(t, dirty, r, "dirty run salvaged")
	require.Equal(t, byte(0), r.mem[0], "salvaged run zeroed")
	require.Equal(t, 0, p.DeferredTotal(), "deferred list drained")
}

func TestDynamicCleanBatching(t *testing.T) {
	var (
		fa = &recordAlloc{}
		p  = workerless(0, fa)
	)

	// more dirty runs than one batch
	n := int(cleanBatch.Load())*2 + 3
	for i := 0; i < n; i++ {
		p.addDirty(NewRun(make([]byte, PageSize), 0))
	}

	p.clean()
	require.Equal(t, 0, p.DeferredTotal(), "all batches drained")
	require.Equal(t, n, p.CleanTotal(), "all runs clean")
}
