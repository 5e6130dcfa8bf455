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
	"sync"

	"github.com/containers/pagepool/pkg/shrink"
)

// dynShrinkerName is the reclaim participant shared by all dynamic pools.
const dynShrinkerName = "pagepool-dynamic"

// Sub-list indexes of a dynamic pool. Runs returned by callers are
// parked dirty and become clean once the worker has zeroed them; low
// and high memory are kept apart because reclaim preference differs.
const (
	lowClean = iota
	highClean
	lowDirty
	highDirty
	numLists
)

// DynamicPool is a single-order pool for anonymous memory. Unlike the
// bucket pools, runs freed into it are not immediately reusable: they
// are zeroed off the fast path by a per-pool background worker before
// they reappear on the clean lists.
type DynamicPool struct {
	order int
	flags AllocFlags
	alloc Allocator

	mu    sync.Mutex
	items [numLists]runList
	count [numLists]int

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

var (
	dynLock  sync.Mutex
	dynPools []*DynamicPool
)

// dynShrinker reclaims from all live dynamic pools.
type dynShrinker struct{}

// DynamicPoolOption is an opaque option for NewDynamicPool.
type DynamicPoolOption func(*DynamicPool) error

// WithDynamicAllocator overrides the allocator backing the pool.
func WithDynamicAllocator(a Allocator) DynamicPoolOption {
	return func(p *DynamicPool) error {
		if a == nil {
			return ErrFailedOption
		}
		p.alloc = a
		return nil
	}
}

// WithAllocFlags sets the allocation flags used for fresh runs.
func WithAllocFlags(flags AllocFlags) DynamicPoolOption {
	return func(p *DynamicPool) error {
		p.flags = flags
		return nil
	}
}

// NewDynamicPool creates a dynamic pool of the given order and starts
// its deferred-clean worker. Worker startup and reclaim registration
// are part of construction; any failure tears the pool down completely
// before the error is returned.
func NewDynamicPool(order int, options ...DynamicPoolOption) (*DynamicPool, error) {
	if order < 0 || order >= MaxOrder {
		return nil, ErrInvalidOrder
	}

	p := &DynamicPool{
		order:  order,
		flags:  AllocZero | AllocHighMem,
		alloc:  NewSystemAllocator(),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	for _, o := range options {
		if err := o(p); err != nil {
			return nil, err
		}
	}

	go p.worker()

	dynLock.Lock()
	if len(dynPools) == 0 {
		if err := shrink.Register(dynShrinkerName, dynShrinker{}, shrink.WithSeeks(shrink.DefaultSeeks)); err != nil {
			dynLock.Unlock()
			close(p.stopCh)
			<-p.doneCh
			return nil, err
		}
	}
	dynPools = append(dynPools, p)
	dynLock.Unlock()

	return p, nil
}

// Order returns the run order of the pool.
func (p *DynamicPool) Order() int {
	return p.order
}

// Alloc returns a run from the pool: a clean pooled run if one is
// available, else a run salvaged by synchronously draining the dirty
// list, else a fresh allocation. A pending cancellation stops the
// fallback to the allocator.
func (p *DynamicPool) Alloc(ctx context.Context) (*Run, error) {
	r := p.fetch()

	if r == nil {
		// Try pulling from the deferred list.
		p.clean()
		r = p.fetch()
	}

	if r != nil {
		return r, nil
	}

	if ctx != nil && ctx.Err() != nil {
		return nil, ErrInterrupted
	}

	return p.alloc.AllocRun(p.order, p.flags)
}

// Free parks a run on the dirty list and wakes the worker. A run of
// the wrong order is a programming error; it is reported and dropped
// back to the allocator.
func (p *DynamicPool) Free(r *Run) {
	if r.order != p.order {
		log.Error("rejecting run of order %d freed into dynamic pool of order %d",
			r.order, p.order)
		p.alloc.FreeRun(r)
		return
	}

	p.addDirty(r)

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Total returns the number of pooled base pages. High-memory pages
// are counted only when high is set.
func (p *DynamicPool) Total(high bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := p.count[lowClean] + p.count[lowDirty]
	if high {
		count += p.count[highClean]
		count += p.count[highDirty]
	}
	return count << p.order
}

// DeferredTotal returns the number of base pages still awaiting
// zeroing.
func (p *DynamicPool) DeferredTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return (p.count[lowDirty] + p.count[highDirty]) << p.order
}

// CleanTotal returns the number of base pages ready for reuse.
func (p *DynamicPool) CleanTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return (p.count[lowClean] + p.count[highClean]) << p.order
}

// DoShrink frees up to nrToScan base pages from the pool, preferring
// dirty runs, which are discardable without the zeroing work, and
// low-memory over high-memory unless high reclaim is allowed.
func (p *DynamicPool) DoShrink(nrToScan int64, allowHigh bool) int64 {
	var freed int64

	for freed < nrToScan {
		p.mu.Lock()
		var r *Run
		switch {
		case p.count[lowDirty] > 0:
			r = p.pop(lowDirty)
		case allowHigh && p.count[highDirty] > 0:
			r = p.pop(highDirty)
		case p.count[lowClean] > 0:
			r = p.pop(lowClean)
		case allowHigh && p.count[highClean] > 0:
			r = p.pop(highClean)
		}
		p.mu.Unlock()

		if r == nil {
			break
		}

		p.alloc.FreeRun(r)
		freed += int64(1) << p.order
	}

	return freed
}

// Close stops the worker, unlinks the pool and releases every run it
// still holds.
func (p *DynamicPool) Close() {
	dynLock.Lock()
	for i, dp := range dynPools {
		if dp == p {
			dynPools = append(dynPools[:i], dynPools[i+1:]...)
			break
		}
	}
	if len(dynPools) == 0 {
		shrink.Unregister(dynShrinkerName)
	}
	dynLock.Unlock()

	close(p.stopCh)
	<-p.doneCh

	p.mu.Lock()
	var drained []*Run
	for i := 0; i < numLists; i++ {
		for p.count[i] > 0 {
			drained = append(drained, p.pop(i))
		}
	}
	p.mu.Unlock()

	for _, r := range drained {
		p.alloc.FreeRun(r)
	}
}

// fetch removes a clean run, preferring high memory so low memory
// stays available for callers that need it.
func (p *DynamicPool) fetch() *Run {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count[highClean] > 0 {
		return p.pop(highClean)
	}
	if p.count[lowClean] > 0 {
		return p.pop(lowClean)
	}
	return nil
}

// pop removes a run from the indexed list. Called with the pool lock
// held.
func (p *DynamicPool) pop(idx int) *Run {
	r := p.items[idx].pop()
	if r == nil {
		log.Error("dynamic pool list %d empty with count %d", idx, p.count[idx])
		return nil
	}
	p.count[idx]--
	return r
}

// push appends a run to the indexed list. Called with the pool lock
// held.
func (p *DynamicPool) push(idx int, r *Run) {
	p.items[idx].append(r)
	p.count[idx]++
}

func (p *DynamicPool) addDirty(r *Run) {
	idx := lowDirty
	if r.highMem {
		idx = highDirty
	}

	p.mu.Lock()
	p.push(idx, r)
	p.mu.Unlock()
}

func (p *DynamicPool) addClean(r *Run) {
	idx := lowClean
	if r.highMem {
		idx = highClean
	}

	p.mu.Lock()
	p.push(idx, r)
	p.mu.Unlock()
}

// clean drains the dirty lists in a bounded number of batched passes,
// zeroing runs and moving them to the clean side.
func (p *DynamicPool) clean() {
	passes := int(cleanPasses.Load())

	p.mu.Lock()
	for ; passes > 0; passes-- {
		if p.count[highDirty] > 0 {
			p.cleanPages(highDirty)
		} else if p.count[lowDirty] > 0 {
			p.cleanPages(lowDirty)
		} else {
			break
		}
	}
	p.mu.Unlock()
}

// cleanPages zeroes one batch of at most cleanBatch runs from a dirty
// list. Called with the pool lock held; zeroAndAdd drops it across the
// actual zeroing.
func (p *DynamicPool) cleanPages(idx int) {
	batch := make([]*Run, 0, int(cleanBatch.Load()))

	for p.count[idx] > 0 && len(batch) < cap(batch) {
		batch = append(batch, p.pop(idx))
	}
	if len(batch) > 0 {
		p.zeroAndAdd(batch)
	}
}

// zeroAndAdd zeroes a batch of runs and moves them to the clean
// lists. The pool lock is released across the zeroing; holding it
// would deadlock against a reclaim pass freeing dirty runs while we
// zero.
func (p *DynamicPool) zeroAndAdd(runs []*Run) {
	p.mu.Unlock()

	for _, r := range runs {
		clear(r.mem)
		p.addClean(r)
	}

	p.mu.Lock()
}

// worker is the deferred-clean task of the pool.
func (p *DynamicPool) worker() {
	defer close(p.doneCh)

	for {
		select {
		case <-p.stopCh:
			return
		case <-p.wake:
		}

		p.clean()

		// Passes are bounded; rearm if there is more to do.
		if p.DeferredTotal() > 0 {
			select {
			case p.wake <- struct{}{}:
			default:
			}
		}
	}
}

// Count sums the reclaimable pages over all dynamic pools.
func (dynShrinker) Count() int64 {
	dynLock.Lock()
	pools := append([]*DynamicPool{}, dynPools...)
	dynLock.Unlock()

	var total int64
	for _, p := range pools {
		total += int64(p.Total(true))
	}
	if total == 0 {
		return shrink.Empty
	}
	return total
}

// Scan walks the dynamic pools freeing pages until the request is
// satisfied.
func (dynShrinker) Scan(sc *shrink.ScanControl) int64 {
	if sc.NrToScan <= 0 {
		return 0
	}

	dynLock.Lock()
	pools := append([]*DynamicPool{}, dynPools...)
	dynLock.Unlock()

	var freed int64
	for _, p := range pools {
		freed += p.DoShrink(sc.NrToScan-freed, sc.AllowHigh)
		if freed >= sc.NrToScan {
			break
		}
	}
	return freed
}
