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
	"math/bits"
	"sync"

	"github.com/containers/pagepool/pkg/instrumentation/tracing"
)

// Pool is the per-owner frontend of the page pool. A pool configured
// for coherent DMA owns a full (caching, order) matrix of private
// buckets; other pools share the process-global bucket arrays.
type Pool struct {
	mgr         *manager
	alloc       Allocator
	attr        Attributor
	dev         Device
	useDMAAlloc bool
	useDMA32    bool
	caching     [numCaching][MaxOrder]*Bucket

	mu      sync.Mutex
	sidecar map[*byte]*Run
}

// PoolOption is an opaque option for NewPool.
type PoolOption func(*Pool) error

// WithDevice attaches the device used for DMA mappings and coherent
// DMA allocations.
func WithDevice(dev Device) PoolOption {
	return func(p *Pool) error {
		p.dev = dev
		return nil
	}
}

// WithDMAAlloc routes all allocations of the pool through the
// coherent DMA allocator of its device.
func WithDMAAlloc() PoolOption {
	return func(p *Pool) error {
		p.useDMAAlloc = true
		return nil
	}
}

// WithDMA32 constrains the pool to 32-bit addressable memory.
func WithDMA32() PoolOption {
	return func(p *Pool) error {
		p.useDMA32 = true
		return nil
	}
}

// NewPool creates a pool. The subsystem must be initialized.
func NewPool(options ...PoolOption) (*Pool, error) {
	mgr := currentManager()
	if mgr == nil {
		return nil, ErrNotRunning
	}

	p := &Pool{
		mgr:     mgr,
		alloc:   mgr.alloc,
		attr:    mgr.attr,
		sidecar: make(map[*byte]*Run),
	}

	for _, o := range options {
		if err := o(p); err != nil {
			return nil, err
		}
	}

	if p.useDMAAlloc && p.dev == nil {
		return nil, ErrNoDevice
	}

	if p.useDMAAlloc {
		zone := ZoneNormal
		if p.useDMA32 {
			zone = ZoneDMA32
		}
		for c := 0; c < numCaching; c++ {
			for o := 0; o < MaxOrder; o++ {
				caching := Caching(c)
				p.caching[c][o] = NewBucket(mgr.registry, caching, o, zone,
					func(r *Run) {
						p.freeRun(caching, r)
					})
			}
		}
	}

	return p, nil
}

// Close tears down the pool, draining and unregistering its private
// buckets. Pages still owned by callers must have been freed.
func (p *Pool) Close() {
	if p.useDMAAlloc {
		for c := 0; c < numCaching; c++ {
			for o := 0; o < MaxOrder; o++ {
				p.caching[c][o].Fini()
			}
		}
	}

	p.mu.Lock()
	if len(p.sidecar) != 0 {
		log.Error("pool closed with %d runs still owned by callers", len(p.sidecar))
	}
	p.mu.Unlock()
}

// selectBucket returns the bucket to use for the given caching class
// and order, or nil when such runs are not pooled and must go straight
// to the allocator. Coherent DMA pools pool every caching class in
// their private buckets. Elsewhere cached-class runs are not pooled;
// reprogramming is what makes pooling worthwhile and they need none.
func (p *Pool) selectBucket(caching Caching, order int) *Bucket {
	if p.useDMAAlloc {
		return p.caching[caching][order]
	}

	switch caching {
	case WriteCombined:
		if p.useDMA32 {
			return p.mgr.globalDMA32WC[order]
		}
		return p.mgr.globalWC[order]
	case Uncached:
		if p.useDMA32 {
			return p.mgr.globalDMA32UC[order]
		}
		return p.mgr.globalUC[order]
	}

	return nil
}

// PageVector receives the pages of a populate request, the way a
// translation-table object batches page arrays for a device.
type PageVector struct {
	// Pages receives one entry per base page.
	Pages []Page
	// DMA receives per-page device addresses when non-nil.
	DMA []DMAAddr
	// Caching is the caching class the pages are configured for.
	Caching Caching
	// Zero requests zero-initialized memory for fresh allocations.
	Zero bool

	populated bool
}

// NewPageVector creates a vector for numPages base pages of the given
// caching class.
func NewPageVector(numPages int, caching Caching) *PageVector {
	return &PageVector{
		Pages:   make([]Page, numPages),
		Caching: caching,
	}
}

// WithDMAAddrs requests per-page device addresses.
func (pv *PageVector) WithDMAAddrs() *PageVector {
	pv.DMA = make([]DMAAddr, len(pv.Pages))
	return pv
}

// WithZero requests zero-initialized memory for fresh allocations.
func (pv *PageVector) WithZero() *PageVector {
	pv.Zero = true
	return pv
}

// NumPages returns the size of the vector in base pages.
func (pv *PageVector) NumPages() int {
	return len(pv.Pages)
}

// OpContext carries per-operation allocation behavior.
type OpContext struct {
	// MayFail lets costly allocations fail instead of blocking in
	// reclaim; the caller is prepared to handle the failure.
	MayFail bool
}

// Populate fills the vector with pages, preferring pooled runs of the
// largest fitting order, falling back order by order when the
// allocator cannot deliver, and reprogramming caching attributes in
// batches. On any failure every page handed out so far is taken back,
// so the vector is either fully populated or untouched. Context
// cancellation is honored before each allocator call.
func (p *Pool) Populate(ctx context.Context, pv *PageVector, opc *OpContext) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	_, span := tracing.StartSpan(ctx, "pagepool/populate",
		tracing.WithAttributes(
			tracing.Attribute("pages", len(pv.Pages)),
			tracing.Attribute("caching", pv.Caching),
		))
	defer func() {
		span.End(tracing.WithStatus(err))
	}()

	switch {
	case len(pv.Pages) == 0 || pv.populated:
		return ErrInvalidRequest
	case pv.DMA != nil && p.dev == nil:
		return ErrNoDevice
	}

	var flags AllocFlags
	if pv.Zero {
		flags |= AllocZero
	}
	if opc != nil && opc.MayFail {
		flags |= AllocMayFail
	}

	var (
		remaining = len(pv.Pages)
		idx       = 0
		mark      = 0 // start of the range staged for caching transition
		order     = maxFitOrder(remaining)
	)

	for remaining > 0 {
		if o := maxFitOrder(remaining); order > o {
			order = o
		}

		if ctx.Err() != nil {
			p.rollback(pv, idx)
			return ErrInterrupted
		}

		var (
			r     *Run
			stage bool
		)

		bucket := p.selectBucket(pv.Caching, order)
		if bucket != nil {
			r = bucket.TryRemove()
		}

		if r != nil {
			// A pooled run is already configured for the class; flush
			// the staged range and leave the run out of it.
			r.pooled = true
			stage = true
			p.mgr.stats.hits.Add(1)
		} else {
			p.mgr.stats.misses.Add(1)
			r, err = p.allocRun(order, flags)
			if r == nil {
				if order > 0 {
					order--
					p.mgr.stats.fallbacks.Add(1)
					continue
				}
				if err == nil {
					err = ErrNoMem
				}
				p.rollback(pv, idx)
				return err
			}
			r.pooled = false
			// High memory has no linear mapping to reprogram; leave
			// it out of the staged range as well.
			stage = r.highMem
		}

		if stage {
			if err = p.applyCaching(pv.Pages[mark:idx], pv.Caching); err != nil {
				p.freeRun(pv.Caching, r)
				p.rollback(pv, idx)
				return err
			}
			mark = idx + r.NumPages()
		}

		if pv.DMA != nil {
			if err = p.mapRun(r, pv.DMA[idx:]); err != nil {
				p.freeRun(pv.Caching, r)
				p.rollback(pv, idx)
				return err
			}
		}

		r.caching = pv.Caching
		p.registerRun(r)
		for i := 0; i < r.NumPages(); i++ {
			pv.Pages[idx+i] = r.page(i)
		}
		idx += r.NumPages()
		remaining -= r.NumPages()
	}

	if err = p.applyCaching(pv.Pages[mark:idx], pv.Caching); err != nil {
		p.rollback(pv, idx)
		return err
	}

	pv.populated = true
	return nil
}

// Free returns the pages of a vector, run by run, into the matching
// bucket or to the allocator when the class is not pooled. If the
// pool grew past its cap, runs are synchronously reclaimed until the
// cap holds again.
func (p *Pool) Free(pv *PageVector) {
	for i := 0; i < len(pv.Pages); {
		if pv.Pages[i] == nil {
			i++
			continue
		}

		r := p.unregisterRun(pv.Pages[i])
		if r == nil {
			log.Error("free of unknown or already freed page %d, dropping", i)
			i++
			continue
		}

		n := r.NumPages()
		if pv.DMA != nil {
			p.unmapRun(pv.DMA[i], n)
		}

		if bucket := p.selectBucket(pv.Caching, r.order); bucket != nil {
			bucket.Add(r)
		} else {
			p.freeRun(pv.Caching, r)
		}

		for j := 0; j < n; j++ {
			pv.Pages[i+j] = nil
			if pv.DMA != nil {
				pv.DMA[i+j] = 0
			}
		}
		i += n
	}

	pv.populated = false
	p.mgr.registry.EnforceLimit()
}

// rollback takes back the first upto pages of a partially populated
// vector. Runs taken from a bucket go back to their bucket, so the
// pooled page count is unchanged by a failed populate; fresh runs are
// released to the allocator so that a caller out of memory does not
// grow the pool.
func (p *Pool) rollback(pv *PageVector, upto int) {
	for i := 0; i < upto; {
		r := p.unregisterRun(pv.Pages[i])
		if r == nil {
			log.Error("rollback: no run for page %d", i)
			i++
			continue
		}

		n := r.NumPages()
		if pv.DMA != nil {
			p.unmapRun(pv.DMA[i], n)
		}

		bucket := p.selectBucket(pv.Caching, r.order)
		if r.pooled && bucket != nil {
			bucket.Add(r)
		} else {
			p.freeRun(pv.Caching, r)
		}

		for j := 0; j < n; j++ {
			pv.Pages[i+j] = nil
			if pv.DMA != nil {
				pv.DMA[i+j] = 0
			}
		}
		i += n
	}
}

// registerRun records sidecar metadata for a run handed to a caller,
// so the freeing path can recover run boundaries from bare pages.
func (p *Pool) registerRun(r *Run) {
	p.mu.Lock()
	p.sidecar[r.key()] = r
	p.mu.Unlock()
}

// unregisterRun resolves a page back to its run and drops the sidecar
// entry. Returns nil for pages this pool did not hand out.
func (p *Pool) unregisterRun(pg Page) *Run {
	if len(pg) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.sidecar[&pg[0]]
	if !ok {
		return nil
	}
	delete(p.sidecar, &pg[0])
	return r
}

// maxFitOrder returns the largest order fitting the given page count.
func maxFitOrder(numPages int) int {
	order := bits.Len(uint(numPages)) - 1
	if order > MaxOrder-1 {
		return MaxOrder - 1
	}
	return order
}
