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
	"github.com/pkg/errors"

	"github.com/containers/pagepool/pkg/mempages"
)

// Allocator acquires and releases runs from the underlying system.
// AllocRun returns nil with ErrNoMem when the system cannot satisfy
// the request; FreeRun is infallible.
type Allocator interface {
	AllocRun(order int, flags AllocFlags) (*Run, error)
	FreeRun(r *Run)
}

// Device is the coherent DMA path of a pool. DMAAlloc returns a
// CPU-visible mapping and a device address for the same region;
// DMAMap establishes a bidirectional device mapping for memory
// allocated elsewhere.
type Device interface {
	Name() string
	DMAAlloc(size int, flags AllocFlags, attrs DMAAttrs) ([]byte, DMAAddr, error)
	DMAFree(mem []byte, dma DMAAddr, attrs DMAAttrs)
	DMAMap(mem []byte) (DMAAddr, error)
	DMAUnmap(dma DMAAddr, size int)
}

// sysAllocator is the default run allocator, backed by mmap. Memory
// comes from the kernel already zeroed and leaves the process again
// on free.
type sysAllocator struct {
	numaMode  uint
	numaNodes []int
}

// SysAllocatorOption is an option for NewSystemAllocator.
type SysAllocatorOption func(*sysAllocator)

// WithNUMAPolicy makes the allocator apply the given NUMA memory
// policy to every run it allocates.
func WithNUMAPolicy(mode uint, nodes []int) SysAllocatorOption {
	return func(a *sysAllocator) {
		a.numaMode = mode
		a.numaNodes = nodes
	}
}

// NewSystemAllocator creates the default mmap-backed run allocator.
func NewSystemAllocator(options ...SysAllocatorOption) Allocator {
	a := &sysAllocator{numaMode: mempages.MPOL_DEFAULT}
	for _, o := range options {
		o(a)
	}
	return a
}

// AllocRun allocates a run of the given order.
func (a *sysAllocator) AllocRun(order int, flags AllocFlags) (*Run, error) {
	if order < 0 || order >= MaxOrder {
		return nil, errors.Wrapf(ErrInvalidOrder, "order %d", order)
	}

	mem, err := mempages.Alloc(PageSize<<order, flags&AllocDMA32 != 0)
	if err != nil {
		// Order fallback handles this; only complain when even a
		// base page allocation fails.
		if flags&AllocNoRetry == 0 {
			log.Error("failed to allocate order %d run: %v", order, err)
		}
		return nil, errors.Wrap(ErrNoMem, err.Error())
	}

	if a.numaMode != mempages.MPOL_DEFAULT {
		if err := mempages.Mbind(mem, a.numaMode, a.numaNodes); err != nil {
			details.Debug("NUMA policy for order %d run not applied: %v", order, err)
		}
	}

	return NewRun(mem, order), nil
}

// FreeRun releases a run back to the kernel.
func (a *sysAllocator) FreeRun(r *Run) {
	if err := mempages.Free(r.mem); err != nil {
		log.Error("failed to free order %d run: %v", r.order, err)
	}
	r.mem = nil
}

// allocRun acquires a fresh run for the pool, going through the
// coherent DMA allocator when the pool is configured for it.
func (p *Pool) allocRun(order int, flags AllocFlags) (*Run, error) {
	// Keep order fallback fast: above order 0 a single cheap attempt
	// only, no retries and no warnings.
	if order > 0 {
		flags |= AllocNoRetry
	}
	if p.useDMA32 {
		flags |= AllocDMA32
	} else {
		flags |= AllocHighMem
	}

	if !p.useDMAAlloc {
		return p.alloc.AllocRun(order, flags)
	}

	attrs := DMAForceContiguous
	if order > 0 {
		attrs |= DMANoWarn
	}

	mem, dma, err := p.dev.DMAAlloc(PageSize<<order, flags, attrs)
	if err != nil {
		return nil, errors.Wrapf(ErrNoMem, "DMA alloc on %s: %v", p.dev.Name(), err)
	}

	r := NewRun(mem, order)
	r.coherent = true
	r.dma = dma
	return r, nil
}

// freeRun resets the caching attributes of a run and releases it to
// the backing allocator.
func (p *Pool) freeRun(caching Caching, r *Run) {
	// Resetting to write-back with the batch primitive would be more
	// efficient, but this path only runs on shrink where CPU overhead
	// is irrelevant.
	if caching != Cached && !r.highMem {
		p.attr.SetWriteBack(r)
	}
	r.caching = Cached

	if !p.useDMAAlloc {
		p.alloc.FreeRun(r)
		return
	}

	attrs := DMAForceContiguous
	if r.order > 0 {
		attrs |= DMANoWarn
	}
	p.dev.DMAFree(r.mem, r.dma, attrs)
	r.mem = nil
}

// mapRun fills the per-page device addresses for a run, establishing
// a device mapping first unless the run was coherently allocated.
func (p *Pool) mapRun(r *Run, dmaAddrs []DMAAddr) error {
	var addr DMAAddr

	if r.coherent {
		addr = r.dma
	} else {
		if p.dev == nil {
			return ErrNoDevice
		}
		mapped, err := p.dev.DMAMap(r.mem)
		if err != nil {
			return errors.Wrapf(ErrMapFailed, "DMA map on %s: %v", p.dev.Name(), err)
		}
		addr = mapped
		r.dma = mapped
	}

	for i := 0; i < r.NumPages(); i++ {
		dmaAddrs[i] = addr
		addr += PageSize
	}

	return nil
}

// unmapRun tears down the device mapping of a run. Coherent
// allocations are unmapped when freed instead.
func (p *Pool) unmapRun(dma DMAAddr, numPages int) {
	if p.useDMAAlloc || p.dev == nil {
		return
	}
	p.dev.DMAUnmap(dma, numPages<<PageShift)
}
