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

// Run is a contiguous group of 2^order base pages handled as a single
// unit. A run carries its metadata out of band: the order, the caching
// class it was last configured for, the device address when coherently
// allocated or mapped, and the original CPU mapping of a coherent DMA
// allocation. Runs link intrusively into bucket and dirty lists, so
// pooling a run never allocates.
type Run struct {
	mem      []byte
	order    int
	caching  Caching
	highMem  bool
	coherent bool
	pooled   bool
	dma      DMAAddr
	next     *Run
}

// NewRun wraps a backing memory region into a run of the given order.
// The region must be PageSize << order bytes long.
func NewRun(mem []byte, order int) *Run {
	return &Run{
		mem:     mem,
		order:   order,
		caching: Cached,
	}
}

// SetHighMem marks the run as backed by high memory. Used by
// allocators whose memory has no permanent kernel mapping.
func (r *Run) SetHighMem(highMem bool) *Run {
	r.highMem = highMem
	return r
}

// Mem returns the backing memory of the run.
func (r *Run) Mem() []byte {
	return r.mem
}

// Order returns the order of the run.
func (r *Run) Order() int {
	return r.order
}

// NumPages returns the number of base pages in the run.
func (r *Run) NumPages() int {
	return 1 << r.order
}

// Caching returns the caching class the run was last configured for.
func (r *Run) Caching() Caching {
	return r.caching
}

// HighMem returns true if the run is backed by high memory.
func (r *Run) HighMem() bool {
	return r.highMem
}

// DMAAddress returns the device address of the run, if any.
func (r *Run) DMAAddress() DMAAddr {
	return r.dma
}

// page returns the idx'th base page of the run.
func (r *Run) page(idx int) Page {
	beg := idx << PageShift
	end := beg + PageSize
	return Page(r.mem[beg:end:end])
}

// key identifies the run for sidecar metadata lookup.
func (r *Run) key() *byte {
	return &r.mem[0]
}

// runList is an intrusive FIFO of runs.
type runList struct {
	head *Run
	tail *Run
}

// append adds a run at the tail of the list.
func (l *runList) append(r *Run) {
	r.next = nil
	if l.tail == nil {
		l.head = r
		l.tail = r
		return
	}
	l.tail.next = r
	l.tail = r
}

// pop removes and returns the run at the head of the list.
func (l *runList) pop() *Run {
	r := l.head
	if r == nil {
		return nil
	}
	l.head = r.next
	if l.head == nil {
		l.tail = nil
	}
	r.next = nil
	return r
}

// empty returns true if the list has no runs.
func (l *runList) empty() bool {
	return l.head == nil
}
