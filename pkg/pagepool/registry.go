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
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// trimWarn throttles over-cap warnings; a pool bouncing against its
// cap would otherwise flood the log on every free.
var trimWarn = rate.NewLimiter(rate.Every(time.Minute), 1)

// Registry tracks every live bucket and drives fair reclamation over
// them. Buckets are kept in an intrusive doubly-linked list; one
// reclaim step frees a single run from the bucket at the head and
// rotates that bucket to the tail, so successive steps spread evenly
// over all buckets regardless of their caching class or order.
//
// The registry also carries the pooled page accounting: a single
// atomically updated counter of base pages held across its buckets,
// and the configurable cap enforced on the freeing path.
type Registry struct {
	lock sync.Mutex
	head *Bucket
	tail *Bucket

	totalPages atomic.Int64
	maxPages   atomic.Int64
}

// NewRegistry creates an empty bucket registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// join links a bucket at the tail of the registry.
func (g *Registry) join(b *Bucket) {
	g.lock.Lock()
	defer g.lock.Unlock()

	b.reg = g
	b.prev = g.tail
	b.next = nil
	if g.tail != nil {
		g.tail.next = b
	} else {
		g.head = b
	}
	g.tail = b
}

// leave unlinks a bucket from the registry.
func (g *Registry) leave(b *Bucket) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.unlink(b)
}

// unlink removes a bucket from the list. Called with the registry
// lock held.
func (g *Registry) unlink(b *Bucket) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		g.head = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	} else {
		g.tail = b.prev
	}
	b.prev = nil
	b.next = nil
}

// rotate moves a bucket to the tail of the list. Called with the
// registry lock held.
func (g *Registry) rotate(b *Bucket) {
	g.unlink(b)

	b.prev = g.tail
	if g.tail != nil {
		g.tail.next = b
	} else {
		g.head = b
	}
	g.tail = b
}

// ReclaimOne frees a single run from the bucket at the head of the
// registry and rotates that bucket to the tail. It returns the number
// of base pages freed, 0 if the registry holds no buckets or the head
// bucket was empty. The registry lock is released before the free
// callback runs, so a concurrent bucket Fini can make progress; the
// lock does guarantee the selected bucket is not torn down between
// the head peek and the rotation.
func (g *Registry) ReclaimOne() int {
	g.lock.Lock()
	b := g.head
	if b == nil {
		g.lock.Unlock()
		return 0
	}

	r := b.TryRemove()
	g.rotate(b)
	g.lock.Unlock()

	if r == nil {
		return 0
	}

	b.free(r)
	return 1 << b.order
}

// TotalPages returns the number of base pages currently pooled. The
// value is a racy snapshot, suitable as a reclaim hint only.
func (g *Registry) TotalPages() int64 {
	return g.totalPages.Load()
}

// MaxPages returns the pooled page cap. 0 means uncapped.
func (g *Registry) MaxPages() int64 {
	return g.maxPages.Load()
}

// SetMaxPages sets the pooled page cap. 0 disables the cap.
func (g *Registry) SetMaxPages(max int64) {
	if max < 0 {
		max = 0
	}
	g.maxPages.Store(max)
}

// EnforceLimit synchronously reclaims runs until the pooled page
// count is back within the cap. Called on the freeing path after a
// bucket add.
func (g *Registry) EnforceLimit() {
	max := g.maxPages.Load()
	if max == 0 {
		return
	}

	// A step that hits an empty head bucket frees nothing but still
	// rotates the registry, so the loop makes progress as long as the
	// counter says there is something to trim. The zero-step bound
	// only guards against stuck accounting.
	var trimmed, zeroSteps int
	for g.totalPages.Load() > max && zeroSteps < 4096 {
		n := g.ReclaimOne()
		if n == 0 {
			zeroSteps++
			continue
		}
		zeroSteps = 0
		trimmed += n
	}

	if trimmed > 0 && trimWarn.Allow() {
		log.Warn("pool cap %d pages exceeded, trimmed %d pages", max, trimmed)
	}
}

// Empty returns true if the registry holds no buckets.
func (g *Registry) Empty() bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.head == nil
}

// forEach invokes fn on every bucket in registry order. Used for
// state dumps and metrics collection.
func (g *Registry) forEach(fn func(*Bucket)) {
	g.lock.Lock()
	defer g.lock.Unlock()

	for b := g.head; b != nil; b = b.next {
		fn(b)
	}
}

func (g *Registry) accountAdd(pages int) {
	g.totalPages.Add(int64(pages))
}

func (g *Registry) accountRemove(pages int) {
	g.totalPages.Add(-int64(pages))
}
