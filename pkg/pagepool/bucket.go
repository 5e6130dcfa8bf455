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
)

// FreeFunc releases a run to its backing allocator. Buckets are
// parameterised with one at creation; this lets a single bucket
// implementation serve both the plain page allocator and the coherent
// DMA allocator. A FreeFunc is never invoked with the bucket lock
// held and may sleep.
type FreeFunc func(*Run)

// Bucket holds clean runs sharing one (caching, order, zone) class.
// Runs are appended at the tail and removed from the head, so reuse
// is FIFO. The bucket lock is a leaf lock held only over the list and
// counter manipulation.
type Bucket struct {
	lock    sync.Mutex
	runs    runList
	count   int
	caching Caching
	order   int
	zone    Zone
	free    FreeFunc

	// registry links, owned by the registry
	reg  *Registry
	prev *Bucket
	next *Bucket
}

// NewBucket creates a bucket for the given class and links it into
// the registry for reclaim.
func NewBucket(reg *Registry, caching Caching, order int, zone Zone, free FreeFunc) *Bucket {
	b := &Bucket{
		caching: caching,
		order:   order,
		zone:    zone,
		free:    free,
	}
	reg.join(b)
	return b
}

// Caching returns the caching class of the bucket.
func (b *Bucket) Caching() Caching {
	return b.caching
}

// Order returns the run order of the bucket.
func (b *Bucket) Order() int {
	return b.order
}

// Zone returns the zone of the bucket.
func (b *Bucket) Zone() Zone {
	return b.zone
}

// Add places a clean run into the bucket. The caller guarantees the
// run is zeroed and configured for the bucket's caching class. A run
// of the wrong order or caching class is a programming error; it is
// reported and released to the allocator instead of being pooled.
func (b *Bucket) Add(r *Run) {
	if r.order != b.order || r.caching != b.caching {
		log.Error("rejecting run (order %d, %s) added to bucket (order %d, %s)",
			r.order, r.caching, b.order, b.caching)
		b.free(r)
		return
	}

	b.lock.Lock()
	b.runs.append(r)
	b.count++
	b.lock.Unlock()

	b.reg.accountAdd(1 << b.order)
}

// TryRemove removes and returns a run from the bucket, or nil if the
// bucket is empty.
func (b *Bucket) TryRemove() *Run {
	b.lock.Lock()
	r := b.runs.pop()
	if r != nil {
		b.count--
	}
	b.lock.Unlock()

	if r != nil {
		b.reg.accountRemove(1 << b.order)
	}
	return r
}

// Size returns the number of runs currently in the bucket.
func (b *Bucket) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.count
}

// Fini unlinks the bucket from its registry and releases every run it
// still holds. The bucket lock is dropped across each release; the
// free callback may sleep.
func (b *Bucket) Fini() {
	b.reg.leave(b)

	b.lock.Lock()
	for {
		r := b.runs.pop()
		if r == nil {
			break
		}
		b.count--
		b.lock.Unlock()

		b.reg.accountRemove(1 << b.order)
		b.free(r)

		b.lock.Lock()
	}
	b.lock.Unlock()
}
