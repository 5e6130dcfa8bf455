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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/containers/pagepool/pkg/healthz"
	"github.com/containers/pagepool/pkg/mempages"
	"github.com/containers/pagepool/pkg/shrink"
)

// shrinkerName is our reclaim participant registration.
const shrinkerName = "pagepool"

// counters for populate and reclaim activity, exported as metrics.
type stats struct {
	hits      atomic.Int64
	misses    atomic.Int64
	fallbacks atomic.Int64
	reclaimed atomic.Int64
}

// manager holds the process-wide state of the subsystem: the bucket
// registry, the default allocator and attributor, and the four global
// bucket arrays shared by pools not using coherent DMA.
type manager struct {
	registry *Registry
	alloc    Allocator
	attr     Attributor
	stats    stats

	globalWC      [MaxOrder]*Bucket
	globalUC      [MaxOrder]*Bucket
	globalDMA32WC [MaxOrder]*Bucket
	globalDMA32UC [MaxOrder]*Bucket
}

var (
	mgrLock sync.RWMutex
	mgr     *manager

	metricsOnce sync.Once
)

// currentManager returns the active subsystem state, nil before Init
// or after Fini.
func currentManager() *manager {
	mgrLock.RLock()
	defer mgrLock.RUnlock()
	return mgr
}

// Option is an opaque option for Init.
type Option func(*manager, *initOpts) error

type initOpts struct {
	maxPages *int64
}

// WithAllocator overrides the default mmap-backed run allocator.
func WithAllocator(a Allocator) Option {
	return func(m *manager, _ *initOpts) error {
		if a == nil {
			return fmt.Errorf("%w: nil allocator", ErrFailedOption)
		}
		m.alloc = a
		return nil
	}
}

// WithAttributor overrides the default no-op caching attributor.
func WithAttributor(a Attributor) Option {
	return func(m *manager, _ *initOpts) error {
		if a == nil {
			return fmt.Errorf("%w: nil attributor", ErrFailedOption)
		}
		m.attr = a
		return nil
	}
}

// WithMaxPoolPages caps the number of pooled base pages. 0 disables
// the cap. Without this option the cap defaults to half of system
// memory.
func WithMaxPoolPages(max int64) Option {
	return func(_ *manager, o *initOpts) error {
		if max < 0 {
			return fmt.Errorf("%w: negative pool cap %d", ErrFailedOption, max)
		}
		o.maxPages = &max
		return nil
	}
}

// Init sets up the page-pool subsystem: the registry, the four global
// bucket arrays, and the reclaim participant. Must be called before
// pools are created.
func Init(options ...Option) error {
	mgrLock.Lock()
	defer mgrLock.Unlock()

	if mgr != nil {
		return ErrRunning
	}

	m := &manager{
		registry: NewRegistry(),
		alloc:    NewSystemAllocator(),
		attr:     NewNoopAttributor(),
	}

	opts := &initOpts{}
	for _, o := range options {
		if err := o(m, opts); err != nil {
			return err
		}
	}

	if opts.maxPages != nil {
		m.registry.SetMaxPages(*opts.maxPages)
	} else {
		m.registry.SetMaxPages(defaultMaxPages())
	}

	for i := 0; i < MaxOrder; i++ {
		m.globalWC[i] = NewBucket(m.registry, WriteCombined, i, ZoneNormal, m.freeGlobalWC)
		m.globalUC[i] = NewBucket(m.registry, Uncached, i, ZoneNormal, m.freeGlobalUC)
		m.globalDMA32WC[i] = NewBucket(m.registry, WriteCombined, i, ZoneDMA32, m.freeGlobalWC)
		m.globalDMA32UC[i] = NewBucket(m.registry, Uncached, i, ZoneDMA32, m.freeGlobalUC)
	}

	if err := shrink.Register(shrinkerName, &poolShrinker{m: m}, shrink.WithSeeks(1)); err != nil {
		for i := 0; i < MaxOrder; i++ {
			m.globalWC[i].Fini()
			m.globalUC[i].Fini()
			m.globalDMA32WC[i].Fini()
			m.globalDMA32UC[i].Fini()
		}
		return err
	}

	healthz.RegisterHealthChecker(shrinkerName, checkHealth)
	metricsOnce.Do(registerCollector)

	mgr = m

	log.Info("page pool initialized, cap %d pages", m.registry.MaxPages())

	return nil
}

// Fini tears the subsystem down, draining and destroying the global
// buckets. All pools must have been closed; a non-empty registry at
// this point is a leak and is reported.
func Fini() {
	mgrLock.Lock()
	defer mgrLock.Unlock()

	if mgr == nil {
		return
	}

	shrink.Unregister(shrinkerName)
	healthz.UnregisterHealthChecker(shrinkerName)

	for i := 0; i < MaxOrder; i++ {
		mgr.globalWC[i].Fini()
		mgr.globalUC[i].Fini()
		mgr.globalDMA32WC[i].Fini()
		mgr.globalDMA32UC[i].Fini()
	}

	if !mgr.registry.Empty() {
		log.Error("bucket registry not empty at teardown, leaking pooled pages")
	}

	mgr = nil
}

// freeGlobalWC releases a run from a global write-combined bucket.
func (m *manager) freeGlobalWC(r *Run) {
	m.freeGlobal(WriteCombined, r)
}

// freeGlobalUC releases a run from a global uncached bucket.
func (m *manager) freeGlobalUC(r *Run) {
	m.freeGlobal(Uncached, r)
}

func (m *manager) freeGlobal(caching Caching, r *Run) {
	if caching != Cached && !r.highMem {
		m.attr.SetWriteBack(r)
	}
	r.caching = Cached
	m.alloc.FreeRun(r)
}

// defaultMaxPages sizes the default pool cap at half of system memory.
func defaultMaxPages() int64 {
	total, err := mempages.TotalMemory()
	if err != nil {
		log.Warn("cannot size pool cap from system memory: %v", err)
		return 0
	}
	return total / PageSize / 2
}

// GlobalBucket returns the process-global bucket for the given class,
// or nil when the class is not pooled globally or the subsystem is
// not initialized.
func GlobalBucket(caching Caching, order int, zone Zone) *Bucket {
	m := currentManager()
	if m == nil || order < 0 || order >= MaxOrder {
		return nil
	}

	switch {
	case caching == WriteCombined && zone == ZoneNormal:
		return m.globalWC[order]
	case caching == Uncached && zone == ZoneNormal:
		return m.globalUC[order]
	case caching == WriteCombined && zone == ZoneDMA32:
		return m.globalDMA32WC[order]
	case caching == Uncached && zone == ZoneDMA32:
		return m.globalDMA32UC[order]
	}

	return nil
}

// TotalPages returns the number of base pages currently pooled.
func TotalPages() int64 {
	m := currentManager()
	if m == nil {
		return 0
	}
	return m.registry.TotalPages()
}

// MaxPoolPages returns the pooled page cap.
func MaxPoolPages() int64 {
	m := currentManager()
	if m == nil {
		return 0
	}
	return m.registry.MaxPages()
}

// SetMaxPoolPages adjusts the pooled page cap at runtime. 0 disables
// the cap. Lowering the cap below the current pool size takes effect
// on the next free.
func SetMaxPoolPages(max int64) {
	m := currentManager()
	if m == nil {
		return
	}
	m.registry.SetMaxPages(max)
}

// Shrink synchronously reclaims up to nrToScan pooled base pages,
// returning the number freed.
func Shrink(nrToScan int64) int64 {
	m := currentManager()
	if m == nil {
		return 0
	}
	s := &poolShrinker{m: m}
	return s.Scan(&shrink.ScanControl{NrToScan: nrToScan, AllowHigh: true})
}

// checkHealth validates the pooled page accounting: at a quiescent
// point the global counter must equal the sum of all bucket sizes.
// Under concurrent churn a bounded transient difference is normal, so
// a mismatch is reported as degraded only.
func checkHealth() (healthz.Status, error) {
	m := currentManager()
	if m == nil {
		return healthz.Healthy, nil
	}

	var sum int64
	m.registry.forEach(func(b *Bucket) {
		sum += int64(b.Size()) << b.order
	})

	total := m.registry.TotalPages()
	if sum != total {
		return healthz.Degraded, fmt.Errorf("pooled page counter %d != bucket sum %d",
			total, sum)
	}

	return healthz.Healthy, nil
}
