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
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/containers/pagepool/pkg/pagepool"
)

func TestPoolRequiresInit(t *testing.T) {
	_, err := NewPool()
	require.ErrorIs(t, err, ErrNotRunning, "pool creation before init")
}

func TestWarmHit(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	dev := newTestDevice()
	p, err := NewPool(WithDevice(dev), WithDMAAlloc())
	require.NoError(t, err, "DMA pool creation")

	// allocate 4 runs of order 2, 16 cached pages in total
	vecs := make([]*PageVector, 4)
	for i := range vecs {
		vecs[i] = NewPageVector(4, Cached)
		require.NoError(t, p.Populate(context.Background(), vecs[i], nil), "populate %d", i)
	}
	require.Equal(t, 4, dev.allocCount(), "coherent allocations in first round")

	for _, pv := range vecs {
		p.Free(pv)
	}
	require.Equal(t, int64(16), TotalPages(), "pages pooled after free")

	// the second round must be served entirely from the pool
	for i := range vecs {
		require.NoError(t, p.Populate(context.Background(), vecs[i], nil), "repopulate %d", i)
	}
	require.Equal(t, 4, dev.allocCount(), "no new allocations in second round")
	require.Equal(t, int64(0), TotalPages(), "pool drained by second round")

	for _, pv := range vecs {
		p.Free(pv)
	}
	p.Close()
}

func TestOrderFallback(t *testing.T) {
	fa := newTestAllocator()
	fa.failAbove = 0 // only order-0 allocations succeed
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	pv := NewPageVector(9, WriteCombined)
	require.NoError(t, p.Populate(context.Background(), pv, nil), "populate with fallback")

	// the first iteration walks down order 3, 2, 1 before succeeding
	// at order 0; afterwards the order never climbs back up
	require.Equal(t, 1, fa.attemptsAt(3), "order 3 attempted once")
	require.Equal(t, 1, fa.attemptsAt(2), "order 2 attempted once")
	require.Equal(t, 1, fa.attemptsAt(1), "order 1 attempted once")
	require.Equal(t, 9, fa.attemptsAt(0), "order 0 allocations")
	require.Equal(t, 9, fa.allocCount(), "successful allocations")

	for _, pg := range pv.Pages {
		require.NotNil(t, pg, "every page delivered")
		require.Len(t, pg, PageSize, "page size")
	}

	p.Free(pv)
	p.Close()
}

func TestCapTrigger(t *testing.T) {
	fa := newTestAllocator()
	fa.failAbove = 0
	setup(t, WithAllocator(fa), WithMaxPoolPages(8))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	pv := NewPageVector(16, WriteCombined)
	require.NoError(t, p.Populate(context.Background(), pv, nil), "populate")

	p.Free(pv)

	require.LessOrEqual(t, TotalPages(), int64(8), "pool trimmed back to cap")
	require.GreaterOrEqual(t, fa.frees, 8, "runs released by the trim")
	p.Close()
}

func TestCapZeroDisablesTrim(t *testing.T) {
	fa := newTestAllocator()
	fa.failAbove = 0
	setup(t, WithAllocator(fa), WithMaxPoolPages(0))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	pv := NewPageVector(16, WriteCombined)
	require.NoError(t, p.Populate(context.Background(), pv, nil), "populate")
	p.Free(pv)

	require.Equal(t, int64(16), TotalPages(), "cap 0 leaves the pool untrimmed")
	p.Close()
}

func TestPopulateFailureRollsBack(t *testing.T) {
	fa := newTestAllocator()
	fa.failAbove = 0
	fa.failAfter = 5 // five order-0 runs, then nothing
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	pv := NewPageVector(9, WriteCombined)
	err = p.Populate(context.Background(), pv, nil)
	require.ErrorIs(t, err, ErrNoMem, "populate fails")

	require.Equal(t, int64(0), TotalPages(), "pooled page counter unchanged")
	require.Equal(t, 0, fa.outstandingCount(), "all acquired runs released")
	for _, pg := range pv.Pages {
		require.Nil(t, pg, "no pages left in the vector")
	}
	p.Close()
}

func TestPopulateRollbackRestoresPool(t *testing.T) {
	fa := newTestAllocator()
	fa.failAbove = 0
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	// warm the pool with 4 pages
	warm := NewPageVector(4, WriteCombined)
	require.NoError(t, p.Populate(context.Background(), warm, nil), "warmup populate")
	p.Free(warm)
	require.Equal(t, int64(4), TotalPages(), "pages pooled after warmup")

	// the next populate consumes the pooled runs, then fails; the
	// consumed runs must end up back in the pool
	fa.Lock()
	fa.failAfter = fa.allocs
	fa.Unlock()

	pv := NewPageVector(9, WriteCombined)
	require.ErrorIs(t, p.Populate(context.Background(), pv, nil), ErrNoMem, "populate fails")
	require.Equal(t, int64(4), TotalPages(), "pooled page counter restored")
	p.Close()
}

func TestPopulateInterrupted(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pv := NewPageVector(4, WriteCombined)
	require.ErrorIs(t, p.Populate(ctx, pv, nil), ErrInterrupted, "cancelled populate")
	require.Equal(t, 0, fa.outstandingCount(), "nothing leaked")
	require.Equal(t, int64(0), TotalPages(), "nothing pooled")
	p.Close()
}

func TestPopulateNeverExceedsMaxOrder(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(0))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	numPages := 1 << (MaxOrder + 1)
	pv := NewPageVector(numPages, WriteCombined)
	require.NoError(t, p.Populate(context.Background(), pv, nil), "large populate")

	fa.Lock()
	for _, o := range fa.attempts {
		require.Less(t, o, MaxOrder, "attempted order within bounds")
	}
	fa.Unlock()

	p.Free(pv)
	Shrink(int64(numPages))
	p.Close()
}

func TestCachedClassNotPooled(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	pv := NewPageVector(4, Cached)
	require.NoError(t, p.Populate(context.Background(), pv, nil), "populate")
	p.Free(pv)

	require.Equal(t, int64(0), TotalPages(), "cached runs go back to the allocator")
	require.Equal(t, 0, fa.outstandingCount(), "runs released")
	p.Close()
}

func TestPopulateFillsDMAAddresses(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	dev := newTestDevice()
	p, err := NewPool(WithDevice(dev))
	require.NoError(t, err, "pool creation")

	pv := NewPageVector(4, WriteCombined).WithDMAAddrs()
	require.NoError(t, p.Populate(context.Background(), pv, nil), "populate")

	// addresses advance page by page within a run
	base := pv.DMA[0]
	require.NotZero(t, base, "device address assigned")
	for i, addr := range pv.DMA {
		require.Equal(t, base+DMAAddr(i*PageSize), addr, "device address of page %d", i)
	}

	p.Free(pv)
	require.Equal(t, dev.maps, dev.unmaps, "every mapping undone")

	Shrink(1024)
	p.Close()
}

func TestPopulateMappingFailure(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	dev := newTestDevice()
	dev.failMap = true
	p, err := NewPool(WithDevice(dev))
	require.NoError(t, err, "pool creation")

	pv := NewPageVector(4, WriteCombined).WithDMAAddrs()
	require.ErrorIs(t, p.Populate(context.Background(), pv, nil), ErrMapFailed, "populate")
	require.Equal(t, 0, fa.outstandingCount(), "unpoolable run freed immediately")
	require.Equal(t, int64(0), TotalPages(), "nothing pooled")
	p.Close()
}

func TestCachingTransitionsBatched(t *testing.T) {
	fa := newTestAllocator()
	attr := &testAttributor{}
	setup(t, WithAllocator(fa), WithAttributor(attr), WithMaxPoolPages(1024))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	pv := NewPageVector(8, WriteCombined)
	require.NoError(t, p.Populate(context.Background(), pv, nil), "populate")
	require.Equal(t, 8, attr.wcPages, "fresh pages transitioned to wc")

	// a pooled hit needs no reprogramming
	p.Free(pv)
	require.NoError(t, p.Populate(context.Background(), pv, nil), "repopulate")
	require.Equal(t, 8, attr.wcPages, "no transitions on pool hit")

	p.Free(pv)
	Shrink(1024)
	require.Equal(t, 1, attr.wbRuns, "runs reset to write-back on shrink")
	p.Close()
}

func TestFreeOfUnknownPageIsDropped(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	pv := &PageVector{
		Pages:   []Page{make([]byte, PageSize)},
		Caching: WriteCombined,
	}
	p.Free(pv) // must not panic or pool anything
	require.Equal(t, int64(0), TotalPages(), "unknown page not pooled")
	p.Close()
}

func TestConcurrentFreeAndScan(t *testing.T) {
	fa := newTestAllocator()
	fa.failAbove = 0
	setup(t, WithAllocator(fa), WithMaxPoolPages(0))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	const numPages = 1024

	pv := NewPageVector(numPages, WriteCombined)
	require.NoError(t, p.Populate(context.Background(), pv, nil), "populate")

	var (
		wg    sync.WaitGroup
		freed int64
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Free(pv)
	}()
	go func() {
		defer wg.Done()
		freed = Shrink(512)
	}()
	wg.Wait()

	require.Equal(t, int64(numPages)-freed, TotalPages(), "counter consistent after quiescence")

	// counter matches the bucket contents
	sum := int64(0)
	for o := 0; o < MaxOrder; o++ {
		sum += int64(GlobalBucket(WriteCombined, o, ZoneNormal).Size()) << o
	}
	require.Equal(t, TotalPages(), sum, "counter equals bucket sum")

	Shrink(numPages)
	require.Equal(t, 0, fa.outstandingCount(), "all runs released")
	p.Close()
}
