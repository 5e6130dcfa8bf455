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
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/containers/pagepool/pkg/pagepool"
	"github.com/containers/pagepool/pkg/shrink"
)

func TestScanEmptyPool(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	require.Equal(t, int64(0), Shrink(16), "scan of an empty pool")
	require.Equal(t, int64(0), TotalPages(), "counter still zero")
}

func TestScanThroughRegisteredParticipant(t *testing.T) {
	fa := newTestAllocator()
	fa.failAbove = 0
	setup(t, WithAllocator(fa), WithMaxPoolPages(0))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	// pool 8 wc and 8 uc pages
	wc := NewPageVector(8, WriteCombined)
	uc := NewPageVector(8, Uncached)
	require.NoError(t, p.Populate(context.Background(), wc, nil), "populate wc")
	require.NoError(t, p.Populate(context.Background(), uc, nil), "populate uc")
	p.Free(wc)
	p.Free(uc)
	require.Equal(t, int64(16), TotalPages(), "pages pooled")

	// the host pressure path reaches our participant
	freed := shrink.Pressure(6, true)
	require.Equal(t, int64(6), freed, "pages freed under pressure")
	require.Equal(t, int64(10), TotalPages(), "pages left pooled")

	// round-robin spreads reclaim over both classes
	wcLeft := GlobalBucket(WriteCombined, 0, ZoneNormal).Size()
	ucLeft := GlobalBucket(Uncached, 0, ZoneNormal).Size()
	require.Equal(t, 10, wcLeft+ucLeft, "bucket sizes match counter")
	require.GreaterOrEqual(t, wcLeft, 2, "wc bucket not drained alone")
	require.GreaterOrEqual(t, ucLeft, 2, "uc bucket not drained alone")

	Shrink(16)
	require.Equal(t, int64(0), TotalPages(), "pool fully drained")
	p.Close()
}

func TestShrinkSelfTest(t *testing.T) {
	fa := newTestAllocator()
	fa.failAbove = 0
	setup(t, WithAllocator(fa), WithMaxPoolPages(0))

	p, err := NewPool()
	require.NoError(t, err, "pool creation")

	pv := NewPageVector(4, WriteCombined)
	require.NoError(t, p.Populate(context.Background(), pv, nil), "populate")
	p.Free(pv)

	total, _ := ShrinkSelfTest()
	require.Equal(t, int64(4), total, "self test reports pooled total")

	Shrink(4)
	p.Close()
}
