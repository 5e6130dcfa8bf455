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
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/containers/pagepool/pkg/pagepool"
)

func TestReclaimOneEmptyRegistry(t *testing.T) {
	reg := NewRegistry()
	require.Equal(t, 0, reg.ReclaimOne(), "reclaim from empty registry")
}

func TestReclaimOneRoundRobin(t *testing.T) {
	var (
		reg   = NewRegistry()
		freed = map[*Bucket]int{}
	)

	buckets := make([]*Bucket, 3)
	for i := range buckets {
		var b *Bucket
		b = NewBucket(reg, Cached, 0, ZoneNormal, func(*Run) { freed[b]++ })
		buckets[i] = b
	}

	for _, b := range buckets {
		for i := 0; i < 4; i++ {
			b.Add(newRun(0))
		}
	}

	for i := 0; i < 6; i++ {
		require.Equal(t, 1, reg.ReclaimOne(), "reclaim step %d", i)
	}

	// over 6 steps with 3 non-empty buckets, every bucket loses 2 runs
	for i, b := range buckets {
		require.Equal(t, 2, freed[b], "runs reclaimed from bucket %d", i)
		require.Equal(t, 2, b.Size(), "runs left in bucket %d", i)
	}
	require.Equal(t, int64(6), reg.TotalPages(), "pooled pages after reclaim")
}

func TestReclaimOneSkipsEmptyBuckets(t *testing.T) {
	var (
		reg   = NewRegistry()
		freed int
	)

	empty := NewBucket(reg, Cached, 0, ZoneNormal, func(*Run) {})
	full := NewBucket(reg, Cached, 0, ZoneNormal, func(*Run) { freed++ })
	full.Add(newRun(0))

	// the empty head bucket frees nothing but rotates away
	require.Equal(t, 0, reg.ReclaimOne(), "step on empty head bucket")
	require.Equal(t, 1, reg.ReclaimOne(), "step on non-empty bucket")
	require.Equal(t, 1, freed, "run released")
	require.Equal(t, 0, empty.Size()+full.Size(), "buckets drained")
}

func TestEnforceLimit(t *testing.T) {
	var (
		reg   = NewRegistry()
		freed int
	)

	b := NewBucket(reg, Cached, 0, ZoneNormal, func(*Run) { freed++ })
	for i := 0; i < 16; i++ {
		b.Add(newRun(0))
	}

	reg.SetMaxPages(8)
	reg.EnforceLimit()

	require.LessOrEqual(t, reg.TotalPages(), int64(8), "pool trimmed to cap")
	require.GreaterOrEqual(t, freed, 8, "reclaim steps observed")
}

func TestEnforceLimitDisabled(t *testing.T) {
	reg := NewRegistry()
	b := NewBucket(reg, Cached, 0, ZoneNormal, func(*Run) {})
	for i := 0; i < 16; i++ {
		b.Add(newRun(0))
	}

	reg.SetMaxPages(0)
	reg.EnforceLimit()
	require.Equal(t, int64(16), reg.TotalPages(), "cap 0 disables trimming")
}
