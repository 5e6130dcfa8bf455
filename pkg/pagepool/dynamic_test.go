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
	"time"

	"github.com/stretchr/testify/require"

	. "github.com/containers/pagepool/pkg/pagepool"
)

func TestDynamicPoolInvalidOrder(t *testing.T) {
	_, err := NewDynamicPool(MaxOrder)
	require.ErrorIs(t, err, ErrInvalidOrder, "order out of range")

	_, err = NewDynamicPool(-1)
	require.ErrorIs(t, err, ErrInvalidOrder, "negative order")
}

func TestDynamicDeferredZeroing(t *testing.T) {
	fa := newTestAllocator()
	p, err := NewDynamicPool(0, WithDynamicAllocator(fa))
	require.NoError(t, err, "dynamic pool creation")
	defer p.Close()

	const numRuns = 64

	runs := make([]*Run, numRuns)
	for i := range runs {
		runs[i], err = p.Alloc(context.Background())
		require.NoError(t, err, "alloc %d", i)

		// dirty the run
		for j := range runs[i].Mem() {
			runs[i].Mem()[j] = 0xa5
		}
	}

	for _, r := range runs {
		p.Free(r)
	}

	eventually(t, 5*time.Second, func() bool {
		return p.DeferredTotal() == 0 && p.CleanTotal() == numRuns
	}, "worker moved every run to the clean list")

	for i, r := range runs {
		for _, b := range r.Mem() {
			require.Equal(t, byte(0), b, "run %d zeroed", i)
		}
	}
}

func TestDynamicAllocReusesCleanRuns(t *testing.T) {
	fa := newTestAllocator()
	p, err := NewDynamicPool(0, WithDynamicAllocator(fa))
	require.NoError(t, err, "dynamic pool creation")
	defer p.Close()

	r, err := p.Alloc(context.Background())
	require.NoError(t, err, "initial alloc")
	require.Equal(t, 1, fa.allocCount(), "one fresh allocation")

	p.Free(r)
	eventually(t, 5*time.Second, func() bool {
		return p.CleanTotal() == 1
	}, "run cleaned")

	got, err := p.Alloc(context.Background())
	require.NoError(t, err, "pooled alloc")
	require.Equal(t, r, got, "pooled run reused")
	require.Equal(t, 1, fa.allocCount(), "no fresh allocation on reuse")

	p.Free(got)
}

func TestDynamicFreeRejectsWrongOrder(t *testing.T) {
	fa := newTestAllocator()
	p, err := NewDynamicPool(2, WithDynamicAllocator(fa))
	require.NoError(t, err, "dynamic pool creation")
	defer p.Close()

	stray, err := fa.AllocRun(0, 0)
	require.NoError(t, err, "stray run")

	p.Free(stray)
	require.Equal(t, 0, p.Total(true), "wrong-order run not pooled")
	require.Equal(t, 0, fa.outstandingCount(), "wrong-order run released")
}

func TestDynamicCloseDrains(t *testing.T) {
	fa := newTestAllocator()
	p, err := NewDynamicPool(0, WithDynamicAllocator(fa))
	require.NoError(t, err, "dynamic pool creation")

	runs := make([]*Run, 8)
	for i := range runs {
		runs[i], err = p.Alloc(context.Background())
		require.NoError(t, err, "alloc %d", i)
	}
	for _, r := range runs {
		p.Free(r)
	}

	p.Close()
	require.Equal(t, 0, fa.outstandingCount(), "all runs released at close")
}

func TestDynamicAllocInterrupted(t *testing.T) {
	fa := newTestAllocator()
	p, err := NewDynamicPool(0, WithDynamicAllocator(fa))
	require.NoError(t, err, "dynamic pool creation")
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Alloc(ctx)
	require.ErrorIs(t, err, ErrInterrupted, "cancelled alloc with empty pool")
	require.Equal(t, 0, fa.allocCount(), "no allocation after cancellation")
}
