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

package shrink_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/pagepool/pkg/shrink"
)

// fakeShrinker holds a fixed object count and records scan requests.
type fakeShrinker struct {
	objects int64
	scans   []int64
}

func (s *fakeShrinker) Count() int64 {
	if s.objects == 0 {
		return shrink.Empty
	}
	return s.objects
}

func (s *fakeShrinker) Scan(sc *shrink.ScanControl) int64 {
	s.scans = append(s.scans, sc.NrToScan)

	n := sc.NrToScan
	if n > s.objects {
		n = s.objects
	}
	s.objects -= n
	return n
}

func TestRegisterUnregister(t *testing.T) {
	s := &fakeShrinker{objects: 4}

	require.NoError(t, shrink.Register("test", s), "registration")
	defer shrink.Unregister("test")

	require.Error(t, shrink.Register("test", s), "duplicate registration")
	require.Equal(t, int64(4), shrink.Count(), "count over participants")
}

func TestPressure(t *testing.T) {
	s := &fakeShrinker{objects: 10}

	require.NoError(t, shrink.Register("test", s), "registration")
	defer shrink.Unregister("test")

	require.Equal(t, int64(6), shrink.Pressure(6, true), "partial pressure")
	require.Equal(t, int64(4), s.objects, "objects left")

	require.Equal(t, int64(4), shrink.Pressure(16, true), "pressure past empty")
	require.Equal(t, int64(0), shrink.Pressure(16, true), "pressure on empty participant")
}

func TestPressureBatching(t *testing.T) {
	s := &fakeShrinker{objects: 10}

	require.NoError(t, shrink.Register("test", s, shrink.WithBatch(3)), "registration")
	defer shrink.Unregister("test")

	require.Equal(t, int64(10), shrink.Pressure(10, true), "batched pressure")
	for _, n := range s.scans {
		require.LessOrEqual(t, n, int64(3), "scan chunk within batch")
	}
}

func TestPressureSpansParticipants(t *testing.T) {
	s1 := &fakeShrinker{objects: 2}
	s2 := &fakeShrinker{objects: 8}

	require.NoError(t, shrink.Register("one", s1), "registration one")
	defer shrink.Unregister("one")
	require.NoError(t, shrink.Register("two", s2), "registration two")
	defer shrink.Unregister("two")

	require.Equal(t, int64(6), shrink.Pressure(6, true), "pressure over two participants")
	require.Equal(t, int64(0), s1.objects, "first participant drained")
	require.Equal(t, int64(4), s2.objects, "second participant partially drained")
}
