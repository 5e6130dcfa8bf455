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
	"github.com/containers/pagepool/pkg/shrink"
)

// poolShrinker is our reclaim participant. Count is the racy pooled
// page counter; Scan frees runs one reclaim step at a time, which
// both frees a run and rotates the registry, so the aggregate
// traversal is fair across all buckets.
type poolShrinker struct {
	m *manager
}

var _ shrink.Shrinker = (*poolShrinker)(nil)

// Count returns the number of reclaimable base pages.
func (s *poolShrinker) Count() int64 {
	n := s.m.registry.TotalPages()
	if n == 0 {
		return shrink.Empty
	}
	return n
}

// Scan frees pooled runs until nrToScan base pages are freed or the
// pool is empty. A step may free nothing when it hits an empty bucket;
// the step still rotates the registry, so the scan makes progress as
// long as any bucket holds runs.
func (s *poolShrinker) Scan(sc *shrink.ScanControl) int64 {
	if sc.NrToScan <= 0 {
		return 0
	}

	var freed int64
	var zeroSteps int
	for freed < sc.NrToScan && s.m.registry.TotalPages() > 0 && zeroSteps < 4096 {
		n := s.m.registry.ReclaimOne()
		if n == 0 {
			zeroSteps++
			continue
		}
		zeroSteps = 0
		freed += int64(n)
		s.m.stats.reclaimed.Add(1)
	}

	return freed
}
