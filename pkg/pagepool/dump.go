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
	"strings"
)

// dumpHeader returns the order column header row.
func dumpHeader() string {
	var b strings.Builder
	b.WriteString("\t ")
	for i := 0; i < MaxOrder; i++ {
		fmt.Fprintf(&b, " ---%2d---", i)
	}
	return b.String()
}

// dumpOrders returns one row of per-order bucket sizes.
func dumpOrders(buckets [MaxOrder]*Bucket) string {
	var b strings.Builder
	for i := 0; i < MaxOrder; i++ {
		fmt.Fprintf(&b, " %8d", buckets[i].Size())
	}
	return b.String()
}

// DumpGlobals logs the sizes of the four global bucket arrays and the
// pool totals.
func DumpGlobals() {
	m := currentManager()
	if m == nil {
		log.Info("page pool not initialized")
		return
	}

	log.Info("%s", dumpHeader())
	log.Info("wc\t:%s", dumpOrders(m.globalWC))
	log.Info("uc\t:%s", dumpOrders(m.globalUC))
	log.Info("wc 32\t:%s", dumpOrders(m.globalDMA32WC))
	log.Info("uc 32\t:%s", dumpOrders(m.globalDMA32UC))
	log.Info("total\t: %8d of %8d", m.registry.TotalPages(), m.registry.MaxPages())
}

// Dump logs the sizes of the pool's private buckets. Pools without
// coherent DMA share the global arrays and have nothing of their own
// to show.
func (p *Pool) Dump() {
	if !p.useDMAAlloc {
		log.Info("unused")
		return
	}

	log.Info("%s", dumpHeader())
	for c := 0; c < numCaching; c++ {
		log.Info("DMA %s\t:%s", Caching(c), dumpOrders(p.caching[c]))
	}
	log.Info("total\t: %8d of %8d",
		p.mgr.registry.TotalPages(), p.mgr.registry.MaxPages())
}

// ShrinkSelfTest runs a single reclaim step and reports the pooled
// page count before the step and the pages the step freed. Diagnostic
// only.
func ShrinkSelfTest() (total int64, freed int) {
	m := currentManager()
	if m == nil {
		return 0, 0
	}

	total = m.registry.TotalPages()
	freed = m.registry.ReclaimOne()
	return total, freed
}
