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

package mempages

import (
	"fmt"
	"syscall"
	"unsafe"
)

// NUMA memory policy modes for Mbind.
const (
	MPOL_DEFAULT = iota
	MPOL_PREFERRED
	MPOL_BIND
	MPOL_INTERLEAVE
	MPOL_LOCAL
	MPOL_PREFERRED_MANY
	MPOL_WEIGHTED_INTERLEAVE

	MPOL_F_STATIC_NODES   uint = (1 << 15)
	MPOL_F_RELATIVE_NODES uint = (1 << 14)
	MPOL_F_NUMA_BALANCING uint = (1 << 13)

	SYS_MBIND = 237

	MAX_NUMA_NODES = 1024
)

// Modes maps NUMA policy mode names to their values.
var Modes = map[string]uint{
	"MPOL_DEFAULT":             MPOL_DEFAULT,
	"MPOL_PREFERRED":           MPOL_PREFERRED,
	"MPOL_BIND":                MPOL_BIND,
	"MPOL_INTERLEAVE":          MPOL_INTERLEAVE,
	"MPOL_LOCAL":               MPOL_LOCAL,
	"MPOL_PREFERRED_MANY":      MPOL_PREFERRED_MANY,
	"MPOL_WEIGHTED_INTERLEAVE": MPOL_WEIGHTED_INTERLEAVE,
}

func nodesToMask(nodes []int) ([]uint64, error) {
	maxNode := 0
	for _, node := range nodes {
		if node > maxNode {
			maxNode = node
		}
		if node < 0 {
			return nil, fmt.Errorf("mempages: node %d out of range", node)
		}
	}
	if maxNode >= MAX_NUMA_NODES {
		return nil, fmt.Errorf("mempages: node %d out of range", maxNode)
	}
	mask := make([]uint64, (maxNode/64)+1)
	for _, node := range nodes {
		mask[node/64] |= (1 << (node % 64))
	}
	return mask, nil
}

// Mbind applies the given NUMA memory policy to a region allocated
// with Alloc. With an empty node list only the mode is applied.
func Mbind(mem []byte, mpol uint, nodes []int) error {
	if len(mem) == 0 {
		return nil
	}

	var (
		maskPtr  unsafe.Pointer
		maxNode  uintptr
		nodeMask []uint64
		err      error
	)

	if len(nodes) > 0 {
		nodeMask, err = nodesToMask(nodes)
		if err != nil {
			return err
		}
		maskPtr = unsafe.Pointer(&nodeMask[0])
		maxNode = uintptr(len(nodeMask) * 64)
	}

	_, _, errno := syscall.Syscall6(SYS_MBIND,
		uintptr(unsafe.Pointer(&mem[0])),
		uintptr(len(mem)),
		uintptr(mpol),
		uintptr(maskPtr),
		maxNode,
		0)
	if errno != 0 {
		return fmt.Errorf("mempages: mbind failed: %w", errno)
	}

	return nil
}
