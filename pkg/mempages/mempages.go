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

// Package mempages allocates page-aligned, zero-initialized memory
// regions directly from the kernel with mmap. Regions are multiples
// of the system page size and are returned to the kernel with munmap,
// so freed memory leaves the process immediately instead of lingering
// on a heap free list.
package mempages

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Alloc allocates size bytes of page-aligned, zeroed memory. Size must
// be a multiple of the page size. With dma32 set the region is placed
// in 32-bit addressable space on platforms that support it.
func Alloc(size int, dma32 bool) ([]byte, error) {
	if size <= 0 || size%unix.Getpagesize() != 0 {
		return nil, fmt.Errorf("mempages: invalid allocation size %d", size)
	}

	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	if dma32 {
		flags |= map32bitFlag
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return nil, fmt.Errorf("mempages: mmap of %d bytes failed: %w", size, err)
	}

	return mem, nil
}

// Free returns memory allocated with Alloc to the kernel. It must be
// passed the same slice Alloc returned, not a derived slice.
func Free(mem []byte) error {
	if mem == nil {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("mempages: munmap failed: %w", err)
	}
	return nil
}

// TotalMemory returns the amount of usable physical memory in bytes.
func TotalMemory() (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("mempages: sysinfo failed: %w", err)
	}
	return int64(info.Totalram) * int64(info.Unit), nil
}
