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

package mempages_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/pagepool/pkg/mempages"
)

func TestAllocFree(t *testing.T) {
	size := os.Getpagesize() * 4

	mem, err := mempages.Alloc(size, false)
	require.NoError(t, err, "allocation")
	require.Len(t, mem, size, "allocation size")

	// fresh mappings are zeroed by the kernel
	for i := 0; i < size; i += os.Getpagesize() {
		require.Equal(t, byte(0), mem[i], "zeroed at offset %d", i)
	}

	// memory is writable
	mem[0] = 0x5a
	mem[size-1] = 0xa5

	require.NoError(t, mempages.Free(mem), "free")
}

func TestAllocInvalidSize(t *testing.T) {
	_, err := mempages.Alloc(0, false)
	require.Error(t, err, "zero size")

	_, err = mempages.Alloc(os.Getpagesize()+1, false)
	require.Error(t, err, "unaligned size")
}

func TestFreeNil(t *testing.T) {
	require.NoError(t, mempages.Free(nil), "free of nil")
}

func TestTotalMemory(t *testing.T) {
	total, err := mempages.TotalMemory()
	require.NoError(t, err, "sysinfo")
	require.Greater(t, total, int64(0), "positive total memory")
}
