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

	cfgapi "github.com/containers/pagepool/pkg/apis/config/v1alpha1/pool"
	. "github.com/containers/pagepool/pkg/pagepool"
)

func TestConfigureMaxPoolPages(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	max := int64(128)
	require.NoError(t, Configure(&cfgapi.Config{MaxPoolPages: &max}), "configure")
	require.Equal(t, int64(128), MaxPoolPages(), "cap updated")

	require.NoError(t, Configure(nil), "nil configuration")
	require.Equal(t, int64(128), MaxPoolPages(), "cap unchanged")
}

func TestConfigureRejectsInvalid(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	bad := int64(-1)
	err := Configure(&cfgapi.Config{
		MaxPoolPages: &bad,
		CleanPasses:  -3,
		CleanBatch:   16,
	})
	require.Error(t, err, "invalid settings rejected")
	require.Equal(t, int64(1024), MaxPoolPages(), "cap unchanged")

	// restore the valid batch setting to its default
	require.NoError(t, Configure(&cfgapi.Config{CleanBatch: DefaultCleanBatch}), "restore")
}

func TestInitTwice(t *testing.T) {
	fa := newTestAllocator()
	setup(t, WithAllocator(fa), WithMaxPoolPages(1024))

	require.ErrorIs(t, Init(), ErrRunning, "double init")
}
