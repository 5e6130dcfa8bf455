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

package pool

// Config provides runtime configuration for the page-pool subsystem.
type Config struct {
	// MaxPoolPages caps the number of base pages retained across all
	// buckets. Exceeding the cap triggers synchronous reclaim on the
	// freeing path. 0 disables the cap. If unset, the cap defaults to
	// half of system memory.
	// +optional
	MaxPoolPages *int64 `json:"maxPoolPages,omitempty"`
	// CleanPasses is the number of batches a dynamic pool's deferred
	// cleaner drains per wakeup.
	// +optional
	CleanPasses int `json:"cleanPasses,omitempty"`
	// CleanBatch is the number of runs a dynamic pool's deferred
	// cleaner zeroes per batch.
	// +optional
	CleanBatch int `json:"cleanBatch,omitempty"`
}
