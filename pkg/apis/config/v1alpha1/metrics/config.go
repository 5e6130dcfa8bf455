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

package metrics

// Config selects which metrics collectors are enabled.
type Config struct {
	// Enabled lists enabled metrics collectors, as glob patterns
	// matching collector groups or names.
	// +optional
	Enabled []string `json:"enabled,omitempty"`
	// Polled lists collectors which are polled periodically instead
	// of being collected on each scrape.
	// +optional
	Polled []string `json:"polled,omitempty"`
}
