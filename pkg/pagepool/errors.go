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

import "fmt"

var (
	ErrNoMem          = fmt.Errorf("pagepool: out of memory")
	ErrMapFailed      = fmt.Errorf("pagepool: DMA mapping failure")
	ErrInterrupted    = fmt.Errorf("pagepool: interrupted")
	ErrInvalidOrder   = fmt.Errorf("pagepool: invalid order")
	ErrInvalidCaching = fmt.Errorf("pagepool: invalid caching class")
	ErrInvalidRequest = fmt.Errorf("pagepool: invalid request")
	ErrNoDevice       = fmt.Errorf("pagepool: no device configured")
	ErrNotRunning     = fmt.Errorf("pagepool: subsystem not initialized")
	ErrRunning        = fmt.Errorf("pagepool: subsystem already initialized")
	ErrFailedOption   = fmt.Errorf("pagepool: failed to apply option")
)
