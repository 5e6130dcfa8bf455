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

// Attributor reprograms the CPU caching attributes of pages. The
// batch operations cover an array of pages in one call; each entails
// a cross-CPU TLB invalidation, which is the very cost this pool
// exists to amortize. On targets without reprogrammable attributes
// all operations are no-ops.
type Attributor interface {
	// SetWriteCombined transitions the pages to write-combined.
	SetWriteCombined(pages []Page) error
	// SetUncached transitions the pages to uncached.
	SetUncached(pages []Page) error
	// SetWriteBack resets a whole run to the default write-back state.
	SetWriteBack(r *Run)
}

// noopAttributor is the default Attributor; caching transitions
// become pure bookkeeping.
type noopAttributor struct{}

// NewNoopAttributor returns an attributor which performs no hardware
// reprogramming.
func NewNoopAttributor() Attributor {
	return noopAttributor{}
}

func (noopAttributor) SetWriteCombined(pages []Page) error {
	return nil
}

func (noopAttributor) SetUncached(pages []Page) error {
	return nil
}

func (noopAttributor) SetWriteBack(r *Run) {
}

// applyCaching transitions a staged range of pages to the target
// class in one batch. Pages already in the target class are never
// staged, so Cached needs no work here.
func (p *Pool) applyCaching(pages []Page, caching Caching) error {
	if len(pages) == 0 {
		return nil
	}

	switch caching {
	case Cached:
		return nil
	case WriteCombined:
		return p.attr.SetWriteCombined(pages)
	case Uncached:
		return p.attr.SetUncached(pages)
	}

	return ErrInvalidCaching
}
