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

// Package shrink implements a process-wide registry of reclaim
// participants. Components caching discardable memory register a
// Shrinker; memory pressure, observed externally or signalled by a
// notifier, is converted into Scan calls which ask the participants
// to give memory back.
package shrink

import (
	"fmt"
	"sync"

	logger "github.com/containers/pagepool/pkg/log"
)

// Empty is returned by Count when a shrinker has nothing to reclaim.
const Empty = int64(-1)

// DefaultSeeks is the default relative reclaim cost of a shrinker.
const DefaultSeeks = 2

// ScanControl carries the parameters of a single reclaim pass.
type ScanControl struct {
	// NrToScan is the number of objects the shrinker should try to free.
	NrToScan int64
	// AllowHigh allows reclaiming objects backed by high memory.
	AllowHigh bool
}

// Shrinker is a reclaim participant.
type Shrinker interface {
	// Count returns the number of freeable objects, or Empty if there
	// are none. The result is a hint and may race with concurrent use.
	Count() int64
	// Scan frees up to sc.NrToScan objects, returning the number freed.
	Scan(sc *ScanControl) int64
}

// Option is an option for registering a shrinker.
type Option func(*participant)

// WithSeeks sets the relative cost of recreating a shrinker's objects.
func WithSeeks(seeks int) Option {
	return func(p *participant) {
		p.seeks = seeks
	}
}

// WithBatch sets the maximum number of objects a shrinker is asked to
// free in a single Scan call. 0 leaves batching up to the caller.
func WithBatch(batch int64) Option {
	return func(p *participant) {
		p.batch = batch
	}
}

type participant struct {
	name  string
	s     Shrinker
	seeks int
	batch int64
}

type registry struct {
	sync.Mutex
	participants []*participant
}

var (
	log = logger.Get("shrink")
	reg = &registry{}
)

// Register adds a shrinker to the registry under the given name.
func Register(name string, s Shrinker, options ...Option) error {
	reg.Lock()
	defer reg.Unlock()

	for _, p := range reg.participants {
		if p.name == name {
			return fmt.Errorf("shrink: shrinker %q already registered", name)
		}
	}

	p := &participant{
		name:  name,
		s:     s,
		seeks: DefaultSeeks,
	}
	for _, o := range options {
		o(p)
	}

	reg.participants = append(reg.participants, p)
	log.Info("registered shrinker %q (seeks %d, batch %d)", name, p.seeks, p.batch)

	return nil
}

// Unregister removes the named shrinker from the registry.
func Unregister(name string) {
	reg.Lock()
	defer reg.Unlock()

	for i, p := range reg.participants {
		if p.name == name {
			reg.participants = append(reg.participants[:i], reg.participants[i+1:]...)
			log.Info("unregistered shrinker %q", name)
			return
		}
	}
}

// Count returns the total number of freeable objects over all shrinkers.
func Count() int64 {
	reg.Lock()
	participants := append([]*participant{}, reg.participants...)
	reg.Unlock()

	var total int64
	for _, p := range participants {
		if n := p.s.Count(); n > 0 {
			total += n
		}
	}
	return total
}

// Pressure asks the registered shrinkers to free up to nrToScan objects,
// returning the number actually freed. Shrinkers are driven in their
// registration order; within one shrinker, work is handed over in
// chunks of at most the shrinker's batch size, and the shrinker keeps
// being scanned until the request is met or it frees nothing. Shrinkers
// are invoked without the registry lock held, so they
// are free to unregister themselves or others.
func Pressure(nrToScan int64, allowHigh bool) int64 {
	if nrToScan <= 0 {
		return 0
	}

	reg.Lock()
	participants := append([]*participant{}, reg.participants...)
	reg.Unlock()

	var freed int64
	for _, p := range participants {
		if nrToScan <= 0 {
			break
		}

		count := p.s.Count()
		if count <= 0 {
			continue
		}

		want := nrToScan
		if p.batch > 0 && want > p.batch {
			want = p.batch
		}

		for want > 0 {
			n := p.s.Scan(&ScanControl{NrToScan: want, AllowHigh: allowHigh})
			if n <= 0 {
				break
			}

			freed += n
			nrToScan -= n
			if nrToScan <= 0 {
				break
			}

			want = nrToScan
			if p.batch > 0 && want > p.batch {
				want = p.batch
			}
		}
	}

	log.Debug("pressure pass freed %d objects", freed)

	return freed
}
