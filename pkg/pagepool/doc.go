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

// Package pagepool implements a shared pool of page runs for memory
// managers which hand out physically backed, attribute-configured
// memory. Acquiring such memory is expensive: allocating a contiguous
// run, reprogramming its CPU caching attributes, or going through a
// coherent DMA allocator all involve costly system interactions. The
// pool retains returned runs so equivalent future requests are served
// from memory.
//
// # Runs, Buckets, Registry
//
// The unit of pooling is a run, a contiguous group of 2^order base
// pages. Clean runs are kept in buckets, one bucket per (caching
// class, order, zone) combination. Every live bucket is linked into a
// process-wide registry which supports fair round-robin reclaim: one
// reclaim step removes a single run from the bucket at the head of
// the registry and rotates that bucket to the tail.
//
// # Pools
//
// A Pool is the per-owner frontend. Populate fills a PageVector with
// pages, preferring pooled runs of the largest fitting order and
// falling back to smaller orders when the underlying allocator cannot
// satisfy a request. Free returns the pages run by run, either into a
// matching bucket or directly to the allocator. Pools configured for
// coherent DMA own a private bucket matrix; other pools share four
// process-global bucket arrays (write-combined and uncached, each for
// the normal and the 32-bit addressable zone).
//
// # Reclaim
//
// All pooled pages remain reclaimable. The subsystem registers a
// reclaim participant which reports the global pooled page count and
// frees runs on demand, and a configurable cap triggers synchronous
// trimming whenever a free pushes the pool above it.
//
// # Dynamic pools
//
// DynamicPool is a single-order variant for anonymous memory: runs
// returned to it are parked on a dirty list and zeroed in batches by
// a background worker before becoming available again. Reclaim
// prefers the dirty runs, which can be discarded without the zeroing
// work.
package pagepool
