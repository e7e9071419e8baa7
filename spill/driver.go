// Copyright 2024 The Erigon Authors
// (original work)
// Copyright 2026 The Merge Recovery Authors
// (modifications)
// This file is part of Merge Recovery.
//
// Merge Recovery is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Merge Recovery is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Merge Recovery. If not, see <http://www.gnu.org/licenses/>.

package spill

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-storage/mergerecover/keyspace"
)

// TimestampWindow is the half-open [From, +inf) window the iterator filters
// records by (spec.md §4.2: "tsWindow = [ctx.timestamp_floor, +∞)").
type TimestampWindow struct {
	From time.Time
}

// Contains reports whether ts falls within the window.
func (w TimestampWindow) Contains(ts time.Time) bool {
	return !ts.Before(w.From)
}

// RawSequence is the external iterator's wire-level cursor: a finite,
// non-restartable source of records (spec.md §6, "Iterator.iterateWithStats").
// The real implementation lives in the storage client library; this is the
// boundary the driver consumes.
type RawSequence interface {
	Next(ctx context.Context) (IterRecord, bool, error)
	Close() error
}

// Backend is the external iterator collaborator named out of scope in
// spec.md §1/§6.
type Backend interface {
	IterateWithStats(ctx context.Context, addr keyspace.NodeAddress, eid [keyspace.KeyIdSize]byte, window TimestampWindow, ranges []keyspace.HashRange, batchSize int) (RawSequence, error)
}

// Stats carries the iterator outcome counter from spec.md §4.2: +1 on
// successful iteration, -1 on failure, so callers can fold it alongside
// RecoverStat without a separate error channel.
type Stats struct {
	Iterations int
}

// Sequence is the buffered, replayable view of one node's iteration: it
// drains the backend's RawSequence into a Store (spilled under tmpDir) and
// then exposes it for BatchRunner to consume in fixed-size batches.
type Sequence struct {
	store *Store
}

// Records returns every buffered record, in the order the backend emitted
// them (ordering itself is unspecified per spec.md §4.2).
func (s *Sequence) Records() ([]IterRecord, error) {
	return s.store.Records()
}

// Len reports how many records were buffered.
func (s *Sequence) Len() uint64 { return s.store.Count() }

// Close releases the backing spill file.
func (s *Sequence) Close() error { return s.store.Close() }

// Driver drives a Backend against one node's foreign ranges, buffering the
// result to a spill Store under tmpDir (spec.md §4.2).
type Driver struct {
	backend Backend
	tmpDir  string
}

// NewDriver builds a Driver over backend, spilling under tmpDir.
func NewDriver(backend Backend, tmpDir string) *Driver {
	return &Driver{backend: backend, tmpDir: tmpDir}
}

// Iterate requests enumeration of every key on addr whose hash lies in any
// of ranges and whose timestamp lies in window, batched at batchSize by the
// backend, buffering the result locally. On iterator failure it returns
// (nil, stats{Iterations:-1}, nil) — not an error — mirroring spec.md's
// "skip the node, decrement iterations ... do not fail the whole group"
// (§4.2, §7). A non-nil error return means the local spill buffer itself
// failed, which IS a node-local failure.
func (d *Driver) Iterate(ctx context.Context, addr keyspace.NodeAddress, eid [keyspace.KeyIdSize]byte, ranges []keyspace.HashRange, window TimestampWindow, batchSize int) (*Sequence, Stats, error) {
	raw, err := d.backend.IterateWithStats(ctx, addr, eid, window, ranges, batchSize)
	if err != nil {
		return nil, Stats{Iterations: -1}, nil
	}
	defer raw.Close()

	store, err := NewStore(d.tmpDir)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("iterate %s: %w", addr, err)
	}

	for {
		rec, ok, err := raw.Next(ctx)
		if err != nil {
			store.Close()
			return nil, Stats{Iterations: -1}, nil
		}
		if !ok {
			break
		}
		if err := store.Put(rec); err != nil {
			store.Close()
			return nil, Stats{}, fmt.Errorf("iterate %s: spill record: %w", addr, err)
		}
	}

	return &Sequence{store: store}, Stats{Iterations: 1}, nil
}
