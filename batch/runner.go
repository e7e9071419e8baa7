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

// Package batch drives RecoveryTasks over an iterator sequence in
// fixed-size, barrier-synchronized batches, folding their per-task results
// and statistics.
package batch

import (
	"context"

	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/recovery"
	"github.com/nexus-storage/mergerecover/spill"
	"github.com/nexus-storage/mergerecover/storageclient"
	"golang.org/x/sync/errgroup"
)

// Runner consumes a finite sequence of spill.IterRecord, grouped into
// fixed-size contiguous batches. Within a batch every RecoveryTask runs
// concurrently; the runner waits for the whole batch before starting the
// next one, AND-reducing task results and summing their Stat.
type Runner struct {
	BatchSize int
	Check     bool
	Params    recovery.Params
	Client    storageclient.Client
	Router    storageclient.RouteBook
}

// Run drives records from srcAddr within group to completion, batch by
// batch. It never aborts early on a single task failure — only the AND of
// every task's result feeds into ok, matching spec's "no single key failure
// fails the run".
func (r *Runner) Run(ctx context.Context, records []spill.IterRecord, srcAddr keyspace.NodeAddress, group uint32) (bool, recovery.Stat) {
	ok := true
	var total recovery.Stat

	size := r.BatchSize
	if size <= 0 {
		size = 1
	}

	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batchOK, batchStat := r.runBatch(ctx, records[start:end], srcAddr, group)
		ok = ok && batchOK
		total = total.Add(batchStat)
	}

	return ok, total
}

func (r *Runner) runBatch(ctx context.Context, batch []spill.IterRecord, srcAddr keyspace.NodeAddress, group uint32) (bool, recovery.Stat) {
	stats := make([]recovery.Stat, len(batch))
	results := make([]bool, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i, rec := range batch {
		i, rec := i, rec
		g.Go(func() error {
			task := recovery.NewTask(rec.Key, rec.Timestamp, rec.Size, srcAddr, group, r.Check, r.Params, r.Client, r.Router)
			ok, stat := task.Run(gctx)
			results[i] = ok
			stats[i] = stat
			return nil
		})
	}
	// Every task absorbs its own errors into result=false and every
	// goroutine returns nil, so Wait is only a barrier: it never reports a
	// task's terminal I/O failure.
	_ = g.Wait()

	ok := true
	for _, r := range results {
		ok = ok && r
	}
	return ok, recovery.Sum(stats)
}
