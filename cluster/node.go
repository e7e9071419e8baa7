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

// Package cluster orchestrates merge recovery for one node
// (NodeProcessor), across the nodes of a group (WorkerPool) and across
// groups (GroupProcessor), the process-level fan-out tier of spec.md §5.
package cluster

import (
	"context"
	"time"

	"github.com/nexus-storage/mergerecover/batch"
	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/recovery"
	"github.com/nexus-storage/mergerecover/rlog"
	"github.com/nexus-storage/mergerecover/spill"
	"github.com/nexus-storage/mergerecover/storageclient"
)

// Timing is the {started, iterate, recover, finished} timer spec.md §4.5
// asks NodeProcessor to record.
type Timing struct {
	Started  time.Time
	Iterate  time.Time
	Recover  time.Time
	Finished time.Time
}

// NodeProcessor drives one node's worth of merge recovery: dial the node,
// iterate its foreign ranges, hand the records to a batch.Runner.
type NodeProcessor struct {
	Dialer storageclient.Dialer
	Router storageclient.RouteBook
	Driver *spill.Driver

	Address     keyspace.NodeAddress // ctx.address: this worker's own bootstrap address
	Remotes     []keyspace.NodeAddress
	IOThreads   int
	WaitTimeout time.Duration

	BatchSize int
	Check     bool
	Params    recovery.Params

	// Cache, if set, lets a worker that processes the same address
	// across multiple groups (one-node mode) reuse a dialed client
	// instead of redialing.
	Cache *ClientCache

	Log *rlog.Logger
}

func (p *NodeProcessor) dial(ctx context.Context) (storageclient.Client, error) {
	dial := func() (storageclient.Client, error) {
		return p.Dialer.NewNode(ctx, p.Address, p.WaitTimeout, p.IOThreads, p.Remotes)
	}
	if p.Cache == nil {
		return dial()
	}
	return p.Cache.GetOrDial(p.Address, dial)
}

// ProcessNode runs the full per-node pipeline and reports success. It
// reports false when the dial, the local spill buffer or the spill replay
// fails, and when any key's recovery fails (the batch runner AND-reduces
// per-key results). An iterator-backend failure skips the node and reports
// true with a negative Iterations count.
func (p *NodeProcessor) ProcessNode(ctx context.Context, srcAddr keyspace.NodeAddress, group uint32, ranges []keyspace.HashRange) (bool, recovery.Stat, Timing) {
	var timing Timing
	timing.Started = time.Now()
	log := p.Log
	if log == nil {
		log = rlog.Nop()
	}

	client, err := p.dial(ctx)
	if err != nil {
		log.Error("node dial failed", "addr", srcAddr.String(), "group", group, "err", err)
		timing.Finished = time.Now()
		return false, recovery.Stat{}, timing
	}
	if p.Cache == nil {
		defer client.Close()
	}

	eid := srcAddr.Eid
	window := spill.TimestampWindow{} // ctx.timestamp_floor, zero value = no floor
	seq, iterStats, err := p.Driver.Iterate(ctx, srcAddr, eid, ranges, window, p.BatchSize)
	timing.Iterate = time.Now()
	if err != nil {
		log.Error("iterate failed", "addr", srcAddr.String(), "group", group, "err", err)
		timing.Finished = time.Now()
		return false, recovery.Stat{}, timing
	}
	if iterStats.Iterations < 0 {
		// Iterator-backend failure: skip this node, don't fail the group.
		log.Warn("iterator backend failed, skipping node", "addr", srcAddr.String(), "group", group)
		timing.Finished = time.Now()
		return true, recovery.Stat{Iterations: int64(iterStats.Iterations)}, timing
	}
	defer seq.Close()

	if seq.Len() == 0 {
		timing.Recover = time.Now()
		timing.Finished = time.Now()
		return true, recovery.Stat{Iterations: int64(iterStats.Iterations)}, timing
	}

	records, err := seq.Records()
	if err != nil {
		log.Error("spill replay failed", "addr", srcAddr.String(), "group", group, "err", err)
		timing.Finished = time.Now()
		return false, recovery.Stat{}, timing
	}

	runner := &batch.Runner{
		BatchSize: p.BatchSize,
		Check:     p.Check,
		Params:    p.Params,
		Client:    client,
		Router:    p.Router,
	}
	ok, stat := runner.Run(ctx, records, srcAddr, group)
	stat.Iterations += int64(iterStats.Iterations)
	timing.Recover = time.Now()
	timing.Finished = time.Now()

	if !ok {
		log.Warn("node recovery completed with failures", "addr", srcAddr.String(), "group", group,
			"read_failed", stat.ReadFailed, "write_failed", stat.WriteFailed, "remove_failed", stat.RemoveFailed)
	}
	return ok, stat, timing
}
