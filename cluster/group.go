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

package cluster

import (
	"context"
	"os"
	"syscall"

	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/recovery"
	"github.com/nexus-storage/mergerecover/rlog"
)

func osInterruptSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// GroupProcessor is the top of the merge-recovery control flow (spec.md
// §2, §4.6): for each group, compute foreign ranges and dispatch a
// WorkerPool over its nodes.
type GroupProcessor struct {
	Routes  *keyspace.RouteTable
	OneNode *keyspace.NodeAddress
	Pool    *WorkerPool
	Log     *rlog.Logger
}

// Run processes every group in groups, AND-reducing each group's result
// into the overall return value. A group whose one-node address is absent
// from its routing table is skipped with a warning, not a failure.
func (g *GroupProcessor) Run(ctx context.Context, groups []uint32) (bool, recovery.Stat) {
	log := g.Log
	if log == nil {
		log = rlog.Nop()
	}

	ok := true
	var total recovery.Stat

	for _, group := range groups {
		foreign, err := keyspace.ForeignRanges(g.Routes, group, g.OneNode)
		if err != nil {
			log.Warn("skipping group: one-node address not in routing table", "group", group)
			continue
		}
		if len(foreign) == 0 {
			continue
		}

		groupOK, stat := g.Pool.Run(ctx, group, foreign)
		ok = ok && groupOK
		total = total.Add(stat)

		if ctx.Err() != nil {
			break
		}
	}

	return ok, total
}
