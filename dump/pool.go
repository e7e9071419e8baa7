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

package dump

import (
	"context"
	"sync"

	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/recovery"
)

// Pool distributes DumpGroupProcessor work across groups to a bounded pool
// of workers, sized min(ctx.nprocess, |groups|) (spec.md §4.7).
type Pool struct {
	Nprocess int
	NewGroup func(group uint32) *GroupProcessor
	Keys     []keyspace.KeyId
}

// Run processes every group in groups concurrently (bounded by Nprocess),
// AND-reducing their results and summing their Stat.
func (p *Pool) Run(ctx context.Context, groups []uint32) (bool, recovery.Stat) {
	workers := p.Nprocess
	if workers > len(groups) {
		workers = len(groups)
	}
	if workers < 1 {
		workers = 1
	}

	jobCh := make(chan uint32)
	go func() {
		for _, g := range groups {
			jobCh <- g
		}
		close(jobCh)
	}()

	var mu sync.Mutex
	ok := true
	var total recovery.Stat

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range jobCh {
				gp := p.NewGroup(group)
				groupOK, stat := gp.Run(ctx, p.Keys)
				mu.Lock()
				ok = ok && groupOK
				total = total.Add(stat)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return ok, total
}
