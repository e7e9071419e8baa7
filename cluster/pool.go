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
	"os/signal"
	"sync"

	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/recovery"
	"github.com/nexus-storage/mergerecover/rlog"
)

// nodeResult is one node's outcome, returned to the pool for AND-reduction.
type nodeResult struct {
	addr keyspace.NodeAddress
	ok   bool
	stat recovery.Stat
}

// WorkerPool dispatches one NodeProcessor.ProcessNode call per node
// address to a bounded pool of workers, sized min(nprocess, |addresses|)
// (spec.md §4.6). Workers mask interrupt signals so only the caller of Run
// (via its own signal.Notify) decides when to cancel.
type WorkerPool struct {
	Nprocess  int
	Processor *NodeProcessor
	Log       *rlog.Logger
}

// Run processes every (addr, ranges) pair in the group, AND-reducing
// per-node results into the returned bool and folding their Stat.
// Run installs its own SIGINT/SIGTERM handler for the duration of the
// call: on receipt it cancels ctx, which causes in-flight storage calls
// to fail fast and unstarted node dispatches to be skipped.
func (p *WorkerPool) Run(parent context.Context, group uint32, foreign map[keyspace.NodeAddress][]keyspace.HashRange) (bool, recovery.Stat) {
	log := p.Log
	if log == nil {
		log = rlog.Nop()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, osInterruptSignals()...)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Warn("interrupt received, terminating worker pool", "group", group)
			cancel()
		case <-ctx.Done():
		}
	}()

	type job struct {
		addr   keyspace.NodeAddress
		ranges []keyspace.HashRange
	}
	jobs := make([]job, 0, len(foreign))
	for addr, ranges := range foreign {
		jobs = append(jobs, job{addr: addr, ranges: ranges})
	}

	workers := p.Nprocess
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers < 1 {
		workers = 1
	}

	jobCh := make(chan job)
	resultCh := make(chan nodeResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unmask := maskWorkerSignals()
			defer unmask()

			for j := range jobCh {
				if ctx.Err() != nil {
					resultCh <- nodeResult{addr: j.addr, ok: false}
					continue
				}
				ok, stat, _ := p.Processor.ProcessNode(ctx, j.addr, group, j.ranges)
				resultCh <- nodeResult{addr: j.addr, ok: ok, stat: stat}
			}
		}()
	}

	go func() {
		for _, j := range jobs {
			select {
			case jobCh <- j:
			case <-ctx.Done():
			}
		}
		close(jobCh)
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	ok := true
	var total recovery.Stat
	for r := range resultCh {
		ok = ok && r.ok
		total = total.Add(r.stat)
	}

	if ctx.Err() != nil {
		ok = false
	}
	return ok, total
}
