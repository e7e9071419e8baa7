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

// Package dump implements dump recovery (spec.md §4.7): given a list of
// keys, probe every node in a group, recover from the best replica, and
// clean up stale copies.
package dump

import (
	"context"
	"sort"
	"time"

	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/recovery"
	"github.com/nexus-storage/mergerecover/storageclient"
)

// probeResult is one address's response to a direct lookup.
type probeResult struct {
	addr      keyspace.NodeAddress
	timestamp time.Time
	size      uint64
}

// Task recovers a single dumped key (spec.md §4.7).
type Task struct {
	Key    keyspace.KeyId
	Group  uint32
	Params recovery.Params

	Client storageclient.Client
	Router storageclient.RouteBook
}

// Run probes every address the group's routing table knows about, picks
// the (max timestamp, then max size) winners in deterministic address
// order, recovers from the first winner if the rightful owner isn't among
// them, then removes stale replicas from every other responding address.
func (t *Task) Run(ctx context.Context) (bool, recovery.Stat) {
	addrs := t.Router.Addresses(t.Group)
	sortAddrs(addrs)

	probes := t.probeAll(ctx, addrs)
	if len(probes) == 0 {
		return true, recovery.Stat{}
	}

	winners := selectWinners(probes)

	owner, hasOwner := t.Router.LookupAddress(t.Group, t.Key)
	ownerIsWinner := false
	if hasOwner {
		for _, w := range winners {
			if w.addr.Equal(owner) {
				ownerIsWinner = true
				break
			}
		}
	}

	var stat recovery.Stat
	recoverSrc := keyspace.NodeAddress{}
	didRecover := false

	if !ownerIsWinner && hasOwner {
		src := winners[0]
		task := recovery.NewTask(t.Key, src.timestamp, src.size, src.addr, t.Group, false, t.Params, t.Client, t.Router)
		_, taskStat := task.Run(ctx)
		stat = stat.Add(taskStat)
		recoverSrc = src.addr
		didRecover = true
	}

	// Without a resolvable owner there is no authoritative replica to keep,
	// so cleanup must not run at all — otherwise every responding replica,
	// including the (max-ts, max-size) winner, would be deleted outright.
	if hasOwner && !t.Params.Safe {
		for _, p := range probes {
			if p.addr.Equal(owner) {
				continue
			}
			if didRecover && p.addr.Equal(recoverSrc) {
				// Left to the RecoveryTask's own remove step, which runs only
				// after a successful write to the owner.
				continue
			}
			if removeStale(ctx, t.Client, p.addr, t.Key) {
				stat.Removed++
			} else {
				stat.RemoveFailed++
			}
		}
	}

	return true, stat
}

// probeAll issues a direct lookup to every address concurrently, awaiting
// each one (spec.md §9: "DumpRecover.wait ... implementers should await
// each lookup").
func (t *Task) probeAll(ctx context.Context, addrs []keyspace.NodeAddress) []probeResult {
	type slot struct {
		res probeResult
		ok  bool
	}
	slots := make([]slot, len(addrs))
	done := make(chan int, len(addrs))

	for i, addr := range addrs {
		i, addr := i, addr
		go func() {
			session := t.Client.Session()
			session.SetDirectId(addr)
			res, err := session.Lookup(ctx, t.Key)
			if err == nil && res.Exists {
				slots[i] = slot{res: probeResult{addr: addr, timestamp: res.Timestamp, size: res.Size}, ok: true}
			}
			done <- i
		}()
	}
	for range addrs {
		<-done
	}

	out := make([]probeResult, 0, len(addrs))
	for _, s := range slots {
		if s.ok {
			out = append(out, s.res)
		}
	}
	return out
}

// selectWinners picks, in deterministic address order, the probes with the
// maximum timestamp and, among those, the maximum size (spec.md §4.7,
// §9: ties broken by address order).
func selectWinners(probes []probeResult) []probeResult {
	sorted := make([]probeResult, len(probes))
	copy(sorted, probes)
	sortProbes(sorted)

	maxTS := sorted[0].timestamp
	for _, p := range sorted {
		if p.timestamp.After(maxTS) {
			maxTS = p.timestamp
		}
	}

	var atMaxTS []probeResult
	for _, p := range sorted {
		if p.timestamp.Equal(maxTS) {
			atMaxTS = append(atMaxTS, p)
		}
	}

	var maxSize uint64
	for _, p := range atMaxTS {
		if p.size > maxSize {
			maxSize = p.size
		}
	}

	var winners []probeResult
	for _, p := range atMaxTS {
		if p.size == maxSize {
			winners = append(winners, p)
		}
	}
	return winners
}

func removeStale(ctx context.Context, client storageclient.Client, addr keyspace.NodeAddress, key keyspace.KeyId) bool {
	session := client.Session()
	session.SetDirectId(addr)
	return session.Remove(ctx, key) == nil
}

func sortAddrs(addrs []keyspace.NodeAddress) {
	sort.Slice(addrs, func(i, j int) bool { return addrAddress(addrs[i]) < addrAddress(addrs[j]) })
}

func sortProbes(probes []probeResult) {
	sort.Slice(probes, func(i, j int) bool { return addrAddress(probes[i].addr) < addrAddress(probes[j].addr) })
}

func addrAddress(a keyspace.NodeAddress) string {
	return a.String()
}
