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
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/recovery"
	"github.com/nexus-storage/mergerecover/rlog"
	"github.com/nexus-storage/mergerecover/storageclient"
)

// GroupProcessor reads ctx.dump_file in batch_size chunks, running every
// chunk's Tasks concurrently before moving to the next (spec.md §4.7).
type GroupProcessor struct {
	Group     uint32
	BatchSize int
	Params    recovery.Params

	Client storageclient.Client
	Router storageclient.RouteBook
	Log    *rlog.Logger
}

// ReadKeys parses one canonical hex key per line from path (spec.md §6).
func ReadKeys(path string) ([]keyspace.KeyId, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dump: open %s: %w", path, err)
	}
	defer f.Close()

	var keys []keyspace.KeyId
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		key, err := keyspace.ParseKeyId(line)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dump: read %s: %w", path, err)
	}
	return keys, nil
}

// Run processes every key, batch by batch, folding stats. It returns
// ok=true unless ctx is cancelled before a batch starts: per spec.md §7 no
// single key failure fails the dump run; only cancellation does.
func (g *GroupProcessor) Run(ctx context.Context, keys []keyspace.KeyId) (bool, recovery.Stat) {
	var total recovery.Stat

	size := g.BatchSize
	if size <= 0 {
		size = 1
	}

	for start := 0; start < len(keys); start += size {
		if ctx.Err() != nil {
			return false, total
		}
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		total = total.Add(g.runBatch(ctx, keys[start:end]))
	}
	return true, total
}

func (g *GroupProcessor) runBatch(ctx context.Context, keys []keyspace.KeyId) recovery.Stat {
	stats := make([]recovery.Stat, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		i, key := i, key
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := &Task{Key: key, Group: g.Group, Params: g.Params, Client: g.Client, Router: g.Router}
			_, stat := task.Run(ctx)
			stats[i] = stat
		}()
	}
	wg.Wait()
	return recovery.Sum(stats)
}
