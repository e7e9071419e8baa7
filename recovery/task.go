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

package recovery

import (
	"context"
	"time"

	"github.com/nexus-storage/mergerecover/internal/numeric"
	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/storageclient"
)

// State is the RecoveryTask lifecycle state (spec.md §4.3).
type State int

const (
	StateNew State = iota
	StateResolveOwner
	StateLookup
	StateRead
	StateWrite
	StateRemove
	StateDone
	StateSkipped
	StateFailed
	StateDoneDryRun
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateResolveOwner:
		return "RESOLVE_OWNER"
	case StateLookup:
		return "LOOKUP"
	case StateRead:
		return "READ"
	case StateWrite:
		return "WRITE"
	case StateRemove:
		return "REMOVE"
	case StateDone:
		return "DONE"
	case StateSkipped:
		return "SKIPPED"
	case StateFailed:
		return "FAILED"
	case StateDoneDryRun:
		return "DONE_DRY_RUN"
	default:
		return "UNKNOWN"
	}
}

// Params is the subset of the shared Ctx bundle (spec.md §3) a RecoveryTask
// needs. The full config.Ctx is adapted into Params by its caller
// (cluster.NodeProcessor, dump.Task) so this package stays independent of
// config/CLI concerns.
type Params struct {
	ChunkSize   uint64
	Attempts    int
	WaitTimeout time.Duration
	Safe        bool
	DryRun      bool
}

// Task moves one key from SrcAddr to its rightful owner, or deletes it from
// SrcAddr if the owner already holds a newer copy (spec.md §4.3).
type Task struct {
	Key          keyspace.KeyId
	KeyTimestamp time.Time
	Size         uint64
	SrcAddr      keyspace.NodeAddress
	Group        uint32
	Check        bool

	Params Params
	Client storageclient.Client
	Router storageclient.RouteBook

	state      State
	result     bool
	justRemove bool

	recoveredSize uint64
	totalSize     uint64
	userFlags     uint64
	readTimestamp time.Time

	dstAddr keyspace.NodeAddress
	timeout time.Duration
	stat    Stat
}

// NewTask constructs a Task in state NEW.
func NewTask(key keyspace.KeyId, keyTimestamp time.Time, size uint64, srcAddr keyspace.NodeAddress, group uint32, check bool, params Params, client storageclient.Client, router storageclient.RouteBook) *Task {
	return &Task{
		Key:          key,
		KeyTimestamp: keyTimestamp,
		Size:         size,
		SrcAddr:      srcAddr,
		Group:        group,
		Check:        check,
		Params:       params,
		Client:       client,
		Router:       router,
		state:        StateNew,
		totalSize:    size,
		timeout:      params.WaitTimeout,
	}
}

// State returns the task's current (generally terminal, once Run returns)
// state.
func (t *Task) State() State { return t.state }

// Stat returns the task's locally accumulated statistics.
func (t *Task) Stat() Stat { return t.stat }

// Run drives the task to completion: RESOLVE_OWNER, optionally LOOKUP,
// then either REMOVE (just_remove) or the READ/WRITE pipeline followed by
// REMOVE, honoring dry-run and safe-mode. It returns the final pass/fail
// result and the accumulated Stat.
func (t *Task) Run(ctx context.Context) (bool, Stat) {
	t.state = StateResolveOwner
	dst, ok := t.Router.LookupAddress(t.Group, t.Key)
	if !ok {
		t.state = StateFailed
		t.result = false
		return false, t.stat
	}
	t.dstAddr = dst

	if t.dstAddr.Equal(t.SrcAddr) {
		// Already at its rightful owner: idempotent no-op, including the
		// race where topology shifted the key back into place.
		t.stat.Skipped++
		t.state = StateSkipped
		t.result = true
		return true, t.stat
	}

	if t.Check {
		t.state = StateLookup
		t.runLookup(ctx)
	}

	if t.Params.DryRun {
		t.state = StateDoneDryRun
		t.result = true
		return true, t.stat
	}

	if t.justRemove {
		t.state = StateRemove
		if t.Params.Safe {
			t.finish(true)
			return t.result, t.stat
		}
		ok := t.runRemove(ctx)
		t.finish(ok)
		return t.result, t.stat
	}

	for {
		t.state = StateRead
		data, readOK := t.runRead(ctx)
		if !readOK {
			t.finish(false)
			return t.result, t.stat
		}

		t.state = StateWrite
		writeSize, writeOK := t.runWrite(ctx, data)
		if !writeOK {
			t.finish(false)
			return t.result, t.stat
		}

		sum, overflow := numeric.SafeAdd(t.recoveredSize, writeSize)
		if overflow {
			// recovered_size must never wrap past total_size (spec.md §4.3
			// invariant "0 ≤ recovered_size ≤ total_size").
			t.finish(false)
			return t.result, t.stat
		}
		t.recoveredSize = sum
		if t.recoveredSize >= t.totalSize {
			break
		}
	}

	t.state = StateRemove
	if t.Params.Safe {
		t.finish(true)
		return t.result, t.stat
	}
	ok = t.runRemove(ctx)
	t.finish(ok)
	return t.result, t.stat
}

func (t *Task) finish(ok bool) {
	t.result = ok
	if ok {
		t.state = StateDone
	} else {
		t.state = StateFailed
	}
}

// runLookup issues a single direct lookup against dstAddr (no retry — not
// one of the three retried operations in spec.md §4.3) and sets justRemove
// if the owner already holds a strictly newer copy.
func (t *Task) runLookup(ctx context.Context) {
	session := t.Client.Session()
	session.SetDirectId(t.dstAddr)
	session.SetTimeout(t.timeout)

	res, err := session.Lookup(ctx, t.Key)
	if err != nil {
		return
	}
	if res.Exists && res.Timestamp.After(t.KeyTimestamp) {
		t.justRemove = true
	}
}

// chunkPlan describes the next read/write step given how much of the
// object has been recovered so far.
type chunkPlan struct {
	chunked bool
	offset  uint64
	size    uint64
	first   bool
	last    bool
}

func (t *Task) plan() chunkPlan {
	if t.totalSize <= t.Params.ChunkSize {
		return chunkPlan{chunked: false, offset: 0, size: 0, first: true, last: true}
	}
	totalChunks := numeric.CeilDiv(int(t.totalSize), int(t.Params.ChunkSize))
	chunkIndex := numeric.CeilDiv(int(t.recoveredSize), int(t.Params.ChunkSize))

	remaining := t.totalSize - t.recoveredSize
	size := remaining
	if size > t.Params.ChunkSize {
		size = t.Params.ChunkSize
	}
	return chunkPlan{
		chunked: true,
		offset:  t.recoveredSize,
		size:    size,
		first:   t.recoveredSize == 0,
		last:    chunkIndex+1 >= totalChunks,
	}
}

func (t *Task) runRead(ctx context.Context) ([]byte, bool) {
	plan := t.plan()

	session := t.Client.Session()
	session.SetDirectId(t.SrcAddr)
	if plan.chunked && !plan.first {
		// Whole-object checksums cannot validate a partial read.
		session.SetIOFlags(storageclient.IOFlags{NoChecksum: true})
	}

	var result storageclient.ReadResult
	ok := t.retry(ctx, &t.stat.ReadRetries, func(ctx context.Context) error {
		session.SetTimeout(t.timeout)
		res, err := session.ReadData(ctx, t.Key, plan.offset, plan.size)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if !ok {
		t.stat.ReadFailed++
		return nil, false
	}

	if plan.first {
		t.userFlags = result.UserFlags
		t.readTimestamp = result.Timestamp
		if result.TotalSize > 0 {
			t.totalSize = result.TotalSize
		}
	}

	t.stat.Read++
	t.stat.ReadBytes += result.Size
	return result.Data, true
}

func (t *Task) runWrite(ctx context.Context, data []byte) (uint64, bool) {
	plan := t.plan()

	session := t.Client.Session()
	session.SetDirectId(t.dstAddr)
	session.SetUserFlags(t.userFlags)

	var result storageclient.WriteResult
	ok := t.retry(ctx, &t.stat.WriteRetries, func(ctx context.Context) error {
		session.SetTimeout(t.timeout)
		var (
			res storageclient.WriteResult
			err error
		)
		switch {
		case !plan.chunked:
			res, err = session.WriteData(ctx, t.Key, data, 0)
		case plan.first:
			res, err = session.WritePrepare(ctx, t.Key, data, 0, t.totalSize)
		case plan.last:
			res, err = session.WriteCommit(ctx, t.Key, data, plan.offset, t.totalSize)
		default:
			res, err = session.WritePlain(ctx, t.Key, data, plan.offset)
		}
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if !ok {
		t.stat.WriteFailed++
		return 0, false
	}

	t.stat.Write++
	t.stat.WrittenBytes += result.Size
	size := result.Size
	if size == 0 {
		size = uint64(len(data))
	}
	return size, true
}

func (t *Task) runRemove(ctx context.Context) bool {
	session := t.Client.Session()
	session.SetDirectId(t.SrcAddr)

	ok := t.retry(ctx, &t.stat.RemoveRetries, func(ctx context.Context) error {
		session.SetTimeout(t.timeout)
		return session.Remove(ctx, t.Key)
	})
	if !ok {
		t.stat.RemoveFailed++
		return false
	}
	t.stat.Removed++
	return true
}

// retry runs op, doubling t.timeout and incrementing *retries on every
// failure short of ctx.attempts, per spec.md §4.3/§7. The timeout lives on
// the task (its "session"), not per-call, and is never reset between
// operations.
func (t *Task) retry(ctx context.Context, retries *uint64, op func(ctx context.Context) error) bool {
	attempt := 0
	for {
		err := op(ctx)
		if err == nil {
			return true
		}
		attempt++
		if attempt >= t.Params.Attempts {
			return false
		}
		*retries++
		t.timeout *= 2
	}
}
