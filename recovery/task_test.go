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
	"testing"
	"time"

	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/storageclient"
	"github.com/stretchr/testify/require"
)

func addr(host string) keyspace.NodeAddress {
	return keyspace.NodeAddress{Host: host, Port: 1025, Family: 2}
}

func keyFromByte(b byte) keyspace.KeyId {
	var k keyspace.KeyId
	k[0] = b
	return k
}

// fakeRouter is a one-key RouteBook stub: it always resolves Key to Owner.
type fakeRouter struct {
	key   keyspace.KeyId
	owner keyspace.NodeAddress
}

func (r fakeRouter) LookupAddress(group uint32, key keyspace.KeyId) (keyspace.NodeAddress, bool) {
	if key != r.key {
		return keyspace.NodeAddress{}, false
	}
	return r.owner, true
}
func (r fakeRouter) OwnedRanges(group uint32, a keyspace.NodeAddress) []keyspace.HashRange { return nil }
func (r fakeRouter) Addresses(group uint32) []keyspace.NodeAddress                         { return nil }
func (r fakeRouter) HasAddress(group uint32, a keyspace.NodeAddress) bool                  { return false }

// recordedCall is one session call observed by fakeSession, for assertions.
type recordedCall struct {
	kind   string // "lookup","read","writeData","writePrepare","writePlain","writeCommit","remove"
	offset uint64
	size   uint64
}

// fakeClient/fakeSession is an in-memory stand-in for storageclient.Client
// good enough to drive a single Task through its pipeline and observe, or
// script failures into, each call.
type fakeClient struct {
	calls *[]recordedCall

	lookupResult storageclient.LookupResult
	lookupErr    error

	// readErrs[i] is returned on the i'th ReadData call (0-indexed); beyond
	// the slice, reads succeed.
	readErrs []error
	object   []byte
	objTS    time.Time

	writeErrs []error
	removeErr error

	readCalls  int
	writeCalls int
}

func (c *fakeClient) Session() storageclient.Session { return &fakeSession{c: c} }
func (c *fakeClient) Close() error                    { return nil }

type fakeSession struct {
	c    *fakeClient
	addr keyspace.NodeAddress
}

func (s *fakeSession) SetDirectId(a keyspace.NodeAddress)       { s.addr = a }
func (s *fakeSession) SetTimeout(time.Duration)                 {}
func (s *fakeSession) SetIOFlags(storageclient.IOFlags)         {}
func (s *fakeSession) SetUserFlags(uint64)                      {}

func (s *fakeSession) LookupAddress(ctx context.Context, key keyspace.KeyId, group uint32) (keyspace.NodeAddress, error) {
	return keyspace.NodeAddress{}, nil
}

func (s *fakeSession) Lookup(ctx context.Context, key keyspace.KeyId) (storageclient.LookupResult, error) {
	*s.c.calls = append(*s.c.calls, recordedCall{kind: "lookup"})
	return s.c.lookupResult, s.c.lookupErr
}

func (s *fakeSession) ReadData(ctx context.Context, key keyspace.KeyId, offset, size uint64) (storageclient.ReadResult, error) {
	idx := s.c.readCalls
	s.c.readCalls++
	*s.c.calls = append(*s.c.calls, recordedCall{kind: "read", offset: offset, size: size})

	if idx < len(s.c.readErrs) && s.c.readErrs[idx] != nil {
		return storageclient.ReadResult{}, s.c.readErrs[idx]
	}

	total := uint64(len(s.c.object))
	n := size
	if n == 0 || offset+n > total {
		n = total - offset
	}
	return storageclient.ReadResult{
		Data:      s.c.object[offset : offset+n],
		Size:      n,
		Timestamp: s.c.objTS,
		TotalSize: total,
	}, nil
}

func (s *fakeSession) writeResult(kind string, offset uint64, data []byte) (storageclient.WriteResult, error) {
	idx := s.c.writeCalls
	s.c.writeCalls++
	*s.c.calls = append(*s.c.calls, recordedCall{kind: kind, offset: offset, size: uint64(len(data))})
	if idx < len(s.c.writeErrs) && s.c.writeErrs[idx] != nil {
		return storageclient.WriteResult{}, s.c.writeErrs[idx]
	}
	return storageclient.WriteResult{Size: uint64(len(data))}, nil
}

func (s *fakeSession) WriteData(ctx context.Context, key keyspace.KeyId, data []byte, offset uint64) (storageclient.WriteResult, error) {
	return s.writeResult("writeData", offset, data)
}
func (s *fakeSession) WritePrepare(ctx context.Context, key keyspace.KeyId, data []byte, remoteOffset, preparedSize uint64) (storageclient.WriteResult, error) {
	return s.writeResult("writePrepare", remoteOffset, data)
}
func (s *fakeSession) WritePlain(ctx context.Context, key keyspace.KeyId, data []byte, remoteOffset uint64) (storageclient.WriteResult, error) {
	return s.writeResult("writePlain", remoteOffset, data)
}
func (s *fakeSession) WriteCommit(ctx context.Context, key keyspace.KeyId, data []byte, remoteOffset, committedSize uint64) (storageclient.WriteResult, error) {
	return s.writeResult("writeCommit", remoteOffset, data)
}

func (s *fakeSession) Remove(ctx context.Context, key keyspace.KeyId) error {
	*s.c.calls = append(*s.c.calls, recordedCall{kind: "remove"})
	return s.c.removeErr
}

func defaultParams() Params {
	return Params{ChunkSize: 65536, Attempts: 3, WaitTimeout: time.Second}
}

// Scenario 1: already in place.
func TestTaskAlreadyInPlace(t *testing.T) {
	key := keyFromByte(0x01)
	a := addr("a")
	var calls []recordedCall
	client := &fakeClient{calls: &calls}
	router := fakeRouter{key: key, owner: a}

	task := NewTask(key, time.Now(), 10, a, 1, true, defaultParams(), client, router)
	ok, stat := task.Run(context.Background())

	require.True(t, ok)
	require.Equal(t, StateSkipped, task.State())
	require.Equal(t, uint64(1), stat.Skipped)
	require.Empty(t, calls)
}

// Scenario 2: owner has a newer copy -> just_remove, no read/write.
func TestTaskOwnerHasNewer(t *testing.T) {
	key := keyFromByte(0x01)
	a, b := addr("a"), addr("b")
	var calls []recordedCall
	client := &fakeClient{
		calls:        &calls,
		lookupResult: storageclient.LookupResult{Exists: true, Timestamp: time.Unix(200, 0)},
	}
	router := fakeRouter{key: key, owner: b}

	task := NewTask(key, time.Unix(100, 0), 10, a, 1, true, defaultParams(), client, router)
	ok, stat := task.Run(context.Background())

	require.True(t, ok)
	require.Equal(t, StateDone, task.State())
	require.Equal(t, uint64(1), stat.Removed)
	require.Equal(t, uint64(0), stat.Read)
	require.Equal(t, uint64(0), stat.Write)

	kinds := callKinds(calls)
	require.Equal(t, []string{"lookup", "remove"}, kinds)
}

func TestTaskOwnerHasNewerSafeModeSkipsRemove(t *testing.T) {
	key := keyFromByte(0x01)
	a, b := addr("a"), addr("b")
	var calls []recordedCall
	client := &fakeClient{
		calls:        &calls,
		lookupResult: storageclient.LookupResult{Exists: true, Timestamp: time.Unix(200, 0)},
	}
	router := fakeRouter{key: key, owner: b}

	params := defaultParams()
	params.Safe = true
	task := NewTask(key, time.Unix(100, 0), 10, a, 1, true, params, client, router)
	ok, _ := task.Run(context.Background())

	require.True(t, ok)
	kinds := callKinds(calls)
	require.NotContains(t, kinds, "remove")
}

// Scenario 3: owner missing, small object: single whole read/write/remove.
func TestTaskSmallObject(t *testing.T) {
	key := keyFromByte(0x01)
	a, b := addr("a"), addr("b")
	var calls []recordedCall
	object := make([]byte, 1024)
	client := &fakeClient{calls: &calls, object: object}
	router := fakeRouter{key: key, owner: b}

	task := NewTask(key, time.Now(), 1024, a, 1, false, defaultParams(), client, router)
	ok, stat := task.Run(context.Background())

	require.True(t, ok)
	require.Equal(t, StateDone, task.State())
	require.Equal(t, uint64(1), stat.Read)
	require.Equal(t, uint64(1), stat.Write)
	require.Equal(t, uint64(1024), stat.ReadBytes)
	require.Equal(t, uint64(1024), stat.WrittenBytes)
	require.Equal(t, uint64(1), stat.Removed)

	kinds := callKinds(calls)
	require.Equal(t, []string{"read", "writeData", "remove"}, kinds)
}

// Scenario 4: chunked 3-way (here exactly two 100K chunks; the final
// read/commit step may be coalesced, per spec.md's explicit tolerance).
func TestTaskChunkedTwoHundredK(t *testing.T) {
	key := keyFromByte(0x01)
	a, b := addr("a"), addr("b")
	var calls []recordedCall
	object := make([]byte, 200*1024)
	client := &fakeClient{calls: &calls, object: object}
	router := fakeRouter{key: key, owner: b}

	params := defaultParams()
	params.ChunkSize = 100 * 1024
	task := NewTask(key, time.Now(), uint64(len(object)), a, 1, false, params, client, router)
	ok, stat := task.Run(context.Background())

	require.True(t, ok)
	require.GreaterOrEqual(t, stat.Read, uint64(2))
	require.Equal(t, uint64(len(object)), stat.WrittenBytes)
	require.Equal(t, uint64(1), stat.Removed)

	kinds := callKinds(calls)
	prepareCount, commitCount := 0, 0
	for _, k := range kinds {
		if k == "writePrepare" {
			prepareCount++
		}
		if k == "writeCommit" {
			commitCount++
		}
	}
	require.Equal(t, 1, prepareCount)
	require.LessOrEqual(t, commitCount, 1)
}

// Scenario 5: read fails twice then succeeds.
func TestTaskReadRetriesThenSuccess(t *testing.T) {
	key := keyFromByte(0x01)
	a, b := addr("a"), addr("b")
	var calls []recordedCall
	object := make([]byte, 10)
	client := &fakeClient{
		calls:  &calls,
		object: object,
		readErrs: []error{
			errTimeout{},
			errTimeout{},
		},
	}
	router := fakeRouter{key: key, owner: b}

	params := defaultParams()
	params.Attempts = 3
	task := NewTask(key, time.Now(), 10, a, 1, false, params, client, router)
	ok, stat := task.Run(context.Background())

	require.True(t, ok)
	require.Equal(t, uint64(2), stat.ReadRetries)
	require.Equal(t, uint64(1), stat.Read)
}

// Safe mode: the normal read/write path finishes without issuing a remove.
func TestTaskSafeModeNeverRemoves(t *testing.T) {
	key := keyFromByte(0x01)
	a, b := addr("a"), addr("b")
	var calls []recordedCall
	object := make([]byte, 10)
	client := &fakeClient{calls: &calls, object: object}
	router := fakeRouter{key: key, owner: b}

	params := defaultParams()
	params.Safe = true
	task := NewTask(key, time.Now(), 10, a, 1, false, params, client, router)
	ok, _ := task.Run(context.Background())

	require.True(t, ok)
	require.NotContains(t, callKinds(calls), "remove")
}

// Dry run: only a lookup may be issued; no read/write/remove.
func TestTaskDryRunIssuesNoMutatingOps(t *testing.T) {
	key := keyFromByte(0x01)
	a, b := addr("a"), addr("b")
	var calls []recordedCall
	client := &fakeClient{calls: &calls}
	router := fakeRouter{key: key, owner: b}

	params := defaultParams()
	params.DryRun = true
	task := NewTask(key, time.Now(), 10, a, 1, true, params, client, router)
	ok, _ := task.Run(context.Background())

	require.True(t, ok)
	require.Equal(t, StateDoneDryRun, task.State())
	for _, k := range callKinds(calls) {
		require.NotEqual(t, "read", k)
		require.NotEqual(t, "remove", k)
		require.NotContains(t, []string{"writeData", "writePrepare", "writePlain", "writeCommit"}, k)
	}
}

// Retry bound: exhausting attempts leaves the task failed, with retries
// never exceeding ctx.attempts.
func TestTaskRetryBoundExhausted(t *testing.T) {
	key := keyFromByte(0x01)
	a, b := addr("a"), addr("b")
	var calls []recordedCall
	client := &fakeClient{
		calls:    &calls,
		object:   make([]byte, 10),
		readErrs: []error{errTimeout{}, errTimeout{}, errTimeout{}},
	}
	router := fakeRouter{key: key, owner: b}

	params := defaultParams()
	params.Attempts = 3
	task := NewTask(key, time.Now(), 10, a, 1, false, params, client, router)
	ok, stat := task.Run(context.Background())

	require.False(t, ok)
	require.Equal(t, StateFailed, task.State())
	require.Equal(t, uint64(1), stat.ReadFailed)
	require.LessOrEqual(t, stat.ReadRetries, uint64(params.Attempts))
	require.Empty(t, callKindsFiltered(calls, "writeData", "writePrepare", "writePlain", "writeCommit", "remove"))
}

func callKinds(calls []recordedCall) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.kind)
	}
	return out
}

func callKindsFiltered(calls []recordedCall, kinds ...string) []string {
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []string
	for _, c := range calls {
		if want[c.kind] {
			out = append(out, c.kind)
		}
	}
	return out
}

type errTimeout struct{}

func (errTimeout) Error() string { return "timeout" }
