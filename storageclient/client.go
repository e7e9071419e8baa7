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

// Package storageclient defines the minimum abstract interface the merge
// recovery core requires from the underlying storage client library
// (spec.md §6). The real implementation — session management, wire
// protocol, node bootstrap — lives outside this module; everything here is
// the boundary the core programs against.
package storageclient

import (
	"context"
	"time"

	"github.com/nexus-storage/mergerecover/keyspace"
)

// LookupResult is the outcome of a direct lookup against one address.
type LookupResult struct {
	Exists    bool
	Address   keyspace.NodeAddress
	Timestamp time.Time
	Size      uint64
}

// ReadResult is the outcome of a read, whole-object or chunked.
type ReadResult struct {
	Data      []byte
	Size      uint64 // bytes returned in this chunk
	UserFlags uint64
	Timestamp time.Time
	TotalSize uint64 // authoritative object size, from the read's io attributes
}

// WriteResult is the outcome of any of the write variants.
type WriteResult struct {
	Size uint64 // bytes accepted in this chunk
}

// IOFlags mutate session read/write behavior, notably the no-checksum flag
// RecoveryTask sets after the first chunk of a chunked read (spec.md §4.3:
// "a whole-object checksum cannot validate partial reads").
type IOFlags struct {
	NoChecksum bool
}

// Session is a per-task handle to one node, direct or routed. Sessions are
// owned exclusively by the RecoveryTask/DumpTask that created them and are
// never shared across tasks or goroutines (spec.md §3, §5).
type Session interface {
	// SetDirectId pins the session to addr, bypassing routing.
	SetDirectId(addr keyspace.NodeAddress)
	// SetTimeout sets the per-call timeout used by the next operation.
	SetTimeout(d time.Duration)
	// SetIOFlags updates the session's read/write flags.
	SetIOFlags(flags IOFlags)
	// SetUserFlags sets the flags persisted alongside a written object.
	SetUserFlags(v uint64)

	// LookupAddress resolves the rightful owner of key within group,
	// consulting routing rather than any specific node.
	LookupAddress(ctx context.Context, key keyspace.KeyId, group uint32) (keyspace.NodeAddress, error)

	// Lookup issues a direct existence/metadata probe against the
	// session's pinned address.
	Lookup(ctx context.Context, key keyspace.KeyId) (LookupResult, error)

	// ReadData reads size bytes at offset from the session's pinned
	// address. size == 0 means "whole object".
	ReadData(ctx context.Context, key keyspace.KeyId, offset, size uint64) (ReadResult, error)

	// WriteData performs a single, non-chunked whole-object write.
	WriteData(ctx context.Context, key keyspace.KeyId, data []byte, offset uint64) (WriteResult, error)
	// WritePrepare begins a chunked write, reserving preparedSize bytes.
	WritePrepare(ctx context.Context, key keyspace.KeyId, data []byte, remoteOffset, preparedSize uint64) (WriteResult, error)
	// WritePlain appends a middle chunk of a chunked write.
	WritePlain(ctx context.Context, key keyspace.KeyId, data []byte, remoteOffset uint64) (WriteResult, error)
	// WriteCommit appends the final chunk of a chunked write, fixing the
	// object at committedSize bytes.
	WriteCommit(ctx context.Context, key keyspace.KeyId, data []byte, remoteOffset, committedSize uint64) (WriteResult, error)

	// Remove deletes key from the session's pinned address.
	Remove(ctx context.Context, key keyspace.KeyId) error
}

// Client is a bootstrapped handle to a storage node, capable of minting
// sessions against it (spec.md §6, newNode/Session).
type Client interface {
	// Session opens a new session against the node.
	Session() Session
	// Close releases node-level resources (connections, io threads).
	Close() error
}

// Dialer constructs node Clients the way the external storage library's
// newNode does: bootstrap address, logger, timeout, io thread count and
// seed remotes (spec.md §6). NodeProcessor (cluster package) is the only
// caller.
type Dialer interface {
	NewNode(ctx context.Context, addr keyspace.NodeAddress, waitTimeout time.Duration, ioThreads int, remotes []keyspace.NodeAddress) (Client, error)
}

// RouteBook is the read-only routing surface RecoveryTask and DumpTask
// consult (spec.md §6, routes.getAddressRanges /
// getAddressEid / lookupAddress collapsed to the subset this core needs).
type RouteBook interface {
	LookupAddress(group uint32, key keyspace.KeyId) (keyspace.NodeAddress, bool)
	OwnedRanges(group uint32, addr keyspace.NodeAddress) []keyspace.HashRange
	Addresses(group uint32) []keyspace.NodeAddress
	HasAddress(group uint32, addr keyspace.NodeAddress) bool
}
