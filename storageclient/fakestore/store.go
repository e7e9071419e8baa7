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

// Package fakestore is a small in-memory implementation of
// storageclient.Client/Session, standing in for the real storage client
// library in integration-style tests across batch, cluster, and dump.
package fakestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/storageclient"
	bolt "go.etcd.io/bbolt"
)

var objectsBucket = []byte("objects")

type object struct {
	data      []byte
	userFlags uint64
	timestamp time.Time
}

// Node is one simulated storage node: an in-memory object table keyed by
// KeyId, shared by every Session minted against it.
type Node struct {
	Addr keyspace.NodeAddress

	mu      sync.Mutex
	objects map[keyspace.KeyId]*object

	db   *bolt.DB
	path string
}

// NewNode opens a node backed by an in-memory object table, using the bolt
// file at path only to prove out the open/bucket/close lifecycle a real
// embedded-engine-backed node would have.
func NewNode(addr keyspace.NodeAddress, path string) (*Node, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("fakestore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Node{Addr: addr, objects: make(map[keyspace.KeyId]*object), db: db, path: path}, nil
}

// Close releases the backing bolt file.
func (n *Node) Close() error { return n.db.Close() }

// Put seeds the node with an object directly, for test setup.
func (n *Node) Put(key keyspace.KeyId, data []byte, ts time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	n.objects[key] = &object{data: cp, timestamp: ts}
}

// Dialer vends Clients backed by a fixed set of Nodes, keyed by address —
// the test double for storageclient.Dialer.
type Dialer struct {
	nodes map[keyspace.NodeAddress]*Node
}

// NewDialer builds a Dialer over the given nodes.
func NewDialer(nodes ...*Node) *Dialer {
	d := &Dialer{nodes: make(map[keyspace.NodeAddress]*Node, len(nodes))}
	for _, n := range nodes {
		d.nodes[n.Addr] = n
	}
	return d
}

func (d *Dialer) NewNode(ctx context.Context, addr keyspace.NodeAddress, waitTimeout time.Duration, ioThreads int, remotes []keyspace.NodeAddress) (storageclient.Client, error) {
	return &Client{dialer: d}, nil
}

// Client is a handle able to mint Sessions pinned to any node the Dialer
// knows about, mirroring the real library's routed/direct session split.
type Client struct {
	dialer *Dialer
}

func (c *Client) Session() storageclient.Session { return &Session{client: c} }
func (c *Client) Close() error                    { return nil }

// Session operates against whichever node SetDirectId last pinned it to.
type Session struct {
	client *Client
	addr   keyspace.NodeAddress
	flags  storageclient.IOFlags
	userFl uint64
}

func (s *Session) SetDirectId(addr keyspace.NodeAddress) { s.addr = addr }
func (s *Session) SetTimeout(time.Duration)               {}
func (s *Session) SetIOFlags(flags storageclient.IOFlags) { s.flags = flags }
func (s *Session) SetUserFlags(v uint64)                  { s.userFl = v }

func (s *Session) node() (*Node, error) {
	n, ok := s.client.dialer.nodes[s.addr]
	if !ok {
		return nil, fmt.Errorf("fakestore: no such node %s", s.addr)
	}
	return n, nil
}

func (s *Session) LookupAddress(ctx context.Context, key keyspace.KeyId, group uint32) (keyspace.NodeAddress, error) {
	return keyspace.NodeAddress{}, fmt.Errorf("fakestore: LookupAddress is not routable without a RouteBook")
}

func (s *Session) Lookup(ctx context.Context, key keyspace.KeyId) (storageclient.LookupResult, error) {
	n, err := s.node()
	if err != nil {
		return storageclient.LookupResult{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	obj, ok := n.objects[key]
	if !ok {
		return storageclient.LookupResult{Exists: false}, nil
	}
	return storageclient.LookupResult{Exists: true, Address: n.Addr, Timestamp: obj.timestamp, Size: uint64(len(obj.data))}, nil
}

func (s *Session) ReadData(ctx context.Context, key keyspace.KeyId, offset, size uint64) (storageclient.ReadResult, error) {
	n, err := s.node()
	if err != nil {
		return storageclient.ReadResult{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	obj, ok := n.objects[key]
	if !ok {
		return storageclient.ReadResult{}, fmt.Errorf("fakestore: read %s: not found", key)
	}
	total := uint64(len(obj.data))
	if offset > total {
		return storageclient.ReadResult{}, fmt.Errorf("fakestore: read %s: offset %d past end %d", key, offset, total)
	}
	n2 := size
	if n2 == 0 || offset+n2 > total {
		n2 = total - offset
	}
	return storageclient.ReadResult{
		Data:      obj.data[offset : offset+n2],
		Size:      n2,
		UserFlags: obj.userFlags,
		Timestamp: obj.timestamp,
		TotalSize: total,
	}, nil
}

func (s *Session) write(key keyspace.KeyId, data []byte, offset, totalSize uint64) (storageclient.WriteResult, error) {
	n, err := s.node()
	if err != nil {
		return storageclient.WriteResult{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	obj, ok := n.objects[key]
	if !ok {
		size := totalSize
		if size < offset+uint64(len(data)) {
			size = offset + uint64(len(data))
		}
		obj = &object{data: make([]byte, size), timestamp: time.Now()}
		n.objects[key] = obj
	}
	end := offset + uint64(len(data))
	if end > uint64(len(obj.data)) {
		grown := make([]byte, end)
		copy(grown, obj.data)
		obj.data = grown
	}
	copy(obj.data[offset:end], data)
	obj.userFlags = s.userFl
	return storageclient.WriteResult{Size: uint64(len(data))}, nil
}

func (s *Session) WriteData(ctx context.Context, key keyspace.KeyId, data []byte, offset uint64) (storageclient.WriteResult, error) {
	return s.write(key, data, offset, uint64(len(data)))
}
func (s *Session) WritePrepare(ctx context.Context, key keyspace.KeyId, data []byte, remoteOffset, preparedSize uint64) (storageclient.WriteResult, error) {
	return s.write(key, data, remoteOffset, preparedSize)
}
func (s *Session) WritePlain(ctx context.Context, key keyspace.KeyId, data []byte, remoteOffset uint64) (storageclient.WriteResult, error) {
	return s.write(key, data, remoteOffset, 0)
}
func (s *Session) WriteCommit(ctx context.Context, key keyspace.KeyId, data []byte, remoteOffset, committedSize uint64) (storageclient.WriteResult, error) {
	return s.write(key, data, remoteOffset, committedSize)
}

func (s *Session) Remove(ctx context.Context, key keyspace.KeyId) error {
	n, err := s.node()
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.objects[key]; !ok {
		return fmt.Errorf("fakestore: remove %s: not found", key)
	}
	delete(n.objects, key)
	return nil
}
