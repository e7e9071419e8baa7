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
	"hash/fnv"

	"github.com/elastic/go-freelru"
	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/storageclient"
)

// hashNodeAddress is the freelru hash callback: node addresses are
// low-cardinality (one per group member) so a simple FNV-1a over the
// string form is collision-safe enough for a bounded LRU.
func hashNodeAddress(a keyspace.NodeAddress) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(a.String()))
	return h.Sum32()
}

// ClientCache bounds how many dialed storageclient.Client handles a
// worker keeps warm at once. A NodeProcessor that is asked to process the
// same address again (multiple groups touching one node in one-node mode)
// reuses the cached handle instead of redialing.
type ClientCache struct {
	lru *freelru.SyncedLRU[keyspace.NodeAddress, storageclient.Client]
}

// NewClientCache builds a cache holding up to capacity dialed clients,
// closing evicted ones.
func NewClientCache(capacity uint32) (*ClientCache, error) {
	lru, err := freelru.NewSynced[keyspace.NodeAddress, storageclient.Client](capacity, hashNodeAddress)
	if err != nil {
		return nil, err
	}
	lru.SetOnEvict(func(_ keyspace.NodeAddress, c storageclient.Client) {
		_ = c.Close()
	})
	return &ClientCache{lru: lru}, nil
}

// GetOrDial returns the cached client for addr, dialing and caching a new
// one via dial if absent.
func (c *ClientCache) GetOrDial(addr keyspace.NodeAddress, dial func() (storageclient.Client, error)) (storageclient.Client, error) {
	if client, ok := c.lru.Get(addr); ok {
		return client, nil
	}
	client, err := dial()
	if err != nil {
		return nil, err
	}
	c.lru.Add(addr, client)
	return client, nil
}

// Close closes every cached client.
func (c *ClientCache) Close() {
	c.lru.Purge()
}
