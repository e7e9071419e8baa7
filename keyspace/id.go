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

// Package keyspace models the consistent-hash keyspace of a single replica
// group: fixed-width key identifiers, hash ranges, and the routing table
// that maps ranges to owning node addresses.
package keyspace

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// KeyIdSize is the conventional width, in bytes, of a KeyId.
const KeyIdSize = 64

// KeyId is an opaque fixed-width key identifier, ordered lexicographically.
type KeyId [KeyIdSize]byte

// IdMin and IdMax are the sentinel bounds of the whole keyspace: [IdMin, IdMax].
var (
	IdMin = KeyId{}
	IdMax = func() KeyId {
		var id KeyId
		for i := range id {
			id[i] = 0xff
		}
		return id
	}()
)

// Less reports whether k orders strictly before other.
func (k KeyId) Less(other KeyId) bool {
	return bytes.Compare(k[:], other[:]) < 0
}

// Compare is the three-way lexicographic comparison of k and other.
func (k KeyId) Compare(other KeyId) int {
	return bytes.Compare(k[:], other[:])
}

func (k KeyId) String() string {
	return hex.EncodeToString(k[:])
}

// KeyIdFromBytes copies b into a KeyId, zero-padding on the right if b is
// shorter than KeyIdSize and truncating if it is longer.
func KeyIdFromBytes(b []byte) KeyId {
	var id KeyId
	copy(id[:], b)
	return id
}

// ParseKeyId decodes a canonical hex key string, as found one-per-line in a
// dump file (spec.md §6, "Environment").
func ParseKeyId(s string) (KeyId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return KeyId{}, fmt.Errorf("parse key id %q: %w", s, err)
	}
	if len(b) != KeyIdSize {
		return KeyId{}, fmt.Errorf("parse key id %q: want %d bytes, got %d", s, KeyIdSize, len(b))
	}
	return KeyIdFromBytes(b), nil
}

// NodeAddress is the opaque network identity of a node within a group: host,
// port, address family, plus the group-qualified routing identifier (eid)
// the storage client's iterator and direct-session calls key off of.
type NodeAddress struct {
	Host   string
	Port   uint16
	Family uint8
	Eid    [KeyIdSize]byte
}

func (a NodeAddress) String() string {
	return fmt.Sprintf("%s:%d/%d", a.Host, a.Port, a.Family)
}

// Equal reports whether two addresses name the same node.
func (a NodeAddress) Equal(other NodeAddress) bool {
	return a.Host == other.Host && a.Port == other.Port && a.Family == other.Family
}

// HashRange is a half-open range [Lo, Hi) of the keyspace, Lo < Hi.
type HashRange struct {
	Lo KeyId
	Hi KeyId
}

func (r HashRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Lo, r.Hi)
}

// Empty reports whether the range contains no keys.
func (r HashRange) Empty() bool {
	return !r.Lo.Less(r.Hi)
}

// Contains reports whether k falls within the half-open range.
func (r HashRange) Contains(k KeyId) bool {
	return !k.Less(r.Lo) && k.Less(r.Hi)
}
