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

package keyspace

import (
	"fmt"
	"sort"

	"github.com/tidwall/btree"
)

// routeEntry is one (range, owner) mapping inside a single group's table,
// ordered by the range's lower bound.
type routeEntry struct {
	Range HashRange
	Owner NodeAddress
}

func rangeLess(a, b routeEntry) bool {
	return a.Range.Lo.Less(b.Range.Lo)
}

// RouteTable is the group-qualified mapping from hash ranges to owning node
// addresses (spec.md §3). Ranges within one group partition
// [IdMin, IdMax]: sorted, non-overlapping, contiguous. Each group's ranges
// are held in their own ordered tree, giving lookupAddress and
// ForeignRanges (§4.1) an O(log n) floor search instead of a linear scan.
type RouteTable struct {
	groups map[uint32]*btree.BTreeG[routeEntry]
}

// NewRouteTable builds an empty RouteTable.
func NewRouteTable() *RouteTable {
	return &RouteTable{groups: make(map[uint32]*btree.BTreeG[routeEntry])}
}

// Insert adds a (range, owner) mapping to the given group. Callers are
// expected to insert a full, valid partition of [IdMin, IdMax] per group;
// RouteTable itself does not enforce the partition invariant, it only
// stores what it is given (mirroring the external routing-table
// acquisition named out of scope in spec.md §1).
func (rt *RouteTable) Insert(group uint32, r HashRange, owner NodeAddress) error {
	if !r.Lo.Less(r.Hi) {
		return fmt.Errorf("insert route: range %s has lo >= hi", r)
	}
	tr, ok := rt.groups[group]
	if !ok {
		tr = btree.NewBTreeG(rangeLess)
		rt.groups[group] = tr
	}
	tr.Set(routeEntry{Range: r, Owner: owner})
	return nil
}

// Ranges returns every (range, owner) entry of group, sorted ascending by
// range lower bound.
func (rt *RouteTable) Ranges(group uint32) []routeEntry {
	tr, ok := rt.groups[group]
	if !ok {
		return nil
	}
	out := make([]routeEntry, 0, tr.Len())
	tr.Scan(func(item routeEntry) bool {
		out = append(out, item)
		return true
	})
	return out
}

// OwnedRanges returns the ranges addr owns within group, sorted ascending.
func (rt *RouteTable) OwnedRanges(group uint32, addr NodeAddress) []HashRange {
	var out []HashRange
	for _, e := range rt.Ranges(group) {
		if e.Owner.Equal(addr) {
			out = append(out, e.Range)
		}
	}
	return out
}

// HasAddress reports whether addr owns at least one range in group.
func (rt *RouteTable) HasAddress(group uint32, addr NodeAddress) bool {
	tr, ok := rt.groups[group]
	if !ok {
		return false
	}
	found := false
	tr.Scan(func(item routeEntry) bool {
		if item.Owner.Equal(addr) {
			found = true
			return false
		}
		return true
	})
	return found
}

// Addresses returns every distinct address holding a range in group.
func (rt *RouteTable) Addresses(group uint32) []NodeAddress {
	tr, ok := rt.groups[group]
	if !ok {
		return nil
	}
	seen := make(map[NodeAddress]bool)
	var out []NodeAddress
	tr.Scan(func(item routeEntry) bool {
		if !seen[item.Owner] {
			seen[item.Owner] = true
			out = append(out, item.Owner)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// LookupAddress returns the owner of key within group: the floor entry by
// range lower bound whose range contains key. This is RecoveryTask's
// RESOLVE_OWNER step (spec.md §4.3) and DumpTask's rightful-owner check
// (spec.md §4.7).
func (rt *RouteTable) LookupAddress(group uint32, key KeyId) (NodeAddress, bool) {
	tr, ok := rt.groups[group]
	if !ok {
		return NodeAddress{}, false
	}
	var floor routeEntry
	found := false
	tr.Descend(routeEntry{Range: HashRange{Lo: key}}, func(item routeEntry) bool {
		floor = item
		found = true
		return false
	})
	if !found || !floor.Range.Contains(key) {
		return NodeAddress{}, false
	}
	return floor.Owner, true
}
