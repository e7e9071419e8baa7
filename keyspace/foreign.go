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

// ErrOneNodeNotInGroup is returned by ForeignRanges when a one-node address
// was requested but is absent from the group's routing table — the caller
// is expected to skip the group with a warning (spec.md §4.1, §7).
var ErrOneNodeNotInGroup = oneNodeNotInGroupError{}

type oneNodeNotInGroupError struct{}

func (oneNodeNotInGroupError) Error() string {
	return "one-node address is not present in the group's routing table"
}

// ForeignRanges computes, for each address owning at least one range in
// group (or only the given oneNode address, if non-nil), the list of
// [lo, hi) ranges it does NOT own — the complement of its owned ranges
// within [IdMin, IdMax] (spec.md §3, §4.1).
//
// An address with zero owned ranges maps to a single range covering the
// whole keyspace. An address whose owned ranges fully cover the keyspace is
// omitted from the result (empty foreign set). Pure function, no I/O.
func ForeignRanges(rt *RouteTable, group uint32, oneNode *NodeAddress) (map[NodeAddress][]HashRange, error) {
	if oneNode != nil && !rt.HasAddress(group, *oneNode) {
		return nil, ErrOneNodeNotInGroup
	}

	var addrs []NodeAddress
	if oneNode != nil {
		addrs = []NodeAddress{*oneNode}
	} else {
		addrs = rt.Addresses(group)
	}

	out := make(map[NodeAddress][]HashRange, len(addrs))
	for _, addr := range addrs {
		owned := rt.OwnedRanges(group, addr)
		foreign := complement(owned)
		if len(foreign) > 0 {
			out[addr] = foreign
		}
	}
	return out, nil
}

// complement returns the gaps of a sorted, non-overlapping list of owned
// ranges within [IdMin, IdMax]: a leading range if owned doesn't start at
// IdMin, a gap between each consecutive pair, and a trailing range if owned
// doesn't end at IdMax.
func complement(owned []HashRange) []HashRange {
	if len(owned) == 0 {
		return []HashRange{{Lo: IdMin, Hi: IdMax}}
	}

	var out []HashRange
	if IdMin.Less(owned[0].Lo) {
		out = append(out, HashRange{Lo: IdMin, Hi: owned[0].Lo})
	}
	for i := 1; i < len(owned); i++ {
		prevHi := owned[i-1].Hi
		curLo := owned[i].Lo
		if prevHi.Less(curLo) {
			out = append(out, HashRange{Lo: prevHi, Hi: curLo})
		}
	}
	last := owned[len(owned)-1].Hi
	if last.Less(IdMax) {
		out = append(out, HashRange{Lo: last, Hi: IdMax})
	}
	return out
}
