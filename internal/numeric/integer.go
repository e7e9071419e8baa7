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

// Package numeric holds small integer-arithmetic helpers shared across the
// merge-recovery packages: overflow-checked size accumulation and the
// chunk-count math behind the recovery chunk planner.
package numeric

import "math/bits"

// SafeAdd returns x+y and reports whether the addition overflowed.
func SafeAdd(x, y uint64) (uint64, bool) {
	sum, carryOut := bits.Add64(x, y, 0)
	return sum, carryOut != 0
}

// CeilDiv computes ceil(x/y) for non-negative ints, returning 0 for y == 0.
// Used to size the number of chunks a read/write pipeline needs for a
// given total_size and chunk_size.
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}
