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

// Package recovery implements the per-key recovery state machine
// (RecoveryTask, spec.md §4.3) and its statistics monoid.
package recovery

// Stat is the componentwise-additive counter bundle from spec.md §3. The
// zero value is the monoid identity; Add folds another Stat in, used to
// accumulate task stats into a batch total, then a node total, then a
// group total (spec.md §4.4, §9 "Statistics monoid").
type Stat struct {
	Skipped    uint64
	Iterations int64 // +1/-1 per spill.Stats, summed across nodes

	Read        uint64
	ReadBytes   uint64
	ReadRetries uint64
	ReadFailed  uint64

	Write         uint64
	WrittenBytes  uint64
	WriteRetries  uint64
	WriteFailed   uint64

	Removed       uint64
	RemoveFailed  uint64
	RemoveRetries uint64

	MergedIndexesFailed uint64
}

// Add returns the componentwise sum of s and other.
func (s Stat) Add(other Stat) Stat {
	return Stat{
		Skipped:             s.Skipped + other.Skipped,
		Iterations:          s.Iterations + other.Iterations,
		Read:                s.Read + other.Read,
		ReadBytes:           s.ReadBytes + other.ReadBytes,
		ReadRetries:         s.ReadRetries + other.ReadRetries,
		ReadFailed:          s.ReadFailed + other.ReadFailed,
		Write:               s.Write + other.Write,
		WrittenBytes:        s.WrittenBytes + other.WrittenBytes,
		WriteRetries:        s.WriteRetries + other.WriteRetries,
		WriteFailed:         s.WriteFailed + other.WriteFailed,
		Removed:             s.Removed + other.Removed,
		RemoveFailed:        s.RemoveFailed + other.RemoveFailed,
		RemoveRetries:       s.RemoveRetries + other.RemoveRetries,
		MergedIndexesFailed: s.MergedIndexesFailed + other.MergedIndexesFailed,
	}
}

// Sum folds a slice of Stat with Add, starting from the identity.
func Sum(stats []Stat) Stat {
	var total Stat
	for _, s := range stats {
		total = total.Add(s)
	}
	return total
}
