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

// Package spill implements the on-disk buffer behind the iterator driver
// (spec.md §4.2): a finite, non-restartable lazy sequence of IterRecord
// values spilled to ctx.tmp_dir and deleted on close.
package spill

import (
	"time"

	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/ugorji/go/codec"
)

// IterRecord is one key the iterator observed on a node within the
// requested ranges and timestamp window (spec.md §3).
type IterRecord struct {
	Key       keyspace.KeyId
	Timestamp time.Time
	Size      uint64
}

var handle codec.CborHandle

func encodeRecord(r IterRecord) ([]byte, error) {
	buf := make([]byte, 0, keyspace.KeyIdSize+24)
	enc := codec.NewEncoderBytes(&buf, &handle)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeRecord(b []byte) (IterRecord, error) {
	var r IterRecord
	dec := codec.NewDecoderBytes(b, &handle)
	if err := dec.Decode(&r); err != nil {
		return IterRecord{}, err
	}
	return r, nil
}
