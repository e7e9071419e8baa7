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

package spill

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
)

var spillBucket = []byte("records")

// Store is a write-once, read-once spill file: Put appends records in
// arrival order, then Records() replays them as a finite sequence. The
// backing bbolt file lives under tmpDir and is removed in Close
// (leave_file=false per spec.md §4.2).
type Store struct {
	db   *bolt.DB
	path string
	next uint64

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore opens a fresh spill file under tmpDir.
func NewStore(tmpDir string) (*Store, error) {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("spill: create tmp dir: %w", err)
	}
	path := filepath.Join(tmpDir, "iter-"+uuid.New().String()+".spill")

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("spill: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(spillBucket)
		return err
	}); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("spill: init bucket: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("spill: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("spill: new zstd decoder: %w", err)
	}

	return &Store{db: db, path: path, enc: enc, dec: dec}, nil
}

// Put appends one record.
func (s *Store) Put(r IterRecord) error {
	raw, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("spill: encode record: %w", err)
	}
	compressed := s.enc.EncodeAll(raw, nil)

	seq := s.next
	s.next++
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(spillBucket).Put(key[:], compressed)
	})
}

// Count returns the number of records written so far.
func (s *Store) Count() uint64 { return s.next }

// Records replays every stored record in insertion order.
func (s *Store) Records() ([]IterRecord, error) {
	out := make([]IterRecord, 0, s.next)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(spillBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			raw, err := s.dec.DecodeAll(v, nil)
			if err != nil {
				return fmt.Errorf("spill: decompress record: %w", err)
			}
			rec, err := decodeRecord(raw)
			if err != nil {
				return fmt.Errorf("spill: decode record: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close tears down the spill file and deletes it from disk.
func (s *Store) Close() error {
	s.dec.Close()
	closeErr := s.enc.Close()
	dbErr := s.db.Close()
	rmErr := os.Remove(s.path)
	if closeErr != nil {
		return closeErr
	}
	if dbErr != nil {
		return dbErr
	}
	if rmErr != nil && !os.IsNotExist(rmErr) {
		return rmErr
	}
	return nil
}
