// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const checkpointPrefix = "machine/"

// ErrCheckpointNotFound is returned by Load for an unknown machine.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted state of one machine.
type Checkpoint struct {
	Machine   string    `json:"machine"`
	Family    string    `json:"family"`
	Directory string    `json:"directory"`
	Stage     string    `json:"stage"`
	Failed    bool      `json:"failed"`
	Aborted   bool      `json:"aborted"`
	Output    string    `json:"output,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore reads and writes checkpoints keyed by machine name.
type CheckpointStore struct {
	db *DB
}

// NewCheckpointStore wraps db.
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func checkpointKey(machine string) []byte {
	return []byte(checkpointPrefix + machine)
}

// Save replaces the checkpoint of cp.Machine. A zero UpdatedAt is set to
// now.
func (s *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	if cp.Machine == "" {
		return errors.New("checkpoint: machine name is required")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.Machine, err)
	}
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(cp.Machine), data)
	})
}

// Load returns the checkpoint of machine or ErrCheckpointNotFound.
func (s *CheckpointStore) Load(ctx context.Context, machine string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(machine))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", machine, ErrCheckpointNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	return cp, err
}

// Delete removes the checkpoint of machine. Deleting a missing checkpoint
// is not an error.
func (s *CheckpointStore) Delete(ctx context.Context, machine string) error {
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(checkpointKey(machine))
	})
}

// List returns every checkpoint ordered by machine name.
func (s *CheckpointStore) List(ctx context.Context) ([]Checkpoint, error) {
	var out []Checkpoint
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(checkpointPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var cp Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Machine < out[j].Machine })
	return out, nil
}
