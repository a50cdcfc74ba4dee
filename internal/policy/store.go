// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRules = []byte("allow_rules")

// Store persists rules remembered from "always allow" decisions.
type Store struct {
	db *bolt.DB
}

type storedRule struct {
	Rule
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// OpenStore opens (creating if needed) a rule database at path.
func OpenStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("rules db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRules)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Add records a rule. Adding an existing rule is a no-op.
func (s *Store) Add(r Rule) error {
	key := []byte(r.String())
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		if b.Get(key) != nil {
			return nil
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(storedRule{Rule: r, Seq: seq, CreatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// Delete removes a rule.
func (s *Store) Delete(r Rule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRules).Delete([]byte(r.String()))
	})
}

// List returns all remembered rules, oldest first.
func (s *Store) List() ([]Rule, error) {
	var stored []storedRule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRules).ForEach(func(_, v []byte) error {
			var sr storedRule
			if err := json.Unmarshal(v, &sr); err != nil {
				return err
			}
			stored = append(stored, sr)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(stored, func(i, j int) bool {
		return stored[i].Seq < stored[j].Seq
	})
	rules := make([]Rule, len(stored))
	for i, sr := range stored {
		rules[i] = sr.Rule
	}
	return rules, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
