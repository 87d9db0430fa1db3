// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package badger provides a durable kv.DB backed by BadgerDB
// (https://github.com/dgraph-io/badger), a high-performance pure-Go
// embedded key/value store. All of the store's columns live in Badger's
// single flat keyspace, distinguished by a one-byte column prefix.
package badger

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"k8s.io/klog/v2"

	"github.com/flowlog/storagenode/kv"
)

// DB is a kv.DB backed by a single BadgerDB instance, opened once at boot.
type DB struct {
	db *badger.DB
}

// Open opens (creating if necessary) a Badger database at path and starts
// its background value-log GC loop. The returned DB owns the underlying
// Badger handle; callers must call Close when done.
func Open(path string) (*DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's own logger is noisy at Info level; klog carries our own.
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv/badger: open %q: %w", path, err)
	}

	d := &DB{db: bdb}
	go d.gcLoop()
	return d, nil
}

func (d *DB) gcLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
	again:
		if err := d.db.RunValueLogGC(0.5); err == nil {
			goto again
		} else if !errors.Is(err, badger.ErrNoRewrite) {
			klog.Warningf("kv/badger: value log gc: %v", err)
		}
	}
}

func prefixedKey(col kv.Col, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(col)
	copy(out[1:], key)
	return out
}

func (d *DB) Get(col kv.Col, key []byte) ([]byte, error) {
	var out []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixedKey(col, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			out = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("kv/badger: get %s/%x: %w", col, key, err)
	}
	return out, nil
}

func (d *DB) Put(col kv.Col, key, value []byte) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(prefixedKey(col, key), value)
	})
	if err != nil {
		return fmt.Errorf("kv/badger: put %s/%x: %w", col, key, err)
	}
	return nil
}

func (d *DB) Delete(col kv.Col, key []byte) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(prefixedKey(col, key))
	})
	if err != nil {
		return fmt.Errorf("kv/badger: delete %s/%x: %w", col, key, err)
	}
	return nil
}

func (d *DB) Iterate(col kv.Col, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	fullPrefix := prefixedKey(col, prefix)
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = fullPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
			item := it.Item()
			key := bytes.TrimPrefix(append([]byte(nil), item.Key()...), []byte{byte(col)})
			var cont bool
			var cbErr error
			valErr := item.Value(func(v []byte) error {
				cont, cbErr = fn(key, v)
				return nil
			})
			if valErr != nil {
				return valErr
			}
			if cbErr != nil {
				return cbErr
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv/badger: iterate %s: %w", col, err)
	}
	return nil
}

func (d *DB) Stats() kv.Stats {
	var s kv.Stats
	for c := kv.Col(0); c < kv.NumCols; c++ {
		_ = d.Iterate(c, nil, func(_, _ []byte) (bool, error) {
			s.KeyCount[c]++
			return true, nil
		})
	}
	return s
}

func (d *DB) Close() error {
	return d.db.Close()
}
