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

// Package memory provides an in-memory kv.DB, used by tests and by
// short-lived or embedded deployments that don't need durability.
package memory

import (
	"bytes"
	"sort"
	"sync"

	"github.com/flowlog/storagenode/kv"
)

// DB is an in-memory implementation of kv.DB.
type DB struct {
	mu   sync.RWMutex
	cols [kv.NumCols]map[string][]byte
}

// New returns an empty in-memory database.
func New() *DB {
	d := &DB{}
	for i := range d.cols {
		d.cols[i] = make(map[string][]byte)
	}
	return d
}

func (d *DB) Get(col kv.Col, key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.cols[col][string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (d *DB) Put(col kv.Col, key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cols[col][string(key)] = append([]byte(nil), value...)
	return nil
}

func (d *DB) Delete(col kv.Col, key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cols[col], string(key))
	return nil
}

func (d *DB) Iterate(col kv.Col, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	d.mu.RLock()
	keys := make([]string, 0, len(d.cols[col]))
	for k := range d.cols[col] {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = append([]byte(nil), d.cols[col][k]...)
	}
	d.mu.RUnlock()

	for i, k := range keys {
		cont, err := fn([]byte(k), vals[i])
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

func (d *DB) Stats() kv.Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var s kv.Stats
	for i := range d.cols {
		s.KeyCount[i] = int64(len(d.cols[i]))
	}
	return s
}

func (d *DB) Close() error { return nil }
