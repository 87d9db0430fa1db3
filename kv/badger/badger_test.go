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

package badger

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/flowlog/storagenode/kv"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	if err := db.Put(kv.ColTx, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get(kv.ColTx, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff([]byte("v1"), got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
}

func TestColumnsAreIndependent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Put(kv.ColTx, []byte("k"), []byte("tx-value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get(kv.ColEntryBatch, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("Get in unrelated column = %v, want nil", got)
	}
}

func TestGetMissingIsNilNil(t *testing.T) {
	db := openTestDB(t)
	v, err := db.Get(kv.ColTx, []byte("absent"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != nil {
		t.Fatalf("Get on missing key = %v, want nil", v)
	}
}

func TestDelete(t *testing.T) {
	db := openTestDB(t)
	if err := db.Put(kv.ColTx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Delete(kv.ColTx, []byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := db.Get(kv.ColTx, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("Get after delete = %v, want nil", got)
	}
}

func TestIteratePrefixAndOrder(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"a/3", "a/1", "a/2", "b/1"} {
		if err := db.Put(kv.ColEntryBatchRoot, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	var got []string
	err := db.Iterate(kv.ColEntryBatchRoot, []byte("a/"), func(key, _ []byte) (bool, error) {
		got = append(got, string(key))
		return true, nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	want := []string{"a/1", "a/2", "a/3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Iterate() order mismatch (-want +got):\n%s", diff)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Put(kv.ColTx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	got, err := db2.Get(kv.ColTx, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff([]byte("v"), got); diff != "" {
		t.Errorf("Get() after reopen mismatch (-want +got):\n%s", diff)
	}
}
