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

// Package flowlog implements an append-only, content-addressed chunk-log
// store for a decentralized storage node.
//
// A flowlog is conceptually an infinite sequence of fixed-size entries, of
// which only a prefix has ever been materialized. Transactions reserve
// ranges of this flow by declaring a Merkle decomposition of their payload;
// chunk uploads later fill in the bytes at those reserved positions. The
// store keeps a dual-layer Merkle index (see package merkle) over the whole
// flow so that any filled position can be proven against a single root.
package flowlog

const (
	// EntrySize is the fixed width, in bytes, of a single addressable Entry.
	EntrySize = 256
	// PoraChunkSize is the number of consecutive entries in one PoRA chunk,
	// the leaf granularity of the top Merkle tree.
	PoraChunkSize = 1024
	// ColNum is the number of columns the KV engine must be opened with.
	ColNum = 5
)

// Column identifiers for the persistent KV store. These are stable and must
// not be renumbered: the underlying KV engine uses them to namespace keys
// on disk.
const (
	ColTx = iota
	ColEntryBatch
	ColTxDataRootIndex
	ColEntryBatchRoot
	ColTxCompleted
)

// BytesToEntries returns the number of EntrySize entries needed to hold
// sizeBytes bytes of payload, rounding up.
func BytesToEntries(sizeBytes uint64) uint64 {
	if sizeBytes%EntrySize == 0 {
		return sizeBytes / EntrySize
	}
	return sizeBytes/EntrySize + 1
}

// Padding returns the given number of entries worth of zero bytes, used to pad the flow to
// an alignment boundary before a transaction's subtree list is appended.
func Padding(entries uint64) []byte {
	return make([]byte, entries*EntrySize)
}
