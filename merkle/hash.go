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

// Package merkle implements the dual-layer append-only Merkle index used by
// the flowlog store: a growing tree of fixed-size leaves that supports
// appending single leaves or whole precomputed subtrees, filling in leaves
// that were previously unknown, replacing the rightmost leaf in place, and
// generating/validating inclusion and range proofs.
//
// Hashing follows the same leaf/node domain-separation convention as
// github.com/transparency-dev/merkle/rfc6962, but uses Sha3-256 rather than
// SHA-256, per the hashing requirements of the flowlog wire format.
package merkle

import "golang.org/x/crypto/sha3"

// Hash is a 32-byte Sha3-256 digest.
type Hash [32]byte

const (
	leafPrefix = 0x00
	nodePrefix = 0x01

	// zeroEntrySize matches flowlog.EntrySize. It is duplicated here rather
	// than imported to keep this package free of a dependency on flowlog.
	zeroEntrySize = 256
)

// HashLeaf hashes a single EntrySize-byte entry into a leaf hash.
func HashLeaf(entry []byte) Hash {
	h := sha3.New256()
	h.Write([]byte{leafPrefix})
	h.Write(entry)
	var out Hash
	h.Sum(out[:0])
	return out
}

// HashNode combines two child hashes into their parent's hash.
func HashNode(left, right Hash) Hash {
	h := sha3.New256()
	h.Write([]byte{nodePrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	h.Sum(out[:0])
	return out
}

// zeroHashes[i] is the root of a perfectly balanced subtree of 2^i zero
// leaves. The first 12 levels are precomputed at init and ZeroHash extends
// the cache on demand, since padding runs frequently emit whole zero-chunks
// and recomputing the same constant is wasteful.
var zeroHashes = computeZeroHashes(12)

func computeZeroHashes(levels int) []Hash {
	out := make([]Hash, levels)
	out[0] = HashLeaf(make([]byte, zeroEntrySize))
	for i := 1; i < levels; i++ {
		out[i] = HashNode(out[i-1], out[i-1])
	}
	return out
}

// ZeroHash returns the root of a perfectly balanced subtree of 2^level zero
// leaves, i.e. ZeroHash(0) is the hash of a single zero entry.
func ZeroHash(level int) Hash {
	for level >= len(zeroHashes) {
		zeroHashes = append(zeroHashes, HashNode(zeroHashes[len(zeroHashes)-1], zeroHashes[len(zeroHashes)-1]))
	}
	return zeroHashes[level]
}

// LeavesFromEntries hashes a run of EntrySize-byte entries into leaf hashes.
func LeavesFromEntries(data []byte, entrySize int) ([]Hash, bool) {
	if len(data)%entrySize != 0 {
		return nil, false
	}
	n := len(data) / entrySize
	out := make([]Hash, n)
	for i := 0; i < n; i++ {
		out[i] = HashLeaf(data[i*entrySize : (i+1)*entrySize])
	}
	return out, true
}
