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

package flowlog

import "github.com/flowlog/storagenode/merkle"

// DataRoot is a 32-byte Merkle root.
type DataRoot = merkle.Hash

// MerkleNode is one entry of a transaction's subtree list: the decomposition
// of the transaction payload into complete power-of-two subtrees, ordered
// left to right. Depth 1 means a single leaf; depth k covers 2^(k-1) leaves.
type MerkleNode struct {
	Depth int
	Root  DataRoot
}

// Tx describes a transaction announcing a data payload to be stored.
// Once written at a Seq, a Tx is immutable.
type Tx struct {
	// Seq is the monotonically assigned sequence number of this tx.
	Seq uint64
	// DataRoot is the Merkle root of the tx payload, computed externally.
	DataRoot DataRoot
	// Size is the payload length in bytes.
	Size uint64
	// StartEntryIndex is the flow index at which the tx's first entry lands.
	StartEntryIndex uint64
	// MerkleNodes is the tx's subtree list.
	MerkleNodes []MerkleNode
}

// Chunk is a single fixed-size Entry.
type Chunk [EntrySize]byte

// ChunkArray is a contiguous run of entries. StartIndex is tx-local on the
// public API surface and flow-global internally; Data's length must be a
// multiple of EntrySize.
type ChunkArray struct {
	StartIndex uint64
	Data       []byte
}

// NumEntries returns the number of entries held in the ChunkArray.
func (c ChunkArray) NumEntries() uint64 {
	return uint64(len(c.Data)) / EntrySize
}

// FlowRangeProof bundles a left-endpoint and right-endpoint proof against
// the global flow root, bracketing a run of chunk bytes.
type FlowRangeProof struct {
	LeftProof  merkle.Proof
	RightProof merkle.Proof
}

// ChunkArrayWithProof is the bytes for a tx-local range plus the proof
// bundle anchoring them to the current flow root.
type ChunkArrayWithProof struct {
	Chunks ChunkArray
	Proof  FlowRangeProof
}

// ChunkWithProof is a single chunk plus its inclusion proof.
type ChunkWithProof struct {
	Chunk Chunk
	Proof merkle.Proof
}
