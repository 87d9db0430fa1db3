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

// LogStore is the abstract contract that the async facade (package
// asyncstore) dispatches onto a worker pool. *logstore.LogManager is the
// sole production implementation; the interface exists so the facade and
// its callers don't need to depend on the concrete manager or its storage
// backend.
//
// Implementations need not be safe for concurrent use; LogStore itself makes
// no concurrency guarantees of its own (spec: "concurrency inside the log
// manager" is explicitly out of scope, it is the caller's job to run one
// call at a time, as asyncstore does).
type LogStore interface {
	LogStoreRead
	LogStoreWrite
}

// LogStoreRead is the read-only half of the LogStore contract.
type LogStoreRead interface {
	GetTxBySeqNumber(seq uint64) (*Tx, error)
	GetTxSeqByDataRoot(root DataRoot) (*uint64, error)
	NextTxSeq() (uint64, error)
	CheckTxCompleted(seq uint64) (bool, error)

	GetChunkByTxAndIndex(txSeq uint64, index uint64) (*Chunk, error)
	GetChunksByTxAndIndexRange(txSeq uint64, start, end uint64) (*ChunkArray, error)
	GetChunkWithProofByTxAndIndex(txSeq uint64, index uint64) (*ChunkWithProof, error)
	GetChunksWithProofByTxAndIndexRange(txSeq uint64, start, end uint64) (*ChunkArrayWithProof, error)

	ValidateRangeProof(txSeq uint64, data *ChunkArrayWithProof) (bool, error)
}

// LogStoreWrite is the mutating half of the LogStore contract.
type LogStoreWrite interface {
	PutTx(tx Tx) error
	PutChunks(txSeq uint64, chunks ChunkArray) error
	FinalizeTx(txSeq uint64) error
}
