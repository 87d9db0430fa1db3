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

// Package logstore implements the transaction store, flow store, and log
// manager that together provide flowlog.LogStore.
package logstore

import (
	"encoding/binary"
	"fmt"

	flowlog "github.com/flowlog/storagenode"
	"github.com/flowlog/storagenode/merkle"
)

// Sequence-number keys (tx seq, chunk index, batch index) are encoded
// big-endian so that lexicographic kv
// ordering matches numeric ordering, which boot-time reconstruction relies
// on when iterating batch roots in sequence.

func encodeSeqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func decodeSeqKey(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("logstore: malformed sequence key of length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// encodeTx serializes a flowlog.Tx: seq, data root, size, start entry index,
// followed by its subtree list (count, then depth+root pairs).
func encodeTx(tx flowlog.Tx) []byte {
	buf := make([]byte, 0, 8+32+8+8+4+len(tx.MerkleNodes)*(4+32))
	buf = appendUint64(buf, tx.Seq)
	buf = append(buf, tx.DataRoot[:]...)
	buf = appendUint64(buf, tx.Size)
	buf = appendUint64(buf, tx.StartEntryIndex)
	buf = appendUint32(buf, uint32(len(tx.MerkleNodes)))
	for _, n := range tx.MerkleNodes {
		buf = appendUint32(buf, uint32(n.Depth))
		buf = append(buf, n.Root[:]...)
	}
	return buf
}

func decodeTx(b []byte) (flowlog.Tx, error) {
	var tx flowlog.Tx
	r := b
	var ok bool
	if tx.Seq, r, ok = takeUint64(r); !ok {
		return tx, errMalformedTx
	}
	if len(r) < 32 {
		return tx, errMalformedTx
	}
	copy(tx.DataRoot[:], r[:32])
	r = r[32:]
	if tx.Size, r, ok = takeUint64(r); !ok {
		return tx, errMalformedTx
	}
	if tx.StartEntryIndex, r, ok = takeUint64(r); !ok {
		return tx, errMalformedTx
	}
	var count uint32
	if count, r, ok = takeUint32(r); !ok {
		return tx, errMalformedTx
	}
	tx.MerkleNodes = make([]flowlog.MerkleNode, count)
	for i := range tx.MerkleNodes {
		var depth uint32
		if depth, r, ok = takeUint32(r); !ok {
			return tx, errMalformedTx
		}
		if len(r) < 32 {
			return tx, errMalformedTx
		}
		var root merkle.Hash
		copy(root[:], r[:32])
		r = r[32:]
		tx.MerkleNodes[i] = flowlog.MerkleNode{Depth: int(depth), Root: root}
	}
	return tx, nil
}

var errMalformedTx = fmt.Errorf("logstore: malformed tx record")

// batchRootEntry is one persisted row of the entry-batch-root column: the
// combined root asserted for a newly appended group of top-tree leaves, and
// how many PoRA chunks that group spans.
type batchRootEntry struct {
	Root merkle.Hash
	Span uint64
}

func encodeBatchRoot(e batchRootEntry) []byte {
	buf := make([]byte, 0, 32+8)
	buf = append(buf, e.Root[:]...)
	buf = appendUint64(buf, e.Span)
	return buf
}

func decodeBatchRoot(b []byte) (batchRootEntry, error) {
	if len(b) != 32+8 {
		return batchRootEntry{}, fmt.Errorf("logstore: malformed batch root record")
	}
	var e batchRootEntry
	copy(e.Root[:], b[:32])
	e.Span = binary.LittleEndian.Uint64(b[32:])
	return e, nil
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func takeUint64(b []byte) (uint64, []byte, bool) {
	if len(b) < 8 {
		return 0, b, false
	}
	return binary.LittleEndian.Uint64(b), b[8:], true
}

func takeUint32(b []byte) (uint32, []byte, bool) {
	if len(b) < 4 {
		return 0, b, false
	}
	return binary.LittleEndian.Uint32(b), b[4:], true
}
