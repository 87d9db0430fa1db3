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

package logstore

import (
	"fmt"

	flowlog "github.com/flowlog/storagenode"
	"github.com/flowlog/storagenode/kv"
	"github.com/flowlog/storagenode/merkle"
)

// nextSeqKey is a reserved key in ColTx holding the count of transactions
// recorded so far, which by the dense-sequencing invariant also equals the
// next sequence number to hand out. It's advanced only by PutTx, following
// the same reserved-counter-key convention as the antispam store's
// next-index key.
var nextSeqKey = []byte("@next")

// TransactionStore records transactions by sequence number, indexes them by
// data root, and tracks which have been finalized (all their data uploaded
// and merged into the flow).
type TransactionStore struct {
	db kv.DB
}

// NewTransactionStore wraps db as a TransactionStore.
func NewTransactionStore(db kv.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// NextTxSeq is a pure read reporting the next sequence number PutTx will
// accept, which equals the number of transactions recorded so far. It does
// not allocate or mutate anything, so it's safe to call any number of times
// with no intervening PutTx.
func (s *TransactionStore) NextTxSeq() (uint64, error) {
	raw, err := s.db.Get(kv.ColTx, nextSeqKey)
	if err != nil {
		return 0, fmt.Errorf("logstore: next tx seq: %w", err)
	}
	if raw == nil {
		return 0, nil
	}
	return decodeSeqKey(raw)
}

// PutTx records tx, keyed by its sequence number, indexes it by data root so
// GetTxSeqByDataRoot can find it again, and advances the persisted tx count
// to tx.Seq+1.
func (s *TransactionStore) PutTx(tx flowlog.Tx) error {
	key := encodeSeqKey(tx.Seq)
	if err := s.db.Put(kv.ColTx, key, encodeTx(tx)); err != nil {
		return fmt.Errorf("logstore: put tx %d: %w", tx.Seq, err)
	}
	if err := s.db.Put(kv.ColTxDataRootIndex, tx.DataRoot[:], key); err != nil {
		return fmt.Errorf("logstore: index tx %d by data root: %w", tx.Seq, err)
	}
	if err := s.db.Put(kv.ColTx, nextSeqKey, encodeSeqKey(tx.Seq+1)); err != nil {
		return fmt.Errorf("logstore: advance tx count after %d: %w", tx.Seq, err)
	}
	return nil
}

// GetTxBySeqNumber returns the transaction at seq, or nil if none exists.
func (s *TransactionStore) GetTxBySeqNumber(seq uint64) (*flowlog.Tx, error) {
	raw, err := s.db.Get(kv.ColTx, encodeSeqKey(seq))
	if err != nil {
		return nil, fmt.Errorf("logstore: get tx %d: %w", seq, err)
	}
	if raw == nil {
		return nil, nil
	}
	tx, err := decodeTx(raw)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTxSeqByDataRoot returns the sequence number of the transaction whose
// data root is root, or nil if no such transaction has been recorded.
func (s *TransactionStore) GetTxSeqByDataRoot(root merkle.Hash) (*uint64, error) {
	raw, err := s.db.Get(kv.ColTxDataRootIndex, root[:])
	if err != nil {
		return nil, fmt.Errorf("logstore: get tx seq by data root: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	seq, err := decodeSeqKey(raw)
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

// FinalizeTx marks seq's transaction as completed: all of its data has been
// uploaded and merged into the flow store.
func (s *TransactionStore) FinalizeTx(seq uint64) error {
	if err := s.db.Put(kv.ColTxCompleted, encodeSeqKey(seq), []byte{1}); err != nil {
		return fmt.Errorf("logstore: finalize tx %d: %w", seq, err)
	}
	return nil
}

// CheckTxCompleted reports whether seq's transaction has been finalized.
func (s *TransactionStore) CheckTxCompleted(seq uint64) (bool, error) {
	raw, err := s.db.Get(kv.ColTxCompleted, encodeSeqKey(seq))
	if err != nil {
		return false, fmt.Errorf("logstore: check tx %d completed: %w", seq, err)
	}
	return raw != nil, nil
}
