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

package asyncstore

import (
	"sync"

	flowlog "github.com/flowlog/storagenode"
)

// fakeStore is a minimal, in-memory flowlog.LogStore used to exercise the
// dispatch behaviour of Store without pulling in a real log manager. Calls
// optionally block on a gate so tests can observe in-flight work.
type fakeStore struct {
	mu    sync.Mutex
	calls []string
	gate  chan struct{} // if non-nil, every call waits on it before returning
}

var _ flowlog.LogStore = (*fakeStore)(nil)

func (f *fakeStore) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStore) GetTxBySeqNumber(seq uint64) (*flowlog.Tx, error) {
	f.record("GetTxBySeqNumber")
	return &flowlog.Tx{Seq: seq}, nil
}

func (f *fakeStore) GetTxSeqByDataRoot(root flowlog.DataRoot) (*uint64, error) {
	f.record("GetTxSeqByDataRoot")
	return nil, nil
}

func (f *fakeStore) NextTxSeq() (uint64, error) {
	f.record("NextTxSeq")
	return 0, nil
}

func (f *fakeStore) CheckTxCompleted(seq uint64) (bool, error) {
	f.record("CheckTxCompleted")
	return seq == 1, nil
}

func (f *fakeStore) GetChunkByTxAndIndex(txSeq uint64, index uint64) (*flowlog.Chunk, error) {
	f.record("GetChunkByTxAndIndex")
	var c flowlog.Chunk
	return &c, nil
}

func (f *fakeStore) GetChunksByTxAndIndexRange(txSeq uint64, start, end uint64) (*flowlog.ChunkArray, error) {
	f.record("GetChunksByTxAndIndexRange")
	return &flowlog.ChunkArray{StartIndex: start, Data: make([]byte, (end-start)*flowlog.EntrySize)}, nil
}

func (f *fakeStore) GetChunkWithProofByTxAndIndex(txSeq uint64, index uint64) (*flowlog.ChunkWithProof, error) {
	f.record("GetChunkWithProofByTxAndIndex")
	return &flowlog.ChunkWithProof{}, nil
}

func (f *fakeStore) GetChunksWithProofByTxAndIndexRange(txSeq uint64, start, end uint64) (*flowlog.ChunkArrayWithProof, error) {
	f.record("GetChunksWithProofByTxAndIndexRange")
	return &flowlog.ChunkArrayWithProof{}, nil
}

func (f *fakeStore) ValidateRangeProof(txSeq uint64, data *flowlog.ChunkArrayWithProof) (bool, error) {
	f.record("ValidateRangeProof")
	return true, nil
}

func (f *fakeStore) PutTx(tx flowlog.Tx) error {
	f.record("PutTx")
	return nil
}

func (f *fakeStore) PutChunks(txSeq uint64, chunks flowlog.ChunkArray) error {
	f.record("PutChunks")
	return nil
}

func (f *fakeStore) FinalizeTx(txSeq uint64) error {
	f.record("FinalizeTx")
	return nil
}
