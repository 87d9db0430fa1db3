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
	"bytes"
	"fmt"

	flowlog "github.com/flowlog/storagenode"
	"github.com/flowlog/storagenode/kv"
	"github.com/flowlog/storagenode/merkle"
)

const bitmapBytes = flowlog.PoraChunkSize / 8

// FlowStore holds the raw entry bytes of the flow, organized into
// PoRA-chunk-sized batches, plus the ordered list of batch roots recorded as
// the top tree grows.
type FlowStore struct {
	db kv.DB
}

// NewFlowStore wraps db as a FlowStore. db's columns must already be open.
func NewFlowStore(db kv.DB) *FlowStore {
	return &FlowStore{db: db}
}

// CompletedBatch is a PoRA chunk that became fully populated as a result of
// an AppendEntries call.
type CompletedBatch struct {
	ChunkIndex uint64
	Root       merkle.Hash
}

type entryBatch struct {
	bitmap [bitmapBytes]byte
	data   [flowlog.PoraChunkSize * flowlog.EntrySize]byte
}

func (b *entryBatch) bitSet(i int) bool {
	return b.bitmap[i/8]&(1<<uint(i%8)) != 0
}

func (b *entryBatch) setBit(i int) {
	b.bitmap[i/8] |= 1 << uint(i%8)
}

func (b *entryBatch) full() bool {
	for i := 0; i < flowlog.PoraChunkSize; i++ {
		if !b.bitSet(i) {
			return false
		}
	}
	return true
}

func encodeEntryBatch(b *entryBatch) []byte {
	out := make([]byte, 0, len(b.bitmap)+len(b.data))
	out = append(out, b.bitmap[:]...)
	out = append(out, b.data[:]...)
	return out
}

func decodeEntryBatch(raw []byte) (*entryBatch, error) {
	want := bitmapBytes + flowlog.PoraChunkSize*flowlog.EntrySize
	if len(raw) != want {
		return nil, fmt.Errorf("logstore: malformed entry batch record (got %d bytes, want %d)", len(raw), want)
	}
	b := &entryBatch{}
	copy(b.bitmap[:], raw[:bitmapBytes])
	copy(b.data[:], raw[bitmapBytes:])
	return b, nil
}

// AppendEntries writes entries.Data starting at entries.StartIndex (a
// flow-global entry index), splitting across PoRA chunk boundaries as
// needed. Overlapping writes that repeat already-stored bytes are silently
// accepted; overlapping writes that disagree fail with
// flowlog.ErrInconsistentWrite. It returns the chunks that became complete
// as a result of this call.
func (s *FlowStore) AppendEntries(entries flowlog.ChunkArray) ([]CompletedBatch, error) {
	if len(entries.Data)%flowlog.EntrySize != 0 {
		return nil, fmt.Errorf("logstore: %w: entry data not a multiple of entry size", flowlog.ErrInvalidInput)
	}
	var completed []CompletedBatch

	n := entries.NumEntries()
	pos := uint64(0)
	for pos < n {
		globalEntry := entries.StartIndex + pos
		chunkIndex := globalEntry / flowlog.PoraChunkSize
		localStart := int(globalEntry % flowlog.PoraChunkSize)
		avail := flowlog.PoraChunkSize - localStart
		remain := int(n - pos)
		take := avail
		if remain < take {
			take = remain
		}

		key := encodeSeqKey(chunkIndex)
		raw, err := s.db.Get(kv.ColEntryBatch, key)
		if err != nil {
			return nil, fmt.Errorf("logstore: get entry batch %d: %w", chunkIndex, err)
		}
		var batch *entryBatch
		if raw == nil {
			batch = &entryBatch{}
		} else {
			batch, err = decodeEntryBatch(raw)
			if err != nil {
				return nil, err
			}
		}
		wasFull := batch.full()

		srcOff := pos * flowlog.EntrySize
		for i := 0; i < take; i++ {
			entryIdx := localStart + i
			src := entries.Data[srcOff+uint64(i)*flowlog.EntrySize : srcOff+uint64(i+1)*flowlog.EntrySize]
			dst := batch.data[entryIdx*flowlog.EntrySize : (entryIdx+1)*flowlog.EntrySize]
			if batch.bitSet(entryIdx) {
				if !bytes.Equal(dst, src) {
					return nil, fmt.Errorf("logstore: %w: chunk %d entry %d", flowlog.ErrInconsistentWrite, chunkIndex, entryIdx)
				}
				continue
			}
			copy(dst, src)
			batch.setBit(entryIdx)
		}

		if err := s.db.Put(kv.ColEntryBatch, key, encodeEntryBatch(batch)); err != nil {
			return nil, fmt.Errorf("logstore: put entry batch %d: %w", chunkIndex, err)
		}

		if !wasFull && batch.full() {
			leaves, ok := merkle.LeavesFromEntries(batch.data[:], flowlog.EntrySize)
			if !ok {
				return nil, fmt.Errorf("logstore: chunk %d: %w", chunkIndex, errMalformedTx)
			}
			root, ok := merkle.New(leaves).Root()
			if !ok {
				return nil, fmt.Errorf("logstore: chunk %d: could not compute root", chunkIndex)
			}
			completed = append(completed, CompletedBatch{ChunkIndex: chunkIndex, Root: root})
		}

		pos += uint64(take)
	}
	return completed, nil
}

// GetEntries returns the entry bytes for the flow-global range [start, end),
// or (nil, nil) if any entry in that range has not yet been written.
func (s *FlowStore) GetEntries(start, end uint64) (*flowlog.ChunkArray, error) {
	if end <= start {
		return nil, fmt.Errorf("%w: empty or inverted range [%d, %d)", flowlog.ErrInvalidInput, start, end)
	}
	out := make([]byte, 0, (end-start)*flowlog.EntrySize)
	pos := start
	for pos < end {
		chunkIndex := pos / flowlog.PoraChunkSize
		localStart := int(pos % flowlog.PoraChunkSize)
		avail := flowlog.PoraChunkSize - localStart
		remain := int(end - pos)
		take := avail
		if remain < take {
			take = remain
		}

		raw, err := s.db.Get(kv.ColEntryBatch, encodeSeqKey(chunkIndex))
		if err != nil {
			return nil, fmt.Errorf("logstore: get entry batch %d: %w", chunkIndex, err)
		}
		if raw == nil {
			return nil, nil
		}
		batch, err := decodeEntryBatch(raw)
		if err != nil {
			return nil, err
		}
		for i := 0; i < take; i++ {
			if !batch.bitSet(localStart + i) {
				return nil, nil
			}
		}
		out = append(out, batch.data[localStart*flowlog.EntrySize:(localStart+take)*flowlog.EntrySize]...)
		pos += uint64(take)
	}
	return &flowlog.ChunkArray{StartIndex: start, Data: out}, nil
}

// GetEntriesToEnd returns the longest available contiguous prefix of
// entries starting at start, stopping at the first gap or at maxEnd,
// whichever comes first. Used at boot to reload the partially-filled tail.
func (s *FlowStore) GetEntriesToEnd(start, maxEnd uint64) (*flowlog.ChunkArray, error) {
	out := make([]byte, 0, (maxEnd-start)*flowlog.EntrySize)
	pos := start
outer:
	for pos < maxEnd {
		chunkIndex := pos / flowlog.PoraChunkSize
		localStart := int(pos % flowlog.PoraChunkSize)

		raw, err := s.db.Get(kv.ColEntryBatch, encodeSeqKey(chunkIndex))
		if err != nil {
			return nil, fmt.Errorf("logstore: get entry batch %d: %w", chunkIndex, err)
		}
		if raw == nil {
			break
		}
		batch, err := decodeEntryBatch(raw)
		if err != nil {
			return nil, err
		}
		for i := localStart; i < flowlog.PoraChunkSize && pos < maxEnd; i++ {
			if !batch.bitSet(i) {
				break outer
			}
			out = append(out, batch.data[i*flowlog.EntrySize:(i+1)*flowlog.EntrySize]...)
			pos++
		}
	}
	return &flowlog.ChunkArray{StartIndex: start, Data: out}, nil
}

// PutBatchRoot records the combined root of a newly appended group of
// top-tree leaves, spanning span PoRA chunks, at sequence position index.
func (s *FlowStore) PutBatchRoot(index uint64, root merkle.Hash, span uint64) error {
	err := s.db.Put(kv.ColEntryBatchRoot, encodeSeqKey(index), encodeBatchRoot(batchRootEntry{Root: root, Span: span}))
	if err != nil {
		return fmt.Errorf("logstore: put batch root %d: %w", index, err)
	}
	return nil
}

// GetChunkRootList returns every persisted batch root, in the order they
// were recorded, used to reconstruct the top tree at boot.
func (s *FlowStore) GetChunkRootList() ([]batchRootEntry, error) {
	var out []batchRootEntry
	err := s.db.Iterate(kv.ColEntryBatchRoot, nil, func(_, value []byte) (bool, error) {
		e, err := decodeBatchRoot(value)
		if err != nil {
			return false, err
		}
		out = append(out, e)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("logstore: get chunk root list: %w", err)
	}
	return out, nil
}
