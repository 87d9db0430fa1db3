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
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	flowlog "github.com/flowlog/storagenode"
	"github.com/flowlog/storagenode/kv"
	"github.com/flowlog/storagenode/merkle"
)

// tailDepth bounds the tail sub-tree to log2(PoraChunkSize)+1 levels, i.e. at
// most PoraChunkSize leaves. It bounds capacity only: a proof against the
// tail is built over the leaves it currently holds, so its length grows with
// the tail instead of always having the shape of a full chunk.
const tailDepth = 11

// LogManager owns the top (PoRA-chunk) tree and the in-memory tail
// sub-tree, and orchestrates padding, subtree placement, entry placement,
// and proof stitching over a FlowStore and TransactionStore. It implements
// flowlog.LogStore.
//
// A LogManager is not safe for concurrent use; callers are expected to
// serialize access to it (package asyncstore does this by letting only one
// call at a time run on its worker pool).
type LogManager struct {
	flow *FlowStore
	tx   *TransactionStore

	top  *merkle.Tree
	tail *merkle.Tree
}

var _ flowlog.LogStore = (*LogManager)(nil)

// NewLogManager opens a LogManager over db, reconstructing the top and tail
// trees from the persisted batch-root list and entry batches.
func NewLogManager(db kv.DB) (*LogManager, error) {
	lm := &LogManager{
		flow: NewFlowStore(db),
		tx:   NewTransactionStore(db),
	}
	if err := lm.bootstrap(); err != nil {
		return nil, fmt.Errorf("logstore: bootstrap: %w", err)
	}
	return lm, nil
}

// bootstrap replays the persisted batch-root list into top, re-derives the
// per-leaf knowledge of any already-byte-complete chunks within large-span
// groups, reloads the partially-filled tail from the flow store, and seeds
// a fresh store if both trees come back empty.
func (lm *LogManager) bootstrap() error {
	rootList, err := lm.flow.GetChunkRootList()
	if err != nil {
		return err
	}

	lm.top = merkle.New(nil)
	type span struct{ lo, n uint64 }
	var multiSpans []span
	for _, e := range rootList {
		lo := lm.top.Leaves()
		if err := lm.top.AppendSubtree(depthForSpan(e.Span), e.Root); err != nil {
			return fmt.Errorf("replay batch root at %d: %w", lo, err)
		}
		if e.Span > 1 {
			multiSpans = append(multiSpans, span{lo, e.Span})
		}
	}

	// Large-span groups only record a combined hash; re-derive and fill in
	// whichever member chunks have since become byte-complete, fanning the
	// reads out concurrently since they're independent of one another.
	type fill struct {
		index uint64
		root  merkle.Hash
	}
	var (
		mu     sync.Mutex
		fills  []fill
		g      errgroup.Group
	)
	for _, s := range multiSpans {
		for i := uint64(0); i < s.n; i++ {
			idx := s.lo + i
			g.Go(func() error {
				root, ok, err := lm.loadChunkRoot(idx)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				mu.Lock()
				fills = append(fills, fill{idx, root})
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("re-deriving large-span chunk roots: %w", err)
	}
	for _, f := range fills {
		if err := lm.top.FillLeaf(f.index, f.root); err != nil {
			return err
		}
	}

	tailStart := lm.top.Leaves() * flowlog.PoraChunkSize
	// Flow index 0 holds the seed leaf from tryInitialize, which is never
	// written to the flow store: a tail in chunk 0 is read from index 1 and
	// the seed leaf is put back in front of whatever entries follow it.
	readFrom := tailStart
	if tailStart == 0 {
		readFrom = 1
	}
	tailData, err := lm.flow.GetEntriesToEnd(readFrom, tailStart+flowlog.PoraChunkSize)
	if err != nil {
		return err
	}
	tailLeaves, ok := merkle.LeavesFromEntries(tailData.Data, flowlog.EntrySize)
	if !ok {
		return fmt.Errorf("tail entries not aligned to entry size")
	}
	if tailStart == 0 && len(tailLeaves) > 0 {
		tailLeaves = append([]merkle.Hash{{}}, tailLeaves...)
	}
	lm.tail = merkle.NewWithDepth(tailLeaves, tailDepth)
	if lm.tail.Leaves() > 0 {
		root, ok := lm.tail.Root()
		if !ok {
			return fmt.Errorf("reloaded tail has unknown leaves")
		}
		if err := lm.top.Append(root); err != nil {
			return err
		}
	}

	return lm.tryInitialize()
}

// loadChunkRoot recomputes the Merkle root of PoRA chunk idx from its
// persisted bytes, reporting ok=false if the chunk is not yet byte-complete.
func (lm *LogManager) loadChunkRoot(idx uint64) (merkle.Hash, bool, error) {
	data, err := lm.flow.GetEntries(idx*flowlog.PoraChunkSize, (idx+1)*flowlog.PoraChunkSize)
	if err != nil {
		return merkle.Hash{}, false, err
	}
	if data == nil {
		return merkle.Hash{}, false, nil
	}
	leaves, ok := merkle.LeavesFromEntries(data.Data, flowlog.EntrySize)
	if !ok {
		return merkle.Hash{}, false, fmt.Errorf("chunk %d entries not aligned", idx)
	}
	root, ok := merkle.New(leaves).Root()
	if !ok {
		return merkle.Hash{}, false, fmt.Errorf("chunk %d: could not compute root", idx)
	}
	return root, true, nil
}

// tryInitialize seeds a single zero leaf into the tail (and mirrors it into
// top) the first time the store is opened, so flow index 0 is reserved.
// It is a no-op unless both trees come back completely empty, which is why
// a reopened, partially-written store never re-seeds.
func (lm *LogManager) tryInitialize() error {
	if lm.top.Leaves() != 0 || lm.tail.Leaves() != 0 {
		return nil
	}
	if err := lm.tail.Append(merkle.Hash{}); err != nil {
		return err
	}
	root, ok := lm.tail.Root()
	if !ok {
		return fmt.Errorf("seeded tail has no root")
	}
	return lm.top.Append(root)
}

// depthForSpan returns the top-tree subtree depth covering span PoRA chunks
// (span must be a power of two): log2(span)+1.
func depthForSpan(span uint64) int {
	return bits.Len64(span)
}

// lastChunkStartIndex is the flow-global entry index at which the current
// (possibly empty) tail chunk begins, derived purely from the trees' leaf
// counts rather than a separately persisted counter.
func (lm *LogManager) lastChunkStartIndex() uint64 {
	n := lm.top.Leaves()
	if lm.tail.Leaves() > 0 {
		n--
	}
	return n * flowlog.PoraChunkSize
}

func (lm *LogManager) flowLength() uint64 {
	return lm.lastChunkStartIndex() + lm.tail.Leaves()
}

func ceilMultiple(x, l uint64) uint64 {
	if l == 0 {
		return x
	}
	if rem := x % l; rem != 0 {
		return x + (l - rem)
	}
	return x
}

// placeGroup extends the flow's trees by one (depth, root) subtree-list
// entry, selecting one of three placement cases depending on the tail's
// current occupancy, and persists a batch root for any PoRA chunk(s) that
// become structurally complete as a result.
func (lm *LogManager) placeGroup(depth int, root merkle.Hash) error {
	n := uint64(1) << (depth - 1)

	switch {
	case lm.tail.Leaves() == 0 && n == flowlog.PoraChunkSize:
		if err := lm.top.Append(root); err != nil {
			return err
		}
		return lm.flow.PutBatchRoot(lm.top.Leaves()-1, root, 1)

	case lm.tail.Leaves()+n <= flowlog.PoraChunkSize:
		wasEmpty := lm.tail.Leaves() == 0
		if err := lm.tail.AppendSubtree(depth, root); err != nil {
			return err
		}
		tailRoot, ok := lm.tail.Root()
		if !ok {
			return fmt.Errorf("logstore: tail root unknown immediately after append")
		}
		if wasEmpty {
			if err := lm.top.Append(tailRoot); err != nil {
				return err
			}
		} else if err := lm.top.UpdateLast(tailRoot); err != nil {
			return err
		}
		if lm.tail.Leaves() == flowlog.PoraChunkSize {
			idx := lm.top.Leaves() - 1
			if err := lm.flow.PutBatchRoot(idx, tailRoot, 1); err != nil {
				return err
			}
			lm.tail = merkle.NewWithDepth(nil, tailDepth)
		}
		return nil

	default:
		span := n / flowlog.PoraChunkSize
		topDepth := depth - (tailDepth - 1)
		if err := lm.top.AppendSubtree(topDepth, root); err != nil {
			return err
		}
		return lm.flow.PutBatchRoot(lm.top.Leaves()-span, root, span)
	}
}

// padTx pads the flow, one zero entry at a time, until its length is a
// multiple of l, materializing the padding bytes in the flow store so later
// proofs can load them. It returns the (post-padding) flow length, which
// becomes the tx's start_entry_index.
func (lm *LogManager) padTx(l uint64) (uint64, error) {
	flowLen := lm.flowLength()
	target := ceilMultiple(flowLen, l)
	padCount := target - flowLen
	if padCount == 0 {
		return flowLen, nil
	}
	zeroLeaf := merkle.ZeroHash(0)
	for i := uint64(0); i < padCount; i++ {
		if err := lm.placeGroup(1, zeroLeaf); err != nil {
			return 0, fmt.Errorf("logstore: pad_tx: %w", err)
		}
	}
	if _, err := lm.flow.AppendEntries(flowlog.ChunkArray{StartIndex: flowLen, Data: flowlog.Padding(padCount)}); err != nil {
		return 0, fmt.Errorf("logstore: pad_tx materialize: %w", err)
	}
	return target, nil
}

// PutTx reserves alignment padding for tx, applies its subtree list, and
// persists the tx record.
func (lm *LogManager) PutTx(tx flowlog.Tx) error {
	if len(tx.MerkleNodes) == 0 {
		return fmt.Errorf("logstore: %w: tx has no subtree list", flowlog.ErrInvalidInput)
	}
	l := uint64(1) << (tx.MerkleNodes[0].Depth - 1)
	start, err := lm.padTx(l)
	if err != nil {
		return err
	}
	for _, node := range tx.MerkleNodes {
		if n := uint64(1) << (node.Depth - 1); lm.flowLength()%n != 0 {
			return fmt.Errorf("logstore: %w: subtree of depth %d is not aligned to flow length %d", flowlog.ErrInvalidInput, node.Depth, lm.flowLength())
		}
		if err := lm.placeGroup(node.Depth, node.Root); err != nil {
			return fmt.Errorf("logstore: put_tx: %w", err)
		}
	}
	tx.StartEntryIndex = start
	return lm.tx.PutTx(tx)
}

// PutChunks uploads chunk bytes for a tx-local range, translating to the
// flow-global index before placing them into the flow store and trees.
func (lm *LogManager) PutChunks(txSeq uint64, chunks flowlog.ChunkArray) error {
	tx, err := lm.tx.GetTxBySeqNumber(txSeq)
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("logstore: %w: unknown tx %d", flowlog.ErrInvalidInput, txSeq)
	}
	if chunks.StartIndex*flowlog.EntrySize+uint64(len(chunks.Data)) > tx.Size {
		return fmt.Errorf("logstore: %w: chunk range exceeds tx size", flowlog.ErrInvalidInput)
	}
	global := flowlog.ChunkArray{
		StartIndex: tx.StartEntryIndex + chunks.StartIndex,
		Data:       chunks.Data,
	}
	return lm.appendEntriesGlobal(global)
}

// appendEntriesGlobal places flow-global entry bytes: any portion landing
// in the still-open tail is filled in directly (and mirrored into top once
// fully known); the rest is forwarded to the flow store, and any PoRA chunk
// it reports as newly byte-complete is filled into top.
func (lm *LogManager) appendEntriesGlobal(global flowlog.ChunkArray) error {
	n := global.NumEntries()
	tailStart := lm.lastChunkStartIndex()
	writeEnd := global.StartIndex + n

	if lm.tail.Leaves() > 0 && writeEnd > tailStart {
		overlapStart := global.StartIndex
		if overlapStart < tailStart {
			overlapStart = tailStart
		}
		overlapEnd := writeEnd
		if tailCap := tailStart + lm.tail.Leaves(); overlapEnd > tailCap {
			overlapEnd = tailCap
		}
		for idx := overlapStart; idx < overlapEnd; idx++ {
			off := (idx - global.StartIndex) * flowlog.EntrySize
			leaf := merkle.HashLeaf(global.Data[off : off+flowlog.EntrySize])
			if err := lm.tail.FillLeaf(idx-tailStart, leaf); err != nil {
				return err
			}
		}
		if root, ok := lm.tail.Root(); ok {
			if err := lm.top.UpdateLast(root); err != nil {
				return err
			}
		}
	}

	completed, err := lm.flow.AppendEntries(global)
	if err != nil {
		return err
	}
	currentTailIndex := lm.top.Leaves() - 1
	for _, cb := range completed {
		if lm.tail.Leaves() > 0 && cb.ChunkIndex == currentTailIndex {
			klog.Errorf("logstore: flow store reported chunk %d complete while it is still the open tail", cb.ChunkIndex)
			return fmt.Errorf("logstore: %w: completed batch at current tail index", flowlog.ErrInvariantViolation)
		}
		if err := lm.top.FillLeaf(cb.ChunkIndex, cb.Root); err != nil {
			return err
		}
	}
	return nil
}

// FinalizeTx checks that every entry in tx's declared range is present in
// the flow store, then marks it completed. It does not recompute the tx's
// data root against the materialized entries.
func (lm *LogManager) FinalizeTx(txSeq uint64) error {
	tx, err := lm.tx.GetTxBySeqNumber(txSeq)
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("logstore: %w: unknown tx %d", flowlog.ErrInvalidInput, txSeq)
	}
	n := flowlog.BytesToEntries(tx.Size)
	data, err := lm.flow.GetEntries(tx.StartEntryIndex, tx.StartEntryIndex+n)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("logstore: finalize_tx %d: %w", txSeq, flowlog.ErrDataIncomplete)
	}
	return lm.tx.FinalizeTx(txSeq)
}

func (lm *LogManager) GetTxBySeqNumber(seq uint64) (*flowlog.Tx, error) {
	return lm.tx.GetTxBySeqNumber(seq)
}

func (lm *LogManager) GetTxSeqByDataRoot(root flowlog.DataRoot) (*uint64, error) {
	return lm.tx.GetTxSeqByDataRoot(root)
}

func (lm *LogManager) NextTxSeq() (uint64, error) {
	return lm.tx.NextTxSeq()
}

func (lm *LogManager) CheckTxCompleted(seq uint64) (bool, error) {
	return lm.tx.CheckTxCompleted(seq)
}

// GetChunkByTxAndIndex returns the single chunk at tx-local index, or nil if
// it has not yet been uploaded.
func (lm *LogManager) GetChunkByTxAndIndex(txSeq, index uint64) (*flowlog.Chunk, error) {
	tx, err := lm.tx.GetTxBySeqNumber(txSeq)
	if err != nil || tx == nil {
		return nil, err
	}
	global := tx.StartEntryIndex + index
	data, err := lm.flow.GetEntries(global, global+1)
	if err != nil || data == nil {
		return nil, err
	}
	var c flowlog.Chunk
	copy(c[:], data.Data)
	return &c, nil
}

// GetChunksByTxAndIndexRange returns the tx-local range [start, end), or nil
// if any entry in it is missing.
func (lm *LogManager) GetChunksByTxAndIndexRange(txSeq uint64, start, end uint64) (*flowlog.ChunkArray, error) {
	tx, err := lm.tx.GetTxBySeqNumber(txSeq)
	if err != nil || tx == nil {
		return nil, err
	}
	data, err := lm.flow.GetEntries(tx.StartEntryIndex+start, tx.StartEntryIndex+end)
	if err != nil || data == nil {
		return nil, err
	}
	return &flowlog.ChunkArray{StartIndex: start, Data: data.Data}, nil
}

// GetChunkWithProofByTxAndIndex returns the chunk at tx-local index together
// with its inclusion proof against the current top root.
func (lm *LogManager) GetChunkWithProofByTxAndIndex(txSeq, index uint64) (*flowlog.ChunkWithProof, error) {
	tx, err := lm.tx.GetTxBySeqNumber(txSeq)
	if err != nil || tx == nil {
		return nil, err
	}
	global := tx.StartEntryIndex + index
	data, err := lm.flow.GetEntries(global, global+1)
	if err != nil || data == nil {
		return nil, err
	}
	proof, err := lm.genProof(global)
	if err != nil {
		return nil, lm.translateProofErr(err)
	}
	var c flowlog.Chunk
	copy(c[:], data.Data)
	return &flowlog.ChunkWithProof{Chunk: c, Proof: proof}, nil
}

// GetChunksWithProofByTxAndIndexRange resolves the tx-local range to global
// indices, fetches the bytes, and brackets them with a left-endpoint and
// right-endpoint proof.
func (lm *LogManager) GetChunksWithProofByTxAndIndexRange(txSeq uint64, start, end uint64) (*flowlog.ChunkArrayWithProof, error) {
	if end <= start {
		return nil, fmt.Errorf("logstore: %w: empty or inverted range", flowlog.ErrInvalidInput)
	}
	tx, err := lm.tx.GetTxBySeqNumber(txSeq)
	if err != nil || tx == nil {
		return nil, err
	}
	globalStart, globalEnd := tx.StartEntryIndex+start, tx.StartEntryIndex+end
	data, err := lm.flow.GetEntries(globalStart, globalEnd)
	if err != nil || data == nil {
		return nil, err
	}
	left, err := lm.genProof(globalStart)
	if err != nil {
		return nil, lm.translateProofErr(err)
	}
	right, err := lm.genProof(globalEnd - 1)
	if err != nil {
		return nil, lm.translateProofErr(err)
	}
	return &flowlog.ChunkArrayWithProof{
		Chunks: flowlog.ChunkArray{StartIndex: start, Data: data.Data},
		Proof:  flowlog.FlowRangeProof{LeftProof: left, RightProof: right},
	}, nil
}

// ValidateRangeProof recomputes leaves from bundle's bytes, checks the left
// and right proofs anchor those endpoints and agree with one another, and
// confirms the shared root matches the current top root.
func (lm *LogManager) ValidateRangeProof(txSeq uint64, bundle *flowlog.ChunkArrayWithProof) (bool, error) {
	tx, err := lm.tx.GetTxBySeqNumber(txSeq)
	if err != nil {
		return false, err
	}
	if tx == nil {
		return false, fmt.Errorf("logstore: %w: unknown tx %d", flowlog.ErrInvalidInput, txSeq)
	}
	leaves, ok := merkle.LeavesFromEntries(bundle.Chunks.Data, flowlog.EntrySize)
	if !ok || len(leaves) == 0 {
		return false, fmt.Errorf("logstore: %w: malformed chunk bytes", flowlog.ErrInvalidInput)
	}
	if bundle.Proof.LeftProof.Item != leaves[0] || bundle.Proof.RightProof.Item != leaves[len(leaves)-1] {
		return false, nil
	}
	if !merkle.Verify(bundle.Proof.LeftProof) || !merkle.Verify(bundle.Proof.RightProof) {
		return false, nil
	}
	if bundle.Proof.LeftProof.Root != bundle.Proof.RightProof.Root {
		return false, nil
	}
	return lm.top.CheckRoot(bundle.Proof.LeftProof.Root), nil
}

// genProof builds an inclusion proof for a flow-global entry index by
// stitching a sub-tree proof (the tail, if this index falls in it, or a
// freshly rebuilt chunk tree otherwise) with the top tree's proof for that
// chunk's leaf.
func (lm *LogManager) genProof(flowIndex uint64) (merkle.Proof, error) {
	chunkIndex := flowIndex / flowlog.PoraChunkSize
	local := flowIndex % flowlog.PoraChunkSize

	topProof, err := lm.top.GenProof(chunkIndex)
	if err != nil {
		return merkle.Proof{}, lm.translateProofErr(err)
	}

	var subProof merkle.Proof
	if chunkIndex != lm.top.Leaves()-1 {
		data, err := lm.flow.GetEntries(chunkIndex*flowlog.PoraChunkSize, (chunkIndex+1)*flowlog.PoraChunkSize)
		if err != nil {
			return merkle.Proof{}, err
		}
		if data == nil {
			return merkle.Proof{}, fmt.Errorf("logstore: gen_proof chunk %d: %w", chunkIndex, flowlog.ErrDataIncomplete)
		}
		leaves, ok := merkle.LeavesFromEntries(data.Data, flowlog.EntrySize)
		if !ok {
			return merkle.Proof{}, fmt.Errorf("logstore: gen_proof chunk %d: entries not aligned", chunkIndex)
		}
		chunkTree := merkle.NewWithDepth(leaves, tailDepth)
		subProof, err = chunkTree.GenProof(local)
		if err != nil {
			return merkle.Proof{}, err
		}
	} else {
		subProof, err = lm.tail.GenProof(local)
		if err != nil {
			return merkle.Proof{}, lm.translateProofErr(err)
		}
	}

	stitched, err := merkle.StitchProof(topProof, subProof)
	if err != nil {
		return merkle.Proof{}, fmt.Errorf("logstore: %w: %v", flowlog.ErrInvariantViolation, err)
	}
	return stitched, nil
}

// translateProofErr maps a merkle-package incompleteness error onto the
// flowlog sentinel callers are expected to check for.
func (lm *LogManager) translateProofErr(err error) error {
	if errors.Is(err, merkle.ErrIncomplete) {
		return fmt.Errorf("%w", flowlog.ErrDataIncomplete)
	}
	return err
}
