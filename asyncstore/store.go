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
	"context"
	"fmt"

	flowlog "github.com/flowlog/storagenode"
)

// DefaultWorkerPoolSize is used when Store is constructed without an
// explicit pool size.
const DefaultWorkerPoolSize = 4

// Store wraps a blocking flowlog.LogStore, dispatching each call onto a
// pool of async_storage_worker goroutines and awaiting its result through a
// one-shot reply channel. Cancellation of the caller's context stops the
// wait, not the dispatched work: the worker always runs to completion and
// its result is dropped if nobody is left to receive it.
type Store struct {
	inner flowlog.LogStore
	pool  *pool
}

// New wraps inner with a worker pool of the given size. size <= 0 uses
// DefaultWorkerPoolSize.
func New(inner flowlog.LogStore, size int) *Store {
	if size <= 0 {
		size = DefaultWorkerPoolSize
	}
	return &Store{inner: inner, pool: newPool(size)}
}

// Close stops the pool's workers. Work already handed to a worker still
// runs to completion. A call made after Close may block indefinitely, since
// no worker may be left to take it.
func (s *Store) Close() {
	s.pool.close()
}

// await submits fn to the pool and blocks until either it completes or ctx
// is canceled. On cancellation, the worker keeps running; its eventual
// result is simply discarded. Handing fn to a worker does not watch ctx:
// while every worker is busy, await waits for one to become free.
func await[T any](ctx context.Context, p *pool, fn func() (T, error)) (T, error) {
	reply := submit(p, fn)
	select {
	case r := <-reply:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("asyncstore: %w", ctx.Err())
	}
}

func (s *Store) CheckTxCompleted(ctx context.Context, txSeq uint64) (bool, error) {
	return await(ctx, s.pool, func() (bool, error) {
		return s.inner.CheckTxCompleted(txSeq)
	})
}

func (s *Store) GetTxBySeqNumber(ctx context.Context, seq uint64) (*flowlog.Tx, error) {
	return await(ctx, s.pool, func() (*flowlog.Tx, error) {
		return s.inner.GetTxBySeqNumber(seq)
	})
}

func (s *Store) GetChunkByTxAndIndex(ctx context.Context, txSeq, index uint64) (*flowlog.Chunk, error) {
	return await(ctx, s.pool, func() (*flowlog.Chunk, error) {
		return s.inner.GetChunkByTxAndIndex(txSeq, index)
	})
}

func (s *Store) GetChunksByTxAndIndexRange(ctx context.Context, txSeq, start, end uint64) (*flowlog.ChunkArray, error) {
	return await(ctx, s.pool, func() (*flowlog.ChunkArray, error) {
		return s.inner.GetChunksByTxAndIndexRange(txSeq, start, end)
	})
}

func (s *Store) GetChunksWithProofByTxAndIndexRange(ctx context.Context, txSeq, start, end uint64) (*flowlog.ChunkArrayWithProof, error) {
	return await(ctx, s.pool, func() (*flowlog.ChunkArrayWithProof, error) {
		return s.inner.GetChunksWithProofByTxAndIndexRange(txSeq, start, end)
	})
}

func (s *Store) PutChunks(ctx context.Context, txSeq uint64, chunks flowlog.ChunkArray) error {
	_, err := await(ctx, s.pool, func() (struct{}, error) {
		return struct{}{}, s.inner.PutChunks(txSeq, chunks)
	})
	return err
}

// The remaining LogStore methods (PutTx, FinalizeTx, GetTxSeqByDataRoot,
// NextTxSeq, GetChunkWithProofByTxAndIndex, ValidateRangeProof) are not part
// of the facade's public dispatch surface; callers needing them use the
// wrapped LogStore directly, the same way the Rust facade only re-exports
// the subset its RPC layer actually calls through the async boundary.
