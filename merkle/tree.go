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

package merkle

import (
	"fmt"
	"math/bits"
)

// rangeKey addresses an aligned, power-of-two-sized span of leaves
// [lo, lo+n) whose combined hash has been asserted directly, rather than
// derived from its individual leaves.
type rangeKey struct {
	lo, n uint64
}

// Tree is an incremental Merkle tree whose leaves can be appended one at a
// time, appended in precomputed power-of-two-sized groups whose individual
// leaf values aren't yet known, filled in (once known) leaf by leaf, and
// whose rightmost leaf can be replaced in place.
//
// Tree has no commit/snapshot step: Root and GenProof always recompute from
// the current leaves and asserted ranges, so every mutator leaves the tree
// immediately consistent for proof generation. There's no intermediate
// "uncommitted" state to flush, so callers don't need to call anything
// after an Append/AppendSubtree/FillLeaf/UpdateLast before trusting Root or
// GenProof.
//
// A Tree is not safe for concurrent use; callers are expected to serialize
// access (the log manager does this via the async facade).
type Tree struct {
	// maxDepth bounds the tree to 2^(maxDepth-1) leaves when non-zero. It
	// is used for the tail sub-tree. It limits capacity only: Root and
	// GenProof are computed over the current leaves, not over a full
	// 2^(maxDepth-1)-leaf tree.
	maxDepth int

	size uint64

	leaves    []Hash
	leafKnown []bool

	// asserted holds combined hashes for aligned ranges injected via
	// AppendSubtree whose individual leaves are not (yet, or ever) known
	// one by one.
	asserted map[rangeKey]Hash
}

// New returns a tree pre-populated with the given (fully known) leaves, with
// no maximum depth. The log manager uses it to build a PoRA chunk's tree
// from its entry hashes, and starts the top tree at boot from New(nil)
// before replaying the persisted batch roots with AppendSubtree.
func New(leaves []Hash) *Tree {
	t := &Tree{
		leaves:    append([]Hash(nil), leaves...),
		leafKnown: make([]bool, len(leaves)),
		asserted:  make(map[rangeKey]Hash),
	}
	for i := range t.leafKnown {
		t.leafKnown[i] = true
	}
	t.size = uint64(len(leaves))
	return t
}

// NewWithDepth returns a tree like New, but bounded to 2^(maxDepth-1)
// leaves. A maxDepth of 0 leaves the tree unbounded, like New.
func NewWithDepth(leaves []Hash, maxDepth int) *Tree {
	t := New(leaves)
	t.maxDepth = maxDepth
	return t
}

// Leaves returns the number of leaf slots in the tree, including any
// not-yet-individually-known slots created by AppendSubtree.
func (t *Tree) Leaves() uint64 { return t.size }

// capacity returns the maximum number of leaves this tree may hold, or 0 if
// unbounded.
func (t *Tree) capacity() uint64 {
	if t.maxDepth == 0 {
		return 0
	}
	return uint64(1) << (t.maxDepth - 1)
}

// Root returns the tree's current root hash. It returns false if the root
// cannot be computed because some leaf along the way is not yet known.
func (t *Tree) Root() (Hash, bool) {
	if t.size == 0 {
		return Hash{}, false
	}
	return t.computeRoot(0, t.size)
}

// CheckRoot reports whether root equals the tree's current root.
func (t *Tree) CheckRoot(root Hash) bool {
	r, ok := t.Root()
	return ok && r == root
}

// Append adds a single new leaf to the tree. Equivalent to
// AppendSubtree(1, leaf).
func (t *Tree) Append(leaf Hash) error {
	return t.AppendSubtree(1, leaf)
}

// AppendSubtree extends the tree by 2^(depth-1) new leaves in one step,
// recording root as their combined hash. depth=1 appends a single known
// leaf. For depth>1, the individual leaves within the new range are not
// recorded as known; they can be supplied later, one at a time, via
// FillLeaf.
//
// It is an error to call this when the tree's current leaf count is not a
// multiple of the new subtree's leaf count (callers are expected to pad to
// alignment first), or when appending would exceed a bounded tree's
// capacity.
func (t *Tree) AppendSubtree(depth int, root Hash) error {
	if depth < 1 {
		return fmt.Errorf("merkle: invalid subtree depth %d", depth)
	}
	n := uint64(1) << (depth - 1)
	if t.size%n != 0 {
		return fmt.Errorf("merkle: leaf count %d is not a multiple of subtree size %d", t.size, n)
	}
	if cap := t.capacity(); cap != 0 && t.size+n > cap {
		return fmt.Errorf("merkle: appending %d leaves would exceed capacity %d", n, cap)
	}

	lo := t.size
	t.growTo(t.size + n)
	if n == 1 {
		t.leaves[lo] = root
		t.leafKnown[lo] = true
	} else {
		t.asserted[rangeKey{lo, n}] = root
	}
	return nil
}

// UpdateLast replaces the value of the rightmost leaf in place. It is used
// when the tail sub-tree's root changes as more of its entries are filled
// in, and that root is mirrored into the top tree's last leaf.
func (t *Tree) UpdateLast(root Hash) error {
	if t.size == 0 {
		return fmt.Errorf("merkle: update_last on empty tree")
	}
	t.leaves[t.size-1] = root
	t.leafKnown[t.size-1] = true
	return nil
}

// FillLeaf sets a leaf that was previously unknown (created as part of a
// multi-leaf AppendSubtree call), or re-asserts an already-known leaf to
// the same value. It does not by itself change the tree's root: a
// multi-leaf group's combined hash was already asserted when it was
// appended, and is trusted to agree with the individually filled leaves
// once all of them are known.
func (t *Tree) FillLeaf(index uint64, leaf Hash) error {
	if index >= t.size {
		return fmt.Errorf("merkle: fill_leaf index %d out of range (size %d)", index, t.size)
	}
	t.leaves[index] = leaf
	t.leafKnown[index] = true
	return nil
}

func (t *Tree) growTo(newSize uint64) {
	for uint64(len(t.leaves)) < newSize {
		t.leaves = append(t.leaves, Hash{})
		t.leafKnown = append(t.leafKnown, false)
	}
	t.size = newSize
}

// computeRoot returns the combined hash of the aligned range [lo, lo+n),
// using an asserted value if one was recorded for exactly this range, or
// recursing per the standard RFC6962-style Merkle tree hash (MTH)
// definition otherwise. It returns false if some leaf needed to compute the
// result is not yet known.
func (t *Tree) computeRoot(lo, n uint64) (Hash, bool) {
	if n == 1 {
		if !t.leafKnown[lo] {
			return Hash{}, false
		}
		return t.leaves[lo], true
	}
	if v, ok := t.asserted[rangeKey{lo, n}]; ok {
		return v, true
	}
	k := largestPowerOfTwoBelow(n)
	left, lok := t.computeRoot(lo, k)
	if !lok {
		return Hash{}, false
	}
	right, rok := t.computeRoot(lo+k, n-k)
	if !rok {
		return Hash{}, false
	}
	return HashNode(left, right), true
}

// largestPowerOfTwoBelow returns the largest power of two strictly less
// than n, for n > 1.
func largestPowerOfTwoBelow(n uint64) uint64 {
	return uint64(1) << (bits.Len64(n-1) - 1)
}
