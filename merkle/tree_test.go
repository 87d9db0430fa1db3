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

import "testing"

func leafHash(b byte) Hash {
	return HashLeaf([]byte{b})
}

func TestAppendAndRoot(t *testing.T) {
	tr := NewWithDepth(nil, 0)
	for i := byte(0); i < 4; i++ {
		if err := tr.Append(leafHash(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	root, ok := tr.Root()
	if !ok {
		t.Fatal("Root() not ok")
	}

	want := HashNode(
		HashNode(leafHash(0), leafHash(1)),
		HashNode(leafHash(2), leafHash(3)),
	)
	if root != want {
		t.Errorf("Root() = %x, want %x", root, want)
	}
}

func TestRootUsesAssertedValueWhenLeavesUnknown(t *testing.T) {
	tr := New(nil)
	if err := tr.AppendSubtree(2, leafHash(9)); err != nil {
		t.Fatalf("AppendSubtree: %v", err)
	}
	if got, ok := tr.Root(); !ok || got != leafHash(9) {
		t.Fatalf("Root() = (%x, %v), want the asserted combined value (%x, true)", got, ok, leafHash(9))
	}
}

func TestAppendSubtreeAssertsCombinedRoot(t *testing.T) {
	tr := New(nil)
	combined := HashNode(leafHash(1), leafHash(2))
	if err := tr.AppendSubtree(2, combined); err != nil {
		t.Fatalf("AppendSubtree: %v", err)
	}
	if got, ok := tr.Root(); !ok || got != combined {
		t.Fatalf("Root() = (%x, %v), want (%x, true)", got, ok, combined)
	}
	if tr.Leaves() != 2 {
		t.Fatalf("Leaves() = %d, want 2", tr.Leaves())
	}
}

func TestAppendSubtreeRequiresAlignment(t *testing.T) {
	tr := New(nil)
	if err := tr.Append(leafHash(0)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tr.AppendSubtree(2, leafHash(1)); err == nil {
		t.Fatal("AppendSubtree at an unaligned leaf count should fail")
	}
}

func TestFillLeafCompletesAssertedSubtree(t *testing.T) {
	tr := New(nil)
	l1, l2 := leafHash(1), leafHash(2)
	combined := HashNode(l1, l2)
	if err := tr.AppendSubtree(2, combined); err != nil {
		t.Fatalf("AppendSubtree: %v", err)
	}

	// Before any fill, a proof for an individual leaf inside the collapsed
	// group is not obtainable.
	if _, err := tr.GenProof(0); err == nil {
		t.Fatal("GenProof should fail before the individual leaf is filled")
	}

	if err := tr.FillLeaf(0, l1); err != nil {
		t.Fatalf("FillLeaf(0): %v", err)
	}
	if err := tr.FillLeaf(1, l2); err != nil {
		t.Fatalf("FillLeaf(1): %v", err)
	}

	p, err := tr.GenProof(0)
	if err != nil {
		t.Fatalf("GenProof(0): %v", err)
	}
	if !Verify(p) {
		t.Error("Verify(GenProof(0)) = false, want true")
	}
	if p.Root != combined {
		t.Errorf("proof root = %x, want asserted combined root %x", p.Root, combined)
	}
}

func TestUpdateLast(t *testing.T) {
	tr := New(nil)
	if err := tr.Append(leafHash(0)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tr.Append(leafHash(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tr.UpdateLast(leafHash(99)); err != nil {
		t.Fatalf("UpdateLast: %v", err)
	}
	root, ok := tr.Root()
	if !ok {
		t.Fatal("Root() not ok")
	}
	want := HashNode(leafHash(0), leafHash(99))
	if root != want {
		t.Errorf("Root() = %x, want %x", root, want)
	}
}

func TestGenProofAndVerify(t *testing.T) {
	tr := New(nil)
	var leaves []Hash
	for i := byte(0); i < 7; i++ {
		h := leafHash(i)
		leaves = append(leaves, h)
		if err := tr.Append(h); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	for i := range leaves {
		p, err := tr.GenProof(uint64(i))
		if err != nil {
			t.Fatalf("GenProof(%d): %v", i, err)
		}
		if p.Item != leaves[i] {
			t.Errorf("proof[%d].Item = %x, want %x", i, p.Item, leaves[i])
		}
		if !Verify(p) {
			t.Errorf("Verify(GenProof(%d)) = false, want true", i)
		}
	}
}

func TestCheckRoot(t *testing.T) {
	tr := New(nil)
	for i := byte(0); i < 3; i++ {
		if err := tr.Append(leafHash(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	root, ok := tr.Root()
	if !ok {
		t.Fatal("Root() not ok")
	}
	if !tr.CheckRoot(root) {
		t.Error("CheckRoot(actual root) = false, want true")
	}
	if tr.CheckRoot(leafHash(200)) {
		t.Error("CheckRoot(wrong hash) = true, want false")
	}
}

func TestBoundedTreeRejectsOverCapacity(t *testing.T) {
	tr := NewWithDepth(nil, 2) // capacity 2
	if err := tr.Append(leafHash(0)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tr.Append(leafHash(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tr.Append(leafHash(2)); err == nil {
		t.Fatal("Append beyond capacity should fail")
	}
}

func TestStitchProof(t *testing.T) {
	// Sub tree: 2 entries within one chunk.
	sub := New(nil)
	e0, e1 := leafHash(10), leafHash(11)
	if err := sub.Append(e0); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sub.Append(e1); err != nil {
		t.Fatalf("Append: %v", err)
	}
	subProof, err := sub.GenProof(0)
	if err != nil {
		t.Fatalf("sub.GenProof: %v", err)
	}

	// Top tree: the sub tree's root is one leaf among others.
	top := New(nil)
	if err := top.Append(leafHash(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	subRoot, _ := sub.Root()
	if err := top.Append(subRoot); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := top.Append(leafHash(2)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	topProof, err := top.GenProof(1)
	if err != nil {
		t.Fatalf("top.GenProof: %v", err)
	}

	stitched, err := StitchProof(topProof, subProof)
	if err != nil {
		t.Fatalf("StitchProof: %v", err)
	}
	if !Verify(stitched) {
		t.Error("Verify(stitched) = false, want true")
	}
	if stitched.Item != e0 {
		t.Errorf("stitched.Item = %x, want %x", stitched.Item, e0)
	}
	topRoot, _ := top.Root()
	if stitched.Root != topRoot {
		t.Errorf("stitched.Root = %x, want %x", stitched.Root, topRoot)
	}
}

func TestStitchProofRejectsMismatch(t *testing.T) {
	sub := New(nil)
	_ = sub.Append(leafHash(1))
	subProof, _ := sub.GenProof(0)

	top := New(nil)
	_ = top.Append(leafHash(2)) // unrelated leaf, not sub's root
	topProof, _ := top.GenProof(0)

	if _, err := StitchProof(topProof, subProof); err == nil {
		t.Fatal("StitchProof should reject a top proof whose item doesn't match sub's root")
	}
}

func TestZeroHash(t *testing.T) {
	z0 := ZeroHash(0)
	if z0 != HashLeaf(make([]byte, zeroEntrySize)) {
		t.Error("ZeroHash(0) does not match a direct zero-leaf hash")
	}
	z1 := ZeroHash(1)
	if z1 != HashNode(z0, z0) {
		t.Error("ZeroHash(1) does not match HashNode(ZeroHash(0), ZeroHash(0))")
	}
	// Extends beyond the precomputed cache without panicking.
	_ = ZeroHash(20)
}
