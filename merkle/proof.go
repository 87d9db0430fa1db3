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

import "fmt"

// Proof is an inclusion proof for a single leaf. Lemma holds the leaf value
// followed by each sibling hash encountered walking up to the root, with the
// root itself as the final element: Lemma[0] == Item, Lemma[len-1] == Root,
// and Lemma[1:len-1] are the siblings. Path[i] reports whether Lemma[i+1]
// sits to the right of the accumulated hash (true) or to the left (false);
// len(Path) == len(Lemma)-2.
type Proof struct {
	Item  Hash
	Root  Hash
	Lemma []Hash
	Path  []bool
}

// GenProof builds an inclusion proof for the leaf at index. It fails if the
// leaf itself, or any sibling needed along the way to the root, is not yet
// known.
func (t *Tree) GenProof(index uint64) (Proof, error) {
	if index >= t.size {
		return Proof{}, fmt.Errorf("merkle: gen_proof index %d out of range (size %d)", index, t.size)
	}
	root, ok := t.computeRoot(0, t.size)
	if !ok {
		return Proof{}, fmt.Errorf("merkle: gen_proof: %w", errIncomplete)
	}
	item, ok := t.computeRoot(index, 1)
	if !ok {
		return Proof{}, fmt.Errorf("merkle: gen_proof: %w", errIncomplete)
	}

	var lemma []Hash
	var path []bool
	if err := t.collectPath(0, t.size, index, &lemma, &path); err != nil {
		return Proof{}, err
	}
	lemma = append(lemma, root)

	full := make([]Hash, 0, len(lemma)+1)
	full = append(full, item)
	full = append(full, lemma...)

	return Proof{Item: item, Root: root, Lemma: full, Path: path}, nil
}

// ErrIncomplete is returned (wrapped) whenever a proof cannot be built
// because some leaf needed along the way to the root is not yet known.
var ErrIncomplete = fmt.Errorf("merkle: data incomplete")

var errIncomplete = ErrIncomplete

// collectPath walks the same recursive decomposition used by computeRoot,
// appending the sibling hash encountered at each step (deepest first) and
// recording whether that sibling lies to the right of the target.
func (t *Tree) collectPath(lo, n, target uint64, lemma *[]Hash, path *[]bool) error {
	if n == 1 {
		return nil
	}
	k := largestPowerOfTwoBelow(n)
	if target < lo+k {
		sib, ok := t.computeRoot(lo+k, n-k)
		if !ok {
			return fmt.Errorf("merkle: collect_path: %w", errIncomplete)
		}
		if err := t.collectPath(lo, k, target, lemma, path); err != nil {
			return err
		}
		*lemma = append(*lemma, sib)
		*path = append(*path, true)
	} else {
		sib, ok := t.computeRoot(lo, k)
		if !ok {
			return fmt.Errorf("merkle: collect_path: %w", errIncomplete)
		}
		if err := t.collectPath(lo+k, n-k, target, lemma, path); err != nil {
			return err
		}
		*lemma = append(*lemma, sib)
		*path = append(*path, false)
	}
	return nil
}

// Verify reports whether p is an internally-consistent proof of inclusion:
// recombining Item with the sibling hashes in Lemma according to Path
// reproduces Root.
func Verify(p Proof) bool {
	if len(p.Lemma) < 2 || len(p.Lemma) != len(p.Path)+2 {
		return false
	}
	if p.Lemma[0] != p.Item || p.Lemma[len(p.Lemma)-1] != p.Root {
		return false
	}
	acc := p.Item
	for i := 1; i < len(p.Lemma)-1; i++ {
		sib := p.Lemma[i]
		if p.Path[i-1] {
			acc = HashNode(acc, sib)
		} else {
			acc = HashNode(sib, acc)
		}
	}
	return acc == p.Root
}

// StitchProof combines a proof within a PoRA chunk (sub) with the top
// tree's proof for that chunk's leaf (top) into a single proof against the
// overall flow root. It requires that top's proven item equal sub's root,
// i.e. that sub is indeed the proof for the chunk that top claims at that
// leaf position. The sub proof's trailing root entry (which equals top's
// item, and so would otherwise be hashed against itself) is dropped before
// splicing in top's siblings and root.
func StitchProof(top, sub Proof) (Proof, error) {
	if top.Item != sub.Root {
		return Proof{}, fmt.Errorf("merkle: stitch_proof: top proof item does not match sub proof root")
	}
	lemma := append([]Hash(nil), sub.Lemma[:len(sub.Lemma)-1]...)
	lemma = append(lemma, top.Lemma[1:]...)
	path := append([]bool(nil), sub.Path...)
	path = append(path, top.Path...)
	return Proof{
		Item:  sub.Item,
		Root:  top.Root,
		Lemma: lemma,
		Path:  path,
	}, nil
}
