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

import "errors"

// Sentinel errors returned by flowlog components. NotFound is deliberately
// not part of this set: lookups surface absence as (nil, nil) rather than
// an error, matching the propagation policy below.
var (
	// ErrInvalidInput is returned when a request is structurally invalid:
	// a chunk range exceeding the tx's declared size, an unaligned subtree
	// list, or leaf data whose length isn't a multiple of EntrySize.
	ErrInvalidInput = errors.New("flowlog: invalid input")

	// ErrDataIncomplete is returned when a proof is requested for a PoRA
	// chunk whose entries are not yet all materialized.
	ErrDataIncomplete = errors.New("flowlog: data incomplete")

	// ErrInconsistentWrite is returned when an overlapping flow write
	// disagrees with previously stored bytes at the same positions.
	ErrInconsistentWrite = errors.New("flowlog: inconsistent write")

	// ErrInvariantViolation indicates a fatal internal inconsistency, e.g. a
	// newly-completed batch reported at the current tail position, or a
	// stitched proof whose top and sub trees don't agree. The operation
	// that triggered it is aborted; the store may continue serving reads.
	ErrInvariantViolation = errors.New("flowlog: invariant violation")
)
