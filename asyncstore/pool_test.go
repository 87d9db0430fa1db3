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
	"errors"
	"testing"
)

func TestPoolSubmitReturnsResult(t *testing.T) {
	p := newPool(2)
	defer p.close()

	reply := submit(p, func() (int, error) { return 42, nil })
	r := <-reply
	if r.value != 42 || r.err != nil {
		t.Errorf("submit result = (%d, %v), want (42, nil)", r.value, r.err)
	}
}

func TestPoolSubmitPropagatesError(t *testing.T) {
	p := newPool(1)
	defer p.close()

	wantErr := errors.New("boom")
	reply := submit(p, func() (int, error) { return 0, wantErr })
	r := <-reply
	if !errors.Is(r.err, wantErr) {
		t.Errorf("submit err = %v, want %v", r.err, wantErr)
	}
}

func TestPoolZeroSizeFallsBackToOne(t *testing.T) {
	p := newPool(0)
	defer p.close()

	reply := submit(p, func() (int, error) { return 7, nil })
	if r := <-reply; r.value != 7 {
		t.Errorf("submit result = %d, want 7", r.value)
	}
}
