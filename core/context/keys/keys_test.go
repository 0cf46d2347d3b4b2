// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keys_test

import (
	"context"
	"testing"

	"github.com/animaxdev/renderdoc/core/context/keys"
)

type testKey string

func TestClone(t *testing.T) {
	src := keys.WithValue(context.Background(), testKey("a"), 1)
	src = keys.WithValue(src, testKey("b"), 2)
	src = keys.WithValue(src, testKey("a"), 3)

	dst := keys.Clone(context.Background(), src)
	if got := dst.Value(testKey("a")); got != 3 {
		t.Errorf("a = %v, want 3", got)
	}
	if got := dst.Value(testKey("b")); got != 2 {
		t.Errorf("b = %v, want 2", got)
	}
	if got := len(keys.Get(dst)); got != 2 {
		t.Errorf("len(Get) = %d, want 2", got)
	}
}
