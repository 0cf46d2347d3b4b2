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

package fault_test

import (
	"errors"
	"testing"

	"github.com/animaxdev/renderdoc/core/fault"
)

const errA = fault.Const("a")

func TestOneKeepsFirst(t *testing.T) {
	o := fault.One{}
	o.Collect(nil)
	o.Collect(errA)
	o.Collect(errors.New("b"))
	if o.First() != errA {
		t.Errorf("First() = %v, want %v", o.First(), errA)
	}
	o.Reset()
	if o.First() != nil {
		t.Errorf("First() after Reset = %v", o.First())
	}
}

func TestFrom(t *testing.T) {
	if fault.From(nil) != nil {
		t.Error("From(nil) should be nil")
	}
	if fault.From(errA) != errA {
		t.Error("From(err) should return err")
	}
	if fault.From(42) != fault.InvalidErrorType {
		t.Error("From(42) should be InvalidErrorType")
	}
}
