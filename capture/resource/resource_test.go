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

package resource_test

import (
	"testing"

	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/core/assert"
	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/animaxdev/renderdoc/core/log"
)

func TestWrapIsIdempotent(t *testing.T) {
	ctx := log.Testing(t)
	m := resource.NewManager()
	a, existed := m.Wrap(id.Null, 0x1000)
	assert.For(ctx, "first wrap").That(existed).Equals(false)
	for i := 0; i < 3; i++ {
		b, existed := m.Wrap(id.Null, 0x1000)
		assert.For(ctx, "repeat wrap").That(existed).Equals(true)
		assert.For(ctx, "same wrapper").That(b).Equals(a)
	}
	other, _ := m.Wrap(a.ID, 0x2000)
	assert.For(ctx, "distinct ids").That(other.ID).NotEquals(a.ID)
	assert.For(ctx, "parent").That(other.Parent).Equals(a.ID)
	assert.For(ctx, "has wrapper").That(m.HasWrapper(0x1000)).Equals(true)
	assert.For(ctx, "no wrapper").That(m.HasWrapper(0x3000)).Equals(false)
	assert.For(ctx, "resolve").That(m.Resolve(a)).Equals(resource.Handle(0x1000))
	assert.For(ctx, "resolve nil").That(m.Resolve(nil)).Equals(resource.NullHandle)

	got, err := m.Lookup(a.ID)
	assert.For(ctx, "lookup").ThatError(err).Succeeded()
	assert.For(ctx, "lookup wrapper").That(got).Equals(a)
}

func TestLiveResources(t *testing.T) {
	ctx := log.Testing(t)
	m := resource.NewManager()
	const orig = id.ID(500)

	_, err := m.LiveHandle(orig)
	assert.For(ctx, "unregistered").ThatError(err).HasCause(resource.ErrUnknownResource)
	assert.For(ctx, "unregistered id").That(m.LiveID(orig)).Equals(id.Null)

	first, _ := m.Wrap(id.Null, 1)
	second, _ := m.Wrap(id.Null, 2)
	m.AddLiveResource(orig, first)
	m.AddLiveResource(orig, second)
	live, err := m.LiveHandle(orig)
	assert.For(ctx, "registered").ThatError(err).Succeeded()
	assert.For(ctx, "most recent wins").That(live).Equals(second)
	assert.For(ctx, "live id").That(m.LiveID(orig)).Equals(second.ID)

	fresh, _ := m.Wrap(id.Null, 3)
	assert.For(ctx, "ids above loaded ids").That(fresh.ID > orig).Equals(true)
}

func TestReleasePooledChildren(t *testing.T) {
	ctx := log.Testing(t)
	m := resource.NewManager()
	pool, _ := m.Wrap(id.Null, 10)
	poolRec := m.AddRecord(pool)
	child, _ := m.Wrap(pool.ID, 11)
	childRec := m.AddRecord(child)
	poolRec.AddPooledChild(childRec)

	baked := m.NewRecord()
	baked.AddRef()
	m.ReleaseRecord(baked)
	assert.For(ctx, "retained").That(m.Record(baked.ID)).Equals(baked)
	m.ReleaseRecord(baked)
	assert.For(ctx, "released").That(m.Record(baked.ID)).IsNil()

	m.Release(pool)
	assert.For(ctx, "pool record").That(m.Record(pool.ID)).IsNil()
	assert.For(ctx, "child record").That(m.Record(child.ID)).IsNil()
	assert.For(ctx, "child wrapper").That(m.HasWrapper(11)).Equals(false)
	_, err := m.Lookup(child.ID)
	assert.For(ctx, "child lookup").ThatError(err).HasCause(resource.ErrUnknownResource)
}

func TestRefTypeCompose(t *testing.T) {
	ctx := log.Testing(t)
	R, W, RBW, N := resource.Read, resource.Write, resource.ReadBeforeWrite, resource.None
	for _, test := range []struct {
		a, b, expect resource.RefType
	}{
		{N, R, R}, {N, W, W}, {R, R, R}, {R, W, RBW}, {W, R, W},
		{W, W, W}, {RBW, R, RBW}, {RBW, W, RBW}, {R, RBW, RBW}, {R, N, R},
	} {
		assert.For(ctx, "%v then %v", test.a, test.b).That(test.a.Compose(test.b)).Equals(test.expect)
	}
}

type marks map[id.ID]resource.RefType

func (m marks) MarkFrameReferenced(i id.ID, r resource.RefType) { m[i] = m[i].Compose(r) }

func TestCmdBufferInfo(t *testing.T) {
	ctx := log.Testing(t)
	c := resource.NewCmdBufferInfo()
	c.MarkDirtied(3)
	c.MarkDirtied(1)
	c.MarkDirtied(3)
	assert.For(ctx, "dirtied").ThatSlice(c.Dirtied).Equals([]id.ID{3, 1})

	c.AddFrameRef(5, resource.Read)
	c.AddFrameRef(5, resource.Write)
	c.AddFrameRef(6, resource.Write)
	m := marks{}
	c.AddResourceReferences(m)
	assert.For(ctx, "marks").That(map[id.ID]resource.RefType(m)).DeepEquals(
		map[id.ID]resource.RefType{5: resource.ReadBeforeWrite, 6: resource.Write})

	set := map[id.ID]struct{}{}
	c.AddReferencedIDs(set)
	assert.For(ctx, "referenced").ThatInteger(len(set)).Equals(2)

	c.ClearDirtied()
	assert.For(ctx, "cleared").ThatSlice(c.Dirtied).IsEmpty()
	c.MarkDirtied(3)
	assert.For(ctx, "dirtied again").ThatSlice(c.Dirtied).Equals([]id.ID{3})
}

func TestDescriptorAndSparse(t *testing.T) {
	ctx := log.Testing(t)
	d := resource.NewDescriptorSetData()
	d.Bind(1, 0, resource.Read)
	d.Bind(2, resource.SparseRefBit, resource.Write)
	d.Bind(1, 0, resource.Write)
	binds := d.BindFrameRefs()
	assert.For(ctx, "binds").That(binds).DeepEquals(map[id.ID]resource.BindRef{
		1: {Ref: resource.ReadBeforeWrite},
		2: {Flags: resource.SparseRefBit, Ref: resource.Write},
	})
	d.Unbind(1)
	assert.For(ctx, "unbound").ThatInteger(len(d.BindFrameRefs())).Equals(1)

	s := resource.NewSparseMapping()
	s.Update(0, 9)
	s.Update(4096, 7)
	s.Update(8192, 9)
	assert.For(ctx, "memories").ThatSlice(s.Memories()).Equals([]id.ID{7, 9})
	s.Update(4096, id.Null)
	assert.For(ctx, "unbound page").ThatSlice(s.Memories()).Equals([]id.ID{9})
}
