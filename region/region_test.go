//  Copyright (c) 2025 Pathsense Authors
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

package region_test

import (
	"testing"

	"github.com/pathsense/pathsense/region"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTable(t *testing.T) {
	t.Parallel()

	tbl := region.NewTable()
	require.Equal(t, 0, tbl.Len())

	buf := tbl.New(region.ClassAuto, "main.buf")
	tz := tbl.New(region.ClassStatic, "main.tz")
	require.True(t, buf.Valid())
	require.True(t, tz.Valid())
	require.NotEqual(t, buf, tz)
	require.Equal(t, 2, tbl.Len())

	require.Equal(t, region.ClassAuto, tbl.Class(buf))
	require.Equal(t, region.ClassStatic, tbl.Class(tz))
	require.Equal(t, "main.buf", tbl.Name(buf))
	require.Equal(t, region.None, tbl.Parent(buf))
	require.Equal(t, buf, tbl.Base(buf))
}

func TestTableNone(t *testing.T) {
	t.Parallel()

	tbl := region.NewTable()
	require.False(t, region.None.Valid())
	require.Equal(t, region.ClassUnknown, tbl.Class(region.None))
	require.Equal(t, "<none>", tbl.Name(region.None))
	require.Equal(t, region.None, tbl.Parent(region.None))
}

func TestSubregions(t *testing.T) {
	t.Parallel()

	tbl := region.NewTable()
	arr := tbl.New(region.ClassAuto, "main.arr")
	elem := tbl.NewSub(arr, "main.arr[i]")
	field := tbl.NewSub(elem, "main.arr[i].f")

	// Derived regions inherit the storage class and chain back to the root.
	require.Equal(t, region.ClassAuto, tbl.Class(elem))
	require.Equal(t, region.ClassAuto, tbl.Class(field))
	require.Equal(t, arr, tbl.Parent(elem))
	require.Equal(t, elem, tbl.Parent(field))
	require.Equal(t, arr, tbl.Base(field))
	require.Equal(t, arr, tbl.Base(elem))
}

func TestSymbols(t *testing.T) {
	t.Parallel()

	tbl := region.NewTable()
	s1 := tbl.NewSymbol()
	s2 := tbl.NewSymbol()
	require.True(t, s1.Valid())
	require.True(t, s2.Valid())
	require.NotEqual(t, s1, s2)
	require.False(t, region.NoSymbol.Valid())
}

func TestValues(t *testing.T) {
	t.Parallel()

	tbl := region.NewTable()
	r := tbl.New(region.ClassHeap, "main.dyn")
	sym := tbl.NewSymbol()

	p := region.PointerTo(r)
	require.Equal(t, region.ValuePointer, p.Kind)
	require.Equal(t, r, p.Region)
	require.False(t, p.IsNull())

	sv := region.SymbolValue(sym)
	require.Equal(t, region.ValueSymbol, sv.Kind)
	require.Equal(t, sym, sv.Sym)

	zero := region.IntValue(0)
	require.Equal(t, region.ValueInt, zero.Kind)
	require.True(t, zero.IsNull())
	require.False(t, region.IntValue(7).IsNull())

	var unknown region.Value
	require.Equal(t, region.ValueUnknown, unknown.Kind)
}

func TestClassString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "auto", region.ClassAuto.String())
	require.Equal(t, "static", region.ClassStatic.String())
	require.Equal(t, "heap", region.ClassHeap.String())
	require.Equal(t, "unknown", region.ClassUnknown.String())
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
