package reftable

import (
	"testing"

	"github.com/myelnet/nom/wire"
	"github.com/stretchr/testify/require"
)

func TestExportIsIdempotentByIdentity(t *testing.T) {
	tbl := New()
	obj := &struct{ X int }{X: 1}

	id1 := tbl.Export(obj)
	id2 := tbl.Export(obj)
	require.Equal(t, id1, id2)

	other := &struct{ X int }{X: 1}
	id3 := tbl.Export(other)
	require.NotEqual(t, id1, id3)
}

func TestRegisterAndResolveName(t *testing.T) {
	tbl := New()
	obj := &struct{}{}
	id := tbl.Register("root", obj)

	got, ok := tbl.ResolveName("root")
	require.True(t, ok)
	require.Equal(t, id, got)

	live, ok := tbl.ResolveID(id)
	require.True(t, ok)
	require.Equal(t, obj, live)
}

func TestToValuePrimitives(t *testing.T) {
	tbl := New()

	v, err := tbl.ToValue(int64(42))
	require.NoError(t, err)
	i, ok := v.AsInt()
	require.True(t, ok)
	require.Equal(t, int64(42), i)

	v, err = tbl.ToValue("hello")
	require.NoError(t, err)
	s, ok := v.AsText()
	require.True(t, ok)
	require.Equal(t, "hello", s)
}

func TestToValueReferenceFallback(t *testing.T) {
	tbl := New()
	type widget struct{ Name string }
	w := &widget{Name: "gear"}

	v, err := tbl.ToValue(w)
	require.NoError(t, err)
	require.Equal(t, wire.TagRef, v.Tag())

	id, ok := v.AsRef()
	require.True(t, ok)
	live, ok := tbl.ResolveID(id)
	require.True(t, ok)
	require.Equal(t, w, live)
}

func TestToValueRejectsCycles(t *testing.T) {
	tbl := New()
	m := make(map[string]interface{})
	m["self"] = m

	_, err := tbl.ToValue(m)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrCycle())
}

func TestToValueAllowsSharedNonCyclicValue(t *testing.T) {
	tbl := New()
	shared := []interface{}{int64(1), int64(2)}
	wrapper := []interface{}{shared, shared}

	v, err := tbl.ToValue(wrapper)
	require.NoError(t, err)
	items, ok := v.AsSeq()
	require.True(t, ok)
	require.Len(t, items, 2)
}

func TestImportTableReusesProxyPerID(t *testing.T) {
	imports := NewImportTable()
	calls := 0
	construct := func() interface{} {
		calls++
		return &struct{ N int }{N: calls}
	}

	p1 := imports.ImportFrom(7, construct)
	p2 := imports.ImportFrom(7, construct)
	require.Same(t, p1, p2)
	require.Equal(t, 1, calls)

	imports.DropImport(7)
	require.Equal(t, 0, imports.Len())
}

func TestFromValueResolvesReferenceThroughImportTable(t *testing.T) {
	imports := NewImportTable()
	construct := func(remoteID uint64) interface{} {
		return &struct{ ID uint64 }{ID: remoteID}
	}

	native, err := FromValue(wire.Ref(5), imports, construct)
	require.NoError(t, err)
	p := native.(*struct{ ID uint64 })
	require.Equal(t, uint64(5), p.ID)
}
