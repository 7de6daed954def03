package dispatch

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myelnet/nom/auth"
	"github.com/myelnet/nom/nomerr"
	"github.com/myelnet/nom/reftable"
	"github.com/myelnet/nom/transport"
	"github.com/myelnet/nom/wire"
)

type widget struct {
	Name string
}

func (w *widget) Repr() string { return "widget(" + w.Name + ")" }

func reqMap(pairs ...wire.Pair) wire.Value { return wire.Map(pairs...) }

func TestHandleGetAttr(t *testing.T) {
	exports := reftable.New()
	id := exports.Export(&widget{Name: "gear"})
	d := New(exports, auth.Default{})

	addr := &net.UDPAddr{}
	payload := reqMap(wire.Pair{Key: wire.Text("target"), Val: wire.Ref(id)}, wire.Pair{Key: wire.Text("key"), Val: wire.Text("Name")})
	reply, err := d.Handle(addr, transport.OpGetAttr, payload, Inbound{})
	require.NoError(t, err)
	s, ok := reply.AsText()
	require.True(t, ok)
	require.Equal(t, "gear", s)
}

func TestHandleGetAttrDeniesUnderscoreKey(t *testing.T) {
	exports := reftable.New()
	id := exports.Export(&struct{ _Secret string }{_Secret: "x"})
	d := New(exports, auth.Default{})

	addr := &net.UDPAddr{}
	payload := reqMap(wire.Pair{Key: wire.Text("target"), Val: wire.Ref(id)}, wire.Pair{Key: wire.Text("key"), Val: wire.Text("_Secret")})
	_, err := d.Handle(addr, transport.OpGetAttr, payload, Inbound{})
	require.Error(t, err)
}

func TestHandleRepr(t *testing.T) {
	exports := reftable.New()
	id := exports.Export(&widget{Name: "gear"})
	d := New(exports, auth.Default{})

	addr := &net.UDPAddr{}
	payload := reqMap(wire.Pair{Key: wire.Text("target"), Val: wire.Ref(id)})
	reply, err := d.Handle(addr, transport.OpRepr, payload, Inbound{})
	require.NoError(t, err)
	s, _ := reply.AsText()
	require.Equal(t, "widget(gear)", s)
}

func TestHandleResolveAndList(t *testing.T) {
	exports := reftable.New()
	id := exports.Register("root", &widget{Name: "top"})
	d := New(exports, auth.Default{})
	addr := &net.UDPAddr{}

	reply, err := d.Handle(addr, transport.OpList, wire.Nil(), Inbound{})
	require.NoError(t, err)
	items, _ := reply.AsSeq()
	require.Len(t, items, 1)

	reply, err = d.Handle(addr, transport.OpResolve, wire.Text("root"), Inbound{})
	require.NoError(t, err)
	got, _ := reply.AsRef()
	require.Equal(t, id, got)
}

func TestHandleUnknownTargetIsNotFound(t *testing.T) {
	exports := reftable.New()
	d := New(exports, auth.Default{})
	addr := &net.UDPAddr{}

	payload := reqMap(wire.Pair{Key: wire.Text("target"), Val: wire.Ref(999)})
	_, err := d.Handle(addr, transport.OpLen, payload, Inbound{})
	require.Error(t, err)
	require.ErrorIs(t, err, nomerr.NotFound)
}
