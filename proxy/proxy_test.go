package proxy

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myelnet/nom/reftable"
	"github.com/myelnet/nom/transport"
	"github.com/myelnet/nom/wire"
)

type fakeCaller struct {
	lastOpcode  transport.Opcode
	lastPayload wire.Value
	reply       wire.Value
	err         error
	notified    bool
	notifyErr   error
}

func (f *fakeCaller) Call(ctx context.Context, peer net.Addr, opcode transport.Opcode, payload wire.Value) (wire.Value, error) {
	f.lastOpcode = opcode
	f.lastPayload = payload
	return f.reply, f.err
}

func (f *fakeCaller) Notify(peer net.Addr, opcode transport.Opcode, payload wire.Value) error {
	f.notified = true
	f.lastOpcode = opcode
	f.lastPayload = payload
	return f.notifyErr
}

func TestProxyGetAttrRoundTrips(t *testing.T) {
	caller := &fakeCaller{reply: wire.Int(7)}
	p := New(&net.UDPAddr{}, 3, caller, reftable.New())

	v, err := p.GetAttr(context.Background(), "size")
	require.NoError(t, err)
	n, ok := v.AsInt()
	require.True(t, ok)
	require.Equal(t, int64(7), n)
	require.Equal(t, transport.OpGetAttr, caller.lastOpcode)
}

func TestProxyEqualityByPeerAndID(t *testing.T) {
	caller := &fakeCaller{}
	addr := &net.UDPAddr{Port: 9001}
	p1 := New(addr, 5, caller, reftable.New())
	p2 := New(addr, 5, caller, reftable.New())
	p3 := New(addr, 6, caller, reftable.New())

	require.True(t, p1.Equal(p2))
	require.False(t, p1.Equal(p3))
}

func TestProxyStrIsAlwaysARoundTrip(t *testing.T) {
	caller := &fakeCaller{reply: wire.Text("widget(gear)")}
	p := New(&net.UDPAddr{}, 1, caller, reftable.New())

	s, err := p.Str(context.Background())
	require.NoError(t, err)
	require.Equal(t, "widget(gear)", s)
	require.Equal(t, transport.OpStr, caller.lastOpcode)

	caller.reply = wire.Text("changed")
	s, err = p.Str(context.Background())
	require.NoError(t, err)
	require.Equal(t, "changed", s)
}

func TestProxyReleaseIsFireAndForget(t *testing.T) {
	caller := &fakeCaller{}
	p := New(&net.UDPAddr{}, 4, caller, reftable.New())

	err := p.Release()
	require.NoError(t, err)
	require.True(t, caller.notified)
	require.Equal(t, transport.OpRelease, caller.lastOpcode)
}

func TestProxyCallEncodesArgs(t *testing.T) {
	caller := &fakeCaller{reply: wire.Nil()}
	p := New(&net.UDPAddr{}, 2, caller, reftable.New())

	_, err := p.Call(context.Background(), int64(1), "two")
	require.NoError(t, err)
	args, ok := caller.lastPayload.AsMap()
	require.True(t, ok)
	var found bool
	for _, pair := range args {
		if k, _ := pair.Key.AsText(); k == "args" {
			found = true
			seq, _ := pair.Val.AsSeq()
			require.Len(t, seq, 2)
		}
	}
	require.True(t, found)
}
