// Package proxy implements the client-side remote-object stand-in (§2,
// §4.5): every capability access on a Proxy is a synchronous round trip
// through the transaction layer. A Proxy never caches an attribute value
// or item; STR and REPR are real requests too, not local formatting.
package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/myelnet/nom/nomerr"
	"github.com/myelnet/nom/reftable"
	"github.com/myelnet/nom/transport"
	"github.com/myelnet/nom/wire"
)

// Caller is the subset of the transaction Manager a Proxy needs: send a
// request to a peer and get back the reply payload or an error already
// translated from REPLY_ERR. Kept as an interface so proxy doesn't import
// package txn directly and so tests can fake it.
type Caller interface {
	Call(ctx context.Context, peer net.Addr, opcode transport.Opcode, payload wire.Value) (wire.Value, error)

	// Notify sends a one-way frame with no expected reply, for opcodes
	// the wire contract marks "(no reply)" (§4.4's RELEASE).
	Notify(peer net.Addr, opcode transport.Opcode, payload wire.Value) error
}

// Proxy stands in for an object owned by a remote peer, identified by
// (Peer, RemoteID). Equal compares that pair (§4.5): two Proxies referring
// to the same remote object compare equal regardless of when they were
// constructed. Proxy defines no hash or key method; a *Proxy used as a map
// key hashes by pointer.
type Proxy struct {
	Peer     net.Addr
	RemoteID uint64

	caller  Caller
	exports *reftable.Table // this side's own export table, for argument reference fallback
}

// New builds a Proxy bound to (peer, remoteID). Constructed only by the
// import table on a cache miss (package reftable's ImportFrom), never
// directly by user code, so that the "one Proxy per remote-id per peer"
// invariant holds.
func New(peer net.Addr, remoteID uint64, caller Caller, exports *reftable.Table) *Proxy {
	return &Proxy{Peer: peer, RemoteID: remoteID, caller: caller, exports: exports}
}

// Equal reports whether two Proxies name the same remote object.
func (p *Proxy) Equal(o *Proxy) bool {
	if o == nil {
		return false
	}
	return p.Peer.String() == o.Peer.String() && p.RemoteID == o.RemoteID
}

func (p *Proxy) target() wire.Value {
	return wire.Ref(p.RemoteID)
}

func (p *Proxy) argValue(arg interface{}) (wire.Value, error) {
	return p.exports.ToValue(arg)
}

// GetAttr fetches a remote attribute by name (GETATTR).
func (p *Proxy) GetAttr(ctx context.Context, key string) (wire.Value, error) {
	payload := wire.Map(
		wire.Pair{Key: wire.Text("target"), Val: p.target()},
		wire.Pair{Key: wire.Text("key"), Val: wire.Text(key)},
	)
	return p.caller.Call(ctx, p.Peer, transport.OpGetAttr, payload)
}

// SetAttr sets a remote attribute (SETATTR).
func (p *Proxy) SetAttr(ctx context.Context, key string, val interface{}) error {
	v, err := p.argValue(val)
	if err != nil {
		return err
	}
	payload := wire.Map(
		wire.Pair{Key: wire.Text("target"), Val: p.target()},
		wire.Pair{Key: wire.Text("key"), Val: wire.Text(key)},
		wire.Pair{Key: wire.Text("value"), Val: v},
	)
	_, err = p.caller.Call(ctx, p.Peer, transport.OpSetAttr, payload)
	return err
}

// DelAttr deletes a remote attribute (DELATTR).
func (p *Proxy) DelAttr(ctx context.Context, key string) error {
	payload := wire.Map(
		wire.Pair{Key: wire.Text("target"), Val: p.target()},
		wire.Pair{Key: wire.Text("key"), Val: wire.Text(key)},
	)
	_, err := p.caller.Call(ctx, p.Peer, transport.OpDelAttr, payload)
	return err
}

// GetItem fetches a remote item by key (GETITEM).
func (p *Proxy) GetItem(ctx context.Context, key interface{}) (wire.Value, error) {
	kv, err := p.argValue(key)
	if err != nil {
		return wire.Value{}, err
	}
	payload := wire.Map(
		wire.Pair{Key: wire.Text("target"), Val: p.target()},
		wire.Pair{Key: wire.Text("key"), Val: kv},
	)
	return p.caller.Call(ctx, p.Peer, transport.OpGetItem, payload)
}

// SetItem sets a remote item (SETITEM).
func (p *Proxy) SetItem(ctx context.Context, key, val interface{}) error {
	kv, err := p.argValue(key)
	if err != nil {
		return err
	}
	vv, err := p.argValue(val)
	if err != nil {
		return err
	}
	payload := wire.Map(
		wire.Pair{Key: wire.Text("target"), Val: p.target()},
		wire.Pair{Key: wire.Text("key"), Val: kv},
		wire.Pair{Key: wire.Text("value"), Val: vv},
	)
	_, err = p.caller.Call(ctx, p.Peer, transport.OpSetItem, payload)
	return err
}

// DelItem deletes a remote item (DELITEM).
func (p *Proxy) DelItem(ctx context.Context, key interface{}) error {
	kv, err := p.argValue(key)
	if err != nil {
		return err
	}
	payload := wire.Map(
		wire.Pair{Key: wire.Text("target"), Val: p.target()},
		wire.Pair{Key: wire.Text("key"), Val: kv},
	)
	_, err = p.caller.Call(ctx, p.Peer, transport.OpDelItem, payload)
	return err
}

// Len requests the remote object's length (LEN).
func (p *Proxy) Len(ctx context.Context) (int64, error) {
	payload := wire.Map(wire.Pair{Key: wire.Text("target"), Val: p.target()})
	reply, err := p.caller.Call(ctx, p.Peer, transport.OpLen, payload)
	if err != nil {
		return 0, err
	}
	n, ok := reply.AsInt()
	if !ok {
		return 0, nomerr.New(nomerr.KindMalformedValue, "LEN reply was not an integer")
	}
	return n, nil
}

// Str requests the remote object's string form (STR). This is always a
// round trip; a Proxy never caches it.
func (p *Proxy) Str(ctx context.Context) (string, error) {
	payload := wire.Map(wire.Pair{Key: wire.Text("target"), Val: p.target()})
	reply, err := p.caller.Call(ctx, p.Peer, transport.OpStr, payload)
	if err != nil {
		return "", err
	}
	s, _ := reply.AsText()
	return s, nil
}

// Repr requests the remote object's debug representation (REPR).
func (p *Proxy) Repr(ctx context.Context) (string, error) {
	payload := wire.Map(wire.Pair{Key: wire.Text("target"), Val: p.target()})
	reply, err := p.caller.Call(ctx, p.Peer, transport.OpRepr, payload)
	if err != nil {
		return "", err
	}
	s, _ := reply.AsText()
	return s, nil
}

// Call invokes the remote object as a callable with args (CALL). Any arg
// without a direct wire variant, including a local function meant as a
// callback, is exported and shipped as a Reference — the reference
// fallback that makes a remote call's arguments capable of carrying
// callbacks back to this side (§6's chained-call scenario).
func (p *Proxy) Call(ctx context.Context, args ...interface{}) (wire.Value, error) {
	items := make([]wire.Value, len(args))
	for i, a := range args {
		v, err := p.argValue(a)
		if err != nil {
			return wire.Value{}, err
		}
		items[i] = v
	}
	payload := wire.Map(
		wire.Pair{Key: wire.Text("target"), Val: p.target()},
		wire.Pair{Key: wire.Text("args"), Val: wire.Seq(items...)},
	)
	return p.caller.Call(ctx, p.Peer, transport.OpCall, payload)
}

// Release tells the remote peer this side no longer holds the Proxy
// (RELEASE), decrementing the export's advisory refcount there (§9). RELEASE
// is "(no reply)" per §4.4, so this does not wait for or expect a REPLY_OK.
func (p *Proxy) Release() error {
	payload := wire.Map(wire.Pair{Key: wire.Text("target"), Val: p.target()})
	return p.caller.Notify(p.Peer, transport.OpRelease, payload)
}

func (p *Proxy) String() string {
	return fmt.Sprintf("Proxy(peer=%s, id=%d)", p.Peer, p.RemoteID)
}
