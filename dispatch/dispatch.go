// Package dispatch implements the Operation Dispatcher (§4.4, §5): it takes
// a decoded opcode and payload, resolves the target export, consults the
// Authenticator, performs the operation against the live Go object via
// reflection (or a capability interface the object implements), and
// encodes the result or error back to a wire.Value.
//
// Grounded on birpc's reflect-based method dispatch (getRPCMethodsOfType /
// Endpoint.call in birpc.go), adapted from "call a named RPC method" to
// "perform one of a fixed opcode's worth of attribute/item/call operations
// against an arbitrary registered object".
package dispatch

import (
	"fmt"
	"net"
	"reflect"

	"github.com/rs/zerolog/log"

	"github.com/myelnet/nom/auth"
	"github.com/myelnet/nom/nomerr"
	"github.com/myelnet/nom/reftable"
	"github.com/myelnet/nom/transport"
	"github.com/myelnet/nom/wire"
)

// Dispatcher performs operations against a Service's export table on
// behalf of inbound requests.
type Dispatcher struct {
	Exports *reftable.Table
	Authz   auth.Authenticator
}

// New builds a Dispatcher over exports, gated by authz. A nil authz is
// replaced with auth.Default.
func New(exports *reftable.Table, authz auth.Authenticator) *Dispatcher {
	if authz == nil {
		authz = auth.Default{}
	}
	return &Dispatcher{Exports: exports, Authz: authz}
}

func mapGet(v wire.Value, key string) (wire.Value, bool) {
	pairs, ok := v.AsMap()
	if !ok {
		return wire.Value{}, false
	}
	for _, p := range pairs {
		if k, ok := p.Key.AsText(); ok && k == key {
			return p.Val, true
		}
	}
	return wire.Value{}, false
}

func (d *Dispatcher) resolveTarget(payload wire.Value) (interface{}, error) {
	tv, ok := mapGet(payload, "target")
	if !ok {
		return nil, nomerr.New(nomerr.KindMalformedValue, "request payload missing target")
	}
	id, ok := tv.AsRef()
	if !ok {
		return nil, nomerr.New(nomerr.KindMalformedValue, "target is not a reference")
	}
	obj, ok := d.Exports.ResolveID(id)
	if !ok {
		return nil, nomerr.NotFound
	}
	return obj, nil
}

// Inbound is the per-peer context a caller (package service) supplies
// alongside a request: the import table that resolves any Reference
// embedded in the request's arguments back to a Proxy pointed at that peer,
// and the constructor that builds one on first sight of a given remote id.
// Kept separate from Dispatcher itself because Dispatcher is shared across
// all peers while these are per-peer.
type Inbound struct {
	Imports  *reftable.ImportTable
	NewProxy func(remoteID uint64) interface{}
}

func (in Inbound) fromValue(v wire.Value) (interface{}, error) {
	if in.Imports == nil {
		return reftable.FromValue(v, reftable.NewImportTable(), func(uint64) interface{} { return nil })
	}
	return reftable.FromValue(v, in.Imports, in.NewProxy)
}

// Handle performs opcode against payload on behalf of src, returning the
// reply payload or an error whose Kind the caller encodes as REPLY_ERR.
func (d *Dispatcher) Handle(src net.Addr, opcode transport.Opcode, payload wire.Value, in Inbound) (wire.Value, error) {
	switch opcode {
	case transport.OpList:
		return d.handleList()
	case transport.OpResolve:
		return d.handleResolve(payload)
	case transport.OpGetAttr:
		return d.handleGetAttr(src, payload)
	case transport.OpSetAttr:
		return d.handleSetAttr(src, payload, in)
	case transport.OpDelAttr:
		return d.handleDelAttr(src, payload)
	case transport.OpGetItem:
		return d.handleGetItem(src, payload, in)
	case transport.OpSetItem:
		return d.handleSetItem(src, payload, in)
	case transport.OpDelItem:
		return d.handleDelItem(src, payload, in)
	case transport.OpLen:
		return d.handleLen(payload)
	case transport.OpStr:
		return d.handleStr(payload)
	case transport.OpRepr:
		return d.handleRepr(payload)
	case transport.OpCall:
		return d.handleCall(src, payload, in)
	case transport.OpRelease:
		return d.handleRelease(payload)
	default:
		return wire.Value{}, nomerr.UnsupportedOperation
	}
}

func (d *Dispatcher) handleList() (wire.Value, error) {
	names := d.Exports.Names()
	items := make([]wire.Value, len(names))
	for i, n := range names {
		items[i] = wire.Text(n)
	}
	return wire.Seq(items...), nil
}

func (d *Dispatcher) handleResolve(payload wire.Value) (wire.Value, error) {
	name, ok := payload.AsText()
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "resolve expects a text name")
	}
	id, ok := d.Exports.ResolveName(name)
	if !ok {
		return wire.Value{}, nomerr.NotFound
	}
	return wire.Ref(id), nil
}

func (d *Dispatcher) checkPermit(src net.Addr, op string, target interface{}, key string) error {
	if !d.Authz.Permit(src, op, target, key) {
		return nomerr.AccessDenied
	}
	return nil
}

func (d *Dispatcher) handleGetAttr(src net.Addr, payload wire.Value) (wire.Value, error) {
	target, err := d.resolveTarget(payload)
	if err != nil {
		return wire.Value{}, err
	}
	kv, ok := mapGet(payload, "key")
	key, _ := kv.AsText()
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "getattr missing key")
	}
	if err := d.checkPermit(src, "GETATTR", target, key); err != nil {
		return wire.Value{}, err
	}

	var result interface{}
	var found bool
	if a, ok := target.(Attributer); ok {
		result, found = a.GetAttr(key)
	} else {
		result, found = reflectGetAttr(target, key)
	}
	if !found {
		return wire.Value{}, nomerr.NotFound
	}
	return d.Exports.ToValue(result)
}

func (d *Dispatcher) handleSetAttr(src net.Addr, payload wire.Value, in Inbound) (wire.Value, error) {
	target, err := d.resolveTarget(payload)
	if err != nil {
		return wire.Value{}, err
	}
	kv, ok := mapGet(payload, "key")
	key, _ := kv.AsText()
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "setattr missing key")
	}
	if err := d.checkPermit(src, "SETATTR", target, key); err != nil {
		return wire.Value{}, err
	}
	valueWire, ok := mapGet(payload, "value")
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "setattr missing value")
	}
	val, err := in.fromValue(valueWire)
	if err != nil {
		return wire.Value{}, err
	}

	if a, ok := target.(Attributer); ok {
		if err := a.SetAttr(key, val); err != nil {
			return wire.Value{}, nomerr.New(nomerr.KindRemoteError, err.Error())
		}
		return wire.Nil(), nil
	}
	if err := reflectSetAttr(target, key, val); err != nil {
		return wire.Value{}, err
	}
	return wire.Nil(), nil
}

func (d *Dispatcher) handleDelAttr(src net.Addr, payload wire.Value) (wire.Value, error) {
	target, err := d.resolveTarget(payload)
	if err != nil {
		return wire.Value{}, err
	}
	kv, ok := mapGet(payload, "key")
	key, _ := kv.AsText()
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "delattr missing key")
	}
	if err := d.checkPermit(src, "DELATTR", target, key); err != nil {
		return wire.Value{}, err
	}
	a, ok := target.(Attributer)
	if !ok {
		return wire.Value{}, nomerr.UnsupportedOperation
	}
	if err := a.DelAttr(key); err != nil {
		return wire.Value{}, nomerr.New(nomerr.KindRemoteError, err.Error())
	}
	return wire.Nil(), nil
}

func (d *Dispatcher) handleGetItem(src net.Addr, payload wire.Value, in Inbound) (wire.Value, error) {
	target, err := d.resolveTarget(payload)
	if err != nil {
		return wire.Value{}, err
	}
	kv, ok := mapGet(payload, "key")
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "getitem missing key")
	}
	keyNative, err := in.fromValue(kv)
	if err != nil {
		return wire.Value{}, err
	}
	if err := d.checkPermit(src, "GETITEM", target, fmt.Sprint(keyNative)); err != nil {
		return wire.Value{}, err
	}

	var result interface{}
	var found bool
	if it, ok := target.(Itemer); ok {
		result, found = it.GetItem(keyNative)
	} else {
		result, found = reflectGetItem(target, keyNative)
	}
	if !found {
		return wire.Value{}, nomerr.NotFound
	}
	return d.Exports.ToValue(result)
}

func (d *Dispatcher) handleSetItem(src net.Addr, payload wire.Value, in Inbound) (wire.Value, error) {
	target, err := d.resolveTarget(payload)
	if err != nil {
		return wire.Value{}, err
	}
	kv, ok := mapGet(payload, "key")
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "setitem missing key")
	}
	keyNative, err := in.fromValue(kv)
	if err != nil {
		return wire.Value{}, err
	}
	if err := d.checkPermit(src, "SETITEM", target, fmt.Sprint(keyNative)); err != nil {
		return wire.Value{}, err
	}
	valueWire, ok := mapGet(payload, "value")
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "setitem missing value")
	}
	val, err := in.fromValue(valueWire)
	if err != nil {
		return wire.Value{}, err
	}

	if it, ok := target.(Itemer); ok {
		if err := it.SetItem(keyNative, val); err != nil {
			return wire.Value{}, nomerr.New(nomerr.KindRemoteError, err.Error())
		}
		return wire.Nil(), nil
	}
	if err := reflectSetItem(target, keyNative, val); err != nil {
		return wire.Value{}, err
	}
	return wire.Nil(), nil
}

func (d *Dispatcher) handleDelItem(src net.Addr, payload wire.Value, in Inbound) (wire.Value, error) {
	target, err := d.resolveTarget(payload)
	if err != nil {
		return wire.Value{}, err
	}
	kv, ok := mapGet(payload, "key")
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "delitem missing key")
	}
	keyNative, err := in.fromValue(kv)
	if err != nil {
		return wire.Value{}, err
	}
	if err := d.checkPermit(src, "DELITEM", target, fmt.Sprint(keyNative)); err != nil {
		return wire.Value{}, err
	}
	it, ok := target.(Itemer)
	if !ok {
		return wire.Value{}, nomerr.UnsupportedOperation
	}
	if err := it.DelItem(keyNative); err != nil {
		return wire.Value{}, nomerr.New(nomerr.KindRemoteError, err.Error())
	}
	return wire.Nil(), nil
}

func (d *Dispatcher) handleLen(payload wire.Value) (wire.Value, error) {
	target, err := d.resolveTarget(payload)
	if err != nil {
		return wire.Value{}, err
	}
	if l, ok := target.(Lenner); ok {
		return wire.Int(int64(l.Len())), nil
	}
	rv := reflect.ValueOf(target)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
		return wire.Int(int64(rv.Len())), nil
	default:
		return wire.Value{}, nomerr.UnsupportedOperation
	}
}

func (d *Dispatcher) handleStr(payload wire.Value) (wire.Value, error) {
	target, err := d.resolveTarget(payload)
	if err != nil {
		return wire.Value{}, err
	}
	return wire.Text(fmt.Sprintf("%v", target)), nil
}

func (d *Dispatcher) handleRepr(payload wire.Value) (wire.Value, error) {
	target, err := d.resolveTarget(payload)
	if err != nil {
		return wire.Value{}, err
	}
	if r, ok := target.(Reprer); ok {
		return wire.Text(r.Repr()), nil
	}
	return wire.Text(fmt.Sprintf("%#v", target)), nil
}

func (d *Dispatcher) handleCall(src net.Addr, payload wire.Value, in Inbound) (wire.Value, error) {
	target, err := d.resolveTarget(payload)
	if err != nil {
		return wire.Value{}, err
	}
	if err := d.checkPermit(src, "CALL", target, ""); err != nil {
		return wire.Value{}, err
	}
	argsWire, _ := mapGet(payload, "args")
	argValues, _ := argsWire.AsSeq()
	args := make([]interface{}, len(argValues))
	for i, av := range argValues {
		n, err := in.fromValue(av)
		if err != nil {
			return wire.Value{}, err
		}
		args[i] = n
	}

	var result interface{}
	if c, ok := target.(Caller); ok {
		result, err = c.Call(args)
		if err != nil {
			return wire.Value{}, nomerr.New(nomerr.KindRemoteError, err.Error())
		}
	} else {
		result, err = reflectCall(target, args)
		if err != nil {
			return wire.Value{}, err
		}
	}
	log.Debug().Str("peer", src.String()).Msg("CALL dispatched")
	return d.Exports.ToValue(result)
}

func (d *Dispatcher) handleRelease(payload wire.Value) (wire.Value, error) {
	tv, ok := mapGet(payload, "target")
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "release missing target")
	}
	id, ok := tv.AsRef()
	if !ok {
		return wire.Value{}, nomerr.New(nomerr.KindMalformedValue, "release target is not a reference")
	}
	d.Exports.Release(id)
	return wire.Nil(), nil
}
