// Package reftable implements the symmetric remote-reference table (§2,
// §4.2): the export side that hands out ids for locally owned objects, the
// per-peer import side that remembers which Proxy stands in for which
// remote id, and the Native↔wire.Value bridge that performs reference
// fallback and cycle detection during encoding.
//
// reftable knows nothing about sockets, transactions, or opcodes; it is
// pure bookkeeping plus the codec bridge, the same separation of concerns
// the teacher draws between its payment channel ledger and its exchange
// transport.
package reftable

import (
	"reflect"
	"sync"

	"github.com/myelnet/nom/nomerr"
)

// exportEntry is one locally owned object made available to remote peers.
type exportEntry struct {
	object   interface{}
	refcount int
}

// Table is the local export side: an id-keyed directory of objects this
// Service has made remotely accessible, plus the name→id directory used by
// Resolve (§2, §4.2). One Table per Service; never per peer.
type Table struct {
	mu       sync.Mutex
	nextID   uint64
	exports  map[uint64]*exportEntry
	byPtr    map[uintptr]uint64
	names    map[string]uint64
}

// New returns an empty export table. Ids start at 1 so 0 is free to mean
// "no reference" wherever a caller wants a sentinel.
func New() *Table {
	return &Table{
		nextID:  1,
		exports: make(map[uint64]*exportEntry),
		byPtr:   make(map[uintptr]uint64),
		names:   make(map[string]uint64),
	}
}

// identity returns a pointer value usable for de-duplication, and whether
// object's kind supports it. Value types (plain structs, ints, strings)
// have no stable identity and are always exported afresh.
func identity(object interface{}) (uintptr, bool) {
	v := reflect.ValueOf(object)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	default:
		return 0, false
	}
}

// Export registers object and returns its id, reusing an existing id if
// object was already exported (identity-based, not value-based — §4.2's
// "idempotent; returns the existing id if already exported").
func (t *Table) Export(object interface{}) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ptr, ok := identity(object); ok {
		if id, exists := t.byPtr[ptr]; exists {
			t.exports[id].refcount++
			return id
		}
		id := t.nextID
		t.nextID++
		t.exports[id] = &exportEntry{object: object, refcount: 1}
		t.byPtr[ptr] = id
		return id
	}

	id := t.nextID
	t.nextID++
	t.exports[id] = &exportEntry{object: object, refcount: 1}
	return id
}

// Register assigns object an id via Export and records name in the named
// directory. Re-registering a name replaces the mapping; the prior id
// stays resolvable, since entries are never removed from the table (see
// Release).
func (t *Table) Register(name string, object interface{}) uint64 {
	id := t.Export(object)
	t.mu.Lock()
	t.names[name] = id
	t.mu.Unlock()
	return id
}

// Names lists every currently registered export name.
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.names))
	for n := range t.names {
		out = append(out, n)
	}
	return out
}

// ResolveName looks up a named export, returning its id.
func (t *Table) ResolveName(name string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.names[name]
	return id, ok
}

// ResolveID returns the live object behind an export id.
func (t *Table) ResolveID(id uint64) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.exports[id]
	if !ok {
		return nil, false
	}
	return e.object, true
}

// Release drops one reference to id, acquired when a RELEASE opcode is
// received from a peer that previously imported it. This is advisory
// bookkeeping only (§9): distributed GC is out of scope, so a refcount
// reaching zero does not free the entry; the count is only kept from going
// below zero.
func (t *Table) Release(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.exports[id]; ok && e.refcount > 0 {
		e.refcount--
	}
}

// EnsureExported idempotently exports object and returns its id, used by
// the reference-fallback path in ToValue. Distinct from Export only in
// name, kept separate so call sites read as "the codec wants a ref" versus
// "the caller wants to publish a name".
func (t *Table) EnsureExported(object interface{}) uint64 {
	return t.Export(object)
}

var errUnserializableCycle = nomerr.New(nomerr.KindUnserializable, "value graph contains a cycle")

// ErrCycle is returned by ToValue when a Sequence or Mapping traversal
// finds a back-edge (§4.1, Testable Property 3).
func ErrCycle() error { return errUnserializableCycle }
