package reftable

import "sync"

// ImportTable maps a single remote peer's export ids to the local Proxy
// standing in for them. Invariant (§4.2): at most one live Proxy per
// remote-id per peer; a second import of the same id must return the same
// Proxy rather than constructing a new one.
//
// ImportTable stores Proxies as interface{} rather than a concrete type so
// this package never has to import package proxy — the dependency runs the
// other way, proxy imports reftable.
type ImportTable struct {
	mu    sync.Mutex
	byID  map[uint64]interface{}
}

// NewImportTable returns an empty per-peer import table.
func NewImportTable() *ImportTable {
	return &ImportTable{byID: make(map[uint64]interface{})}
}

// ImportFrom returns the Proxy already on file for remoteID, or calls
// construct to build one and files it. construct is only ever invoked on a
// miss, so it is safe for it to have side effects (e.g. allocating a
// struct that later sends a RELEASE on finalization).
func (t *ImportTable) ImportFrom(remoteID uint64, construct func() interface{}) interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.byID[remoteID]; ok {
		return p
	}
	p := construct()
	t.byID[remoteID] = p
	return p
}

// DropImport removes the Proxy on file for remoteID. The caller (package
// service) is responsible for sending the RELEASE opcode to the peer; this
// call only updates local bookkeeping.
func (t *ImportTable) DropImport(remoteID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, remoteID)
}

// Len reports how many remote ids are currently imported from this peer.
func (t *ImportTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
