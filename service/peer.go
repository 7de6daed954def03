package service

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/myelnet/nom/proxy"
	"github.com/myelnet/nom/reftable"
	"github.com/myelnet/nom/transport"
	"github.com/myelnet/nom/wire"
)

// peerRecord is the Service's bookkeeping for one remote endpoint (§3):
// its address, its import table, and a last-seen timestamp refreshed on
// each contact. Nothing in the package reads the timestamp, and idle peers
// are not evicted.
type peerRecord struct {
	addr    net.Addr
	version byte

	mu       sync.Mutex
	imports  *reftable.ImportTable
	lastSeen time.Time
}

func newPeerRecord(addr net.Addr, version byte) *peerRecord {
	return &peerRecord{addr: addr, version: version, imports: reftable.NewImportTable(), lastSeen: time.Now()}
}

func (p *peerRecord) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// PeerHandle is the user-facing reference to a peer once Connect succeeds
// (§4.6's connect(peer_endpoint) → PeerHandle).
type PeerHandle struct {
	svc  *Service
	peer *peerRecord
}

// List requests the peer's named-export directory (LIST).
func (h *PeerHandle) List(ctx context.Context) ([]string, error) {
	reply, err := h.svc.call(ctx, h.peer.addr, transport.OpList, wire.Nil())
	if err != nil {
		return nil, err
	}
	items, _ := reply.AsSeq()
	names := make([]string, len(items))
	for i, it := range items {
		names[i], _ = it.AsText()
	}
	return names, nil
}

// Resolve looks up a named export on the peer and returns a Proxy bound to
// it (RESOLVE). Resolving the same name twice returns distinct Proxy
// values only if the remote id changed; the same id always yields the same
// Proxy object for this peer (§4.2).
func (h *PeerHandle) Resolve(ctx context.Context, name string) (*proxy.Proxy, error) {
	reply, err := h.svc.call(ctx, h.peer.addr, transport.OpResolve, wire.Text(name))
	if err != nil {
		return nil, err
	}
	id, ok := reply.AsRef()
	if !ok {
		return nil, errNotAReference
	}
	return h.svc.proxyFor(h.peer, id), nil
}
