package service

// Lifecycle events published on the Service's internal event bus (§11).
// These are in-process notifications only, the same role libp2p's
// identify protocol uses go-eventbus for (EvtPeerIdentificationCompleted
// and friends) — nothing here crosses the wire.

// EvtPeerAdmitted fires once a peer record is created, after the
// Authenticator admits the endpoint.
type EvtPeerAdmitted struct {
	Addr string
}

// EvtPeerDropped describes the removal of a peer record. The Service has an
// emitter for it, but no code path removes a peer record (there is no idle
// eviction or disconnect), so it is never published.
type EvtPeerDropped struct {
	Addr string
}

// EvtExportRegistered fires whenever Register assigns a new name.
type EvtExportRegistered struct {
	Name string
	ID   uint64
}

// EvtTransactionTimedOut fires when an outbound transaction exhausts its
// retry budget without a reply.
type EvtTransactionTimedOut struct {
	Peer string
	TID  uint32
}
