// Package auth defines the capability seam the Service consults before
// admitting a peer and before letting a dispatched operation touch an
// attribute or item (§4.4, Testable Property 7).
package auth

import "net"

// Authenticator gates the two trust decisions a Service has to make: is a
// remote endpoint allowed to become a peer at all, and is a given operation
// on a given key allowed to proceed.
type Authenticator interface {
	// AdmitPeer decides whether to create a peer record for addr, called
	// on Connect and on the first inbound datagram from an unknown
	// endpoint.
	AdmitPeer(addr net.Addr) bool

	// Permit decides whether opcode may act on key against target. The
	// dispatcher consults it for GETATTR, SETATTR, DELATTR, GETITEM,
	// SETITEM and DELITEM (key is the attribute name or the item key in
	// text form) and for CALL (key is empty). LIST, RESOLVE, LEN, STR,
	// REPR and RELEASE are dispatched without calling Permit.
	Permit(addr net.Addr, opcode string, target interface{}, key string) bool
}

// Default admits every peer and denies access to any attribute or item key
// beginning with "_", the convention the spec borrows for "private by
// naming" (§4.4). It is the Authenticator a Service uses when none is
// configured.
type Default struct{}

func (Default) AdmitPeer(net.Addr) bool { return true }

func (Default) Permit(_ net.Addr, _ string, _ interface{}, key string) bool {
	if len(key) > 0 && key[0] == '_' {
		return false
	}
	return true
}
