// Package txn implements the Transaction layer (§4.3, §5): tid allocation,
// retransmission with backoff, the short-lived idempotent reply cache, and
// the waiter a caller blocks on while a request is outstanding.
//
// Grounded on the teacher's exchange.Replication.Dispatch retry loop (a
// jpillora/backoff-timed resend loop racing a response channel) and on the
// pending-map/Done-channel shape of birpc.Endpoint, adapted from an async
// RPC client to a UDP request/reply multiplexer keyed by (peer, tid).
package txn

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/nom/nomerr"
	"github.com/myelnet/nom/transport"
)

// State is a Transaction's lifecycle position (§3): CREATED → SENT →
// (REPLY_RECEIVED | TIMED_OUT | CANCELED) → RETIRED.
type State int

const (
	StateCreated State = iota
	StateSent
	StateReplyReceived
	StateTimedOut
	StateCanceled
	StateRetired
)

// Options configures retry behavior. Defaults mirror the teacher's
// DispatchOptions (§12): a minimum backoff interval and a bounded attempt
// count, doubling each retry.
type Options struct {
	RetryMax          int
	RetryBaseInterval time.Duration
	RetryMaxInterval  time.Duration
}

// DefaultOptions follows the retry discipline of SPEC_FULL §4.3: three
// retransmissions, the interval doubling from 200ms.
var DefaultOptions = Options{
	RetryMax:          3,
	RetryBaseInterval: 200 * time.Millisecond,
	RetryMaxInterval:  5 * time.Second,
}

type pendingKey struct {
	peer string
	tid  uint32
}

// pending is one outstanding outbound transaction: send, wait for a reply
// frame with a matching tid from the same peer, or time out.
type pending struct {
	done  chan transport.Frame
	state State
}

// Manager multiplexes outbound transactions over a single Socket and
// maintains the short-lived reply cache that makes inbound request
// delivery idempotent (§12): a request datagram seen twice because of a
// retransmit must execute its operation once and reply twice with the same
// answer.
type Manager struct {
	sock Socket
	opt  Options

	mu      sync.Mutex
	waiters map[pendingKey]*pending

	cacheMu  sync.Mutex
	cache    map[pendingKey]cachedReply
	cacheTTL time.Duration

	closed    chan struct{}
	closeOnce sync.Once
}

// Socket is the subset of transport.Socket the Manager depends on, kept
// narrow so tests can fake it without a real UDP pair.
type Socket interface {
	Send(dst net.Addr, f transport.Frame) error
}

type cachedReply struct {
	frame   transport.Frame
	expires time.Time
}

// NewManager builds a transaction Manager atop sock. cacheTTL governs how
// long a completed inbound request's reply is remembered for idempotent
// redelivery (§12); 0 disables caching.
func NewManager(sock Socket, opt Options, cacheTTL time.Duration) *Manager {
	return &Manager{
		sock:     sock,
		opt:      opt,
		waiters:  make(map[pendingKey]*pending),
		cache:    make(map[pendingKey]cachedReply),
		cacheTTL: cacheTTL,
		closed:   make(chan struct{}),
	}
}

// allocTID picks a 32-bit transaction id at random, drawing again while
// existing reports it as already in flight, so a tid is never reused while
// an earlier transaction with the same tid is still waiting (§3's
// no-wrap-before-timeout rule).
func allocTID(existing func(uint32) bool) uint32 {
	for {
		tid := rand.Uint32()
		if !existing(tid) {
			return tid
		}
	}
}

// Send transmits req to dst and blocks until a reply frame with a matching
// tid arrives, ctx is done, or the retry budget is exhausted. On exhaustion
// it returns a Timeout error (§7); on ctx cancellation it returns ctx.Err().
func (m *Manager) Send(ctx context.Context, dst net.Addr, opcode transport.Opcode, payload func(tid uint32) transport.Frame) (transport.Frame, error) {
	m.mu.Lock()
	tid := allocTID(func(t uint32) bool {
		_, ok := m.waiters[pendingKey{peer: dst.String(), tid: t}]
		return ok
	})
	key := pendingKey{peer: dst.String(), tid: tid}
	p := &pending{done: make(chan transport.Frame, 1), state: StateCreated}
	m.waiters[key] = p
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.waiters, key)
		m.mu.Unlock()
	}()

	b := &backoff.Backoff{
		Min: m.opt.RetryBaseInterval,
		Max: m.opt.RetryMaxInterval,
	}

	frame := payload(tid)
	for {
		if err := m.sock.Send(dst, frame); err != nil {
			return transport.Frame{}, err
		}
		m.setState(key, StateSent)

		timer := time.NewTimer(b.Duration())
		select {
		case reply := <-p.done:
			timer.Stop()
			m.setState(key, StateReplyReceived)
			return reply, nil
		case <-ctx.Done():
			timer.Stop()
			m.setState(key, StateCanceled)
			return transport.Frame{}, ctx.Err()
		case <-m.closed:
			timer.Stop()
			return transport.Frame{}, nomerr.ServiceStopped
		case <-timer.C:
			if int(b.Attempt()) > m.opt.RetryMax {
				m.setState(key, StateTimedOut)
				log.Warn().Str("peer", dst.String()).Uint32("tid", tid).
					Str("opcode", opcode.String()).Msg("transaction timed out")
				return transport.Frame{}, nomerr.Timeout
			}
			log.Debug().Str("peer", dst.String()).Uint32("tid", tid).
				Int("attempt", int(b.Attempt())).Msg("retransmitting request")
		}
	}
}

func (m *Manager) setState(key pendingKey, s State) {
	m.mu.Lock()
	if p, ok := m.waiters[key]; ok {
		p.state = s
	}
	m.mu.Unlock()
}

// Deliver hands an inbound frame to the Manager. If it is a reply matching
// an outstanding waiter, the waiter is woken. Returns true if the frame was
// consumed as a reply (the receiver loop should not also dispatch it as a
// request).
func (m *Manager) Deliver(src net.Addr, f transport.Frame) bool {
	if !f.Reply {
		return false
	}
	key := pendingKey{peer: src.String(), tid: f.TID}
	m.mu.Lock()
	p, ok := m.waiters[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.done <- f:
	default:
	}
	return true
}

// CacheReply remembers the reply this Service sent for an inbound request,
// so a retransmitted duplicate of that request can be answered without
// re-running the operation (§12, Testable Property 4).
func (m *Manager) CacheReply(src net.Addr, tid uint32, reply transport.Frame) {
	if m.cacheTTL <= 0 {
		return
	}
	key := pendingKey{peer: src.String(), tid: tid}
	m.cacheMu.Lock()
	m.cache[key] = cachedReply{frame: reply, expires: time.Now().Add(m.cacheTTL)}
	m.cacheMu.Unlock()
}

// CachedReply returns a previously cached reply for (src, tid), if still
// within its TTL.
func (m *Manager) CachedReply(src net.Addr, tid uint32) (transport.Frame, bool) {
	key := pendingKey{peer: src.String(), tid: tid}
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	c, ok := m.cache[key]
	if !ok || time.Now().After(c.expires) {
		return transport.Frame{}, false
	}
	return c.frame, true
}

// Shutdown wakes every outstanding waiter with ServiceStopped (§5's "stop
// drains outstanding transactions"). Safe to call more than once.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() { close(m.closed) })
}

// SweepCache evicts expired cache entries. Intended to be called
// periodically by the Service's background loop (§12).
func (m *Manager) SweepCache() {
	now := time.Now()
	m.cacheMu.Lock()
	for k, c := range m.cache {
		if now.After(c.expires) {
			delete(m.cache, k)
		}
	}
	m.cacheMu.Unlock()
}
