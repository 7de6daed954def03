// Package service assembles the Service container (§2, §5): the socket,
// the export table, the transaction manager, a receiver goroutine plus a
// worker pool, the peer directory, and the Authenticator. It is the only
// package that wires all the others together.
//
// Grounded on node.New in the teacher's node/popn.go for the shape of a
// constructor that assembles many subsystems behind Options, and on the
// teacher's Exchange for the "own everything, expose a small surface"
// posture a Service takes relative to its sockets, tables, and workers.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/libp2p/go-eventbus"
	"github.com/libp2p/go-libp2p-core/event"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/nom/auth"
	"github.com/myelnet/nom/dispatch"
	"github.com/myelnet/nom/nomerr"
	"github.com/myelnet/nom/proxy"
	"github.com/myelnet/nom/reftable"
	"github.com/myelnet/nom/transport"
	"github.com/myelnet/nom/txn"
	"github.com/myelnet/nom/wire"
)

// state is the Service's lifecycle position (§4.6): UNSTARTED → RUNNING →
// STOPPING → STOPPED.
type state int32

const (
	stateUnstarted state = iota
	stateRunning
	stateStopping
	stateStopped
)

// Options configures a Service. New replaces a zero WorkerCount, RetryMax,
// RetryBaseInterval or MaxPayloadSize with the value in DefaultOptions; a
// zero ReplyCacheTTL disables the reply cache. MaxPayloadSize is parsed with
// docker/go-units so operators can write "16KiB" instead of a raw byte
// count, the same convenience the teacher's Capacity-style fields offer
// via similar humanized units elsewhere in the stack.
type Options struct {
	ListenAddr        string
	MaxPayloadSize    string
	WorkerCount       int
	RetryMax          int
	RetryBaseInterval time.Duration
	ReplyCacheTTL     time.Duration
	Authenticator     auth.Authenticator
}

// DefaultOptions mirrors the teacher's DefaultDispatchOptions pattern: a
// package-level struct of sane defaults a caller overrides selectively.
var DefaultOptions = Options{
	ListenAddr:        ":0",
	MaxPayloadSize:    "16KiB",
	WorkerCount:       4,
	RetryMax:          3,
	RetryBaseInterval: 200 * time.Millisecond,
	ReplyCacheTTL:     30 * time.Second,
}

var errNotAReference = errors.New("nom: reply was not a reference")

// Stats reports the Service's malformed-datagram and unmatched-reply
// counters (§12), useful for a health check or metrics scrape.
type Stats struct {
	Malformed  uint64
	UnknownTID uint64
}

// Service is one NOM peer: a UDP socket, an export table, a per-peer
// import/transaction bookkeeping set, a worker pool, and an Authenticator.
type Service struct {
	ID uuid.UUID

	opt        Options
	maxPayload int

	sock    *transport.Socket
	exports *reftable.Table
	txns    *txn.Manager
	disp    *dispatch.Dispatcher

	bus       event.Bus
	emitPeerAdmitted event.Emitter
	emitPeerDropped  event.Emitter
	emitExportReg    event.Emitter
	emitTxnTimeout   event.Emitter

	listeners dispatchListeners

	peersMu sync.Mutex
	peers   map[string]*peerRecord

	state     int32
	malformed uint64
	unknownTID uint64

	jobs   chan job
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type job struct {
	src   net.Addr
	frame transport.Frame
}

// New assembles a Service from opt without binding any socket; call Start
// to bind and begin serving.
func New(opt Options) (*Service, error) {
	if opt.WorkerCount <= 0 {
		opt.WorkerCount = DefaultOptions.WorkerCount
	}
	if opt.RetryMax <= 0 {
		opt.RetryMax = DefaultOptions.RetryMax
	}
	if opt.RetryBaseInterval <= 0 {
		opt.RetryBaseInterval = DefaultOptions.RetryBaseInterval
	}
	if opt.MaxPayloadSize == "" {
		opt.MaxPayloadSize = DefaultOptions.MaxPayloadSize
	}
	if opt.Authenticator == nil {
		opt.Authenticator = auth.Default{}
	}

	maxPayload, err := units.RAMInBytes(opt.MaxPayloadSize)
	if err != nil {
		return nil, fmt.Errorf("nom: parsing MaxPayloadSize: %w", err)
	}

	bus := eventbus.NewBus()
	s := &Service{
		ID:         uuid.New(),
		opt:        opt,
		maxPayload: int(maxPayload),
		exports:    reftable.New(),
		bus:        bus,
		listeners:  newDispatchListeners(),
		peers:      make(map[string]*peerRecord),
		jobs:       make(chan job, opt.WorkerCount*4),
		stopCh:     make(chan struct{}),
	}
	s.disp = dispatch.New(s.exports, opt.Authenticator)

	s.emitPeerAdmitted, err = bus.Emitter(new(EvtPeerAdmitted))
	if err != nil {
		log.Warn().Err(err).Msg("service not emitting peer admitted events")
	}
	s.emitPeerDropped, err = bus.Emitter(new(EvtPeerDropped))
	if err != nil {
		log.Warn().Err(err).Msg("service not emitting peer dropped events")
	}
	s.emitExportReg, err = bus.Emitter(new(EvtExportRegistered))
	if err != nil {
		log.Warn().Err(err).Msg("service not emitting export registered events")
	}
	s.emitTxnTimeout, err = bus.Emitter(new(EvtTransactionTimedOut))
	if err != nil {
		log.Warn().Err(err).Msg("service not emitting transaction timeout events")
	}

	return s, nil
}

// EventBus exposes the Service's internal event bus for Subscribe calls
// (§11).
func (s *Service) EventBus() event.Bus { return s.bus }

// LocalAddr returns the address the Service is bound to. Only valid after
// Start succeeds.
func (s *Service) LocalAddr() net.Addr { return s.sock.LocalAddr() }

// Start binds the UDP socket and launches the receiver goroutine and
// worker pool (§5).
func (s *Service) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(stateUnstarted), int32(stateRunning)) {
		return fmt.Errorf("nom: service already started")
	}
	sock, err := transport.Listen(s.opt.ListenAddr, s.maxPayload)
	if err != nil {
		atomic.StoreInt32(&s.state, int32(stateUnstarted))
		return err
	}
	s.sock = sock
	s.txns = txn.NewManager(sock, txn.Options{
		RetryMax:          s.opt.RetryMax,
		RetryBaseInterval: s.opt.RetryBaseInterval,
		RetryMaxInterval:  s.opt.RetryBaseInterval * 32,
	}, s.opt.ReplyCacheTTL)

	log.Info().Str("addr", sock.LocalAddr().String()).Str("id", s.ID.String()).Msg("service starting")

	for i := 0; i < s.opt.WorkerCount; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
	s.wg.Add(1)
	go s.receiveLoop()

	if s.opt.ReplyCacheTTL > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return nil
}

// Stop closes the socket, wakes every outstanding transaction with
// ServiceStopped, and waits for the receiver and workers to exit (§5).
func (s *Service) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(stateRunning), int32(stateStopping)) {
		return nil
	}
	close(s.stopCh)
	if s.txns != nil {
		s.txns.Shutdown()
	}
	if s.sock != nil {
		s.sock.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		atomic.StoreInt32(&s.state, int32(stateStopped))
		return ctx.Err()
	}
	atomic.StoreInt32(&s.state, int32(stateStopped))
	log.Info().Str("id", s.ID.String()).Msg("service stopped")
	return nil
}

// Register exports object under name (§4.6's register(object, name)).
func (s *Service) Register(name string, object interface{}) uint64 {
	id := s.exports.Register(name, object)
	if s.emitExportReg != nil {
		_ = s.emitExportReg.Emit(EvtExportRegistered{Name: name, ID: id})
	}
	return id
}

// ListNames lists this Service's own named exports.
func (s *Service) ListNames() []string {
	return s.exports.Names()
}

// Stats reports malformed-datagram and unmatched-reply counters.
func (s *Service) Stats() Stats {
	return Stats{
		Malformed:  atomic.LoadUint64(&s.malformed),
		UnknownTID: atomic.LoadUint64(&s.unknownTID),
	}
}

// Connect performs the HELLO handshake against addr, admits the peer
// locally if the Authenticator allows it, and returns a PeerHandle (§4.6).
func (s *Service) Connect(ctx context.Context, addr string) (*PeerHandle, error) {
	if atomic.LoadInt32(&s.state) != int32(stateRunning) {
		return nil, nomerr.ServiceStopped
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	if !s.opt.Authenticator.AdmitPeer(udpAddr) {
		return nil, nomerr.AccessDenied
	}

	hello := wire.Map(
		wire.Pair{Key: wire.Text("min"), Val: wire.Int(int64(transport.Version))},
		wire.Pair{Key: wire.Text("max"), Val: wire.Int(int64(transport.Version))},
	)
	reply, err := s.call(ctx, udpAddr, transport.OpHello, hello)
	if err != nil {
		return nil, err
	}
	negotiated, ok := reply.AsInt()
	if !ok || negotiated <= 0 || negotiated > int64(transport.Version) {
		return nil, nomerr.UnsupportedVersion
	}

	peer := s.admitPeer(udpAddr, byte(negotiated))
	return &PeerHandle{svc: s, peer: peer}, nil
}

func (s *Service) admitPeer(addr net.Addr, version byte) *peerRecord {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	if p, ok := s.peers[addr.String()]; ok {
		p.touch()
		return p
	}
	p := newPeerRecord(addr, version)
	s.peers[addr.String()] = p
	if s.emitPeerAdmitted != nil {
		_ = s.emitPeerAdmitted.Emit(EvtPeerAdmitted{Addr: addr.String()})
	}
	return p
}

func (s *Service) proxyFor(p *peerRecord, remoteID uint64) *proxy.Proxy {
	cp := proxyCaller{svc: s}
	obj := p.imports.ImportFrom(remoteID, func() interface{} {
		return proxy.New(p.addr, remoteID, cp, s.exports)
	})
	return obj.(*proxy.Proxy)
}

// proxyCaller adapts Service.call to proxy.Caller.
type proxyCaller struct {
	svc *Service
}

func (c proxyCaller) Call(ctx context.Context, peer net.Addr, opcode transport.Opcode, payload wire.Value) (wire.Value, error) {
	return c.svc.call(ctx, peer, opcode, payload)
}

func (c proxyCaller) Notify(peer net.Addr, opcode transport.Opcode, payload wire.Value) error {
	return c.svc.notify(peer, opcode, payload)
}

// notify sends a one-way frame with no transaction bookkeeping: no waiter
// is registered and no retry is attempted, since the far side never sends
// a reply (§4.4's "(no reply)" opcodes). The tid is unused by either side.
func (s *Service) notify(dst net.Addr, opcode transport.Opcode, payload wire.Value) error {
	frame := transport.Frame{Version: transport.Version, TID: 0, Opcode: opcode, Payload: payload}
	return s.sock.Send(dst, frame)
}

// call sends opcode/payload to dst and translates a REPLY_ERR frame back
// into a *nomerr.Error (§4.4).
func (s *Service) call(ctx context.Context, dst net.Addr, opcode transport.Opcode, payload wire.Value) (wire.Value, error) {
	reply, err := s.txns.Send(ctx, dst, opcode, func(tid uint32) transport.Frame {
		return transport.Frame{Version: transport.Version, TID: tid, Opcode: opcode, Payload: payload}
	})
	if err != nil {
		if errors.Is(err, nomerr.Timeout) && s.emitTxnTimeout != nil {
			_ = s.emitTxnTimeout.Emit(EvtTransactionTimedOut{Peer: dst.String()})
		}
		return wire.Value{}, err
	}
	if reply.Opcode == transport.OpReplyErr {
		return wire.Value{}, decodeErr(reply.Payload)
	}
	return reply.Payload, nil
}

func encodeErr(err error) wire.Value {
	var ne *nomerr.Error
	if !errors.As(err, &ne) {
		ne = nomerr.New(nomerr.KindRemoteError, err.Error())
	}
	return wire.Map(
		wire.Pair{Key: wire.Text("kind"), Val: wire.Int(int64(ne.Kind))},
		wire.Pair{Key: wire.Text("reason"), Val: wire.Text(ne.Reason)},
		wire.Pair{Key: wire.Text("offset"), Val: wire.Int(int64(ne.Offset))},
	)
}

func decodeErr(v wire.Value) error {
	pairs, ok := v.AsMap()
	if !ok {
		return nomerr.RemoteError
	}
	e := &nomerr.Error{}
	for _, p := range pairs {
		k, _ := p.Key.AsText()
		switch k {
		case "kind":
			if n, ok := p.Val.AsInt(); ok {
				e.Kind = nomerr.Kind(n)
			}
		case "reason":
			e.Reason, _ = p.Val.AsText()
		case "offset":
			if n, ok := p.Val.AsInt(); ok {
				e.Offset = int(n)
			}
		}
	}
	return e
}
