package service

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/myelnet/nom/dispatch"
	"github.com/myelnet/nom/nomerr"
	"github.com/myelnet/nom/proxy"
	"github.com/myelnet/nom/transport"
	"github.com/myelnet/nom/wire"
)

// receiveLoop is the Service's single receiver task (§5): it reads every
// inbound datagram, forwards replies to the transaction Manager, and hands
// inbound requests to the worker pool. Nothing here should block on a
// dispatched operation, only on the socket read itself.
func (s *Service) receiveLoop() {
	defer s.wg.Done()
	for {
		frame, src, err := s.sock.Recv()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if _, ok := err.(*nomerr.Error); ok {
				atomic.AddUint64(&s.malformed, 1)
				continue
			}
			// A non-protocol error (e.g. the socket was closed) ends the loop.
			return
		}

		if frame.Reply {
			if !s.txns.Deliver(src, frame) {
				atomic.AddUint64(&s.unknownTID, 1)
			}
			continue
		}

		select {
		case s.jobs <- job{src: src, frame: frame}:
		case <-s.stopCh:
			return
		}
	}
}

// workerLoop drains the job queue; a worker blocks only on the dispatched
// operation itself, never on runtime locks (§5's shared-resource policy).
func (s *Service) workerLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case j := <-s.jobs:
			s.handleRequest(j.src, j.frame)
		}
	}
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opt.ReplyCacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.txns.SweepCache()
		}
	}
}

func (s *Service) handleRequest(src net.Addr, frame transport.Frame) {
	if cached, ok := s.txns.CachedReply(src, frame.TID); ok {
		if err := s.sock.Send(src, cached); err != nil {
			log.Debug().Err(err).Str("peer", src.String()).Msg("resending cached reply failed")
		}
		return
	}

	if frame.Opcode == transport.OpHello {
		s.handleHello(src, frame)
		return
	}

	peer, admitted := s.getOrAdmitPeer(src)
	if !admitted {
		if frame.Opcode != transport.OpRelease {
			s.reply(src, frame.TID, wire.Value{}, nomerr.AccessDenied)
		}
		return
	}

	in := dispatch.Inbound{
		Imports: peer.imports,
		NewProxy: func(remoteID uint64) interface{} {
			return proxy.New(src, remoteID, proxyCaller{svc: s}, s.exports)
		},
	}
	result, err := s.safeDispatch(src, frame.Opcode, frame.Payload, in)

	// RELEASE is "(no reply)" per §4.4: the sender already moved on and
	// isn't waiting on a transaction, so replying here would just be an
	// unmatched datagram bumping the peer's unknownTID counter.
	if frame.Opcode != transport.OpRelease {
		s.reply(src, frame.TID, result, err)
	}
	s.listeners.fireDispatchComplete(frame.Opcode.String(), src.String(), err)
}

// safeDispatch runs the callee (the dispatcher, and through it any user
// object's method) under a recover so a panic inside one request — a bad
// reflect.Call argument conversion, a nil-map write, an out-of-range index
// — is classified as a RemoteError and returned as REPLY_ERR instead of
// taking down the worker goroutine and every other peer's in-flight
// requests with it (§4.4, §8's "no panics on valid input").
func (s *Service) safeDispatch(src net.Addr, opcode transport.Opcode, payload wire.Value, in dispatch.Inbound) (result wire.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("peer", src.String()).Str("opcode", opcode.String()).Msg("recovered panic in dispatch")
			result = wire.Value{}
			err = nomerr.New(nomerr.KindRemoteError, fmt.Sprintf("panic in callee: %v", r))
		}
	}()
	return s.disp.Handle(src, opcode, payload, in)
}

func (s *Service) reply(dst net.Addr, tid uint32, result wire.Value, err error) {
	var frame transport.Frame
	if err != nil {
		frame = transport.Frame{Version: transport.Version, Reply: true, TID: tid, Opcode: transport.OpReplyErr, Payload: encodeErr(err)}
	} else {
		frame = transport.Frame{Version: transport.Version, Reply: true, TID: tid, Opcode: transport.OpReplyOK, Payload: result}
	}
	s.txns.CacheReply(dst, tid, frame)
	if sendErr := s.sock.Send(dst, frame); sendErr != nil {
		log.Warn().Err(sendErr).Str("peer", dst.String()).Msg("failed to send reply")
	}
}

func (s *Service) getOrAdmitPeer(addr net.Addr) (*peerRecord, bool) {
	s.peersMu.Lock()
	if p, ok := s.peers[addr.String()]; ok {
		s.peersMu.Unlock()
		p.touch()
		return p, true
	}
	s.peersMu.Unlock()
	if !s.opt.Authenticator.AdmitPeer(addr) {
		return nil, false
	}
	return s.admitPeer(addr, transport.Version), true
}

func (s *Service) handleHello(src net.Addr, frame transport.Frame) {
	minV, _ := mapGetInt(frame.Payload, "min")
	maxV, _ := mapGetInt(frame.Payload, "max")

	negotiated := int64(transport.Version)
	if maxV < negotiated {
		negotiated = maxV
	}
	if negotiated < minV {
		s.reply(src, frame.TID, wire.Value{}, nomerr.UnsupportedVersion)
		return
	}
	if !s.opt.Authenticator.AdmitPeer(src) {
		s.reply(src, frame.TID, wire.Value{}, nomerr.AccessDenied)
		return
	}
	s.admitPeer(src, byte(negotiated))
	s.reply(src, frame.TID, wire.Int(negotiated), nil)
}

func mapGetInt(v wire.Value, key string) (int64, bool) {
	pairs, ok := v.AsMap()
	if !ok {
		return 0, false
	}
	for _, p := range pairs {
		if k, ok := p.Key.AsText(); ok && k == key {
			return p.Val.AsInt()
		}
	}
	return 0, false
}
