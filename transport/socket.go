package transport

import (
	"net"

	"github.com/rs/zerolog/log"
)

// DefaultMaxPayload is used when a Socket is built without an explicit
// limit; callers normally get this from service.Options.MaxPayloadSize via
// docker/go-units, but transport itself has no config layer of its own.
const DefaultMaxPayload = 16 * 1024

// Socket wraps a UDP net.PacketConn with frame-level send/receive. It holds
// no notion of transactions, peers, or retries — that multiplexing lives in
// package txn, which sends through it; package service owns the Socket and
// runs the receive loop on it.
type Socket struct {
	conn       net.PacketConn
	maxPayload int
}

// Listen opens a UDP socket bound to addr ("host:port", or ":0" for an
// ephemeral port, matching teacher's habit of binding one socket per
// Service instance).
func Listen(addr string, maxPayload int) (*Socket, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Socket{conn: conn, maxPayload: maxPayload}, nil
}

// LocalAddr returns the socket's bound address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the underlying UDP socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Send encodes f and writes it to dst in a single datagram.
func (s *Socket) Send(dst net.Addr, f Frame) error {
	buf, err := Encode(f, s.maxPayload)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteTo(buf, dst)
	return err
}

// Recv blocks for the next datagram and decodes it. A malformed datagram is
// returned as (Frame{}, src, err) with err non-nil rather than panicking —
// the receiver loop (service.Service) is expected to log and continue
// rather than tear down the socket (§7, §12).
func (s *Socket) Recv() (Frame, net.Addr, error) {
	buf := make([]byte, s.maxPayload)
	n, src, err := s.conn.ReadFrom(buf)
	if err != nil {
		return Frame{}, nil, err
	}
	f, err := Decode(buf[:n])
	if err != nil {
		log.Debug().Str("src", src.String()).Err(err).Msg("dropping malformed datagram")
		return Frame{}, src, err
	}
	return f, src, nil
}
