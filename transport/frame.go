// Package transport implements the NOM packet framing (§4.3) over a raw UDP
// socket: one frame per datagram, tid-multiplexed, no fragmentation. It owns
// nothing about reference resolution or dispatch — callers hand it a
// wire.Value payload and get bytes, or bytes and get a Frame back.
package transport

import (
	"github.com/dustin/go-humanize"
	"github.com/myelnet/nom/nomerr"
	"github.com/myelnet/nom/wire"
)

// magic identifies the NOM protocol on the wire (§4.3).
var magic = [4]byte{'N', 'O', 'M', 0x01}

// Version is the current protocol version this package speaks. HELLO
// negotiates down to the lower of two peers' versions or fails with
// UnsupportedVersion (§6.1, §12).
const Version byte = 1

// flagReply is bit 0 of the frame's flags byte.
const flagReply byte = 1 << 0

// headerSize is magic(4) + version(1) + flags(1) + tid(4) + opcode(1).
const headerSize = 4 + 1 + 1 + 4 + 1

// Frame is one NOM message: exactly the fields that constitute the external
// wire contract (§6.1).
type Frame struct {
	Version byte
	Reply   bool
	TID     uint32
	Opcode  Opcode
	Payload wire.Value
}

// Encode renders f to bytes and rejects the result if it would exceed
// maxPayload once encoded — there is no fragmentation (§4.3). maxPayload
// bounds the whole datagram, header included, since that's what actually
// has to fit under the path MTU.
func Encode(f Frame, maxPayload int) ([]byte, error) {
	buf := make([]byte, 0, headerSize+16)
	buf = append(buf, magic[:]...)
	buf = append(buf, f.Version)
	flags := byte(0)
	if f.Reply {
		flags |= flagReply
	}
	buf = append(buf, flags)
	buf = append(buf, byte(f.TID>>24), byte(f.TID>>16), byte(f.TID>>8), byte(f.TID))
	buf = append(buf, byte(f.Opcode))
	buf = wire.Encode(buf, f.Payload)

	if len(buf) > maxPayload {
		return nil, nomerr.New(nomerr.KindPayloadTooLarge, "encoded frame is "+humanize.Bytes(uint64(len(buf)))+
			", exceeds limit of "+humanize.Bytes(uint64(maxPayload)))
	}
	return buf, nil
}

// Decode parses a single datagram into a Frame. A datagram that is too
// short, bears the wrong magic, or fails the Value codec yields a
// MalformedValue error; the caller (the receiver loop) is expected to drop
// such datagrams silently and bump a counter (§7) rather than propagate.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < headerSize {
		return Frame{}, nomerr.Malformed("datagram shorter than frame header", len(buf))
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != magic[3] {
		return Frame{}, nomerr.Malformed("bad magic", 0)
	}
	version := buf[4]
	flags := buf[5]
	tid := uint32(buf[6])<<24 | uint32(buf[7])<<16 | uint32(buf[8])<<8 | uint32(buf[9])
	opcode := Opcode(buf[10])

	payload, _, err := wire.Decode(buf[headerSize:])
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Version: version,
		Reply:   flags&flagReply != 0,
		TID:     tid,
		Opcode:  opcode,
		Payload: payload,
	}, nil
}
