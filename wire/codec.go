package wire

import (
	"math"
	"unicode/utf8"

	"github.com/myelnet/nom/nomerr"
)

// safePrealloc bounds a decoded element count to the bytes actually left in
// the buffer before using it as a slice capacity hint. Every Value consumes
// at least one byte, so a count larger than the remaining buffer can only
// come from a malformed or hostile datagram; without this cap a single
// 11-byte packet could claim billions of elements and crash the receiver
// with an out-of-range or out-of-memory allocation (§4.1, §7).
func safePrealloc(n uint64, remaining int) int {
	if remaining < 0 {
		return 0
	}
	if n > uint64(remaining) {
		return remaining
	}
	return int(n)
}

// Encode appends the wire encoding of v to buf and returns the result. The
// encoding is recursive and self-delimiting: containers are prefixed with a
// varint element count, not a byte count, so a decoder can preallocate
// (§4.1).
func Encode(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.tag))
	switch v.tag {
	case TagNil:
		// no payload
	case TagBool:
		if v.b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case TagInt:
		buf = appendZigzag(buf, v.i)
	case TagFloat:
		buf = appendVarint(buf, math.Float64bits(v.f))
	case TagBytes:
		buf = appendVarint(buf, uint64(len(v.bytes)))
		buf = append(buf, v.bytes...)
	case TagText:
		b := []byte(v.text)
		buf = appendVarint(buf, uint64(len(b)))
		buf = append(buf, b...)
	case TagSeq:
		buf = appendVarint(buf, uint64(len(v.seq)))
		for _, item := range v.seq {
			buf = Encode(buf, item)
		}
	case TagMap:
		buf = appendVarint(buf, uint64(len(v.pairs)))
		for _, p := range v.pairs {
			buf = Encode(buf, p.Key)
			buf = Encode(buf, p.Val)
		}
	case TagRef:
		buf = appendVarint(buf, v.ref)
	}
	return buf
}

// Decode reads exactly one Value starting at buf[0], returning the Value and
// the number of bytes consumed. It is total: any byte sequence either
// decodes successfully or yields a *nomerr.Error of kind MalformedValue
// carrying the byte offset where decoding failed (§4.1).
func Decode(buf []byte) (Value, int, error) {
	return decodeAt(buf, 0)
}

func decodeAt(buf []byte, off int) (Value, int, error) {
	start := off
	if off >= len(buf) {
		return Value{}, 0, nomerr.Malformed("truncated: expected tag byte", off)
	}
	tag := Tag(buf[off])
	off++

	switch tag {
	case TagNil:
		return Nil(), off - start, nil
	case TagBool:
		if off >= len(buf) {
			return Value{}, 0, nomerr.Malformed("truncated boolean", off)
		}
		b := buf[off] != 0
		off++
		return Bool(b), off - start, nil
	case TagInt:
		n, used, ok := readZigzag(buf, off)
		if !ok {
			return Value{}, 0, nomerr.Malformed("truncated signed int", off)
		}
		off += used
		return Int(n), off - start, nil
	case TagFloat:
		u, used, ok := readVarint(buf, off)
		if !ok {
			return Value{}, 0, nomerr.Malformed("truncated float", off)
		}
		off += used
		return Float(math.Float64frombits(u)), off - start, nil
	case TagBytes:
		n, used, ok := readVarint(buf, off)
		if !ok {
			return Value{}, 0, nomerr.Malformed("truncated byte string length", off)
		}
		off += used
		if off+int(n) > len(buf) {
			return Value{}, 0, nomerr.Malformed("truncated byte string body", off)
		}
		b := append([]byte(nil), buf[off:off+int(n)]...)
		off += int(n)
		return Bytes(b), off - start, nil
	case TagText:
		n, used, ok := readVarint(buf, off)
		if !ok {
			return Value{}, 0, nomerr.Malformed("truncated text string length", off)
		}
		off += used
		if off+int(n) > len(buf) {
			return Value{}, 0, nomerr.Malformed("truncated text string body", off)
		}
		b := buf[off : off+int(n)]
		off += int(n)
		if !utf8.Valid(b) {
			return Value{}, 0, nomerr.Malformed("invalid utf-8 in text string", start)
		}
		return Text(string(b)), off - start, nil
	case TagSeq:
		n, used, ok := readVarint(buf, off)
		if !ok {
			return Value{}, 0, nomerr.Malformed("truncated sequence length", off)
		}
		off += used
		items := make([]Value, 0, safePrealloc(n, len(buf)-off))
		for i := uint64(0); i < n; i++ {
			item, used, err := decodeAt(buf, off)
			if err != nil {
				return Value{}, 0, err
			}
			off += used
			items = append(items, item)
		}
		return Seq(items...), off - start, nil
	case TagMap:
		n, used, ok := readVarint(buf, off)
		if !ok {
			return Value{}, 0, nomerr.Malformed("truncated mapping length", off)
		}
		off += used
		prealloc := safePrealloc(n, len(buf)-off)
		pairs := make([]Pair, 0, prealloc)
		seen := make([]Value, 0, prealloc)
		for i := uint64(0); i < n; i++ {
			k, used, err := decodeAt(buf, off)
			if err != nil {
				return Value{}, 0, err
			}
			off += used
			val, used, err := decodeAt(buf, off)
			if err != nil {
				return Value{}, 0, err
			}
			off += used
			for _, prev := range seen {
				if prev.Equal(k) {
					return Value{}, 0, nomerr.Malformed("duplicate mapping key", start)
				}
			}
			seen = append(seen, k)
			pairs = append(pairs, Pair{Key: k, Val: val})
		}
		return Map(pairs...), off - start, nil
	case TagRef:
		id, used, ok := readVarint(buf, off)
		if !ok {
			return Value{}, 0, nomerr.Malformed("truncated reference", off)
		}
		off += used
		return Ref(id), off - start, nil
	default:
		return Value{}, 0, nomerr.Malformed("unknown wire tag", start)
	}
}
