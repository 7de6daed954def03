// Package wire implements the NOM wire codec (§4.1): a fixed, self-delimiting
// tagged-union encoding for Values. The frame header that carries one Value
// per UDP datagram (§4.3) lives in package transport.
//
// This package only ever turns bytes into a Value and back. It never touches
// a Go object graph, an export table, or a socket — the reference fallback
// that bridges native Go values to Value lives in package reftable, which is
// the only caller that needs to know about exports and imports.
package wire

import "fmt"

// Tag is the one-byte wire discriminator for a Value variant (§3).
type Tag byte

const (
	TagNil Tag = iota
	TagBool
	TagInt
	TagFloat
	TagBytes
	TagText
	TagSeq
	TagMap
	TagRef
)

func (t Tag) String() string {
	switch t {
	case TagNil:
		return "Nil"
	case TagBool:
		return "Boolean"
	case TagInt:
		return "SignedInt"
	case TagFloat:
		return "Float"
	case TagBytes:
		return "ByteString"
	case TagText:
		return "TextString"
	case TagSeq:
		return "Sequence"
	case TagMap:
		return "Mapping"
	case TagRef:
		return "Reference"
	default:
		return fmt.Sprintf("Tag(%d)", byte(t))
	}
}

// Pair is one (key, value) entry of a Mapping. Keys must be unique within a
// single Mapping (§3); uniqueness is enforced on decode, not by this type.
type Pair struct {
	Key Value
	Val Value
}

// Value is the tagged union every NOM operation's payload is built from.
// The zero Value is Nil. Bytes copies its argument; Seq and Map keep the
// slice they are given, and AsSeq/AsMap return it without copying, so a
// container Value stays unchanged only as long as that slice is not
// modified. Cycle detection happens one layer up, when a native Go object
// graph is converted into a Value (see reftable.Table.ToValue).
type Value struct {
	tag   Tag
	b     bool
	i     int64
	f     float64
	bytes []byte
	text  string
	seq   []Value
	pairs []Pair
	ref   uint64
}

func Nil() Value                  { return Value{tag: TagNil} }
func Bool(b bool) Value           { return Value{tag: TagBool, b: b} }
func Int(i int64) Value           { return Value{tag: TagInt, i: i} }
func Float(f float64) Value       { return Value{tag: TagFloat, f: f} }
func Bytes(b []byte) Value        { return Value{tag: TagBytes, bytes: append([]byte(nil), b...)} }
func Text(s string) Value         { return Value{tag: TagText, text: s} }
func Seq(items ...Value) Value    { return Value{tag: TagSeq, seq: items} }
func Map(pairs ...Pair) Value     { return Value{tag: TagMap, pairs: pairs} }
func Ref(id uint64) Value         { return Value{tag: TagRef, ref: id} }

func (v Value) Tag() Tag { return v.tag }

func (v Value) IsNil() bool { return v.tag == TagNil }

func (v Value) AsBool() (bool, bool) {
	if v.tag != TagBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int64, bool) {
	if v.tag != TagInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsFloat() (float64, bool) {
	if v.tag != TagFloat {
		return 0, false
	}
	return v.f, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.tag != TagBytes {
		return nil, false
	}
	return v.bytes, true
}

func (v Value) AsText() (string, bool) {
	if v.tag != TagText {
		return "", false
	}
	return v.text, true
}

func (v Value) AsSeq() ([]Value, bool) {
	if v.tag != TagSeq {
		return nil, false
	}
	return v.seq, true
}

func (v Value) AsMap() ([]Pair, bool) {
	if v.tag != TagMap {
		return nil, false
	}
	return v.pairs, true
}

func (v Value) AsRef() (uint64, bool) {
	if v.tag != TagRef {
		return 0, false
	}
	return v.ref, true
}

// Equal reports deep equality of two Values, used by Decode to reject
// duplicate mapping keys.
func (v Value) Equal(o Value) bool {
	if v.tag != o.tag {
		return false
	}
	switch v.tag {
	case TagNil:
		return true
	case TagBool:
		return v.b == o.b
	case TagInt:
		return v.i == o.i
	case TagFloat:
		return v.f == o.f
	case TagBytes:
		return string(v.bytes) == string(o.bytes)
	case TagText:
		return v.text == o.text
	case TagRef:
		return v.ref == o.ref
	case TagSeq:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case TagMap:
		if len(v.pairs) != len(o.pairs) {
			return false
		}
		for i := range v.pairs {
			if !v.pairs[i].Key.Equal(o.pairs[i].Key) || !v.pairs[i].Val.Equal(o.pairs[i].Val) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.tag {
	case TagNil:
		return "nil"
	case TagBool:
		return fmt.Sprintf("%t", v.b)
	case TagInt:
		return fmt.Sprintf("%d", v.i)
	case TagFloat:
		return fmt.Sprintf("%g", v.f)
	case TagBytes:
		return fmt.Sprintf("bytes[%d]", len(v.bytes))
	case TagText:
		return v.text
	case TagSeq:
		return fmt.Sprintf("seq[%d]", len(v.seq))
	case TagMap:
		return fmt.Sprintf("map[%d]", len(v.pairs))
	case TagRef:
		return fmt.Sprintf("ref(%d)", v.ref)
	default:
		return "?"
	}
}
