package dispatch

// The capability interfaces below let an exported Go object opt into
// custom behavior for an opcode instead of falling back to the reflect-based
// default (attribute = exported struct field, item = map/slice index,
// length = reflect.Len, string/repr = fmt). A registered object implementing
// none of them still answers every opcode the default path covers; these
// exist for objects that want, say, a GETATTR that computes rather than
// stores.

// Attributer customizes GETATTR/SETATTR/DELATTR (§4.4).
type Attributer interface {
	GetAttr(key string) (interface{}, bool)
	SetAttr(key string, val interface{}) error
	DelAttr(key string) error
}

// Itemer customizes GETITEM/SETITEM/DELITEM.
type Itemer interface {
	GetItem(key interface{}) (interface{}, bool)
	SetItem(key, val interface{}) error
	DelItem(key interface{}) error
}

// Lenner customizes LEN.
type Lenner interface {
	Len() int
}

// Reprer customizes REPR; STR reuses the standard fmt.Stringer interface
// so existing String() methods are picked up for free.
type Reprer interface {
	Repr() string
}

// Caller customizes CALL. args have already been converted from wire
// Values to native Go values via reftable.FromValue.
type Caller interface {
	Call(args []interface{}) (interface{}, error)
}
