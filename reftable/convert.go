package reftable

import (
	"reflect"

	"github.com/myelnet/nom/nomerr"
	"github.com/myelnet/nom/wire"
)

// ToValue converts a native Go value into a wire.Value, exporting anything
// that has no direct wire variant instead of failing (§4.1's reference
// fallback). A Sequence or Mapping whose traversal revisits an ancestor
// currently on the walk stack is rejected with Unserializable rather than
// recursing forever (Testable Property 3); sharing the same sub-value from
// two places without a cycle is fine and is not deduplicated.
func (t *Table) ToValue(native interface{}) (wire.Value, error) {
	return t.toValue(native, nil)
}

func (t *Table) toValue(native interface{}, stack []uintptr) (wire.Value, error) {
	switch v := native.(type) {
	case nil:
		return wire.Nil(), nil
	case wire.Value:
		return v, nil
	case bool:
		return wire.Bool(v), nil
	case int:
		return wire.Int(int64(v)), nil
	case int8:
		return wire.Int(int64(v)), nil
	case int16:
		return wire.Int(int64(v)), nil
	case int32:
		return wire.Int(int64(v)), nil
	case int64:
		return wire.Int(v), nil
	case uint:
		return wire.Int(int64(v)), nil
	case uint32:
		return wire.Int(int64(v)), nil
	case uint64:
		return wire.Int(int64(v)), nil
	case float32:
		return wire.Float(float64(v)), nil
	case float64:
		return wire.Float(v), nil
	case []byte:
		return wire.Bytes(v), nil
	case string:
		return wire.Text(v), nil
	}

	rv := reflect.ValueOf(native)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		ptr, cyclic := pushCycleGuard(rv, stack)
		if cyclic {
			return wire.Value{}, ErrCycle()
		}
		if ptr != 0 {
			stack = append(stack, ptr)
		}
		items := make([]wire.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := t.toValue(rv.Index(i).Interface(), stack)
			if err != nil {
				return wire.Value{}, err
			}
			items[i] = item
		}
		return wire.Seq(items...), nil

	case reflect.Map:
		ptr, cyclic := pushCycleGuard(rv, stack)
		if cyclic {
			return wire.Value{}, ErrCycle()
		}
		if ptr != 0 {
			stack = append(stack, ptr)
		}
		pairs := make([]wire.Pair, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := t.toValue(iter.Key().Interface(), stack)
			if err != nil {
				return wire.Value{}, err
			}
			val, err := t.toValue(iter.Value().Interface(), stack)
			if err != nil {
				return wire.Value{}, err
			}
			pairs = append(pairs, wire.Pair{Key: k, Val: val})
		}
		return wire.Map(pairs...), nil
	}

	// No direct wire variant: reference fallback (§4.1).
	id := t.EnsureExported(native)
	return wire.Ref(id), nil
}

// pushCycleGuard reports the traversal pointer for a container value (0 if
// the kind has no stable address, e.g. an array passed by value) and
// whether that pointer is already on the walk stack, meaning native
// contains a back-edge to one of its own ancestors.
func pushCycleGuard(rv reflect.Value, stack []uintptr) (uintptr, bool) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Map {
		return 0, false
	}
	if rv.IsNil() {
		return 0, false
	}
	ptr := rv.Pointer()
	for _, seen := range stack {
		if seen == ptr {
			return ptr, true
		}
	}
	return ptr, false
}

// FromValue converts a decoded wire.Value back into a native Go value. A
// Reference is resolved against imports, constructing a new Proxy via
// construct on first sight of a given id (§4.1, §4.2).
func FromValue(v wire.Value, imports *ImportTable, construct func(remoteID uint64) interface{}) (interface{}, error) {
	switch v.Tag() {
	case wire.TagNil:
		return nil, nil
	case wire.TagBool:
		b, _ := v.AsBool()
		return b, nil
	case wire.TagInt:
		i, _ := v.AsInt()
		return i, nil
	case wire.TagFloat:
		f, _ := v.AsFloat()
		return f, nil
	case wire.TagBytes:
		b, _ := v.AsBytes()
		return b, nil
	case wire.TagText:
		s, _ := v.AsText()
		return s, nil
	case wire.TagSeq:
		items, _ := v.AsSeq()
		out := make([]interface{}, len(items))
		for i, item := range items {
			n, err := FromValue(item, imports, construct)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case wire.TagMap:
		pairs, _ := v.AsMap()
		out := make(map[interface{}]interface{}, len(pairs))
		for _, p := range pairs {
			k, err := FromValue(p.Key, imports, construct)
			if err != nil {
				return nil, err
			}
			val, err := FromValue(p.Val, imports, construct)
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	case wire.TagRef:
		id, _ := v.AsRef()
		return imports.ImportFrom(id, func() interface{} { return construct(id) }), nil
	default:
		return nil, nomerr.Malformed("unknown wire tag during conversion", 0)
	}
}
