package dispatch

import (
	"reflect"

	"github.com/myelnet/nom/nomerr"
)

// reflectGetAttr treats key as the name of an exported struct field on
// target (or the struct target points to). This is the default an exported
// Go value gets for free without implementing Attributer, the same spirit
// as birpc's reflect-based method lookup but over fields instead of
// methods.
func reflectGetAttr(target interface{}, key string) (interface{}, bool) {
	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	field := rv.FieldByName(key)
	if !field.IsValid() || !field.CanInterface() {
		return nil, false
	}
	return field.Interface(), true
}

func reflectSetAttr(target interface{}, key string, val interface{}) error {
	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nomerr.NotFound
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct || !rv.CanSet() {
		return nomerr.UnsupportedOperation
	}
	field := rv.FieldByName(key)
	if !field.IsValid() || !field.CanSet() {
		return nomerr.NotFound
	}
	valRV := reflect.ValueOf(val)
	if !valRV.IsValid() {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if !valRV.Type().AssignableTo(field.Type()) {
		if valRV.Type().ConvertibleTo(field.Type()) {
			field.Set(valRV.Convert(field.Type()))
			return nil
		}
		return nomerr.New(nomerr.KindMalformedValue, "value not assignable to field "+key)
	}
	field.Set(valRV)
	return nil
}

// reflectGetItem supports map and slice/array indexing. Map keys and slice
// indices both arrive as interface{} already converted from wire.Value by
// reftable.FromValue.
func reflectGetItem(target interface{}, key interface{}) (interface{}, bool) {
	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		keyRV := reflect.ValueOf(key)
		if !keyRV.IsValid() || !keyRV.Type().ConvertibleTo(rv.Type().Key()) {
			return nil, false
		}
		v := rv.MapIndex(keyRV.Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, ok := asInt(key)
		if !ok || idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	default:
		return nil, false
	}
}

func reflectSetItem(target interface{}, key, val interface{}) error {
	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nomerr.NotFound
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return nomerr.UnsupportedOperation
		}
		keyRV := reflect.ValueOf(key)
		valRV := reflect.ValueOf(val)
		if !keyRV.Type().ConvertibleTo(rv.Type().Key()) || !valRV.Type().ConvertibleTo(rv.Type().Elem()) {
			return nomerr.New(nomerr.KindMalformedValue, "key or value not assignable")
		}
		rv.SetMapIndex(keyRV.Convert(rv.Type().Key()), valRV.Convert(rv.Type().Elem()))
		return nil
	case reflect.Slice:
		idx, ok := asInt(key)
		if !ok || idx < 0 || idx >= rv.Len() {
			return nomerr.NotFound
		}
		valRV := reflect.ValueOf(val)
		if !valRV.Type().ConvertibleTo(rv.Type().Elem()) {
			return nomerr.New(nomerr.KindMalformedValue, "value not assignable to element type")
		}
		rv.Index(idx).Set(valRV.Convert(rv.Type().Elem()))
		return nil
	default:
		return nomerr.UnsupportedOperation
	}
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// reflectCall invokes target as a func value with args. Exported methods
// are not callable this way directly; register a bound method value
// (obj.Method) as the export instead, matching how the teacher's
// getRPCMethodsOfType resolves a method to a reflect.Value ahead of time.
func reflectCall(target interface{}, args []interface{}) (interface{}, error) {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Func {
		return nil, nomerr.UnsupportedOperation
	}
	t := rv.Type()
	if t.NumIn() != len(args) && !t.IsVariadic() {
		return nil, nomerr.New(nomerr.KindMalformedValue, "argument count mismatch")
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			var paramType reflect.Type
			if i < t.NumIn() {
				paramType = t.In(i)
			} else {
				paramType = t.In(t.NumIn() - 1).Elem()
			}
			in[i] = reflect.Zero(paramType)
			continue
		}
		in[i] = reflect.ValueOf(a)
	}

	out := rv.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if err, ok := out[0].Interface().(error); ok {
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		// Convention: last return value is an error, as in birpc's
		// RPC methods.
		last := out[len(out)-1].Interface()
		if err, ok := last.(error); ok && err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
}
