package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Placeholder markers for values JSON cannot carry.
const (
	FuncMarker    = "function"
	ChanMarker    = "channel"
	PointerMarker = "pointer"
)

const maxDepth = 32

// Key derives "op:<json args>". Struct fields keep declaration order and map
// keys are sorted, so equal arguments always give equal keys.
func Key(op string, args any) string {
	b, err := json.Marshal(args)
	if err != nil {
		b, _ = json.Marshal(Serializable(args))
	}
	return op + ":" + string(b)
}

// Encode marshals v, coercing unsupported values to markers when needed.
func Encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err == nil {
		return b, nil
	}
	b, err = json.Marshal(Serializable(v))
	if err != nil {
		return nil, fmt.Errorf("cache: encode %T: %w", v, err)
	}
	return b, nil
}

// Serializable returns a copy of v built only from JSON-safe values.
// Functions and channels become markers, complex numbers and non-finite
// floats become strings.
func Serializable(v any) any {
	return sanitize(reflect.ValueOf(v), 0)
}

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

func sanitize(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return nil
	}
	if depth > maxDepth {
		return nil
	}

	if v.Type().Implements(marshalerType) && v.CanInterface() {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil
		}
		if b, err := json.Marshal(v.Interface()); err == nil {
			return json.RawMessage(b)
		}
	}

	switch v.Kind() {
	case reflect.Func:
		return FuncMarker
	case reflect.Chan:
		return ChanMarker
	case reflect.UnsafePointer:
		return PointerMarker
	case reflect.Complex64, reflect.Complex128:
		return strconv.FormatComplex(v.Complex(), 'g', -1, 128)
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return f
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitize(v.Elem(), depth+1)
	case reflect.Struct:
		return sanitizeStruct(v, depth)
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitize(iter.Value(), depth+1)
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = sanitize(v.Index(i), depth+1)
		}
		return out
	}

	if v.CanInterface() {
		return v.Interface()
	}
	return nil
}

func sanitizeStruct(v reflect.Value, depth int) map[string]any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		omitEmpty := false
		if tag, ok := field.Tag.Lookup("json"); ok {
			if tag == "-" {
				continue
			}
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitEmpty = true
				}
			}
		}
		fv := v.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		out[name] = sanitize(fv, depth+1)
	}
	return out
}
