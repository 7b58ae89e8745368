// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package codec implements the structured serializer for the chaincall
// protocol. It converts arbitrary in-memory value graphs, including cyclic
// ones, into a flat index-addressed record list safe for JSON transport,
// and reconstructs them losslessly on the other side.
//
// A value visited more than once (by identity) is serialized exactly once
// and referenced by index thereafter, which preserves aliasing and breaks
// cycles. Live functions are converted to inert markers describing where
// the function lived; they are never re-executed by the codec.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/creachadair/chaincall/opchain"
)

// A Set is a collection of distinct values. It is the codec's exchange
// type for set semantics: a serialized set deserializes as a Set.
type Set map[any]struct{}

// NewSet constructs a Set of the given values.
func NewSet(vs ...any) Set {
	s := make(Set, len(vs))
	for _, v := range vs {
		s[v] = struct{}{}
	}
	return s
}

// Serialize converts v into a flat record list whose root is index 0.
//
// Unrepresentable values (channels, complex numbers, unsafe pointers)
// report an error rather than being silently dropped.
func Serialize(v any) (Records, error) {
	e := &encoder{seen: make(map[refKey]int)}
	if _, err := e.encode(v, opchain.Chain{}); err != nil {
		return nil, err
	}
	return e.recs, nil
}

// MarshalRecords renders a record list as JSON.
func MarshalRecords(rs Records) ([]byte, error) { return json.Marshal(rs) }

// UnmarshalRecords parses a JSON record list.
func UnmarshalRecords(data []byte) (Records, error) {
	var rs Records
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// refKey identifies a reference value for aliasing detection. The type is
// included alongside the address because distinct values of different
// types may share storage, and the length because a subslice shares its
// parent's data pointer without being the same value.
type refKey struct {
	p uintptr
	t reflect.Type
	n int
}

type encoder struct {
	recs Records
	seen map[refKey]int
}

// alloc reserves the next record index. Reserving before recursing into
// children is what lets a child that references its own ancestor resolve
// to the ancestor's already-assigned index instead of recursing forever.
func (e *encoder) alloc() int {
	e.recs = append(e.recs, Record{Tag: TagVoid})
	return len(e.recs) - 1
}

func (e *encoder) set(i int, tag Tag, val any) int {
	e.recs[i] = Record{Tag: tag, Val: val}
	return i
}

func (e *encoder) put(tag Tag, val any) int { return e.set(e.alloc(), tag, val) }

// refKeyOf reports the identity key for v, if v is a reference value.
func refKeyOf(v any) (refKey, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.UnsafePointer:
		if rv.IsNil() {
			return refKey{}, false
		}
		k := refKey{p: rv.Pointer(), t: rv.Type()}
		if rv.Kind() == reflect.Slice {
			k.n = rv.Len()
		}
		return k, true
	}
	return refKey{}, false
}

// encode serializes v and returns its record index. The path is the chain
// of property accesses leading to v from the root, threaded through so
// that function markers can record where the function lived.
func (e *encoder) encode(v any, path opchain.Chain) (int, error) {
	if v == nil {
		return e.put(TagVoid, nil), nil
	}
	if k, ok := refKeyOf(v); ok {
		if i, ok := e.seen[k]; ok {
			return i, nil
		}
	}

	switch t := v.(type) {
	case bool:
		return e.put(TagBool, t), nil
	case string:
		return e.put(TagString, t), nil
	case int:
		return e.put(TagInt, int64(t)), nil
	case int8:
		return e.put(TagInt, int64(t)), nil
	case int16:
		return e.put(TagInt, int64(t)), nil
	case int32:
		return e.put(TagInt, int64(t)), nil
	case int64:
		return e.put(TagInt, t), nil
	case uint:
		return e.encodeUint(uint64(t)), nil
	case uint16:
		return e.put(TagInt, int64(t)), nil
	case uint32:
		return e.put(TagInt, int64(t)), nil
	case uint64:
		return e.encodeUint(t), nil
	case float32:
		return e.encodeFloat(float64(t)), nil
	case float64:
		return e.encodeFloat(t), nil
	case *big.Int:
		return e.remember(t, e.put(TagBigInt, t.String())), nil
	case time.Time:
		return e.put(TagTime, t.Format(time.RFC3339Nano)), nil
	case *regexp.Regexp:
		return e.remember(t, e.put(TagRegexp, t.String())), nil
	case *url.URL:
		return e.remember(t, e.put(TagURL, t.String())), nil
	case http.Header:
		return e.encodeHeader(t), nil
	case *http.Request:
		return e.encodeRequest(t)
	case *http.Response:
		return e.encodeResponse(t)
	case opchain.Marker:
		return e.encodeMarker(t)
	case opchain.Chain:
		return e.encodeChain(t)
	case *opchain.Builder:
		return e.encodeChain(t.Chain())
	case FuncRef:
		return e.encodeFuncRef(t)
	case Set:
		return e.encodeSet(t, path)
	case []any:
		return e.encodeArray(t, path)
	case map[string]any:
		return e.encodeObject(t, path)
	case error:
		return e.encodeError(t)
	}
	return e.encodeReflect(v, path)
}

func (e *encoder) remember(v any, i int) int {
	if k, ok := refKeyOf(v); ok {
		e.seen[k] = i
	}
	return i
}

func (e *encoder) encodeUint(u uint64) int {
	if u > math.MaxInt64 {
		return e.put(TagBigInt, strconv.FormatUint(u, 10))
	}
	return e.put(TagInt, int64(u))
}

// encodeFloat classifies the special values ahead of generic numbers;
// NaN and the infinities exist in memory but have no JSON representation,
// so they get explicit symbolic records.
func (e *encoder) encodeFloat(f float64) int {
	switch {
	case math.IsNaN(f):
		return e.put(TagNaN, nil)
	case math.IsInf(f, 1):
		return e.put(TagPosInf, nil)
	case math.IsInf(f, -1):
		return e.put(TagNegInf, nil)
	}
	return e.put(TagFloat, f)
}

func (e *encoder) encodeArray(vs []any, path opchain.Chain) (int, error) {
	i := e.remember(vs, e.alloc())
	idx := make([]int, len(vs))
	for j, v := range vs {
		ci, err := e.encode(v, append(path, opchain.Operation{Type: opchain.OpGet, Key: strconv.Itoa(j)}))
		if err != nil {
			return 0, fmt.Errorf("element %d: %w", j, err)
		}
		idx[j] = ci
	}
	return e.set(i, TagArray, idx), nil
}

func (e *encoder) encodeObject(m map[string]any, path opchain.Chain) (int, error) {
	i := e.remember(m, e.alloc())
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	props := make(map[string]int, len(m))
	for _, k := range keys {
		ci, err := e.encode(m[k], append(path, opchain.Operation{Type: opchain.OpGet, Key: k}))
		if err != nil {
			return 0, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = ci
	}
	return e.set(i, TagObject, props), nil
}

func (e *encoder) encodeSet(s Set, path opchain.Chain) (int, error) {
	i := e.remember(s, e.alloc())
	elems := make([]any, 0, len(s))
	for v := range s {
		elems = append(elems, v)
	}
	sort.Slice(elems, func(a, b int) bool {
		return fmt.Sprint(elems[a]) < fmt.Sprint(elems[b])
	})
	idx := make([]int, len(elems))
	for j, v := range elems {
		ci, err := e.encode(v, nil)
		if err != nil {
			return 0, fmt.Errorf("set element: %w", err)
		}
		idx[j] = ci
	}
	return e.set(i, TagSet, idx), nil
}

func (e *encoder) encodeChain(c opchain.Chain) (int, error) {
	i := e.alloc()
	ops := make([]chainOp, len(c))
	for j, op := range c {
		co := chainOp{Type: string(op.Type), Key: op.Key}
		if op.Type == opchain.OpApply {
			co.Args = make([]int, len(op.Args))
			for k, a := range op.Args {
				ai, err := e.encode(a, nil)
				if err != nil {
					return 0, fmt.Errorf("operation %d, argument %d: %w", j, k+1, err)
				}
				co.Args[k] = ai
			}
		}
		ops[j] = co
	}
	return e.set(i, TagChain, ops), nil
}

func (e *encoder) encodeMarker(m opchain.Marker) (int, error) {
	i := e.alloc()
	mr := markerRecord{Ref: m.RefID, Chain: -1}
	if m.RefID == "" {
		ci, err := e.encodeChain(m.Chain)
		if err != nil {
			return 0, err
		}
		mr.Chain = ci
	}
	return e.set(i, TagMarker, mr), nil
}

func (e *encoder) encodeFuncRef(fr FuncRef) (int, error) {
	i := e.alloc()
	ci, err := e.encodeChain(fr.Chain)
	if err != nil {
		return 0, err
	}
	return e.set(i, TagFunc, funcRecord{Name: fr.Name, Chain: ci}), nil
}

// encodeFunc converts a live function into an inert marker carrying its
// runtime name and the access path at which it was found.
func (e *encoder) encodeFunc(v reflect.Value, path opchain.Chain) (int, error) {
	name := ""
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		name = f.Name()
	}
	i := e.remember(v.Interface(), e.alloc())
	ci, err := e.encodeChain(path)
	if err != nil {
		return 0, err
	}
	return e.set(i, TagFunc, funcRecord{Name: name, Chain: ci}), nil
}

// encodeReflect handles the kinds without dedicated fast paths: typed
// numeric slices, generic maps, structs and pointers to them, and live
// functions. Unrepresentable kinds report an error.
func (e *encoder) encodeReflect(v any, path opchain.Chain) (int, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return e.encodeFunc(rv, path)

	case reflect.Slice, reflect.Array:
		if isNumericKind(rv.Type().Elem().Kind()) {
			return e.encodeTypedArray(rv), nil
		}
		i := e.remember(v, e.alloc())
		idx := make([]int, rv.Len())
		for j := range rv.Len() {
			ci, err := e.encode(rv.Index(j).Interface(), append(path, opchain.Operation{Type: opchain.OpGet, Key: strconv.Itoa(j)}))
			if err != nil {
				return 0, fmt.Errorf("element %d: %w", j, err)
			}
			idx[j] = ci
		}
		return e.set(i, TagArray, idx), nil

	case reflect.Map:
		return e.encodeGenericMap(rv)

	case reflect.Pointer:
		if rv.IsNil() {
			return e.put(TagVoid, nil), nil
		}
		if rv.Elem().Kind() == reflect.Struct {
			return e.encodeStruct(rv, rv.Elem(), path)
		}
		i, err := e.encode(rv.Elem().Interface(), path)
		if err != nil {
			return 0, err
		}
		return e.remember(v, i), nil

	case reflect.Struct:
		return e.encodeStruct(reflect.Value{}, rv, path)

	// Named scalar types (type Dur int64, etc.) reduce to their kinds.
	case reflect.Bool:
		return e.put(TagBool, rv.Bool()), nil
	case reflect.String:
		return e.put(TagString, rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.put(TagInt, rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return e.encodeUint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return e.encodeFloat(rv.Float()), nil
	}
	return 0, fmt.Errorf("cannot serialize value of type %T", v)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// encodeTypedArray spreads a binary view into a plain numeric array tagged
// with its original element type, for exact reconstruction.
func (e *encoder) encodeTypedArray(rv reflect.Value) int {
	i := e.alloc()
	if rv.Kind() == reflect.Slice {
		e.remember(rv.Interface(), i)
	}
	ek := rv.Type().Elem().Kind()
	vals := make([]json.Number, rv.Len())
	for j := range rv.Len() {
		el := rv.Index(j)
		switch {
		case ek >= reflect.Int && ek <= reflect.Int64:
			vals[j] = json.Number(strconv.FormatInt(el.Int(), 10))
		case ek >= reflect.Uint && ek <= reflect.Uint64:
			vals[j] = json.Number(strconv.FormatUint(el.Uint(), 10))
		default:
			vals[j] = json.Number(strconv.FormatFloat(el.Float(), 'g', -1, 64))
		}
	}
	kind := "[]" + rv.Type().Elem().Kind().String()
	return e.set(i, TagTypedArray, typedArray{Kind: kind, Vals: vals})
}

// encodeGenericMap serializes an arbitrary Go map, preserving the identity
// of keys separately from values. Entries are ordered by the rendered key
// so the encoding is deterministic.
func (e *encoder) encodeGenericMap(rv reflect.Value) (int, error) {
	i := e.remember(rv.Interface(), e.alloc())
	keys := rv.MapKeys()
	sort.Slice(keys, func(a, b int) bool {
		return fmt.Sprint(keys[a].Interface()) < fmt.Sprint(keys[b].Interface())
	})
	entries := make([][2]int, len(keys))
	for j, k := range keys {
		ki, err := e.encode(k.Interface(), nil)
		if err != nil {
			return 0, fmt.Errorf("map key: %w", err)
		}
		vi, err := e.encode(rv.MapIndex(k).Interface(), nil)
		if err != nil {
			return 0, fmt.Errorf("map value: %w", err)
		}
		entries[j] = [2]int{ki, vi}
	}
	return e.set(i, TagMap, entries), nil
}

// encodeStruct serializes the exported fields of a struct as a plain
// object. If ptr is valid the struct was reached through a pointer, whose
// identity is remembered so shared and cyclic references resolve.
func (e *encoder) encodeStruct(ptr, rv reflect.Value, path opchain.Chain) (int, error) {
	i := e.alloc()
	if ptr.IsValid() {
		e.remember(ptr.Interface(), i)
	}
	rt := rv.Type()
	props := make(map[string]int)
	for j := range rt.NumField() {
		f := rt.Field(j)
		if !f.IsExported() {
			continue
		}
		ci, err := e.encode(rv.Field(j).Interface(), append(path, opchain.Operation{Type: opchain.OpGet, Key: f.Name}))
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", f.Name, err)
		}
		props[f.Name] = ci
	}
	return e.set(i, TagObject, props), nil
}
