// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package codec

import (
	"fmt"
	"math"
	"math/big"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"time"

	"github.com/creachadair/chaincall/opchain"
)

// A FuncRef is the deserialized form of a function marker: an inert
// description of a remote function, carrying the access path at which the
// function lived and its reported name. It is not executable; callers may
// render it informationally or use the chain to address the function
// remotely.
type FuncRef struct {
	Name  string
	Chain opchain.Chain
}

func (f FuncRef) String() string { return fmt.Sprintf("FuncRef(%s%v)", f.Name, f.Chain) }

// An Option adjusts the behavior of Deserialize.
type Option func(*decoder)

// WithErrorRegistry supplies the registry used to reconstruct concrete
// error types by name. Without it, all errors decode as *Error.
func WithErrorRegistry(r *Registry) Option {
	return func(d *decoder) { d.reg = r }
}

// Deserialize reconstructs the value graph rooted at record 0. Containers
// are registered in the index map before their contents are populated, so
// intra-structure cycles resolve to the correct, possibly still
// under-construction, object — the mirror of the serializer's
// reserve-then-fill trick.
func Deserialize(rs Records, opts ...Option) (any, error) {
	if len(rs) == 0 {
		return nil, fmt.Errorf("empty record list")
	}
	d := &decoder{
		recs: rs,
		out:  make([]any, len(rs)),
		done: make([]bool, len(rs)),
	}
	for _, o := range opts {
		o(d)
	}
	return d.decode(0)
}

type decoder struct {
	recs Records
	out  []any
	done []bool
	reg  *Registry
}

func (d *decoder) finish(i int, v any) any {
	d.out[i] = v
	d.done[i] = true
	return v
}

func (d *decoder) decode(i int) (any, error) {
	if i < 0 || i >= len(d.recs) {
		return nil, fmt.Errorf("record index %d out of range (%d records)", i, len(d.recs))
	}
	if d.done[i] {
		return d.out[i], nil
	}
	rec := d.recs[i]
	switch rec.Tag {
	case TagVoid:
		return d.finish(i, nil), nil
	case TagBool:
		b, ok := rec.Val.(bool)
		if !ok {
			return nil, badPayload(i, rec)
		}
		return d.finish(i, b), nil
	case TagString:
		s, ok := rec.Val.(string)
		if !ok {
			return nil, badPayload(i, rec)
		}
		return d.finish(i, s), nil
	case TagInt:
		n, ok := rec.Val.(int64)
		if !ok {
			return nil, badPayload(i, rec)
		}
		return d.finish(i, n), nil
	case TagFloat:
		f, ok := rec.Val.(float64)
		if !ok {
			return nil, badPayload(i, rec)
		}
		return d.finish(i, f), nil
	case TagNaN:
		return d.finish(i, math.NaN()), nil
	case TagPosInf:
		return d.finish(i, math.Inf(1)), nil
	case TagNegInf:
		return d.finish(i, math.Inf(-1)), nil

	case TagBigInt:
		s, ok := rec.Val.(string)
		if !ok {
			return nil, badPayload(i, rec)
		}
		z, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("record %d: invalid bigint %q", i, s)
		}
		return d.finish(i, z), nil

	case TagTime:
		s, ok := rec.Val.(string)
		if !ok {
			return nil, badPayload(i, rec)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		return d.finish(i, ts), nil

	case TagRegexp:
		s, ok := rec.Val.(string)
		if !ok {
			return nil, badPayload(i, rec)
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		return d.finish(i, re), nil

	case TagURL:
		s, ok := rec.Val.(string)
		if !ok {
			return nil, badPayload(i, rec)
		}
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		return d.finish(i, u), nil

	case TagArray:
		idx, ok := rec.Val.([]int)
		if !ok {
			return nil, badPayload(i, rec)
		}
		out := make([]any, len(idx))
		d.finish(i, out) // shell first, so cycles resolve
		for j, ci := range idx {
			v, err := d.decode(ci)
			if err != nil {
				return nil, err
			}
			out[j] = v
		}
		return out, nil

	case TagObject:
		props, ok := rec.Val.(map[string]int)
		if !ok {
			return nil, badPayload(i, rec)
		}
		out := make(map[string]any, len(props))
		d.finish(i, out)
		for k, ci := range props {
			v, err := d.decode(ci)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil

	case TagMap:
		entries, ok := rec.Val.([][2]int)
		if !ok {
			return nil, badPayload(i, rec)
		}
		out := make(map[any]any, len(entries))
		d.finish(i, out)
		for _, ent := range entries {
			k, err := d.decode(ent[0])
			if err != nil {
				return nil, err
			}
			if err := checkMapKey(i, k); err != nil {
				return nil, err
			}
			v, err := d.decode(ent[1])
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil

	case TagSet:
		idx, ok := rec.Val.([]int)
		if !ok {
			return nil, badPayload(i, rec)
		}
		out := make(Set, len(idx))
		d.finish(i, out)
		for _, ci := range idx {
			v, err := d.decode(ci)
			if err != nil {
				return nil, err
			}
			if err := checkMapKey(i, v); err != nil {
				return nil, err
			}
			out[v] = struct{}{}
		}
		return out, nil

	case TagTypedArray:
		ta, ok := rec.Val.(typedArray)
		if !ok {
			return nil, badPayload(i, rec)
		}
		out, err := decodeTypedArray(ta)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		return d.finish(i, out), nil

	case TagChain:
		ops, ok := rec.Val.([]chainOp)
		if !ok {
			return nil, badPayload(i, rec)
		}
		c, err := d.decodeChain(ops)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		return d.finish(i, c), nil

	case TagMarker:
		mr, ok := rec.Val.(markerRecord)
		if !ok {
			return nil, badPayload(i, rec)
		}
		m := opchain.Marker{RefID: mr.Ref}
		if mr.Ref == "" {
			cv, err := d.decode(mr.Chain)
			if err != nil {
				return nil, err
			}
			c, ok := cv.(opchain.Chain)
			if !ok {
				return nil, fmt.Errorf("record %d: marker chain is %T", i, cv)
			}
			m.Chain = c
		}
		return d.finish(i, m), nil

	case TagFunc:
		fr, ok := rec.Val.(funcRecord)
		if !ok {
			return nil, badPayload(i, rec)
		}
		ref := FuncRef{Name: fr.Name}
		if fr.Chain >= 0 {
			cv, err := d.decode(fr.Chain)
			if err != nil {
				return nil, err
			}
			c, ok := cv.(opchain.Chain)
			if !ok {
				return nil, fmt.Errorf("record %d: function chain is %T", i, cv)
			}
			ref.Chain = c
		}
		return d.finish(i, ref), nil

	case TagError:
		er, ok := rec.Val.(errorRecord)
		if !ok {
			return nil, badPayload(i, rec)
		}
		return d.decodeError(i, er)

	case TagHeader:
		pairs, ok := rec.Val.([][2]string)
		if !ok {
			return nil, badPayload(i, rec)
		}
		return d.finish(i, decodeHeader(pairs)), nil

	case TagRequest:
		rr, ok := rec.Val.(requestRecord)
		if !ok {
			return nil, badPayload(i, rec)
		}
		return d.decodeRequest(i, rr)

	case TagResponse:
		rr, ok := rec.Val.(responseRecord)
		if !ok {
			return nil, badPayload(i, rec)
		}
		return d.decodeResponse(i, rr)
	}
	return nil, fmt.Errorf("record %d: unknown tag %q", i, rec.Tag)
}

func badPayload(i int, rec Record) error {
	return fmt.Errorf("record %d: invalid %q payload (%T)", i, rec.Tag, rec.Val)
}

// checkMapKey rejects decoded keys that Go cannot hash. JS Maps key on
// identity, but a decoded container is a fresh map or slice and cannot be
// a map key here; such graphs are a documented decoding limitation.
func checkMapKey(i int, k any) error {
	if k == nil {
		return fmt.Errorf("record %d: nil map key", i)
	}
	if !reflect.TypeOf(k).Comparable() {
		return fmt.Errorf("record %d: map key of type %T is not comparable after decoding", i, k)
	}
	return nil
}

func (d *decoder) decodeChain(ops []chainOp) (opchain.Chain, error) {
	c := make(opchain.Chain, len(ops))
	for j, op := range ops {
		o := opchain.Operation{Type: opchain.OpType(op.Type), Key: op.Key}
		if len(op.Args) > 0 {
			o.Args = make([]any, len(op.Args))
			for k, ai := range op.Args {
				v, err := d.decode(ai)
				if err != nil {
					return nil, fmt.Errorf("operation %d, argument %d: %w", j, k+1, err)
				}
				o.Args[k] = v
			}
		}
		c[j] = o
	}
	return c, nil
}

func decodeTypedArray(ta typedArray) (any, error) {
	n := len(ta.Vals)
	ints := func(set func(j int, v int64)) error {
		for j, s := range ta.Vals {
			v, err := strconv.ParseInt(s.String(), 10, 64)
			if err != nil {
				return fmt.Errorf("element %d: %w", j, err)
			}
			set(j, v)
		}
		return nil
	}
	switch ta.Kind {
	case "[]uint8":
		out := make([]byte, n)
		return out, ints(func(j int, v int64) { out[j] = byte(v) })
	case "[]int8":
		out := make([]int8, n)
		return out, ints(func(j int, v int64) { out[j] = int8(v) })
	case "[]int16":
		out := make([]int16, n)
		return out, ints(func(j int, v int64) { out[j] = int16(v) })
	case "[]uint16":
		out := make([]uint16, n)
		return out, ints(func(j int, v int64) { out[j] = uint16(v) })
	case "[]int32":
		out := make([]int32, n)
		return out, ints(func(j int, v int64) { out[j] = int32(v) })
	case "[]uint32":
		out := make([]uint32, n)
		return out, ints(func(j int, v int64) { out[j] = uint32(v) })
	case "[]int":
		out := make([]int, n)
		return out, ints(func(j int, v int64) { out[j] = int(v) })
	case "[]int64":
		out := make([]int64, n)
		return out, ints(func(j int, v int64) { out[j] = v })
	case "[]uint", "[]uint64":
		uints := make([]uint64, n)
		for j, s := range ta.Vals {
			v, err := strconv.ParseUint(s.String(), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", j, err)
			}
			uints[j] = v
		}
		if ta.Kind == "[]uint" {
			out := make([]uint, n)
			for j, v := range uints {
				out[j] = uint(v)
			}
			return out, nil
		}
		return uints, nil
	case "[]float32":
		out := make([]float32, n)
		for j, s := range ta.Vals {
			v, err := strconv.ParseFloat(s.String(), 32)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", j, err)
			}
			out[j] = float32(v)
		}
		return out, nil
	case "[]float64":
		out := make([]float64, n)
		for j, s := range ta.Vals {
			v, err := strconv.ParseFloat(s.String(), 64)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", j, err)
			}
			out[j] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown typed array kind %q", ta.Kind)
}
