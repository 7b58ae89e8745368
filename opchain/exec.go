// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package opchain

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// A Func is the canonical callable shape for chain targets. Values of this
// type reached by an apply operation are invoked directly, without
// reflection.
type Func func(ctx context.Context, args ...any) (any, error)

// A Getter resolves property access by name. Targets that implement Getter
// control their own property semantics; a method value returned from
// GetProp is naturally bound to its receiver, giving ordinary dotted-call
// behavior when it is subsequently applied.
type Getter interface {
	GetProp(key string) (any, error)
}

// An Awaitable is a deferred result. When an apply operation produces an
// Awaitable, the executor awaits it before advancing the cursor, so chains
// may span asynchronous steps transparently.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// An Env binds ref marker IDs to concrete values for one execution.
type Env map[string]any

// A NotFunctionError reports an apply operation on a non-callable cursor.
type NotFunctionError struct {
	Key string // the key whose value was applied
}

func (e *NotFunctionError) Error() string {
	if e.Key == "" {
		return "target is not a function"
	}
	return fmt.Sprintf("%q is not a function", e.Key)
}

// Execute replays c against target, applying each operation in order and
// returning the final cursor value. Get operations read properties off the
// current cursor; apply operations invoke the cursor with its recorded
// arguments after resolving any nested markers, depth-first and
// left-to-right, against the same target and environment.
//
// Execute does not enforce chain limits; call Validate first.
func Execute(ctx context.Context, c Chain, target any, env Env) (any, error) {
	cursor := target
	var owner any
	lastKey := ""
	for i, op := range c {
		switch op.Type {
		case OpGet:
			v, err := getProp(cursor, op.Key)
			if err != nil {
				return nil, fmt.Errorf("operation %d: %w", i, err)
			}
			owner, cursor, lastKey = cursor, v, op.Key

		case OpApply:
			args, err := resolveArgs(ctx, op.Args, target, env)
			if err != nil {
				return nil, fmt.Errorf("operation %d: %w", i, err)
			}
			v, err := apply(ctx, cursor, owner, lastKey, args)
			if err != nil {
				return nil, fmt.Errorf("operation %d: %w", i, err)
			}
			if aw, ok := v.(Awaitable); ok {
				v, err = aw.Await(ctx)
				if err != nil {
					return nil, fmt.Errorf("operation %d: %w", i, err)
				}
			}
			owner, cursor, lastKey = nil, v, ""

		default:
			return nil, fmt.Errorf("operation %d: invalid type %q", i, op.Type)
		}
	}
	return cursor, nil
}

// getProp resolves a property access on cur. Resolution order: the Getter
// interface, string-keyed maps, slices by decimal index, then reflection
// over exported fields and methods. Method values obtained by reflection
// are bound to their receiver.
func getProp(cur any, key string) (any, error) {
	switch t := cur.(type) {
	case nil:
		return nil, fmt.Errorf("cannot read property %q of nil", key)
	case Getter:
		return t.GetProp(key)
	case map[string]any:
		return t[key], nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid element index %q", key)
		}
		if i < 0 || i >= len(t) {
			return nil, fmt.Errorf("index %d out of range (%d elements)", i, len(t))
		}
		return t[i], nil
	}
	return reflectProp(cur, key)
}

// reflectProp is the reflection fallback for property access on arbitrary
// Go values. Chain keys are conventionally lower-case, so a key that does
// not match an exported name verbatim is retried with its first rune
// upper-cased.
func reflectProp(cur any, key string) (any, error) {
	v := reflect.ValueOf(cur)
	for _, name := range []string{key, exported(key)} {
		if m := v.MethodByName(name); m.IsValid() {
			return m.Interface(), nil
		}
	}
	e := v
	for e.Kind() == reflect.Pointer {
		if e.IsNil() {
			return nil, fmt.Errorf("cannot read property %q of nil", key)
		}
		e = e.Elem()
	}
	switch e.Kind() {
	case reflect.Struct:
		for _, name := range []string{key, exported(key)} {
			if f := e.FieldByName(name); f.IsValid() && f.CanInterface() {
				return f.Interface(), nil
			}
		}
	case reflect.Map:
		if e.Type().Key().Kind() == reflect.String {
			mv := e.MapIndex(reflect.ValueOf(key).Convert(e.Type().Key()))
			if !mv.IsValid() {
				return nil, nil
			}
			return mv.Interface(), nil
		}
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid element index %q", key)
		}
		if i < 0 || i >= e.Len() {
			return nil, fmt.Errorf("index %d out of range (%d elements)", i, e.Len())
		}
		return e.Index(i).Interface(), nil
	}
	return nil, fmt.Errorf("no property %q on %T", key, cur)
}

func exported(key string) string {
	r, n := utf8.DecodeRuneInString(key)
	if r == utf8.RuneError {
		return key
	}
	return string(unicode.ToUpper(r)) + key[n:]
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// apply invokes fn with args. The owner and key identify where the cursor
// was read from, for error reporting only; receiver binding happens at
// property resolution.
func apply(ctx context.Context, fn, owner any, key string, args []any) (any, error) {
	switch t := fn.(type) {
	case Func:
		return t(ctx, args...)
	case func(ctx context.Context, args ...any) (any, error):
		return t(ctx, args...)
	}

	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, &NotFunctionError{Key: key}
	}
	return reflectCall(ctx, v, key, args)
}

// reflectCall invokes an arbitrary Go function value with args converted to
// its parameter types. A leading context.Context parameter receives ctx. A
// trailing error result, if any, is split off and returned as the error.
func reflectCall(ctx context.Context, fn reflect.Value, key string, args []any) (any, error) {
	ft := fn.Type()
	in := make([]reflect.Value, 0, ft.NumIn())
	next := 0
	if ft.NumIn() > 0 && ft.In(0) == ctxType {
		in = append(in, reflect.ValueOf(ctx))
		next = 1
	}

	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
	}
	want := fixed - next
	if ft.IsVariadic() {
		if len(args) < want {
			return nil, fmt.Errorf("calling %q: have %d arguments, want at least %d", key, len(args), want)
		}
	} else if len(args) != want {
		return nil, fmt.Errorf("calling %q: have %d arguments, want %d", key, len(args), want)
	}

	for i, a := range args {
		var pt reflect.Type
		if p := next + i; p < fixed {
			pt = ft.In(p)
		} else {
			pt = ft.In(ft.NumIn() - 1).Elem()
		}
		av, err := convertArg(a, pt)
		if err != nil {
			return nil, fmt.Errorf("calling %q: argument %d: %w", key, i+1, err)
		}
		in = append(in, av)
	}

	out := fn.Call(in)
	if n := len(out); n > 0 && ft.Out(n-1) == errType {
		if !out[n-1].IsNil() {
			return nil, out[n-1].Interface().(error)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		vals := make([]any, len(out))
		for i, o := range out {
			vals[i] = o.Interface()
		}
		return vals, nil
	}
}

// convertArg adapts a to parameter type pt, allowing the numeric
// conversions that JSON decoding makes necessary (float64 carrying an
// integral value, and the like).
func convertArg(a any, pt reflect.Type) (reflect.Value, error) {
	if a == nil {
		switch pt.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(pt), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot pass nil for %v", pt)
	}
	av := reflect.ValueOf(a)
	if av.Type().AssignableTo(pt) {
		return av, nil
	}
	if av.Type().ConvertibleTo(pt) {
		switch {
		case (av.Kind() == reflect.String) != (pt.Kind() == reflect.String):
			// conversions between strings and numbers are not wanted in
			// either direction (Convert would turn 42 into "*")
		default:
			return av.Convert(pt), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %v", a, pt)
}

// resolveArgs resolves nested operation markers within args, recursing
// through argument slices and string-keyed maps. Containers are rewritten
// only when a marker was actually substituted, so ordinary data, including
// cyclic structures, passes through to the callee untouched.
func resolveArgs(ctx context.Context, args []any, target any, env Env) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]any, len(args))
	seen := make(map[uintptr]bool)
	for i, a := range args {
		v, _, err := resolveValue(ctx, a, target, env, seen)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// resolveValue resolves v, reporting whether a substitution occurred
// anywhere within it.
func resolveValue(ctx context.Context, v any, target any, env Env, seen map[uintptr]bool) (any, bool, error) {
	switch t := v.(type) {
	case Marker:
		if t.RefID != "" {
			bound, ok := env[t.RefID]
			if !ok {
				return nil, false, fmt.Errorf("unknown operation reference %q", t.RefID)
			}
			return bound, true, nil
		}
		r, err := Execute(ctx, t.Chain, target, env)
		if err != nil {
			return nil, false, err
		}
		return r, true, nil

	case []any:
		p := reflect.ValueOf(t).Pointer()
		if seen[p] {
			return t, false, nil
		}
		seen[p] = true
		out := make([]any, len(t))
		changed := false
		for i, e := range t {
			r, ch, err := resolveValue(ctx, e, target, env, seen)
			if err != nil {
				return nil, false, err
			}
			out[i] = r
			changed = changed || ch
		}
		if !changed {
			return t, false, nil
		}
		return out, true, nil

	case map[string]any:
		p := reflect.ValueOf(t).Pointer()
		if seen[p] {
			return t, false, nil
		}
		seen[p] = true
		out := make(map[string]any, len(t))
		changed := false
		for k, e := range t {
			r, ch, err := resolveValue(ctx, e, target, env, seen)
			if err != nil {
				return nil, false, err
			}
			out[k] = r
			changed = changed || ch
		}
		if !changed {
			return t, false, nil
		}
		return out, true, nil
	}
	return v, false, nil
}
