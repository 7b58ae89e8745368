// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package opchain

import (
	"context"
	"fmt"
	"reflect"
)

// This file provides adapters to the Func type for ordinary typed Go
// functions, so chain targets can expose plain methods without writing
// argument plumbing by hand.

// Adapt adapts a function f accepting one parameter of type A and
// returning a result of type R and an error, to a Func.
func Adapt[A, R any](f func(context.Context, A) (R, error)) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		a, err := arg[A](args, 0, 1)
		if err != nil {
			return nil, err
		}
		return f(ctx, a)
	}
}

// Adapt2 adapts a function of two parameters to a Func.
func Adapt2[A, B, R any](f func(context.Context, A, B) (R, error)) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		a, err := arg[A](args, 0, 2)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](args, 1, 2)
		if err != nil {
			return nil, err
		}
		return f(ctx, a, b)
	}
}

// Adapt3 adapts a function of three parameters to a Func.
func Adapt3[A, B, C, R any](f func(context.Context, A, B, C) (R, error)) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		a, err := arg[A](args, 0, 3)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](args, 1, 3)
		if err != nil {
			return nil, err
		}
		c, err := arg[C](args, 2, 3)
		if err != nil {
			return nil, err
		}
		return f(ctx, a, b, c)
	}
}

// arg extracts argument i of want from args, converting numeric kinds as
// needed to absorb JSON decoding artifacts.
func arg[T any](args []any, i, want int) (T, error) {
	var zero T
	if len(args) != want {
		return zero, fmt.Errorf("have %d arguments, want %d", len(args), want)
	}
	if t, ok := args[i].(T); ok {
		return t, nil
	}
	tt := reflect.TypeOf(zero)
	if tt == nil { // T is an interface type; any non-assertable value fails above
		return zero, fmt.Errorf("argument %d: cannot use %T", i+1, args[i])
	}
	av, err := convertArg(args[i], tt)
	if err != nil {
		return zero, fmt.Errorf("argument %d: %w", i+1, err)
	}
	return av.Interface().(T), nil
}
