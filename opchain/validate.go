// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package opchain

import (
	"fmt"
	"reflect"
)

// Default limits applied by Validate when a Limits field is zero. The
// limits bound remote execution cost and serialized message size.
const (
	DefaultMaxDepth = 50  // maximum number of operations in one chain
	DefaultMaxArgs  = 100 // maximum number of arguments to one apply
)

// Limits bound the cost of a chain accepted by Validate. A zero field
// selects the corresponding default.
type Limits struct {
	MaxDepth int // maximum chain length in operations
	MaxArgs  int // maximum argument count per apply
}

func (l Limits) withDefaults() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.MaxArgs <= 0 {
		l.MaxArgs = DefaultMaxArgs
	}
	return l
}

// Validate checks that c is structurally valid and within limits. It
// reports an error if c is nil, contains an operation of unknown type,
// exceeds the depth limit, or contains an apply exceeding the argument
// limit. Nested chains inside markers are validated recursively against
// the same limits, wherever the executor would find them: markers may be
// direct apply arguments or buried inside slice and map arguments.
//
// Validation is a separate step from execution: Execute does not re-check
// limits, so a caller that skips Validate accepts unbounded execution cost.
func Validate(c Chain, limits Limits) error {
	return validateChain(c, limits.withDefaults(), make(map[uintptr]bool))
}

func validateChain(c Chain, lim Limits, seen map[uintptr]bool) error {
	if c == nil {
		return fmt.Errorf("chain is not a valid operation list")
	}
	if len(c) > lim.MaxDepth {
		return fmt.Errorf("chain depth %d exceeds limit %d", len(c), lim.MaxDepth)
	}
	for i, op := range c {
		switch op.Type {
		case OpGet:
			// ok
		case OpApply:
			if len(op.Args) > lim.MaxArgs {
				return fmt.Errorf("operation %d: %d arguments exceeds limit %d", i, len(op.Args), lim.MaxArgs)
			}
			for j, a := range op.Args {
				if err := validateArg(a, lim, seen); err != nil {
					return fmt.Errorf("operation %d, argument %d: %w", i, j, err)
				}
			}
		default:
			return fmt.Errorf("operation %d: invalid type %q", i, op.Type)
		}
	}
	return nil
}

// validateArg walks an apply argument with the same traversal resolveValue
// uses at execution time, validating any inline marker chains it finds.
// The seen set makes cyclic plain data terminate.
func validateArg(a any, lim Limits, seen map[uintptr]bool) error {
	switch t := a.(type) {
	case Marker:
		if t.RefID != "" {
			return nil
		}
		return validateChain(t.Chain, lim, seen)

	case []any:
		p := reflect.ValueOf(t).Pointer()
		if seen[p] {
			return nil
		}
		seen[p] = true
		for i, e := range t {
			if err := validateArg(e, lim, seen); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}

	case map[string]any:
		p := reflect.ValueOf(t).Pointer()
		if seen[p] {
			return nil
		}
		seen[p] = true
		for k, e := range t {
			if err := validateArg(e, lim, seen); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
	}
	return nil
}
