// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package opchain

import "strconv"

// A Builder captures an operation chain from fluent method and property
// access syntax. Each step returns a new builder; no builder is ever
// mutated, so intermediate builders can be reused and shared freely, and
// building performs no execution or other side effects.
//
// Passing a builder (or a Chain) as an argument to Call records a nested
// operation marker wrapping its chain, not the builder itself.
//
// Builders impose no depth limit; chains are bounded later by Validate so
// that an oversized chain produces one precise error at validation time.
type Builder struct {
	chain Chain
}

// New returns an empty builder anchored at the eventual execution target.
func New() *Builder { return &Builder{} }

// Get records a property access for key and returns the extended builder.
func (b *Builder) Get(key string) *Builder {
	return &Builder{chain: b.extend(Operation{Type: OpGet, Key: key})}
}

// Index records an element access for index i. Element indexes are carried
// as decimal string keys and resolved against slices by the executor.
func (b *Builder) Index(i int) *Builder {
	return b.Get(strconv.Itoa(i))
}

// Call records an invocation of the current cursor with args and returns
// the extended builder. Any argument that is itself a builder or a Chain is
// replaced by an inline nested operation marker before being recorded.
func (b *Builder) Call(args ...any) *Builder {
	rec := make([]any, len(args))
	for i, a := range args {
		rec[i] = argValue(a)
	}
	return &Builder{chain: b.extend(Operation{Type: OpApply, Args: rec})}
}

// Chain extracts the captured chain as plain data.
func (b *Builder) Chain() Chain { return b.chain }

func (b *Builder) String() string { return b.chain.String() }

// extend returns a copy of the builder's chain with op appended. The copy
// keeps sibling builders derived from the same parent independent.
func (b *Builder) extend(op Operation) Chain {
	out := make(Chain, len(b.chain), len(b.chain)+1)
	copy(out, b.chain)
	return append(out, op)
}

// argValue converts chain-valued arguments into markers and passes all
// other values through unchanged.
func argValue(v any) any {
	switch t := v.(type) {
	case Marker:
		return t
	case *Builder:
		return Marker{Chain: t.chain}
	case Chain:
		return Marker{Chain: t}
	}
	return v
}

// ChainOf reports whether v carries an operation chain, and returns it if
// so. It recognizes builders, chains, and inline markers. For any other
// value it reports false rather than failing, so it can be used as a type
// guard.
func ChainOf(v any) (Chain, bool) {
	switch t := v.(type) {
	case *Builder:
		if t == nil {
			return nil, false
		}
		return t.chain, true
	case Chain:
		return t, true
	case Marker:
		if t.RefID == "" {
			return t.Chain, true
		}
	}
	return nil, false
}
