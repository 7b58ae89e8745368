// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package opchain defines the operation chain data model used by the
// chaincall protocol, along with a builder to capture chains from fluent
// call syntax, a validator to bound their cost, and an executor to replay
// them against a concrete target.
package opchain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// An OpType identifies the kind of a single chain operation.
type OpType string

const (
	// OpGet reads the named property off the current cursor value.
	OpGet OpType = "get"

	// OpApply invokes the current cursor value as a function.
	OpApply OpType = "apply"
)

// An Operation is a single step of an operation chain: either a property
// access (OpGet, with Key set) or a function invocation (OpApply, with Args
// set). Apply arguments are arbitrary values and may include Marker values
// standing in for the results of other chains.
type Operation struct {
	Type OpType `json:"type"`
	Key  string `json:"key,omitempty"`
	Args []any  `json:"args,omitempty"`
}

// A Chain is an ordered sequence of operations applied from some anchor
// target, equivalent to a sequence of chained property accesses and calls.
// A chain is pure data: capturing or transmitting one executes nothing.
type Chain []Operation

// String returns a compact human-friendly rendering of the chain, e.g.
// ".users.find(2 args).name".
func (c Chain) String() string {
	var sb strings.Builder
	for _, op := range c {
		switch op.Type {
		case OpGet:
			sb.WriteString(".")
			sb.WriteString(op.Key)
		case OpApply:
			fmt.Fprintf(&sb, "(%d args)", len(op.Args))
		default:
			fmt.Fprintf(&sb, "<%s>", op.Type)
		}
	}
	return sb.String()
}

// A Marker stands in for the result of executing another chain. It appears
// only inside the Args of an apply operation. Exactly one of Chain or RefID
// is meaningful: an inline marker carries the chain to execute, a ref marker
// names a value bound in the execution environment.
type Marker struct {
	Chain Chain  // inline chain to execute first
	RefID string // reference to an externally bound value
}

// ResultRef is the conventional ref ID bound to a call's settled outcome
// when a continuation chain is executed.
const ResultRef = "result"

// Result returns a ref marker for the settled outcome of a call. Placing it
// in a continuation chain's arguments substitutes the call's result value,
// or the reconstructed error, at execution time.
func Result() Marker { return Marker{RefID: ResultRef} }

type markerJSON struct {
	IsNested bool   `json:"__isNestedOperation"`
	Chain    Chain  `json:"__operationChain,omitempty"`
	RefID    string `json:"__refId,omitempty"`
}

// MarshalJSON implements json.Marshaler using the tagged wire shape.
func (m Marker) MarshalJSON() ([]byte, error) {
	return json.Marshal(markerJSON{IsNested: true, Chain: m.Chain, RefID: m.RefID})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Marker) UnmarshalJSON(data []byte) error {
	var mj markerJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return err
	}
	if !mj.IsNested {
		return fmt.Errorf("not a nested operation marker")
	}
	m.Chain = mj.Chain
	m.RefID = mj.RefID
	return nil
}

func (m Marker) String() string {
	if m.RefID != "" {
		return fmt.Sprintf("Marker(ref=%q)", m.RefID)
	}
	return fmt.Sprintf("Marker(%v)", m.Chain)
}
