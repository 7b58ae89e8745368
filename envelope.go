// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chaincall

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/creachadair/chaincall/codec"
)

// A NodeID identifies a node in the fabric. Delivery routes envelopes by
// node ID; the transport defines what an ID denotes.
type NodeID string

// An OperationID uniquely identifies one in-flight call. The origin node
// generates it and keys the pending call record by it.
type OperationID string

// A CallMessage is the first of the protocol's two one-way calls: it
// flows origin to remote and asks the remote node to execute a chain.
// The operation chain is carried in serialized record form, not raw chain
// JSON, since chain arguments may be arbitrary structured values.
type CallMessage struct {
	OriginID       NodeID        `json:"originId"`
	OriginBinding  string        `json:"originBinding"`
	TargetBinding  string        `json:"targetBinding"`
	TargetInstance string        `json:"targetInstanceNameOrId"`
	OperationID    OperationID   `json:"operationId"`
	OperationChain codec.Records `json:"operationChain"`
}

// String returns a human-friendly rendering of the message.
func (m *CallMessage) String() string {
	return fmt.Sprintf("CallMessage(op=%s, %s/%s → %s/%s, %d records)",
		m.OperationID, m.OriginID, m.OriginBinding, m.TargetBinding, m.TargetInstance,
		len(m.OperationChain))
}

// A CallResult is the protocol's second one-way call: it flows remote to
// origin and closes the loop for one operation. Exactly one of Result or
// Error is set, each in serialized record form.
type CallResult struct {
	OperationID OperationID   `json:"operationId"`
	Result      codec.Records `json:"result,omitempty"`
	Error       codec.Records `json:"error,omitempty"`
}

// String returns a human-friendly rendering of the result.
func (r *CallResult) String() string {
	if r.Error != nil {
		return fmt.Sprintf("CallResult(op=%s, error, %d records)", r.OperationID, len(r.Error))
	}
	return fmt.Sprintf("CallResult(op=%s, %d records)", r.OperationID, len(r.Result))
}

// An Envelope is the transport frame for one protocol message. Exactly
// one field is set.
type Envelope struct {
	Call   *CallMessage `json:"call,omitempty"`
	Result *CallResult  `json:"result,omitempty"`
}

// Encode renders the envelope as JSON. It panics if the envelope is
// empty, which indicates a programming error.
func (e *Envelope) Encode() []byte {
	if e.Call == nil && e.Result == nil {
		panic("encoding empty envelope")
	}
	data, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Errorf("encoding envelope: %w", err))
	}
	return data
}

// DecodeEnvelope parses an envelope from JSON.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if (e.Call == nil) == (e.Result == nil) {
		return nil, fmt.Errorf("invalid envelope: exactly one of call or result required")
	}
	return &e, nil
}

// String returns a human-friendly rendering of the envelope.
func (e *Envelope) String() string {
	switch {
	case e.Call != nil:
		return e.Call.String()
	case e.Result != nil:
		return e.Result.String()
	}
	return "Envelope(empty)"
}

// A Transport delivers envelopes to named nodes. Deliver reports success
// when the envelope has been accepted for processing by the target
// (delivery acknowledgement), never when remote execution has completed;
// that distinction is the defining property of the two-call pattern.
type Transport interface {
	Deliver(ctx context.Context, target NodeID, env *Envelope) error
}
