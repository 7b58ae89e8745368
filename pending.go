// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chaincall

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/creachadair/chaincall/codec"
)

// pendingPrefix is the store key prefix for pending call records.
const pendingPrefix = "pending/"

func pendingKey(id OperationID) string { return pendingPrefix + string(id) }

// A pendingCall is the persisted state of one in-flight call, keyed by
// its operation ID. The continuation chain is stored pre-serialized so it
// survives a process restart. Records are never mutated in place: a
// record is created at call time and consumed exactly once, by whichever
// of result receipt, cancellation, or timeout wins the store's take.
type pendingCall struct {
	OperationID    OperationID   `json:"operationId"`
	Continuation   codec.Records `json:"continuation"`
	OriginBinding  string        `json:"originBinding"`
	OriginInstance string        `json:"originInstance"`
	CreatedAt      time.Time     `json:"createdAt"`
	Deadline       *time.Time    `json:"deadline,omitempty"`
}

func (p *pendingCall) encode() []byte {
	data, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Errorf("encoding pending call: %w", err))
	}
	return data
}

func decodePendingCall(data []byte) (*pendingCall, error) {
	var p pendingCall
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid pending call record: %w", err)
	}
	return &p, nil
}
