// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chaincall

import (
	"errors"
	"fmt"

	"github.com/creachadair/chaincall/codec"
)

// ErrNoPendingCall is reported by Cancel when the operation has already
// been consumed by a result, a timeout, or an earlier cancellation.
var ErrNoPendingCall = errors.New("no pending call for operation")

// A TimeoutError is substituted for a call's result when its timeout
// fires before a result arrives. It round-trips through the codec by
// name, so continuations can branch on it with errors.As even after the
// error has crossed a serialization boundary.
type TimeoutError struct {
	OperationID OperationID
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out", e.OperationID)
}

// ErrorName implements the codec.Namer interface.
func (e *TimeoutError) ErrorName() string { return "TimeoutError" }

// ErrorProperties implements the codec.Propser interface.
func (e *TimeoutError) ErrorProperties() map[string]any {
	return map[string]any{"operationId": string(e.OperationID)}
}

// A DeliveryError reports that the initial enqueue of a call could not be
// delivered. It is the one failure the caller waits for: the pending
// record and any timeout are rolled back before it is reported.
type DeliveryError struct {
	Target NodeID
	Err    error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Target, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *DeliveryError) Unwrap() error { return e.Err }

// newErrorRegistry builds the codec registry a node uses to reconstruct
// concrete error types from results.
func newErrorRegistry() *codec.Registry {
	return codec.NewRegistry().
		Register("TimeoutError", func(e *codec.Error) error {
			te := &TimeoutError{}
			if id, ok := e.Props["operationId"].(string); ok {
				te.OperationID = OperationID(id)
			}
			return te
		})
}
