// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package chaincall implements an operation-chain RPC protocol for
// actor-style nodes.
//
// A caller describes work as an operation chain: a sequence of property
// accesses and invocations such as "get users, call find with these
// arguments, get the name of the result". Chains are built lazily with
// the opchain package, serialized with the codec package, and executed
// remotely against a bound target object.
//
// # Nodes
//
// The core type defined by this package is the [Node]. A node originates
// calls, executes inbound chains against its bindings, and routes results
// to stored continuations.
//
// To create a new, unstarted node:
//
//	n := chaincall.NewNode(chaincall.Options{
//	   ID:    "alpha",
//	   Store: store.NewMem(),
//	   Bindings: map[string]chaincall.Binding{
//	      "calc": chaincall.StaticBinding(calc),
//	   },
//	})
//
// To start the service routine, call the Start method with a transport
// that can deliver envelopes to other nodes:
//
//	n.Start(tr)
//
// The node runs until [Node.Stop] is called. The mesh package provides
// an in-process transport and a wire-channel link.
//
// # The Two-Call Pattern
//
// A call is not a request/response exchange: it is two independent
// one-way calls. [Node.Call] sends a [CallMessage] to the target node
// and returns as soon as delivery is acknowledged, which means "queued",
// never "executed". The target node executes the chain on its own
// schedule and sends back a [CallResult] naming the same operation ID.
//
// Between the two calls, the origin node keeps a durable pending-call
// record holding a pre-serialized continuation chain. When the result
// arrives, the record is atomically taken from the store and the
// continuation executes locally with the result (or error) bound to the
// "result" reference marker:
//
//	cont := opchain.New().Get("onResult").Call(opchain.Result())
//	id, err := n.Call(ctx, chaincall.CallSpec{
//	   Target:        "beta",
//	   TargetBinding: "calc",
//	   Chain:         opchain.New().Get("add").Call(1, 2),
//	   Continuation:  cont,
//	   OriginBinding: "app",
//	})
//
// Because the take is atomic, a result racing a timeout or a
// cancellation settles to exactly one winner, and duplicate or late
// results are dropped harmlessly.
//
// # Timeouts, Cancellation, and Recovery
//
// A call with a deadline schedules an alarm; if it fires first, the
// continuation runs with a [*TimeoutError] in place of the result.
// [Node.Cancel] withdraws a pending call and returns the continuation
// that will now never run. After a process restart, [Node.Recover]
// re-schedules alarms from the pending records left in a durable store.
//
// # Metrics
//
// Nodes maintain a collection of metrics while running. Use the
// [Node.Metrics] method to obtain an [expvar.Map] containing the metrics
// exported by the node:
//
//   - calls_out: counter of outbound calls enqueued
//   - calls_out_failed: counter of outbound calls failing delivery
//   - calls_in: counter of inbound call messages executed
//   - calls_in_failed: counter of inbound call messages reporting errors
//   - results_in: counter of inbound results consumed
//   - results_dropped: counter of inbound results with no pending record
//   - results_send_failed: counter of result deliveries that failed
//   - timeouts_fired: counter of pending calls ended by timeout
//   - cancels: counter of explicit cancellations
//   - calls_pending: gauge of calls awaiting a result
//
// Additional metrics may be added in the future. It is safe for the
// caller to modify the metrics map to add, update, and remove entries.
package chaincall
