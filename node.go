// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chaincall

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/chaincall/alarm"
	"github.com/creachadair/chaincall/codec"
	"github.com/creachadair/chaincall/opchain"
	"github.com/creachadair/chaincall/store"
	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// A Binding resolves instance names to concrete chain targets. Bindings
// are supplied to NewNode explicitly; there is no process-global
// registration.
type Binding interface {
	// Instance returns the target named by name. The same name must
	// resolve to the same logical target for the lifetime of the node.
	Instance(ctx context.Context, name string) (any, error)
}

// BindingFunc adapts a function to the Binding interface.
type BindingFunc func(ctx context.Context, name string) (any, error)

// Instance implements a method of the [Binding] interface.
func (f BindingFunc) Instance(ctx context.Context, name string) (any, error) { return f(ctx, name) }

// StaticBinding returns a Binding that resolves every instance name to
// the single target v.
func StaticBinding(v any) Binding {
	return BindingFunc(func(context.Context, string) (any, error) { return v, nil })
}

// Options configure a Node. ID and Store are required; the remaining
// fields have usable defaults.
type Options struct {
	ID        NodeID
	Store     store.Store        // pending call persistence (required)
	Scheduler alarm.Scheduler    // timeout scheduling; default alarm.NewTimers()
	Bindings  map[string]Binding // binding name → instance resolver
	Logger    *zap.Logger        // default zap.NewNop()
	Limits    opchain.Limits     // chain limits; zero fields select defaults

	// DefaultTimeout applies to calls whose spec leaves Timeout zero.
	// If it is itself zero, such calls have no timeout.
	DefaultTimeout time.Duration

	// QueueSize bounds the inbound envelope queue (default 64). Delivery
	// acknowledgement means "queued", so the bound is also the node's
	// inbound backpressure.
	QueueSize int
}

// A Node is one participant in the chain-call fabric: it originates
// calls, executes inbound chains against its bindings, and routes results
// to stored continuations. Construct a node with NewNode, then call Start
// with a transport. A node processes one inbound envelope at a time;
// cross-node concurrency is message passing only.
type Node struct {
	id       NodeID
	store    store.Store
	sched    alarm.Scheduler
	bindings map[string]Binding
	log      *zap.Logger
	limits   opchain.Limits
	defTO    time.Duration
	qsize    int
	reg      *codec.Registry
	metrics  *nodeMetrics

	μ       sync.Mutex
	tr      Transport
	tasks   *taskgroup.Group
	inbound chan func()
	quit    chan struct{}
	alarms  map[OperationID]alarm.Handle
	running bool
}

// NewNode constructs an unstarted node from opts. It panics if a required
// option is missing.
func NewNode(opts Options) *Node {
	if opts.ID == "" {
		panic("node ID is required")
	}
	if opts.Store == nil {
		panic("node store is required")
	}
	n := &Node{
		id:       opts.ID,
		store:    opts.Store,
		sched:    opts.Scheduler,
		bindings: opts.Bindings,
		log:      opts.Logger,
		limits:   opts.Limits,
		defTO:    opts.DefaultTimeout,
		qsize:    opts.QueueSize,
		reg:      newErrorRegistry(),
		metrics:  newNodeMetrics(),
	}
	if n.sched == nil {
		n.sched = alarm.NewTimers()
	}
	if n.log == nil {
		n.log = zap.NewNop()
	}
	if n.qsize <= 0 {
		n.qsize = 64
	}
	return n
}

// ID reports the node's identity.
func (n *Node) ID() NodeID { return n.id }

// Metrics returns the metrics map for the node. It is safe for the
// caller to add additional metrics to the map while the node is active.
func (n *Node) Metrics() *expvar.Map { return n.metrics.emap }

// ErrorRegistry returns the codec registry the node uses to reconstruct
// concrete error types from results. Callers may register additional
// error constructors before starting the node.
func (n *Node) ErrorRegistry() *codec.Registry { return n.reg }

// Start starts the node's service routine, delivering outbound envelopes
// via tr. Start does not block; call Wait to wait for the node to exit.
func (n *Node) Start(tr Transport) *Node {
	n.μ.Lock()
	defer n.μ.Unlock()
	if n.running {
		panic("node is already started")
	}
	n.tr = tr
	n.inbound = make(chan func(), n.qsize)
	n.quit = make(chan struct{})
	n.alarms = make(map[OperationID]alarm.Handle)
	n.running = true

	g := taskgroup.New(nil)
	n.tasks = g
	in, quit := n.inbound, n.quit
	g.Go(func() error {
		for {
			select {
			case f := <-in:
				f()
			case <-quit:
				return nil
			}
		}
	})
	return n
}

// Stop terminates the node and blocks until its service routine has
// exited. Pending call records remain in the store; a restarted node can
// reclaim them with Recover. After Stop completes it is safe to restart
// the node with a new transport.
func (n *Node) Stop() error {
	n.μ.Lock()
	if !n.running {
		n.μ.Unlock()
		return nil
	}
	n.running = false
	close(n.quit)
	for _, h := range n.alarms {
		h.Cancel()
	}
	n.alarms = nil
	n.μ.Unlock()
	return n.Wait()
}

// Wait blocks until the node's service routine has exited.
func (n *Node) Wait() error {
	n.μ.Lock()
	t := n.tasks
	n.μ.Unlock()
	if t == nil {
		return nil
	}
	t.Wait()

	n.μ.Lock()
	defer n.μ.Unlock()
	n.tasks = nil
	n.tr = nil
	return nil
}

// Push hands an inbound envelope to the node, returning once it has been
// queued for processing. This is the delivery acknowledgement point of
// the protocol: a nil return means "accepted", not "executed".
func (n *Node) Push(env *Envelope) error {
	n.μ.Lock()
	in, quit, running := n.inbound, n.quit, n.running
	n.μ.Unlock()
	if !running {
		return errors.New("node is not running")
	}
	select {
	case in <- func() { n.dispatch(env) }:
		return nil
	case <-quit:
		return errors.New("node is not running")
	}
}

// enqueue queues f on the node's service routine, reporting whether the
// node accepted it.
func (n *Node) enqueue(f func()) bool {
	n.μ.Lock()
	in, quit, running := n.inbound, n.quit, n.running
	n.μ.Unlock()
	if !running {
		return false
	}
	select {
	case in <- f:
		return true
	case <-quit:
		return false
	}
}

// A CallSpec describes one outbound call.
type CallSpec struct {
	Target         NodeID // node to execute the chain
	TargetBinding  string // binding name on the target node
	TargetInstance string // instance name within the binding

	// Chain is the operation chain to execute remotely. A *opchain.Builder
	// is accepted as well.
	Chain any

	// Continuation is the chain executed locally when the call settles,
	// with the result or error bound to the "result" ref marker. It may
	// be nil for fire-and-forget calls. A *opchain.Builder is accepted.
	Continuation any

	// OriginBinding and OriginInstance locate the local target the
	// continuation executes against.
	OriginBinding  string
	OriginInstance string

	// Timeout bounds the wait for a result. Zero selects the node
	// default; a negative value disables the timeout explicitly.
	Timeout time.Duration
}

// Call initiates the two-call cycle for spec: it persists a pending call
// record (with the continuation pre-serialized so it survives a restart),
// schedules the timeout if one applies, and enqueues the chain on the
// target node. Call waits only for delivery acknowledgement, never for
// remote execution.
//
// If delivery fails, the pending record and timeout are rolled back and
// the error is returned synchronously as a *DeliveryError.
func (n *Node) Call(ctx context.Context, spec CallSpec) (OperationID, error) {
	n.μ.Lock()
	tr, running := n.tr, n.running
	n.μ.Unlock()
	if !running {
		return "", errors.New("node is not running")
	}

	chain, ok := opchain.ChainOf(spec.Chain)
	if !ok {
		return "", errors.New("call spec does not carry an operation chain")
	}
	if err := opchain.Validate(chain, n.limits); err != nil {
		return "", fmt.Errorf("invalid chain: %w", err)
	}
	var cont opchain.Chain
	if spec.Continuation != nil {
		cont, ok = opchain.ChainOf(spec.Continuation)
		if !ok {
			return "", errors.New("continuation does not carry an operation chain")
		}
		if err := opchain.Validate(cont, n.limits); err != nil {
			return "", fmt.Errorf("invalid continuation: %w", err)
		}
	}

	// Serialize everything before persisting anything, so a codec failure
	// needs no rollback.
	chainRecs, err := codec.Serialize(chain)
	if err != nil {
		return "", fmt.Errorf("serialize chain: %w", err)
	}
	var contRecs codec.Records
	if cont != nil {
		contRecs, err = codec.Serialize(cont)
		if err != nil {
			return "", fmt.Errorf("serialize continuation: %w", err)
		}
	}

	id := OperationID(uuid.NewString())
	pc := &pendingCall{
		OperationID:    id,
		Continuation:   contRecs,
		OriginBinding:  spec.OriginBinding,
		OriginInstance: spec.OriginInstance,
		CreatedAt:      time.Now(),
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = n.defTO
	}
	if timeout > 0 {
		dl := time.Now().Add(timeout)
		pc.Deadline = &dl
	}

	if err := n.store.Put(ctx, pendingKey(id), pc.encode()); err != nil {
		return "", fmt.Errorf("persist pending call: %w", err)
	}
	if pc.Deadline != nil {
		n.scheduleTimeout(id, *pc.Deadline)
	}

	env := &Envelope{Call: &CallMessage{
		OriginID:       n.id,
		OriginBinding:  spec.OriginBinding,
		TargetBinding:  spec.TargetBinding,
		TargetInstance: spec.TargetInstance,
		OperationID:    id,
		OperationChain: chainRecs,
	}}
	if derr := tr.Deliver(ctx, spec.Target, env); derr != nil {
		// The message never left the building: roll back so the caller
		// sees the failure synchronously instead of a dangling timeout.
		n.cancelAlarm(id)
		if rerr := n.store.Delete(ctx, pendingKey(id)); rerr != nil {
			n.log.Error("rollback of pending call failed",
				zap.String("op", string(id)), zap.Error(rerr))
		}
		n.metrics.callsOutErr.Add(1)
		return "", &DeliveryError{Target: spec.Target, Err: derr}
	}
	n.metrics.callsOut.Add(1)
	n.metrics.callsPending.Add(1)
	return id, nil
}

// Cancel withdraws the pending call for id before its result arrives,
// and returns the continuation chain that will now never run. It reports
// ErrNoPendingCall if the call has already been consumed by a result,
// timeout, or earlier cancellation. Cancellation races delivery: at most
// one of cancel, result receipt, and timeout observes the record.
func (n *Node) Cancel(ctx context.Context, id OperationID) (opchain.Chain, error) {
	raw, err := n.store.Take(ctx, pendingKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w %s", ErrNoPendingCall, id)
	} else if err != nil {
		return nil, err
	}
	n.cancelAlarm(id)
	n.metrics.cancels.Add(1)
	n.metrics.callsPending.Add(-1)

	pc, err := decodePendingCall(raw)
	if err != nil {
		return nil, err
	}
	if len(pc.Continuation) == 0 {
		return nil, nil
	}
	v, err := codec.Deserialize(pc.Continuation, codec.WithErrorRegistry(n.reg))
	if err != nil {
		return nil, fmt.Errorf("decode continuation: %w", err)
	}
	cont, ok := v.(opchain.Chain)
	if !ok {
		return nil, fmt.Errorf("stored continuation is %T", v)
	}
	return cont, nil
}

// Recover re-schedules timeouts for pending call records left in the
// store by an earlier process. Records whose deadlines have passed fire
// immediately. Call Recover after Start.
func (n *Node) Recover(ctx context.Context) error {
	keys, err := n.store.List(ctx, pendingPrefix)
	if err != nil {
		return fmt.Errorf("list pending calls: %w", err)
	}
	for _, key := range keys {
		raw, err := n.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue // consumed while listing
		} else if err != nil {
			return err
		}
		pc, err := decodePendingCall(raw)
		if err != nil {
			n.log.Warn("skipping invalid pending call record",
				zap.String("key", key), zap.Error(err))
			continue
		}
		n.metrics.callsPending.Add(1)
		if pc.Deadline != nil {
			n.scheduleTimeout(pc.OperationID, *pc.Deadline)
		}
	}
	if len(keys) > 0 {
		n.log.Info("recovered pending calls", zap.Int("count", len(keys)))
	}
	return nil
}

// Exec executes a chain locally against the named binding and instance,
// without any envelope traffic. Inbound call messages use the same path.
func (n *Node) Exec(ctx context.Context, binding, instance string, chain opchain.Chain) (any, error) {
	if err := opchain.Validate(chain, n.limits); err != nil {
		return nil, fmt.Errorf("invalid chain: %w", err)
	}
	target, err := n.instance(ctx, binding, instance)
	if err != nil {
		return nil, err
	}
	return execRecovered(ctx, chain, target, nil)
}

func (n *Node) instance(ctx context.Context, binding, name string) (any, error) {
	b, ok := n.bindings[binding]
	if !ok {
		return nil, fmt.Errorf("unknown binding %q", binding)
	}
	return b.Instance(ctx, name)
}

// execRecovered runs a chain, converting a panic in the target into an
// error so a misbehaving target cannot crash the message loop.
func execRecovered(ctx context.Context, chain opchain.Chain, target any, env opchain.Env) (_ any, err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = fmt.Errorf("target panicked (recovered): %v", x)
		}
	}()
	return opchain.Execute(ctx, chain, target, env)
}

// dispatch routes one inbound envelope. It runs on the node's service
// routine, so envelope handling is serialized.
func (n *Node) dispatch(env *Envelope) {
	switch {
	case env.Call != nil:
		n.handleCall(env.Call)
	case env.Result != nil:
		n.handleResult(env.Result)
	}
}

// handleCall executes an inbound chain and sends the outcome back to the
// origin node as a call result. Execution failures are captured as data,
// never thrown back through the delivery path; failure to deliver the
// result is logged and swallowed, the origin's timeout being the
// recovery path for that case.
func (n *Node) handleCall(msg *CallMessage) {
	ctx := context.Background()
	n.metrics.callsIn.Add(1)

	res := &CallResult{OperationID: msg.OperationID}
	out, err := n.execMessage(ctx, msg)
	if err != nil {
		n.metrics.callsInErr.Add(1)
		res.Error = serializeError(err)
	} else if recs, serr := codec.Serialize(out); serr != nil {
		n.metrics.callsInErr.Add(1)
		res.Error = serializeError(fmt.Errorf("unserializable result: %w", serr))
	} else {
		res.Result = recs
	}

	n.μ.Lock()
	tr := n.tr
	n.μ.Unlock()
	if tr == nil {
		return
	}
	if derr := tr.Deliver(ctx, msg.OriginID, &Envelope{Result: res}); derr != nil {
		n.metrics.resultSendErr.Add(1)
		n.log.Warn("result delivery failed",
			zap.String("op", string(msg.OperationID)),
			zap.String("origin", string(msg.OriginID)),
			zap.Error(derr))
	}
}

func (n *Node) execMessage(ctx context.Context, msg *CallMessage) (any, error) {
	v, err := codec.Deserialize(msg.OperationChain, codec.WithErrorRegistry(n.reg))
	if err != nil {
		return nil, fmt.Errorf("decode chain: %w", err)
	}
	chain, ok := v.(opchain.Chain)
	if !ok {
		return nil, fmt.Errorf("operation chain is %T", v)
	}
	return n.Exec(ctx, msg.TargetBinding, msg.TargetInstance, chain)
}

// serializeError encodes err as records, degrading to a generic encoding
// if the error itself resists serialization.
func serializeError(err error) codec.Records {
	recs, serr := codec.Serialize(err)
	if serr == nil {
		return recs
	}
	recs, serr = codec.Serialize(&codec.Error{Name: codec.ErrorName(err), Message: err.Error()})
	if serr != nil {
		panic(fmt.Errorf("serializing generic error: %w", serr))
	}
	return recs
}

// handleResult consumes an inbound call result. The pending record is
// claimed with an atomic take, so a result racing a cancellation or
// timeout settles to exactly one winner; a result whose record is gone is
// dropped with a warning, which makes duplicate and late deliveries safe.
func (n *Node) handleResult(res *CallResult) {
	ctx := context.Background()
	raw, err := n.store.Take(ctx, pendingKey(res.OperationID))
	if errors.Is(err, store.ErrNotFound) {
		n.metrics.resultsDropped.Add(1)
		n.log.Warn("dropping result with no pending call",
			zap.String("op", string(res.OperationID)))
		return
	} else if err != nil {
		n.log.Error("pending call lookup failed",
			zap.String("op", string(res.OperationID)), zap.Error(err))
		return
	}
	n.cancelAlarm(res.OperationID)
	n.metrics.resultsIn.Add(1)
	n.metrics.callsPending.Add(-1)

	pc, err := decodePendingCall(raw)
	if err != nil {
		n.log.Error("invalid pending call record",
			zap.String("op", string(res.OperationID)), zap.Error(err))
		return
	}

	var outcome any
	if res.Error != nil {
		outcome = n.decodeErrorOutcome(res.Error)
	} else {
		outcome, err = codec.Deserialize(res.Result, codec.WithErrorRegistry(n.reg))
		if err != nil {
			outcome = fmt.Errorf("decode result: %w", err)
		}
	}
	n.runContinuation(ctx, pc, outcome)
}

// decodeErrorOutcome reconstructs the error carried by a result. The
// continuation always observes a Go error value, even if decoding the
// records fails.
func (n *Node) decodeErrorOutcome(recs codec.Records) error {
	v, err := codec.Deserialize(recs, codec.WithErrorRegistry(n.reg))
	if err != nil {
		return fmt.Errorf("decode error result: %w", err)
	}
	if e, ok := v.(error); ok {
		return e
	}
	return &codec.Error{Name: "Error", Message: fmt.Sprint(v)}
}

// runContinuation executes a stored continuation with the settled outcome
// bound to the result ref marker. Continuations accept a result-or-error
// union: handlers branch on whether the bound value is an error.
func (n *Node) runContinuation(ctx context.Context, pc *pendingCall, outcome any) {
	if len(pc.Continuation) == 0 {
		return
	}
	v, err := codec.Deserialize(pc.Continuation, codec.WithErrorRegistry(n.reg))
	if err != nil {
		n.log.Error("decode continuation failed",
			zap.String("op", string(pc.OperationID)), zap.Error(err))
		return
	}
	cont, ok := v.(opchain.Chain)
	if !ok {
		n.log.Error("stored continuation is not a chain",
			zap.String("op", string(pc.OperationID)), zap.String("type", fmt.Sprintf("%T", v)))
		return
	}
	target, err := n.instance(ctx, pc.OriginBinding, pc.OriginInstance)
	if err != nil {
		n.log.Error("continuation target unavailable",
			zap.String("op", string(pc.OperationID)), zap.Error(err))
		return
	}
	if _, err := execRecovered(ctx, cont, target, opchain.Env{opchain.ResultRef: outcome}); err != nil {
		n.log.Error("continuation failed",
			zap.String("op", string(pc.OperationID)), zap.Error(err))
	}
}

// scheduleTimeout arranges for the call to time out at dl. The alarm
// callback re-enters through the service queue so timeout handling is
// serialized with envelope processing.
func (n *Node) scheduleTimeout(id OperationID, dl time.Time) {
	h := n.sched.Schedule(dl, func() {
		if !n.enqueue(func() { n.fireTimeout(id) }) {
			// Node stopped; the record stays for Recover.
			n.log.Debug("timeout fired on stopped node", zap.String("op", string(id)))
		}
	})
	n.μ.Lock()
	defer n.μ.Unlock()
	if n.alarms == nil {
		h.Cancel()
		return
	}
	n.alarms[id] = h
}

func (n *Node) cancelAlarm(id OperationID) {
	n.μ.Lock()
	h, ok := n.alarms[id]
	if ok {
		delete(n.alarms, id)
	}
	n.μ.Unlock()
	if ok {
		h.Cancel()
	}
}

// fireTimeout settles a timed-out call: if the take wins against a
// concurrent result or cancellation, the continuation runs with a
// synthetic *TimeoutError in place of the result and the record is gone.
func (n *Node) fireTimeout(id OperationID) {
	ctx := context.Background()
	raw, err := n.store.Take(ctx, pendingKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return // a result or cancellation won the race
	} else if err != nil {
		n.log.Error("pending call lookup failed",
			zap.String("op", string(id)), zap.Error(err))
		return
	}
	n.cancelAlarm(id)
	n.metrics.timeoutsFired.Add(1)
	n.metrics.callsPending.Add(-1)

	pc, err := decodePendingCall(raw)
	if err != nil {
		n.log.Error("invalid pending call record",
			zap.String("op", string(id)), zap.Error(err))
		return
	}
	n.log.Info("call timed out", zap.String("op", string(id)))
	n.runContinuation(ctx, pc, &TimeoutError{OperationID: id})
}
