// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package chaincall

import "expvar"

// nodeMetrics record node activity counters.
type nodeMetrics struct {
	callsOut       expvar.Int // number of outbound calls enqueued
	callsOutErr    expvar.Int // number of outbound calls failing delivery
	callsIn        expvar.Int // number of inbound call messages executed
	callsInErr     expvar.Int // number of inbound call messages reporting an error
	resultsIn      expvar.Int // number of inbound call results consumed
	resultsDropped expvar.Int // number of inbound results with no pending record
	resultSendErr  expvar.Int // number of result deliveries that failed
	timeoutsFired  expvar.Int // number of pending calls ended by timeout
	cancels        expvar.Int // number of explicit cancellations
	callsPending   expvar.Int // gauge of calls awaiting a result

	emap *expvar.Map
}

func newNodeMetrics() *nodeMetrics {
	nm := &nodeMetrics{emap: new(expvar.Map)}
	nm.emap.Set("calls_out", &nm.callsOut)
	nm.emap.Set("calls_out_failed", &nm.callsOutErr)
	nm.emap.Set("calls_in", &nm.callsIn)
	nm.emap.Set("calls_in_failed", &nm.callsInErr)
	nm.emap.Set("results_in", &nm.resultsIn)
	nm.emap.Set("results_dropped", &nm.resultsDropped)
	nm.emap.Set("results_send_failed", &nm.resultSendErr)
	nm.emap.Set("timeouts_fired", &nm.timeoutsFired)
	nm.emap.Set("cancels", &nm.cancels)
	nm.emap.Set("calls_pending", &nm.callsPending)
	return nm
}
