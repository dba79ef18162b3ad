// Package metrics holds the Prometheus collectors for the workflow engine.
// They are registered on the default registry in init() and served at
// /metrics by the HTTP shell.
//
//   - tradeflow_session_transitions_total{from,to}
//   - tradeflow_risk_verdicts_total{result}
//   - tradeflow_risk_violations_total{rule}
//   - tradeflow_gate_attempts_total{classification,admitted}
//   - tradeflow_fill_results_total{state}
//   - tradeflow_fill_wait_seconds
//   - tradeflow_strategy_evictions_total{reason}
//   - tradeflow_venue_calls_total{op,result}
//   - tradeflow_venue_call_seconds{op}
//   - tradeflow_venue_circuit_state
//   - tradeflow_outcomes_total{operation,code}
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_session_transitions_total",
			Help: "Session phase transitions",
		},
		[]string{"from", "to"},
	)

	riskVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_risk_verdicts_total",
			Help: "Risk evaluations by result",
		},
		[]string{"result"},
	)

	riskViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_risk_violations_total",
			Help: "Violated risk rules",
		},
		[]string{"rule"},
	)

	gateAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_gate_attempts_total",
			Help: "Execution gate attempts split by classification and admission",
		},
		[]string{"classification", "admitted"},
	)

	fillResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_fill_results_total",
			Help: "Fill verification results",
		},
		[]string{"state"},
	)

	fillWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradeflow_fill_wait_seconds",
			Help:    "Time spent waiting for a terminal order status",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	strategyEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_strategy_evictions_total",
			Help: "Strategy artifacts removed from the cache",
		},
		[]string{"reason"},
	)

	venueCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_venue_calls_total",
			Help: "Venue calls by operation and result",
		},
		[]string{"op", "result"},
	)

	venueLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradeflow_venue_call_seconds",
			Help:    "Venue call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// 0 closed, 1 open, 2 half-open
	venueCircuit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeflow_venue_circuit_state",
			Help: "Venue circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)

	outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_outcomes_total",
			Help: "Engine operation outcomes by code",
		},
		[]string{"operation", "code"},
	)
)

func init() {
	prometheus.MustRegister(sessionTransitions, riskVerdicts, riskViolations)
	prometheus.MustRegister(gateAttempts, fillResults, fillWait)
	prometheus.MustRegister(strategyEvictions, venueCalls, venueLatency, venueCircuit)
	prometheus.MustRegister(outcomes)
}

func SessionTransition(from, to string) {
	sessionTransitions.WithLabelValues(from, to).Inc()
}

func RiskVerdict(approved bool, rules []string) {
	result := "approved"
	if !approved {
		result = "rejected"
	}
	riskVerdicts.WithLabelValues(result).Inc()
	for _, r := range rules {
		riskViolations.WithLabelValues(r).Inc()
	}
}

func GateAttempt(classification string, admitted bool) {
	gateAttempts.WithLabelValues(classification, strconv.FormatBool(admitted)).Inc()
}

func FillResult(state string, waited time.Duration) {
	fillResults.WithLabelValues(state).Inc()
	fillWait.Observe(waited.Seconds())
}

func StrategyEvicted(reason string, n int) {
	strategyEvictions.WithLabelValues(reason).Add(float64(n))
}

// VenueCall records one call; sentinel is matched to label rejections and
// fast failures separately from generic errors.
func VenueCall(op string, err error, elapsed time.Duration, rejected, unavailable error) {
	result := "ok"
	switch {
	case err == nil:
	case rejected != nil && errors.Is(err, rejected):
		result = "rejected"
	case unavailable != nil && errors.Is(err, unavailable):
		result = "unavailable"
	default:
		result = "error"
	}
	venueCalls.WithLabelValues(op, result).Inc()
	if elapsed > 0 {
		venueLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

func VenueCircuit(state int) {
	venueCircuit.Set(float64(state))
}

func Outcome(operation, code string) {
	outcomes.WithLabelValues(operation, code).Inc()
}
