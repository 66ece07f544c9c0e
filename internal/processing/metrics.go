package processing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type machineMetrics struct {
	transitions  metric.Int64Counter
	pollFailures metric.Int64Counter
	discarded    metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metricsOK   bool
	metrics     machineMetrics
)

func ensureMachineMetrics() bool {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/carebridge-hub/backend/processing")

		transitions, err := meter.Int64Counter(
			"handoff.processing.transitions",
			metric.WithDescription("Number of processing state transitions"),
		)
		if err != nil {
			return
		}
		pollFailures, err := meter.Int64Counter(
			"handoff.processing.poll.failures",
			metric.WithDescription("Number of failed status polls"),
		)
		if err != nil {
			return
		}
		discarded, err := meter.Int64Counter(
			"handoff.processing.results.discarded",
			metric.WithDescription("Number of poll or upload results dropped as stale"),
		)
		if err != nil {
			return
		}

		metrics = machineMetrics{
			transitions:  transitions,
			pollFailures: pollFailures,
			discarded:    discarded,
		}
		metricsOK = true
	})
	return metricsOK
}

func recordTransition(from, to State) {
	if !ensureMachineMetrics() {
		return
	}
	metrics.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func recordPollFailure() {
	if !ensureMachineMetrics() {
		return
	}
	metrics.pollFailures.Add(context.Background(), 1)
}

func recordDiscarded(source string) {
	if !ensureMachineMetrics() {
		return
	}
	metrics.discarded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source", source)))
}
