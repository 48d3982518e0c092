// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "code.hybscloud.com/lfc"

// Node outcomes reported on lfc_tree_nodes_total.
const (
	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// treeTelemetry holds the tracer and instruments of one CommandTree.
// Instruments are created on first use; if creation fails metrics are
// dropped and tracing continues.
type treeTelemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	executions metric.Int64Counter
	nodes      metric.Int64Counter
	duration   metric.Float64Histogram

	once sync.Once
	err  error
}

func newTreeTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *treeTelemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	return &treeTelemetry{
		tracer: tp.Tracer(instrumentationName),
		meter:  mp.Meter(instrumentationName),
	}
}

func (t *treeTelemetry) init() error {
	t.once.Do(func() {
		var err error

		t.executions, err = t.meter.Int64Counter(
			"lfc_tree_executions_total",
			metric.WithDescription("Total number of command tree executions"),
		)
		if err != nil {
			t.err = err
			return
		}

		t.nodes, err = t.meter.Int64Counter(
			"lfc_tree_nodes_total",
			metric.WithDescription("Total number of command tree nodes by outcome"),
		)
		if err != nil {
			t.err = err
			return
		}

		t.duration, err = t.meter.Float64Histogram(
			"lfc_tree_execution_duration_seconds",
			metric.WithDescription("Duration of command tree executions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			t.err = err
			return
		}
	})
	return t.err
}

// startExecution opens the span covering one ExecuteCommands call.
func (t *treeTelemetry) startExecution(id string, nodes, roots int) trace.Span {
	_, span := t.tracer.Start(context.Background(), "CommandTree.ExecuteCommands",
		trace.WithAttributes(
			attribute.String("lfc.execution_id", id),
			attribute.Int("lfc.nodes", nodes),
			attribute.Int("lfc.roots", roots),
		),
	)
	return span
}

// endExecution closes span and records the execution metrics.
func (t *treeTelemetry) endExecution(span trace.Span, d time.Duration, code uintptr, aborted bool) {
	status := "ok"
	switch {
	case aborted:
		status = "aborted"
		span.SetStatus(codes.Error, "execution aborted")
	case code != 0:
		status = "failed"
		span.SetAttributes(attribute.Int64("lfc.failure_code", int64(code)))
		span.SetStatus(codes.Error, "node failed")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if err := t.init(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	t.executions.Add(context.Background(), 1, attrs)
	t.duration.Record(context.Background(), d.Seconds(), attrs)
}

// recordNodes adds per-outcome node counts of one execution.
func (t *treeTelemetry) recordNodes(ok, failed, skipped int64) {
	if err := t.init(); err != nil {
		return
	}
	ctx := context.Background()
	for _, c := range [...]struct {
		outcome string
		n       int64
	}{{outcomeOK, ok}, {outcomeFailed, failed}, {outcomeSkipped, skipped}} {
		if c.n > 0 {
			t.nodes.Add(ctx, c.n, metric.WithAttributes(attribute.String("outcome", c.outcome)))
		}
	}
}
