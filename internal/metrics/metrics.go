// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Forge's operational counters as Prometheus
// metrics, grounded on the teacher's internal/tracing.NewOTelProvider /
// MetricsCollector: an OTel MeterProvider backed by the
// go.opentelemetry.io/otel/exporters/prometheus bridge exporter, served
// through a client_golang promhttp handler rather than hand-rolled
// collectors. Unlike the teacher, which exports through the
// client_golang default registry, each Collector here owns its own
// prometheus.Registry so more than one can coexist in a process. Where
// the teacher's collector tracks LLM-run concerns (tokens, cost, run
// duration), Collector tracks Forge's: ingress events, workflow runs and
// steps, validations, and rate-limit rejections.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/forgecd/forge/internal/eventbus"
)

// Collector records Forge's domain metrics and exposes them over HTTP in
// Prometheus exposition format.
type Collector struct {
	mp  *sdkmetric.MeterProvider
	reg *promclient.Registry
	exp *prometheus.Exporter

	eventsIngestedTotal  metric.Int64Counter
	eventsProcessedTotal metric.Int64Counter
	workflowsTotal       metric.Int64Counter
	workflowStepsTotal   metric.Int64Counter
	workflowDuration     metric.Float64Histogram
	validationsTotal     metric.Int64Counter
	validationDuration   metric.Float64Histogram
	rateLimitRejections  metric.Int64Counter
}

// New builds a Collector reporting under serviceName/version, mirroring
// the teacher's NewOTelProvider resource + Prometheus-bridge setup.
func New(serviceName, serviceVersion string) (*Collector, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	// A dedicated registry, rather than the client_golang default, so
	// that more than one Collector (as in this package's own tests) can
	// coexist in one process without colliding on metric names.
	reg := promclient.NewRegistry()
	exp, err := prometheus.New(prometheus.WithRegisterer(reg), prometheus.WithoutScopeInfo())
	if err != nil {
		return nil, fmt.Errorf("build prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	meter := mp.Meter("forge")

	c := &Collector{mp: mp, reg: reg, exp: exp}

	if c.eventsIngestedTotal, err = meter.Int64Counter(
		"forge_events_ingested_total",
		metric.WithDescription("Webhook events accepted by the ingress layer"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if c.eventsProcessedTotal, err = meter.Int64Counter(
		"forge_events_processed_total",
		metric.WithDescription("Events reaching a terminal processing status"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if c.workflowsTotal, err = meter.Int64Counter(
		"forge_workflows_total",
		metric.WithDescription("Workflow runs reaching a terminal status"),
		metric.WithUnit("{workflow}"),
	); err != nil {
		return nil, err
	}
	if c.workflowStepsTotal, err = meter.Int64Counter(
		"forge_workflow_steps_total",
		metric.WithDescription("Workflow steps completed or failed"),
		metric.WithUnit("{step}"),
	); err != nil {
		return nil, err
	}
	if c.workflowDuration, err = meter.Float64Histogram(
		"forge_workflow_duration_seconds",
		metric.WithDescription("Workflow run duration from creation to terminal status"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if c.validationsTotal, err = meter.Int64Counter(
		"forge_validations_total",
		metric.WithDescription("Validation runs reaching a terminal status"),
		metric.WithUnit("{validation}"),
	); err != nil {
		return nil, err
	}
	if c.validationDuration, err = meter.Float64Histogram(
		"forge_validation_duration_seconds",
		metric.WithDescription("Validation run duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if c.rateLimitRejections, err = meter.Int64Counter(
		"forge_rate_limit_rejections_total",
		metric.WithDescription("Requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

// Gauges registers observable gauges backed by live counts pulled from
// other subsystems at scrape time, rather than tracked internally -
// avoiding a second source of truth for numbers those subsystems already
// hold (spec.md §9's "no duplicated state" design note).
func (c *Collector) Gauges(activeWorkflows, activeValidations func() int) error {
	meter := c.mp.Meter("forge")
	if _, err := meter.Int64ObservableGauge(
		"forge_active_workflows",
		metric.WithDescription("Workflows currently running"),
		metric.WithUnit("{workflow}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if activeWorkflows != nil {
				o.Observe(int64(activeWorkflows()))
			}
			return nil
		}),
	); err != nil {
		return err
	}
	if _, err := meter.Int64ObservableGauge(
		"forge_active_validations",
		metric.WithDescription("Validations currently running"),
		metric.WithUnit("{validation}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if activeValidations != nil {
				o.Observe(int64(activeValidations()))
			}
			return nil
		}),
	); err != nil {
		return err
	}
	return nil
}

// Handler returns the Prometheus scrape endpoint for this Collector's
// own registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Shutdown releases the meter provider's resources.
func (c *Collector) Shutdown(ctx context.Context) error {
	return c.mp.Shutdown(ctx)
}

// RecordEventIngested records one webhook event accepted by the ingress
// layer.
func (c *Collector) RecordEventIngested(ctx context.Context, source, eventType string) {
	c.eventsIngestedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("type", eventType),
	))
}

// RecordEventProcessed records one event reaching a terminal status.
func (c *Collector) RecordEventProcessed(ctx context.Context, source, status string) {
	c.eventsProcessedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	))
}

// RecordWorkflow records one workflow run reaching a terminal status.
func (c *Collector) RecordWorkflow(ctx context.Context, kind, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("status", status))
	c.workflowsTotal.Add(ctx, 1, attrs)
	c.workflowDuration.Record(ctx, durationSeconds, attrs)
}

// RecordWorkflowStep records one workflow step's completion or failure.
func (c *Collector) RecordWorkflowStep(ctx context.Context, step, status string) {
	c.workflowStepsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("status", status),
	))
}

// RecordValidation records one validation run reaching a terminal
// status.
func (c *Collector) RecordValidation(ctx context.Context, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	c.validationsTotal.Add(ctx, 1, attrs)
	c.validationDuration.Record(ctx, durationSeconds, attrs)
}

// RecordRateLimitRejection records one rate-limit rejection for tier.
func (c *Collector) RecordRateLimitRejection(ctx context.Context, tier string) {
	c.rateLimitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// terminalWorkflowEvents and terminalValidationEvents are the eventbus
// event types Subscribe listens for - the bus has no wildcard
// subscription, so each concrete type is named explicitly.
var terminalWorkflowEvents = []string{"workflow.completed", "workflow.failed", "workflow.cancelled"}

var stepEvents = []string{"workflow.step.completed", "workflow.step.failed"}

var terminalValidationEvents = []string{
	"validation.finished", "validation.failed", "validation.cancelled",
}

// Subscribe wires Collector to bus, recording workflow and validation
// metrics as their lifecycle events are published - keeping
// internal/workflow and internal/validation free of any metrics
// import, per spec.md §9's event-bus-first integration style.
func (c *Collector) Subscribe(bus *eventbus.Bus) error {
	for _, t := range terminalWorkflowEvents {
		status := t[len("workflow."):]
		if _, err := bus.Subscribe(t, c.onWorkflowTerminal(status), eventbus.SubscribeOptions{}); err != nil {
			return err
		}
	}
	for _, t := range stepEvents {
		status := t[len("workflow.step."):]
		if _, err := bus.Subscribe(t, c.onWorkflowStep(status), eventbus.SubscribeOptions{}); err != nil {
			return err
		}
	}
	for _, t := range terminalValidationEvents {
		status := t[len("validation."):]
		if _, err := bus.Subscribe(t, c.onValidationTerminal(status), eventbus.SubscribeOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) onWorkflowTerminal(status string) eventbus.Listener {
	return func(ctx context.Context, ev eventbus.Event) error {
		kind, _ := ev.Data["kind"].(string)
		if kind == "" {
			kind = "unknown"
		}
		c.RecordWorkflow(ctx, kind, status, 0)
		return nil
	}
}

func (c *Collector) onWorkflowStep(status string) eventbus.Listener {
	return func(ctx context.Context, ev eventbus.Event) error {
		step, _ := ev.Data["step"].(string)
		c.RecordWorkflowStep(ctx, step, status)
		return nil
	}
}

func (c *Collector) onValidationTerminal(status string) eventbus.Listener {
	return func(ctx context.Context, ev eventbus.Event) error {
		c.RecordValidation(ctx, status, 0)
		return nil
	}
}
