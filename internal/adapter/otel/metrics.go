package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/router"
)

const meterName = "agentd"

// Metrics holds all agentd metric instruments.
type Metrics struct {
	MessagesQueued    metric.Int64Counter
	MessagesRejected  metric.Int64Counter
	MessagesDelivered metric.Int64Counter
	MessagesFailed    metric.Int64Counter
	DeliveryDuration  metric.Float64Histogram

	TasksStarted   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TaskAttempts   metric.Int64Histogram
	TaskDuration   metric.Float64Histogram
	TaskConfidence metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.GetMeterProvider())
}

// NewMetricsWith creates all metric instruments on mp.
func NewMetricsWith(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.MessagesQueued, err = meter.Int64Counter("agentd.router.messages.queued",
		metric.WithDescription("Messages accepted into a recipient queue")); err != nil {
		return nil, err
	}
	if m.MessagesRejected, err = meter.Int64Counter("agentd.router.messages.rejected",
		metric.WithDescription("Messages refused by the router")); err != nil {
		return nil, err
	}
	if m.MessagesDelivered, err = meter.Int64Counter("agentd.router.messages.delivered",
		metric.WithDescription("Messages handled successfully")); err != nil {
		return nil, err
	}
	if m.MessagesFailed, err = meter.Int64Counter("agentd.router.messages.failed",
		metric.WithDescription("Messages whose handler failed")); err != nil {
		return nil, err
	}
	if m.DeliveryDuration, err = meter.Float64Histogram("agentd.router.delivery.duration_seconds",
		metric.WithDescription("Handler duration in seconds")); err != nil {
		return nil, err
	}

	if m.TasksStarted, err = meter.Int64Counter("agentd.tasks.started",
		metric.WithDescription("Tasks entering the pipeline")); err != nil {
		return nil, err
	}
	if m.TasksCompleted, err = meter.Int64Counter("agentd.tasks.completed",
		metric.WithDescription("Tasks approved by review")); err != nil {
		return nil, err
	}
	if m.TasksFailed, err = meter.Int64Counter("agentd.tasks.failed",
		metric.WithDescription("Tasks that ended without approval")); err != nil {
		return nil, err
	}
	if m.TaskAttempts, err = meter.Int64Histogram("agentd.task.attempts",
		metric.WithDescription("Pipeline attempts per task")); err != nil {
		return nil, err
	}
	if m.TaskDuration, err = meter.Float64Histogram("agentd.task.duration_seconds",
		metric.WithDescription("Task processing time in seconds")); err != nil {
		return nil, err
	}
	if m.TaskConfidence, err = meter.Float64Histogram("agentd.task.confidence",
		metric.WithDescription("Review score of finished tasks")); err != nil {
		return nil, err
	}
	return m, nil
}

// Observe implements router.Observer.
func (m *Metrics) Observe(ev router.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("recipient", ev.Message.Recipient),
		attribute.String("message.type", string(ev.Message.Type)),
		attribute.String("priority", string(ev.Message.Priority)),
	)
	switch ev.Kind {
	case router.EventQueued:
		m.MessagesQueued.Add(ctx, 1, attrs)
	case router.EventRejected:
		m.MessagesRejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("recipient", ev.Message.Recipient),
			attribute.String("reason", ev.Reason),
		))
	case router.EventDelivered:
		m.MessagesDelivered.Add(ctx, 1, attrs)
		m.DeliveryDuration.Record(ctx, ev.Duration.Seconds(), attrs)
	case router.EventFailed:
		m.MessagesFailed.Add(ctx, 1, attrs)
		m.DeliveryDuration.Record(ctx, ev.Duration.Seconds(), attrs)
	}
}

// TaskStarted counts a task entering the pipeline.
func (m *Metrics) TaskStarted(ctx context.Context, agentID string) {
	m.TasksStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("agent.id", agentID)))
}

// TaskFinished records the outcome of a processed task.
func (m *Metrics) TaskFinished(ctx context.Context, agentID string, resp agent.Response, attempts int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("agent.id", agentID))
	if resp.Success {
		m.TasksCompleted.Add(ctx, 1, attrs)
	} else {
		m.TasksFailed.Add(ctx, 1, attrs)
	}
	m.TaskAttempts.Record(ctx, int64(attempts), attrs)
	m.TaskDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.TaskConfidence.Record(ctx, resp.Confidence, attrs)
}
