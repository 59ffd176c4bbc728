package gpubsub

import (
	"context"
	"time"

	"github.com/zer0-os/bids-core/cmd/bidsd/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metricsCollector interface {
	onPublish(context.Context, string, error)
	onHandle(context.Context, string, time.Duration, error)
}

type noopMetricsCollector struct{}

func (noopMetricsCollector) onPublish(context.Context, string, error)                {}
func (noopMetricsCollector) onHandle(context.Context, string, time.Duration, error) {}

// otelMetricsCollector counts bid events crossing the broker. Every
// instrument is labeled by topic and outcome.
type otelMetricsCollector struct {
	metricPublished      metric.Int64Counter
	metricHandled        metric.Int64Counter
	metricHandleDuration metric.Int64Histogram
}

func (c *otelMetricsCollector) onPublish(ctx context.Context, topicName string, err error) {
	c.metricPublished.Add(ctx, 1, eventLabels(topicName, err)...)
}

func (c *otelMetricsCollector) onHandle(ctx context.Context, topicName string, took time.Duration, err error) {
	labels := eventLabels(topicName, err)
	c.metricHandled.Add(ctx, 1, labels...)
	c.metricHandleDuration.Record(ctx, took.Milliseconds(), labels...)
}

func eventLabels(topicName string, err error) []attribute.KeyValue {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	return []attribute.KeyValue{
		attribute.String("topic", topicName),
		attribute.String("outcome", outcome),
	}
}

func (p *PubsubMsgBroker) initMetrics() {
	p.metrics = &otelMetricsCollector{
		metricPublished:      metrics.Meter.NewInt64Counter(metrics.Prefix + ".msgbroker_published_events_total"),
		metricHandled:        metrics.Meter.NewInt64Counter(metrics.Prefix + ".msgbroker_handled_events_total"),
		metricHandleDuration: metrics.Meter.NewInt64Histogram(metrics.Prefix + ".msgbroker_handle_duration_millis"),
	}
}
