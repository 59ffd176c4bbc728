package notifier

import (
	"context"

	"github.com/zer0-os/bids-core/cmd/bidsd/metrics"
	"github.com/zer0-os/bids-core/msgbroker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metricsCollector interface {
	onPublish(context.Context, msgbroker.EventType, error)
	onDropped(context.Context, msgbroker.EventType)
}

type noopMetricsCollector struct{}

func (noopMetricsCollector) onPublish(context.Context, msgbroker.EventType, error) {}
func (noopMetricsCollector) onDropped(context.Context, msgbroker.EventType)        {}

type otelMetricsCollector struct {
	metricPublished     metric.Int64Counter
	metricPublishErrors metric.Int64Counter
	metricDropped       metric.Int64Counter
}

func (c *otelMetricsCollector) onPublish(ctx context.Context, et msgbroker.EventType, err error) {
	label := attribute.String("event", string(et))
	if err != nil {
		c.metricPublishErrors.Add(ctx, 1, label)
		return
	}
	c.metricPublished.Add(ctx, 1, label)
}

func (c *otelMetricsCollector) onDropped(ctx context.Context, et msgbroker.EventType) {
	c.metricDropped.Add(ctx, 1, attribute.String("event", string(et)))
}

func (n *Notifier) initMetrics() {
	n.metrics = &otelMetricsCollector{
		metricPublished:     metrics.Meter.NewInt64Counter(metrics.Prefix + ".notifications_published_total"),
		metricPublishErrors: metrics.Meter.NewInt64Counter(metrics.Prefix + ".notification_failures_total"),
		metricDropped:       metrics.Meter.NewInt64Counter(metrics.Prefix + ".notifications_dropped_total"),
	}
}
