package bidmanager

import (
	"context"

	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/cmd/bidsd/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metricsCollector interface {
	onPlaced(context.Context)
	onPlaceRejected(context.Context, bids.Reason)
	onCancelled(context.Context)
	onCancelRejected(context.Context, bids.Reason)
}

type noopMetricsCollector struct{}

func (noopMetricsCollector) onPlaced(context.Context)                      {}
func (noopMetricsCollector) onPlaceRejected(context.Context, bids.Reason)  {}
func (noopMetricsCollector) onCancelled(context.Context)                   {}
func (noopMetricsCollector) onCancelRejected(context.Context, bids.Reason) {}

type otelMetricsCollector struct {
	metricPlaced         metric.Int64Counter
	metricPlaceRejected  metric.Int64Counter
	metricCancelled      metric.Int64Counter
	metricCancelRejected metric.Int64Counter
}

func (c *otelMetricsCollector) onPlaced(ctx context.Context) {
	c.metricPlaced.Add(ctx, 1)
}

func (c *otelMetricsCollector) onPlaceRejected(ctx context.Context, reason bids.Reason) {
	c.metricPlaceRejected.Add(ctx, 1, attribute.String("reason", string(reason)))
}

func (c *otelMetricsCollector) onCancelled(ctx context.Context) {
	c.metricCancelled.Add(ctx, 1)
}

func (c *otelMetricsCollector) onCancelRejected(ctx context.Context, reason bids.Reason) {
	if reason == bids.ReasonNone {
		return
	}
	c.metricCancelRejected.Add(ctx, 1, attribute.String("reason", string(reason)))
}

func (bm *BidManager) initMetrics() {
	bm.metrics = &otelMetricsCollector{
		metricPlaced:         metrics.Meter.NewInt64Counter(metrics.Prefix + ".bids_placed_total"),
		metricPlaceRejected:  metrics.Meter.NewInt64Counter(metrics.Prefix + ".bids_rejected_total"),
		metricCancelled:      metrics.Meter.NewInt64Counter(metrics.Prefix + ".bids_cancelled_total"),
		metricCancelRejected: metrics.Meter.NewInt64Counter(metrics.Prefix + ".cancels_rejected_total"),
	}
}
