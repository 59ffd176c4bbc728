package chainclient

import (
	"context"
	"time"

	"github.com/zer0-os/bids-core/cmd/bidsd/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metricsCollector interface {
	onCall(context.Context, string, time.Duration, error)
	onTokenCache(context.Context, bool)
}

type noopMetricsCollector struct{}

func (noopMetricsCollector) onCall(context.Context, string, time.Duration, error) {}
func (noopMetricsCollector) onTokenCache(context.Context, bool)                  {}

type otelMetricsCollector struct {
	metricCalls              metric.Int64Counter
	metricCallErrors         metric.Int64Counter
	metricCallDurationMillis metric.Int64Histogram
	metricTokenCache         metric.Int64Counter
}

func (c *otelMetricsCollector) onCall(ctx context.Context, method string, timeTaken time.Duration, err error) {
	label := attribute.String("method", method)
	c.metricCalls.Add(ctx, 1, label)
	c.metricCallDurationMillis.Record(ctx, timeTaken.Milliseconds(), label)
	if err != nil {
		c.metricCallErrors.Add(ctx, 1, label)
	}
}

func (c *otelMetricsCollector) onTokenCache(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.metricTokenCache.Add(ctx, 1, attribute.String("result", result))
}

func (c *Client) initMetrics() {
	c.metrics = &otelMetricsCollector{
		metricCalls:              metrics.Meter.NewInt64Counter(metrics.Prefix + ".chain_calls_total"),
		metricCallErrors:         metrics.Meter.NewInt64Counter(metrics.Prefix + ".chain_call_errors_total"),
		metricCallDurationMillis: metrics.Meter.NewInt64Histogram(metrics.Prefix + ".chain_call_duration_millis"),
		metricTokenCache:         metrics.Meter.NewInt64Counter(metrics.Prefix + ".payment_token_cache_total"),
	}
}
