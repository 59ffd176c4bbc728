package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// Prefix is the prefix of every bidsd metric.
const Prefix = "bidsd"

// Meter is the meter of bidsd components.
var Meter = metric.Must(global.Meter(Prefix))
