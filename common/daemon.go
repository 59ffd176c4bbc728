package common

import (
	"fmt"
	"net/http"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/sdk/metric/aggregator/histogram"
	controller "go.opentelemetry.io/otel/sdk/metric/controller/basic"
	"go.opentelemetry.io/otel/sdk/metric/export/aggregation"
	processor "go.opentelemetry.io/otel/sdk/metric/processor/basic"
	selector "go.opentelemetry.io/otel/sdk/metric/selector/simple"
)

// SetupInstrumentation starts a metrics endpoint.
func SetupInstrumentation(prometheusAddr string) error {
	config := prometheus.Config{
		// Durations in millis, from local calls up to slow chain RPCs.
		DefaultHistogramBoundaries: []float64{1, 10, 100, 500, 1000, 5000, 10000},
	}
	c := controller.New(
		processor.NewFactory(
			selector.NewWithHistogramDistribution(
				histogram.WithExplicitBoundaries(config.DefaultHistogramBoundaries),
			),
			aggregation.CumulativeTemporalitySelector(),
			processor.WithMemory(true),
		),
	)
	exporter, err := prometheus.New(config, c)
	if err != nil {
		return fmt.Errorf("failed to initialize prometheus exporter %v", err)
	}
	global.SetMeterProvider(exporter.MeterProvider())
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", exporter.ServeHTTP)
	go func() {
		_ = http.ListenAndServe(prometheusAddr, mux)
	}()

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		return fmt.Errorf("starting Go runtime metrics: %s", err)
	}

	return nil
}

// HTTPLoggerMiddleware logs requests that end in a server error, and catches/recovers
// from panics.
func HTTPLoggerMiddleware(log *golog.ZapEventLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		// Recover from any panic caused by this request processing.
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("panic serving %s %s: %s", r.Method, r.URL.Path, rec)
				http.Error(sw, "internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(sw, r)
		if sw.status >= http.StatusInternalServerError {
			log.Errorf("%s %s returned %d in %s", r.Method, r.URL.Path, sw.status, time.Since(start))
			return
		}
		log.Debugf("%s %s returned %d in %s", r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
