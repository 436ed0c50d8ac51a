// Package telemetry wires the engine's OpenTelemetry instruments: a
// periodic OTLP gRPC metrics exporter with a graceful no-op fallback
// when the collector is unreachable or telemetry is disabled, so the
// engine never blocks or fails an operation because a collector is
// down.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
)

// Instruments holds every counter/gauge the engine records. Each field
// is always non-nil: when the exporter cannot be built, Init falls back
// to a no-op meter provider whose instruments are safe to call.
type Instruments struct {
	EventsAppended   metric.Int64Counter
	CASObjectsTotal  metric.Int64UpDownCounter
	CASBytesTotal    metric.Int64UpDownCounter
	ReconstructHits  metric.Int64Counter
	ReconstructMiss  metric.Int64Counter
	SyncEventsSent   metric.Int64Counter
	SyncEventsRecv   metric.Int64Counter
	SyncConflicts    metric.Int64Counter
	MergeConflicts   metric.Int64Counter
}

// Handle bundles the instruments with a tracer and a shutdown hook.
type Handle struct {
	Meter    metric.Meter
	Tracer   trace.Tracer
	Inst     Instruments
	Shutdown func(context.Context) error
}

// Init brings up metrics (and, if enabled, traces) for the given
// service name. When enable is false it returns a fully functional
// no-op handle so callers never need a nil check.
func Init(ctx context.Context, service string, enable bool) *Handle {
	if !enable {
		return noopHandle(service)
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))

	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	mexp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("ewig: metrics exporter init failed, falling back to no-op", "error", err)
		return noopHandle(service)
	}
	reader := sdkmetric.NewPeriodicReader(mexp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	texp, err := otlptracegrpc.New(ctxInit,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()),
	)
	var tp *sdktrace.TracerProvider
	var tracer trace.Tracer
	if err != nil {
		slog.Warn("ewig: trace exporter init failed, tracing disabled", "error", err)
		tracer = tracenoop.NewTracerProvider().Tracer("ewig")
	} else {
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(texp), sdktrace.WithResource(res))
		tracer = tp.Tracer("ewig")
	}

	meter := mp.Meter("ewig")
	h := &Handle{
		Meter:  meter,
		Tracer: tracer,
		Inst:   buildInstruments(meter),
		Shutdown: func(ctx context.Context) error {
			if tp != nil {
				_ = tp.Shutdown(ctx)
			}
			return mp.Shutdown(ctx)
		},
	}
	slog.Info("ewig: telemetry initialized", "endpoint", endpoint)
	return h
}

func noopHandle(service string) *Handle {
	meter := otel.GetMeterProvider().Meter("ewig")
	return &Handle{
		Meter:    meter,
		Tracer:   tracenoop.NewTracerProvider().Tracer("ewig"),
		Inst:     buildInstruments(meter),
		Shutdown: func(context.Context) error { return nil },
	}
}

func buildInstruments(meter metric.Meter) Instruments {
	appended, _ := meter.Int64Counter("ewig_events_appended_total")
	casObjects, _ := meter.Int64UpDownCounter("ewig_cas_objects_total")
	casBytes, _ := meter.Int64UpDownCounter("ewig_cas_bytes_total")
	hits, _ := meter.Int64Counter("ewig_reconstruct_cache_hits_total")
	miss, _ := meter.Int64Counter("ewig_reconstruct_cache_misses_total")
	sent, _ := meter.Int64Counter("ewig_sync_events_sent_total")
	recv, _ := meter.Int64Counter("ewig_sync_events_received_total")
	syncConflicts, _ := meter.Int64Counter("ewig_sync_conflicts_total")
	mergeConflicts, _ := meter.Int64Counter("ewig_merge_conflicts_total")
	return Instruments{
		EventsAppended:  appended,
		CASObjectsTotal: casObjects,
		CASBytesTotal:   casBytes,
		ReconstructHits: hits,
		ReconstructMiss: miss,
		SyncEventsSent:  sent,
		SyncEventsRecv:  recv,
		SyncConflicts:   syncConflicts,
		MergeConflicts:  mergeConflicts,
	}
}
