package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InitTracer initializes the global trace provider.
// It returns a shutdown function that should be called on app exit.
func InitTracer(ctx context.Context, serviceName, collectorAddr string) (func(context.Context) error, error) {
	// Create OTLP Exporter (connects to the collector via gRPC)
	exporter, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(collectorAddr),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)

	return tp.Shutdown, nil
}

// Setup initializes metrics and, when collectorAddr is set, tracing.
// The returned shutdown flushes both providers.
func Setup(ctx context.Context, serviceName, collectorAddr string) (http.Handler, func(context.Context) error, error) {
	handler, shutdownMetrics, err := InitMetrics(serviceName)
	if err != nil {
		return nil, nil, err
	}
	if collectorAddr == "" {
		return handler, shutdownMetrics, nil
	}

	shutdownTracer, err := InitTracer(ctx, serviceName, collectorAddr)
	if err != nil {
		shutdownMetrics(ctx)
		return nil, nil, err
	}
	return handler, func(ctx context.Context) error {
		return errors.Join(shutdownTracer(ctx), shutdownMetrics(ctx))
	}, nil
}
