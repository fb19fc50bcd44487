package observability

import (
	"context"
	"testing"
	"time"
)

func TestInitTracer(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		addr        string
	}{
		{"unreachable collector", "rustci", "invalid-endpoint:9999"},
		{"local collector", "rustci-server", "localhost:4317"},
		{"empty service name", "", "localhost:4317"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The gRPC connection is lazy, so init succeeds without a collector.
			shutdown, err := InitTracer(context.Background(), tt.serviceName, tt.addr)
			if err != nil {
				t.Fatalf("InitTracer failed: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = shutdown(ctx)
		})
	}
}

func TestSetup_WithCollector(t *testing.T) {
	handler, shutdown, err := Setup(context.Background(), "rustci-test", "localhost:4317")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if handler == nil {
		t.Fatal("expected metrics handler")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Flushing to an absent collector may fail; it must not hang or panic.
	_ = shutdown(ctx)
}
