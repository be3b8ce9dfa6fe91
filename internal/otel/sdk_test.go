package otel

import (
	"context"
	"errors"
	"testing"

	otelapi "go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestParseResourceAttributes(t *testing.T) {
	attrs := ParseResourceAttributes("env=dev, team = core ,invalid,=skip")
	if attrs["env"] != "dev" {
		t.Fatalf("expected env=dev, got %q", attrs["env"])
	}
	if attrs["team"] != "core" {
		t.Fatalf("expected team=core, got %q", attrs["team"])
	}
	if _, ok := attrs["invalid"]; ok {
		t.Fatalf("expected invalid attribute to be skipped")
	}
	if _, ok := attrs[""]; ok {
		t.Fatalf("expected empty key to be skipped")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:4318":  "127.0.0.1:4318",
		"https://localhost:4318": "localhost:4318",
		"127.0.0.1:4318/":        "127.0.0.1:4318",
		"":                       "",
	}
	for input, expected := range cases {
		if got := normalizeEndpoint(input); got != expected {
			t.Fatalf("normalizeEndpoint(%q) = %q, want %q", input, got, expected)
		}
	}
}

func TestSetupSDKDisabledIsNoop(t *testing.T) {
	shutdown, err := SetupSDK(context.Background(), SDKOptions{Enabled: false})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestStartSpanRecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otelapi.GetTracerProvider()
	otelapi.SetTracerProvider(provider)
	t.Cleanup(func() {
		otelapi.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	ctx, span := StartSpan(context.Background(), "dircache.enumerate")
	RecordSpanEvent(ctx, "batch")
	EndSpan(span, errors.New("boom"))

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Name() != "dircache.enumerate" {
		t.Fatalf("unexpected span name %q", ended[0].Name())
	}
	if len(ended[0].Events()) < 2 {
		t.Fatalf("expected batch and exception events, got %d", len(ended[0].Events()))
	}
}
