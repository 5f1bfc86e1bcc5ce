package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitMeterProviderAndQueryMetrics(t *testing.T) {
	mp, err := InitMeterProvider(Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
	})
	require.NoError(t, err)
	require.NotNil(t, mp.exporter)

	metrics, err := InitQueryMetrics()
	require.NoError(t, err)
	require.NotNil(t, metrics.queryDuration)
	require.NotNil(t, metrics.pageRows)

	ctx := context.Background()
	metrics.RecordQuery(ctx, "users", 3*time.Millisecond, 10, 4, nil)
	metrics.RecordPage(ctx, "offset", 4)

	assert.NoError(t, mp.Shutdown(ctx, discardLogger()))
}

func TestNilQueryMetricsRecordsNothing(t *testing.T) {
	var metrics *QueryMetrics
	assert.NotPanics(t, func() {
		metrics.RecordQuery(context.Background(), "users", time.Millisecond, 1, 1, nil)
		metrics.RecordPage(context.Background(), "watermark", 0)
	})
}

func TestShutdownAllSkipsNilProviders(t *testing.T) {
	assert.NoError(t, ShutdownAll(context.Background(), discardLogger(), nil, nil, nil))
}

func TestParseOTLPProtocol(t *testing.T) {
	for input, want := range map[string]otlpProtocol{
		"":              protocolGRPC,
		"GRPC":          protocolGRPC,
		"http":          protocolHTTP,
		"http/protobuf": protocolHTTP,
	} {
		got, err := parseOTLPProtocol(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := parseOTLPProtocol("udp")
	assert.Error(t, err)
}

func TestExportSettingsOptions(t *testing.T) {
	s, err := newExportSettings(ExporterConfig{
		Endpoint:         "http://collector:4318",
		Protocol:         "http/protobuf",
		Insecure:         true,
		Headers:          map[string]string{"x-team": "data"},
		Timeout:          time.Second,
		Compression:      "gzip",
		RetryEnabled:     true,
		RetryMaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.Nil(t, s.tls)
	assert.True(t, s.endpointIsURL())
	assert.Len(t, s.traceHTTPOptions(), 6)
	assert.Len(t, s.logHTTPOptions(), 6)

	s, err = newExportSettings(ExporterConfig{Endpoint: "collector:4317"})
	require.NoError(t, err)
	require.NotNil(t, s.tls)
	assert.Len(t, s.traceGRPCOptions(), 2)
	assert.Len(t, s.logGRPCOptions(), 2)
}

func TestBuildTLSConfig_FileNotFound(t *testing.T) {
	_, err := buildTLSConfig(ExporterConfig{TLSCertFile: "/nonexistent/ca.pem"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")
}

func TestBuildTLSConfig_InvalidCertFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := newExportSettings(ExporterConfig{TLSCertFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
}

func TestTraceSamplerForRatio_Boundaries(t *testing.T) {
	never := traceSamplerForRatio(0)
	always := traceSamplerForRatio(1)

	decisionNever := never.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionNever)

	decisionAlways := always.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{2},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionAlways)
}

func TestTraceSamplerForRatio_ParentAwareMidRange(t *testing.T) {
	sampler := traceSamplerForRatio(0.5)

	parentNotSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{5},
		SpanID:  trace.SpanID{2},
		Remote:  true,
	}))
	decision := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentNotSampled,
		TraceID:       trace.TraceID{6},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decision)
}
