package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/reviewd/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "disabled skips validation", mutate: func(c *Config) { c.Endpoint = "" }},
		{name: "enabled local", mutate: func(c *Config) { c.Enabled = true }},
		{
			name:    "insecure remote",
			mutate:  func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" },
			wantErr: "insecure connections",
		},
		{
			name:    "bad protocol",
			mutate:  func(c *Config) { c.Enabled = true; c.Protocol = "udp" },
			wantErr: "protocol must be",
		},
		{
			name:    "sample rate",
			mutate:  func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 },
			wantErr: "sample rate",
		},
		{
			name:   "loopback ip with port",
			mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "127.0.0.1:4317" },
		},
		{
			name:   "ipv6 loopback",
			mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromServiceConfig(t *testing.T) {
	cfg := FromServiceConfig(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "reviewd-ci",
		Endpoint:        "https://otel.example.com",
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "reviewd-ci", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.False(t, cfg.Insecure)
	assert.NoError(t, cfg.Validate())
}

func TestNew_DisabledIsHealthyNoop(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Healthy)
	assert.NotNil(t, tel.Tracer("reviewd"))
	assert.NotNil(t, tel.Meter("reviewd"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.True(t, tel.Health().Degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestRecorder_KeepsSpansAndMetrics(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()
	assert.True(t, rec.IsEnabled())

	_, span := rec.Tracer("reviewd").Start(ctx, "orchestrator.driveGate",
		oteltrace.WithAttributes(attribute.String("gate", "build")))
	span.End()
	counter, err := rec.Meter("reviewd").Int64Counter("reviewd.gate.results")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	assert.Equal(t, []string{"build"}, rec.GatesTraced("orchestrator.driveGate"))
	got := rec.RequireSpan(t, "orchestrator.driveGate")
	v, ok := Attr(got, "gate")
	require.True(t, ok)
	assert.Equal(t, "build", v.AsString())
	_, ok = Attr(got, "revision")
	assert.False(t, ok)

	rm, err := rec.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "reviewd.gate.results", rm.ScopeMetrics[0].Metrics[0].Name)
	require.NoError(t, rec.Shutdown(ctx))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("otel:4318"))
}
