package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetGlobalConfig() {
	globalConfig = nil
	configOnce = sync.Once{}
}

func TestInit_Disabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	resetGlobalConfig()
	t.Cleanup(resetGlobalConfig)

	shutdown, err := Init(context.Background())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.False(t, Enabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, k := range []string{
			"OTEL_ENABLED", "OTEL_SERVICE_NAME", "OTEL_SERVICE_VERSION",
			"OTEL_EXPORTER_OTLP_PROTOCOL", "OTEL_EXPORTER_OTLP_HEADERS",
		} {
			t.Setenv(k, "")
		}

		cfg := LoadFromEnv()
		assert.False(t, cfg.Enabled)
		assert.Equal(t, "heapshot", cfg.ServiceName)
		assert.Equal(t, "unknown", cfg.ServiceVersion)
		assert.Equal(t, "grpc", cfg.Protocol)
		assert.Empty(t, cfg.Headers)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("OTEL_ENABLED", "TRUE")
		t.Setenv("OTEL_SERVICE_NAME", "heapshot-ci")
		t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "Authorization=Bearer a=b, x-team=runtime")
		t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

		cfg := LoadFromEnv()
		assert.True(t, cfg.Enabled)
		assert.True(t, cfg.Insecure)
		assert.Equal(t, "heapshot-ci", cfg.ServiceName)
		assert.Equal(t, map[string]string{
			"Authorization": "Bearer a=b",
			"x-team":        "runtime",
		}, cfg.Headers)
	})
}

func TestParseKeyValuePairs(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{"", map[string]string{}},
		{"a=1", map[string]string{"a": "1"}},
		{" a = 1 ,b=2,", map[string]string{"a": "1", "b": "2"}},
		{"noequals,=novalue,c=", map[string]string{"c": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseKeyValuePairs(tt.in))
		})
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in        string
		host      string
		plaintext bool
	}{
		{"", "", false},
		{"collector:4317", "collector:4317", false},
		{"http://collector:4318", "collector:4318", true},
		{"https://collector:4318", "collector:4318", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, plaintext := splitEndpoint(tt.in)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.plaintext, plaintext)
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name string
		arg  string
		desc string
	}{
		{"", "", "AlwaysOnSampler"},
		{"always_on", "", "AlwaysOnSampler"},
		{"always_off", "", "AlwaysOffSampler"},
		{"traceidratio", "0.25", "TraceIDRatioBased{0.25}"},
		{"traceidratio", "bogus", "AlwaysOnSampler"},
		{"parentbased_always_off", "", "ParentBased{root:AlwaysOffSampler,remoteParentSampled:AlwaysOnSampler,remoteParentNotSampled:AlwaysOffSampler,localParentSampled:AlwaysOnSampler,localParentNotSampled:AlwaysOffSampler}"},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.arg, func(t *testing.T) {
			assert.Equal(t, tt.desc, newSampler(tt.name, tt.arg).Description())
		})
	}
}

func TestParseRatio(t *testing.T) {
	assert.Equal(t, 1.0, parseRatio(""))
	assert.Equal(t, 1.0, parseRatio("x"))
	assert.Equal(t, 0.0, parseRatio("-0.5"))
	assert.Equal(t, 1.0, parseRatio("3"))
	assert.Equal(t, 0.1, parseRatio("0.1"))
}

func TestBuildResource(t *testing.T) {
	cfg := &Config{
		ServiceName:    "heapshot",
		ServiceVersion: "1.2.3",
		ResourceAttrs:  map[string]string{"deployment.environment": "ci"},
	}

	res := buildResource(cfg)

	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "heapshot", got["service.name"])
	assert.Equal(t, "1.2.3", got["service.version"])
	assert.Equal(t, "ci", got["deployment.environment"])
}
