package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"defaults", &Config{}, false},
		{"nil config", nil, false},
		{"debug json", &Config{Level: "debug", Format: "json"}, false},
		{"console", &Config{Level: "warn", Format: "console"}, false},
		{"bad level", &Config{Level: "verbose"}, true},
		{"bad format", &Config{Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ContextFields(ctx))

	ctx = WithFields(ctx, zap.String("tenant_id", "acme"))
	ctx = WithFields(ctx, zap.String("request_id", "req-1"))

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "tenant_id", fields[0].Key)
	assert.Equal(t, "request_id", fields[1].Key)
}

func TestContextFieldsNilContext(t *testing.T) {
	assert.Nil(t, ContextFields(nil)) //nolint:staticcheck // exercising nil safety
}

func TestNamedAndWith(t *testing.T) {
	logger := NewNop()
	child := logger.Named("orchestrator").With(zap.String("route", "casual"))
	require.NotNil(t, child)
	// Must not panic with context fields present.
	ctx := WithFields(context.Background(), zap.String("request_id", "r"))
	child.Info(ctx, "hello")
}
