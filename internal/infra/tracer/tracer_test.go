package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkdesk/internal/infra/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupRejectsUnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter")
}

func TestSetupStdoutExporter(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
