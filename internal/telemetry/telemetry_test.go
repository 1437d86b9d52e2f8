package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestSetupDisabled(t *testing.T) {
	p, err := Setup(false, "", "test")
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupExportsSpansToFile(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	path := filepath.Join(t.TempDir(), "spans.json")
	p, err := Setup(true, path, "test")
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "tool.dispatch", attribute.String("tool.name", "fs.write"))
	EndSpan(span, errors.New("boom"))

	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, "tool.dispatch"))
	assert.True(t, strings.Contains(out, "fs.write"))
}
