package logger_test

import (
	"bytes"
	"testing"

	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "pipeline", "warn")

	log.Info("hidden")
	log.Warn("visible", "step", "extract")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "visible")
	require.Contains(t, out, "service=pipeline")
	require.Contains(t, out, "step=extract")
}

func TestOrDiscard(t *testing.T) {
	require.NotNil(t, logger.OrDiscard(nil))

	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "api", "debug")
	require.Same(t, log, logger.OrDiscard(log))
}
