package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDebugLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{
		Level:  "debug",
		Pretty: false,
		Output: &buf,
	})

	logger.Trace().Msg("trace message")
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")

	output := buf.String()
	assert.NotContains(t, output, "trace message")
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "info message")
}

func TestNewUnknownLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{
		Level:  "loud",
		Pretty: false,
		Output: &buf,
	})

	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.Contains(t, output, "info message")
}

func TestNewDisabled(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{
		Level:  "disabled",
		Pretty: false,
		Output: &buf,
	})

	logger.Error().Msg("error message")

	assert.Empty(t, buf.String())
}

func TestNewPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{
		Level:  "info",
		Pretty: true,
		Output: &buf,
	})

	logger.Info().Str("pid", "42").Msg("attached")

	output := buf.String()
	assert.Contains(t, output, "attached")
	assert.Contains(t, output, "pid=")
	assert.NotContains(t, output, `"message"`)
}
