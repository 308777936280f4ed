package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "warn", "json")
	require.NoError(t, err)

	log.Info().Msg("dropped")
	log.Warn().Str("component", "chatlist").Msg("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"component":"chatlist"`)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("info", "xml")
	assert.Error(t, err)

	_, err = New("loud", "json")
	assert.Error(t, err)
}
