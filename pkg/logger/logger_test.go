package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelParsing(t *testing.T) {
	l, err := New(Config{Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, l.GetLevel())

	l, err = New(Config{})
	require.NoError(t, err, "empty level defaults to info")
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())

	l, err = New(Config{Level: " WARN "})
	require.NoError(t, err, "level names are case-insensitive and trimmed")
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verbose")
}

func TestDefault_IsInfoLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, Default().GetLevel())
}
