package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Level{
		"quiet":   log.PanicLevel,
		"ERROR":   log.ErrorLevel,
		"warning": log.WarnLevel,
		"info":    log.InfoLevel,
		"debug":   log.DebugLevel,
		"all":     log.TraceLevel,
		"0":       log.PanicLevel,
		"2":       log.WarnLevel,
		"5":       log.TraceLevel,
		"6":       log.TraceLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"loud", "7", "-1", ""} {
		_, err := ParseLevel(in)
		assert.ErrorIs(t, err, ErrInvalidLevel, in)
	}
}

func TestSetupFile(t *testing.T) {
	defer log.SetOutput(os.Stderr)

	file := filepath.Join(t.TempDir(), "ledctl.log")
	closer, err := Setup("info", file)
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestSetupBadFile(t *testing.T) {
	_, err := Setup("info", filepath.Join(t.TempDir(), "missing", "ledctl.log"))
	assert.ErrorIs(t, err, ErrLogFile)

	_, err = Setup("shout", "")
	assert.ErrorIs(t, err, ErrInvalidLevel)
}
