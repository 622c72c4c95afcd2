package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_ToCharmlogLevel(t *testing.T) {
	testCases := []struct {
		level    LogLevel
		expected charmlog.Level
	}{
		{DebugLevel, charmlog.DebugLevel},
		{InfoLevel, charmlog.InfoLevel},
		{WarnLevel, charmlog.WarnLevel},
		{ErrorLevel, charmlog.ErrorLevel},
		{"verbose", charmlog.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(string(tc.level), func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.level.ToCharmlogLevel())
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("Should filter messages below level", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: WarnLevel, Output: &buf})

		log.Info("hidden message")
		log.Warn("visible message", "key", "value")

		assert.NotContains(t, buf.String(), "hidden message")
		assert.Contains(t, buf.String(), "visible message")
		assert.Contains(t, buf.String(), "key=value")
	})

	t.Run("Should write JSON when configured", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: DebugLevel, Output: &buf, JSON: true})

		log.With("document", "a.txt").Debug("chunked", "chunks", 3)

		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
		assert.Equal(t, "chunked", entry["msg"])
		assert.Equal(t, "a.txt", entry["document"])
		assert.EqualValues(t, 3, entry["chunks"])
	})

	t.Run("Should use default config when nil", func(t *testing.T) {
		assert.NotNil(t, NewLogger(nil))
	})
}

func TestDiscard(t *testing.T) {
	log := Discard()
	log.Error("nothing happens")
	log.With("a", 1).Info("still nothing")
}

func TestFromFlags(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{Use: "test"}
	cmd.SetErr(&buf)
	AddFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "debug", "--log-json"}))

	log, err := FromFlags(cmd)
	require.NoError(t, err)
	log.Debug("from flags")

	assert.Contains(t, buf.String(), `"msg":"from flags"`)
}
