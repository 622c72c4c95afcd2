package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opengs/ragchunk"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDeleter struct {
	calls     int
	olderThan time.Time
	err       error
}

func (d *recordingDeleter) DeleteStaleDocuments(ctx context.Context, olderThan time.Time) (int64, error) {
	d.calls++
	d.olderThan = olderThan
	return 3, d.err
}

func TestPruneStaleDocuments(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Disabled", func(t *testing.T) {
		deleter := &recordingDeleter{}
		pruned, err := pruneStaleDocuments(t.Context(), deleter, 0, now)
		require.NoError(t, err)
		assert.Zero(t, pruned)
		assert.Zero(t, deleter.calls)
	})

	t.Run("DeletesOlderThanDuration", func(t *testing.T) {
		deleter := &recordingDeleter{}
		pruned, err := pruneStaleDocuments(t.Context(), deleter, 2*time.Hour, now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), pruned)
		assert.Equal(t, 1, deleter.calls)
		assert.Equal(t, now.Add(-2*time.Hour), deleter.olderThan)
	})

	t.Run("Error", func(t *testing.T) {
		deleter := &recordingDeleter{err: errors.New("connection lost")}
		_, err := pruneStaleDocuments(t.Context(), deleter, time.Minute, now)
		assert.ErrorContains(t, err, "connection lost")
	})
}

func newFlagsCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", filepath.Join(t.TempDir(), "missing.yaml"), "")
	addChunkFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigStrategyFlag(t *testing.T) {
	t.Setenv("RAGCHUNK_CHUNK_STRATEGY", "")

	cfg, err := loadConfig(newFlagsCommand(t, "--strategy", "window", "--chunk-size", "32"))
	require.NoError(t, err)
	assert.Equal(t, ragchunk.StrategyWindow, cfg.Strategy())
	options, err := cfg.ChunkOptions()
	require.NoError(t, err)
	assert.Equal(t, 32, options.ChunkSize)

	_, err = loadConfig(newFlagsCommand(t, "--strategy", "semantic"))
	assert.ErrorIs(t, err, ragchunk.ErrUnknownStrategy)

	assert.Contains(t, newFlagsCommand(t).Flags().Lookup("strategy").Usage, "recursive, window")
}
