package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
	"github.com/CZERTAINLY/diskbench-bridge/internal/store"

	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *store.History {
	t.Helper()
	h, err := store.Open(t.Context(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, h.Close())
	})
	return h
}

func TestHistory(t *testing.T) {
	t.Parallel()
	h := open(t)
	ctx := t.Context()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	first := model.RunRecord{
		RunID:      "r1",
		TestType:   "quick_max_mix",
		DiskPath:   "/Volumes/Fast",
		SizeGB:     10,
		Status:     model.StatusCompleted,
		StartedAt:  started,
		FinishedAt: &finished,
		Result:     model.BenchmarkResult{"success": true, "data": map[string]any{"answer": float64(42)}},
	}
	serr := diskerrors.NewFIOExecutionError("diskbench exited with code 1: boom", 1, "", "boom").Structured()
	second := model.RunRecord{
		RunID:     "r2",
		TestType:  "random_iops",
		DiskPath:  "/mnt/nvme",
		SizeGB:    1,
		Status:    model.StatusRunning,
		StartedAt: started.Add(time.Hour),
	}

	require.NoError(t, h.Save(ctx, first))
	require.NoError(t, h.Save(ctx, second))

	second.Status = model.StatusFailed
	second.Error = &serr
	require.NoError(t, h.Save(ctx, second))

	got, err := h.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, first.RunID, got.RunID)
	require.Equal(t, model.StatusCompleted, got.Status)
	require.True(t, got.FinishedAt.Equal(finished))
	require.Equal(t, float64(42), got.Result["data"].(map[string]any)["answer"])

	got, err = h.Get(ctx, "r2")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	require.Equal(t, "FIOExecutionError", got.Error.ErrorType)

	rows, err := h.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "r2", rows[0].RunID)
	require.Nil(t, rows[0].Success)
	require.Equal(t, "r1", rows[1].RunID)
	require.NotNil(t, rows[1].Success)
	require.True(t, *rows[1].Success)
	require.Contains(t, rows[1].String(), `run_id: "r1"`)

	rows, err = h.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, h.Delete(ctx, "r1"))
	_, err = h.Get(ctx, "r1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, h.Delete(ctx, "r1"), store.ErrNotFound)
}
