package service_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
	"github.com/CZERTAINLY/diskbench-bridge/internal/service"

	"github.com/stretchr/testify/require"
)

func TestScheduler(t *testing.T) {
	t.Parallel()
	runner := &stubRunner{out: service.Output{Stdout: `{"success": true}`}}
	var n atomic.Int64
	o := newOrchestrator(t, runner).WithIDs(func() string {
		return "sched-" + strconv.FormatInt(n.Add(1), 10)
	})

	sched, err := service.NewScheduler(t.Context(), &model.Schedule{
		Duration: "PT0.05S",
		Request: model.Request{
			TestType: "quick_max_mix",
			DiskPath: "/Volumes/Fast",
			SizeGB:   1,
		},
	}, o)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	var wg sync.WaitGroup
	wg.Go(func() {
		require.NoError(t, sched.Do(ctx))
	})

	require.Eventually(t, func() bool {
		return len(runner.commands()) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()

	for _, rec := range o.Runs() {
		_, err := o.Wait(t.Context(), rec.RunID)
		require.NoError(t, err)
	}
	cmd := runner.commands()[0]
	require.Contains(t, cmd.Args, "quick_max_mix")
	require.Contains(t, cmd.Args, "/Volumes/Fast")
}

func TestNewScheduler_Fail(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, &stubRunner{})

	var testCases = []struct {
		scenario string
		given    *model.Schedule
	}{
		{"nil", nil},
		{"empty", &model.Schedule{}},
		{"bad cron", &model.Schedule{Cron: "* * 32 * *"}},
		{"bad duration", &model.Schedule{Duration: "5m"}},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := service.NewScheduler(t.Context(), tc.given, o)
			require.Error(t, err)
		})
	}
}
