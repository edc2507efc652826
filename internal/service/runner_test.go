package service_test

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
	"github.com/CZERTAINLY/diskbench-bridge/internal/service"

	"github.com/stretchr/testify/require"
)

func lookSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func TestRunner(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	runner := service.NewRunner()

	t.Run("success", func(t *testing.T) {
		var started bool
		out, err := runner.Run(t.Context(), service.Command{
			Path:    sh,
			Args:    []string{"-c", `echo "progress"; echo '{"success": true}'; echo "$DISKBENCH_TEST_VAR" 1>&2`},
			Env:     []string{"DISKBENCH_TEST_VAR=golang"},
			Timeout: 5 * time.Second,
			OnStart: func() { started = true },
		})
		require.NoError(t, err)
		require.True(t, started)
		require.Equal(t, 0, out.ReturnCode)
		require.Equal(t, "progress\n{\"success\": true}\n", out.Stdout)
		require.Equal(t, "golang\n", out.Stderr)
		require.False(t, out.Started.IsZero())
		require.False(t, out.Stopped.Before(out.Started))
	})

	t.Run("non zero exit", func(t *testing.T) {
		out, err := runner.Run(t.Context(), service.Command{
			Path:    sh,
			Args:    []string{"-c", "echo 'something went wrong' 1>&2; exit 3"},
			Timeout: 5 * time.Second,
		})
		require.NoError(t, err)
		require.Equal(t, 3, out.ReturnCode)
		require.Equal(t, "something went wrong\n", out.Stderr)
	})

	t.Run("timeout", func(t *testing.T) {
		out, err := runner.Run(t.Context(), service.Command{
			Path:    sh,
			Args:    []string{"-c", "echo partial; exec sleep 5"},
			Timeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		var fioErr *diskerrors.FIOExecutionError
		require.ErrorAs(t, err, &fioErr)
		require.True(t, fioErr.TimedOut)
		require.Equal(t, true, fioErr.Structured().Context["timed_out"])
		require.Less(t, out.Stopped.Sub(out.Started), 5*time.Second)
	})

	t.Run("exec error", func(t *testing.T) {
		var started bool
		_, err := runner.Run(t.Context(), service.Command{
			Path:    "does not exist",
			OnStart: func() { started = true },
		})
		require.Error(t, err)
		require.False(t, started)
		var fioErr *diskerrors.FIOExecutionError
		require.ErrorAs(t, err, &fioErr)
		require.False(t, fioErr.TimedOut)
		require.Equal(t, -1, fioErr.ReturnCode)
		require.Contains(t, fioErr.Error(), "does not exist")
	})
}

func TestStderr(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)

	var mx sync.Mutex
	var stderr []string
	handle := func(_ context.Context, line string) {
		mx.Lock()
		defer mx.Unlock()
		stderr = append(stderr, line)
	}

	out, err := service.NewRunner().Run(t.Context(), service.Command{
		Path:    sh,
		Args:    []string{"-c", "echo stdout; printf 'stderr\\nstderr\\nlast' 1>&2"},
		Timeout: 5 * time.Second,
		Stderr:  handle,
	})
	require.NoError(t, err)
	require.Equal(t, "stdout\n", out.Stdout)
	require.Equal(t, "stderr\nstderr\nlast", out.Stderr)
	require.Equal(t, []string{"stderr", "stderr", "last"}, stderr)
}
