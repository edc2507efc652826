package bridge_test

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/CZERTAINLY/diskbench-bridge/internal/model"

	"github.com/stretchr/testify/require"
)

var (
	bridgePath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

// fakeDiskbench mimics the benchmark executable: logs on stderr, progress
// noise and the result object on stdout.
const fakeDiskbench = `#!/bin/sh
echo "diskbench: $*" >&2
echo "fio-3.36 starting"
case "$*" in
	*--test\ random_iops*)
		echo "fio: engine failed" >&2
		exit 2
		;;
esac
printf '{"success": true, "test_type": "%s", "data": {"answer": 42, "note": "{not a brace}"}}\n' "$2"
echo "done"
`

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("diskbench-bridge-ci") {
		slog.Error("cannot locate diskbench-bridge-ci binary: run go build -race -cover -covermode=atomic -o diskbench-bridge-ci ./cmd/diskbench-bridge/ first")
		os.Exit(1)
	}

	var err error
	bridgePath, err = filepath.Abs("diskbench-bridge-ci")
	if err != nil {
		slog.Error("can't get abspath for diskbench-bridge-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for diskbench-bridge-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for diskbench-bridge-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestRun(t *testing.T) {
	dir := tmpDir(t)
	setup(t, dir)

	stdout, stderr, err := bridge(t, dir, "run", "--type", "quick_max_speed", "--disk", dir, "--size", "0.001", "--quiet")
	if err != nil {
		t.Logf("%s", stderr)
		require.NoError(t, err)
	}

	var rec model.RunRecord
	require.NoError(t, json.Unmarshal(stdout, &rec))
	require.Equal(t, model.StatusCompleted, rec.Status)
	require.Equal(t, "quick_max_mix", rec.TestType)
	require.Equal(t, "quick_max_speed", rec.RequestedType)
	require.Equal(t, "quick_max_mix", rec.Result["test_type"])
	require.Equal(t, float64(42), rec.Result["data"].(map[string]any)["answer"])

	// result sink
	b, err := os.ReadFile(filepath.Join(dir, "results", "diskbench-"+rec.RunID+".json"))
	require.NoError(t, err)
	var published model.RunRecord
	require.NoError(t, json.Unmarshal(b, &published))
	require.Equal(t, rec.RunID, published.RunID)

	// history
	stdout, stderr, err = bridge(t, dir, "history")
	if err != nil {
		t.Logf("%s", stderr)
		require.NoError(t, err)
	}
	require.Contains(t, string(stdout), rec.RunID)
	require.Contains(t, string(stdout), "status: completed")
}

func TestRun_Failures(t *testing.T) {
	dir := tmpDir(t)
	setup(t, dir)

	t.Run("non zero exit", func(t *testing.T) {
		stdout, _, err := bridge(t, dir, "run", "--type", "random_4k", "--disk", dir, "--size", "0.001", "--quiet")
		require.Error(t, err)
		var rec model.RunRecord
		require.NoError(t, json.Unmarshal(stdout, &rec))
		require.Equal(t, model.StatusFailed, rec.Status)
		require.Equal(t, "FIOExecutionError", rec.Error.ErrorType)
		require.Contains(t, rec.Error.Message, "fio: engine failed")
	})

	t.Run("unknown type", func(t *testing.T) {
		stdout, _, err := bridge(t, dir, "run", "--type", "unknown_type", "--disk", dir, "--quiet")
		require.Error(t, err)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(stdout, &resp))
		require.Equal(t, false, resp["success"])
		require.Contains(t, resp["error"], "unknown_type")
	})

	t.Run("missing disk", func(t *testing.T) {
		stdout, _, err := bridge(t, dir, "run", "--disk", filepath.Join(dir, "missing"), "--quiet")
		require.Error(t, err)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(stdout, &resp))
		details := resp["error_details"].(map[string]any)
		require.Equal(t, "DiskNotAvailableError", details["error_type"])
	})
}

func setup(t *testing.T, dir string) {
	t.Helper()
	script := filepath.Join(dir, "diskbench")
	creat(t, script, []byte(fakeDiskbench))
	require.NoError(t, os.Chmod(script, 0o755))

	config := fmt.Sprintf(`
version: 0
executor:
    binary: %q
    timeout: PT30S
service:
    verbose: true
    log: %q
results:
    dir: %q
history:
    path: %q
`, script, filepath.Join(dir, "bridge.log"), filepath.Join(dir, "results"), filepath.Join(dir, "history.db"))
	creat(t, filepath.Join(dir, "diskbench-bridge.yaml"), []byte(config))
}

func bridge(t *testing.T, dir string, args ...string) ([]byte, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stdout, stderr bytes.Buffer
	args = append(args, "--config", filepath.Join(dir, "diskbench-bridge.yaml"))
	cmd := exec.CommandContext(ctx, bridgePath, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
