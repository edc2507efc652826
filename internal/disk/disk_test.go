package disk_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/CZERTAINLY/diskbench-bridge/internal/disk"
	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"

	"github.com/stretchr/testify/require"
)

type fixedProbe struct {
	usage disk.Usage
	err   error
}

func (p fixedProbe) Usage(path string) (disk.Usage, error) {
	u := p.usage
	u.Path = path
	return u, p.err
}

func TestCheckCapacity(t *testing.T) {
	t.Parallel()
	probe := fixedProbe{usage: disk.Usage{FreeBytes: 5 * disk.GB}}

	_, err := disk.CheckCapacity(probe, "/Volumes/Small", 4)
	require.NoError(t, err)

	_, err = disk.CheckCapacity(probe, "/Volumes/Small", 10)
	var spaceErr *diskerrors.InsufficientSpaceError
	require.ErrorAs(t, err, &spaceErr)
	require.Equal(t, 10.0, spaceErr.RequiredGB)
	require.Equal(t, 5.0, spaceErr.AvailableGB)
	require.Contains(t, spaceErr.Error(), "10.0")
	require.Contains(t, spaceErr.Error(), "5.0")

	failing := fixedProbe{err: diskerrors.NewDiskNotAvailableError("/x", "not mounted")}
	_, err = disk.CheckCapacity(failing, "/x", 1)
	var diskErr *diskerrors.DiskNotAvailableError
	require.ErrorAs(t, err, &diskErr)
}

func TestFSProbe(t *testing.T) {
	t.Parallel()
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skipf("free space detection not supported on %s", runtime.GOOS)
	}

	dir := t.TempDir()
	u, err := disk.FSProbe{}.Usage(dir)
	require.NoError(t, err)
	require.Greater(t, u.TotalBytes, uint64(0))
	require.LessOrEqual(t, u.FreeBytes, u.TotalBytes)

	t.Run("missing", func(t *testing.T) {
		_, err := disk.FSProbe{}.Usage(filepath.Join(dir, "does-not-exist"))
		var diskErr *diskerrors.DiskNotAvailableError
		require.ErrorAs(t, err, &diskErr)
		require.Contains(t, diskErr.Reason, "does not exist")
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		_, err := disk.FSProbe{}.Usage(path)
		var diskErr *diskerrors.DiskNotAvailableError
		require.ErrorAs(t, err, &diskErr)
		require.Equal(t, "not a directory", diskErr.Reason)
	})
}
