//go:build linux || darwin || freebsd

package disk

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
)

func usage(path string) (Usage, error) {
	if err := unix.Access(path, unix.W_OK); err != nil {
		reason := "not writable: " + err.Error()
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			reason = "permission denied"
		} else if errors.Is(err, unix.EROFS) {
			reason = "read-only filesystem"
		}
		return Usage{}, diskerrors.NewDiskNotAvailableError(path, reason)
	}

	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, diskerrors.NewDiskNotAvailableError(path, "statfs: "+err.Error())
	}
	bsize := uint64(st.Bsize)
	return Usage{
		Path:       path,
		TotalBytes: uint64(st.Blocks) * bsize,
		FreeBytes:  uint64(st.Bavail) * bsize,
	}, nil
}
