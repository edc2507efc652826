//go:build !linux && !darwin && !freebsd

package disk

import "github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"

func usage(path string) (Usage, error) {
	return Usage{}, diskerrors.NewDiskNotAvailableError(path, "free space detection is available only on Linux, macOS and FreeBSD")
}
