// Package disk inspects the target of a benchmark before a run is started.
package disk

import (
	"errors"
	"io/fs"
	"os"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
)

// GB is the unit of size_gb, decimal as reported by disk vendors.
const GB = 1e9

// Usage describes the filesystem the target path lives on.
type Usage struct {
	Path       string
	TotalBytes uint64
	FreeBytes  uint64 // available to an unprivileged user
}

func (u Usage) FreeGB() float64 {
	return float64(u.FreeBytes) / GB
}

// Probe checks the target path of a benchmark.
type Probe interface {
	Usage(path string) (Usage, error)
}

// FSProbe inspects the local filesystem.
type FSProbe struct{}

// Usage returns free space on path. It returns DiskNotAvailableError when
// path does not exist, is not a directory or is not writable.
func (FSProbe) Usage(path string) (Usage, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Usage{}, diskerrors.NewDiskNotAvailableError(path, "path does not exist or disk is not mounted")
	case errors.Is(err, fs.ErrPermission):
		return Usage{}, diskerrors.NewDiskNotAvailableError(path, "permission denied")
	case err != nil:
		return Usage{}, diskerrors.NewDiskNotAvailableError(path, err.Error())
	case !info.IsDir():
		return Usage{}, diskerrors.NewDiskNotAvailableError(path, "not a directory")
	}
	return usage(path)
}

// CheckCapacity fails with InsufficientSpaceError when sizeGB does not fit
// into the free space on path.
func CheckCapacity(p Probe, path string, sizeGB float64) (Usage, error) {
	u, err := p.Usage(path)
	if err != nil {
		return Usage{}, err
	}
	if free := u.FreeGB(); sizeGB > free {
		return u, diskerrors.NewInsufficientSpaceError(sizeGB, free, path)
	}
	return u, nil
}
