// Package testtype maps test type identifiers sent by control surfaces onto
// the canonical benchmark types understood by the diskbench executable.
//
// Older UIs send legacy identifiers. They are translated through a fixed
// alias table; matching is exact and case-sensitive so an unknown identifier
// is rejected instead of being routed to some other benchmark profile.
package testtype

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
)

// Workload drives the synthetic metrics shown during a phase.
type Workload string

const (
	WorkloadSeqWrite Workload = "seq_write"
	WorkloadSeqRead  Workload = "seq_read"
	WorkloadMixed    Workload = "mixed"
	WorkloadRandom   Workload = "random"
	WorkloadIdle     Workload = "idle"
)

type Phase struct {
	Name      string
	DurationS float64
	Workload  Workload
}

// Profile is a canonical benchmark type.
type Profile struct {
	ID          string
	DisplayName string
	Description string
	Phases      []Phase
	MaxSizeGB   float64
}

// DurationS is the expected wall clock duration of the profile.
func (p Profile) DurationS() float64 {
	var total float64
	for _, ph := range p.Phases {
		total += ph.DurationS
	}
	return total
}

// PhaseAt returns the phase running elapsedS seconds after start and the
// seconds elapsed within it. After the last phase, the last one is returned.
func (p Profile) PhaseAt(elapsedS float64) (Phase, float64) {
	if len(p.Phases) == 0 {
		return Phase{Name: p.DisplayName, Workload: WorkloadMixed}, elapsedS
	}
	offset := max(elapsedS, 0)
	for _, ph := range p.Phases {
		if offset < ph.DurationS {
			return ph, offset
		}
		offset -= ph.DurationS
	}
	last := p.Phases[len(p.Phases)-1]
	return last, last.DurationS + offset
}

var profiles = map[string]Profile{
	"quick_max_mix": {
		ID:          "quick_max_mix",
		DisplayName: "Quick Max Speed Test",
		Description: "Short sequential read and write bursts measuring peak throughput",
		MaxSizeGB:   100,
		Phases: []Phase{
			{Name: "Preparing test file", DurationS: 10, Workload: WorkloadSeqWrite},
			{Name: "Sequential write", DurationS: 20, Workload: WorkloadSeqWrite},
			{Name: "Sequential read", DurationS: 20, Workload: WorkloadSeqRead},
			{Name: "Mixed read/write", DurationS: 10, Workload: WorkloadMixed},
		},
	},
	"pro_video_mix": {
		ID:          "pro_video_mix",
		DisplayName: "Professional Video Workflow",
		Description: "Multi-stream reads and writes mimicking video editing and export",
		MaxSizeGB:   500,
		Phases: []Phase{
			{Name: "Preparing media files", DurationS: 60, Workload: WorkloadSeqWrite},
			{Name: "Multi-stream playback", DurationS: 300, Workload: WorkloadSeqRead},
			{Name: "Scrubbing", DurationS: 180, Workload: WorkloadRandom},
			{Name: "Export", DurationS: 360, Workload: WorkloadSeqWrite},
		},
	},
	"sustained_write": {
		ID:          "sustained_write",
		DisplayName: "Sustained Write (QLC cache exhaustion)",
		Description: "Long sequential write revealing SLC cache exhaustion and recovery",
		MaxSizeGB:   2000,
		Phases: []Phase{
			{Name: "Peak write", DurationS: 60, Workload: WorkloadSeqWrite},
			{Name: "Cache saturation", DurationS: 300, Workload: WorkloadSeqWrite},
			{Name: "Post-cache sustained write", DurationS: 840, Workload: WorkloadSeqWrite},
			{Name: "Recovery", DurationS: 120, Workload: WorkloadIdle},
			{Name: "Recovery check", DurationS: 60, Workload: WorkloadSeqWrite},
		},
	},
	"thermal_endurance": {
		ID:          "thermal_endurance",
		DisplayName: "Thermal Endurance",
		Description: "Long mixed load observing thermal throttling",
		MaxSizeGB:   500,
		Phases: []Phase{
			{Name: "Warm up", DurationS: 120, Workload: WorkloadMixed},
			{Name: "Sustained mixed load", DurationS: 2400, Workload: WorkloadMixed},
			{Name: "Cool down", DurationS: 180, Workload: WorkloadIdle},
		},
	},
	"random_iops": {
		ID:          "random_iops",
		DisplayName: "Random 4K IOPS",
		Description: "Random 4k reads and writes at queue depths 1 and 32",
		MaxSizeGB:   50,
		Phases: []Phase{
			{Name: "Preparing test file", DurationS: 15, Workload: WorkloadSeqWrite},
			{Name: "Random read QD1", DurationS: 30, Workload: WorkloadRandom},
			{Name: "Random read QD32", DurationS: 30, Workload: WorkloadRandom},
			{Name: "Random write QD32", DurationS: 30, Workload: WorkloadRandom},
		},
	},
}

// aliases maps legacy identifiers to canonical ones.
var aliases = map[string]string{
	"quick_max_speed":    "quick_max_mix",
	"professional_video": "pro_video_mix",
	"qlc_max":            "sustained_write",
	"thermal_test":       "thermal_endurance",
	"random_4k":          "random_iops",
}

// Resolve returns the canonical identifier for raw. It fails with
// InvalidTestConfigError for anything that is neither canonical nor a known
// legacy alias.
func Resolve(raw string) (string, error) {
	if _, ok := profiles[raw]; ok {
		return raw, nil
	}
	if canonical, ok := aliases[raw]; ok {
		return canonical, nil
	}
	return "", diskerrors.NewInvalidTestConfigError(
		fmt.Sprintf("unknown test type %q: supported %v", raw, Canonical()),
		"test_type", raw,
	)
}

// Lookup returns the profile of a canonical identifier.
func Lookup(canonical string) (Profile, bool) {
	p, ok := profiles[canonical]
	return p, ok
}

// Canonical returns sorted canonical identifiers.
func Canonical() []string {
	return slices.Sorted(maps.Keys(profiles))
}

// Aliases returns a copy of the legacy alias table.
func Aliases() map[string]string {
	return maps.Clone(aliases)
}

var blockSizeRx = regexp.MustCompile(`^[1-9][0-9]*[kKmM]?$`)

// Validate checks request parameters against the profile of canonical.
func Validate(req model.Request, canonical string) error {
	profile, ok := profiles[canonical]
	if !ok {
		return diskerrors.NewInvalidTestConfigError(
			fmt.Sprintf("unknown test type %q", canonical), "test_type", canonical)
	}
	if req.DiskPath == "" {
		return diskerrors.NewInvalidTestConfigError("disk_path is required", "disk_path", req.DiskPath)
	}
	if !(req.SizeGB > 0) || math.IsInf(req.SizeGB, 0) {
		return diskerrors.NewInvalidTestConfigError(
			fmt.Sprintf("size_gb must be positive, got %g", req.SizeGB), "size_gb", req.SizeGB)
	}
	if req.SizeGB > profile.MaxSizeGB {
		return diskerrors.NewInvalidTestConfigError(
			fmt.Sprintf("size_gb %g exceeds the maximum of %g for %s", req.SizeGB, profile.MaxSizeGB, canonical),
			"size_gb", req.SizeGB)
	}
	if req.BlockSize != "" && !blockSizeRx.MatchString(req.BlockSize) {
		return diskerrors.NewInvalidTestConfigError(
			fmt.Sprintf("block_size %q is invalid, expected e.g. 4k or 1M", req.BlockSize), "block_size", req.BlockSize)
	}
	if err := inRange("io_depth", req.IODepth, 0, 256); err != nil {
		return err
	}
	if err := inRange("num_jobs", req.NumJobs, 0, 64); err != nil {
		return err
	}
	return inRange("runtime_s", req.RuntimeS, 0, 86400)
}

// inRange accepts zero as "use the default".
func inRange(field string, value, lo, hi int) error {
	if value < lo || value > hi {
		return diskerrors.NewInvalidTestConfigError(
			fmt.Sprintf("%s must be between %d and %d, got %d", field, lo, hi, value), field, value)
	}
	return nil
}
