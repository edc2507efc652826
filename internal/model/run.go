package model

import (
	"maps"
	"time"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
)

// Request is a benchmark request as sent by a control surface.
type Request struct {
	TestType     string  `mapstructure:"test_type" json:"test_type" yaml:"test_type"`
	DiskPath     string  `mapstructure:"disk_path" json:"disk_path" yaml:"disk_path"`
	SizeGB       float64 `mapstructure:"size_gb" json:"size_gb" yaml:"size_gb"`
	ShowProgress bool    `mapstructure:"show_progress" json:"show_progress,omitempty" yaml:"show_progress,omitempty"`

	// optional tuning, zero means the profile default
	BlockSize string `mapstructure:"block_size" json:"block_size,omitempty" yaml:"block_size,omitempty"`
	IODepth   int    `mapstructure:"io_depth" json:"io_depth,omitempty" yaml:"io_depth,omitempty"`
	NumJobs   int    `mapstructure:"num_jobs" json:"num_jobs,omitempty" yaml:"num_jobs,omitempty"`
	RuntimeS  int    `mapstructure:"runtime_s" json:"runtime_s,omitempty" yaml:"runtime_s,omitempty"`
	Direct    *bool  `mapstructure:"direct" json:"direct,omitempty" yaml:"direct,omitempty"`
}

type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Active reports if the status blocks a new run.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BenchmarkResult is the JSON object recovered from the executable output.
// Only the success field is interpreted.
type BenchmarkResult map[string]any

func (r BenchmarkResult) Success() bool {
	b, _ := r["success"].(bool)
	return b
}

// RunRecord is the state of one run of the benchmark executable.
type RunRecord struct {
	RunID          string                      `json:"run_id" yaml:"run_id"`
	TestType       string                      `json:"test_type" yaml:"test_type"`
	RequestedType  string                      `json:"requested_type,omitempty" yaml:"requested_type,omitempty"`
	DiskPath       string                      `json:"disk_path" yaml:"disk_path"`
	SizeGB         float64                     `json:"size_gb" yaml:"size_gb"`
	Status         Status                      `json:"status" yaml:"status"`
	StartedAt      time.Time                   `json:"started_at" yaml:"started_at"`
	FinishedAt     *time.Time                  `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	PhaseName      *string                     `json:"phase_name,omitempty" yaml:"phase_name,omitempty"`
	PhaseDurationS *float64                    `json:"phase_duration_s,omitempty" yaml:"phase_duration_s,omitempty"`
	Result         BenchmarkResult             `json:"result,omitempty" yaml:"result,omitempty"`
	Error          *diskerrors.StructuredError `json:"error,omitempty" yaml:"error,omitempty"`
}

// Clone returns a copy which does not share the result map nor pointers.
func (r RunRecord) Clone() RunRecord {
	c := r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	if r.PhaseName != nil {
		s := *r.PhaseName
		c.PhaseName = &s
	}
	if r.PhaseDurationS != nil {
		d := *r.PhaseDurationS
		c.PhaseDurationS = &d
	}
	if r.Result != nil {
		c.Result = maps.Clone(r.Result)
	}
	if r.Error != nil {
		e := *r.Error
		e.Context = maps.Clone(r.Error.Context)
		c.Error = &e
	}
	return c
}

// Metrics are synthetic numbers shown while a run is in flight. They are
// derived from elapsed time and phase, they are NOT measured on the host.
type Metrics struct {
	CPUPct      float64 `json:"cpu_pct" yaml:"cpu_pct"`
	IORateMBps  float64 `json:"io_rate" yaml:"io_rate"`
	DeviceTempC float64 `json:"device_temp_c" yaml:"device_temp_c"`
}

// LiveStatus is computed on demand and never stored.
type LiveStatus struct {
	RunID            string  `json:"run_id" yaml:"run_id"`
	Status           Status  `json:"status" yaml:"status"`
	PhaseName        string  `json:"phase_name" yaml:"phase_name"`
	ElapsedS         float64 `json:"elapsed_s" yaml:"elapsed_s"`
	RemainingS       float64 `json:"remaining_s" yaml:"remaining_s"`
	SimulatedMetrics Metrics `json:"simulated_metrics" yaml:"simulated_metrics"`
}
