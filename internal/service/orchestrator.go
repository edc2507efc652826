package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/CZERTAINLY/diskbench-bridge/internal/disk"
	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
	"github.com/CZERTAINLY/diskbench-bridge/internal/extract"
	"github.com/CZERTAINLY/diskbench-bridge/internal/log"
	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
	"github.com/CZERTAINLY/diskbench-bridge/internal/parallel"
	"github.com/CZERTAINLY/diskbench-bridge/internal/registry"
	"github.com/CZERTAINLY/diskbench-bridge/internal/testtype"
)

// History persists finished runs.
type History interface {
	Save(ctx context.Context, rec model.RunRecord) error
}

// Response is the answer of StartTest. On failure Error and ErrorDetails
// are set, on success the run identifiers.
type Response struct {
	Success      bool           `json:"success" yaml:"success"`
	Error        string         `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty" yaml:"error_details,omitempty"`
	RunID        string         `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	TestID       string         `json:"test_id,omitempty" yaml:"test_id,omitempty"`
	TestType     string         `json:"diskbench_test_type,omitempty" yaml:"diskbench_test_type,omitempty"`
	// Retryable is set when the same request may succeed later unchanged.
	Retryable bool `json:"retryable,omitempty" yaml:"retryable,omitempty"`
}

// Map returns the flat mapping expected by control surfaces.
func (r Response) Map() map[string]any {
	m := map[string]any{"success": r.Success}
	if !r.Success {
		m["error"] = r.Error
		if r.ErrorDetails != nil {
			m["error_details"] = r.ErrorDetails
		}
		m["retryable"] = r.Retryable
		return m
	}
	m["run_id"] = r.RunID
	m["test_id"] = r.TestID
	m["diskbench_test_type"] = r.TestType
	return m
}

// Orchestrator validates benchmark requests and runs at most one benchmark
// in the background.
type Orchestrator struct {
	settings  Settings
	runner    Executor
	probe     disk.Probe
	registry  *registry.Registry
	validator extract.Validator
	uploaders []model.Uploader
	history   History
	now       func() time.Time
	newID     func() string

	tasksMx sync.Mutex
	tasks   map[string]chan struct{}
	wg      sync.WaitGroup
}

func New(settings Settings) *Orchestrator {
	now := func() time.Time { return time.Now().UTC() }
	return &Orchestrator{
		settings: settings,
		runner:   NewRunner(),
		probe:    disk.FSProbe{},
		registry: registry.New().WithClock(now),
		now:      now,
		newID:    uuid.NewString,
		tasks:    make(map[string]chan struct{}),
	}
}

func (o *Orchestrator) WithRunner(runner Executor) *Orchestrator {
	o.runner = runner
	return o
}

func (o *Orchestrator) WithProbe(probe disk.Probe) *Orchestrator {
	o.probe = probe
	return o
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	o.registry.WithClock(now)
	return o
}

func (o *Orchestrator) WithIDs(newID func() string) *Orchestrator {
	o.newID = newID
	return o
}

func (o *Orchestrator) WithUploaders(uploaders ...model.Uploader) *Orchestrator {
	o.uploaders = uploaders
	return o
}

func (o *Orchestrator) WithHistory(history History) *Orchestrator {
	o.history = history
	return o
}

// WithValidator enables schema validation of recovered results.
func (o *Orchestrator) WithValidator(v extract.Validator) *Orchestrator {
	o.validator = v
	return o
}

// StartTest validates params, registers a new run and launches it in the
// background. It returns as soon as the run is registered.
func (o *Orchestrator) StartTest(ctx context.Context, params map[string]any) Response {
	// an active run holds space on the disk, so it goes before the capacity check
	if running := o.registry.ListRunning(); len(running) > 0 {
		return alreadyRunning(running)
	}

	req, err := decodeRequest(ctx, params)
	if err != nil {
		return failure(err)
	}

	canonical, err := testtype.Resolve(req.TestType)
	if err != nil {
		return failure(err)
	}
	if err := testtype.Validate(req, canonical); err != nil {
		return failure(err)
	}
	if _, err := disk.CheckCapacity(o.probe, req.DiskPath, req.SizeGB); err != nil {
		return failure(err)
	}

	profile, _ := testtype.Lookup(canonical)
	name := profile.DisplayName
	duration := profile.DurationS()
	rec := model.RunRecord{
		RunID:          o.newID(),
		TestType:       canonical,
		DiskPath:       req.DiskPath,
		SizeGB:         req.SizeGB,
		Status:         model.StatusStarting,
		StartedAt:      o.now(),
		PhaseName:      &name,
		PhaseDurationS: &duration,
	}
	if req.TestType != canonical {
		rec.RequestedType = req.TestType
	}

	o.tasksMx.Lock()
	defer o.tasksMx.Unlock()
	if err := o.registry.Register(rec); err != nil {
		if errors.Is(err, registry.ErrAlreadyRunning) {
			return alreadyRunning(o.registry.ListRunning())
		}
		return failure(err)
	}

	done := make(chan struct{})
	o.tasks[rec.RunID] = done
	taskCtx := log.ContextAttrs(context.WithoutCancel(ctx), slog.String("run_id", rec.RunID))
	o.wg.Go(func() {
		defer func() {
			o.tasksMx.Lock()
			delete(o.tasks, rec.RunID)
			o.tasksMx.Unlock()
			close(done)
		}()
		o.execute(taskCtx, rec, req)
	})

	slog.InfoContext(taskCtx, "benchmark started",
		"test_type", canonical,
		"disk_path", req.DiskPath,
		"size_gb", req.SizeGB)
	return Response{
		Success:  true,
		RunID:    rec.RunID,
		TestID:   rec.RunID,
		TestType: canonical,
	}
}

func decodeRequest(ctx context.Context, params map[string]any) (model.Request, error) {
	var req model.Request
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           &req,
	})
	if err != nil {
		return req, err
	}
	if err := dec.Decode(params); err != nil {
		return req, diskerrors.NewInvalidTestConfigError("malformed request: "+err.Error(), "request", nil)
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		slog.DebugContext(ctx, "ignoring unknown request keys", "keys", md.Unused)
	}
	return req, nil
}

func failure(err error) Response {
	resp := Response{Error: err.Error(), Retryable: diskerrors.Retryable(err)}
	if serr, ok := diskerrors.AsStructured(err); ok {
		resp.ErrorDetails = serr.ToDict()
	}
	return resp
}

func alreadyRunning(running []model.RunRecord) Response {
	resp := Response{Error: registry.ErrAlreadyRunning.Error(), Retryable: true}
	if len(running) > 0 {
		resp.ErrorDetails = map[string]any{
			"running_run_id":    running[0].RunID,
			"running_test_type": running[0].TestType,
			"status":            string(running[0].Status),
		}
	}
	return resp
}

// Args returns the command line of the benchmark executable for a request.
func Args(settings Settings, runID, canonical string, req model.Request) []string {
	args := slices.Clone(settings.Args)
	args = append(args,
		"--test", canonical,
		"--disk", req.DiskPath,
		"--size", strconv.FormatFloat(req.SizeGB, 'f', -1, 64),
		"--output-format", "json",
		"--run-id", runID,
	)
	if req.BlockSize != "" {
		args = append(args, "--block-size", req.BlockSize)
	}
	if req.IODepth > 0 {
		args = append(args, "--iodepth", strconv.Itoa(req.IODepth))
	}
	if req.NumJobs > 0 {
		args = append(args, "--numjobs", strconv.Itoa(req.NumJobs))
	}
	if req.RuntimeS > 0 {
		args = append(args, "--runtime", strconv.Itoa(req.RuntimeS))
	}
	if req.Direct != nil {
		args = append(args, "--direct", strconv.FormatBool(*req.Direct))
	}
	if req.ShowProgress {
		args = append(args, "--progress")
	}
	return args
}

// timeout is the expected duration of the run plus grace, unless overridden.
func (o *Orchestrator) timeout(rec model.RunRecord, req model.Request) time.Duration {
	if o.settings.Timeout > 0 {
		return o.settings.Timeout
	}
	expected := 0.0
	if rec.PhaseDurationS != nil {
		expected = *rec.PhaseDurationS
	}
	if req.RuntimeS > 0 {
		expected = max(expected, float64(req.RuntimeS))
	}
	return time.Duration(expected*float64(time.Second)) + o.settings.Grace
}

func (o *Orchestrator) execute(ctx context.Context, rec model.RunRecord, req model.Request) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "benchmark task panicked", "panic", r)
			err := diskerrors.New(
				fmt.Sprintf("benchmark task panicked: %v", r),
				map[string]any{"panic": fmt.Sprint(r)},
				"report this as a bug",
			)
			o.finish(ctx, rec.RunID, model.StatusFailed, nil, err)
		}
	}()

	cmd := Command{
		Path:    o.settings.Path,
		Args:    Args(o.settings, rec.RunID, rec.TestType, req),
		Env:     o.settings.Env,
		Timeout: o.timeout(rec, req),
		OnStart: func() { o.markRunning(ctx, rec.RunID) },
		Stderr: func(ctx context.Context, line string) {
			slog.DebugContext(ctx, "diskbench", "stderr", line)
		},
	}
	slog.DebugContext(ctx, "executing", "path", cmd.Path, "args", cmd.Args, "timeout", cmd.Timeout.String())

	out, err := o.runner.Run(ctx, cmd)
	if err != nil {
		o.finish(ctx, rec.RunID, model.StatusFailed, nil, err)
		return
	}
	o.markRunning(ctx, rec.RunID)

	result, perr := extract.ParseResult(out.Stdout)
	if perr == nil {
		perr = o.validator.Validate(result)
	}

	if out.ReturnCode != 0 {
		msg := fmt.Sprintf("diskbench exited with code %d", out.ReturnCode)
		if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
			msg += ": " + stderr
		}
		if perr != nil {
			result = nil
		}
		o.finish(ctx, rec.RunID, model.StatusFailed, result,
			diskerrors.NewFIOExecutionError(msg, out.ReturnCode, out.Stdout, out.Stderr))
		return
	}
	if perr != nil {
		o.finish(ctx, rec.RunID, model.StatusFailed, nil, perr)
		return
	}
	o.finish(ctx, rec.RunID, model.StatusCompleted, result, nil)
}

func (o *Orchestrator) markRunning(ctx context.Context, runID string) {
	rec, ok := o.registry.Get(runID)
	if !ok || rec.Status != model.StatusStarting {
		return
	}
	if _, err := o.registry.UpdateStatus(runID, model.StatusRunning, nil, nil); err != nil {
		slog.WarnContext(ctx, "marking run as running", "error", err)
		return
	}
	slog.DebugContext(ctx, "benchmark running")
}

func (o *Orchestrator) finish(ctx context.Context, runID string, status model.Status, result model.BenchmarkResult, err error) {
	var serr *diskerrors.StructuredError
	if err != nil {
		s := diskerrors.Structure(err)
		serr = &s
	}
	rec, uerr := o.registry.UpdateStatus(runID, status, result, serr)
	if uerr != nil {
		slog.ErrorContext(ctx, "can't update run", "status", status, "error", uerr)
		return
	}

	if err != nil {
		slog.ErrorContext(ctx, "benchmark failed",
			"class", diskerrors.Classify(err).String(),
			"retryable", diskerrors.Retryable(err),
			"error_type", serr.ErrorType,
			"error", serr.Message)
	} else {
		slog.InfoContext(ctx, "benchmark completed", "success", rec.Result.Success())
	}
	o.publish(ctx, rec)
}

// publish stores a finished record. Errors are only logged, the run is
// already finished.
func (o *Orchestrator) publish(ctx context.Context, rec model.RunRecord) {
	if o.history != nil {
		if err := o.history.Save(ctx, rec); err != nil {
			slog.ErrorContext(ctx, "saving run history", "error", err)
		}
	}
	if len(o.uploaders) == 0 {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		slog.ErrorContext(ctx, "encoding run record", "error", err)
		return
	}
	upload := func(ctx context.Context, u model.Uploader) (string, error) {
		return fmt.Sprintf("%T", u), u.Upload(ctx, rec.RunID, raw)
	}
	for name, err := range parallel.Map(ctx, len(o.uploaders), o.uploaders, upload) {
		if err != nil {
			slog.ErrorContext(ctx, "uploading result", "uploader", name, "error", err)
		}
	}
}

// GetStatus returns a copy of the run record.
func (o *Orchestrator) GetStatus(runID string) (model.RunRecord, bool) {
	return o.registry.Get(runID)
}

// GetLiveStatus returns the synthesized progress of a run.
func (o *Orchestrator) GetLiveStatus(runID string) (model.LiveStatus, error) {
	rec, ok := o.registry.Get(runID)
	if !ok {
		return model.LiveStatus{}, fmt.Errorf("%w: %s", registry.ErrNotFound, runID)
	}
	return Live(rec, o.now()), nil
}

// Runs returns all known runs ordered by start time.
func (o *Orchestrator) Runs() []model.RunRecord {
	return o.registry.List()
}

// ClearFinished forgets finished runs and returns how many were removed.
func (o *Orchestrator) ClearFinished() int {
	return o.registry.ClearFinished()
}

// Wait blocks until the run is finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (model.RunRecord, error) {
	o.tasksMx.Lock()
	done, ok := o.tasks[runID]
	o.tasksMx.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return model.RunRecord{}, ctx.Err()
		}
	}
	rec, found := o.registry.Get(runID)
	if !found {
		return model.RunRecord{}, fmt.Errorf("%w: %s", registry.ErrNotFound, runID)
	}
	return rec, nil
}

// Shutdown waits for in-flight runs without cancelling them and closes
// the uploaders.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for running benchmarks: %w", ctx.Err())
	}

	var errs []error
	for _, u := range o.uploaders {
		if c, ok := u.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
