// Package registry keeps the state of benchmark runs keyed by run id.
//
// At most one run may be starting or running at a time. Records move
// starting -> running -> completed|failed (or starting -> failed when the
// executable cannot be launched) and are immutable once finished. Finished
// records are kept until explicitly cleared.
package registry

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
)

var (
	ErrAlreadyRunning  = errors.New("a benchmark is already running")
	ErrDuplicateRun    = errors.New("run id already registered")
	ErrNotFound        = errors.New("run not found")
	ErrAlreadyFinished = errors.New("run already finished")
	ErrInvalidStatus   = errors.New("invalid status transition")
	ErrActive          = errors.New("run is still active")
)

var transitions = map[model.Status][]model.Status{
	model.StatusStarting: {model.StatusRunning, model.StatusFailed},
	model.StatusRunning:  {model.StatusCompleted, model.StatusFailed},
}

type Registry struct {
	mx      sync.RWMutex
	records map[string]*model.RunRecord
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		records: make(map[string]*model.RunRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock changes the time source used to stamp finished records.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.now = now
	return r
}

// Register inserts a new record in starting status. It fails with
// ErrAlreadyRunning when another run is active, in which case nothing changes.
func (r *Registry) Register(rec model.RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("%w: empty run id", ErrInvalidStatus)
	}
	if rec.Status != model.StatusStarting {
		return fmt.Errorf("%w: new run must be %s, got %s", ErrInvalidStatus, model.StatusStarting, rec.Status)
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	for id, existing := range r.records {
		if existing.Status.Active() {
			return fmt.Errorf("%w: run %s is %s", ErrAlreadyRunning, id, existing.Status)
		}
	}
	if _, ok := r.records[rec.RunID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, rec.RunID)
	}
	stored := rec.Clone()
	r.records[rec.RunID] = &stored
	return nil
}

// Get returns a copy of the record.
func (r *Registry) Get(runID string) (model.RunRecord, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	rec, ok := r.records[runID]
	if !ok {
		return model.RunRecord{}, false
	}
	return rec.Clone(), true
}

// UpdateStatus moves a record to status. A completed record stores result,
// a failed one stores serr. Returns a copy of the updated record.
func (r *Registry) UpdateStatus(runID string, status model.Status, result model.BenchmarkResult, serr *diskerrors.StructuredError) (model.RunRecord, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	rec, ok := r.records[runID]
	if !ok {
		return model.RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if rec.Status.Terminal() {
		return rec.Clone(), fmt.Errorf("%w: %s is %s", ErrAlreadyFinished, runID, rec.Status)
	}
	if !slices.Contains(transitions[rec.Status], status) {
		return rec.Clone(), fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, rec.Status, status)
	}

	rec.Status = status
	switch status {
	case model.StatusCompleted:
		rec.Result = result
	case model.StatusFailed:
		rec.Result = result
		if serr != nil {
			e := *serr
			rec.Error = &e
		}
	}
	if status.Terminal() {
		finished := r.now()
		rec.FinishedAt = &finished
	}
	return rec.Clone(), nil
}

// ListRunning returns records in starting or running status.
func (r *Registry) ListRunning() []model.RunRecord {
	return r.list(func(rec *model.RunRecord) bool { return rec.Status.Active() })
}

// List returns all records ordered by start time.
func (r *Registry) List() []model.RunRecord {
	return r.list(func(*model.RunRecord) bool { return true })
}

func (r *Registry) list(keep func(*model.RunRecord) bool) []model.RunRecord {
	r.mx.RLock()
	defer r.mx.RUnlock()
	out := make([]model.RunRecord, 0, len(r.records))
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b model.RunRecord) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RunID, b.RunID)
	})
	return out
}

// Clear removes a finished record.
func (r *Registry) Clear(runID string) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	rec, ok := r.records[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if rec.Status.Active() {
		return fmt.Errorf("%w: %s", ErrActive, runID)
	}
	delete(r.records, runID)
	return nil
}

// ClearFinished removes every finished record and returns their count.
func (r *Registry) ClearFinished() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	var n int
	for id, rec := range r.records {
		if rec.Status.Terminal() {
			delete(r.records, id)
			n++
		}
	}
	return n
}
