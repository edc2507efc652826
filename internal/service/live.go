package service

import (
	"math"
	"time"

	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
	"github.com/CZERTAINLY/diskbench-bridge/internal/testtype"
)

// workloadShape is the steady state of the synthetic curves per workload.
type workloadShape struct {
	cpuPct  float64
	ioMBps  float64
	maxTemp float64
}

var shapes = map[testtype.Workload]workloadShape{
	testtype.WorkloadSeqWrite: {cpuPct: 35, ioMBps: 2400, maxTemp: 62},
	testtype.WorkloadSeqRead:  {cpuPct: 28, ioMBps: 2800, maxTemp: 55},
	testtype.WorkloadMixed:    {cpuPct: 45, ioMBps: 1600, maxTemp: 66},
	testtype.WorkloadRandom:   {cpuPct: 55, ioMBps: 450, maxTemp: 52},
	testtype.WorkloadIdle:     {cpuPct: 4, ioMBps: 0, maxTemp: 40},
}

const (
	ambientTempC = 35.0
	// thermal time constant in seconds
	thermalTau = 90.0
	rampS      = 3.0
)

// Live synthesizes the live status of rec at now.
//
// The metrics are NOT measured. They are a deterministic function of the
// elapsed time and the workload of the current phase so that a human
// watching a run sees plausible moving numbers. Never use them as telemetry.
func Live(rec model.RunRecord, now time.Time) model.LiveStatus {
	profile, _ := testtype.Lookup(rec.TestType)

	end := now
	if rec.FinishedAt != nil {
		end = *rec.FinishedAt
	}
	elapsed := math.Max(end.Sub(rec.StartedAt).Seconds(), 0)

	total := profile.DurationS()
	if rec.PhaseDurationS != nil {
		total = *rec.PhaseDurationS
	}

	status := model.LiveStatus{
		RunID:    rec.RunID,
		Status:   rec.Status,
		ElapsedS: round(elapsed, 1),
	}

	switch rec.Status {
	case model.StatusCompleted, model.StatusFailed:
		status.PhaseName = "Completed"
		if rec.Status == model.StatusFailed {
			status.PhaseName = "Failed"
		}
		status.SimulatedMetrics = metrics(shapes[testtype.WorkloadIdle], elapsed, elapsed)
		return status
	case model.StatusStarting:
		status.PhaseName = "Starting"
		status.RemainingS = round(total, 1)
		status.SimulatedMetrics = metrics(shapes[testtype.WorkloadIdle], 0, 0)
		return status
	}

	phase, inPhase := profile.PhaseAt(elapsed)
	status.PhaseName = phase.Name
	if elapsed >= total && total > 0 {
		status.PhaseName = "Finalizing"
	}
	status.RemainingS = round(math.Max(total-elapsed, 0), 1)

	shape, ok := shapes[phase.Workload]
	if !ok {
		shape = shapes[testtype.WorkloadMixed]
	}
	status.SimulatedMetrics = metrics(shape, elapsed, inPhase)
	return status
}

// metrics evaluates the synthetic curves. elapsed drives the slow thermal
// curve, inPhase the ramp of the current phase.
func metrics(shape workloadShape, elapsed, inPhase float64) model.Metrics {
	ramp := math.Min(inPhase/rampS, 1)
	cpu := shape.cpuPct*(0.5+0.5*ramp) + 6*math.Sin(elapsed/7)*ramp
	io := shape.ioMBps * ramp * (0.9 + 0.1*math.Sin(elapsed/5))
	temp := ambientTempC + (shape.maxTemp-ambientTempC)*(1-math.Exp(-elapsed/thermalTau)) + 0.4*math.Sin(elapsed/11)

	return model.Metrics{
		CPUPct:      round(clamp(cpu, 0, 100), 1),
		IORateMBps:  round(math.Max(io, 0), 1),
		DeviceTempC: round(temp, 1),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
