package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/diskbench-bridge/internal/extract"
	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
	"github.com/CZERTAINLY/diskbench-bridge/internal/service"
	"github.com/CZERTAINLY/diskbench-bridge/internal/store"
	"github.com/CZERTAINLY/diskbench-bridge/internal/testtype"
)

var (
	runReq      model.Request
	runInterval time.Duration
	runQuiet    bool
	historyMax  int
)

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runReq.TestType, "type", "t", "quick_max_mix", "benchmark type or a legacy alias, see types command")
	f.StringVarP(&runReq.DiskPath, "disk", "d", "", "directory on the disk under test")
	f.Float64VarP(&runReq.SizeGB, "size", "s", 1, "size of the test file in GB")
	f.BoolVar(&runReq.ShowProgress, "progress", false, "ask diskbench to report progress on stderr")
	f.StringVar(&runReq.BlockSize, "block-size", "", "block size override, e.g. 4k or 1M")
	f.IntVar(&runReq.IODepth, "iodepth", 0, "I/O depth override")
	f.IntVar(&runReq.NumJobs, "numjobs", 0, "number of parallel jobs override")
	f.IntVar(&runReq.RuntimeS, "runtime", 0, "runtime override in seconds")
	f.DurationVar(&runInterval, "interval", time.Second, "refresh interval of the live status line")
	f.BoolVarP(&runQuiet, "quiet", "q", false, "do not print the live status line")

	historyCmd.Flags().IntVarP(&historyMax, "limit", "n", 20, "number of runs to list, 0 lists all")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run executes one benchmark and prints its record as JSON",
	RunE:  doRun,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "schedule starts the benchmark of schedule section periodically",
	RunE:  doSchedule,
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "history lists finished runs or prints one of them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doHistory,
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "types lists benchmark types and legacy aliases",
	RunE: func(cmd *cobra.Command, _ []string) error {
		type entry struct {
			Name        string  `yaml:"name"`
			Description string  `yaml:"description"`
			DurationS   float64 `yaml:"duration_s"`
			MaxSizeGB   float64 `yaml:"max_size_gb"`
		}
		out := struct {
			Types   map[string]entry  `yaml:"types"`
			Aliases map[string]string `yaml:"aliases"`
		}{
			Types:   make(map[string]entry),
			Aliases: testtype.Aliases(),
		}
		for _, id := range testtype.Canonical() {
			p, _ := testtype.Lookup(id)
			out.Types[id] = entry{
				Name:        p.DisplayName,
				Description: p.Description,
				DurationS:   p.DurationS(),
				MaxSizeGB:   p.MaxSizeGB,
			}
		}
		return printYAML(cmd.OutOrStdout(), out)
	},
}

// orchestrator builds an Orchestrator from the loaded configuration. The
// returned function releases the history database.
func orchestrator(ctx context.Context) (*service.Orchestrator, func(), error) {
	settings, err := service.SettingsFromConfig(config.Executor)
	if err != nil {
		return nil, nil, err
	}
	validator, err := extract.NewValidator()
	if err != nil {
		return nil, nil, err
	}
	uploaders, err := service.Uploaders(config.Results)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing uploaders: %w", err)
	}

	o := service.New(settings).
		WithUploaders(uploaders...).
		WithValidator(validator)

	cleanup := func() {}
	if config.History != nil && config.History.Path != "" {
		h, err := store.Open(ctx, config.History.Path)
		if err != nil {
			// nothing was started yet, Shutdown only closes the uploaders
			return nil, nil, errors.Join(err, o.Shutdown(ctx))
		}
		o.WithHistory(h)
		cleanup = func() { _ = h.Close() }
	}
	return o, cleanup, nil
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := cmdContext(cmd.Context(), "run")
	o, cleanup, err := orchestrator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() {
		_ = o.Shutdown(context.WithoutCancel(ctx))
	}()

	params := map[string]any{
		"test_type":     runReq.TestType,
		"disk_path":     runReq.DiskPath,
		"size_gb":       runReq.SizeGB,
		"show_progress": runReq.ShowProgress,
		"block_size":    runReq.BlockSize,
		"io_depth":      runReq.IODepth,
		"num_jobs":      runReq.NumJobs,
		"runtime_s":     runReq.RuntimeS,
	}
	resp := o.StartTest(ctx, params)
	if !resp.Success {
		_ = printJSON(cmd.OutOrStdout(), resp.Map())
		return fmt.Errorf("%w: %s", errRunFailed, resp.Error)
	}

	var rec model.RunRecord
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		var err error
		rec, err = o.Wait(gctx, resp.RunID)
		return err
	})
	if !runQuiet {
		g.Go(func() error {
			return liveStatus(gctx, cmd.ErrOrStderr(), o, resp.RunID, done)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := printJSON(cmd.OutOrStdout(), rec); err != nil {
		return err
	}
	if rec.Status != model.StatusCompleted {
		return errRunFailed
	}
	return nil
}

// liveStatus rewrites a single status line until done is closed.
func liveStatus(ctx context.Context, w io.Writer, o *service.Orchestrator, runID string, done <-chan struct{}) error {
	ticker := time.NewTicker(runInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			_, _ = fmt.Fprintln(w)
			return nil
		case <-ticker.C:
			st, err := o.GetLiveStatus(runID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "\r\033[K%-10s %-28s elapsed %6.1fs remaining %6.1fs cpu %5.1f%% io %7.1f MB/s temp %4.1fC",
				st.Status, st.PhaseName, st.ElapsedS, st.RemainingS,
				st.SimulatedMetrics.CPUPct, st.SimulatedMetrics.IORateMBps, st.SimulatedMetrics.DeviceTempC)
		}
	}
}

func doSchedule(cmd *cobra.Command, _ []string) error {
	if config.Schedule == nil {
		return errors.New("schedule section is missing in " + configPath)
	}
	ctx, stop := signal.NotifyContext(cmdContext(cmd.Context(), "schedule"), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, cleanup, err := orchestrator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sched, err := service.NewScheduler(ctx, config.Schedule, o)
	if err != nil {
		return err
	}
	err = sched.Do(ctx)
	return errors.Join(err, o.Shutdown(context.WithoutCancel(ctx)))
}

func doHistory(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd.Context(), "history")
	if config.History == nil || config.History.Path == "" {
		return errors.New("history.path is not configured")
	}
	h, err := store.Open(ctx, config.History.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = h.Close()
	}()

	if len(args) == 1 {
		rec, err := h.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("run %s: %w", args[0], err)
		}
		return printYAML(cmd.OutOrStdout(), rec)
	}

	rows, err := h.List(ctx, historyMax)
	if err != nil {
		return err
	}
	for _, r := range rows {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), r.String())
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
