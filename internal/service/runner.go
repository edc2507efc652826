package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/CZERTAINLY/diskbench-bridge/internal/diskerrors"
)

// StderrFunc receives stderr of a running process line by line.
type StderrFunc func(ctx context.Context, line string)

// Command is a single invocation of the benchmark executable.
type Command struct {
	Path    string
	Args    []string
	Env     []string // appended to the environment of this process
	Timeout time.Duration
	// OnStart is called once the process has been started.
	OnStart func()
	// Stderr, if set, receives every stderr line while the process runs.
	Stderr StderrFunc
}

// Output is what a finished process left behind.
type Output struct {
	ReturnCode int
	Stdout     string
	Stderr     string
	Started    time.Time
	Stopped    time.Time
}

// Executor runs a command to completion.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// Runner is a thin wrapper around os/exec. It never retries.
type Runner struct{}

func NewRunner() Runner {
	return Runner{}
}

// Run starts the command and waits until it exits. A non-zero exit code is
// reported in Output and is not an error. Failure to start and exceeding
// the timeout are reported as FIOExecutionError.
func (Runner) Run(ctx context.Context, proto Command) (Output, error) {
	if proto.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", proto.Path)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Env = append(os.Environ(), proto.Env...)
	// children of the executable (fio) may keep the pipes open after a kill
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	var lines *lineWriter
	if proto.Stderr != nil {
		lines = &lineWriter{ctx: ctx, fn: proto.Stderr}
		cmd.Stderr = &teeWriter{buf: &stderr, lines: lines}
	}

	out := Output{Started: time.Now().UTC()}
	if err := cmd.Start(); err != nil {
		out.Stopped = time.Now().UTC()
		out.ReturnCode = -1
		return out, diskerrors.NewFIOExecutionError(
			fmt.Sprintf("starting benchmark executable %s: %s", proto.Path, err),
			-1, "", err.Error(),
		)
	}
	if proto.OnStart != nil {
		proto.OnStart()
	}

	err := cmd.Wait()
	out.Stopped = time.Now().UTC()
	if lines != nil {
		lines.flush()
	}
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	if cmd.ProcessState != nil {
		out.ReturnCode = cmd.ProcessState.ExitCode()
	}

	if err != nil && proto.Timeout != 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, diskerrors.NewFIOTimeoutError(proto.Timeout, out.Stdout, out.Stderr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.As(err, &exitErr), errors.Is(err, exec.ErrWaitDelay):
		return out, nil
	default:
		return out, diskerrors.NewFIOExecutionError(
			fmt.Sprintf("waiting for benchmark executable: %s", err),
			out.ReturnCode, out.Stdout, out.Stderr,
		)
	}
}

type teeWriter struct {
	mx    sync.Mutex
	buf   *bytes.Buffer
	lines *lineWriter
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.mx.Lock()
	defer w.mx.Unlock()
	w.buf.Write(p)
	w.lines.write(p)
	return len(p), nil
}

// lineWriter splits a byte stream to lines.
type lineWriter struct {
	ctx     context.Context
	fn      StderrFunc
	partial []byte
}

func (w *lineWriter) write(p []byte) {
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			return
		}
		line := bytes.TrimRight(w.partial[:i], "\r")
		w.fn(w.ctx, string(line))
		w.partial = w.partial[i+1:]
	}
}

func (w *lineWriter) flush() {
	if len(w.partial) > 0 {
		w.fn(w.ctx, string(w.partial))
		w.partial = nil
	}
}
