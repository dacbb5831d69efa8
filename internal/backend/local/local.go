// Package local implements the local-fork BackendAdapter: commands run
// as child processes of the engine via mvdan.cc/sh's shell
// interpreter (so redirection and quoting in the translated command
// line are honored exactly as a real shell would, rather than a naive
// argv split), and the default concurrency cap is sized off the host's
// logical CPU count via gopsutil.
package local

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/makeflow/makeflow-engine/internal/backend"
)

// DefaultMax returns the number of logical CPUs as reported by
// gopsutil, falling back to 1 if detection fails.
func DefaultMax() int {
	counts, err := cpu.Counts(true)
	if err != nil || counts <= 0 {
		return 1
	}
	return counts
}

type result struct {
	jobID string
	info  backend.JobInfo
}

// Backend forks each submitted command through mvdan.cc/sh/v3/interp.
type Backend struct {
	logPath string

	mu        sync.Mutex
	cancelFns map[string]context.CancelFunc

	completions chan result
}

// New returns an idle local Backend.
func New() *Backend {
	return &Backend{
		cancelFns:   make(map[string]context.CancelFunc),
		completions: make(chan result, 64),
	}
}

func (b *Backend) Submit(ctx context.Context, command string, _, _ []string) (string, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return "", fmt.Errorf("local: parse command: %w", err)
	}

	jobID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.cancelFns[jobID] = cancel
	b.mu.Unlock()

	runner, err := interp.New(
		interp.StdIO(nil, os.Stdout, os.Stderr),
	)
	if err != nil {
		cancel()
		return "", fmt.Errorf("local: build runner: %w", err)
	}

	go func() {
		defer cancel()
		err := runner.Run(runCtx, file)
		info := interpretError(err)
		b.completions <- result{jobID: jobID, info: info}
	}()

	return jobID, nil
}

func interpretError(err error) backend.JobInfo {
	if err == nil {
		return backend.JobInfo{ExitedNormally: true, ExitCode: 0}
	}
	if status, ok := interp.IsExitStatus(err); ok {
		return backend.JobInfo{ExitedNormally: true, ExitCode: int(status)}
	}
	return backend.JobInfo{ExitedNormally: false, ExitSignal: err.Error()}
}

func (b *Backend) Wait(ctx context.Context, deadline time.Duration) (string, backend.JobInfo, bool, error) {
	select {
	case r := <-b.completions:
		b.mu.Lock()
		delete(b.cancelFns, r.jobID)
		b.mu.Unlock()
		return r.jobID, r.info, true, nil
	case <-time.After(deadline):
		return "", backend.JobInfo{}, false, nil
	case <-ctx.Done():
		return "", backend.JobInfo{}, false, ctx.Err()
	}
}

func (b *Backend) Remove(_ context.Context, jobID string) error {
	b.mu.Lock()
	cancel, ok := b.cancelFns[jobID]
	delete(b.cancelFns, jobID)
	b.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (b *Backend) SetOptions(string) {}

func (b *Backend) SetLogFile(path string) error {
	b.logPath = path
	return nil
}
