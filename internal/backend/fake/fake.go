// Package fake provides a deterministic in-memory Adapter for testing
// the scheduler without forking real processes.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/makeflow/makeflow-engine/internal/backend"
)

// Outcome is the scripted result for one submission.
type Outcome struct {
	Info    backend.JobInfo
	Err     error // if non-nil, Submit itself fails (transient submission error)
	Delay   time.Duration
	Missing []string // not read by Backend: the fake creates no files and reports no missing targets
}

// Backend is a scripted, deterministic Adapter.
type Backend struct {
	mu sync.Mutex

	// Outcomes maps command -> queue of outcomes consumed in order.
	// A command with no scripted outcome succeeds with exit code 0.
	Outcomes map[string][]Outcome

	jobSeq    int
	pending   map[string]pendingJob
	removed   map[string]bool
	options   string
	logPath   string
}

type pendingJob struct {
	command string
	ready   time.Time
	info    backend.JobInfo
}

// New returns an empty scripted backend.
func New() *Backend {
	return &Backend{
		Outcomes: make(map[string][]Outcome),
		pending:  make(map[string]pendingJob),
		removed:  make(map[string]bool),
	}
}

func (b *Backend) Submit(_ context.Context, command string, _, _ []string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var outcome Outcome
	if queue := b.Outcomes[command]; len(queue) > 0 {
		outcome = queue[0]
		b.Outcomes[command] = queue[1:]
	} else {
		outcome = Outcome{Info: backend.JobInfo{ExitedNormally: true, ExitCode: 0}}
	}

	if outcome.Err != nil {
		return "", outcome.Err
	}

	b.jobSeq++
	jobID := fmt.Sprintf("job-%d", b.jobSeq)
	b.pending[jobID] = pendingJob{
		command: command,
		ready:   time.Now().Add(outcome.Delay),
		info:    outcome.Info,
	}
	return jobID, nil
}

func (b *Backend) Wait(ctx context.Context, deadline time.Duration) (string, backend.JobInfo, bool, error) {
	end := time.Now().Add(deadline)
	for {
		b.mu.Lock()
		for id, job := range b.pending {
			if b.removed[id] {
				delete(b.pending, id)
				continue
			}
			if !time.Now().Before(job.ready) {
				delete(b.pending, id)
				b.mu.Unlock()
				return id, job.info, true, nil
			}
		}
		b.mu.Unlock()

		if time.Now().After(end) {
			return "", backend.JobInfo{}, false, nil
		}
		select {
		case <-ctx.Done():
			return "", backend.JobInfo{}, false, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (b *Backend) Remove(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed[jobID] = true
	delete(b.pending, jobID)
	return nil
}

func (b *Backend) SetOptions(opts string) { b.options = opts }

func (b *Backend) SetLogFile(path string) error {
	b.logPath = path
	return nil
}

// Pending reports the number of jobs not yet completed or removed,
// used by tests asserting concurrency-cap compliance.
func (b *Backend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
