// Package backend defines the uniform surface the scheduler drives
// every concrete batch backend (local fork, cluster queue, distributed
// worker pool) through. The scheduler never assumes a backend is
// thread-safe for concurrent submits; it serializes all calls itself.
package backend

import (
	"context"
	"time"
)

// JobInfo conveys how a completed job exited.
type JobInfo struct {
	ExitedNormally bool
	ExitCode       int
	ExitSignal     string
}

// Adapter is the interface the scheduler core consumes. Concrete batch
// submission backends are external collaborators behind this surface.
type Adapter interface {
	// Submit is a non-blocking submission of command with the given
	// source and target filenames. The filenames are passed as slices;
	// they are not joined into comma-terminated strings.
	Submit(ctx context.Context, command string, sources, targets []string) (jobID string, err error)

	// Wait blocks up to deadline for any completion. ok is false on
	// timeout with no completion observed.
	Wait(ctx context.Context, deadline time.Duration) (jobID string, info JobInfo, ok bool, err error)

	// Remove is a best-effort cancellation of jobID.
	Remove(ctx context.Context, jobID string) error

	// SetOptions passes backend-specific submit options through
	// (the "-B" CLI flag / BATCH_OPTIONS env var).
	SetOptions(opts string)

	// SetLogFile configures the backend's own diagnostic log path
	// (the "-L" CLI flag).
	SetLogFile(path string) error
}
