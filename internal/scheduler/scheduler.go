// Package scheduler implements the main dispatch loop: readiness
// checks, submission with retry/backoff, completion draining, the
// completion-and-retry state machine, and abort handling.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/makeflow/makeflow-engine/internal/backend"
	"github.com/makeflow/makeflow-engine/internal/backoff"
	"github.com/makeflow/makeflow-engine/internal/digraph"
	"github.com/makeflow/makeflow-engine/internal/recoverylog"
)

// ErrAborted is returned by Run when the process-wide abort flag was
// observed and the loop exited after draining cancellations.
var ErrAborted = errors.New("scheduler: aborted")

// ErrWorkflowFailed is returned by Run when the global failed flag was
// raised (a node exhausted its retry budget) and no new dispatches
// remained possible.
var ErrWorkflowFailed = errors.New("scheduler: workflow failed")

// sentinelRetryExitCode is the exit code that is always retryable
// regardless of the global retry flag ("101" in spec.md §4.5).
const sentinelRetryExitCode = 101

// Options configures a Scheduler. Zero values fall back to the
// defaults from spec.md §4.5/§6.
type Options struct {
	RetryEnabled  bool
	RetryMax      int           // default 100
	SubmitTimeout time.Duration // default 3600s
	PollDeadline  time.Duration // default 5s

	// Now and Sleep are injected for deterministic tests.
	Now   func() time.Time
	Sleep func(time.Duration)

	// CheckTargetsReadable is consulted after a normal exit to enforce
	// target verification; returns the subset of targets that are not
	// readable. If nil, every target is treated as readable (no check);
	// callers that want a filesystem check supply one, as
	// internal/engine does with an os.Stat based check.
	CheckTargetsReadable func(targets []string) []string

	// OnTransition, if set, is called after every state transition is
	// logged, for observability hooks (tracing spans, structured logs).
	OnTransition func(n *digraph.Node, from digraph.State)
}

func (o *Options) setDefaults() {
	if o.RetryMax <= 0 {
		o.RetryMax = 100
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 3600 * time.Second
	}
	if o.PollDeadline <= 0 {
		o.PollDeadline = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	if o.CheckTargetsReadable == nil {
		o.CheckTargetsReadable = func([]string) []string { return nil }
	}
}

// Scheduler drives a Graph to completion against a local and a remote
// BackendAdapter. All state mutation happens on the single goroutine
// that calls Run (spec.md §5: single-threaded cooperative).
type Scheduler struct {
	Graph  *digraph.Graph
	Local  backend.Adapter
	Remote backend.Adapter
	Log    *recoverylog.Log // may be nil to disable recovery logging
	Opts   Options

	abortFlag atomic.Bool
	failed    atomic.Bool
}

// New constructs a Scheduler with defaults applied.
func New(g *digraph.Graph, local, remote backend.Adapter, log *recoverylog.Log, opts Options) *Scheduler {
	opts.setDefaults()
	return &Scheduler{Graph: g, Local: local, Remote: remote, Log: log, Opts: opts}
}

// Abort sets the process-wide abort flag. Non-blocking; the loop
// notices at the top of its next iteration (spec.md §5 cancellation).
func (s *Scheduler) Abort() {
	s.abortFlag.Store(true)
}

// Signal satisfies the CLI's signalListener interface: any OS signal
// delivered to the process is treated as an abort request.
func (s *Scheduler) Signal(os.Signal) {
	s.Abort()
}

// Failed reports whether the global failed flag has been raised.
func (s *Scheduler) Failed() bool {
	return s.failed.Load()
}

func (s *Scheduler) backendFor(n *digraph.Node) backend.Adapter {
	if n.Local {
		return s.Local
	}
	return s.Remote
}

func (s *Scheduler) transition(n *digraph.Node, to digraph.State) error {
	from := n.State
	n.State = to
	if s.Log != nil {
		if err := s.Log.Append(s.Graph, n, s.Opts.Now()); err != nil {
			return fmt.Errorf("node %d: %w", n.ID, err)
		}
	}
	if s.Opts.OnTransition != nil {
		s.Opts.OnTransition(n, from)
	}
	return nil
}

// Run drives the graph to a quiescent terminal state: every node
// COMPLETE/FAILED/ABORTED, or ErrWorkflowFailed/ErrAborted if the run
// did not finish cleanly.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if s.abortFlag.Load() {
			s.abortAll(ctx)
			return ErrAborted
		}

		progressed := s.dispatchPass(ctx)

		if s.Graph.LocalRunning() == 0 && s.Graph.RemoteRunning() == 0 {
			if !s.anyWaiting() {
				if s.failed.Load() {
					return ErrWorkflowFailed
				}
				return nil
			}
			if !progressed {
				// Nothing ready, nothing running: the DAG cannot make
				// further progress (a source never materialized).
				s.failed.Store(true)
				return ErrWorkflowFailed
			}
			continue
		}

		if err := s.drainOnce(ctx); err != nil {
			return err
		}
	}
}

func (s *Scheduler) anyWaiting() bool {
	for _, n := range s.Graph.Nodes {
		if n.State == digraph.Waiting {
			return true
		}
	}
	return false
}

// dispatchPass iterates all nodes in graph order, submitting every
// ready node it encounters, stopping once both tier caps are
// saturated. Returns true if at least one node was dispatched.
func (s *Scheduler) dispatchPass(ctx context.Context) bool {
	if s.failed.Load() {
		return false
	}

	completed := s.Graph.CompletedFiles()
	dispatched := false

	for _, n := range s.Graph.Nodes {
		if s.abortFlag.Load() {
			return dispatched
		}
		if s.Graph.LocalRunning() >= s.Graph.LocalMax && s.Graph.RemoteRunning() >= s.Graph.RemoteMax {
			break
		}
		if !n.Ready(completed) {
			continue
		}

		running := s.Graph.LocalRunning()
		max := s.Graph.LocalMax
		if !n.Local {
			running = s.Graph.RemoteRunning()
			max = s.Graph.RemoteMax
		}
		if running >= max {
			continue
		}

		s.submit(ctx, n)
		dispatched = true
	}
	return dispatched
}

// submit runs the submission-with-retry pathway for one node: transient
// failures back off exponentially (1s, doubling, capped at 60s) until
// Opts.SubmitTimeout elapses, at which point the node goes straight to
// FAILED without incrementing FailureCount (spec.md open question (b)).
//
// The interval sequence itself comes from backoff.ExponentialBackoffPolicy
// (MaxRetries left at 0/unlimited since the stopping condition here is
// wall-clock deadline, not attempt count); actually waiting goes through
// Opts.Sleep rather than backoff.Retrier.Next, since Next hardcodes
// time.Now/time.NewTimer and would defeat the injected clock the
// scheduler's tests rely on for determinism.
func (s *Scheduler) submit(ctx context.Context, n *digraph.Node) {
	adapter := s.backendFor(n)
	start := s.Opts.Now()

	base := backoff.NewExponentialBackoffPolicy(time.Second)
	base.MaxInterval = 60 * time.Second
	// Jitter keeps many nodes whose submissions fail in the same
	// dispatch pass (e.g. a momentarily overloaded backend) from
	// retrying in lockstep.
	policy := backoff.WithJitter(base, backoff.Jitter)
	retryCount := 0

	var targets, sources []string
	sources = append(sources, n.Sources...)
	targets = append(targets, n.Targets...)

	for {
		jobID, err := adapter.Submit(ctx, n.Command, sources, targets)
		if err == nil {
			n.JobID = jobID
			_ = s.transition(n, digraph.Running)
			s.Graph.RunningTable(n.Local)[jobID] = n
			return
		}

		elapsed := s.Opts.Now().Sub(start)
		if elapsed >= s.Opts.SubmitTimeout {
			_ = s.transition(n, digraph.Failed)
			return
		}

		interval, _ := policy.ComputeNextInterval(retryCount, elapsed, err)
		if interval > base.MaxInterval {
			interval = base.MaxInterval
		}
		retryCount++

		s.Opts.Sleep(interval)
	}
}

// drainOnce polls for one completion from whichever tier has running
// jobs, alternating deadlines per spec.md §4.5: when only one tier has
// running jobs it gets the full poll window, otherwise the other tier
// gets a zero wait.
func (s *Scheduler) drainOnce(ctx context.Context) error {
	localHas := s.Graph.LocalRunning() > 0
	remoteHas := s.Graph.RemoteRunning() > 0

	if remoteHas {
		if s.pollTier(ctx, s.Remote, s.Graph.RunningRemote(), s.Opts.PollDeadline) {
			return nil
		}
	}
	if localHas {
		deadline := s.Opts.PollDeadline
		if remoteHas {
			deadline = 0
		}
		if s.pollTier(ctx, s.Local, s.Graph.RunningLocal(), deadline) {
			return nil
		}
	}
	return nil
}

func (s *Scheduler) pollTier(ctx context.Context, adapter backend.Adapter, table map[string]*digraph.Node, deadline time.Duration) bool {
	jobID, info, ok, err := adapter.Wait(ctx, deadline)
	if err != nil || !ok {
		return false
	}
	n, known := table[jobID]
	if !known {
		return false
	}
	delete(table, jobID)
	s.onCompletion(n, info)
	return true
}

// onCompletion applies the RUNNING -> COMPLETE|FAILED transition and
// target verification, then the retry policy if it failed.
func (s *Scheduler) onCompletion(n *digraph.Node, info backend.JobInfo) {
	if info.ExitedNormally && info.ExitCode == 0 {
		if missing := s.Opts.CheckTargetsReadable(n.Targets); len(missing) == 0 {
			for _, t := range n.Targets {
				s.Graph.MarkCompletedFile(t)
			}
			_ = s.transition(n, digraph.Complete)
			return
		}
	}

	_ = s.transition(n, digraph.Failed)
	s.applyRetryPolicy(n, info)
}

// applyRetryPolicy implements spec.md §4.5: FAILED -> WAITING if retry
// is enabled globally or the exit code is the sentinel 101, and the
// (pre-incremented) FailureCount does not exceed RetryMax. Otherwise
// the global failed flag is raised; already-running jobs still drain.
func (s *Scheduler) applyRetryPolicy(n *digraph.Node, info backend.JobInfo) {
	n.FailureCount++

	retryable := s.Opts.RetryEnabled || info.ExitCode == sentinelRetryExitCode
	if retryable && n.FailureCount <= s.Opts.RetryMax {
		_ = s.transition(n, digraph.Waiting)
		return
	}
	s.failed.Store(true)
}

// abortAll cancels every outstanding job on both tiers and logs an
// ABORTED transition for each (spec.md §9 open question (c): the
// original never logged these transitions; this is the correction).
func (s *Scheduler) abortAll(ctx context.Context) {
	for jobID, n := range s.Graph.RunningLocal() {
		_ = s.Local.Remove(ctx, jobID)
		_ = s.transition(n, digraph.Aborted)
		delete(s.Graph.RunningLocal(), jobID)
	}
	for jobID, n := range s.Graph.RunningRemote() {
		_ = s.Remote.Remove(ctx, jobID)
		_ = s.transition(n, digraph.Aborted)
		delete(s.Graph.RunningRemote(), jobID)
	}
}
