// Package engine wires the individual components — parser, graph,
// recovery log, scheduler, and backend adapter — into the single
// top-level object cmd/makeflow drives: parse, precheck, recover,
// run, clean.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/makeflow/makeflow-engine/internal/backend"
	"github.com/makeflow/makeflow-engine/internal/backend/local"
	"github.com/makeflow/makeflow-engine/internal/dagfile"
	"github.com/makeflow/makeflow-engine/internal/digraph"
	"github.com/makeflow/makeflow-engine/internal/engineconfig"
	"github.com/makeflow/makeflow-engine/internal/recoverylog"
	"github.com/makeflow/makeflow-engine/internal/scheduler"
	"github.com/makeflow/makeflow-engine/internal/translate"
)

const tracerName = "github.com/makeflow/makeflow-engine/internal/engine"

// recoveryLogPath is derived from the dag file name, mirroring the
// original's "<dagfile>.makeflowlog" convention.
func recoveryLogPath(dagFile string) string {
	return dagFile + ".makeflowlog"
}

// Engine owns the full lifecycle of one workflow run: loading the DAG,
// verifying invariant I1, replaying/repairing the recovery log, and
// driving the Scheduler against whichever BackendAdapter the
// configuration selects.
type Engine struct {
	Config engineconfig.Config
	Logger *slog.Logger

	Graph       *digraph.Graph
	Translator  *translate.Translator
	RecoveryLog *recoverylog.Log
	Scheduler   *scheduler.Scheduler

	Local  backend.Adapter
	Remote backend.Adapter

	tracer trace.Tracer
}

// New builds an Engine; the returned value still needs Load before Run.
//
// remote is the adapter for the engine's default execution tier, i.e.
// whatever Config.BackendType selects. Nodes without a "LOCAL" prefix
// in the DAG file run there; nodes with it always run on the separate
// local-fork Engine.Local tier regardless of BackendType. Engine.Local
// is always a fresh *local.Backend built here; when BackendType is
// itself BackendLocal, cmd/makeflow passes another *local.Backend as
// remote, so both tiers fork locally through separate Backend values.
func New(cfg engineconfig.Config, logger *slog.Logger, remote backend.Adapter) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Config: cfg,
		Logger: logger,
		Local:  local.New(),
		Remote: remote,
		tracer: otel.Tracer(tracerName),
	}
}

// Load parses the DAG file named by Config.DAGFile, wiring filename
// translation when the selected backend sandboxes files (cluster and
// worker-pool both do; local does not). A translated name is only
// backed by a symlink for the cluster backend (spec.md §4.2), and
// never in a non-execution mode (-C/-D/-c): clean needs the reverse
// map to find originals, not fresh symlinks, and check/display never
// touch the filesystem at all.
func (e *Engine) Load() error {
	f, err := os.Open(e.Config.DAGFile)
	if err != nil {
		return fmt.Errorf("engine: open dag file: %w", err)
	}
	defer f.Close()

	sandboxes := e.Config.BackendType != engineconfig.BackendLocal
	if sandboxes {
		e.Translator = translate.New()
	}

	nonExecution := e.Config.SyntaxOnly || e.Config.EmitGraphviz || e.Config.Clean
	materialize := sandboxes && e.Config.BackendType == engineconfig.BackendCluster && !nonExecution

	p := dagfile.New(dagfile.Options{
		Translator:          e.Translator,
		Sandboxes:           sandboxes,
		MaterializeSymlinks: materialize,
	})

	g, err := p.Parse(f)
	if err != nil {
		return err
	}
	g.LocalMax = e.Config.LocalMax
	g.RemoteMax = e.Config.RemoteMax
	e.Graph = g
	return nil
}

// SuggestedWorkerCount applies the "-a width|group" heuristic from
// Config.AutoProvisionBy to size a worker-pool ahead of dispatch. It
// returns 0 (no suggestion) when auto-provisioning isn't requested.
func (e *Engine) SuggestedWorkerCount() int {
	switch e.Config.AutoProvisionBy {
	case "width":
		return e.Graph.Width()
	case "group":
		return e.Graph.LargestSingleParentGroup(e.Config.AutoProvisionCeiling)
	default:
		return 0
	}
}

// Precheck enforces invariant I1 before scheduling begins: every
// source must resolve to a producer, a completed file, or an existing
// file on disk.
func (e *Engine) Precheck() error {
	if e.Config.SkipPrecheck {
		return nil
	}
	return e.Graph.CheckSourcesResolvable(nil)
}

// Recover replays the recovery log (if one exists from a prior run of
// the same DAG file) and applies the post-replay repair pass, then
// opens the log for new appends.
func (e *Engine) Recover() error {
	path := recoveryLogPath(e.Config.DAGFile)

	if err := recoverylog.Replay(path, e.Graph); err != nil {
		return fmt.Errorf("engine: replay recovery log: %w", err)
	}

	clusterActive := e.Config.BackendType == engineconfig.BackendCluster
	recoverylog.Repair(e.Graph, clusterActive, func(n *digraph.Node) {
		for _, t := range n.Targets {
			e.Graph.RemoveCompletedFile(t)
			_ = os.Remove(t)
		}
	})
	for _, n := range e.Graph.Nodes {
		if n.State == digraph.Complete {
			for _, t := range n.Targets {
				e.Graph.MarkCompletedFile(t)
			}
		}
	}

	log, err := recoverylog.Open(path)
	if err != nil {
		return fmt.Errorf("engine: open recovery log: %w", err)
	}
	e.RecoveryLog = log
	return nil
}

// Signal lets Engine itself serve as the CLI's signal target: it
// forwards to the Scheduler once Run has built one, and is a no-op
// before that (a signal delivered before scheduling starts has nothing
// running to abort).
func (e *Engine) Signal(sig os.Signal) {
	if e.Scheduler != nil {
		e.Scheduler.Signal(sig)
	}
}

// Run drives the graph to completion, emitting one span event per
// state transition on a root "makeflow.run" span.
func (e *Engine) Run(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "makeflow.run")
	defer span.End()

	e.Scheduler = scheduler.New(e.Graph, e.Local, e.Remote, e.RecoveryLog, scheduler.Options{
		RetryEnabled:  e.Config.RetryEnabled,
		RetryMax:      e.Config.RetryMax,
		SubmitTimeout: e.Config.SubmitTimeout,
		CheckTargetsReadable: func(targets []string) []string {
			var missing []string
			for _, t := range targets {
				if _, err := os.Stat(t); err != nil {
					missing = append(missing, t)
				}
			}
			return missing
		},
		OnTransition: func(n *digraph.Node, from digraph.State) {
			span.AddEvent("transition", trace.WithAttributes(
				attribute.Int("node.id", n.ID),
				attribute.String("node.from_state", from.String()),
				attribute.String("node.to_state", n.State.String()),
			))
			e.Logger.Debug("transition",
				"node", n.ID, "from", from.String(), "to", n.State.String())
		},
	})
	if e.Remote != nil {
		e.Remote.SetOptions(e.Config.BatchOptions)
		if e.Config.BackendLogPath != "" {
			_ = e.Remote.SetLogFile(e.Config.BackendLogPath)
		}
	}

	err := e.Scheduler.Run(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Clean runs the "-c" pathway and deletes the recovery log file.
func (e *Engine) Clean(out io.Writer) error {
	c := &digraph.Cleaner{
		Translator: e.Translator,
		Preserve:   e.Config.PreserveSymlinks,
		Log: func(format string, args ...any) {
			fmt.Fprintf(out, format+"\n", args...)
		},
	}
	c.Clean(e.Graph)
	if err := os.Remove(recoveryLogPath(e.Config.DAGFile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close releases the recovery log file handle.
func (e *Engine) Close() error {
	if e.RecoveryLog != nil {
		return e.RecoveryLog.Close()
	}
	return nil
}
