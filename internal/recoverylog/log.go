// Package recoverylog implements the append-only, fsync'd transition
// log that lets the engine resume idempotently after a crash.
package recoverylog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/makeflow/makeflow-engine/internal/digraph"
)

// ErrCorrupt is returned by Replay when the log file cannot be
// parsed as a sequence of well-formed records.
type ErrCorrupt struct {
	Line int
	Text string
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("recovery log corrupted on line %d: %q", e.Line, e.Text)
}

// Record is one line of the recovery log:
// "ts node_id new_state job_id w r c f a total".
type Record struct {
	Timestamp int64
	NodeID    int
	State     digraph.State
	JobID     string
	Waiting   int
	RunningC  int
	Complete  int
	Failed    int
	Aborted   int
	Total     int
}

// Log is the append-only recovery log. Every transition is written,
// flushed, and fsync'd before Append returns, so a crash immediately
// after a transition never loses it (spec.md §5 ordering guarantee).
type Log struct {
	path string
	file *os.File
}

// Open opens (or creates) the log at path in append mode, ready for
// new records. Use Replay first if resuming from an existing log.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open recovery log %s: %w", path, err)
	}
	return &Log{path: path, file: f}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Append writes one record and fsyncs before returning. now is
// injected so callers (and tests) control the timestamp deterministically.
func (l *Log) Append(g *digraph.Graph, n *digraph.Node, now time.Time) error {
	counts, total := g.CountStates()
	line := fmt.Sprintf("%d %d %d %s %d %d %d %d %d %d\n",
		now.Unix(), n.ID, int(n.State), jobIDField(n.JobID),
		counts[digraph.Waiting], counts[digraph.Running], counts[digraph.Complete],
		counts[digraph.Failed], counts[digraph.Aborted], total,
	)
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("append recovery log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("fsync recovery log: %w", err)
	}
	return nil
}

func jobIDField(id string) string {
	if id == "" {
		return "-"
	}
	return id
}

// Replay reads every record in the log at path (if it exists) and
// overwrites each referenced node's State and JobID. A line that does
// not parse as the four leading integer/token fields is fatal
// corruption: the engine must not silently continue against an
// unreadable log (spec.md §7 kind (e)).
func Replay(path string, g *digraph.Graph) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open recovery log %s for replay: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		rec, ok := parseRecord(line)
		if !ok {
			return &ErrCorrupt{Line: lineNum, Text: line}
		}
		n := g.NodeByID(rec.NodeID)
		if n == nil {
			// Unknown node id in an otherwise well-formed record is
			// accepted silently per spec.md §4.4.
			continue
		}
		n.State = rec.State
		n.JobID = rec.JobID
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading recovery log: %w", err)
	}
	return nil
}

func parseRecord(line string) (Record, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Record{}, false
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, false
	}
	nodeID, err := strconv.Atoi(fields[1])
	if err != nil {
		return Record{}, false
	}
	stateVal, err := strconv.Atoi(fields[2])
	if err != nil {
		return Record{}, false
	}
	jobID := fields[3]
	if jobID == "-" {
		jobID = ""
	}

	rec := Record{
		Timestamp: ts,
		NodeID:    nodeID,
		State:     digraph.State(stateVal),
		JobID:     jobID,
	}

	if len(fields) >= 10 {
		rec.Waiting, _ = strconv.Atoi(fields[4])
		rec.RunningC, _ = strconv.Atoi(fields[5])
		rec.Complete, _ = strconv.Atoi(fields[6])
		rec.Failed, _ = strconv.Atoi(fields[7])
		rec.Aborted, _ = strconv.Atoi(fields[8])
		rec.Total, _ = strconv.Atoi(fields[9])
	}

	return rec, true
}

// Repair applies the post-replay repair pass described in spec.md
// §4.4: a node still RUNNING on the remote tier under the cluster
// backend is assumed to have outlived the engine and is reinserted
// into the running table; any other RUNNING or FAILED node has its
// targets cleaned and is reset to WAITING for retry. COMPLETE and
// ABORTED nodes are left untouched.
func Repair(g *digraph.Graph, clusterBackendActive bool, cleanNode func(n *digraph.Node)) {
	for _, n := range g.Nodes {
		switch {
		case n.State == digraph.Running && !n.Local && clusterBackendActive:
			g.RunningRemote()[n.JobID] = n
		case n.State == digraph.Running || n.State == digraph.Failed:
			if cleanNode != nil {
				cleanNode(n)
			}
			n.State = digraph.Waiting
		}
	}
}
