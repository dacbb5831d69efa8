package digraph

import (
	"fmt"
	"os"
)

// Graph is the in-memory DAG: the set of nodes, the file-producer
// index, and the running-job tables the scheduler drains completions
// from. It implements invariants I1-I6 of the data model: a filename
// has at most one producer (I2), every source is resolvable before
// scheduling starts (I1), and the running tables stay consistent with
// their counters (I3, I4).
type Graph struct {
	Nodes []*Node

	nodeByID   map[int]*Node
	producerOf map[string]*Node

	completedFiles map[string]struct{}

	runningLocal  map[string]*Node // backend job id -> node
	runningRemote map[string]*Node

	LocalMax  int
	RemoteMax int
}

// New builds an empty Graph with the given concurrency caps.
func New(localMax, remoteMax int) *Graph {
	return &Graph{
		nodeByID:       make(map[int]*Node),
		producerOf:     make(map[string]*Node),
		completedFiles: make(map[string]struct{}),
		runningLocal:   make(map[string]*Node),
		runningRemote:  make(map[string]*Node),
		LocalMax:       localMax,
		RemoteMax:      remoteMax,
	}
}

// AddNode inserts a node at the next dense id and registers its
// targets in producerOf. A duplicate target is a fatal parse error
// (invariant I2) and the node is not added.
func (g *Graph) AddNode(n *Node) error {
	n.ID = len(g.Nodes)
	for _, t := range n.Targets {
		if existing, ok := g.producerOf[t]; ok {
			return fmt.Errorf("duplicate target %q: declared by node at line %d and node at line %d", t, existing.Line, n.Line)
		}
	}
	for _, t := range n.Targets {
		g.producerOf[t] = n
	}
	g.Nodes = append(g.Nodes, n)
	g.nodeByID[n.ID] = n
	return nil
}

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id int) *Node {
	return g.nodeByID[id]
}

// ProducerOf returns the node that declares filename as a target, if any.
func (g *Graph) ProducerOf(filename string) (*Node, bool) {
	n, ok := g.producerOf[filename]
	return n, ok
}

// MarkCompletedFile records filename as produced, either because its
// node reached Complete or because it was found to already exist on
// disk during precheck/recovery.
func (g *Graph) MarkCompletedFile(filename string) {
	g.completedFiles[filename] = struct{}{}
}

// CompletedFiles returns the live set backing readiness checks. Callers
// must not mutate the returned map.
func (g *Graph) CompletedFiles() map[string]struct{} {
	return g.completedFiles
}

// IsFileCompleted reports whether filename has been observed complete.
func (g *Graph) IsFileCompleted(filename string) bool {
	_, ok := g.completedFiles[filename]
	return ok
}

// RemoveCompletedFile un-marks filename, used by the clean pathway.
func (g *Graph) RemoveCompletedFile(filename string) {
	delete(g.completedFiles, filename)
}

// CheckSourcesResolvable enforces invariant I1: every source filename
// in every node must either already be known complete, have a producer
// node, or exist on the real filesystem. Returns the first violation.
func (g *Graph) CheckSourcesResolvable(statFn func(string) bool) error {
	if statFn == nil {
		statFn = func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		}
	}
	for _, n := range g.Nodes {
		for _, src := range n.Sources {
			if g.IsFileCompleted(src) {
				continue
			}
			if _, ok := g.ProducerOf(src); ok {
				continue
			}
			if statFn(src) {
				g.MarkCompletedFile(src)
				continue
			}
			return fmt.Errorf("line %d: source file %q has no producer and does not exist", n.Line, src)
		}
	}
	return nil
}

// RunningLocal returns the live job-id -> node table for the local tier.
func (g *Graph) RunningLocal() map[string]*Node { return g.runningLocal }

// RunningRemote returns the live job-id -> node table for the remote tier.
func (g *Graph) RunningRemote() map[string]*Node { return g.runningRemote }

// RunningTable returns the tier-appropriate table for a node (invariant I4).
func (g *Graph) RunningTable(local bool) map[string]*Node {
	if local {
		return g.runningLocal
	}
	return g.runningRemote
}

// LocalRunning and RemoteRunning satisfy invariant I3: they are always
// derived from table length, never tracked independently, so they
// cannot drift from |runningLocal|/|runningRemote|.
func (g *Graph) LocalRunning() int  { return len(g.runningLocal) }
func (g *Graph) RemoteRunning() int { return len(g.runningRemote) }

// CountStates returns a histogram indexed by State, plus the total
// node count, matching the fields the recovery log records on every
// transition.
func (g *Graph) CountStates() (counts [int(stateCount)]int, total int) {
	for _, n := range g.Nodes {
		counts[n.State]++
	}
	return counts, len(g.Nodes)
}
