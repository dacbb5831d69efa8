package recoverylog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/makeflow/makeflow-engine/internal/digraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGraphWithNodes(t *testing.T, n int) *digraph.Graph {
	t.Helper()
	g := digraph.New(4, 4)
	for i := 0; i < n; i++ {
		require.NoError(t, g.AddNode(&digraph.Node{Targets: []string{string(rune('a' + i))}}))
	}
	return g
}

func TestAppendAndReplay_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log")

	g := newGraphWithNodes(t, 2)
	l, err := Open(path)
	require.NoError(t, err)

	g.Nodes[0].State = digraph.Running
	g.Nodes[0].JobID = "job-1"
	require.NoError(t, l.Append(g, g.Nodes[0], time.Unix(100, 0)))

	g.Nodes[0].State = digraph.Complete
	require.NoError(t, l.Append(g, g.Nodes[0], time.Unix(101, 0)))
	require.NoError(t, l.Close())

	// Fresh graph, replay onto it.
	g2 := newGraphWithNodes(t, 2)
	require.NoError(t, Replay(path, g2))

	assert.Equal(t, digraph.Complete, g2.Nodes[0].State)
	assert.Equal(t, "job-1", g2.Nodes[0].JobID)
	assert.Equal(t, digraph.Waiting, g2.Nodes[1].State)
}

func TestReplay_MissingFileIsNotAnError(t *testing.T) {
	g := newGraphWithNodes(t, 1)
	err := Replay(filepath.Join(t.TempDir(), "nope"), g)
	require.NoError(t, err)
}

func TestReplay_CorruptLineIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log")
	require.NoError(t, os.WriteFile(path, []byte("not a valid record\n"), 0644))

	g := newGraphWithNodes(t, 1)
	err := Replay(path, g)
	require.Error(t, err)
	var corrupt *ErrCorrupt
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, 1, corrupt.Line)
}

func TestReplay_UnknownNodeIDSilentlyAccepted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log")
	require.NoError(t, os.WriteFile(path, []byte("1 999 2 - 0 0 1 0 0 1\n"), 0644))

	g := newGraphWithNodes(t, 1)
	require.NoError(t, Replay(path, g))
}

func TestRepair_RunningUnderClusterBackendIsReinserted(t *testing.T) {
	g := newGraphWithNodes(t, 1)
	g.Nodes[0].State = digraph.Running
	g.Nodes[0].Local = false
	g.Nodes[0].JobID = "remote-job"

	Repair(g, true, nil)

	assert.Equal(t, digraph.Running, g.Nodes[0].State)
	assert.Same(t, g.Nodes[0], g.RunningRemote()["remote-job"])
}

func TestRepair_RunningOrFailedResetToWaiting(t *testing.T) {
	g := newGraphWithNodes(t, 2)
	g.Nodes[0].State = digraph.Running
	g.Nodes[1].State = digraph.Failed

	var cleaned []int
	Repair(g, false, func(n *digraph.Node) { cleaned = append(cleaned, n.ID) })

	assert.Equal(t, digraph.Waiting, g.Nodes[0].State)
	assert.Equal(t, digraph.Waiting, g.Nodes[1].State)
	assert.ElementsMatch(t, []int{0, 1}, cleaned)
}

func TestRepair_CompleteAndAbortedPreserved(t *testing.T) {
	g := newGraphWithNodes(t, 2)
	g.Nodes[0].State = digraph.Complete
	g.Nodes[1].State = digraph.Aborted

	Repair(g, false, func(n *digraph.Node) { t.Fatal("should not clean terminal nodes") })

	assert.Equal(t, digraph.Complete, g.Nodes[0].State)
	assert.Equal(t, digraph.Aborted, g.Nodes[1].State)
}
