package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/makeflow/makeflow-engine/internal/backend"
	"github.com/makeflow/makeflow-engine/internal/backend/fake"
	"github.com/makeflow/makeflow-engine/internal/digraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(time.Duration) {}

func TestRun_LinearChain(t *testing.T) {
	g := digraph.New(4, 4)
	require.NoError(t, g.AddNode(&digraph.Node{Command: "produce-b", Sources: []string{"a"}, Targets: []string{"b"}}))
	require.NoError(t, g.AddNode(&digraph.Node{Command: "produce-c", Sources: []string{"b"}, Targets: []string{"c"}}))
	g.MarkCompletedFile("a")

	local := fake.New()
	remote := fake.New()
	s := New(g, local, remote, nil, Options{Sleep: noSleep})

	err := s.Run(context.Background())
	require.NoError(t, err)

	for _, n := range g.Nodes {
		assert.Equal(t, digraph.Complete, n.State)
	}
	assert.True(t, g.IsFileCompleted("b"))
	assert.True(t, g.IsFileCompleted("c"))
}

func TestRun_DiamondConcurrency(t *testing.T) {
	g := digraph.New(4, 4)
	require.NoError(t, g.AddNode(&digraph.Node{Command: "b", Sources: []string{"a"}, Targets: []string{"b"}}))
	require.NoError(t, g.AddNode(&digraph.Node{Command: "c", Sources: []string{"a"}, Targets: []string{"c"}}))
	require.NoError(t, g.AddNode(&digraph.Node{Command: "d", Sources: []string{"b", "c"}, Targets: []string{"d"}}))
	g.MarkCompletedFile("a")

	remote := fake.New()
	// Delay both first-wave jobs so we can observe both running at once
	// before either completes.
	remote.Outcomes["b"] = []fake.Outcome{{Info: backend.JobInfo{ExitedNormally: true}, Delay: 20 * time.Millisecond}}
	remote.Outcomes["c"] = []fake.Outcome{{Info: backend.JobInfo{ExitedNormally: true}, Delay: 20 * time.Millisecond}}

	local := fake.New()
	var order []string
	s := New(g, local, remote, nil, Options{
		Sleep:        noSleep,
		PollDeadline: 5 * time.Millisecond,
		OnTransition: func(n *digraph.Node, from digraph.State) {
			order = append(order, n.Command+":"+n.State.String())
		},
	})

	require.NoError(t, s.Run(context.Background()))

	for _, n := range g.Nodes {
		assert.Equal(t, digraph.Complete, n.State)
	}
	require.Len(t, order, 6)
	assert.Equal(t, []string{"b:running", "c:running"}, order[:2], "b and c both submitted before either completes")
	assert.Equal(t, []string{"d:running", "d:complete"}, order[4:], "d submitted only after b and c complete")
}

func TestRun_RetryOnSentinelExitCode(t *testing.T) {
	g := digraph.New(1, 1)
	require.NoError(t, g.AddNode(&digraph.Node{Command: "flaky", Local: true, Targets: []string{"out"}}))

	outcomes := make([]fake.Outcome, 4)
	for i := range outcomes {
		outcomes[i] = fake.Outcome{Info: backend.JobInfo{ExitedNormally: true, ExitCode: 101}}
	}
	local := fake.New()
	local.Outcomes["flaky"] = outcomes

	s := New(g, local, fake.New(), nil, Options{Sleep: noSleep, RetryMax: 3})

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrWorkflowFailed)
	assert.Equal(t, digraph.Failed, g.Nodes[0].State)
	assert.Equal(t, 4, g.Nodes[0].FailureCount)
}

func TestRun_AbortPropagation(t *testing.T) {
	g := digraph.New(1, 1)
	require.NoError(t, g.AddNode(&digraph.Node{Command: "long", Local: true, Targets: []string{"out"}}))

	local := fake.New()
	local.Outcomes["long"] = []fake.Outcome{{Info: backend.JobInfo{ExitedNormally: true}, Delay: time.Hour}}

	s := New(g, local, fake.New(), nil, Options{Sleep: noSleep, PollDeadline: time.Millisecond})

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Abort()
	}()

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, digraph.Aborted, g.Nodes[0].State)
	assert.Equal(t, 0, local.Pending(), "abort must remove the outstanding job")
}

func TestRun_CapCompliance(t *testing.T) {
	g := digraph.New(2, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, g.AddNode(&digraph.Node{Command: "job", Local: true, Targets: []string{string(rune('a' + i))}}))
	}

	local := fake.New()
	local.Outcomes["job"] = []fake.Outcome{
		{Info: backend.JobInfo{ExitedNormally: true}, Delay: 5 * time.Millisecond},
		{Info: backend.JobInfo{ExitedNormally: true}, Delay: 5 * time.Millisecond},
		{Info: backend.JobInfo{ExitedNormally: true}, Delay: 5 * time.Millisecond},
		{Info: backend.JobInfo{ExitedNormally: true}, Delay: 5 * time.Millisecond},
		{Info: backend.JobInfo{ExitedNormally: true}, Delay: 5 * time.Millisecond},
	}

	var maxObserved int
	s := New(g, local, fake.New(), nil, Options{
		Sleep:        noSleep,
		PollDeadline: 2 * time.Millisecond,
		OnTransition: func(n *digraph.Node, from digraph.State) {
			if running := g.LocalRunning(); running > maxObserved {
				maxObserved = running
			}
		},
	})

	require.NoError(t, s.Run(context.Background()))
	assert.LessOrEqual(t, maxObserved, 2)
}

func TestRun_MissingTargetForcesFailure(t *testing.T) {
	g := digraph.New(1, 1)
	require.NoError(t, g.AddNode(&digraph.Node{Command: "job", Local: true, Targets: []string{"out"}}))

	local := fake.New()
	s := New(g, local, fake.New(), nil, Options{
		Sleep:                noSleep,
		RetryMax:             0,
		CheckTargetsReadable: func(targets []string) []string { return targets },
	})

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrWorkflowFailed)
	assert.Equal(t, digraph.Failed, g.Nodes[0].State)
}
