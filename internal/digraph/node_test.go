package digraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNode_Ready(t *testing.T) {
	n := &Node{State: Waiting, Sources: []string{"a", "b"}}

	completed := map[string]struct{}{"a": {}}
	assert.False(t, n.Ready(completed))

	completed["b"] = struct{}{}
	assert.True(t, n.Ready(completed))
}

func TestNode_NotReadyUnlessWaiting(t *testing.T) {
	n := &Node{State: Running}
	assert.False(t, n.Ready(map[string]struct{}{}))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "waiting", Waiting.String())
	assert.Equal(t, "complete", Complete.String())
	assert.Equal(t, "unknown", State(99).String())
}
