package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NoStagingConfigured(t *testing.T) {
	b, err := New(context.Background(), Config{DockerHost: "unix:///var/run/docker.sock", Image: "busybox"})
	require.NoError(t, err)
	assert.Nil(t, b.sftpClient)
	assert.Nil(t, b.sshClient)
}

func TestSetOptionsAndLogFile(t *testing.T) {
	b, err := New(context.Background(), Config{DockerHost: "unix:///var/run/docker.sock", Image: "busybox"})
	require.NoError(t, err)

	b.SetOptions("--memory=512m")
	assert.Equal(t, "--memory=512m", b.opts)

	require.NoError(t, b.SetLogFile("/tmp/cluster.log"))
	assert.Equal(t, "/tmp/cluster.log", b.logPath)
}

func TestRemove_ClearsPendingEntry(t *testing.T) {
	b, err := New(context.Background(), Config{DockerHost: "unix:///var/run/docker.sock", Image: "busybox"})
	require.NoError(t, err)

	b.pending["abc123"] = pending{containerID: "abc123"}
	_ = b.Remove(context.Background(), "abc123")
	_, ok := b.pending["abc123"]
	assert.False(t, ok)
}
