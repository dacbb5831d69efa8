package catalog

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnouncer_SendsImmediatelyOnStart(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	a := &Announcer{Project: "demo", Port: 9000, Priority: 1, Host: pc.LocalAddr().String()}
	require.NoError(t, a.Start())
	defer a.Stop()

	buf := make([]byte, 1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	msg := string(buf[:n])
	assert.Contains(t, msg, "project demo")
	assert.Contains(t, msg, "port 9000")
}
