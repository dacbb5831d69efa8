// Package catalog implements the optional periodic UDP announcement of
// this engine's project/port/priority to a catalog server. Per
// spec.md §5, the announcement shares no state with scheduling beyond
// reading those three fields, and per Design Note "Signal-driven
// catalog announce" it is driven by a cooperative periodic task
// (robfig/cron's "@every" schedule) instead of a SIGALRM handler, so
// no I/O ever happens inside a signal handler.
package catalog

import (
	"fmt"
	"net"

	"github.com/robfig/cron/v3"
)

const catalogUpdateInterval = "@every 300s"

// Announcer periodically sends a UDP packet describing this engine to
// a catalog host.
type Announcer struct {
	Project  string
	Port     int
	Priority int

	Host string // catalog server host:port

	cron *cron.Cron
	conn net.Conn
}

// Start dials Host over UDP and schedules the periodic send; an
// immediate announcement is sent before the first tick, matching
// Makeflow starting to advertise as soon as the DAG begins.
func (a *Announcer) Start() error {
	conn, err := net.Dial("udp", a.Host)
	if err != nil {
		return fmt.Errorf("catalog: dial %s: %w", a.Host, err)
	}
	a.conn = conn

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(catalogUpdateInterval, a.send); err != nil {
		return fmt.Errorf("catalog: schedule announce: %w", err)
	}
	a.cron.Start()

	a.send()
	return nil
}

// Stop halts the schedule and closes the socket.
func (a *Announcer) Stop() {
	if a.cron != nil {
		a.cron.Stop()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

func (a *Announcer) send() {
	if a.conn == nil {
		return
	}
	msg := fmt.Sprintf("type wq_master\nproject %s\nport %d\npriority %d\n", a.Project, a.Port, a.Priority)
	_, _ = a.conn.Write([]byte(msg))
}
