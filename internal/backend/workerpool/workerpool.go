// Package workerpool implements the BackendAdapter that drives
// Makeflow's distributed worker-pool model: jobs are described as JSON
// messages exchanged with a pool manager over a websocket control
// channel (github.com/coder/websocket), while the source files a job
// needs are uploaded to an S3-compatible object store
// (github.com/minio/minio-go/v7) so workers with no shared filesystem
// with the engine can still read inputs. Target files are not
// downloaded from the store by this backend. Job ids
// are github.com/google/uuid values so the manager can shard them
// across workers without coordinating with the engine on numbering.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/makeflow/makeflow-engine/internal/backend"
)

// Config describes how to reach the pool manager and the staging
// bucket.
type Config struct {
	ManagerURL string // ws:// or wss:// control-channel endpoint

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseTLS    bool
	Bucket      string
}

type submitMsg struct {
	Type      string   `json:"type"`
	JobID     string   `json:"job_id"`
	Command   string   `json:"command"`
	Sources   []string `json:"sources"`
	Targets   []string `json:"targets"`
	BatchOpts string   `json:"batch_options,omitempty"`
}

type removeMsg struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

type completionMsg struct {
	Type           string `json:"type"`
	JobID          string `json:"job_id"`
	ExitedNormally bool   `json:"exited_normally"`
	ExitCode       int    `json:"exit_code"`
	ExitSignal     string `json:"exit_signal,omitempty"`
}

// Backend talks to a worker-pool manager over a persistent websocket.
type Backend struct {
	cfg     Config
	conn    *websocket.Conn
	s3      *minio.Client
	logPath string
	opts    string

	mu          sync.Mutex
	completions map[string]completionMsg
	waiters     chan struct{}
}

// Dial opens the control-channel connection and the object-store
// client, and starts the background reader that demultiplexes
// completion notices by job id.
func Dial(ctx context.Context, cfg Config) (*Backend, error) {
	conn, _, err := websocket.Dial(ctx, cfg.ManagerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("workerpool: dial %s: %w", cfg.ManagerURL, err)
	}

	s3, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseTLS,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "minio client init failed")
		return nil, fmt.Errorf("workerpool: minio client: %w", err)
	}

	b := &Backend{
		cfg:         cfg,
		conn:        conn,
		s3:          s3,
		completions: make(map[string]completionMsg),
		waiters:     make(chan struct{}, 1),
	}

	go b.readLoop()

	return b, nil
}

func (b *Backend) readLoop() {
	ctx := context.Background()
	for {
		var msg completionMsg
		if err := wsjson.Read(ctx, b.conn, &msg); err != nil {
			return
		}
		if msg.Type != "completion" {
			continue
		}
		b.mu.Lock()
		b.completions[msg.JobID] = msg
		b.mu.Unlock()

		select {
		case b.waiters <- struct{}{}:
		default:
		}
	}
}

// stageSources uploads every declared source to the shared bucket
// under its job id so a worker with no local copy can fetch it.
func (b *Backend) stageSources(ctx context.Context, jobID string, sources []string) error {
	for _, src := range sources {
		key := jobID + "/" + src
		if _, err := b.s3.FPutObject(ctx, b.cfg.Bucket, key, src, minio.PutObjectOptions{}); err != nil {
			return fmt.Errorf("workerpool: stage %s: %w", src, err)
		}
	}
	return nil
}

func (b *Backend) Submit(ctx context.Context, command string, sources, targets []string) (string, error) {
	jobID := uuid.NewString()

	if err := b.stageSources(ctx, jobID, sources); err != nil {
		return "", err
	}

	msg := submitMsg{
		Type:      "submit",
		JobID:     jobID,
		Command:   command,
		Sources:   sources,
		Targets:   targets,
		BatchOpts: b.opts,
	}
	if err := wsjson.Write(ctx, b.conn, msg); err != nil {
		return "", fmt.Errorf("workerpool: submit %s: %w", jobID, err)
	}

	return jobID, nil
}

func (b *Backend) Wait(ctx context.Context, deadline time.Duration) (string, backend.JobInfo, bool, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		b.mu.Lock()
		for jobID, msg := range b.completions {
			delete(b.completions, jobID)
			b.mu.Unlock()
			return jobID, backend.JobInfo{
				ExitedNormally: msg.ExitedNormally,
				ExitCode:       msg.ExitCode,
				ExitSignal:     msg.ExitSignal,
			}, true, nil
		}
		b.mu.Unlock()

		select {
		case <-b.waiters:
			continue
		case <-timer.C:
			return "", backend.JobInfo{}, false, nil
		case <-ctx.Done():
			return "", backend.JobInfo{}, false, ctx.Err()
		}
	}
}

func (b *Backend) Remove(ctx context.Context, jobID string) error {
	return wsjson.Write(ctx, b.conn, removeMsg{Type: "remove", JobID: jobID})
}

func (b *Backend) SetOptions(opts string) { b.opts = opts }

func (b *Backend) SetLogFile(path string) error {
	b.logPath = path
	return nil
}

// Close tears down the control-channel connection.
func (b *Backend) Close() error {
	return b.conn.Close(websocket.StatusNormalClosure, "engine shutdown")
}
