// Package cluster implements the BackendAdapter that submits commands
// as short-lived containers to a cluster's Docker-compatible endpoint
// via github.com/moby/moby/client, staging the sandbox's declared
// source files into the container's working directory over SFTP
// (github.com/pkg/sftp) when the cluster head node does not share a
// filesystem with the engine host.
package cluster

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/makeflow/makeflow-engine/internal/backend"
)

// Config describes how to reach the cluster's container runtime and,
// optionally, a staging host for SFTP file transfer.
type Config struct {
	DockerHost string // e.g. "tcp://cluster-head:2376"
	Image      string // image used to run each translated command

	StagingAddr string // "host:22"; empty disables SFTP staging
	StagingUser string
	StagingAuth ssh.AuthMethod
	StagingDir  string
}

type pending struct {
	containerID string
	statusCh    <-chan container.WaitResponse
	errCh       <-chan error
}

// Backend submits one container per job to a cluster's Docker API.
type Backend struct {
	cfg     Config
	cli     *client.Client
	logPath string
	opts    string

	sshClient  *ssh.Client
	sftpClient *sftp.Client

	mu      sync.Mutex
	pending map[string]pending
}

// New dials the cluster's container runtime (and, if configured, its
// SFTP staging host) and returns a ready Backend.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	cli, err := client.NewClientWithOpts(client.WithHost(cfg.DockerHost), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("cluster: connect to %s: %w", cfg.DockerHost, err)
	}

	b := &Backend{cfg: cfg, cli: cli, pending: make(map[string]pending)}

	if cfg.StagingAddr != "" {
		sshClient, err := ssh.Dial("tcp", cfg.StagingAddr, &ssh.ClientConfig{
			User:            cfg.StagingUser,
			Auth:            []ssh.AuthMethod{cfg.StagingAuth},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         10 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("cluster: ssh dial %s: %w", cfg.StagingAddr, err)
		}
		sftpClient, err := sftp.NewClient(sshClient)
		if err != nil {
			sshClient.Close()
			return nil, fmt.Errorf("cluster: sftp handshake: %w", err)
		}
		b.sshClient = sshClient
		b.sftpClient = sftpClient
	}

	return b, nil
}

// stageSources copies each local source file to the staging directory
// over SFTP so the container (which may run on a host with no shared
// filesystem) can read it.
func (b *Backend) stageSources(sources []string) error {
	if b.sftpClient == nil {
		return nil
	}
	if err := b.sftpClient.MkdirAll(b.cfg.StagingDir); err != nil {
		return fmt.Errorf("cluster: mkdir %s: %w", b.cfg.StagingDir, err)
	}
	for _, src := range sources {
		local, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("cluster: open source %s: %w", src, err)
		}
		remotePath := filepath.Join(b.cfg.StagingDir, filepath.Base(src))
		remote, err := b.sftpClient.Create(remotePath)
		if err != nil {
			local.Close()
			return fmt.Errorf("cluster: create remote %s: %w", remotePath, err)
		}
		_, copyErr := io.Copy(remote, local)
		local.Close()
		remote.Close()
		if copyErr != nil {
			return fmt.Errorf("cluster: stage %s: %w", src, copyErr)
		}
	}
	return nil
}

func (b *Backend) Submit(ctx context.Context, command string, sources, _ []string) (string, error) {
	if err := b.stageSources(sources); err != nil {
		return "", err
	}

	name := "makeflow-" + uuid.NewString()
	cfg := &container.Config{
		Image: b.cfg.Image,
		Cmd:   []string{"/bin/sh", "-c", command},
	}
	if b.opts != "" {
		cfg.Env = append(cfg.Env, "MAKEFLOW_BATCH_OPTIONS="+b.opts)
	}
	hostCfg := &container.HostConfig{AutoRemove: false}
	if b.cfg.StagingDir != "" {
		hostCfg.Binds = []string{b.cfg.StagingDir + ":/workdir"}
	}

	created, err := b.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("cluster: create container: %w", err)
	}
	if err := b.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("cluster: start container %s: %w", created.ID, err)
	}

	statusCh, errCh := b.cli.ContainerWait(context.Background(), created.ID, container.WaitConditionNotRunning)

	b.mu.Lock()
	b.pending[created.ID] = pending{containerID: created.ID, statusCh: statusCh, errCh: errCh}
	b.mu.Unlock()

	return created.ID, nil
}

func (b *Backend) Wait(ctx context.Context, deadline time.Duration) (string, backend.JobInfo, bool, error) {
	b.mu.Lock()
	jobs := make([]pending, 0, len(b.pending))
	for _, p := range b.pending {
		jobs = append(jobs, p)
	}
	b.mu.Unlock()

	if len(jobs) == 0 {
		select {
		case <-time.After(deadline):
			return "", backend.JobInfo{}, false, nil
		case <-ctx.Done():
			return "", backend.JobInfo{}, false, ctx.Err()
		}
	}

	cases := make(chan struct {
		id   string
		info backend.JobInfo
	}, len(jobs))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, p := range jobs {
		wg.Add(1)
		go func(p pending) {
			defer wg.Done()
			select {
			case status := <-p.statusCh:
				info := backend.JobInfo{ExitedNormally: true, ExitCode: int(status.StatusCode)}
				if status.Error != nil {
					info.ExitedNormally = false
					info.ExitSignal = status.Error.Message
				}
				select {
				case cases <- struct {
					id   string
					info backend.JobInfo
				}{p.containerID, info}:
				case <-stop:
				}
			case err := <-p.errCh:
				select {
				case cases <- struct {
					id   string
					info backend.JobInfo
				}{p.containerID, backend.JobInfo{ExitedNormally: false, ExitSignal: err.Error()}}:
				case <-stop:
				}
			case <-stop:
			}
		}(p)
	}

	select {
	case r := <-cases:
		close(stop)
		b.mu.Lock()
		delete(b.pending, r.id)
		b.mu.Unlock()
		return r.id, r.info, true, nil
	case <-time.After(deadline):
		close(stop)
		return "", backend.JobInfo{}, false, nil
	case <-ctx.Done():
		close(stop)
		return "", backend.JobInfo{}, false, ctx.Err()
	}
}

func (b *Backend) Remove(ctx context.Context, jobID string) error {
	b.mu.Lock()
	delete(b.pending, jobID)
	b.mu.Unlock()
	return b.cli.ContainerRemove(ctx, jobID, container.RemoveOptions{Force: true})
}

func (b *Backend) SetOptions(opts string) { b.opts = opts }

func (b *Backend) SetLogFile(path string) error {
	b.logPath = path
	return nil
}

// Close releases the SFTP/SSH staging connections, if any.
func (b *Backend) Close() error {
	if b.sftpClient != nil {
		b.sftpClient.Close()
	}
	if b.sshClient != nil {
		b.sshClient.Close()
	}
	return nil
}
