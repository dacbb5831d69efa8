// Package enginelog builds the engine's structured logger: one
// destination for the engine's own diagnostics (the "-l" CLI flag),
// fanned out with a second handler for the backend's chatter (the
// "-L" flag) via samber/slog-multi, mirroring the teacher's pattern of
// attaching an extra file sink to a base logger.
package enginelog

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Options configures where log records go.
type Options struct {
	EnginePath string // "-l"; empty means stderr only
	BackendPath string // "-L"; empty disables the second sink
	Debug       bool
}

// New builds a *slog.Logger per Options. Callers are responsible for
// closing any *os.File this opens by retaining the returned closers.
func New(opts Options) (*slog.Logger, []io.Closer, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var writers []io.Writer
	var closers []io.Closer

	writers = append(writers, os.Stderr)

	if opts.EnginePath != "" {
		f, err := os.OpenFile(opts.EnginePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, f)
		closers = append(closers, f)
	}

	handlers := make([]slog.Handler, 0, len(writers)+1)
	for _, w := range writers {
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}

	if opts.BackendPath != "" {
		f, err := os.OpenFile(opts.BackendPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, f)
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	return logger, closers, nil
}
