package digraph

import (
	"os"

	"github.com/makeflow/makeflow-engine/internal/translate"
)

// Cleaner removes the on-disk side effects of the graph: every
// declared target, the untranslated original behind any translated
// name, and (unless preserved) the sandbox symlinks themselves. It is
// idempotent (spec.md P7): unlinking an already-absent file is not an
// error.
type Cleaner struct {
	Translator *translate.Translator
	// Preserve, when true, skips removing translation symlinks (the
	// "-P" CLI flag).
	Preserve bool
	// Silent suppresses the per-file diagnostic line.
	Silent bool
	// Log receives one line per file actually removed, unless Silent.
	Log func(format string, args ...any)
}

func (c *Cleaner) logf(format string, args ...any) {
	if c.Silent || c.Log == nil {
		return
	}
	c.Log(format, args...)
}

func fileClean(path string, logf func(format string, args ...any)) {
	if path == "" {
		return
	}
	err := os.Remove(path)
	switch {
	case err == nil:
		logf("makeflow: deleted %s", path)
	case os.IsNotExist(err):
		// already gone: idempotent per spec.md P7
	default:
		logf("makeflow: couldn't delete %s: %v", path, err)
	}
}

// CleanNode removes a single node's targets, their untranslated
// originals, and clears them from completedFiles.
func (c *Cleaner) CleanNode(g *Graph, n *Node) {
	for _, target := range n.Targets {
		fileClean(target, c.logf)

		if c.Translator != nil {
			if orig, ok := c.Translator.Reverse(target); ok {
				fileClean(orig, c.logf)
			}
		}

		g.RemoveCompletedFile(target)
	}
}

// CleanSymlinks removes every translated-name symlink, unless Preserve
// is set.
func (c *Cleaner) CleanSymlinks() {
	if c.Preserve || c.Translator == nil {
		return
	}
	for _, name := range c.Translator.TranslatedNames() {
		fileClean(name, c.logf)
	}
}

// Clean runs the full "-c" pathway: every node's targets, then symlinks.
func (c *Cleaner) Clean(g *Graph) {
	for _, n := range g.Nodes {
		c.CleanNode(g, n)
	}
	c.CleanSymlinks()
}
