// Package dagfile parses the Makeflow DAG description format into a
// digraph.Graph: comments and environment substitution, NAME=VALUE
// assignments, and "targets : sources" rule blocks followed by a
// command line.
package dagfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/makeflow/makeflow-engine/internal/digraph"
	"github.com/makeflow/makeflow-engine/internal/translate"
)

// ParseError is a location-tagged fatal diagnostic, printed and
// exit(1)'d by the caller per spec.md §7.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Options configures the Parser's filename-translation behavior; a
// parser with a nil Translator never translates anything (the default
// local-fork backend doesn't sandbox files).
type Options struct {
	Translator *translate.Translator
	// Sandboxes reports whether the active backend requires translated,
	// slash-free filenames.
	Sandboxes bool
	// MaterializeSymlinks requests that a symlink from the translated
	// name to the original path be created as each file is seen. Only
	// meaningful when Sandboxes is true; callers pass false in
	// non-execution modes (clean/display/check — spec.md §4.2).
	MaterializeSymlinks bool
	// Link creates a symlink; defaults to os.Symlink.
	Link func(oldname, newname string) error
	// Glob expands a "glob:" prefixed target pattern; defaults to
	// doublestar.FilepathGlob.
	Glob func(pattern string) ([]string, error)
}

func (o *Options) setDefaults() {
	if o.Link == nil {
		o.Link = os.Symlink
	}
	if o.Glob == nil {
		o.Glob = func(pattern string) ([]string, error) {
			return doublestar.FilepathGlob(pattern)
		}
	}
}

// Parser reads a DAG file into a digraph.Graph.
type Parser struct {
	opts Options
}

// New returns a Parser configured with opts.
func New(opts Options) *Parser {
	opts.setDefaults()
	return &Parser{opts: opts}
}

// Parse reads every line of r, building and returning the graph. Parse
// errors are fatal: the first one found is returned immediately and no
// partial graph should be scheduled (spec.md §7 kind (a)).
func (p *Parser) Parse(r io.Reader) (*digraph.Graph, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	g := digraph.New(0, 0)
	lineNum := 0

	readLine := func() (string, bool) {
		for scanner.Scan() {
			lineNum++
			line := cook(scanner.Text())
			return line, true
		}
		return "", false
	}

	for {
		raw, ok := readLine()
		if !ok {
			break
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		eq := strings.IndexByte(line, '=')
		colon := strings.IndexByte(line, ':')

		switch {
		case eq >= 0 && (colon < 0 || eq < colon):
			name := strings.TrimSpace(line[:eq])
			value := strings.TrimSpace(line[eq+1:])
			if name == "" {
				return nil, &ParseError{Line: lineNum, Msg: "empty assignment name"}
			}
			if err := os.Setenv(name, value); err != nil {
				return nil, &ParseError{Line: lineNum, Msg: fmt.Sprintf("setenv %s: %v", name, err)}
			}

		case colon >= 0:
			node, err := p.parseRule(line, lineNum, readLine)
			if err != nil {
				return nil, err
			}
			if err := g.AddNode(node); err != nil {
				return nil, &ParseError{Line: lineNum, Msg: err.Error()}
			}

		default:
			return nil, &ParseError{Line: lineNum, Msg: "expected assignment or rule (no ':' found)"}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading dag file: %w", err)
	}
	return g, nil
}

// cook applies comment-stripping, environment substitution, and
// backslash-escape expansion to one raw line, in that order
// (spec.md §4.2, grounded on dag_readline in the original source).
func cook(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	raw = expandEnv(raw)
	return expandBackslashCodes(raw)
}

func (p *Parser) parseRule(line string, lineNum int, readLine func() (string, bool)) (*digraph.Node, error) {
	colon := strings.IndexByte(line, ':')
	targetPart := strings.TrimSpace(line[:colon])
	sourcePart := strings.TrimSpace(line[colon+1:])

	targets, err := p.expandNames(strings.Fields(targetPart))
	if err != nil {
		return nil, &ParseError{Line: lineNum, Msg: err.Error()}
	}
	sources := strings.Fields(sourcePart)

	var cmdLine string
	for {
		next, ok := readLine()
		if !ok {
			return nil, &ParseError{Line: lineNum, Msg: "rule has no command"}
		}
		trimmed := strings.TrimSpace(next)
		if trimmed == "" {
			continue
		}
		cmdLine = trimmed
		break
	}

	local := false
	const localPrefix = "LOCAL "
	if strings.HasPrefix(cmdLine, localPrefix) {
		local = true
		cmdLine = cmdLine[len(localPrefix):]
	}

	forward := make(map[string]string)
	translatedTargets, err := p.translateAll(targets, &forward)
	if err != nil {
		return nil, &ParseError{Line: lineNum, Msg: err.Error()}
	}
	translatedSources, err := p.translateAll(sources, &forward)
	if err != nil {
		return nil, &ParseError{Line: lineNum, Msg: err.Error()}
	}

	command := translateCommand(forward, cmdLine)

	return &digraph.Node{
		Line:    lineNum,
		Command: command,
		Local:   local,
		Sources: translatedSources,
		Targets: translatedTargets,
		State:   digraph.Waiting,
	}, nil
}

// expandNames expands any "glob:" prefixed target pattern against the
// filesystem; plain names pass through unchanged. A pattern matching
// nothing is a parse error (SPEC_FULL.md §4.2 supplement).
func (p *Parser) expandNames(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		pattern, isGlob := strings.CutPrefix(n, "glob:")
		if !isGlob {
			out = append(out, n)
			continue
		}
		matches, err := p.opts.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("glob %q matched no files", pattern)
		}
		out = append(out, matches...)
	}
	return out, nil
}

// translateAll translates every filename in names that contains '/'
// when the active backend sandboxes files, recording each mapping in
// forward for the later command-rewrite pass, and materializing a
// symlink when requested.
func (p *Parser) translateAll(names []string, forward *map[string]string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n
		if !p.opts.Sandboxes || !strings.Contains(n, "/") || p.opts.Translator == nil {
			continue
		}
		translated, _, err := p.opts.Translator.Translate(n)
		if err != nil {
			return nil, err
		}
		out[i] = translated
		(*forward)[n] = translated

		if p.opts.MaterializeSymlinks && translated != n {
			if err := p.opts.Link(n, translated); err != nil && !os.IsExist(err) {
				return nil, fmt.Errorf("symlink %s -> %s: %w", translated, n, err)
			}
		}
	}
	return out, nil
}
