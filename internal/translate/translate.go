// Package translate implements the bidirectional mapping between
// original file paths and sandbox-safe flat names required by batch
// backends that cannot mount arbitrary filesystem paths.
package translate

import (
	"errors"
	"strings"
	"sync"
)

// ErrAlphabetExhausted is returned when a collision cannot be resolved
// by mutating the translated name any further.
var ErrAlphabetExhausted = errors.New("translate: collision alphabet exhausted")

// Translator holds the forward (original -> translated) and reverse
// (translated -> original) maps. It is safe for concurrent use,
// mirroring that multiple goroutines in a backend adapter may resolve
// names while the single-threaded scheduler loop is also consulting it.
type Translator struct {
	mu      sync.Mutex
	forward map[string]string
	reverse map[string]string
}

// New returns an empty Translator.
func New() *Translator {
	return &Translator{
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
}

// Translate maps an original path to a slash-free sandbox name.
//
// A path beginning with "./" is considered already sandbox-local and is
// returned unchanged with translated=false. A path seen before returns
// its prior translation, also with translated=false ("already
// translated", not a new mapping). Otherwise every "/" is replaced with
// "_"; collisions against an existing reverse entry are resolved by
// mutating "_" characters to "~" and then "~" characters to "-"; if
// neither substitution is available the collision is unresolvable and
// ErrAlphabetExhausted is returned.
func (t *Translator) Translate(path string) (name string, translated bool, err error) {
	if strings.HasPrefix(path, "./") {
		return path, false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.forward[path]; ok {
		return existing, false, nil
	}

	candidate := strings.ReplaceAll(path, "/", "_")
	for {
		owner, taken := t.reverse[candidate]
		if !taken || owner == path {
			break
		}
		next, ok := mutate(candidate)
		if !ok {
			return "", false, ErrAlphabetExhausted
		}
		candidate = next
	}

	t.forward[path] = candidate
	t.reverse[candidate] = path
	return candidate, true, nil
}

// mutate advances the collision-resolution alphabet: the first
// remaining '_' becomes '~', or failing that the first remaining '~'
// becomes '-'. Returns ok=false once both are exhausted.
func mutate(name string) (string, bool) {
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[:i] + "~" + name[i+1:], true
	}
	if i := strings.IndexByte(name, '~'); i >= 0 {
		return name[:i] + "-" + name[i+1:], true
	}
	return "", false
}

// Reverse returns the original path for a translated name, if any.
func (t *Translator) Reverse(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	orig, ok := t.reverse[name]
	return orig, ok
}

// TranslatedNames returns every translated name currently known, for
// use by the clean pathway when tearing down sandbox symlinks.
func (t *Translator) TranslatedNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.reverse))
	for name := range t.reverse {
		names = append(names, name)
	}
	return names
}
