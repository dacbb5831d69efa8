package dagfile

import "strings"

// translateCommand rewrites command by replacing every whitespace
// token found in the forward translation map with its translated
// form. A leading '<' or '>' redirection character is preserved on
// the token but does not count toward identifying the "first
// executable" token; if that first executable token was translated,
// "./" is prepended to mark it as a local (sandboxed) executable.
// Token separators in the rewritten command are single spaces
// (spec.md §4.2).
func translateCommand(forward map[string]string, command string) string {
	tokens := strings.Fields(command)
	out := make([]string, len(tokens))
	firstExecIdx := -1

	for i, tok := range tokens {
		var prefix byte
		body := tok
		if len(tok) > 0 && (tok[0] == '<' || tok[0] == '>') {
			prefix = tok[0]
			body = tok[1:]
		}

		translated := body
		if t, ok := forward[body]; ok {
			translated = t
		}

		if prefix != 0 {
			out[i] = string(prefix) + translated
		} else {
			out[i] = translated
			if firstExecIdx == -1 {
				firstExecIdx = i
			}
		}
	}

	if firstExecIdx >= 0 {
		if _, ok := forward[tokens[firstExecIdx]]; ok {
			out[firstExecIdx] = "./" + out[firstExecIdx]
		}
	}

	return strings.Join(out, " ")
}
