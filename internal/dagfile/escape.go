package dagfile

import "strings"

// expandBackslashCodes expands the small set of backslash escape
// sequences the original Makeflow DAG format recognizes, mirroring
// string_replace_backslash_codes from the reference implementation:
// \n, \t, \r and \\. A backslash before any other character is dropped
// and that character is kept unchanged; a backslash at the very end of
// the string is kept.
func expandBackslashCodes(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
