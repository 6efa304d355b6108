package markdown

import "strings"

// Normalize converts raw document bytes to the canonical form every offset
// in the system refers to: CRLF/CR -> LF, leading BOM stripped, trailing
// newline ensured.
func Normalize(raw []byte) string {
	s := string(raw)
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if s == "" {
		return "\n"
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}
