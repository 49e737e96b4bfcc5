package chclient

import "strings"

// SplitStatements splits text on top-level semicolons. Semicolons inside
// quoted strings, quoted identifiers and comments do not split. Statements
// are trimmed; empty ones and ones holding only comments are dropped.
func SplitStatements(text string) []string {
	var (
		out      []string
		start    int
		hasCode  bool
		i        int
		n        = len(text)
		appendSt = func(end int) {
			if hasCode {
				out = append(out, strings.TrimSpace(text[start:end]))
			}
			hasCode = false
		}
	)

	for i < n {
		c := text[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(text, i)
			hasCode = true
			continue
		case c == '-' && i+1 < n && text[i+1] == '-', hashComment(text, i):
			i = skipLine(text, i)
			continue
		case c == '/' && i+1 < n && text[i+1] == '*':
			i = skipBlock(text, i)
			continue
		case c == ';':
			appendSt(i)
			start = i + 1
		case c != ' ' && c != '\t' && c != '\n' && c != '\r':
			hasCode = true
		}
		i++
	}
	appendSt(n)
	return out
}

// skipQuoted returns the index just past the quoted run starting at i.
// Backslash escapes and doubled quotes are honoured.
func skipQuoted(s string, i int) int {
	q := s[i]
	i++
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
			continue
		case q:
			if i+1 < len(s) && s[i+1] == q {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(s)
}

// hashComment reports whether the '#' at i opens a line comment. The server
// only reads "# " and "#!" as comments.
func hashComment(s string, i int) bool {
	return s[i] == '#' && i+1 < len(s) && (s[i+1] == ' ' || s[i+1] == '!')
}

func skipLine(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(s)
}

func skipBlock(s string, i int) int {
	if j := strings.Index(s[i+2:], "*/"); j >= 0 {
		return i + 2 + j + 2
	}
	return len(s)
}

// stripLeadingComments drops whitespace and comments before the first token.
func stripLeadingComments(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"), strings.HasPrefix(s, "# "), strings.HasPrefix(s, "#!"):
			s = s[skipLine(s, 0):]
		case strings.HasPrefix(s, "/*"):
			s = s[skipBlock(s, 0):]
		default:
			return s
		}
	}
}
