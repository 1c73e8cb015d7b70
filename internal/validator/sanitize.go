package validator

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type segKind int

const (
	segCode segKind = iota
	segQuoted
	segComment
)

type segment struct {
	kind segKind
	text string
}

// segments splits sql into code, quoted and comment runs. Quotes are
// ', " and `; backslash escapes apply inside ' and ". Comments are --,
// /* */ and # where hashComment allows it. Unterminated quotes and block
// comments run to the end.
func segments(sql string) []segment {
	var out []segment
	start := 0
	flush := func(end int) {
		if end > start {
			out = append(out, segment{kind: segCode, text: sql[start:end]})
		}
	}

	i := 0
	for i < len(sql) {
		c := sql[i]
		var next byte
		if i+1 < len(sql) {
			next = sql[i+1]
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			flush(i)
			end := scanQuoted(sql, i)
			out = append(out, segment{kind: segQuoted, text: sql[i:end]})
			i, start = end, end
		case (c == '-' && next == '-') || (c == '#' && hashComment(sql, i, i == start)):
			flush(i)
			end := len(sql)
			if nl := strings.IndexByte(sql[i:], '\n'); nl >= 0 {
				end = i + nl
			}
			out = append(out, segment{kind: segComment, text: sql[i:end]})
			i, start = end, end
		case c == '/' && next == '*':
			flush(i)
			end := len(sql)
			if idx := strings.Index(sql[i+2:], "*/"); idx >= 0 {
				end = i + 2 + idx + 2
			}
			out = append(out, segment{kind: segComment, text: sql[i:end]})
			i, start = end, end
		default:
			i++
		}
	}
	flush(len(sql))
	return out
}

// hashComment reports whether the # at sql[i] opens a line comment. It has
// to start a token, so data#x and 5#3 stay code, and #>, #>> and #- are
// PostgreSQL JSON operators. afterSegment is true right after a quoted run
// or a comment.
func hashComment(sql string, i int, afterSegment bool) bool {
	if i+1 < len(sql) && (sql[i+1] == '>' || sql[i+1] == '-') {
		return false
	}
	if i == 0 || afterSegment {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(sql[:i])
	return unicode.IsSpace(r) || r == '(' || r == ',' || r == ';'
}

func scanQuoted(sql string, i int) int {
	q := sql[i]
	j := i + 1
	for j < len(sql) {
		c := sql[j]
		if c == '\\' && q != '`' {
			j += 2
			continue
		}
		if c == q {
			return j + 1
		}
		j++
	}
	return len(sql)
}

// Sanitize strips comments and collapses whitespace outside quoted text.
// Quoted literals and identifiers are kept byte for byte, so
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	pendingSpace := false
	write := func(s string) {
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteString(s)
	}

	for _, seg := range segments(sql) {
		switch seg.kind {
		case segComment:
			pendingSpace = true
		case segQuoted:
			write(seg.text)
		default:
			s := seg.text
			for len(s) > 0 {
				r, size := utf8.DecodeRuneInString(s)
				if unicode.IsSpace(r) {
					pendingSpace = true
				} else {
					write(s[:size])
				}
				s = s[size:]
			}
		}
	}
	return b.String()
}

// codeText returns sql with comments removed and every quoted run replaced
// by a neutral placeholder, leaving only text the database would read as
// keywords and operators.
func codeText(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	for _, seg := range segments(sql) {
		switch seg.kind {
		case segCode:
			b.WriteString(seg.text)
		case segQuoted:
			b.WriteString(" ? ")
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// countStatements counts non-empty ;-separated statements outside literals
// and comments.
func countStatements(sql string) int {
	n := 0
	for _, part := range strings.Split(codeText(sql), ";") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}
