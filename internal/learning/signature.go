package learning

import (
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Placeholders substituted into signatures.
const (
	PlaceholderIdentifier = "<IDENTIFIER>"
	PlaceholderNumber     = "<NUMBER>"
)

// patternNamespace scopes the name-based UUIDs of learned patterns.
var patternNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("sql-guard/learned-pattern"))

var (
	quotedValue = regexp.MustCompile("'[^']*'|\"[^\"]*\"|`[^`]*`")
	numberValue = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	spaceRun    = regexp.MustCompile(`\s+`)
	wordToken   = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

// Signature generalizes an error message: quoted values become
// '<IDENTIFIER>' (keeping the quote style) and bare numbers become <NUMBER>,
// so errors that differ only in literals share a signature.
func Signature(msg string) string {
	s := spaceRun.ReplaceAllString(strings.TrimSpace(msg), " ")
	s = quotedValue.ReplaceAllStringFunc(s, func(q string) string {
		return q[:1] + PlaceholderIdentifier + q[len(q)-1:]
	})
	// Split around identifier placeholders so their letters are untouched.
	parts := strings.Split(s, PlaceholderIdentifier)
	for i, p := range parts {
		parts[i] = numberValue.ReplaceAllString(p, PlaceholderNumber)
	}
	return strings.Join(parts, PlaceholderIdentifier)
}

// SignatureRegex turns a signature into a regular expression matching every
// message that produces it.
func SignatureRegex(signature string) string {
	var b strings.Builder
	rest := signature
	for rest != "" {
		i := strings.IndexByte(rest, '<')
		if i < 0 {
			b.WriteString(literal(rest))
			break
		}
		b.WriteString(literal(rest[:i]))
		rest = rest[i:]
		switch {
		case strings.HasPrefix(rest, PlaceholderIdentifier):
			b.WriteString("[^'\"`]*")
			rest = rest[len(PlaceholderIdentifier):]
		case strings.HasPrefix(rest, PlaceholderNumber):
			b.WriteString(`\d+(?:\.\d+)?`)
			rest = rest[len(PlaceholderNumber):]
		default:
			b.WriteString(regexp.QuoteMeta("<"))
			rest = rest[1:]
		}
	}
	return b.String()
}

func literal(s string) string {
	return strings.ReplaceAll(regexp.QuoteMeta(s), " ", `\s+`)
}

// PatternID is a stable UUID derived from the signature.
func PatternID(signature string) string {
	return uuid.NewSHA1(patternNamespace, []byte(signature)).String()
}

var stopWords = map[string]bool{
	"select": true, "from": true, "where": true, "join": true, "left": true, "right": true,
	"inner": true, "outer": true, "and": true, "not": true, "null": true, "the": true,
	"with": true, "group": true, "order": true, "by": true, "limit": true, "offset": true,
	"having": true, "as": true, "on": true, "in": true, "is": true, "or": true, "for": true,
	"all": true, "are": true, "was": true, "what": true, "which": true, "show": true,
	"list": true, "how": true, "many": true, "each": true, "per": true, "desc": true, "asc": true,
	"distinct": true, "count": true, "sum": true, "avg": true, "min": true, "max": true,
	"case": true, "when": true, "then": true, "else": true, "end": true, "union": true,
	"between": true, "like": true, "exists": true, "into": true, "values": true, "set": true,
	"identifier": true, "number": true,
}

// Keywords extracts sorted, de-duplicated lower-case context keywords from
// free text and SQL.
func Keywords(texts ...string) []string {
	seen := make(map[string]bool)
	for _, text := range texts {
		for _, tok := range wordToken.FindAllString(text, -1) {
			tok = strings.ToLower(tok)
			if len(tok) < 3 || stopWords[tok] {
				continue
			}
			seen[tok] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mergeKeywords unions two sorted keyword sets, keeping at most limit entries.
func mergeKeywords(a, b []string, limit int) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
