// Package extractor finds SQL statements embedded in source files.
package extractor

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sql-guard/internal/model"
)

// RegexExtractor finds quoted string literals that start with a SQL verb.
// Each literal must open and close on the same line.
type RegexExtractor struct{}

func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// RE2 has no backreferences, so each quote style gets its own pattern.
// Non-greedy bodies stop at the first closing quote.
const sqlVerb = `(?i)(?:SELECT|INSERT|UPDATE|DELETE|WITH|REPLACE|DROP|TRUNCATE|ALTER|CREATE|GRANT|REVOKE)\b`

var (
	doubleQuoteSQL = regexp.MustCompile(`"` + sqlVerb + `[^"]*?"`)
	singleQuoteSQL = regexp.MustCompile(`'` + sqlVerb + `.*?'`)
	backTickSQL    = regexp.MustCompile("`" + sqlVerb + "[^`]*?`")
)

var languages = map[string]string{
	"go":   "go",
	"py":   "python",
	"java": "java",
	"kt":   "kotlin",
	"js":   "javascript",
	"ts":   "typescript",
	"rb":   "ruby",
	"php":  "php",
	"cpp":  "cpp",
	"cc":   "cpp",
	"c":    "c",
	"cs":   "csharp",
	"sql":  "sql",
}

// LanguageOf names the language of a file from its extension.
func LanguageOf(filePath string) string {
	if lang, ok := languages[extension(filePath)]; ok {
		return lang
	}
	return "unknown"
}

func (e *RegexExtractor) Extract(filePath string, content []byte) ([]model.SQLSegment, error) {
	var segments []model.SQLSegment
	lang := LanguageOf(filePath)

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		for _, re := range []*regexp.Regexp{doubleQuoteSQL, singleQuoteSQL, backTickSQL} {
			for _, match := range re.FindAllString(line, -1) {
				sql := strings.TrimSpace(match[1 : len(match)-1])
				if sql == "" {
					continue
				}
				segments = append(segments, model.SQLSegment{
					SQL:      sql,
					Location: model.Location{FilePath: filePath, Line: lineNo},
					Language: lang,
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return segments, fmt.Errorf("read %s: %w", filePath, err)
	}
	return segments, nil
}

// StatementExtractor reads plain SQL files: every statement terminated by a
// semicolon becomes a segment located at the line it starts on.
type StatementExtractor struct{}

func NewStatementExtractor() *StatementExtractor {
	return &StatementExtractor{}
}

func (e *StatementExtractor) Extract(filePath string, content []byte) ([]model.SQLSegment, error) {
	var segments []model.SQLSegment
	for _, st := range SplitStatements(string(content)) {
		segments = append(segments, model.SQLSegment{
			SQL:      st.SQL,
			Location: model.Location{FilePath: filePath, Line: st.Line},
			Language: "sql",
		})
	}
	return segments, nil
}

// Statement is one statement of a SQL script.
type Statement struct {
	SQL  string
	Line int
}

// SplitStatements splits a script on semicolons outside quotes and comments.
// Comment-only chunks are dropped.
func SplitStatements(script string) []Statement {
	var (
		out       []Statement
		start     int
		startLine = 1
		line      = 1
		code      bool
	)
	flush := func(end int) {
		if code {
			if sql := strings.TrimSpace(script[start:end]); sql != "" {
				out = append(out, Statement{SQL: sql, Line: startLine})
			}
		}
		start, code = end+1, false
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\n':
			line++
		case c == '-' && i+1 < len(script) && script[i+1] == '-', c == '#' && hashComment(script, i):
			for i < len(script) && script[i] != '\n' {
				i++
			}
			if i < len(script) {
				line++
			}
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			i += 2
			for i < len(script) && !(script[i] == '*' && i+1 < len(script) && script[i+1] == '/') {
				if script[i] == '\n' {
					line++
				}
				i++
			}
			i++
		case c == '\'' || c == '"' || c == '`':
			if !code {
				code, start, startLine = true, i, line
			}
			for i++; i < len(script) && script[i] != c; i++ {
				if script[i] == '\\' && c != '`' {
					i++
				} else if script[i] == '\n' {
					line++
				}
			}
		case c == ';':
			flush(i)
		case c == ' ' || c == '\t' || c == '\r':
		default:
			if !code {
				code, start, startLine = true, i, line
			}
		}
	}
	flush(len(script))
	return out
}

// hashComment reports whether the # at script[i] starts a line comment
// rather than sitting inside a token or a #>, #>> or #- operator.
func hashComment(script string, i int) bool {
	if i+1 < len(script) && (script[i+1] == '>' || script[i+1] == '-') {
		return false
	}
	if i == 0 || strings.HasSuffix(script[:i], "*/") {
		return true
	}
	return strings.IndexByte(" \t\r\n(,;'\"`", script[i-1]) >= 0
}

// Manager selects an extractor by file extension.
type Manager struct {
	extractors map[string]model.Extractor
	fallback   model.Extractor
}

func NewManager() *Manager {
	return &Manager{
		extractors: make(map[string]model.Extractor),
		fallback:   NewRegexExtractor(),
	}
}

// DefaultManager handles SQL scripts and the source languages in LanguageOf.
func DefaultManager() *Manager {
	m := NewManager()
	generic := NewRegexExtractor()
	for ext := range languages {
		m.Register(ext, generic)
	}
	m.Register("sql", NewStatementExtractor())
	return m
}

func (m *Manager) Register(ext string, extr model.Extractor) {
	m.extractors[strings.ToLower(strings.TrimPrefix(ext, "."))] = extr
}

// Extensions lists the registered extensions.
func (m *Manager) Extensions() []string {
	exts := make([]string, 0, len(m.extractors))
	for ext := range m.extractors {
		exts = append(exts, ext)
	}
	return exts
}

func (m *Manager) Extract(filePath string) ([]model.SQLSegment, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	if extr, ok := m.extractors[extension(filePath)]; ok {
		return extr.Extract(filePath, content)
	}
	return m.fallback.Extract(filePath, content)
}

func extension(filePath string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filePath), "."))
}
