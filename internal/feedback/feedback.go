// Package feedback explains a classified SQL error in a form the next
// generation attempt can act on. Messages keep structured fields apart from
// prose so prompts and audit logs can render them differently.
package feedback

import (
	"fmt"
	"sort"
	"strings"

	"sql-guard/internal/model"
	"sql-guard/internal/parser"
	"sql-guard/internal/suggest"
)

// Context is what the caller knows about the failing interaction.
type Context struct {
	SessionID        string
	OriginalQuestion string
	AvailableTables  []string
	// AvailableFields maps table name to its field names.
	AvailableFields map[string][]string
	Attempt         int
	MaxAttempts     int
}

// ContextFromSchema fills the available tables and fields from a schema.
func ContextFromSchema(sessionID, question string, schema model.Schema) Context {
	fc := Context{SessionID: sessionID, OriginalQuestion: question}
	if schema == nil {
		return fc
	}
	fc.AvailableFields = make(map[string][]string, len(schema))
	for table, fields := range schema {
		fc.AvailableTables = append(fc.AvailableTables, table)
		fc.AvailableFields[table] = append([]string(nil), fields...)
	}
	sort.Strings(fc.AvailableTables)
	return fc
}

// Message is the structured feedback for one failed attempt.
type Message struct {
	SessionID        string              `json:"session_id" yaml:"session_id"`
	ErrorType        model.ErrorType     `json:"error_type" yaml:"error_type"`
	RetryStrategy    model.RetryStrategy `json:"retry_strategy" yaml:"retry_strategy"`
	Confidence       float64             `json:"confidence" yaml:"confidence"`
	Summary          string              `json:"summary" yaml:"summary"`
	Explanation      string              `json:"explanation" yaml:"explanation"`
	ErrorMessage     string              `json:"error_message" yaml:"error_message"`
	FailedSQL        string              `json:"failed_sql,omitempty" yaml:"failed_sql,omitempty"`
	Identifier       string              `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Fragment         string              `json:"fragment,omitempty" yaml:"fragment,omitempty"`
	SuggestedFields  []string            `json:"suggested_fields,omitempty" yaml:"suggested_fields,omitempty"`
	SuggestedTables  []string            `json:"suggested_tables,omitempty" yaml:"suggested_tables,omitempty"`
	Hints            []string            `json:"hints,omitempty" yaml:"hints,omitempty"`
	OriginalQuestion string              `json:"original_question,omitempty" yaml:"original_question,omitempty"`
	Attempt          int                 `json:"attempt,omitempty" yaml:"attempt,omitempty"`
	MaxAttempts      int                 `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// Generator is stateless apart from its parser pool and is safe for
// concurrent use.
type Generator struct {
	parser       *parser.SQLParser
	suggestLimit int
}

// Option configures a Generator.
type Option func(*Generator)

// WithParser shares a parser pool.
func WithParser(p *parser.SQLParser) Option {
	return func(g *Generator) { g.parser = p }
}

// WithSuggestLimit sets how many nearest names are offered.
func WithSuggestLimit(n int) Option {
	return func(g *Generator) { g.suggestLimit = n }
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{suggestLimit: suggest.DefaultLimit}
	for _, opt := range opts {
		opt(g)
	}
	if g.parser == nil {
		g.parser = parser.NewSQLParser()
	}
	return g
}

// GenerateFeedback is deterministic for a given error and context.
func (g *Generator) GenerateFeedback(e *model.SQLError, fc Context) *Message {
	if e == nil {
		e = &model.SQLError{ErrorType: model.ErrUnknown, RetryStrategy: model.StrategyNoRetry}
	}
	m := &Message{
		SessionID:        fc.SessionID,
		ErrorType:        e.ErrorType,
		RetryStrategy:    e.RetryStrategy,
		Confidence:       e.Confidence,
		ErrorMessage:     e.ErrorMessage,
		FailedSQL:        e.SQLStatement,
		Fragment:         e.Fragment,
		OriginalQuestion: fc.OriginalQuestion,
		Attempt:          fc.Attempt,
		MaxAttempts:      fc.MaxAttempts,
	}
	if m.ErrorMessage == "" {
		m.ErrorMessage = e.OriginalError
	}

	switch e.ErrorType {
	case model.ErrFieldMissing:
		g.fieldFeedback(m, e, fc)
	case model.ErrTableMissing:
		g.tableFeedback(m, e, fc)
	case model.ErrSyntax:
		syntaxFeedback(m)
	case model.ErrTypeMismatch:
		m.Summary = "A value does not match the type of the column it is compared with or stored in."
		if len(e.SuggestedFields) > 0 {
			m.Identifier = e.SuggestedFields[0]
			m.Explanation = fmt.Sprintf("Check the type of column '%s' and cast or quote the value accordingly.", m.Identifier)
		} else {
			m.Explanation = "Compare columns with values of the same type and use explicit CAST where needed."
		}
		if m.Fragment != "" {
			m.Hints = append(m.Hints, fmt.Sprintf("The rejected value was '%s'.", m.Fragment))
		}
		m.Hints = append(m.Hints, "Quote string literals and leave numeric literals unquoted.")
	case model.ErrPermission:
		m.Summary = "The database user is not allowed to perform this operation."
		m.Explanation = "Regenerating the SQL will not help. Ask the user whether another data source or a narrower query is acceptable."
		if len(e.SuggestedTables) > 0 {
			m.Identifier = e.SuggestedTables[0]
			m.Hints = append(m.Hints, fmt.Sprintf("Access to '%s' was denied.", m.Identifier))
		}
	case model.ErrConnection:
		m.Summary = "The database connection failed or timed out."
		m.Explanation = "The statement itself may be correct. The same SQL can be retried after a short wait."
		m.Hints = append(m.Hints, "Add a WHERE clause or LIMIT if the query scans a large table.")
	default:
		m.Summary = "The database returned an error that could not be classified."
		m.Explanation = "Review the error message and the failed SQL before trying again."
	}
	return m
}

func (g *Generator) fieldFeedback(m *Message, e *model.SQLError, fc Context) {
	m.Summary = "The SQL references a column that does not exist."
	if len(e.SuggestedFields) > 0 {
		m.Identifier = e.SuggestedFields[0]
	}

	tables := g.referencedTables(e.SQLStatement, fc)
	var candidates []string
	for _, t := range tables {
		candidates = append(candidates, fc.AvailableFields[t]...)
	}
	if m.Identifier != "" {
		m.SuggestedFields = suggest.Nearest(m.Identifier, candidates, g.suggestLimit)
	} else {
		m.SuggestedFields = sortedUnique(candidates)
	}

	switch {
	case m.Identifier != "" && len(m.SuggestedFields) > 0:
		m.Explanation = fmt.Sprintf("Column '%s' was not found. The closest valid columns are: %s.",
			m.Identifier, strings.Join(m.SuggestedFields, ", "))
	case m.Identifier != "":
		m.Explanation = fmt.Sprintf("Column '%s' was not found. Use only columns listed in the schema.", m.Identifier)
	default:
		m.Explanation = "A referenced column was not found. Use only columns listed in the schema."
	}
	if len(tables) > 0 && len(tables) < len(fc.AvailableTables) {
		m.Hints = append(m.Hints, fmt.Sprintf("Columns were looked up in: %s.", strings.Join(tables, ", ")))
	}
	m.Hints = append(m.Hints, "Qualify columns with their table alias when several tables are joined.")
}

func (g *Generator) tableFeedback(m *Message, e *model.SQLError, fc Context) {
	m.Summary = "The SQL references a table that does not exist."
	if len(e.SuggestedTables) > 0 {
		m.Identifier = e.SuggestedTables[0]
	}
	if m.Identifier != "" {
		m.SuggestedTables = suggest.Nearest(m.Identifier, fc.AvailableTables, g.suggestLimit)
	} else {
		m.SuggestedTables = sortedUnique(fc.AvailableTables)
	}

	switch {
	case m.Identifier != "" && len(m.SuggestedTables) > 0:
		m.Explanation = fmt.Sprintf("Table '%s' was not found. Did the user mean one of: %s?",
			m.Identifier, strings.Join(m.SuggestedTables, ", "))
	case m.Identifier != "":
		m.Explanation = fmt.Sprintf("Table '%s' was not found and no similar table exists. Ask the user which data they mean.", m.Identifier)
	default:
		m.Explanation = "A referenced table was not found. Ask the user which data they mean."
	}
	if len(fc.AvailableTables) > 0 {
		m.Hints = append(m.Hints, fmt.Sprintf("Available tables: %s.", strings.Join(sortedUnique(fc.AvailableTables), ", ")))
	}
}

func syntaxFeedback(m *Message) {
	m.Summary = "The SQL is not syntactically valid."
	if m.Fragment != "" {
		m.Explanation = fmt.Sprintf("The parser stopped near \"%s\".", m.Fragment)
	} else {
		m.Explanation = "The parser rejected the statement."
	}
	m.Hints = append(m.Hints,
		"Check for missing or extra parentheses.",
		"Check comma placement in SELECT and WHERE clauses.",
		"Quote identifiers that collide with reserved keywords.",
	)
}

// referencedTables returns the catalog tables the failed SQL mentions, or
// every catalog table when the SQL cannot be parsed or names none.
func (g *Generator) referencedTables(sql string, fc Context) []string {
	all := make([]string, 0, len(fc.AvailableFields))
	for t := range fc.AvailableFields {
		all = append(all, t)
	}
	sort.Strings(all)
	if sql == "" {
		return all
	}

	nodes, err := g.parser.ParseAll(sql)
	if err != nil {
		return all
	}
	refs := parser.ExtractReferences(nodes...)
	var out []string
	for _, ref := range refs.Tables {
		for _, t := range all {
			if strings.EqualFold(t, ref.Name) {
				out = append(out, t)
				break
			}
		}
	}
	if len(out) == 0 {
		return all
	}
	return sortedUnique(out)
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
