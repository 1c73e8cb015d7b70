package feedback

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
)

// FormatForPrompt renders the message as context for the next SQL
// generation call.
func (m *Message) FormatForPrompt() string {
	var b strings.Builder

	fmt.Fprintf(&b, "The previous SQL failed with %s.\n", m.ErrorType)
	if m.ErrorMessage != "" {
		fmt.Fprintf(&b, "Database error: %s\n", m.ErrorMessage)
	}
	if m.FailedSQL != "" {
		fmt.Fprintf(&b, "Failed SQL:\n%s\n", m.FailedSQL)
	}
	b.WriteString("\n")
	b.WriteString(m.Summary)
	b.WriteString("\n")
	b.WriteString(m.Explanation)
	b.WriteString("\n")

	if len(m.SuggestedFields) > 0 {
		fmt.Fprintf(&b, "Valid columns to consider: %s\n", strings.Join(m.SuggestedFields, ", "))
	}
	if len(m.SuggestedTables) > 0 {
		fmt.Fprintf(&b, "Valid tables to consider: %s\n", strings.Join(m.SuggestedTables, ", "))
	}
	if len(m.Hints) > 0 {
		b.WriteString("Hints:\n")
		for _, h := range m.Hints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	if m.OriginalQuestion != "" {
		fmt.Fprintf(&b, "\nOriginal question: %s\n", m.OriginalQuestion)
	}
	if m.MaxAttempts > 0 {
		fmt.Fprintf(&b, "This is attempt %d of %d. ", m.Attempt, m.MaxAttempts)
	}
	b.WriteString("Return only the corrected SQL statement.")
	return b.String()
}

// FormatForLogging renders a single line of key=value pairs in a fixed order.
// Values containing spaces, quotes or '=' are quoted.
func (m *Message) FormatForLogging() string {
	pairs := []struct{ k, v string }{
		{"session_id", m.SessionID},
		{"error_type", string(m.ErrorType)},
		{"retry_strategy", string(m.RetryStrategy)},
		{"confidence", strconv.FormatFloat(m.Confidence, 'f', 2, 64)},
		{"identifier", m.Identifier},
		{"fragment", m.Fragment},
		{"suggested_fields", strings.Join(m.SuggestedFields, ",")},
		{"suggested_tables", strings.Join(m.SuggestedTables, ",")},
		{"attempt", attemptString(m.Attempt, m.MaxAttempts)},
		{"error", m.ErrorMessage},
	}

	var parts []string
	for _, p := range pairs {
		if p.v == "" {
			continue
		}
		parts = append(parts, p.k+"="+quoteIfNeeded(p.v))
	}
	return strings.Join(parts, " ")
}

// MarshalLogObject lets the message be logged with zap.Object.
func (m *Message) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("session_id", m.SessionID)
	enc.AddString("error_type", string(m.ErrorType))
	enc.AddString("retry_strategy", string(m.RetryStrategy))
	enc.AddFloat64("confidence", m.Confidence)
	if m.Identifier != "" {
		enc.AddString("identifier", m.Identifier)
	}
	if len(m.SuggestedFields) > 0 {
		enc.AddString("suggested_fields", strings.Join(m.SuggestedFields, ","))
	}
	if len(m.SuggestedTables) > 0 {
		enc.AddString("suggested_tables", strings.Join(m.SuggestedTables, ","))
	}
	if m.MaxAttempts > 0 {
		enc.AddInt("attempt", m.Attempt)
		enc.AddInt("max_attempts", m.MaxAttempts)
	}
	return nil
}

func attemptString(attempt, maxAttempts int) string {
	if maxAttempts <= 0 {
		return ""
	}
	return fmt.Sprintf("%d/%d", attempt, maxAttempts)
}

func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, " \t\n\"=") {
		return strconv.Quote(v)
	}
	return v
}
