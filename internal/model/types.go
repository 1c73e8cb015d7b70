package model

import (
	"fmt"
	"strings"
)

// Location represents the physical location of a code segment
type Location struct {
	FilePath string
	Line     int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.FilePath, l.Line)
}

// SQLSegment represents an extracted SQL statement from source code
type SQLSegment struct {
	SQL      string
	Location Location
	Language string // e.g., "go", "python", "cpp"
}

// SecurityLevel is the severity of a validation finding. Levels are ordered:
// SAFE < WARNING < DANGEROUS < BLOCKED.
type SecurityLevel int

const (
	LevelSafe SecurityLevel = iota
	LevelWarning
	LevelDangerous
	LevelBlocked
)

func (l SecurityLevel) String() string {
	switch l {
	case LevelSafe:
		return "SAFE"
	case LevelWarning:
		return "WARNING"
	case LevelDangerous:
		return "DANGEROUS"
	case LevelBlocked:
		return "BLOCKED"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// MarshalText renders the level by name for JSON and YAML output.
func (l SecurityLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a level name.
func (l *SecurityLevel) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "SAFE":
		*l = LevelSafe
	case "WARNING":
		*l = LevelWarning
	case "DANGEROUS":
		*l = LevelDangerous
	case "BLOCKED":
		*l = LevelBlocked
	default:
		return fmt.Errorf("unknown security level %q", string(b))
	}
	return nil
}

// MaxLevel returns the more severe of two levels.
func MaxLevel(a, b SecurityLevel) SecurityLevel {
	if a > b {
		return a
	}
	return b
}

// ViolationKind tags the validation-time error taxonomy.
type ViolationKind string

const (
	KindParseError         ViolationKind = "PARSE_ERROR"
	KindSQLInjection       ViolationKind = "SQL_INJECTION"
	KindDangerousOperation ViolationKind = "DANGEROUS_OPERATION"
	KindComplexityLimit    ViolationKind = "COMPLEXITY_LIMIT"
	KindTableNotFound      ViolationKind = "TABLE_NOT_FOUND"
	KindFieldNotFound      ViolationKind = "FIELD_NOT_FOUND"
	KindMultiStatement     ViolationKind = "MULTI_STATEMENT"
	KindPerformanceHint    ViolationKind = "PERFORMANCE_HINT"
)

// Violation is a single finding produced while validating a statement.
// Violations are values and are never modified after creation.
type Violation struct {
	Level      SecurityLevel `json:"level" yaml:"level"`
	Kind       ViolationKind `json:"kind" yaml:"kind"`
	Message    string        `json:"message" yaml:"message"`
	Location   string        `json:"location,omitempty" yaml:"location,omitempty"`
	Suggestion string        `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Rule       string        `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// Operation is the primary verb of a statement.
type Operation string

const (
	OpSelect   Operation = "SELECT"
	OpInsert   Operation = "INSERT"
	OpReplace  Operation = "REPLACE"
	OpUpdate   Operation = "UPDATE"
	OpDelete   Operation = "DELETE"
	OpMerge    Operation = "MERGE"
	OpDrop     Operation = "DROP"
	OpTruncate Operation = "TRUNCATE"
	OpAlter    Operation = "ALTER"
	OpCreate   Operation = "CREATE"
	OpRename   Operation = "RENAME"
	OpGrant    Operation = "GRANT"
	OpRevoke   Operation = "REVOKE"
	OpShow     Operation = "SHOW"
	OpDescribe Operation = "DESCRIBE"
	OpExplain  Operation = "EXPLAIN"
	OpSet      Operation = "SET"
	OpUse      Operation = "USE"
	OpCall     Operation = "CALL"
	OpLoad     Operation = "LOAD"
	OpShutdown Operation = "SHUTDOWN"
	OpKill     Operation = "KILL"
	OpFlush    Operation = "FLUSH"
	OpUnknown  Operation = "UNKNOWN"
)

// TableRef is a table referenced by a statement.
type TableRef struct {
	Name   string `json:"name" yaml:"name"`
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
	Alias  string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

// FieldRef is a column referenced by a statement. Table holds the qualifier
// as written (alias or table name) and is empty for unqualified columns.
type FieldRef struct {
	Name     string `json:"name" yaml:"name"`
	Table    string `json:"table,omitempty" yaml:"table,omitempty"`
	Wildcard bool   `json:"wildcard,omitempty" yaml:"wildcard,omitempty"`
	// DerivedScope is set when the enclosing SELECT, or one it is nested in,
	// reads from a CTE or derived table, so an unqualified name may be one
	// of their output columns.
	DerivedScope bool `json:"-" yaml:"-"`
}

func (f FieldRef) String() string {
	name := f.Name
	if f.Wildcard {
		name = "*"
	}
	if f.Table != "" {
		return f.Table + "." + name
	}
	return name
}

// References is everything a statement points at, extracted from the parse tree.
type References struct {
	Tables []TableRef
	Fields []FieldRef
	// Aliases maps a lower-cased table alias to the lower-cased table it names.
	Aliases map[string]string
	// Derived holds lower-cased names that are not physical tables:
	// CTE names and derived-table aliases.
	Derived map[string]bool
	// SelectAliases holds lower-cased output column aliases.
	SelectAliases map[string]bool
}

// CostEstimate buckets a complexity score.
type CostEstimate string

const (
	CostLow      CostEstimate = "LOW"
	CostMedium   CostEstimate = "MEDIUM"
	CostHigh     CostEstimate = "HIGH"
	CostVeryHigh CostEstimate = "VERY_HIGH"
)

// QueryComplexity is derived from the parse tree on every validation call.
type QueryComplexity struct {
	TableCount     int          `json:"table_count" yaml:"table_count"`
	JoinCount      int          `json:"join_count" yaml:"join_count"`
	SubqueryCount  int          `json:"subquery_count" yaml:"subquery_count"`
	FunctionCount  int          `json:"function_count" yaml:"function_count"`
	ConditionCount int          `json:"condition_count" yaml:"condition_count"`
	Score          float64      `json:"score" yaml:"score"`
	EstimatedCost  CostEstimate `json:"estimated_cost" yaml:"estimated_cost"`
}

// ValidationResult is the single output of validating one SQL string.
type ValidationResult struct {
	IsValid       bool            `json:"is_valid" yaml:"is_valid"`
	SecurityLevel SecurityLevel   `json:"security_level" yaml:"security_level"`
	Operation     Operation       `json:"operation" yaml:"operation"`
	Violations    []Violation     `json:"violations" yaml:"violations"`
	TableRefs     []TableRef      `json:"table_refs" yaml:"table_refs"`
	FieldRefs     []FieldRef      `json:"field_refs" yaml:"field_refs"`
	Complexity    QueryComplexity `json:"complexity" yaml:"complexity"`
	SanitizedSQL  string          `json:"sanitized_sql,omitempty" yaml:"sanitized_sql,omitempty"`
}

// HasKind reports whether any violation carries the given kind.
func (r *ValidationResult) HasKind(kind ViolationKind) bool {
	for _, v := range r.Violations {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// Issue is a violation tied back to the source segment it was found in.
type Issue struct {
	Violation
	Segment SQLSegment
}
