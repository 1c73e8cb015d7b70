// Package patterns holds the catalog of signatures the validator and the
// error classifier match against: injection signatures, operation sets,
// vendor error phrasing and keyword fallbacks. Built-in entries are fixed;
// learned error signatures can be added and replaced at runtime.
package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"sql-guard/internal/model"
)

// InjectionSignature is a regular expression run against raw statement text.
type InjectionSignature struct {
	ID          string
	Description string
	Regex       *regexp.Regexp
}

// ErrorSignature maps a driver error message to an error type. Named groups
// "field", "table" and "fragment" are extracted into the classification.
type ErrorSignature struct {
	ID         string
	Vendor     string
	Type       model.ErrorType
	Regex      *regexp.Regexp
	Confidence float64
}

// KeywordRule is a low-confidence fallback. A rule matches when the message
// contains any of AnyOf and, if set, any of AlsoAnyOf.
type KeywordRule struct {
	Type       model.ErrorType
	Confidence float64
	AnyOf      []string
	AlsoAnyOf  []string
}

// Matches reports whether a lower-cased message satisfies the rule.
func (r KeywordRule) Matches(lower string) bool {
	if !containsAny(lower, r.AnyOf) {
		return false
	}
	return len(r.AlsoAnyOf) == 0 || containsAny(lower, r.AlsoAnyOf)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Library is safe for concurrent use.
type Library struct {
	mu              sync.RWMutex
	injection       []InjectionSignature
	vendor          []ErrorSignature
	learned         []ErrorSignature
	keywords        []KeywordRule
	blockedOps      map[model.Operation]bool
	warningOps      map[model.Operation]bool
	blockedKeywords []string
}

// NewLibrary returns a library loaded with the built-in catalog.
func NewLibrary() *Library {
	return &Library{
		injection:       defaultInjectionSignatures(),
		vendor:          defaultErrorSignatures(),
		keywords:        defaultKeywordRules(),
		blockedOps:      toSet(blockedOperations),
		warningOps:      toSet(warningOperations),
		blockedKeywords: append([]string(nil), blockedKeywords...),
	}
}

func toSet(ops []model.Operation) map[model.Operation]bool {
	m := make(map[model.Operation]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

// InjectionSignatures returns a snapshot of the injection signatures.
func (l *Library) InjectionSignatures() []InjectionSignature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]InjectionSignature(nil), l.injection...)
}

// AddInjectionSignature compiles expr and appends it to the injection scan.
func (l *Library) AddInjectionSignature(id, description, expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("compile injection signature %s: %w", id, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.injection = append(l.injection, InjectionSignature{ID: id, Description: description, Regex: re})
	return nil
}

// VendorSignatures returns the ordered built-in error signatures, most
// specific group first.
func (l *Library) VendorSignatures() []ErrorSignature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ErrorSignature(nil), l.vendor...)
}

// LearnedSignatures returns signatures added through supervised feedback,
// highest confidence first.
func (l *Library) LearnedSignatures() []ErrorSignature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ErrorSignature(nil), l.learned...)
}

// PutLearnedSignature adds a learned signature, replacing one with the same ID.
func (l *Library) PutLearnedSignature(sig ErrorSignature) {
	l.mu.Lock()
	defer l.mu.Unlock()
	replaced := false
	for i := range l.learned {
		if l.learned[i].ID == sig.ID {
			l.learned[i] = sig
			replaced = true
			break
		}
	}
	if !replaced {
		l.learned = append(l.learned, sig)
	}
	sort.SliceStable(l.learned, func(i, j int) bool {
		return l.learned[i].Confidence > l.learned[j].Confidence
	})
}

// RemoveLearnedSignature drops a learned signature by ID.
func (l *Library) RemoveLearnedSignature(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.learned {
		if l.learned[i].ID == id {
			l.learned = append(l.learned[:i], l.learned[i+1:]...)
			return
		}
	}
}

// KeywordRules returns the fallback keyword rules in evaluation order.
func (l *Library) KeywordRules() []KeywordRule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]KeywordRule(nil), l.keywords...)
}

// IsBlockedOperation reports whether op is never allowed to run.
func (l *Library) IsBlockedOperation(op model.Operation) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blockedOps[op]
}

// IsWarningOperation reports whether op needs an explicit policy allowance.
func (l *Library) IsWarningOperation(op model.Operation) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.warningOps[op]
}

// BlockedKeywords returns keywords that block a statement wherever they
// appear outside literals, comments and quoted identifiers.
func (l *Library) BlockedKeywords() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.blockedKeywords...)
}
