package learning

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"sql-guard/internal/model"

	"gopkg.in/yaml.v3"
)

// Stats summarizes the learned state.
type Stats struct {
	Enabled        bool                    `json:"enabled" yaml:"enabled"`
	Patterns       int                     `json:"patterns" yaml:"patterns"`
	Supervised     int                     `json:"supervised" yaml:"supervised"`
	Sessions       int                     `json:"sessions" yaml:"sessions"`
	TotalFrequency int                     `json:"total_frequency" yaml:"total_frequency"`
	ByType         map[model.ErrorType]int `json:"by_type" yaml:"by_type"`
}

// Stats returns counts over patterns and open sessions.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Enabled:  s.Enabled(),
		Patterns: len(s.patterns),
		Sessions: s.openSessions(),
		ByType:   make(map[model.ErrorType]int),
	}
	for _, p := range s.patterns {
		st.TotalFrequency += p.Frequency
		st.ByType[p.ErrorType]++
		if p.Supervised {
			st.Supervised++
		}
	}
	return st
}

// LearningData is the full exported state.
type LearningData struct {
	ExportedAt time.Time                `json:"exported_at" yaml:"exported_at"`
	Stats      Stats                    `json:"stats" yaml:"stats"`
	Patterns   []*model.ErrorPattern    `json:"patterns" yaml:"patterns"`
	Sessions   []*model.LearningSession `json:"sessions" yaml:"sessions"`
}

// ExportLearningData copies every pattern and tracked session, including
// closed sessions not yet evicted.
func (s *Service) ExportLearningData() *LearningData {
	data := &LearningData{
		ExportedAt: s.now().UTC(),
		Stats:      s.Stats(),
		Patterns:   s.Snapshot(),
	}

	s.mu.Lock()
	data.Sessions = make([]*model.LearningSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		data.Sessions = append(data.Sessions, sess.Clone())
	}
	s.mu.Unlock()

	sort.Slice(data.Sessions, func(i, j int) bool {
		return data.Sessions[i].SessionID < data.Sessions[j].SessionID
	})
	return data
}

// Export writes ExportLearningData as "json" or "yaml".
func (s *Service) Export(w io.Writer, format string) error {
	return WriteData(w, s.ExportLearningData(), format)
}

// WriteData encodes v as "json" (indented) or "yaml".
func WriteData(w io.Writer, v any, format string) error {
	switch strings.ToLower(format) {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// Snapshot returns copies of every pattern, most frequent first.
func (s *Service) Snapshot() []*model.ErrorPattern {
	return s.GetFrequentPatterns(0)
}

// Restore loads patterns, replacing any with the same ID. Supervised
// patterns are registered with the library again. Restored patterns are not
// marked for the next Flush.
func (s *Service) Restore(ps []*model.ErrorPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		if p == nil || p.Signature == "" {
			continue
		}
		c := p.Clone()
		if c.PatternID == "" {
			c.PatternID = PatternID(c.Signature)
		}
		if c.PatternRegex == "" {
			c.PatternRegex = SignatureRegex(c.Signature)
		}
		if len(c.ContextKeywords) > 0 {
			c.ContextKeywords = Keywords(c.ContextKeywords...)
		}
		if c.Supervised {
			if err := s.register(c); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
		}
		s.patterns[c.PatternID] = c
	}
	s.recordGauges()
	return nil
}

// sortPatterns orders by frequency, then confidence, then ID.
func sortPatterns(ps []*model.ErrorPattern) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.PatternID < b.PatternID
	})
}
