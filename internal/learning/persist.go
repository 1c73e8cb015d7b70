package learning

import (
	"context"
	"fmt"

	"sql-guard/internal/model"
)

// Store persists learned patterns.
type Store interface {
	SavePatterns(ctx context.Context, ps []*model.ErrorPattern) error
	LoadPatterns(ctx context.Context) ([]*model.ErrorPattern, error)
}

// Load restores the patterns held by the store. Without a store it does nothing.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	ps, err := s.store.LoadPatterns(ctx)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	return s.Restore(ps)
}

// Flush saves the patterns changed since the last flush. On failure they
// stay marked and are retried by the next flush.
func (s *Service) Flush(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	s.mu.Lock()
	batch := make([]*model.ErrorPattern, 0, len(s.dirty))
	for id := range s.dirty {
		if p, ok := s.patterns[id]; ok {
			batch = append(batch, p.Clone())
		}
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	sortPatterns(batch)
	if err := s.store.SavePatterns(ctx, batch); err != nil {
		s.mu.Lock()
		for _, p := range batch {
			s.dirty[p.PatternID] = true
		}
		s.mu.Unlock()
		return fmt.Errorf("flush patterns: %w", err)
	}
	return nil
}
