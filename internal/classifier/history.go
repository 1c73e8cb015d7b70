package classifier

import (
	"sql-guard/internal/model"
)

// Stats summarizes the classification window.
type Stats struct {
	Total          int                     `json:"total" yaml:"total"`
	Window         int                     `json:"window" yaml:"window"`
	ByType         map[model.ErrorType]int `json:"by_type" yaml:"by_type"`
	MeanConfidence float64                 `json:"mean_confidence" yaml:"mean_confidence"`
}

// record appends e to a ring of historyLimit entries.
func (c *Classifier) record(e *model.SQLError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := e.Clone()
	if len(c.history) < c.historyLimit {
		c.history = append(c.history, entry)
	} else {
		old := c.history[c.next]
		c.counts[old.ErrorType]--
		c.confSum -= old.Confidence
		c.history[c.next] = entry
		c.next = (c.next + 1) % c.historyLimit
	}
	c.counts[e.ErrorType]++
	c.confSum += e.Confidence
	c.total++
}

// History returns the classification window, oldest first.
func (c *Classifier) History() []*model.SQLError {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*model.SQLError, 0, len(c.history))
	for i := range c.history {
		out = append(out, c.history[(c.next+i)%len(c.history)].Clone())
	}
	return out
}

// Stats reports counts over the current window. Total counts every
// classification since the last Reset.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Total:  c.total,
		Window: len(c.history),
		ByType: make(map[model.ErrorType]int, len(c.counts)),
	}
	for t, n := range c.counts {
		if n > 0 {
			s.ByType[t] = n
		}
	}
	if len(c.history) > 0 {
		s.MeanConfidence = c.confSum / float64(len(c.history))
	}
	return s
}

// Reset clears the history window and counters.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.next = 0
	c.total = 0
	c.confSum = 0
	c.counts = make(map[model.ErrorType]int)
}
