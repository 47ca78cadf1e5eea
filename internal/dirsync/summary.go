// Package dirsync runs batch synchronization between the directory and the
// local account store, in either direction.
package dirsync

import (
	"encoding/json"
	"time"

	"golang.org/x/time/rate"
)

// Outcome classifies what a run did to one user.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Summary aggregates the outcomes of one run.
type Summary struct {
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Elapsed time.Duration `json:"-"`
}

func (s *Summary) record(o Outcome) {
	switch o {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
}

// Total is the number of users the run looked at.
func (s Summary) Total() int {
	return s.Created + s.Updated + s.Skipped + s.Failed
}

// MarshalJSON renders Elapsed as a duration string.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	return json.Marshal(struct {
		plain
		Elapsed string `json:"elapsed"`
	}{plain(s), s.Elapsed.String()})
}

// newLimiter returns nil when perSecond is not positive.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}
