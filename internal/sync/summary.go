package sync

import (
	"time"
)

// Stage names the pipeline step a book failed in.
type Stage string

const (
	StageMetadata Stage = "metadata"
	StageMatch    Stage = "match"
	StageState    Stage = "state"
	StageApply    Stage = "apply"
	StagePanic    Stage = "panic"
)

// Failure is one book whose pipeline did not complete.
type Failure struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title,omitempty"`
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// UnmatchedBook is a source book with no confident Hardcover match.
type UnmatchedBook struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	ISBN   string `json:"isbn,omitempty"`
	ASIN   string `json:"asin,omitempty"`
}

// RunSummary is the result of one pass. It is not modified once returned.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Degraded   bool      `json:"degraded"`
	DryRun     bool      `json:"dry_run"`

	Considered int `json:"considered"`
	Matched    int `json:"matched"`
	Unmatched  int `json:"unmatched"`
	Created    int `json:"created"`
	Advanced   int `json:"advanced"`
	Finished   int `json:"finished"`
	Skipped    int `json:"skipped"`
	Invalid    int `json:"invalid"`
	Failed     int `json:"failed"`

	Failures       []Failure       `json:"failures"`
	UnmatchedBooks []UnmatchedBook `json:"unmatched_books"`
}

// Duration is the wall time the pass took.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Updated counts books whose destination state was, or in a dry run would
// have been, written.
func (s *RunSummary) Updated() int {
	return s.Created + s.Advanced + s.Finished
}

// outcome is what one book pipeline reports back to the accumulator.
type outcome struct {
	index     int
	matched   bool
	unmatched *UnmatchedBook
	decision  *Decision
	failure   *Failure
}

// record folds one outcome into the summary. Only the accumulating
// goroutine calls it.
func (s *RunSummary) record(o outcome) {
	s.Considered++
	if o.matched {
		s.Matched++
	}
	if o.unmatched != nil {
		s.Unmatched++
		s.UnmatchedBooks = append(s.UnmatchedBooks, *o.unmatched)
	}
	if o.failure != nil {
		s.Failed++
		s.Failures = append(s.Failures, *o.failure)
		return
	}
	if o.decision == nil {
		return
	}
	switch {
	case o.decision.Invalid:
		s.Invalid++
	case o.decision.Kind == DecisionCreate:
		s.Created++
	case o.decision.Kind == DecisionAdvance:
		s.Advanced++
	case o.decision.Kind == DecisionFinish:
		s.Finished++
	default:
		s.Skipped++
	}
}

// fields renders the counts for the pass summary event.
func (s *RunSummary) fields() map[string]interface{} {
	return map[string]interface{}{
		"run_id":     s.RunID,
		"duration":   s.Duration().String(),
		"degraded":   s.Degraded,
		"dry_run":    s.DryRun,
		"considered": s.Considered,
		"matched":    s.Matched,
		"unmatched":  s.Unmatched,
		"created":    s.Created,
		"advanced":   s.Advanced,
		"finished":   s.Finished,
		"skipped":    s.Skipped,
		"invalid":    s.Invalid,
		"failed":     s.Failed,
	}
}
