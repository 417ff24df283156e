package sync

import (
	"math"

	"github.com/drallgood/audiohardshelf/internal/models"
)

// ProgressEpsilon is the smallest progress increase worth an update.
const ProgressEpsilon = 0.001

// DecisionKind is what to do with one book.
type DecisionKind int

const (
	DecisionSkip DecisionKind = iota
	DecisionCreate
	DecisionAdvance
	DecisionFinish
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionCreate:
		return "create"
	case DecisionAdvance:
		return "advance"
	case DecisionFinish:
		return "finish"
	default:
		return "skip"
	}
}

// Decision is the outcome of Decide.
type Decision struct {
	Kind DecisionKind
	// Progress is the fraction to write, clamped to [0, 1]
	Progress float64
	// Finished seeds a create as already finished
	Finished bool
	// Invalid marks a skip caused by out of range source progress
	Invalid bool
	Reason  string
}

// ValidProgress reports whether p is a usable progress fraction.
func ValidProgress(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 1
}

// Decide compares the destination state with the source progress. It is a
// pure function of its arguments.
func Decide(existing *models.TrackingState, src models.SourceProgressRecord) Decision {
	if !ValidProgress(src.Progress) {
		return Decision{Kind: DecisionSkip, Invalid: true, Reason: "source progress out of range"}
	}

	progress := src.Progress
	if src.IsFinished {
		progress = 1
	}

	if existing == nil {
		return Decision{Kind: DecisionCreate, Progress: progress, Finished: src.IsFinished, Reason: "not tracked"}
	}

	if existing.Finished {
		return Decision{Kind: DecisionSkip, Progress: progress, Reason: "already finished"}
	}
	if src.IsFinished {
		return Decision{Kind: DecisionFinish, Progress: 1, Finished: true, Reason: "finished at source"}
	}

	if progress-clampFraction(existing.Progress) > ProgressEpsilon {
		return Decision{Kind: DecisionAdvance, Progress: progress, Reason: "progress advanced"}
	}
	return Decision{Kind: DecisionSkip, Progress: progress, Reason: "progress unchanged"}
}

func clampFraction(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
