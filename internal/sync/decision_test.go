package sync

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drallgood/audiohardshelf/internal/models"
)

func TestDecide(t *testing.T) {
	finishedRec := models.SourceProgressRecord{ItemID: "x", MediaType: models.MediaTypeBook, Progress: 0.97, IsFinished: true}

	tests := []struct {
		name         string
		existing     *models.TrackingState
		src          models.SourceProgressRecord
		wantKind     DecisionKind
		wantProgress float64
		wantFinished bool
		wantInvalid  bool
	}{
		{
			name:         "untracked book is created",
			src:          listening("x", 0.25),
			wantKind:     DecisionCreate,
			wantProgress: 0.25,
		},
		{
			name:         "untracked finished book is created finished",
			src:          finishedRec,
			wantKind:     DecisionCreate,
			wantProgress: 1,
			wantFinished: true,
		},
		{
			name:         "progress advanced",
			existing:     &models.TrackingState{UserBookID: 1, Progress: 0.10},
			src:          listening("x", 0.60),
			wantKind:     DecisionAdvance,
			wantProgress: 0.60,
		},
		{
			name:         "change within epsilon is skipped",
			existing:     &models.TrackingState{UserBookID: 1, Progress: 0.500},
			src:          listening("x", 0.5005),
			wantKind:     DecisionSkip,
			wantProgress: 0.5005,
		},
		{
			name:         "backwards progress is skipped",
			existing:     &models.TrackingState{UserBookID: 1, Progress: 0.8},
			src:          listening("x", 0.3),
			wantKind:     DecisionSkip,
			wantProgress: 0.3,
		},
		{
			name:         "finished at source",
			existing:     &models.TrackingState{UserBookID: 1, Progress: 0.9},
			src:          finishedRec,
			wantKind:     DecisionFinish,
			wantProgress: 1,
			wantFinished: true,
		},
		{
			name:         "already finished at destination",
			existing:     &models.TrackingState{UserBookID: 1, Progress: 1, Finished: true},
			src:          finishedRec,
			wantKind:     DecisionSkip,
			wantProgress: 1,
		},
		{
			name:         "out of range existing progress is clamped",
			existing:     &models.TrackingState{UserBookID: 1, Progress: -3},
			src:          listening("x", 0.2),
			wantKind:     DecisionAdvance,
			wantProgress: 0.2,
		},
		{
			name:        "negative source progress",
			src:         listening("x", -0.1),
			wantKind:    DecisionSkip,
			wantInvalid: true,
		},
		{
			name:        "source progress above one",
			existing:    &models.TrackingState{UserBookID: 1},
			src:         listening("x", 1.5),
			wantKind:    DecisionSkip,
			wantInvalid: true,
		},
		{
			name:        "NaN source progress",
			src:         listening("x", math.NaN()),
			wantKind:    DecisionSkip,
			wantInvalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.existing, tt.src)
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.wantInvalid, d.Invalid)
			assert.Equal(t, tt.wantFinished, d.Finished)
			assert.NotEmpty(t, d.Reason)
			if !tt.wantInvalid {
				assert.InDelta(t, tt.wantProgress, d.Progress, 1e-9)
			}
		})
	}
}

// Applying a decision and deciding again against the resulting state must
// not produce another write.
func TestDecide_Idempotent(t *testing.T) {
	records := []models.SourceProgressRecord{
		listening("x", 0),
		listening("x", 0.25),
		listening("x", 0.999),
		{ItemID: "x", MediaType: models.MediaTypeBook, Progress: 0.4, IsFinished: true},
	}
	states := []*models.TrackingState{
		nil,
		{UserBookID: 1, Progress: 0.1},
		{UserBookID: 1, Progress: 0.9, StatusID: models.StatusCurrentlyReading},
	}

	for _, rec := range records {
		for _, state := range states {
			first := Decide(state, rec)

			var after *models.TrackingState
			if state != nil {
				copied := *state
				after = &copied
			}
			switch first.Kind {
			case DecisionCreate:
				after = &models.TrackingState{UserBookID: 1, Progress: first.Progress, Finished: first.Finished}
			case DecisionAdvance:
				after.Progress = first.Progress
			case DecisionFinish:
				after.Progress = 1
				after.Finished = true
			}

			assert.Equal(t, DecisionSkip, Decide(after, rec).Kind, "record %+v state %+v", rec, state)
		}
	}
}

func TestDecisionKindString(t *testing.T) {
	assert.Equal(t, "skip", DecisionSkip.String())
	assert.Equal(t, "create", DecisionCreate.String())
	assert.Equal(t, "advance", DecisionAdvance.String())
	assert.Equal(t, "finish", DecisionFinish.String())
}
