package hardcover

import (
	"context"
	"fmt"
	"math"

	"github.com/drallgood/audiohardshelf/internal/models"
)

const userBookStateQuery = `
query UserBookState($userId: Int!, $bookId: Int!) {
  user_books(where: { user_id: { _eq: $userId }, book_id: { _eq: $bookId } }, limit: 1) {
    id
    status_id
    edition_id
    edition {
      audio_seconds
    }
    user_book_reads(order_by: { id: desc }, limit: 1) {
      id
      progress
      progress_seconds
      started_at
      finished_at
    }
  }
}`

const insertUserBookMutation = `
mutation InsertUserBook($object: UserBookCreateInput!) {
  insert_user_book(object: $object) {
    id
    error
  }
}`

const insertUserBookReadMutation = `
mutation InsertUserBookRead($user_book_id: Int!, $user_book_read: DatesReadInput!) {
  insert_user_book_read(user_book_id: $user_book_id, user_book_read: $user_book_read) {
    id
    error
  }
}`

const updateUserBookReadMutation = `
mutation UpdateUserBookRead($id: Int!, $object: DatesReadInput!) {
  update_user_book_read(id: $id, object: $object) {
    id
    error
  }
}`

const updateUserBookStatusMutation = `
mutation UpdateUserBookStatus($id: Int!, $status_id: Int!) {
  update_user_book(id: $id, object: { status_id: $status_id }) {
    id
    error
  }
}`

const dateLayout = "2006-01-02"

// mutationResult is the shape shared by the user book mutations.
type mutationResult struct {
	ID    int     `json:"id"`
	Error *string `json:"error"`
}

func (r mutationResult) err(op string) error {
	if r.Error != nil && *r.Error != "" {
		return &GraphQLError{Operation: op, Messages: []string{*r.Error}}
	}
	if r.ID == 0 {
		return &GraphQLError{Operation: op, Messages: []string{"no id returned"}}
	}
	return nil
}

// GetTrackingState returns the user's tracking record for the book, or nil
// when the book is not tracked.
func (c *Client) GetTrackingState(ctx context.Context, identity models.DestinationBookIdentity) (*models.TrackingState, error) {
	if identity.BookID == 0 {
		return nil, fmt.Errorf("%w: book id is required", ErrInvalidInput)
	}
	userID, err := c.currentUserID(ctx)
	if err != nil {
		return nil, err
	}

	var result struct {
		UserBooks []struct {
			ID        int  `json:"id"`
			StatusID  int  `json:"status_id"`
			EditionID *int `json:"edition_id"`
			Edition   *struct {
				AudioSeconds *int `json:"audio_seconds"`
			} `json:"edition"`
			Reads []struct {
				ID              int      `json:"id"`
				Progress        *float64 `json:"progress"`
				ProgressSeconds *int     `json:"progress_seconds"`
				StartedAt       *string  `json:"started_at"`
				FinishedAt      *string  `json:"finished_at"`
			} `json:"user_book_reads"`
		} `json:"user_books"`
	}
	vars := map[string]interface{}{"userId": userID, "bookId": identity.BookID}
	if err := c.exec(ctx, "UserBookState", userBookStateQuery, vars, &result); err != nil {
		return nil, fmt.Errorf("failed to get tracking state for book %d: %w", identity.BookID, err)
	}
	if len(result.UserBooks) == 0 {
		return nil, nil
	}

	ub := result.UserBooks[0]
	state := &models.TrackingState{
		UserBookID: ub.ID,
		StatusID:   ub.StatusID,
		Finished:   ub.StatusID == models.StatusRead,
	}

	audioSeconds := identity.AudioSeconds
	if ub.Edition != nil && intValue(ub.Edition.AudioSeconds) > 0 {
		audioSeconds = intValue(ub.Edition.AudioSeconds)
	}

	if len(ub.Reads) > 0 {
		read := ub.Reads[0]
		state.ReadID = read.ID
		if read.FinishedAt != nil && *read.FinishedAt != "" {
			state.Finished = true
		}
		switch {
		case read.ProgressSeconds != nil && audioSeconds > 0:
			state.Progress = float64(*read.ProgressSeconds) / float64(audioSeconds)
		case read.Progress != nil:
			state.Progress = *read.Progress / 100
		}
	}
	state.Progress = clamp(state.Progress)

	return state, nil
}

// CreateTracking adds the book to the user's library as currently reading,
// or read when finished, and starts a read at progress.
func (c *Client) CreateTracking(ctx context.Context, identity models.DestinationBookIdentity, progress float64, finished bool) (*models.TrackingState, error) {
	if identity.BookID == 0 {
		return nil, fmt.Errorf("%w: book id is required", ErrInvalidInput)
	}
	identity, err := c.resolveEdition(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !finished {
		if err := requireAudioLength(identity); err != nil {
			return nil, err
		}
	}

	status := models.StatusCurrentlyReading
	if finished {
		status = models.StatusRead
	}
	object := map[string]interface{}{
		"book_id":   identity.BookID,
		"status_id": status,
	}
	if identity.EditionID != 0 {
		object["edition_id"] = identity.EditionID
	}

	var created struct {
		InsertUserBook mutationResult `json:"insert_user_book"`
	}
	if err := c.exec(ctx, "InsertUserBook", insertUserBookMutation, map[string]interface{}{"object": object}, &created); err != nil {
		return nil, fmt.Errorf("failed to create user book: %w", err)
	}
	if err := created.InsertUserBook.err("InsertUserBook"); err != nil {
		return nil, err
	}

	state := &models.TrackingState{
		UserBookID: created.InsertUserBook.ID,
		StatusID:   status,
		Progress:   clamp(progress),
		Finished:   finished,
	}

	readID, err := c.insertRead(ctx, state.UserBookID, c.readInput(identity, progress, finished, true))
	if err != nil {
		return state, err
	}
	state.ReadID = readID

	c.logger.Info("Started tracking book", map[string]interface{}{
		"book_id":      identity.BookID,
		"edition_id":   identity.EditionID,
		"user_book_id": state.UserBookID,
		"progress":     progress,
		"finished":     finished,
	})
	return state, nil
}

// UpdateProgress moves the current read to progress. A read is started when
// the user book has none, and the status is set to currently reading.
func (c *Client) UpdateProgress(ctx context.Context, identity models.DestinationBookIdentity, state *models.TrackingState, progress float64) error {
	if state == nil || state.UserBookID == 0 {
		return ErrNotTracked
	}
	identity, err := c.resolveEdition(ctx, identity)
	if err != nil {
		return err
	}
	if err := requireAudioLength(identity); err != nil {
		return err
	}

	input := c.readInput(identity, progress, false, state.ReadID == 0)
	if state.ReadID == 0 {
		if _, err := c.insertRead(ctx, state.UserBookID, input); err != nil {
			return err
		}
	} else if err := c.updateRead(ctx, state.ReadID, input); err != nil {
		return err
	}

	if state.StatusID != models.StatusCurrentlyReading {
		if err := c.updateStatus(ctx, state.UserBookID, models.StatusCurrentlyReading); err != nil {
			return err
		}
	}
	return nil
}

// MarkFinished completes the current read and sets the status to read.
func (c *Client) MarkFinished(ctx context.Context, identity models.DestinationBookIdentity, state *models.TrackingState) error {
	if state == nil || state.UserBookID == 0 {
		return ErrNotTracked
	}
	identity, err := c.resolveEdition(ctx, identity)
	if err != nil {
		return err
	}

	input := c.readInput(identity, 1, true, state.ReadID == 0)
	if state.ReadID == 0 {
		if _, err := c.insertRead(ctx, state.UserBookID, input); err != nil {
			return err
		}
	} else if err := c.updateRead(ctx, state.ReadID, input); err != nil {
		return err
	}

	return c.updateStatus(ctx, state.UserBookID, models.StatusRead)
}

// requireAudioLength rejects progress writes that cannot be stored as
// progress_seconds.
func requireAudioLength(identity models.DestinationBookIdentity) error {
	if identity.AudioSeconds <= 0 {
		return fmt.Errorf("%w: no audio length known for book %d (edition %d)", ErrInvalidInput, identity.BookID, identity.EditionID)
	}
	return nil
}

// readInput builds a DatesReadInput object for the given progress.
func (c *Client) readInput(identity models.DestinationBookIdentity, progress float64, finished, start bool) map[string]interface{} {
	today := c.now().Format(dateLayout)
	input := map[string]interface{}{}
	if identity.EditionID != 0 {
		input["edition_id"] = identity.EditionID
	}
	if identity.AudioSeconds > 0 {
		input["progress_seconds"] = int(math.Round(clamp(progress) * float64(identity.AudioSeconds)))
	}
	if start {
		input["started_at"] = today
	}
	if finished {
		input["finished_at"] = today
	}
	return input
}

func (c *Client) insertRead(ctx context.Context, userBookID int, read map[string]interface{}) (int, error) {
	var result struct {
		InsertUserBookRead mutationResult `json:"insert_user_book_read"`
	}
	vars := map[string]interface{}{"user_book_id": userBookID, "user_book_read": read}
	if err := c.exec(ctx, "InsertUserBookRead", insertUserBookReadMutation, vars, &result); err != nil {
		return 0, fmt.Errorf("failed to insert user book read: %w", err)
	}
	if err := result.InsertUserBookRead.err("InsertUserBookRead"); err != nil {
		return 0, err
	}
	return result.InsertUserBookRead.ID, nil
}

func (c *Client) updateRead(ctx context.Context, readID int, read map[string]interface{}) error {
	var result struct {
		UpdateUserBookRead mutationResult `json:"update_user_book_read"`
	}
	vars := map[string]interface{}{"id": readID, "object": read}
	if err := c.exec(ctx, "UpdateUserBookRead", updateUserBookReadMutation, vars, &result); err != nil {
		return fmt.Errorf("failed to update user book read: %w", err)
	}
	return result.UpdateUserBookRead.err("UpdateUserBookRead")
}

func (c *Client) updateStatus(ctx context.Context, userBookID, statusID int) error {
	var result struct {
		UpdateUserBook mutationResult `json:"update_user_book"`
	}
	vars := map[string]interface{}{"id": userBookID, "status_id": statusID}
	if err := c.exec(ctx, "UpdateUserBookStatus", updateUserBookStatusMutation, vars, &result); err != nil {
		return fmt.Errorf("failed to update user book status: %w", err)
	}
	return result.UpdateUserBook.err("UpdateUserBookStatus")
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
