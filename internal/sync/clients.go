package sync

import (
	"context"

	"github.com/drallgood/audiohardshelf/internal/models"
)

// SourceClient is what the core needs from Audiobookshelf.
type SourceClient interface {
	Ping(ctx context.Context) (bool, error)
	ListLibraries(ctx context.Context) ([]models.Library, error)
	ListInProgressItems(ctx context.Context, libraryID string, limit int) ([]models.InProgressItem, error)
	GetUserProgress(ctx context.Context) ([]models.SourceProgressRecord, error)
	// GetItemDetails never fails; problems surface as models.Unavailable.
	GetItemDetails(ctx context.Context, itemID string) models.Metadata
}

// DestinationClient is what the core needs from Hardcover.
type DestinationClient interface {
	// FindByIdentifier returns all editions carrying the identifier; an
	// empty result is no match.
	FindByIdentifier(ctx context.Context, kind models.IdentifierKind, value string) ([]models.DestinationBookIdentity, error)
	SearchByTitleAuthor(ctx context.Context, title, author string) ([]models.SearchCandidate, error)
	// GetTrackingState returns nil when the book is not tracked.
	GetTrackingState(ctx context.Context, identity models.DestinationBookIdentity) (*models.TrackingState, error)
	CreateTracking(ctx context.Context, identity models.DestinationBookIdentity, progress float64, finished bool) (*models.TrackingState, error)
	UpdateProgress(ctx context.Context, identity models.DestinationBookIdentity, state *models.TrackingState, progress float64) error
	MarkFinished(ctx context.Context, identity models.DestinationBookIdentity, state *models.TrackingState) error
}

// remediator is implemented by source errors that know how to fix themselves.
type remediator interface {
	Remediation() []string
}
