package models

// IdentifierKind selects which identifier a destination lookup uses.
type IdentifierKind string

const (
	IdentifierISBN IdentifierKind = "isbn"
	IdentifierASIN IdentifierKind = "asin"
)

// Confidence is the strength of a book identity match.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceFuzzy
	ConfidenceExact
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceExact:
		return "exact"
	case ConfidenceFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// DestinationBookIdentity is a book (and edition) in Hardcover.
type DestinationBookIdentity struct {
	BookID       int        `json:"book_id"`
	EditionID    int        `json:"edition_id,omitempty"`
	Title        string     `json:"title,omitempty"`
	AudioSeconds int        `json:"audio_seconds,omitempty"`
	Primary      bool       `json:"primary,omitempty"`
	Confidence   Confidence `json:"confidence"`
}

// SearchCandidate is one result of a title/author search.
type SearchCandidate struct {
	Identity DestinationBookIdentity `json:"identity"`
	Title    string                  `json:"title"`
	Authors  []string                `json:"authors"`
}

// TrackingState is the user's existing tracking record for a book.
type TrackingState struct {
	UserBookID int     `json:"user_book_id"`
	ReadID     int     `json:"read_id,omitempty"`
	StatusID   int     `json:"status_id"`
	Progress   float64 `json:"progress"`
	Finished   bool    `json:"finished"`
}

// Hardcover user_book status ids.
const (
	StatusWantToRead       = 1
	StatusCurrentlyReading = 2
	StatusRead             = 3
)
