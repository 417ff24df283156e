package models

import "time"

// MediaType tags what kind of item a progress record belongs to.
type MediaType string

const (
	MediaTypeBook    MediaType = "book"
	MediaTypePodcast MediaType = "podcast"
)

// IsBook reports whether the media type is a book.
func (m MediaType) IsBook() bool {
	return m == MediaTypeBook
}

// Library is a library on the Audiobookshelf server.
type Library struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MediaType MediaType `json:"mediaType"`
}

// InProgressItem is one entry of a library's own "in progress" listing.
type InProgressItem struct {
	ID        string `json:"id"`
	LibraryID string `json:"libraryId"`
}

// SourceProgressRecord is the user's progress on one library item.
type SourceProgressRecord struct {
	ItemID      string    `json:"libraryItemId"`
	MediaType   MediaType `json:"mediaItemType"`
	Progress    float64   `json:"progress"`
	IsFinished  bool      `json:"isFinished"`
	Hidden      bool      `json:"hideFromContinueListening"`
	LastUpdate  time.Time `json:"lastUpdate"`
	CurrentTime float64   `json:"currentTime,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
}

// IsListening reports whether the record counts as currently listening.
func (r SourceProgressRecord) IsListening() bool {
	return r.MediaType.IsBook() && !r.IsFinished && !r.Hidden
}

// BookMetadata is the descriptive metadata of a book at the source.
type BookMetadata struct {
	Title         string   `json:"title"`
	Subtitle      string   `json:"subtitle,omitempty"`
	Authors       []string `json:"authors"`
	Narrators     []string `json:"narrators,omitempty"`
	ISBN          string   `json:"isbn,omitempty"`
	ASIN          string   `json:"asin,omitempty"`
	PublishedYear string   `json:"publishedYear,omitempty"`
}

// PrimaryAuthor returns the first author, or an empty string.
func (b BookMetadata) PrimaryAuthor() string {
	if len(b.Authors) == 0 {
		return ""
	}
	return b.Authors[0]
}

// Metadata is either Found book metadata or Unavailable.
//
// The zero value is Unavailable.
type Metadata struct {
	itemID string
	book   *BookMetadata
	reason string
}

// Found wraps metadata fetched for itemID.
func Found(itemID string, book BookMetadata) Metadata {
	return Metadata{itemID: itemID, book: &book}
}

// Unavailable records that no metadata could be fetched for itemID.
func Unavailable(itemID, reason string) Metadata {
	return Metadata{itemID: itemID, reason: reason}
}

// ItemID returns the source item the metadata belongs to.
func (m Metadata) ItemID() string { return m.itemID }

// Book returns the metadata and true when it was found.
func (m Metadata) Book() (BookMetadata, bool) {
	if m.book == nil {
		return BookMetadata{}, false
	}
	return *m.book, true
}

// IsFound reports whether the metadata was found.
func (m Metadata) IsFound() bool { return m.book != nil }

// Reason explains why the metadata is unavailable.
func (m Metadata) Reason() string { return m.reason }
