package sync

import (
	"context"
	"sort"
	"strings"

	"github.com/drallgood/audiohardshelf/internal/events"
	"github.com/drallgood/audiohardshelf/internal/models"
)

// DefaultTitleThreshold is the minimum title similarity for a fuzzy match
const DefaultTitleThreshold = 0.85

// Matcher resolves source book metadata to a Hardcover book.
type Matcher struct {
	dst       DestinationClient
	sink      events.Sink
	threshold float64
}

// NewMatcher creates a Matcher accepting fuzzy matches whose title
// similarity reaches threshold.
func NewMatcher(dst DestinationClient, sink events.Sink, threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultTitleThreshold
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Matcher{dst: dst, sink: sink, threshold: threshold}
}

// MatchBook returns the Hardcover identity for md and true, or false when
// no confident match exists. Identifier matches always win over text
// search; lookup errors fall through to the next step.
func (m *Matcher) MatchBook(ctx context.Context, md models.Metadata) (models.DestinationBookIdentity, bool) {
	book, ok := md.Book()
	if !ok || strings.TrimSpace(book.Title) == "" {
		events.Debug(m.sink, "No metadata to match", events.Fields{
			"item_id": md.ItemID(),
			"reason":  md.Reason(),
		})
		return models.DestinationBookIdentity{}, false
	}

	if book.ISBN != "" {
		if identity, ok := m.byIdentifier(ctx, md.ItemID(), models.IdentifierISBN, book.ISBN); ok {
			return identity, true
		}
	}
	if book.ASIN != "" {
		if identity, ok := m.byIdentifier(ctx, md.ItemID(), models.IdentifierASIN, book.ASIN); ok {
			return identity, true
		}
	}
	return m.byTitleAuthor(ctx, md.ItemID(), book)
}

func (m *Matcher) byIdentifier(ctx context.Context, itemID string, kind models.IdentifierKind, value string) (models.DestinationBookIdentity, bool) {
	candidates, err := m.dst.FindByIdentifier(ctx, kind, value)
	if err != nil {
		events.Warn(m.sink, "Identifier lookup failed", events.Fields{
			"item_id": itemID,
			"kind":    string(kind),
			"value":   value,
			"error":   err.Error(),
		})
		return models.DestinationBookIdentity{}, false
	}
	if len(candidates) == 0 {
		return models.DestinationBookIdentity{}, false
	}

	chosen := candidates[0]
	for _, c := range candidates {
		if c.Primary {
			chosen = c
			break
		}
	}
	chosen.Confidence = models.ConfidenceExact

	events.Debug(m.sink, "Matched by identifier", events.Fields{
		"item_id":    itemID,
		"kind":       string(kind),
		"value":      value,
		"book_id":    chosen.BookID,
		"edition_id": chosen.EditionID,
		"candidates": len(candidates),
	})
	return chosen, true
}

type scoredCandidate struct {
	candidate models.SearchCandidate
	score     float64
}

func (m *Matcher) byTitleAuthor(ctx context.Context, itemID string, book models.BookMetadata) (models.DestinationBookIdentity, bool) {
	author := book.PrimaryAuthor()
	candidates, err := m.dst.SearchByTitleAuthor(ctx, book.Title, author)
	if err != nil {
		events.Warn(m.sink, "Title search failed", events.Fields{
			"item_id": itemID,
			"title":   book.Title,
			"author":  author,
			"error":   err.Error(),
		})
		return models.DestinationBookIdentity{}, false
	}
	if len(candidates) == 0 {
		return models.DestinationBookIdentity{}, false
	}

	scored := make([]scoredCandidate, len(candidates))
	for i, c := range candidates {
		score := TitleSimilarity(book.Title, c.Title)
		if book.Subtitle != "" {
			if s := TitleSimilarity(book.Title+" "+book.Subtitle, c.Title); s > score {
				score = s
			}
		}
		scored[i] = scoredCandidate{candidate: c, score: score}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	top := scored[0]
	fields := events.Fields{
		"item_id":          itemID,
		"title":            book.Title,
		"candidate_title":  top.candidate.Title,
		"book_id":          top.candidate.Identity.BookID,
		"title_similarity": top.score,
	}
	if top.score < m.threshold {
		events.Debug(m.sink, "Top search candidate below title threshold", fields)
		return models.DestinationBookIdentity{}, false
	}
	if !AuthorsOverlap(book.Authors, top.candidate.Authors) {
		events.Debug(m.sink, "Top search candidate has no matching author", fields)
		return models.DestinationBookIdentity{}, false
	}

	identity := top.candidate.Identity
	identity.Confidence = models.ConfidenceFuzzy
	if identity.Title == "" {
		identity.Title = top.candidate.Title
	}
	events.Debug(m.sink, "Matched by title and author", fields)
	return identity, true
}
