package sync

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drallgood/audiohardshelf/internal/events"
	"github.com/drallgood/audiohardshelf/internal/models"
	"github.com/drallgood/audiohardshelf/internal/util"
)

// DefaultInProgressLimit is the page size of the library in-progress listing
const DefaultInProgressLimit = 50

// Listing is one snapshot of the user's books at the source.
type Listing struct {
	// Listening are the books currently being listened to, in source order
	Listening []models.SourceProgressRecord
	// RecentlyFinished are books finished inside the lookback window
	RecentlyFinished []models.SourceProgressRecord
	// Degraded is set when the library listing was unavailable and only
	// the user progress filter was applied
	Degraded bool
}

// Reader reconciles the source's in-progress listing with the user's
// progress records.
type Reader struct {
	src   SourceClient
	sink  events.Sink
	limit int
	now   func() time.Time
}

// NewReader creates a Reader. limit is the page size used for the
// per-library in-progress listing.
func NewReader(src SourceClient, sink events.Sink, limit int) *Reader {
	if limit <= 0 {
		limit = DefaultInProgressLimit
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Reader{src: src, sink: sink, limit: limit, now: time.Now}
}

// ListCurrentlyListening returns the books the user is currently listening
// to, deduplicated by item id. Transport failures yield an empty result.
func (r *Reader) ListCurrentlyListening(ctx context.Context) []models.SourceProgressRecord {
	return r.Read(ctx, 0).Listening
}

// ListRecentlyFinished returns books marked finished whose last update is
// within window of now.
func (r *Reader) ListRecentlyFinished(ctx context.Context, window time.Duration) []models.SourceProgressRecord {
	return r.Read(ctx, window).RecentlyFinished
}

// Read takes one snapshot of the source. A zero finishedWindow skips the
// recently finished books.
func (r *Reader) Read(ctx context.Context, finishedWindow time.Duration) Listing {
	events.Info(r.sink, "Reading currently listening books", nil)

	ok, err := r.src.Ping(ctx)
	if err != nil || !ok {
		fields := events.Fields{"error": util.ErrorMessage(err)}
		var rem remediator
		if errors.As(err, &rem) && len(rem.Remediation()) > 0 {
			fields["suggestions"] = rem.Remediation()
		}
		events.Error(r.sink, "Source unreachable", fields)
		return Listing{}
	}

	progress, err := r.src.GetUserProgress(ctx)
	if err != nil {
		events.Error(r.sink, "Failed to fetch user progress", events.Fields{"error": err.Error()})
		return Listing{}
	}

	inProgress, err := r.inProgressIDs(ctx)
	degraded := err != nil
	if degraded {
		events.Warn(r.sink, "Library in-progress listing unavailable, using progress records only", events.Fields{
			"error": err.Error(),
		})
	}

	listing := Listing{Degraded: degraded}
	seen := make(map[string]bool, len(progress))
	var notListening, notInListing, duplicates int

	for _, rec := range progress {
		if rec.ItemID == "" {
			continue
		}
		if !rec.IsListening() {
			notListening++
			continue
		}
		if !degraded && !inProgress[rec.ItemID] {
			notInListing++
			continue
		}
		if seen[rec.ItemID] {
			duplicates++
			events.Debug(r.sink, "Dropped duplicate progress record", events.Fields{"item_id": rec.ItemID})
			continue
		}
		seen[rec.ItemID] = true
		listing.Listening = append(listing.Listening, rec)
	}

	if finishedWindow > 0 {
		cutoff := r.now().Add(-finishedWindow)
		for _, rec := range progress {
			if !rec.MediaType.IsBook() || !rec.IsFinished || rec.ItemID == "" || seen[rec.ItemID] {
				continue
			}
			if rec.LastUpdate.Before(cutoff) {
				continue
			}
			seen[rec.ItemID] = true
			listing.RecentlyFinished = append(listing.RecentlyFinished, rec)
		}
	}

	events.Info(r.sink, "Reconciled source progress", events.Fields{
		"progress_records":  len(progress),
		"listing_items":     len(inProgress),
		"not_listening":     notListening,
		"not_in_listing":    notInListing,
		"duplicates":        duplicates,
		"listening":         len(listing.Listening),
		"recently_finished": len(listing.RecentlyFinished),
		"degraded":          degraded,
	})
	return listing
}

// inProgressIDs collects the ids of the items every book library lists as
// in progress. Any failure invalidates the whole listing.
func (r *Reader) inProgressIDs(ctx context.Context) (map[string]bool, error) {
	libraries, err := r.src.ListLibraries(ctx)
	if err != nil {
		return nil, err
	}

	var books []models.Library
	for _, lib := range libraries {
		if lib.MediaType.IsBook() {
			books = append(books, lib)
		}
	}
	events.Debug(r.sink, "Fetched libraries", events.Fields{
		"libraries":      len(libraries),
		"book_libraries": len(books),
	})

	perLibrary := make([][]models.InProgressItem, len(books))
	g, gctx := errgroup.WithContext(ctx)
	for i, lib := range books {
		i, lib := i, lib
		g.Go(func() error {
			items, err := r.src.ListInProgressItems(gctx, lib.ID, r.limit)
			if err != nil {
				return err
			}
			perLibrary[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make(map[string]bool)
	for i, items := range perLibrary {
		for _, item := range items {
			ids[item.ID] = true
		}
		events.Debug(r.sink, "Fetched library in-progress items", events.Fields{
			"library_id": books[i].ID,
			"count":      len(items),
		})
	}
	return ids, nil
}
