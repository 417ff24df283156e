package sync

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/drallgood/audiohardshelf/internal/events"
	"github.com/drallgood/audiohardshelf/internal/models"
	"github.com/drallgood/audiohardshelf/internal/util"
)

// Options tune a pass.
type Options struct {
	// Concurrency bounds how many books are processed at once
	Concurrency int
	// TitleThreshold is the minimum title similarity of a fuzzy match
	TitleThreshold float64
	// InProgressLimit is the page size of the library in-progress listing
	InProgressLimit int
	// FinishedLookback includes books finished this recently; zero disables
	FinishedLookback time.Duration
	// DryRun computes decisions without writing to Hardcover
	DryRun bool
	// BookFilter keeps only books whose title or author contains it
	BookFilter string
	// BookLimit caps the number of books processed; zero means no cap
	BookLimit int
}

// Orchestrator runs sync passes.
type Orchestrator struct {
	src     SourceClient
	dst     DestinationClient
	reader  *Reader
	matcher *Matcher
	sink    events.Sink
	opts    Options
	now     func() time.Time

	mu   sync.RWMutex
	last *RunSummary
}

// NewOrchestrator wires a Reader and Matcher around the given clients.
func NewOrchestrator(src SourceClient, dst DestinationClient, sink events.Sink, opts Options) *Orchestrator {
	if sink == nil {
		sink = events.Discard
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Orchestrator{
		src:     src,
		dst:     dst,
		reader:  NewReader(src, sink, opts.InProgressLimit),
		matcher: NewMatcher(dst, sink, opts.TitleThreshold),
		sink:    sink,
		opts:    opts,
		now:     time.Now,
	}
}

// LastSummary returns the summary of the most recent finished pass, or nil.
func (o *Orchestrator) LastSummary() *RunSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// book is one unit of work flowing through a pass.
type book struct {
	index    int
	progress models.SourceProgressRecord
	metadata models.Metadata
}

// RunPass runs one full pass and returns its summary. Per-book failures are
// recorded in the summary and never abort the pass. Concurrent passes are
// independent of each other.
func (o *Orchestrator) RunPass(ctx context.Context) *RunSummary {
	summary := &RunSummary{
		RunID:          uuid.NewString(),
		StartedAt:      o.now(),
		DryRun:         o.opts.DryRun,
		Failures:       []Failure{},
		UnmatchedBooks: []UnmatchedBook{},
	}
	events.Info(o.sink, "Sync pass started", events.Fields{"run_id": summary.RunID, "dry_run": o.opts.DryRun})

	listing := o.reader.Read(ctx, o.opts.FinishedLookback)
	summary.Degraded = listing.Degraded

	records := make([]models.SourceProgressRecord, 0, len(listing.Listening)+len(listing.RecentlyFinished))
	records = append(records, listing.Listening...)
	records = append(records, listing.RecentlyFinished...)
	if o.opts.BookFilter == "" && o.opts.BookLimit > 0 && len(records) > o.opts.BookLimit {
		records = records[:o.opts.BookLimit]
	}

	books := make([]book, len(records))
	for i, rec := range records {
		books[i] = book{index: i, progress: rec}
	}

	results := make(chan outcome, len(books))
	books = o.fetchMetadata(ctx, books, results)
	books = o.filter(books)

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)
	for _, b := range books {
		b := b
		g.Go(func() error {
			results <- o.processBook(ctx, b)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	var outcomes []outcome
	for out := range results {
		outcomes = append(outcomes, out)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })
	for _, out := range outcomes {
		summary.record(out)
	}

	summary.FinishedAt = o.now()
	o.emitSummary(summary)

	o.mu.Lock()
	o.last = summary
	o.mu.Unlock()
	return summary
}

// fetchMetadata loads metadata for every book concurrently. Books whose
// fetch panics are reported to results as failures and dropped.
func (o *Orchestrator) fetchMetadata(ctx context.Context, books []book, results chan<- outcome) []book {
	ok := make([]bool, len(books))

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)
	for i := range books {
		i := i
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results <- o.fail(books[i], StageMetadata, &util.PanicError{Value: r})
				}
			}()
			books[i].metadata = o.src.GetItemDetails(ctx, books[i].progress.ItemID)
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	kept := books[:0]
	for i, b := range books {
		if ok[i] {
			kept = append(kept, b)
		}
	}
	return kept
}

// filter applies BookFilter and then BookLimit.
func (o *Orchestrator) filter(books []book) []book {
	if o.opts.BookFilter == "" {
		return books
	}
	needle := strings.ToLower(o.opts.BookFilter)

	var kept []book
	for _, b := range books {
		md, found := b.metadata.Book()
		if !found {
			continue
		}
		haystack := strings.ToLower(md.Title + " " + strings.Join(md.Authors, " "))
		if !strings.Contains(haystack, needle) {
			continue
		}
		kept = append(kept, b)
		if o.opts.BookLimit > 0 && len(kept) == o.opts.BookLimit {
			break
		}
	}
	events.Debug(o.sink, "Applied book filter", events.Fields{
		"filter": o.opts.BookFilter,
		"before": len(books),
		"after":  len(kept),
	})
	return kept
}

// processBook runs match, state, decide and apply for one book. It
// recovers panics so a single book cannot take the pass down.
func (o *Orchestrator) processBook(ctx context.Context, b book) (out outcome) {
	out.index = b.index
	defer func() {
		if r := recover(); r != nil {
			matched := out.matched
			out = o.fail(b, StagePanic, &util.PanicError{Value: r})
			out.matched = matched
		}
	}()

	rec := b.progress
	if !ValidProgress(rec.Progress) {
		d := Decide(nil, rec)
		events.Warn(o.sink, "Skipping book with invalid progress", events.Fields{
			"item_id":  rec.ItemID,
			"title":    title(b),
			"progress": fmt.Sprint(rec.Progress),
		})
		out.decision = &d
		return out
	}

	identity, ok := o.matcher.MatchBook(ctx, b.metadata)
	if !ok {
		md, _ := b.metadata.Book()
		out.unmatched = &UnmatchedBook{
			ItemID: rec.ItemID,
			Title:  md.Title,
			Author: md.PrimaryAuthor(),
			ISBN:   md.ISBN,
			ASIN:   md.ASIN,
		}
		events.Info(o.sink, "No Hardcover match", events.Fields{
			"item_id": rec.ItemID,
			"title":   md.Title,
			"reason":  b.metadata.Reason(),
		})
		return out
	}
	out.matched = true
	// Editions without an audio length take the listened duration so reads
	// and writes share one denominator.
	if identity.AudioSeconds == 0 && rec.Duration > 0 {
		identity.AudioSeconds = int(math.Round(rec.Duration))
	}

	state, err := o.dst.GetTrackingState(ctx, identity)
	if err != nil {
		failed := o.fail(b, StageState, err)
		failed.matched = true
		return failed
	}

	d := Decide(state, rec)
	out.decision = &d
	fields := events.Fields{
		"item_id":    rec.ItemID,
		"title":      title(b),
		"book_id":    identity.BookID,
		"confidence": identity.Confidence.String(),
		"decision":   d.Kind.String(),
		"progress":   d.Progress,
		"reason":     d.Reason,
	}
	if d.Kind == DecisionSkip || o.opts.DryRun {
		fields["dry_run"] = o.opts.DryRun
		events.Debug(o.sink, "Book decision", fields)
		return out
	}

	if err := o.apply(ctx, identity, state, d); err != nil {
		failed := o.fail(b, StageApply, err)
		failed.matched = true
		return failed
	}
	events.Info(o.sink, "Book updated", fields)
	return out
}

func (o *Orchestrator) apply(ctx context.Context, identity models.DestinationBookIdentity, state *models.TrackingState, d Decision) error {
	switch d.Kind {
	case DecisionCreate:
		_, err := o.dst.CreateTracking(ctx, identity, d.Progress, d.Finished)
		return err
	case DecisionAdvance:
		return o.dst.UpdateProgress(ctx, identity, state, d.Progress)
	case DecisionFinish:
		return o.dst.MarkFinished(ctx, identity, state)
	default:
		return nil
	}
}

func (o *Orchestrator) fail(b book, stage Stage, err error) outcome {
	f := Failure{
		ItemID: b.progress.ItemID,
		Title:  title(b),
		Stage:  stage,
		Reason: util.ErrorMessage(err),
	}
	events.Error(o.sink, "Book sync failed", events.Fields{
		"item_id": f.ItemID,
		"title":   f.Title,
		"stage":   string(f.Stage),
		"error":   f.Reason,
	})
	return outcome{index: b.index, failure: &f}
}

func (o *Orchestrator) emitSummary(s *RunSummary) {
	fields := s.fields()
	if s.Failed > 0 {
		events.Warn(o.sink, "Sync pass finished with failures", fields)
		return
	}
	events.Info(o.sink, "Sync pass finished", fields)
}

func title(b book) string {
	if md, ok := b.metadata.Book(); ok {
		return md.Title
	}
	return ""
}
