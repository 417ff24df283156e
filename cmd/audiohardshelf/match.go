package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/drallgood/audiohardshelf/internal/models"
	"github.com/drallgood/audiohardshelf/internal/sync"
)

func matchCommand() *cli.Command {
	return &cli.Command{
		Name:  "match",
		Usage: "Show which Hardcover book a source book resolves to",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "item", Usage: "Audiobookshelf library item `ID`"},
			&cli.StringFlag{Name: "title", Usage: "Book title"},
			&cli.StringFlag{Name: "author", Usage: "Primary author"},
			&cli.StringFlag{Name: "isbn", Usage: "ISBN-10 or ISBN-13"},
			&cli.StringFlag{Name: "asin", Usage: "Audible ASIN"},
		},
		Action: runMatch,
	}
}

type matchResult struct {
	Metadata *models.BookMetadata            `json:"metadata,omitempty"`
	Reason   string                          `json:"reason,omitempty"`
	Matched  bool                            `json:"matched"`
	Identity *models.DestinationBookIdentity `json:"identity,omitempty"`
	Tracking *models.TrackingState           `json:"tracking,omitempty"`
}

// runMatch resolves one book the same way a pass does and prints the
// identity and the current tracking state. It never writes.
func runMatch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := setupLogger(cfg)
	abs, hc := newClients(cfg, log)

	var md models.Metadata
	if id := c.String("item"); id != "" {
		md = abs.GetItemDetails(c.Context, id)
	} else {
		book := models.BookMetadata{
			Title: c.String("title"),
			ISBN:  c.String("isbn"),
			ASIN:  c.String("asin"),
		}
		if a := c.String("author"); a != "" {
			book.Authors = []string{a}
		}
		if book.Title == "" {
			return errors.New("either --item or --title is required")
		}
		md = models.Found("cli", book)
	}

	result := matchResult{Reason: md.Reason()}
	if book, ok := md.Book(); ok {
		result.Metadata = &book
	}

	matcher := sync.NewMatcher(hc, nil, cfg.Sync.TitleThreshold)
	if identity, ok := matcher.MatchBook(c.Context, md); ok {
		result.Matched = true
		result.Identity = &identity
		state, err := hc.GetTrackingState(c.Context, identity)
		if err != nil {
			return fmt.Errorf("failed to read tracking state: %w", err)
		}
		result.Tracking = state
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}
