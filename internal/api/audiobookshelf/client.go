package audiobookshelf

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/drallgood/audiohardshelf/internal/logger"
	"github.com/drallgood/audiohardshelf/internal/models"
)

const (
	apiPath = "/api"

	// maxErrorBody bounds how much of an error response is kept for logs
	maxErrorBody = 512
)

// inProgressFilter is the library item filter selecting in-progress items.
var inProgressFilter = "progress." + base64.StdEncoding.EncodeToString([]byte("in-progress"))

// Client is a client for the Audiobookshelf API
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a new Audiobookshelf client
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.Get(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(map[string]interface{}{"component": "audiobookshelf_client"})
	return c
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks that the server is reachable and answers {"success": true}.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	var result struct {
		Success bool `json:"success"`
	}
	if err := c.get(ctx, "/ping", &result); err != nil {
		return false, err
	}
	return result.Success, nil
}

// ListLibraries fetches all libraries from Audiobookshelf
func (c *Client) ListLibraries(ctx context.Context) ([]models.Library, error) {
	const endpoint = apiPath + "/libraries"

	var result struct {
		Libraries *[]models.Library `json:"libraries"`
	}
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	if result.Libraries == nil {
		return nil, &InvalidResponseError{Endpoint: endpoint, Reason: "missing libraries array"}
	}

	libraries := *result.Libraries
	for i, lib := range libraries {
		if lib.ID == "" {
			return nil, &InvalidResponseError{Endpoint: endpoint, Reason: fmt.Sprintf("library %d has no id", i)}
		}
	}

	c.logger.Debug("Fetched libraries", map[string]interface{}{"count": len(libraries)})
	return libraries, nil
}

// ListInProgressItems returns the items the server itself lists as in
// progress for libraryID, sorted by title.
func (c *Client) ListInProgressItems(ctx context.Context, libraryID string, limit int) ([]models.InProgressItem, error) {
	if libraryID == "" {
		return nil, fmt.Errorf("library ID is required")
	}
	if limit <= 0 {
		limit = 50
	}

	q := url.Values{}
	q.Set("filter", inProgressFilter)
	q.Set("sort", "media.metadata.title")
	q.Set("desc", "0")
	q.Set("limit", fmt.Sprint(limit))
	q.Set("page", "0")
	endpoint := fmt.Sprintf("%s/libraries/%s/items", apiPath, url.PathEscape(libraryID))

	var result struct {
		Results json.RawMessage `json:"results"`
		Total   int             `json:"total"`
	}
	if err := c.get(ctx, endpoint+"?"+q.Encode(), &result); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(result.Results)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &InvalidResponseError{Endpoint: endpoint, Reason: "results is not an array"}
	}

	var items []models.InProgressItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, &InvalidResponseError{Endpoint: endpoint, Reason: err.Error()}
	}

	valid := items[:0]
	for _, item := range items {
		if item.ID == "" {
			c.logger.Warn("Skipping in-progress item without id", map[string]interface{}{"library_id": libraryID})
			continue
		}
		if item.LibraryID == "" {
			item.LibraryID = libraryID
		}
		valid = append(valid, item)
	}

	c.logger.Debug("Fetched in-progress items", map[string]interface{}{
		"library_id": libraryID,
		"count":      len(valid),
		"total":      result.Total,
	})
	return valid, nil
}

type mediaProgress struct {
	LibraryItemID string   `json:"libraryItemId"`
	EpisodeID     string   `json:"episodeId"`
	MediaItemType string   `json:"mediaItemType"`
	Progress      *float64 `json:"progress"`
	IsFinished    bool     `json:"isFinished"`
	Hidden        bool     `json:"hideFromContinueListening"`
	LastUpdate    int64    `json:"lastUpdate"`
	CurrentTime   float64  `json:"currentTime"`
	Duration      float64  `json:"duration"`
	StartedAt     int64    `json:"startedAt"`
	FinishedAt    *int64   `json:"finishedAt"`
}

func (p mediaProgress) record() models.SourceProgressRecord {
	mediaType := models.MediaType(p.MediaItemType)
	if p.EpisodeID != "" || strings.HasPrefix(p.MediaItemType, "podcast") {
		mediaType = models.MediaTypePodcast
	}

	rec := models.SourceProgressRecord{
		ItemID:      p.LibraryItemID,
		MediaType:   mediaType,
		Progress:    *p.Progress,
		IsFinished:  p.IsFinished,
		Hidden:      p.Hidden,
		LastUpdate:  fromMillis(p.LastUpdate),
		CurrentTime: p.CurrentTime,
		Duration:    p.Duration,
		StartedAt:   fromMillis(p.StartedAt),
	}
	if p.FinishedAt != nil {
		rec.FinishedAt = fromMillis(*p.FinishedAt)
	}
	return rec
}

// GetUserProgress returns every media progress record of the current user.
func (c *Client) GetUserProgress(ctx context.Context) ([]models.SourceProgressRecord, error) {
	const endpoint = apiPath + "/me"

	var result struct {
		MediaProgress *[]mediaProgress `json:"mediaProgress"`
	}
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	if result.MediaProgress == nil {
		return nil, &InvalidResponseError{Endpoint: endpoint, Reason: "missing mediaProgress array"}
	}

	records := make([]models.SourceProgressRecord, 0, len(*result.MediaProgress))
	for i, p := range *result.MediaProgress {
		if p.LibraryItemID == "" || p.Progress == nil {
			c.logger.Warn("Skipping malformed progress record", map[string]interface{}{
				"index":        i,
				"item_id":      p.LibraryItemID,
				"has_progress": p.Progress != nil,
			})
			continue
		}
		records = append(records, p.record())
	}

	c.logger.Debug("Fetched user progress", map[string]interface{}{"count": len(records)})
	return records, nil
}

type itemDetails struct {
	ID        string `json:"id"`
	MediaType string `json:"mediaType"`
	Media     *struct {
		Metadata *struct {
			Title    *string `json:"title"`
			Subtitle *string `json:"subtitle"`
			Authors  []struct {
				Name string `json:"name"`
			} `json:"authors"`
			AuthorName    string   `json:"authorName"`
			Narrators     []string `json:"narrators"`
			ISBN          *string  `json:"isbn"`
			ASIN          *string  `json:"asin"`
			PublishedYear *string  `json:"publishedYear"`
		} `json:"metadata"`
	} `json:"media"`
}

// GetItemDetails fetches the metadata of a library item. It never fails:
// any transport or schema problem yields models.Unavailable.
func (c *Client) GetItemDetails(ctx context.Context, itemID string) models.Metadata {
	if itemID == "" {
		return models.Unavailable(itemID, "empty item id")
	}
	endpoint := fmt.Sprintf("%s/items/%s", apiPath, url.PathEscape(itemID))

	var item itemDetails
	if err := c.get(ctx, endpoint, &item); err != nil {
		return models.Unavailable(itemID, err.Error())
	}
	if item.Media == nil || item.Media.Metadata == nil {
		return models.Unavailable(itemID, (&InvalidResponseError{Endpoint: endpoint, Reason: "missing media metadata"}).Error())
	}

	md := item.Media.Metadata
	book := models.BookMetadata{
		Title:         strings.TrimSpace(deref(md.Title)),
		Subtitle:      strings.TrimSpace(deref(md.Subtitle)),
		Narrators:     md.Narrators,
		ISBN:          strings.TrimSpace(deref(md.ISBN)),
		ASIN:          strings.TrimSpace(deref(md.ASIN)),
		PublishedYear: deref(md.PublishedYear),
	}
	for _, a := range md.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			book.Authors = append(book.Authors, name)
		}
	}
	if len(book.Authors) == 0 && md.AuthorName != "" {
		for _, name := range strings.Split(md.AuthorName, ",") {
			if name = strings.TrimSpace(name); name != "" {
				book.Authors = append(book.Authors, name)
			}
		}
	}

	if book.Title == "" {
		return models.Unavailable(itemID, "item has no title")
	}
	return models.Found(itemID, book)
}

// get issues an authenticated GET and decodes a 200 JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("Request failed", map[string]interface{}{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
		fields := map[string]interface{}{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"response": apiErr.Body,
		}
		if hints := apiErr.Remediation(); len(hints) > 0 {
			fields["suggestions"] = hints
		}
		c.logger.Error("Unexpected status code", fields)
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return &InvalidResponseError{Endpoint: endpoint, Reason: err.Error()}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
