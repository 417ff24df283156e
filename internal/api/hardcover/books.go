package hardcover

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/drallgood/audiohardshelf/internal/models"
)

const editionsByIdentifierQuery = `
query EditionsByIdentifier($value: String!) {
  editions(where: { %s: { _eq: $value } }, order_by: { id: asc }, limit: 10) {
    id
    title
    audio_seconds
    book {
      id
      title
      default_audio_edition_id
    }
  }
}`

const searchBooksQuery = `
query SearchBooks($query: String!, $perPage: Int!) {
  search(query: $query, query_type: "Book", per_page: $perPage) {
    error
    results
  }
}`

const bookEditionQuery = `
query BookEdition($id: Int!) {
  books_by_pk(id: $id) {
    id
    title
    default_audio_edition {
      id
      audio_seconds
    }
  }
}`

// searchPerPage caps the number of search candidates returned
const searchPerPage = 10

// NormalizeISBN strips separators and upper-cases the check digit.
func NormalizeISBN(isbn string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(isbn) {
		if (r >= '0' && r <= '9') || r == 'X' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// identifierField picks the edition column a lookup compares against.
func identifierField(kind models.IdentifierKind, value string) (string, string, error) {
	switch kind {
	case models.IdentifierISBN:
		isbn := NormalizeISBN(value)
		switch len(isbn) {
		case 13:
			return "isbn_13", isbn, nil
		case 10:
			return "isbn_10", isbn, nil
		}
		return "", "", fmt.Errorf("%w: isbn %q must have 10 or 13 digits", ErrInvalidInput, value)
	case models.IdentifierASIN:
		asin := strings.ToUpper(strings.TrimSpace(value))
		if asin == "" {
			return "", "", fmt.Errorf("%w: empty asin", ErrInvalidInput)
		}
		return "asin", asin, nil
	default:
		return "", "", fmt.Errorf("%w: unknown identifier kind %q", ErrInvalidInput, kind)
	}
}

// FindByIdentifier returns every edition whose ISBN or ASIN equals value.
// Candidates keep the API order; Primary marks the book's default audio
// edition. An empty slice means no match.
func (c *Client) FindByIdentifier(ctx context.Context, kind models.IdentifierKind, value string) ([]models.DestinationBookIdentity, error) {
	field, normalized, err := identifierField(kind, value)
	if err != nil {
		return nil, err
	}

	cacheKey := field + ":" + normalized
	if cached, ok := c.identifierCache.Get(cacheKey); ok {
		return cached, nil
	}

	var result struct {
		Editions []struct {
			ID           int    `json:"id"`
			Title        string `json:"title"`
			AudioSeconds *int   `json:"audio_seconds"`
			Book         *struct {
				ID                    int    `json:"id"`
				Title                 string `json:"title"`
				DefaultAudioEditionID *int   `json:"default_audio_edition_id"`
			} `json:"book"`
		} `json:"editions"`
	}
	query := fmt.Sprintf(editionsByIdentifierQuery, field)
	if err := c.exec(ctx, "EditionsByIdentifier", query, map[string]interface{}{"value": normalized}, &result); err != nil {
		return nil, fmt.Errorf("failed to look up %s %s: %w", field, normalized, err)
	}

	identities := make([]models.DestinationBookIdentity, 0, len(result.Editions))
	for _, e := range result.Editions {
		if e.Book == nil || e.Book.ID == 0 {
			continue
		}
		title := e.Book.Title
		if title == "" {
			title = e.Title
		}
		identities = append(identities, models.DestinationBookIdentity{
			BookID:       e.Book.ID,
			EditionID:    e.ID,
			Title:        title,
			AudioSeconds: intValue(e.AudioSeconds),
			Primary:      e.Book.DefaultAudioEditionID != nil && *e.Book.DefaultAudioEditionID == e.ID,
			Confidence:   models.ConfidenceExact,
		})
	}

	c.identifierCache.Set(cacheKey, identities, LookupCacheTTL)
	c.logger.Debug("Identifier lookup finished", map[string]interface{}{
		"field":      field,
		"value":      normalized,
		"candidates": len(identities),
	})
	return identities, nil
}

// SearchByTitleAuthor runs a full-text book search for title and author and
// returns the candidates in relevance order.
func (c *Client) SearchByTitleAuthor(ctx context.Context, title, author string) ([]models.SearchCandidate, error) {
	query := strings.TrimSpace(strings.TrimSpace(title) + " " + strings.TrimSpace(author))
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: empty title", ErrInvalidInput)
	}

	cacheKey := strings.ToLower(query)
	if cached, ok := c.searchCache.Get(cacheKey); ok {
		return cached, nil
	}

	var response struct {
		Search struct {
			Error   *string         `json:"error"`
			Results json.RawMessage `json:"results"`
		} `json:"search"`
	}
	vars := map[string]interface{}{"query": query, "perPage": searchPerPage}
	if err := c.exec(ctx, "SearchBooks", searchBooksQuery, vars, &response); err != nil {
		return nil, fmt.Errorf("failed to search books: %w", err)
	}
	if response.Search.Error != nil && *response.Search.Error != "" {
		return nil, &GraphQLError{Operation: "SearchBooks", Messages: []string{*response.Search.Error}}
	}

	var results struct {
		Hits []struct {
			Document struct {
				ID          json.Number `json:"id"`
				Title       string      `json:"title"`
				AuthorNames []string    `json:"author_names"`
			} `json:"document"`
		} `json:"hits"`
	}
	if len(response.Search.Results) > 0 && string(response.Search.Results) != "null" {
		if err := json.Unmarshal(response.Search.Results, &results); err != nil {
			return nil, fmt.Errorf("failed to parse search results: %w", err)
		}
	}

	candidates := make([]models.SearchCandidate, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.Atoi(hit.Document.ID.String())
		if err != nil || id == 0 {
			continue
		}
		candidates = append(candidates, models.SearchCandidate{
			Identity: models.DestinationBookIdentity{
				BookID:     id,
				Title:      hit.Document.Title,
				Confidence: models.ConfidenceFuzzy,
			},
			Title:   hit.Document.Title,
			Authors: hit.Document.AuthorNames,
		})
	}

	c.searchCache.Set(cacheKey, candidates, LookupCacheTTL)
	c.logger.Debug("Book search finished", map[string]interface{}{
		"query":      query,
		"candidates": len(candidates),
	})
	return candidates, nil
}

// resolveEdition fills in the default audio edition of identities found by
// search, which carry only the book id.
func (c *Client) resolveEdition(ctx context.Context, identity models.DestinationBookIdentity) (models.DestinationBookIdentity, error) {
	if identity.EditionID != 0 {
		return identity, nil
	}

	var result struct {
		Book *struct {
			ID                  int    `json:"id"`
			Title               string `json:"title"`
			DefaultAudioEdition *struct {
				ID           int  `json:"id"`
				AudioSeconds *int `json:"audio_seconds"`
			} `json:"default_audio_edition"`
		} `json:"books_by_pk"`
	}
	if err := c.exec(ctx, "BookEdition", bookEditionQuery, map[string]interface{}{"id": identity.BookID}, &result); err != nil {
		return identity, fmt.Errorf("failed to resolve edition for book %d: %w", identity.BookID, err)
	}
	if result.Book == nil {
		return identity, fmt.Errorf("%w: book %d does not exist", ErrInvalidInput, identity.BookID)
	}
	if e := result.Book.DefaultAudioEdition; e != nil {
		identity.EditionID = e.ID
		if seconds := intValue(e.AudioSeconds); seconds > 0 {
			identity.AudioSeconds = seconds
		}
		identity.Primary = true
	}
	return identity, nil
}

func intValue(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
