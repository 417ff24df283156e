package hardcover

import (
	"errors"
	"fmt"
	"strings"

	"github.com/drallgood/audiohardshelf/internal/util"
)

var (
	// ErrInvalidInput is returned before any request when arguments are unusable
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotTracked is returned when a write needs an existing user book
	ErrNotTracked = errors.New("book is not tracked")
)

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, string(e.Body))
}

// Unwrap exposes util.ErrRateLimited for 429 responses.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == 429 {
		return util.ErrRateLimited
	}
	return nil
}

// Temporary reports whether retrying the request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// GraphQLError is an error reported by the GraphQL layer, either in the
// errors array of the response or in the error field of a mutation result.
// It is never retried.
type GraphQLError struct {
	Operation string
	Messages  []string
}

func (e *GraphQLError) Error() string {
	return fmt.Sprintf("graphql %s: %s", e.Operation, strings.Join(e.Messages, "; "))
}
