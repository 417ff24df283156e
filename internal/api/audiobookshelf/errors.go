package audiobookshelf

import (
	"fmt"
	"net/http"
)

// APIError is a non-200 answer from the Audiobookshelf server.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("audiobookshelf %s: unexpected status code: %d", e.Endpoint, e.StatusCode)
}

// Remediation returns hints for fixing the configuration behind the error.
func (e *APIError) Remediation() []string {
	switch e.StatusCode {
	case http.StatusNotFound:
		return []string{
			"Check AUDIOBOOKSHELF_URL",
			"Verify the Audiobookshelf server is running",
			"Ensure the URL includes http:// or https:// and the right port",
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return []string{
			"Check AUDIOBOOKSHELF_TOKEN",
			"Verify the API token is valid and not expired",
			"Verify the user has access to the libraries",
		}
	default:
		return nil
	}
}

// InvalidResponseError means the body did not have the expected shape.
type InvalidResponseError struct {
	Endpoint string
	Reason   string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("audiobookshelf %s: invalid response: %s", e.Endpoint, e.Reason)
}
