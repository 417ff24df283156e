package hardcover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hasura/go-graphql-client"

	"github.com/drallgood/audiohardshelf/internal/cache"
	"github.com/drallgood/audiohardshelf/internal/logger"
	"github.com/drallgood/audiohardshelf/internal/models"
	"github.com/drallgood/audiohardshelf/internal/util"
)

const (
	// DefaultBaseURL is the default base URL for the Hardcover API
	DefaultBaseURL = "https://api.hardcover.app/v1/graphql"
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the default number of retries for failed requests
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the default delay between retries
	DefaultRetryDelay = 500 * time.Millisecond
	// DefaultRateLimit is the default minimum time between requests
	DefaultRateLimit = time.Second
	// DefaultBurst is the default burst size for rate limiting
	DefaultBurst = 5
	// DefaultMaxConcurrent is the default number of requests in flight
	DefaultMaxConcurrent = 3

	// LookupCacheTTL bounds how long identifier lookups and searches are reused
	LookupCacheTTL = time.Hour

	// maxErrorBody bounds how much of an error response is kept
	maxErrorBody = 1024
)

// ClientConfig holds configuration for the Hardcover client
type ClientConfig struct {
	// BaseURL is the GraphQL endpoint (default: DefaultBaseURL)
	BaseURL string
	// Timeout specifies a time limit for requests (default: DefaultTimeout)
	Timeout time.Duration
	// MaxRetries is the number of retries after a failed attempt
	MaxRetries int
	// RetryDelay grows linearly with the attempt number
	RetryDelay time.Duration
	// RateLimit is the minimum time between requests
	RateLimit     time.Duration
	Burst         int
	MaxConcurrent int
	// HTTPClient overrides the transport used for requests
	HTTPClient *http.Client
}

// DefaultClientConfig returns the default configuration for the client
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       DefaultBaseURL,
		Timeout:       DefaultTimeout,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		RateLimit:     DefaultRateLimit,
		Burst:         DefaultBurst,
		MaxConcurrent: DefaultMaxConcurrent,
	}
}

const meQuery = `
query Me {
  me {
    id
    username
  }
}`

// User is the account behind the API token.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// Client represents a client for the Hardcover API
type Client struct {
	baseURL     string
	authToken   string
	gqlClient   *graphql.Client
	logger      *logger.Logger
	rateLimiter *util.RateLimiter
	maxRetries  int
	retryDelay  time.Duration
	now         func() time.Time

	identifierCache cache.Cache[string, []models.DestinationBookIdentity]
	searchCache     cache.Cache[string, []models.SearchCandidate]

	currentUser      *User
	currentUserMutex sync.RWMutex
}

// NewClient creates a new Hardcover client with default configuration
func NewClient(token string, log *logger.Logger) *Client {
	return NewClientWithConfig(DefaultClientConfig(), token, log)
}

// NewClientWithConfig creates a new Hardcover client with custom configuration
func NewClientWithConfig(cfg *ClientConfig, token string, log *logger.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Get()
	}
	log = log.With(map[string]interface{}{"component": "hardcover_client"})

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	httpClient := &http.Client{
		Timeout:   base.Timeout,
		Transport: &statusCapturingTransport{rt: rt},
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		authToken:   token,
		logger:      log,
		rateLimiter: util.NewRateLimiter(cfg.RateLimit, cfg.Burst, cfg.MaxConcurrent, log),
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		now:         time.Now,
		identifierCache: cache.WithTTL(
			cache.NewMemoryCache[string, []models.DestinationBookIdentity](log), LookupCacheTTL),
		searchCache: cache.WithTTL(
			cache.NewMemoryCache[string, []models.SearchCandidate](log), LookupCacheTTL),
	}
	c.gqlClient = graphql.NewClient(c.baseURL, httpClient).
		WithRequestModifier(func(r *http.Request) {
			r.Header.Set("Authorization", c.GetAuthHeader())
			r.Header.Set("Accept", "application/json")
		})

	log.Debug("Created new Hardcover client", map[string]interface{}{
		"base_url":    c.baseURL,
		"timeout":     cfg.Timeout.String(),
		"max_retries": cfg.MaxRetries,
	})
	return c
}

// GetAuthHeader returns the properly formatted Authorization header value
func (c *Client) GetAuthHeader() string {
	authToken := strings.TrimSpace(c.authToken)
	if authToken != "" && !strings.HasPrefix(authToken, "Bearer ") {
		authToken = "Bearer " + authToken
	}
	return authToken
}

// exchange records what the transport saw for one attempt.
type exchange struct {
	status     int
	retryAfter string
	body       []byte
}

type exchangeKey struct{}

// statusCapturingTransport copies the status code and, for failures, the
// body of each response into the exchange carried by the request context.
type statusCapturingTransport struct {
	rt http.RoundTripper
}

func (t *statusCapturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.rt.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	ex, ok := req.Context().Value(exchangeKey{}).(*exchange)
	if !ok {
		return resp, nil
	}

	ex.status = resp.StatusCode
	ex.retryAfter = resp.Header.Get("Retry-After")
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		ex.body = body
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}
	return resp, nil
}

// exec runs a GraphQL operation with rate limiting and retries, and decodes
// the data object into out. For queries, transport failures, 429 and 5xx
// responses are retried. A mutation is only retried after a 429, since any
// other failure may have been applied; the next pass reconciles it.
// GraphQL errors and other 4xx responses are returned at once.
func (c *Client) exec(ctx context.Context, name, query string, variables map[string]interface{}, out interface{}) error {
	if variables == nil {
		variables = map[string]interface{}{}
	}
	mutation := strings.HasPrefix(strings.TrimSpace(query), "mutation")

	var lastErr error
	var backoff time.Duration
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if backoff <= 0 {
				backoff = c.retryDelay * time.Duration(attempt)
			}
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = 0
		}

		release, err := c.rateLimiter.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}

		ex := &exchange{}
		data, err := c.gqlClient.ExecRaw(context.WithValue(ctx, exchangeKey{}, ex), query, variables)
		release()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		switch {
		case ex.status >= 400:
			httpErr := &HTTPError{StatusCode: ex.status, Body: ex.body}
			if !httpErr.Temporary() || (mutation && ex.status != http.StatusTooManyRequests) {
				return httpErr
			}
			lastErr = httpErr
			if ex.status == http.StatusTooManyRequests {
				retryAfter, _ := util.ParseRetryAfter(ex.retryAfter)
				backoff = c.rateLimiter.OnRateLimit(retryAfter)
			}
		case err != nil && ex.status == 0:
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			if mutation {
				return lastErr
			}
		case err != nil:
			return &GraphQLError{Operation: name, Messages: graphQLMessages(err)}
		default:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", name, err)
			}
			return nil
		}

		c.logger.Warn("GraphQL request failed", map[string]interface{}{
			"operation": name,
			"attempt":   attempt + 1,
			"error":     lastErr.Error(),
		})
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, c.maxRetries+1, lastErr)
}

func graphQLMessages(err error) []string {
	var gqlErrs graphql.Errors
	if errors.As(err, &gqlErrs) && len(gqlErrs) > 0 {
		msgs := make([]string, 0, len(gqlErrs))
		for _, e := range gqlErrs {
			msgs = append(msgs, e.Message)
		}
		return msgs
	}
	return []string{err.Error()}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Me returns the user behind the token. The result is cached for the
// lifetime of the client.
func (c *Client) Me(ctx context.Context) (*User, error) {
	c.currentUserMutex.RLock()
	if c.currentUser != nil {
		u := *c.currentUser
		c.currentUserMutex.RUnlock()
		return &u, nil
	}
	c.currentUserMutex.RUnlock()

	var result struct {
		Me []User `json:"me"`
	}
	if err := c.exec(ctx, "Me", meQuery, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Me) == 0 || result.Me[0].ID == 0 {
		return nil, &GraphQLError{Operation: "Me", Messages: []string{"no user returned for token"}}
	}

	c.currentUserMutex.Lock()
	u := result.Me[0]
	c.currentUser = &u
	c.currentUserMutex.Unlock()

	return &u, nil
}

func (c *Client) currentUserID(ctx context.Context) (int, error) {
	u, err := c.Me(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get current user: %w", err)
	}
	return u.ID, nil
}
