// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package srcapi is the speedrun.com v1 API client.
//
// The upstream wraps every payload in a {"data": ...} envelope and throttles
// aggressively: HTTP 420 (and 503 during incidents) means "back off and try
// the same request again", not "give up". The client absorbs that protocol
// so callers only see typed results, typed status errors, and context
// cancellation.
//
// Resilience:
//   - Fixed-delay retry on 420/503, forever, until the context is canceled
//   - Client-side rate limiting to stay under the published request budget
//   - Circuit breaker across transport failures
package srcapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/pacesetter-app/pacesetter/internal/cache"
	"github.com/pacesetter-app/pacesetter/internal/config"
	"github.com/pacesetter-app/pacesetter/internal/logging"
	"github.com/pacesetter-app/pacesetter/internal/metrics"
)

// User profile cache bounds. Backfills and board ingests hit the same
// player IDs over and over; profiles change rarely enough that a short TTL
// is safe.
const (
	userCacheSize = 4096
	userCacheTTL  = 15 * time.Minute
)

// maxErrorBodySize limits how much of an error response body is read back
// for diagnostics.
const maxErrorBodySize = 64 * 1024 // 64KB

// StatusError is a non-200, non-throttle response from the upstream. These
// are permanent for the request that produced them; retrying without
// changing the request will not help.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream request failed with status %d: %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client talks to the speedrun.com v1 API.
//
// Thread safety: safe for concurrent use; each request creates its own
// HTTP request and the limiter and breaker are themselves concurrent-safe.
type Client struct {
	baseURL       string
	userAgent     string
	client        *http.Client
	throttleDelay time.Duration
	pageSize      int
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker[*http.Response]
	users         *cache.LRU[*User]
}

// NewClient creates a client from the upstream configuration.
func NewClient(cfg *config.UpstreamConfig) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name: "srcapi",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		Timeout: cfg.BreakerTimeout,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Client{
		baseURL:       cfg.BaseURL,
		userAgent:     cfg.UserAgent,
		client:        &http.Client{Timeout: cfg.Timeout},
		throttleDelay: cfg.ThrottleDelay,
		pageSize:      cfg.PageSize,
		limiter:       limiter,
		breaker:       breaker,
		users:         cache.NewLRU[*User](userCacheSize, userCacheTTL),
	}
}

// readBodyForError reads at most maxErrorBodySize of a response body for
// error reporting.
func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	return string(body)
}

// doRequest performs a GET with throttle handling. A 420 or 503 answer
// closes the body, waits the configured delay, and reissues the identical
// request; the loop only exits through a usable response, a transport
// error, or context cancellation.
func (c *Client) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
			if err != nil {
				return nil, fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("User-Agent", c.userAgent)
			return c.client.Do(req)
		})
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != statusEnhanceYourCalm && resp.StatusCode != http.StatusServiceUnavailable {
			return resp, nil
		}

		_ = resp.Body.Close()
		metrics.UpstreamThrottleWaits.Inc()
		logging.Debug().
			Int("status", resp.StatusCode).
			Dur("delay", c.throttleDelay).
			Str("url", reqURL).
			Msg("upstream throttled, backing off")

		select {
		case <-time.After(c.throttleDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// statusEnhanceYourCalm is the nonstandard throttle status the upstream
// returns instead of 429.
const statusEnhanceYourCalm = 420

// get fetches path, unwraps the {"data": ...} envelope, and decodes it
// into out.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	start := time.Now()
	resp, err := c.doRequest(ctx, reqURL)
	if err != nil {
		metrics.RecordUpstreamRequest(endpoint, "0", time.Since(start), err)
		return err
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start), nil)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{
			StatusCode: resp.StatusCode,
			URL:        reqURL,
			Body:       readBodyForError(resp.Body),
		}
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", endpoint, err)
	}
	return nil
}

// paginate fetches path page by page, invoking fn with each page's raw
// data array. It follows the upstream convention of stepping offset by the
// page size while size == max; a short page is the last one.
func (c *Client) paginate(ctx context.Context, endpoint, path string, query url.Values, fn func(data json.RawMessage) error) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("max", strconv.Itoa(c.pageSize))

	offset := 0
	for {
		query.Set("offset", strconv.Itoa(offset))
		reqURL := c.baseURL + path + "?" + query.Encode()

		start := time.Now()
		resp, err := c.doRequest(ctx, reqURL)
		if err != nil {
			metrics.RecordUpstreamRequest(endpoint, "0", time.Since(start), err)
			return err
		}
		metrics.RecordUpstreamRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start), nil)

		if resp.StatusCode != http.StatusOK {
			serr := &StatusError{
				StatusCode: resp.StatusCode,
				URL:        reqURL,
				Body:       readBodyForError(resp.Body),
			}
			_ = resp.Body.Close()
			return serr
		}

		var page struct {
			Data       json.RawMessage `json:"data"`
			Pagination pagination      `json:"pagination"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to decode %s page at offset %d: %w", endpoint, offset, err)
		}

		metrics.UpstreamPagesFetched.Inc()
		if err := fn(page.Data); err != nil {
			return err
		}

		if page.Pagination.Size < page.Pagination.Max || page.Pagination.Size == 0 {
			return nil
		}
		offset += page.Pagination.Size
	}
}
