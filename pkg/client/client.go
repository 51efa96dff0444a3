// Package client provides the authenticated HTTP client for the
// upstream course API, with retry/backoff, error classification, and
// optional short-lived response memoization.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coursecache/pkg/cache"
	"coursecache/pkg/pagination"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coursecache_api_requests_total",
		Help: "Total API requests by path and status",
	}, []string{"path", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coursecache_api_request_duration_seconds",
		Help:    "API request duration in seconds by path",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"path"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coursecache_api_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the upstream API, e.g. "https://developers.teachable.com".
	BaseURL string

	// APIKey sent as the apiKey header on every request.
	APIKey string

	// PageSize is the per-page row count for paginated requests.
	PageSize int

	// ConnectTimeout bounds connection establishment; exceeding it is a
	// transient failure subject to the retry policy.
	ConnectTimeout time.Duration

	// HTTPTimeout bounds the whole request including body read.
	HTTPTimeout time.Duration

	// Retry is the backoff policy applied per HTTP request.
	Retry RetryConfig

	// Cache enables response memoization when non-nil. Responses are
	// served from it for its fixed expiry window without a network call.
	Cache *cache.Manager
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:        baseURL,
		APIKey:         apiKey,
		PageSize:       50,
		ConnectTimeout: 10 * time.Second,
		HTTPTimeout:    30 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// Client is the upstream course API client.
type Client struct {
	httpClient *http.Client
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := log.With().Str("component", "api-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
		cache:  cfg.Cache,
		config: cfg,
		logger: logger,
	}, nil
}

// GetJSON performs a GET request against the API and returns the raw
// response body. Memoized responses are served without a network call;
// transient failures are retried per the configured backoff policy.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values) ([]byte, error) {
	key := cache.Key{Path: path, Params: params}

	if c.cache != nil {
		body, err := c.cache.Get(ctx, key)
		if err == nil {
			c.logger.Debug().Str("path", path).Msg("Serving memoized response")
			return body, nil
		}
		if err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Str("path", path).Msg("Response cache get error")
		}
	}

	start := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	var body []byte
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		return c.doRequest(ctx, path, params, &body)
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body); err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("Failed to memoize response")
		}
	}

	return body, nil
}

// doRequest issues one HTTP attempt and reads the body into out.
func (c *Client) doRequest(ctx context.Context, path string, params url.Values, out *[]byte) error {
	reqURL := strings.TrimRight(c.config.BaseURL, "/") + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apiKey", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		apiRequestsTotal.WithLabelValues(path, "network_error").Inc()
		c.logger.Warn().Err(err).Str("path", path).Msg("HTTP request failed")
		return err
	}
	defer resp.Body.Close()

	apiRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errClass := classifyStatus(resp.StatusCode)
		apiErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("API request error")

		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Path:       path,
			Message:    resp.Status,
			RetryAfter: parseRetryAfter(resp.Header),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return fmt.Errorf("read response body: %w", err)
	}

	*out = data
	return nil
}

// FetchPage fetches one page of a paginated collection. It implements
// pagination.PageFetcher.
func (c *Client) FetchPage(ctx context.Context, path string, params url.Values, dataKeys []string, page int) ([]json.RawMessage, pagination.Meta, error) {
	merged := url.Values{}
	for k, vs := range params {
		merged[k] = vs
	}
	if merged.Get("per") == "" {
		merged.Set("per", strconv.Itoa(c.config.PageSize))
	}
	merged.Set("page", strconv.Itoa(page))

	body, err := c.GetJSON(ctx, path, merged)
	if err != nil {
		return nil, pagination.Meta{}, err
	}

	return pagination.ParseEnvelope(body, dataKeys)
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
