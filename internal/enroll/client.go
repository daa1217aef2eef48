// Package enroll talks to the public course enrollment search API: per-course
// enrollment packages, term metadata and the subject directory.
package enroll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL   = "https://public.enroll.wisc.edu"
	DefaultUserAgent = "seatwatch/1.0 (educational use)"
)

// Config holds upstream API settings.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// HTTPError is returned for any non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client performs raw GETs against the enrollment API.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
	logger    *zap.Logger
}

// NewClient creates an API client. Zero config fields fall back to defaults.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Packages returns the enrollment packages of one course.
func (c *Client) Packages(ctx context.Context, term, subject, course string) ([]Package, error) {
	path := fmt.Sprintf("/api/search/v1/enrollmentPackages/%s/%s/%s",
		url.PathEscape(term), url.PathEscape(subject), url.PathEscape(course))

	var pkgs []Package
	if err := c.getJSON(ctx, path, &pkgs); err != nil {
		return nil, err
	}
	return pkgs, nil
}

// Terms returns the term list from the aggregate endpoint.
func (c *Client) Terms(ctx context.Context) ([]Term, error) {
	var agg struct {
		Terms []Term `json:"terms"`
	}
	if err := c.getJSON(ctx, "/api/search/v1/aggregate", &agg); err != nil {
		return nil, err
	}
	return agg.Terms, nil
}

// SubjectsMap returns subject code to display name.
func (c *Client) SubjectsMap(ctx context.Context) (map[string]string, error) {
	subjects := make(map[string]string)
	if err := c.getJSON(ctx, "/api/search/v1/subjectsMap/0000", &subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	endpoint := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("upstream request completed",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{StatusCode: resp.StatusCode, URL: endpoint, Body: string(snippet)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
