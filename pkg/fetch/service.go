// Package fetch backs the read_url tool: HTTP document retrieval with a
// TTL cache, single-flight deduplication, and GitHub blob-to-raw URL
// resolution so runbook links paste straight from the browser.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheTTL = time.Minute
	defaultMaxBytes = 512 * 1024
)

// Options tunes a Service. Zero values pick sane defaults.
type Options struct {
	// AllowedDomains restricts fetchable hosts; empty allows any host.
	AllowedDomains []string

	// AuthToken is sent as a bearer token to raw.githubusercontent.com
	// only, for private repository content.
	AuthToken string

	CacheTTL time.Duration
	MaxBytes int64
	Timeout  time.Duration
}

// Service fetches remote documents for agent consumption.
type Service struct {
	client   *http.Client
	cache    *cache
	group    singleflight.Group
	allowed  []string
	token    string
	maxBytes int64
	logger   *slog.Logger
}

// NewService creates a fetch service.
func NewService(opts Options) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Service{
		client:   &http.Client{Timeout: opts.Timeout},
		cache:    newCache(opts.CacheTTL),
		allowed:  opts.AllowedDomains,
		token:    opts.AuthToken,
		maxBytes: opts.MaxBytes,
		logger:   slog.Default().With("component", "fetch"),
	}
}

// Fetch returns the text content behind rawURL. Concurrent fetches of the
// same URL collapse into one request; results are cached for the TTL.
func (s *Service) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := s.validate(rawURL); err != nil {
		return "", err
	}
	target := ConvertToRawURL(rawURL)

	if content, ok := s.cache.get(target); ok {
		return content, nil
	}

	result, err, _ := s.group.Do(target, func() (any, error) {
		content, err := s.download(ctx, target)
		if err != nil {
			return nil, err
		}
		s.cache.set(target, content)
		return content, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (s *Service) download(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if s.token != "" && strings.HasPrefix(target, "https://raw.githubusercontent.com/") {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		s.logger.Warn("Fetched document truncated", "url", target, "max_bytes", s.maxBytes)
		body = body[:s.maxBytes]
	}
	return string(body), nil
}

// validate checks scheme and, when configured, the domain allowlist.
func (s *Service) validate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q: only http and https allowed", parsed.Scheme)
	}
	if len(s.allowed) == 0 {
		return nil
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range s.allowed {
		if host == domain || host == "www."+domain {
			return nil
		}
	}
	return fmt.Errorf("domain %q not in allowed list", host)
}
