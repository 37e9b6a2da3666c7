package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBytes bounds a manifest body; real manifests are a few kilobytes.
const DefaultMaxBytes int64 = 1 << 20

var (
	// ErrBadHTTPStatus is returned for any non-200 response.
	ErrBadHTTPStatus = errors.New("unexpected http status")
	// ErrBodyTooLarge is returned when a body exceeds the configured limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// HTTPSource fetches a small document by GET.
type HTTPSource struct {
	// URL is the document location.
	URL string
	// UserAgent is sent with the request.
	UserAgent string
	// Client performs the request; http.DefaultClient when nil.
	Client *http.Client
	// MaxBytes limits the body size; DefaultMaxBytes when zero.
	MaxBytes int64
}

// Name returns the URL.
func (s *HTTPSource) Name() string {
	return s.URL
}

// Fetch downloads the whole body.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	response, err := Get(ctx, s.Client, s.URL, s.UserAgent)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	limit := s.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", s.URL, ErrBodyTooLarge, limit)
	}

	return data, nil
}

// Get issues a GET request and returns the response only for status 200.
// The caller owns the response body.
func Get(ctx context.Context, client *http.Client, rawURL, userAgent string) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	response, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", rawURL, response.Status, ErrBadHTTPStatus)
	}

	return response, nil
}
