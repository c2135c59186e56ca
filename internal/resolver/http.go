package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
)

const userAgent = "LinkAudit-Resolver/1.0"

// HTTPSource resolves batches against the external lookup API over HTTP.
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPSource builds an HTTP source for the given endpoint. The transport
// honors HTTP_PROXY/HTTPS_PROXY/NO_PROXY through the default transport.
func NewHTTPSource(baseURL, token string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
	}
}

type resolveRequest struct {
	Keys []string `json:"keys"`
}

type resolveResponse struct {
	Results []resolveResult `json:"results"`
}

type resolveResult struct {
	Key       string `json:"key"`
	Found     bool   `json:"found"`
	ContentID string `json:"content_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ResolveBatch posts one batch of keys to the resolve endpoint. Transport
// failures and retryable status codes return a transient error so the
// resolver's retry policy applies.
func (s *HTTPSource) ResolveBatch(ctx context.Context, keys []string) (map[string]hyperlink.Resolution, error) {
	body, err := json.Marshal(resolveRequest{Keys: keys})
	if err != nil {
		return nil, fmt.Errorf("marshal resolve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("resolve request failed: %w", err))
	}
	defer func() {
		_ = resp.Body.Close() // drained below
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("resolve returned HTTP %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, Transient(err)
		}
		return nil, err
	}

	var parsed resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode resolve response: %w", err)
	}

	out := make(map[string]hyperlink.Resolution, len(parsed.Results))
	for _, r := range parsed.Results {
		out[r.Key] = hyperlink.Resolution{
			Key:       r.Key,
			Found:     r.Found,
			ContentID: r.ContentID,
			Title:     r.Title,
			Status:    r.Status,
			Err:       r.Error,
		}
	}
	return out, nil
}

// transientError marks failures worth retrying (network, timeout, 5xx, 429).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps an error as retryable.
func Transient(err error) error {
	return &transientError{err: err}
}

// IsTransient reports whether an error was marked retryable.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
