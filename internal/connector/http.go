package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

// httpSource bundles the pieces every REST-based connector needs: a client
// with a timeout, a base URL, and proactive request throttling so a large
// sync doesn't trip platform rate limits.
type httpSource struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

func newHTTPSource(baseURL string, timeout time.Duration, requestsPerSecond float64) *httpSource {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &httpSource{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// getJSON performs a throttled GET and decodes the JSON body into out.
// Errors are classified into the connector taxonomy.
func (s *httpSource) getJSON(ctx context.Context, path string, header http.Header, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceRejected, err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, path); err != nil {
		io.Copy(io.Discard, resp.Body)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrSourceUnavailable, path, err)
	}
	return nil
}

// postJSON performs a throttled POST with a JSON body and decodes the
// response into out.
func (s *httpSource) postJSON(ctx context.Context, path string, body io.Reader, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, path); err != nil {
		io.Copy(io.Discard, resp.Body)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrSourceUnavailable, path, err)
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the connector error taxonomy.
// 4xx (except 429) means the request itself is bad and retrying is useless;
// everything else non-2xx is treated as transient.
func classifyStatus(status int, path string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned 429", ErrSourceUnavailable, path)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: %s returned %d", ErrSourceRejected, path, status)
	default:
		return fmt.Errorf("%w: %s returned %d", ErrSourceUnavailable, path, status)
	}
}
