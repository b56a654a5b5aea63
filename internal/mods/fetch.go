package mods

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbround18/valheim/internal/httputil"
)

// DefaultDownloadTimeout bounds a whole transfer, body included.
const DefaultDownloadTimeout = 5 * time.Minute

// Response is a successful GET whose body has not been read yet.
type Response struct {
	// FinalURL is the URL the body actually came from, after redirects.
	FinalURL *url.URL
	// ContentDisposition is the raw Content-Disposition header, if any.
	ContentDisposition string
	Body               io.ReadCloser
}

// Fetcher retrieves a URL, following redirects. Failures are returned as
// *NetworkError.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*Response, error)
}

// HTTPFetcher is the Fetcher used outside of tests.
type HTTPFetcher struct {
	client *http.Client
	retry  httputil.RetryConfig
}

// NewHTTPFetcher creates a fetcher whose transfers expire after timeout.
func NewHTTPFetcher(timeout time.Duration, retry httputil.RetryConfig) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		retry:  retry,
	}
}

// Get implements Fetcher.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := httputil.Do(ctx, f.client, http.MethodGet, rawURL, nil, nil, f.retry)
	if err != nil {
		var statusErr *httputil.RetryableStatusError
		if errors.As(err, &statusErr) {
			return nil, &NetworkError{URL: rawURL, StatusCode: statusErr.StatusCode, Err: err}
		}
		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &NetworkError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	final := resp.Request.URL
	if final == nil {
		final, _ = url.Parse(rawURL)
	}
	return &Response{
		FinalURL:           final,
		ContentDisposition: resp.Header.Get("Content-Disposition"),
		Body:               resp.Body,
	}, nil
}
