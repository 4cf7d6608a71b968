package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrBodyTooLarge is returned when an upstream body exceeds the limit.
var ErrBodyTooLarge = errors.New("upstream body too large")

// DefaultMaxBody bounds buffered upstream bodies.
const DefaultMaxBody = 32 << 20

// Hop-by-hop headers are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPFetcher fetches over HTTP and buffers the whole response body.
type HTTPFetcher struct {
	client    *http.Client
	maxBody   int64
	userAgent string
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithClient replaces the default client.
func WithClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithMaxBody sets the body limit in bytes.
func WithMaxBody(n int64) HTTPOption {
	return func(f *HTTPFetcher) { f.maxBody = n }
}

// WithUserAgent sets a User-Agent for requests that carry none.
func WithUserAgent(ua string) HTTPOption {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

// NewHTTPFetcher returns a fetcher with a 30s client timeout.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		maxBody: DefaultMaxBody,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	hreq.Header = req.Header.Clone()
	if hreq.Header == nil {
		hreq.Header = http.Header{}
	}
	StripHopHeaders(hreq.Header)
	// Let the transport negotiate compression so bodies arrive decoded.
	hreq.Header.Del("Accept-Encoding")
	if f.userAgent != "" && hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL.Redacted(), err)
	}
	if int64(len(data)) > f.maxBody {
		return nil, fmt.Errorf("%s: %w", req.URL.Redacted(), ErrBodyTooLarge)
	}

	header := resp.Header.Clone()
	StripHopHeaders(header)
	header.Del("Content-Length")
	return &Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   data,
		Source: SourceNetwork,
	}, nil
}

// StripHopHeaders removes connection-scoped headers in place.
func StripHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}
