// Package fetch defines the request/response model shared by the router
// and the upstream HTTP client.
package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/valhallatattoo/sitecache/internal/store"
)

// Destination is the kind of resource a request is for, as reported by
// the browser's Sec-Fetch-Dest header.
type Destination string

const (
	DestDocument Destination = "document"
	DestImage    Destination = "image"
	DestStyle    Destination = "style"
	DestScript   Destination = "script"
	DestFont     Destination = "font"
	DestOther    Destination = ""
)

// DestinationFromHeader derives the destination of a request. When
// Sec-Fetch-Dest is missing, an Accept header asking for HTML or an
// image is used instead.
func DestinationFromHeader(h http.Header) Destination {
	switch d := Destination(strings.ToLower(h.Get("Sec-Fetch-Dest"))); d {
	case DestDocument, DestImage, DestStyle, DestScript, DestFont:
		return d
	case "iframe", "frame":
		return DestDocument
	case "":
	default:
		return DestOther
	}
	accept := strings.ToLower(h.Get("Accept"))
	switch {
	case strings.HasPrefix(accept, "text/html"):
		return DestDocument
	case strings.HasPrefix(accept, "image/"):
		return DestImage
	}
	return DestOther
}

// Source records where a response came from.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceFallback    Source = "fallback"
	SourcePassThrough Source = "passthrough"
	SourceQueued      Source = "queued"
)

// Request is an intercepted request.
type Request struct {
	Method      string
	URL         *url.URL
	Destination Destination
	Header      http.Header
	Body        []byte
}

// NewRequest builds a GET request for rawURL. Used by precaching and tests.
func NewRequest(rawURL string, dest Destination) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:      http.MethodGet,
		URL:         u,
		Destination: dest,
		Header:      http.Header{},
	}, nil
}

// Key is the cache identity of the request.
func (r *Request) Key() store.RequestKey {
	return store.RequestKey{Method: r.Method, URL: r.URL.String()}
}

// Response is a fully buffered response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source
	// Strategy names the caching policy that produced the response.
	Strategy string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone copies r. The body is shared and must be treated as read-only.
func (r *Response) Clone() *Response {
	cp := *r
	cp.Header = r.Header.Clone()
	if cp.Header == nil {
		cp.Header = http.Header{}
	}
	return &cp
}

// ToCached converts r for storage.
func (r *Response) ToCached() *store.CachedResponse {
	return &store.CachedResponse{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   append([]byte(nil), r.Body...),
	}
}

// FromCached builds a response served from the cache.
func FromCached(c *store.CachedResponse) *Response {
	h := c.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	return &Response{
		Status: c.Status,
		Header: h,
		Body:   c.Body,
		Source: SourceCache,
	}
}

// Fetcher performs network requests.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
