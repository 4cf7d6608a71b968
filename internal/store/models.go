package store

import (
	"net/http"
	"time"
)

// RequestKey identifies a cached response by request method and absolute URL.
type RequestKey struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// GetKey returns the key for a GET of rawURL.
func GetKey(rawURL string) RequestKey {
	return RequestKey{Method: http.MethodGet, URL: rawURL}
}

func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// CachedResponse is a stored upstream response.
type CachedResponse struct {
	Status   int         `json:"status" msgpack:"status"`
	Header   http.Header `json:"header" msgpack:"header"`
	Body     []byte      `json:"body" msgpack:"body"`
	StoredAt time.Time   `json:"stored_at" msgpack:"stored_at"`
}

// Clone returns a deep copy so callers can't mutate stored state.
func (r *CachedResponse) Clone() *CachedResponse {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Header = r.Header.Clone()
	cp.Body = append([]byte(nil), r.Body...)
	return &cp
}

// Submission is a queued form submission awaiting background sync.
type Submission struct {
	ID          string     `json:"id"`
	Tag         string     `json:"tag"`
	Payload     []byte     `json:"-"`
	ContentType string     `json:"content_type"`
	CreatedAt   time.Time  `json:"created_at"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
}
