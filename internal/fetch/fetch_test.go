package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDestinationFromHeader(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   Destination
	}{
		{"sec-fetch document", http.Header{"Sec-Fetch-Dest": {"document"}}, DestDocument},
		{"sec-fetch image", http.Header{"Sec-Fetch-Dest": {"image"}}, DestImage},
		{"sec-fetch style", http.Header{"Sec-Fetch-Dest": {"style"}}, DestStyle},
		{"sec-fetch iframe", http.Header{"Sec-Fetch-Dest": {"iframe"}}, DestDocument},
		{"sec-fetch empty", http.Header{"Sec-Fetch-Dest": {"empty"}}, DestOther},
		{"sec-fetch wins over accept", http.Header{
			"Sec-Fetch-Dest": {"script"}, "Accept": {"text/html"},
		}, DestScript},
		{"accept html", http.Header{"Accept": {"text/html,application/xhtml+xml"}}, DestDocument},
		{"accept image", http.Header{"Accept": {"image/avif,image/webp"}}, DestImage},
		{"accept json", http.Header{"Accept": {"application/json"}}, DestOther},
		{"nothing", http.Header{}, DestOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DestinationFromHeader(tt.header); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponseOK(t *testing.T) {
	for status, want := range map[int]bool{200: true, 204: true, 299: true, 304: false, 404: false, 500: false} {
		if got := (&Response{Status: status}).OK(); got != want {
			t.Errorf("OK(%d) = %v, want %v", status, got, want)
		}
	}
	var nilResp *Response
	if nilResp.OK() {
		t.Error("nil response reported OK")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Connection") == "keep-alive-custom" {
			t.Errorf("hop-by-hop header forwarded")
		}
		if r.Method == http.MethodPost {
			b, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.Write(b)
			return
		}
		w.Header().Set("Content-Type", "text/css")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Write([]byte("body{}"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(WithUserAgent("sitecache-test"))
	req, _ := NewRequest(srv.URL+"/a.css", DestStyle)
	req.Header.Set("Connection", "keep-alive-custom")

	resp, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != "body{}" || resp.Source != SourceNetwork {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Header.Get("Keep-Alive") != "" {
		t.Fatal("hop-by-hop header kept on response")
	}

	post, _ := NewRequest(srv.URL+"/contact", DestOther)
	post.Method = http.MethodPost
	post.Body = []byte(`{"name":"a"}`)
	resp, err = f.Fetch(context.Background(), post)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if string(resp.Body) != `{"name":"a"}` {
		t.Fatalf("echo = %q", resp.Body)
	}
}

func TestHTTPFetcher_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(WithMaxBody(16))
	req, _ := NewRequest(srv.URL, DestOther)
	if _, err := f.Fetch(context.Background(), req); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
}

func TestHTTPFetcher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	req, _ := NewRequest(url+"/", DestDocument)
	if _, err := NewHTTPFetcher().Fetch(context.Background(), req); err == nil {
		t.Fatal("expected error for closed upstream")
	}
}
