package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetcher_Get(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "test-agent"})
	body, err := f.Get(context.Background(), srv.URL).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if body != "<html>ok</html>" {
		t.Fatalf("body = %q", body)
	}
	if gotUA != "test-agent" {
		t.Fatalf("user agent = %q", gotUA)
	}
}

func TestFetcher_DefaultUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	New(Config{}).Get(context.Background(), srv.URL)
	if gotUA != DefaultUserAgent {
		t.Fatalf("user agent = %q", gotUA)
	}
}

func TestFetcher_StatusErrors(t *testing.T) {
	tests := []struct {
		code      int
		throttled bool
	}{
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))
		r := New(Config{}).Get(context.Background(), srv.URL)
		srv.Close()

		if r.IsOk() {
			t.Fatalf("status %d: expected error", tt.code)
		}
		_, err := r.Unwrap()
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("status %d: expected *StatusError, got %v", tt.code, err)
		}
		if se.Code != tt.code || se.Throttled() != tt.throttled {
			t.Errorf("status %d: got code=%d throttled=%v", tt.code, se.Code, se.Throttled())
		}
	}
}

func TestFetcher_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	if r := New(Config{Timeout: time.Second}).Get(context.Background(), url); r.IsOk() {
		t.Fatal("expected transport error")
	}
}

func TestFetcher_RateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := New(Config{RequestsPerSecond: 20})
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := f.Get(context.Background(), srv.URL).Unwrap(); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected limiter to space requests, took %v", elapsed)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d", hits.Load())
	}
}

func TestFetcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r := New(Config{RequestsPerSecond: 1}).Get(ctx, "http://127.0.0.1:1"); r.IsOk() {
		t.Fatal("expected error on cancelled context")
	}
}
