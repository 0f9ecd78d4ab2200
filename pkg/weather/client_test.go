package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClientFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/berlin") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp": 21}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIURL: srv.URL + "/api/weather/", Timeout: time.Second})
	rep, err := c.Fetch(context.Background(), "berlin")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if rep.Location != "berlin" {
		t.Fatalf("expected berlin, got %q", rep.Location)
	}
	if !strings.Contains(string(rep.Raw), "21") {
		t.Fatalf("unexpected payload: %s", rep.Raw)
	}
}

func TestClientFetchDefaultsLocation(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIURL: srv.URL + "/api/weather/", Timeout: time.Second})
	if _, err := c.Fetch(context.Background(), "  "); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/"+DefaultLocation) {
		t.Fatalf("expected default location in path, got %q", gotPath)
	}
}

func TestClientFetchBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIURL: srv.URL + "/", Timeout: time.Second, MaxRetries: 1, Backoff: time.Millisecond})
	if _, err := c.Fetch(context.Background(), "berlin"); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestClientRetriesTransientFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIURL: srv.URL + "/", Timeout: time.Second, MaxRetries: 2, Backoff: time.Millisecond})
	if _, err := c.Fetch(context.Background(), "berlin"); err != nil {
		t.Fatalf("fetch should succeed on retry: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}
