package efshttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDoAndReadLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "sha256:aa\nsha256:bb\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, false)
	resp, err := c.Do(context.Background(), http.MethodGet, "/query?count=all", "")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Close()

	line1, err := resp.ReadLine(1024)
	if err != nil || line1 != "sha256:aa" {
		t.Fatalf("ReadLine #1 = %q, %v", line1, err)
	}
	line2, err := resp.ReadLine(1024)
	if err != nil || line2 != "sha256:bb" {
		t.Fatalf("ReadLine #2 = %q, %v", line2, err)
	}
	if _, err := resp.ReadLine(1024); err != io.EOF {
		t.Fatalf("ReadLine #3 err = %v; want io.EOF", err)
	}
}

func TestExtractHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "5")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, false)
	resp, err := c.Do(context.Background(), http.MethodGet, "/file/sha256/aa", "")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Close()

	h := resp.ExtractHeaders()
	if h.ContentType != "text/plain" {
		t.Errorf("ContentType = %q", h.ContentType)
	}
}

func TestAuthSetsCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s; want POST", r.Method)
		}
		w.Header().Set("Set-Cookie", "sess=abc123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, false)
	resp, err := c.DoAuth(http.MethodPost, "/auth", "")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Close()
	if got := resp.ExtractHeaders().SetCookie; got != "sess=abc123" {
		t.Errorf("SetCookie = %q", got)
	}
}

func TestStatusAndDrain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, false)
	resp, err := c.Do(context.Background(), http.MethodGet, "/query?count=all", "")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Close()
	if resp.StatusCode() != http.StatusForbidden {
		t.Errorf("StatusCode = %d; want 403", resp.StatusCode())
	}
	resp.Drain()
}
