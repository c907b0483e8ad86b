package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()

	f, err := NewFactory(context.Background(), Config{RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	return f
}

func TestFactoryResolvesSchemes(t *testing.T) {
	f := newTestFactory(t)

	for _, rawURL := range []string{
		"http://example.com/blob",
		"https://example.com/blob",
		"s3://bucket/key",
	} {
		if _, err := f.Build(rawURL); err != nil {
			t.Errorf("Build(%q) failed: %v", rawURL, err)
		}
	}
}

func TestFactoryRejectsUnknownScheme(t *testing.T) {
	f := newTestFactory(t)

	if _, err := f.Build("ftp://example.com/blob"); err == nil {
		t.Error("expected error for unknown scheme")
	}
}

func TestHTTPBackendHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "1024")
	}))
	defer srv.Close()

	b := newHTTPBackend(5 * time.Second)

	meta, err := b.Head(context.Background(), srv.URL+"/blob")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if meta.ContentLength != 1024 {
		t.Errorf("expected content length 1024, got %d", meta.ContentLength)
	}
	if !meta.SupportsRange {
		t.Error("expected range support")
	}
}

func TestHTTPBackendHeadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := newHTTPBackend(5 * time.Second)

	_, err := b.Head(context.Background(), srv.URL+"/missing")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestHTTPBackendGetRange(t *testing.T) {
	content := "0123456789abcdef"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader != "bytes=4-7" {
			t.Errorf("expected Range bytes=4-7, got %q", rangeHeader)
		}
		w.WriteHeader(http.StatusPartialContent)
		io.Copy(w, strings.NewReader(content[4:8]))
	}))
	defer srv.Close()

	b := newHTTPBackend(5 * time.Second)

	body, err := b.Get(context.Background(), srv.URL+"/blob", 4, 4)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body failed: %v", err)
	}
	if string(data) != "4567" {
		t.Errorf("expected \"4567\", got %q", data)
	}
}

func TestHTTPBackendGetFull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			t.Errorf("unexpected Range header %q", r.Header.Get("Range"))
		}
		io.Copy(w, strings.NewReader("full content"))
	}))
	defer srv.Close()

	b := newHTTPBackend(5 * time.Second)

	body, err := b.Get(context.Background(), srv.URL+"/blob", 0, 0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if string(data) != "full content" {
		t.Errorf("unexpected body: %q", data)
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://my-bucket/path/to/object")
	if err != nil {
		t.Fatalf("parseS3URL failed: %v", err)
	}
	if bucket != "my-bucket" || key != "path/to/object" {
		t.Errorf("unexpected parse result: %q %q", bucket, key)
	}

	if _, _, err := parseS3URL("s3://bucket-only"); err == nil {
		t.Error("expected error for missing object key")
	}
	if _, _, err := parseS3URL("http://not-s3/key"); err == nil {
		t.Error("expected error for non-s3 scheme")
	}
}
