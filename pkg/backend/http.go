package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpBackend serves http and https origins.
type httpBackend struct {
	scheme string
	client *http.Client
}

func newHTTPBackend(timeout time.Duration) *httpBackend {
	return &httpBackend{
		client: &http.Client{Timeout: timeout},
	}
}

func (b *httpBackend) Scheme() string {
	return "http"
}

func (b *httpBackend) Head(ctx context.Context, rawURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build head request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("head %s: %w", rawURL, ErrObjectNotFound)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("head %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	meta := &Metadata{
		SupportsRange: resp.Header.Get("Accept-Ranges") == "bytes",
	}
	if resp.ContentLength > 0 {
		meta.ContentLength = uint64(resp.ContentLength)
	}
	return meta, nil
}

func (b *httpBackend) Get(ctx context.Context, rawURL string, offset, length uint64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}

	if offset > 0 || length > 0 {
		if length > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: %w", rawURL, ErrObjectNotFound)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	return resp.Body, nil
}
