// Package backend fetches task content from origin sources when pieces are
// not available from peers. Backends are selected by URL scheme through a
// factory built once at daemon construction.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"
)

// ErrObjectNotFound is returned when the origin reports the object missing.
var ErrObjectNotFound = errors.New("object not found")

// Metadata describes an origin object before download.
type Metadata struct {
	ContentLength uint64
	SupportsRange bool
}

// Backend fetches content from one origin scheme.
type Backend interface {
	// Scheme returns the URL scheme this backend serves.
	Scheme() string

	// Head returns object metadata without fetching the body.
	Head(ctx context.Context, rawURL string) (*Metadata, error)

	// Get fetches length bytes starting at offset. length 0 means the rest
	// of the object. The caller closes the returned reader.
	Get(ctx context.Context, rawURL string, offset, length uint64) (io.ReadCloser, error)
}

// Config configures the backend factory.
type Config struct {
	// RequestTimeout bounds individual origin requests.
	RequestTimeout time.Duration

	// S3 configures the S3 backend.
	S3 S3Config
}

// Factory resolves backends by URL scheme.
type Factory struct {
	backends map[string]Backend
}

// NewFactory builds a factory with the built-in backends registered.
// S3 client construction can fail when the credential chain is broken, so
// the factory is built during daemon construction where failure is fatal.
func NewFactory(ctx context.Context, cfg Config) (*Factory, error) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	f := &Factory{backends: make(map[string]Backend)}

	httpBackend := newHTTPBackend(cfg.RequestTimeout)
	f.register("http", httpBackend)
	f.register("https", httpBackend)

	s3Backend, err := newS3Backend(ctx, cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("build s3 backend: %w", err)
	}
	f.register("s3", s3Backend)

	return f, nil
}

// register adds a backend under a scheme. Duplicate registration is a
// programmer error.
func (f *Factory) register(scheme string, b Backend) {
	if _, ok := f.backends[scheme]; ok {
		panic(fmt.Sprintf("backend: duplicate scheme %q", scheme))
	}
	f.backends[scheme] = b
}

// Build returns the backend serving rawURL's scheme.
func (f *Factory) Build(rawURL string) (Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	b, ok := f.backends[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("no backend for scheme %q", u.Scheme)
	}
	return b, nil
}

// Schemes returns the registered schemes, for logging at startup.
func (f *Factory) Schemes() []string {
	schemes := make([]string, 0, len(f.backends))
	for scheme := range f.backends {
		schemes = append(schemes, scheme)
	}
	return schemes
}
