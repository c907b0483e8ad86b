// Package manager provides the REST client for the manager service.
//
// The manager is the daemon's source of dynamic cluster state: it hands out
// the scheduler list and receives host heartbeats. The client is the first
// resource built at startup and the last released.
package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrClosed is returned from calls made after Close.
var ErrClosed = errors.New("manager client closed")

// Scheduler describes one scheduler known to the manager.
type Scheduler struct {
	ID    string `json:"id"`
	Addr  string `json:"addr"`
	State string `json:"state"`
}

// SchedulerStateActive marks schedulers eligible for client traffic.
const SchedulerStateActive = "active"

// HostAnnouncement is the heartbeat payload sent to the manager.
type HostAnnouncement struct {
	HostID     string `json:"host_id"`
	IP         string `json:"ip"`
	Hostname   string `json:"hostname"`
	UploadPort int    `json:"upload_port"`
	ProxyPort  int    `json:"proxy_port"`
	SeedPeer   bool   `json:"seed_peer"`
	Location   string `json:"location,omitempty"`
	IDC        string `json:"idc,omitempty"`
}

// Client is the manager API client. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	closed bool
}

// New creates a manager client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListSchedulers returns the schedulers registered with the manager.
func (c *Client) ListSchedulers(ctx context.Context) ([]Scheduler, error) {
	var schedulers []Scheduler
	if err := c.do(ctx, http.MethodGet, "/api/v1/schedulers", nil, &schedulers); err != nil {
		return nil, fmt.Errorf("list schedulers: %w", err)
	}
	return schedulers, nil
}

// AnnounceHost registers or refreshes this host with the manager.
func (c *Client) AnnounceHost(ctx context.Context, announcement *HostAnnouncement) error {
	if err := c.do(ctx, http.MethodPost, "/api/v1/hosts", announcement, nil); err != nil {
		return fmt.Errorf("announce host: %w", err)
	}
	return nil
}

// DeleteHost removes this host's registration, called during shutdown.
func (c *Client) DeleteHost(ctx context.Context, hostID string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/hosts/"+hostID, nil, nil); err != nil {
		return fmt.Errorf("delete host: %w", err)
	}
	return nil
}

// Close releases pooled connections. Further calls return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.httpClient.CloseIdleConnections()
	return nil
}

// do performs an HTTP request and decodes the response.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	c.mu.RUnlock()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			apiErr.StatusCode = resp.StatusCode
			return &apiErr
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
