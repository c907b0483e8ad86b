package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel errors mapped from reply status codes.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnavailable = errors.New("unavailable")
)

var xidCounter atomic.Uint32

// nextXid returns a process-unique transaction ID.
func nextXid() uint32 {
	return xidCounter.Add(1)
}

// Conn is a client connection speaking the peerd RPC protocol.
// One call is in flight at a time; concurrent callers serialize.
type Conn struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewConn wraps an established network connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Call performs one request/response exchange. req and resp are XDR-encoded
// bodies; either may be nil. The context deadline, if any, bounds the whole
// exchange via the connection deadline.
func (c *Conn) Call(ctx context.Context, proc uint32, req, resp interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
		defer c.conn.SetDeadline(time.Time{})
	}

	xid := nextXid()

	payload, err := EncodeCall(xid, proc, req)
	if err != nil {
		return err
	}
	if err := WriteFrame(c.conn, payload); err != nil {
		return fmt.Errorf("send call: %w", err)
	}

	reply, err := ReadFrame(c.conn)
	if err != nil {
		return fmt.Errorf("receive reply: %w", err)
	}

	header, body, err := DecodeReply(reply)
	if err != nil {
		return err
	}
	if header.Xid != xid {
		return fmt.Errorf("reply xid mismatch: sent %d, got %d", xid, header.Xid)
	}

	if header.Status != StatusOK {
		return fmt.Errorf("remote error: %s: %w", header.Message, statusErr(header.Status))
	}

	if resp != nil {
		if err := DecodeBody(body, resp); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// statusErr maps a reply status to its sentinel error.
func statusErr(status uint32) error {
	switch status {
	case StatusBadRequest:
		return ErrBadRequest
	case StatusNotFound:
		return ErrNotFound
	case StatusUnavailable:
		return ErrUnavailable
	default:
		return ErrInternal
	}
}
