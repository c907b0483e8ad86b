// Package bufpool pools byte slices for piece transfer.
//
// Piece downloads move a few fixed buffer sizes at high rates. Pooling them
// keeps the per-piece allocation out of the GC's way. Buffers larger than
// the biggest tier are allocated directly and never pooled.
package bufpool

import (
	"sync"
)

// Buffer size tiers. The large tier matches the default piece length so a
// full piece read reuses one pooled buffer.
const (
	// DefaultSmallSize covers control payloads and piece tails (64KB)
	DefaultSmallSize = 64 << 10

	// DefaultMediumSize covers partial range reads (1MB)
	DefaultMediumSize = 1 << 20

	// DefaultLargeSize covers a full piece (4MB)
	DefaultLargeSize = 4 << 20
)

// Pool manages byte slice pools organized by size tier.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// NewPool creates a pool with the given tier sizes. Zero values fall back
// to the defaults.
func NewPool(smallSize, mediumSize, largeSize int) *Pool {
	if smallSize <= 0 {
		smallSize = DefaultSmallSize
	}
	if mediumSize <= 0 {
		mediumSize = DefaultMediumSize
	}
	if largeSize <= 0 {
		largeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  smallSize,
		mediumSize: mediumSize,
		largeSize:  largeSize,
	}

	p.small = sync.Pool{New: func() any {
		buf := make([]byte, p.smallSize)
		return &buf
	}}
	p.medium = sync.Pool{New: func() any {
		buf := make([]byte, p.mediumSize)
		return &buf
	}}
	p.large = sync.Pool{New: func() any {
		buf := make([]byte, p.largeSize)
		return &buf
	}}

	return p
}

// Get returns a byte slice of exactly the requested length, backed by a
// pooled buffer when the size fits a tier. The caller must Put the slice
// back when done with it.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		// Oversized requests bypass the pool so occasional huge pieces
		// don't pin memory.
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer to its tier. Buffers whose capacity matches no tier
// are left for the garbage collector, so it is safe to Put any slice.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case p.smallSize:
		full := buf[:cap(buf)]
		p.small.Put(&full)
	case p.mediumSize:
		full := buf[:cap(buf)]
		p.medium.Put(&full)
	case p.largeSize:
		full := buf[:cap(buf)]
		p.large.Put(&full)
	}
}

// globalPool serves the package-level Get and Put.
var globalPool = NewPool(0, 0, 0)

// Get returns a byte slice of the requested length from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
