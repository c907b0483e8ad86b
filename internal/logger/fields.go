package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so downstream log
// aggregation can correlate download, upload, and scheduler traffic.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Task and peer identity
	KeyTaskID      = "task_id"      // Task ID (sha256 of url+tag+application)
	KeyPeerID      = "peer_id"      // Peer ID of the local or remote peer
	KeyHostID      = "host_id"      // Host ID of this daemon
	KeyPieceNumber = "piece_number" // Piece number within a task
	KeyPieceDigest = "piece_digest" // Piece content digest

	// Transfer
	KeyURL          = "url"           // Source URL of a download
	KeyScheme       = "scheme"        // Backend scheme: http, https, s3
	KeyOffset       = "offset"        // Byte offset within the task content
	KeyLength       = "length"        // Byte length of a piece or range
	KeyBytesRead    = "bytes_read"    // Actual bytes read
	KeyBytesWritten = "bytes_written" // Actual bytes written

	// Connection
	KeyRemoteAddr = "remote_addr" // Remote address of a peer connection
	KeyService    = "service"     // Service name inside the daemon
	KeyRequestID  = "request_id"  // RPC transaction ID

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyAttempt    = "attempt"     // Retry attempt number

	// Cluster
	KeyScheduler = "scheduler" // Scheduler address
	KeyManager   = "manager"   // Manager address
	KeyCluster   = "cluster"   // Scheduler cluster ID
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// TaskID returns a slog.Attr for a task ID
func TaskID(id string) slog.Attr {
	return slog.String(KeyTaskID, id)
}

// PeerID returns a slog.Attr for a peer ID
func PeerID(id string) slog.Attr {
	return slog.String(KeyPeerID, id)
}

// Piece returns a slog.Attr for a piece number
func Piece(n uint32) slog.Attr {
	return slog.Uint64(KeyPieceNumber, uint64(n))
}

// Service returns a slog.Attr for a daemon service name
func Service(name string) slog.Attr {
	return slog.String(KeyService, name)
}

// Err returns a slog.Attr for an error value
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
