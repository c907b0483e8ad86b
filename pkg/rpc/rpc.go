// Package rpc implements the wire protocol spoken between peerd daemons,
// local clients, and schedulers.
//
// Messages are XDR-encoded (RFC 4506) and carried in record-marked frames:
// a 4-byte header with a last-fragment bit and a 31-bit fragment length,
// followed by the fragment payload. Every message is a CALL or a REPLY
// matched by XID.
package rpc

// Message types.
const (
	MsgCall  uint32 = 0
	MsgReply uint32 = 1
)

// Procedure numbers served by the upload and download RPC servers.
const (
	// ProcDownloadTask asks the daemon to download a task (local clients,
	// unix socket).
	ProcDownloadTask uint32 = 1

	// ProcStatTask returns task metadata.
	ProcStatTask uint32 = 2

	// ProcDeleteTask evicts a task from local storage.
	ProcDeleteTask uint32 = 3

	// ProcDownloadPiece serves one piece to a remote peer (upload server).
	ProcDownloadPiece uint32 = 4

	// ProcSyncPieces returns the piece numbers held locally for a task.
	ProcSyncPieces uint32 = 5

	// ProcDownloadPersistentCacheTask downloads a persistent cache task.
	ProcDownloadPersistentCacheTask uint32 = 6

	// ProcStatPersistentCacheTask returns persistent cache task metadata.
	ProcStatPersistentCacheTask uint32 = 7

	// ProcImportPersistentCacheTask seeds a local file into the persistent
	// cache.
	ProcImportPersistentCacheTask uint32 = 8
)

// Procedure numbers understood by schedulers.
const (
	// ProcAnnounceHost registers or refreshes this host with a scheduler.
	ProcAnnounceHost uint32 = 101

	// ProcDeleteHost removes this host from a scheduler on shutdown.
	ProcDeleteHost uint32 = 102

	// ProcAnnouncePeer reports a download attempt to the scheduler and
	// receives candidate parents.
	ProcAnnouncePeer uint32 = 103

	// ProcDeleteTaskFromScheduler tells the scheduler a task was evicted.
	ProcDeleteTaskFromScheduler uint32 = 104
)

// Reply status codes.
const (
	StatusOK         uint32 = 0
	StatusBadRequest uint32 = 1
	StatusNotFound   uint32 = 2
	StatusInternal   uint32 = 3
	StatusUnavailable uint32 = 4
)

// CallHeader prefixes every CALL frame.
type CallHeader struct {
	Xid  uint32
	Type uint32
	Proc uint32
}

// ReplyHeader prefixes every REPLY frame. The body follows only when
// Status is StatusOK; otherwise Message carries the error text.
type ReplyHeader struct {
	Xid     uint32
	Type    uint32
	Status  uint32
	Message string
}
