package rpc

// Request and response bodies for the procedures served by peerd daemons.
// Shared between the servers and the peer-to-peer download client so both
// sides agree on the XDR layout.

// DownloadTaskRequest asks the daemon to download content (download server).
type DownloadTaskRequest struct {
	URL                 string
	Tag                 string
	Application         string
	Persistent          bool
	FilteredQueryParams []string
}

// DownloadTaskResponse reports the finished task.
type DownloadTaskResponse struct {
	TaskID        string
	ContentLength uint64
	PieceCount    uint32
}

// StatTaskRequest looks up task metadata.
type StatTaskRequest struct {
	TaskID string
}

// StatTaskResponse carries task metadata.
type StatTaskResponse struct {
	TaskID        string
	URL           string
	State         string
	ContentLength uint64
	PieceCount    uint32
	Persistent    bool
}

// DeleteTaskRequest evicts a task from local storage.
type DeleteTaskRequest struct {
	TaskID string
}

// DownloadPersistentCacheTaskRequest replicates a persistent cache task
// from peers.
type DownloadPersistentCacheTaskRequest struct {
	TaskID string
}

// ImportPersistentCacheTaskRequest seeds a local file into the persistent
// cache. The path must be readable by the daemon process.
type ImportPersistentCacheTaskRequest struct {
	Path        string
	Tag         string
	Application string
}

// DownloadPieceRequest fetches one piece from a peer (upload server).
type DownloadPieceRequest struct {
	TaskID string
	Number uint32
}

// DownloadPieceResponse carries one piece.
type DownloadPieceResponse struct {
	Number uint32
	Offset uint64
	Digest string
	Data   []byte
}

// SyncPiecesRequest asks which pieces a peer holds for a task.
type SyncPiecesRequest struct {
	TaskID string
}

// SyncPiecesResponse lists held piece numbers.
type SyncPiecesResponse struct {
	Numbers []uint32
}
