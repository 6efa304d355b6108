package errors

// Kind constants. These are the eight stable error kinds the engine
// ever returns to its host.
const (
	KindInvalidArgument     = "INVALID_ARGUMENT"
	KindNotFound            = "NOT_FOUND"
	KindNotIndexed          = "NOT_INDEXED"
	KindIndexBusy           = "INDEX_BUSY"
	KindIndexCorrupt        = "INDEX_CORRUPT"
	KindIOError             = "IO_ERROR"
	KindModelDownloadFailed = "MODEL_DOWNLOAD_FAILED"
	KindInternal            = "INTERNAL"
)
