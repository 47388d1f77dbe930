package types

import "fmt"

// ParseError means the uploaded bytes could not be chunked. Fatal to the
// upload, no Document is created.
type ParseError struct {
	MediaType string
	Reason    string
	Err       error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.MediaType, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.MediaType, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EmbeddingFailure is a per-chunk failure of the embedding capability.
// Non-fatal: the chunk is stored with a null vector.
type EmbeddingFailure struct {
	ChunkIndex int
	Err        error
}

func (e *EmbeddingFailure) Error() string {
	return fmt.Sprintf("embed chunk %d: %v", e.ChunkIndex, e.Err)
}

func (e *EmbeddingFailure) Unwrap() error { return e.Err }

// BatchWriteFailure aborts the enable operation. Chunks from batches already
// committed stay in place, the document keeps is_ai_readable=false.
type BatchWriteFailure struct {
	Batch int
	Err   error
}

func (e *BatchWriteFailure) Error() string {
	return fmt.Sprintf("write chunk batch %d: %v", e.Batch, e.Err)
}

func (e *BatchWriteFailure) Unwrap() error { return e.Err }

// StorageUnavailable reports a failed object-store operation. Logged and
// ignored on delete, metadata removal proceeds regardless.
type StorageUnavailable struct {
	Path string
	Err  error
}

func (e *StorageUnavailable) Error() string {
	return fmt.Sprintf("object storage %s: %v", e.Path, e.Err)
}

func (e *StorageUnavailable) Unwrap() error { return e.Err }
