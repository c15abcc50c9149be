package models

import "time"

// File represents file metadata stored in MySQL.
// The numeric ID is assigned by the metadata layer before any storage write;
// an empty StoredPath marks a pending or failed upload.
type File struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	StoredPath  string    `json:"stored_path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UploadPayload is the transient upload request body. Content carries the
// file bytes in the declared transfer encoding (base64 unless stated
// otherwise); it is consumed once per call and never persisted as-is.
type UploadPayload struct {
	FileName string `json:"file_name"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// FileContent is a fully materialized file: the bytes re-encoded into the
// transfer encoding plus enough metadata for the caller to decode them.
type FileContent struct {
	Content   string `json:"content"`
	Extension string `json:"extension"`
	Encoding  string `json:"encoding"`
	FileName  string `json:"file_name"`
}

// FileLocation is a reference to stored content: a time-limited presigned URL
// in bucket mode, or the stable /file/<id> URL in disk mode (ExpiresIn 0).
type FileLocation struct {
	FileID    int64  `json:"file_id"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

// BatchResult is the per-record outcome of a batch fetch. Exactly one of
// Location and Err is set; failed records are reported, not dropped.
type BatchResult struct {
	FileID   int64
	Location *FileLocation
	Err      error
}
