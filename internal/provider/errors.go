package provider

import "errors"

// Error kinds for storage operations. Callers match with errors.Is; every
// wrapped error keeps its cause chain intact.
var (
	// ErrStorageWrite marks a disk mkdir/write failure. The disk backend
	// rolls back the partially created file directory before returning it.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrStorageRead marks a missing or unreadable file or directory.
	// Lookup paths surface nil results instead of this error where
	// "not found" is ordinary data.
	ErrStorageRead = errors.New("storage read failed")

	// ErrRemoteStorage marks a failed object-store operation. Always
	// propagated to the caller, never swallowed.
	ErrRemoteStorage = errors.New("remote storage operation failed")

	// ErrImageProcessing marks a failure inside the image quality
	// reduction loop.
	ErrImageProcessing = errors.New("image processing failed")

	// ErrRequestRejected marks a store or update that failed in a way the
	// boundary layer should report as a client-visible rejection.
	ErrRequestRejected = errors.New("request rejected")
)
