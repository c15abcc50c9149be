package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/saas-innova/file-provider/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ObjectStore is the opaque remote object-store collaborator. The MinIO
// client implements it; this package never touches credentials or bucket
// naming beyond the <fileID>/<originalName> key scheme.
type ObjectStore interface {
	UploadObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	DownloadObject(ctx context.Context, objectKey string) ([]byte, error)
	DeleteObject(ctx context.Context, objectKey string) error
	PresignURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)
}

// BucketBackend stores files as whole objects keyed <fileID>/<originalName>.
type BucketBackend struct {
	store ObjectStore
}

// NewBucketBackend wraps an object store.
func NewBucketBackend(store ObjectStore) *BucketBackend {
	return &BucketBackend{store: store}
}

// ObjectKey builds the object-store key for a file id and original name.
func ObjectKey(fileID int64, name string) string {
	return fmt.Sprintf("%d/%s", fileID, name)
}

// Store uploads the object under its key.
func (b *BucketBackend) Store(ctx context.Context, fileID int64, name string, data []byte, contentType string) error {
	ctx, span := tracer.Start(ctx, "bucket.store",
		trace.WithAttributes(
			attribute.Int64("file_id", fileID),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	key := ObjectKey(fileID, name)
	if err := b.store.UploadObject(ctx, key, data, contentType); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: uploading %s: %w", ErrRemoteStorage, key, err)
	}
	return nil
}

// Fetch returns a time-limited presigned URL for the object.
func (b *BucketBackend) Fetch(ctx context.Context, record *models.File, opts FetchOptions) (*models.FileLocation, error) {
	ctx, span := tracer.Start(ctx, "bucket.fetch",
		trace.WithAttributes(attribute.Int64("file_id", record.ID)),
	)
	defer span.End()

	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultPresignExpiry
	}

	key := ObjectKey(record.ID, record.Name)
	url, err := b.store.PresignURL(ctx, key, time.Duration(expiresIn)*time.Second)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: presigning %s: %w", ErrRemoteStorage, key, err)
	}

	span.SetAttributes(attribute.Int("expires_in", expiresIn))
	return &models.FileLocation{
		FileID:    record.ID,
		URL:       url,
		ExpiresIn: expiresIn,
	}, nil
}

// FetchDetails downloads the whole object and returns it as base64 content.
func (b *BucketBackend) FetchDetails(ctx context.Context, record *models.File) (*models.FileContent, error) {
	ctx, span := tracer.Start(ctx, "bucket.fetch_details",
		trace.WithAttributes(attribute.Int64("file_id", record.ID)),
	)
	defer span.End()

	key := ObjectKey(record.ID, record.Name)
	data, err := b.store.DownloadObject(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: downloading %s: %w", ErrRemoteStorage, key, err)
	}

	span.SetAttributes(attribute.Int("size_bytes", len(data)))
	return &models.FileContent{
		Content:   base64.StdEncoding.EncodeToString(data),
		Extension: filepath.Ext(record.Name),
		Encoding:  "base64",
		FileName:  record.Name,
	}, nil
}

// Update uploads the new object, then deletes the prior one by its previous
// name. A failed post-upload delete leaves an orphaned object; that is
// logged and tolerated rather than failing the replace.
func (b *BucketBackend) Update(ctx context.Context, fileID int64, name string, data []byte, contentType string, previousName string) error {
	ctx, span := tracer.Start(ctx, "bucket.update",
		trace.WithAttributes(
			attribute.Int64("file_id", fileID),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	key := ObjectKey(fileID, name)
	if err := b.store.UploadObject(ctx, key, data, contentType); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: uploading %s: %w", ErrRemoteStorage, key, err)
	}

	if previousName != "" && previousName != name {
		oldKey := ObjectKey(fileID, previousName)
		if err := b.store.DeleteObject(ctx, oldKey); err != nil {
			span.RecordError(err)
			log.Printf("Warning: failed to delete previous object %s, orphan left behind: %v", oldKey, err)
		}
	}

	span.SetAttributes(attribute.Bool("update_success", true))
	return nil
}

// Remove deletes the single object key. The object store treats deleting an
// absent key as success, so the operation is idempotent.
func (b *BucketBackend) Remove(ctx context.Context, record *models.File) error {
	ctx, span := tracer.Start(ctx, "bucket.remove",
		trace.WithAttributes(attribute.Int64("file_id", record.ID)),
	)
	defer span.End()

	key := ObjectKey(record.ID, record.Name)
	if err := b.store.DeleteObject(ctx, key); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: deleting %s: %w", ErrRemoteStorage, key, err)
	}
	return nil
}
