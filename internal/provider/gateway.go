package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/saas-innova/file-provider/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("file-provider-gateway")

const (
	// DefaultPresignExpiry is applied when a bucket fetch does not request
	// its own expiry.
	DefaultPresignExpiry = 60

	// presignPerRecordSeconds scales batch presign lifetime with batch
	// size; larger batches are assumed to need more consumer-side
	// processing time before each link is used.
	presignPerRecordSeconds = 5

	// maxBatchPresignSeconds caps the exposure window of batch presigns.
	maxBatchPresignSeconds = 60
)

// FetchOptions tunes Fetch per call. HostURL is the externally visible base
// URL used for disk-mode stable links; ExpiresIn is the presign lifetime in
// seconds for bucket mode (0 means DefaultPresignExpiry).
type FetchOptions struct {
	HostURL   string
	ExpiresIn int
}

// Backend is the capability set a storage implementation must provide. The
// gateway is handed one at construction time; no flag branching happens
// inside operations.
type Backend interface {
	Store(ctx context.Context, fileID int64, name string, data []byte, contentType string) error
	Fetch(ctx context.Context, record *models.File, opts FetchOptions) (*models.FileLocation, error)
	FetchDetails(ctx context.Context, record *models.File) (*models.FileContent, error)
	Update(ctx context.Context, fileID int64, name string, data []byte, contentType string, previousName string) error
	Remove(ctx context.Context, record *models.File) error
}

// Gateway exposes uniform storage operations over an injected Backend, plus
// the temp-directory housekeeping that runs regardless of backend.
type Gateway struct {
	backend Backend
	tempDir string
}

// NewGateway wraps a backend. The temp directory is created eagerly; image
// post-processing scratches into it in both storage modes.
func NewGateway(backend Backend, tempDir string) *Gateway {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		log.Printf("Warning: failed to create temp directory %s: %v", tempDir, err)
	}
	return &Gateway{backend: backend, tempDir: tempDir}
}

// TempDir returns the scratch directory swept by PurgeStaleTemp.
func (g *Gateway) TempDir() string {
	return g.tempDir
}

// Store decodes the payload and writes it under the file id. Any backend
// failure is surfaced as a request rejection so the boundary layer can map
// it to a client error.
func (g *Gateway) Store(ctx context.Context, payload *models.UploadPayload, fileID int64) error {
	ctx, span := tracer.Start(ctx, "gateway.store",
		trace.WithAttributes(
			attribute.Int64("file_id", fileID),
			attribute.String("file_name", payload.FileName),
		),
	)
	defer span.End()

	data, contentType, err := decodePayload(payload)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := g.backend.Store(ctx, fileID, payload.FileName, data, contentType); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %w", ErrRequestRejected, err)
	}

	span.SetAttributes(attribute.Int("size_bytes", len(data)))
	return nil
}

// Fetch returns a reference to the stored content, never the bytes: a
// presigned URL in bucket mode, a stable <hostURL>/file/<id> link in disk
// mode.
func (g *Gateway) Fetch(ctx context.Context, record *models.File, opts FetchOptions) (*models.FileLocation, error) {
	ctx, span := tracer.Start(ctx, "gateway.fetch",
		trace.WithAttributes(attribute.Int64("file_id", record.ID)),
	)
	defer span.End()

	location, err := g.backend.Fetch(ctx, record, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return location, nil
}

// FetchDetails returns the fully materialized content. (nil, nil) means the
// content could not be found; not found is data here, not an exception.
func (g *Gateway) FetchDetails(ctx context.Context, record *models.File) (*models.FileContent, error) {
	ctx, span := tracer.Start(ctx, "gateway.fetch_details",
		trace.WithAttributes(attribute.Int64("file_id", record.ID)),
	)
	defer span.End()

	content, err := g.backend.FetchDetails(ctx, record)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("found", content != nil))
	return content, nil
}

// FetchBatch produces a per-record result for every input record; failed
// entries carry their error instead of being dropped. Bucket presign expiry
// scales with batch size, capped at maxBatchPresignSeconds.
func (g *Gateway) FetchBatch(ctx context.Context, records []*models.File, hostURL string) []models.BatchResult {
	ctx, span := tracer.Start(ctx, "gateway.fetch_batch",
		trace.WithAttributes(attribute.Int("record_count", len(records))),
	)
	defer span.End()

	opts := FetchOptions{
		HostURL:   hostURL,
		ExpiresIn: BatchPresignExpiry(len(records)),
	}

	results := make([]models.BatchResult, 0, len(records))
	for _, record := range records {
		location, err := g.backend.Fetch(ctx, record, opts)
		if err != nil {
			span.RecordError(err)
			results = append(results, models.BatchResult{FileID: record.ID, Err: err})
			continue
		}
		results = append(results, models.BatchResult{FileID: record.ID, Location: location})
	}
	return results
}

// BatchPresignExpiry returns the presign lifetime in seconds for a batch of
// the given size: 5 seconds per record, capped at 60.
func BatchPresignExpiry(count int) int {
	expiry := count * presignPerRecordSeconds
	if expiry > maxBatchPresignSeconds {
		return maxBatchPresignSeconds
	}
	return expiry
}

// Update fully replaces the content stored under the file id. previousName
// is the name the prior content was stored under; bucket mode needs it to
// delete the old object.
func (g *Gateway) Update(ctx context.Context, payload *models.UploadPayload, fileID int64, previousName string) error {
	ctx, span := tracer.Start(ctx, "gateway.update",
		trace.WithAttributes(
			attribute.Int64("file_id", fileID),
			attribute.String("file_name", payload.FileName),
		),
	)
	defer span.End()

	data, contentType, err := decodePayload(payload)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := g.backend.Update(ctx, fileID, payload.FileName, data, contentType, previousName); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %w", ErrRequestRejected, err)
	}
	return nil
}

// Remove deletes the stored content. Idempotent: removing already-absent
// content succeeds.
func (g *Gateway) Remove(ctx context.Context, record *models.File) error {
	ctx, span := tracer.Start(ctx, "gateway.remove",
		trace.WithAttributes(attribute.Int64("file_id", record.ID)),
	)
	defer span.End()

	if err := g.backend.Remove(ctx, record); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ResolveLocalPath resolves a file id to its on-disk path. Only the disk
// backend can answer; any other backend, or any filesystem error including
// absence, reports false.
func (g *Gateway) ResolveLocalPath(fileID int64) (string, bool) {
	disk, ok := g.backend.(*DiskBackend)
	if !ok {
		return "", false
	}
	return disk.ResolvePath(fileID)
}

// PurgeStaleTemp removes temp-directory entries whose last modification is
// older than maxAge. Best-effort: a listing failure is logged and swallowed,
// and per-entry removal failures do not stop the sweep.
func (g *Gateway) PurgeStaleTemp(ctx context.Context, maxAge time.Duration) {
	_, span := tracer.Start(ctx, "gateway.purge_stale_temp",
		trace.WithAttributes(attribute.String("temp_dir", g.tempDir)),
	)
	defer span.End()

	entries, err := os.ReadDir(g.tempDir)
	if err != nil {
		log.Printf("Warning: failed to list temp directory %s: %v", g.tempDir, err)
		return
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			log.Printf("Warning: failed to stat temp entry %s: %v", entry.Name(), err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(g.tempDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("Warning: failed to remove stale temp entry %s: %v", path, err)
			continue
		}
		removed++
	}

	span.SetAttributes(attribute.Int("entries_removed", removed))
}

// decodePayload turns the transfer-encoded payload into raw bytes and the
// content type derived from the filename extension. The filename must carry
// an extension.
func decodePayload(payload *models.UploadPayload) ([]byte, string, error) {
	ext := filepath.Ext(payload.FileName)
	if ext == "" {
		return nil, "", fmt.Errorf("%w: file name %q has no extension", ErrRequestRejected, payload.FileName)
	}

	var data []byte
	switch strings.ToLower(payload.Encoding) {
	case "", "base64":
		decoded, err := base64.StdEncoding.DecodeString(payload.Content)
		if err != nil {
			return nil, "", fmt.Errorf("%w: decoding base64 content: %w", ErrRequestRejected, err)
		}
		data = decoded
	case "binary":
		data = []byte(payload.Content)
	default:
		return nil, "", fmt.Errorf("%w: unsupported encoding %q", ErrRequestRejected, payload.Encoding)
	}

	return data, ContentTypeForExtension(ext), nil
}
