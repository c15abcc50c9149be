package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/saas-innova/file-provider/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DiskBackend stores files on the local filesystem under
// <root>/<fileID>/<originalName>, one file per id by convention.
type DiskBackend struct {
	root string
}

// NewDiskBackend creates a disk backend rooted at the given directory.
func NewDiskBackend(root string) *DiskBackend {
	return &DiskBackend{root: root}
}

func (d *DiskBackend) fileDir(fileID int64) string {
	return filepath.Join(d.root, strconv.FormatInt(fileID, 10))
}

// Store writes the file under a fresh id directory. On write failure the
// possibly partially created directory is removed before the error surfaces.
func (d *DiskBackend) Store(ctx context.Context, fileID int64, name string, data []byte, contentType string) error {
	_, span := tracer.Start(ctx, "disk.store",
		trace.WithAttributes(
			attribute.Int64("file_id", fileID),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	dir := d.fileDir(fileID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: creating directory %s: %w", ErrStorageWrite, dir, err)
	}

	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		span.RecordError(err)
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			span.RecordError(rmErr)
		}
		return fmt.Errorf("%w: writing %s: %w", ErrStorageWrite, name, err)
	}

	span.SetAttributes(attribute.Bool("write_success", true))
	return nil
}

// Fetch returns the stable URL <hostURL>/file/<id>; a separate HTTP handler
// resolves it against the disk. ExpiresIn stays 0: the link does not expire.
func (d *DiskBackend) Fetch(ctx context.Context, record *models.File, opts FetchOptions) (*models.FileLocation, error) {
	_, span := tracer.Start(ctx, "disk.fetch",
		trace.WithAttributes(attribute.Int64("file_id", record.ID)),
	)
	defer span.End()

	return &models.FileLocation{
		FileID: record.ID,
		URL:    fmt.Sprintf("%s/file/%d", opts.HostURL, record.ID),
	}, nil
}

// FetchDetails materializes the id directory's single entry as base64
// content. A missing, empty, or unreadable directory reports (nil, nil).
func (d *DiskBackend) FetchDetails(ctx context.Context, record *models.File) (*models.FileContent, error) {
	_, span := tracer.Start(ctx, "disk.fetch_details",
		trace.WithAttributes(attribute.Int64("file_id", record.ID)),
	)
	defer span.End()

	path, ok := d.ResolvePath(record.ID)
	if !ok {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		span.RecordError(err)
		return nil, nil
	}

	name := filepath.Base(path)
	span.SetAttributes(attribute.Int("size_bytes", len(data)))
	return &models.FileContent{
		Content:   base64.StdEncoding.EncodeToString(data),
		Extension: filepath.Ext(name),
		Encoding:  "base64",
		FileName:  name,
	}, nil
}

// Update replaces the id's content by writing to a temp file in the id
// directory and renaming onto the final name, then clearing any leftover
// siblings. The rename keeps readers from ever observing an empty directory.
func (d *DiskBackend) Update(ctx context.Context, fileID int64, name string, data []byte, contentType string, previousName string) error {
	_, span := tracer.Start(ctx, "disk.update",
		trace.WithAttributes(
			attribute.Int64("file_id", fileID),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	dir := d.fileDir(fileID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: creating directory %s: %w", ErrStorageWrite, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".replace-*")
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: creating temp file in %s: %w", ErrStorageWrite, dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		span.RecordError(err)
		return fmt.Errorf("%w: writing replacement for %s: %w", ErrStorageWrite, name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		span.RecordError(err)
		return fmt.Errorf("%w: closing replacement for %s: %w", ErrStorageWrite, name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		span.RecordError(err)
		return fmt.Errorf("%w: renaming replacement for %s: %w", ErrStorageWrite, name, err)
	}

	// One file per id: clear anything the previous content left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: listing directory %s: %w", ErrStorageRead, dir, err)
	}
	for _, entry := range entries {
		if entry.Name() == name {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			span.RecordError(err)
			return fmt.Errorf("%w: removing stale entry %s: %w", ErrStorageWrite, entry.Name(), err)
		}
	}

	span.SetAttributes(attribute.Bool("update_success", true))
	return nil
}

// Remove deletes the file's entire id directory. Absence is success.
func (d *DiskBackend) Remove(ctx context.Context, record *models.File) error {
	_, span := tracer.Start(ctx, "disk.remove",
		trace.WithAttributes(attribute.Int64("file_id", record.ID)),
	)
	defer span.End()

	dir := d.fileDir(record.ID)
	if err := os.RemoveAll(dir); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: removing directory %s: %w", ErrStorageWrite, dir, err)
	}
	return nil
}

// ResolvePath returns the path of the id directory's first (and assumed
// only) entry, or false on any filesystem error including absence.
func (d *DiskBackend) ResolvePath(fileID int64) (string, bool) {
	dir := d.fileDir(fileID)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return "", false
	}
	return filepath.Join(dir, entries[0].Name()), true
}
