package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/saas-innova/file-provider/internal/models"
	"github.com/saas-innova/file-provider/internal/provider"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReadHandler handles file retrieval requests
type ReadHandler struct {
	gateway *provider.Gateway
	meta    MetadataStore
	cache   MetadataCache
	hostURL string
}

// NewReadHandler creates a new read handler. hostURL is the externally
// visible base URL stable disk-mode links are built on.
func NewReadHandler(
	gateway *provider.Gateway,
	meta MetadataStore,
	cache MetadataCache,
	hostURL string,
) *ReadHandler {
	return &ReadHandler{
		gateway: gateway,
		meta:    meta,
		cache:   cache,
		hostURL: hostURL,
	}
}

// BatchEntryResponse is one per-record outcome of GET /files. Failed entries
// are reported with their error, not dropped.
type BatchEntryResponse struct {
	FileID    int64  `json:"file_id"`
	URL       string `json:"url,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Fetch handles GET /files/{file_id}: a reference to the content, never the
// bytes.
func (rh *ReadHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "fetch_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	fileID, ok := fileIDFromRequest(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("file_id", fileID))

	record, err := rh.getFileMetadata(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to get file metadata: %v", err), http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	location, err := rh.gateway.Fetch(ctx, record, provider.FetchOptions{HostURL: rh.hostURL})
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to fetch file location: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(location)

	log.Printf("File fetch completed: %s (ID: %d)", record.Name, fileID)
}

// Details handles GET /files/{file_id}/details: the fully materialized
// content.
func (rh *ReadHandler) Details(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "fetch_file_details",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	fileID, ok := fileIDFromRequest(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("file_id", fileID))

	record, err := rh.getFileMetadata(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to get file metadata: %v", err), http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	content, err := rh.gateway.FetchDetails(ctx, record)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to fetch file details: %v", err), http.StatusInternalServerError)
		return
	}
	if content == nil {
		http.Error(w, "file content not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(content)

	log.Printf("File details completed: %s (ID: %d)", record.Name, fileID)
}

// List handles GET /files: a location for every known record, with per-entry
// errors reported in place.
func (rh *ReadHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "list_files",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	files, err := rh.meta.ListFiles(ctx)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to list files: %v", err), http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.Int("file_count", len(files)))

	results := rh.gateway.FetchBatch(ctx, files, rh.hostURL)

	entries := make([]BatchEntryResponse, 0, len(results))
	for _, result := range results {
		entry := BatchEntryResponse{FileID: result.FileID}
		if result.Err != nil {
			entry.Error = result.Err.Error()
		} else {
			entry.URL = result.Location.URL
			entry.ExpiresIn = result.Location.ExpiresIn
		}
		entries = append(entries, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)

	log.Printf("File list completed: %d records", len(entries))
}

// ServeLocal handles GET /file/{file_id}: the stable-URL resolver behind
// disk-mode fetch links. It streams the id directory's single entry; any
// other backend reports not found.
func (rh *ReadHandler) ServeLocal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, span := tracer.Start(ctx, "serve_local_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	fileID, ok := fileIDFromRequest(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("file_id", fileID))

	path, ok := rh.gateway.ResolveLocalPath(fileID)
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Type", provider.ContentTypeForExtension(filepath.Ext(name)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)

	log.Printf("Local file served: %s (ID: %d)", name, fileID)
}

func (rh *ReadHandler) getFileMetadata(ctx context.Context, fileID int64) (*models.File, error) {
	// Try cache first
	ctx, cacheSpan := tracer.Start(ctx, "cache_lookup")
	file, err := rh.cache.GetFileMetadata(ctx, fileID)
	cacheSpan.End()

	if err != nil {
		return nil, err
	}

	if file != nil {
		log.Printf("Cache HIT for file: %d", fileID)
		return file, nil
	}

	// Cache miss - fetch from MySQL
	log.Printf("Cache MISS for file: %d", fileID)
	ctx, dbSpan := tracer.Start(ctx, "db_lookup")
	defer dbSpan.End()

	file, err = rh.meta.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, nil
	}

	// Update cache for next time
	if err := rh.cache.SetFileMetadata(ctx, fileID, file); err != nil {
		log.Printf("Warning: failed to update cache: %v", err)
	}

	return file, nil
}
