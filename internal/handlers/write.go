package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/saas-innova/file-provider/internal/imaging"
	"github.com/saas-innova/file-provider/internal/models"
	"github.com/saas-innova/file-provider/internal/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("file-provider-handlers")

// MetadataStore is the persistence collaborator handlers read and write file
// records through.
type MetadataStore interface {
	CreateFile(ctx context.Context, name string) (int64, error)
	FinalizeFile(ctx context.Context, fileID int64, name, storedPath string, size int64, contentType string) error
	GetFile(ctx context.Context, fileID int64) (*models.File, error)
	ListFiles(ctx context.Context) ([]*models.File, error)
	DeleteFile(ctx context.Context, fileID int64) error
}

// MetadataCache is the cache-aside collaborator for file records.
type MetadataCache interface {
	GetFileMetadata(ctx context.Context, fileID int64) (*models.File, error)
	SetFileMetadata(ctx context.Context, fileID int64, file *models.File) error
	InvalidateFileMetadata(ctx context.Context, fileID int64) error
}

// WriteHandler handles file upload, update, and delete requests
type WriteHandler struct {
	gateway    *provider.Gateway
	meta       MetadataStore
	cache      MetadataCache
	reducer    *imaging.Reducer
	imageMaxKB int
}

// NewWriteHandler creates a new write handler. imageMaxKB > 0 enables
// upload-time recompression of oversized images.
func NewWriteHandler(
	gateway *provider.Gateway,
	meta MetadataStore,
	cache MetadataCache,
	reducer *imaging.Reducer,
	imageMaxKB int,
) *WriteHandler {
	return &WriteHandler{
		gateway:    gateway,
		meta:       meta,
		cache:      cache,
		reducer:    reducer,
		imageMaxKB: imageMaxKB,
	}
}

// WriteResponse represents the response for a write operation
type WriteResponse struct {
	FileID   int64  `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	Message  string `json:"message"`
}

// Upload handles POST /files
func (wh *WriteHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "upload_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	payload, ok := decodeUploadPayload(w, r)
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("file_name", payload.FileName))

	// Step 1: Create the pending metadata row; the id is assigned before
	// any storage write happens.
	fileID, err := wh.meta.CreateFile(ctx, payload.FileName)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to create file record: %v", err), http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.Int64("file_id", fileID))
	log.Printf("Uploading file: %s (ID: %d)", payload.FileName, fileID)

	// Step 2: Recompress oversized images before persisting
	if err := wh.shrinkOversizedImage(ctx, payload); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to process image: %v", err), storageErrorStatus(err))
		return
	}

	// Step 3: Store through the gateway. On failure the pending row stays
	// behind with its empty stored path.
	if err := wh.gateway.Store(ctx, payload, fileID); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to store file: %v", err), storageErrorStatus(err))
		return
	}

	// Step 4: Finalize the metadata row
	size := payloadSize(payload)
	storedPath := fmt.Sprintf("%d/%s", fileID, payload.FileName)
	contentType := provider.ContentTypeForExtension(filepath.Ext(payload.FileName))
	if err := wh.meta.FinalizeFile(ctx, fileID, payload.FileName, storedPath, size, contentType); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to finalize file record: %v", err), http.StatusInternalServerError)
		return
	}

	// Step 5: Invalidate cache
	if err := wh.cache.InvalidateFileMetadata(ctx, fileID); err != nil {
		// Log error but don't fail the request
		log.Printf("Warning: failed to invalidate cache: %v", err)
	}

	response := WriteResponse{
		FileID:   fileID,
		FileName: payload.FileName,
		FileSize: size,
		Message:  "File uploaded successfully",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)

	log.Printf("File upload completed: %s (ID: %d)", payload.FileName, fileID)
}

// Update handles PUT /files/{file_id}
func (wh *WriteHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "update_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	fileID, ok := fileIDFromRequest(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("file_id", fileID))

	payload, ok := decodeUploadPayload(w, r)
	if !ok {
		return
	}

	// Step 1: Look up the existing record; its name tells the backend
	// which prior content to clear.
	record, err := wh.meta.GetFile(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to get file metadata: %v", err), http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	log.Printf("Updating file: %s -> %s (ID: %d)", record.Name, payload.FileName, fileID)

	// Step 2: Recompress oversized images
	if err := wh.shrinkOversizedImage(ctx, payload); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to process image: %v", err), storageErrorStatus(err))
		return
	}

	// Step 3: Replace the stored content
	if err := wh.gateway.Update(ctx, payload, fileID, record.Name); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to update file: %v", err), storageErrorStatus(err))
		return
	}

	// Step 4: Refresh the metadata row
	size := payloadSize(payload)
	storedPath := fmt.Sprintf("%d/%s", fileID, payload.FileName)
	contentType := provider.ContentTypeForExtension(filepath.Ext(payload.FileName))
	if err := wh.meta.FinalizeFile(ctx, fileID, payload.FileName, storedPath, size, contentType); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to finalize file record: %v", err), http.StatusInternalServerError)
		return
	}

	// Step 5: Invalidate cache
	if err := wh.cache.InvalidateFileMetadata(ctx, fileID); err != nil {
		log.Printf("Warning: failed to invalidate cache: %v", err)
	}

	response := WriteResponse{
		FileID:   fileID,
		FileName: payload.FileName,
		FileSize: size,
		Message:  "File updated successfully",
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)

	log.Printf("File update completed: %s (ID: %d)", payload.FileName, fileID)
}

// Delete handles DELETE /files/{file_id}
func (wh *WriteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := tracer.Start(ctx, "delete_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	fileID, ok := fileIDFromRequest(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("file_id", fileID))

	record, err := wh.meta.GetFile(ctx, fileID)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to get file metadata: %v", err), http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	log.Printf("Deleting file: %s (ID: %d)", record.Name, fileID)

	// Removing already-absent content is a no-op, so a retried delete
	// after a partial failure still succeeds.
	if err := wh.gateway.Remove(ctx, record); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to remove file: %v", err), http.StatusInternalServerError)
		return
	}

	if err := wh.meta.DeleteFile(ctx, fileID); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("failed to delete file record: %v", err), http.StatusInternalServerError)
		return
	}

	if err := wh.cache.InvalidateFileMetadata(ctx, fileID); err != nil {
		log.Printf("Warning: failed to invalidate cache: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "File deleted successfully"})

	log.Printf("File delete completed: %s (ID: %d)", record.Name, fileID)
}

// shrinkOversizedImage rewrites the payload in place when it carries an image
// larger than the configured budget: the decoded bytes go to the gateway's
// temp directory, the reducer re-encodes them, and the reduced JPEG replaces
// the payload content under a .jpg-suffixed name. Temp artifacts are left
// for the periodic sweeper.
func (wh *WriteHandler) shrinkOversizedImage(ctx context.Context, payload *models.UploadPayload) error {
	if wh.imageMaxKB <= 0 {
		return nil
	}
	ext := filepath.Ext(payload.FileName)
	if !strings.HasPrefix(provider.ContentTypeForExtension(ext), "image/") {
		return nil
	}

	encoding := strings.ToLower(payload.Encoding)
	if encoding != "" && encoding != "base64" {
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(payload.Content)
	if err != nil {
		return fmt.Errorf("%w: decoding base64 content: %w", provider.ErrRequestRejected, err)
	}
	if int64(len(data)) <= int64(wh.imageMaxKB)*1024 {
		return nil
	}

	scratch := filepath.Join(wh.gateway.TempDir(), provider.RandomizedName(payload.FileName))
	if err := os.WriteFile(scratch, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing scratch image: %w", provider.ErrImageProcessing, err)
	}

	reducedPath, err := wh.reducer.Reduce(ctx, scratch, wh.imageMaxKB)
	if err != nil {
		return err
	}

	reduced, err := provider.ExtractFromFilePath(reducedPath)
	if err != nil {
		return err
	}
	if reduced == nil {
		return fmt.Errorf("%w: reduced image %s disappeared", provider.ErrImageProcessing, reducedPath)
	}

	base := payload.FileName
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	payload.FileName = base + ".jpg"
	payload.Content = reduced.Content
	payload.Encoding = "base64"

	log.Printf("Image recompressed below %dKB budget: %s", wh.imageMaxKB, payload.FileName)
	return nil
}

// decodeUploadPayload parses and normalizes the request body. Data-URI
// content is unwrapped into plain base64 and the filename re-suffixed from
// the URI's MIME subtype.
func decodeUploadPayload(w http.ResponseWriter, r *http.Request) (*models.UploadPayload, bool) {
	var payload models.UploadPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return nil, false
	}
	if payload.FileName == "" {
		http.Error(w, "missing file_name", http.StatusBadRequest)
		return nil, false
	}

	kind := provider.DataURIGeneric
	if strings.HasPrefix(provider.ContentTypeForExtension(filepath.Ext(payload.FileName)), "image/") {
		kind = provider.DataURIImage
	}
	content, ext := provider.ExtractFromDataURI(payload.Content, kind)
	if ext != "" {
		payload.Content = content
		payload.Encoding = "base64"
		base := payload.FileName
		if i := strings.LastIndex(base, "."); i >= 0 {
			base = base[:i]
		}
		payload.FileName = base + ext
	}

	return &payload, true
}

// fileIDFromRequest parses the numeric file_id path variable.
func fileIDFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	vars := mux.Vars(r)
	fileID, err := strconv.ParseInt(vars["file_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid file_id in path", http.StatusBadRequest)
		return 0, false
	}
	return fileID, true
}

// payloadSize reports the decoded byte size of the payload content.
func payloadSize(payload *models.UploadPayload) int64 {
	switch strings.ToLower(payload.Encoding) {
	case "", "base64":
		if data, err := base64.StdEncoding.DecodeString(payload.Content); err == nil {
			return int64(len(data))
		}
		return 0
	default:
		return int64(len(payload.Content))
	}
}

// storageErrorStatus maps gateway and imaging failures to response codes:
// rejections and processing failures are the client's problem, the rest are
// ours.
func storageErrorStatus(err error) int {
	if errors.Is(err, provider.ErrRequestRejected) || errors.Is(err, provider.ErrImageProcessing) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
