package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/saas-innova/file-provider/internal/imaging"
	"github.com/saas-innova/file-provider/internal/models"
	"github.com/saas-innova/file-provider/internal/provider"
	"github.com/stretchr/testify/require"
)

// -------- test fakes --------

type fakeMetadataStore struct {
	nextID int64
	files  map[int64]*models.File
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{files: make(map[int64]*models.File)}
}

func (f *fakeMetadataStore) CreateFile(ctx context.Context, name string) (int64, error) {
	f.nextID++
	now := time.Now()
	f.files[f.nextID] = &models.File{ID: f.nextID, Name: name, CreatedAt: now, UpdatedAt: now}
	return f.nextID, nil
}

func (f *fakeMetadataStore) FinalizeFile(ctx context.Context, fileID int64, name, storedPath string, size int64, contentType string) error {
	file, ok := f.files[fileID]
	if !ok {
		return fmt.Errorf("no such file: %d", fileID)
	}
	file.Name = name
	file.StoredPath = storedPath
	file.Size = size
	file.ContentType = contentType
	file.UpdatedAt = time.Now()
	return nil
}

func (f *fakeMetadataStore) GetFile(ctx context.Context, fileID int64) (*models.File, error) {
	file, ok := f.files[fileID]
	if !ok {
		return nil, nil
	}
	copied := *file
	return &copied, nil
}

func (f *fakeMetadataStore) ListFiles(ctx context.Context) ([]*models.File, error) {
	ids := make([]int64, 0, len(f.files))
	for id := range f.files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	files := make([]*models.File, 0, len(ids))
	for _, id := range ids {
		copied := *f.files[id]
		files = append(files, &copied)
	}
	return files, nil
}

func (f *fakeMetadataStore) DeleteFile(ctx context.Context, fileID int64) error {
	delete(f.files, fileID)
	return nil
}

type fakeCache struct {
	invalidated []int64
}

func (f *fakeCache) GetFileMetadata(ctx context.Context, fileID int64) (*models.File, error) {
	return nil, nil
}

func (f *fakeCache) SetFileMetadata(ctx context.Context, fileID int64, file *models.File) error {
	return nil
}

func (f *fakeCache) InvalidateFileMetadata(ctx context.Context, fileID int64) error {
	f.invalidated = append(f.invalidated, fileID)
	return nil
}

func newTestRouter(t *testing.T, imageMaxKB int) (*mux.Router, *fakeMetadataStore, *fakeCache) {
	t.Helper()

	root := t.TempDir()
	gateway := provider.NewGateway(
		provider.NewDiskBackend(filepath.Join(root, "files")),
		filepath.Join(root, "temp"),
	)
	meta := newFakeMetadataStore()
	cache := &fakeCache{}

	writeHandler := NewWriteHandler(gateway, meta, cache, imaging.NewReducer(), imageMaxKB)
	readHandler := NewReadHandler(gateway, meta, cache, "http://files.test")

	router := mux.NewRouter()
	router.HandleFunc("/files", writeHandler.Upload).Methods("POST")
	router.HandleFunc("/files", readHandler.List).Methods("GET")
	router.HandleFunc("/files/{file_id}", writeHandler.Update).Methods("PUT")
	router.HandleFunc("/files/{file_id}", writeHandler.Delete).Methods("DELETE")
	router.HandleFunc("/files/{file_id}", readHandler.Fetch).Methods("GET")
	router.HandleFunc("/files/{file_id}/details", readHandler.Details).Methods("GET")
	router.HandleFunc("/file/{file_id}", readHandler.ServeLocal).Methods("GET")

	return router, meta, cache
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func uploadText(t *testing.T, router *mux.Router, name, text string) WriteResponse {
	t.Helper()

	rec := doJSON(t, router, "POST", "/files", models.UploadPayload{
		FileName: name,
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString([]byte(text)),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp WriteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// -------- tests --------

func TestUploadAndDetailsRoundTrip(t *testing.T) {
	router, meta, cache := newTestRouter(t, 0)

	resp := uploadText(t, router, "greeting.txt", "hello world")
	require.Equal(t, "greeting.txt", resp.FileName)
	require.Equal(t, int64(len("hello world")), resp.FileSize)

	record, err := meta.GetFile(context.Background(), resp.FileID)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, fmt.Sprintf("%d/greeting.txt", resp.FileID), record.StoredPath)
	require.Equal(t, "application/octet-stream", record.ContentType)
	require.Contains(t, cache.invalidated, resp.FileID)

	rec := doJSON(t, router, "GET", fmt.Sprintf("/files/%d/details", resp.FileID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var content models.FileContent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &content))
	decoded, err := base64.StdEncoding.DecodeString(content.Content)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), decoded)
	require.Equal(t, ".txt", content.Extension)
}

func TestUploadRejectsMissingExtension(t *testing.T) {
	router, _, _ := newTestRouter(t, 0)

	rec := doJSON(t, router, "POST", "/files", models.UploadPayload{
		FileName: "noextension",
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString([]byte("data")),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUploadRejectsMissingName(t *testing.T) {
	router, _, _ := newTestRouter(t, 0)

	rec := doJSON(t, router, "POST", "/files", models.UploadPayload{Content: "AAAA"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadUnwrapsDataURI(t *testing.T) {
	router, _, _ := newTestRouter(t, 0)

	payload := base64.StdEncoding.EncodeToString([]byte("fake image bytes"))
	rec := doJSON(t, router, "POST", "/files", models.UploadPayload{
		FileName: "pic.png",
		Content:  fmt.Sprintf("data:image/jpeg;base64,%s", payload),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp WriteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pic.jpg", resp.FileName)
	require.Equal(t, int64(len("fake image bytes")), resp.FileSize)
}

func TestFetchReturnsStableURL(t *testing.T) {
	router, _, _ := newTestRouter(t, 0)

	resp := uploadText(t, router, "note.txt", "contents")

	rec := doJSON(t, router, "GET", fmt.Sprintf("/files/%d", resp.FileID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var location models.FileLocation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &location))
	require.Equal(t, fmt.Sprintf("http://files.test/file/%d", resp.FileID), location.URL)
}

func TestFetchUnknownFile(t *testing.T) {
	router, _, _ := newTestRouter(t, 0)

	rec := doJSON(t, router, "GET", "/files/12345", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeLocalStreamsBytes(t *testing.T) {
	router, _, _ := newTestRouter(t, 0)

	resp := uploadText(t, router, "doc.pdf", "pdf bytes")

	rec := doJSON(t, router, "GET", fmt.Sprintf("/file/%d", resp.FileID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, "pdf bytes", rec.Body.String())
}

func TestListReportsEveryRecord(t *testing.T) {
	router, _, _ := newTestRouter(t, 0)

	first := uploadText(t, router, "a.txt", "aaa")
	second := uploadText(t, router, "b.txt", "bbb")

	rec := doJSON(t, router, "GET", "/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []BatchEntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	require.Equal(t, fmt.Sprintf("http://files.test/file/%d", first.FileID), entries[0].URL)
	require.Equal(t, fmt.Sprintf("http://files.test/file/%d", second.FileID), entries[1].URL)
	for _, entry := range entries {
		require.Empty(t, entry.Error)
	}
}

func TestUpdateReplacesContent(t *testing.T) {
	router, meta, _ := newTestRouter(t, 0)

	resp := uploadText(t, router, "old.txt", "old contents")

	rec := doJSON(t, router, "PUT", fmt.Sprintf("/files/%d", resp.FileID), models.UploadPayload{
		FileName: "new.txt",
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString([]byte("new contents")),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	record, err := meta.GetFile(context.Background(), resp.FileID)
	require.NoError(t, err)
	require.Equal(t, "new.txt", record.Name)

	details := doJSON(t, router, "GET", fmt.Sprintf("/files/%d/details", resp.FileID), nil)
	require.Equal(t, http.StatusOK, details.Code)

	var content models.FileContent
	require.NoError(t, json.Unmarshal(details.Body.Bytes(), &content))
	require.Equal(t, "new.txt", content.FileName)
	decoded, err := base64.StdEncoding.DecodeString(content.Content)
	require.NoError(t, err)
	require.Equal(t, []byte("new contents"), decoded)
}

func TestUpdateUnknownFile(t *testing.T) {
	router, _, _ := newTestRouter(t, 0)

	rec := doJSON(t, router, "PUT", "/files/777", models.UploadPayload{
		FileName: "new.txt",
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString([]byte("new contents")),
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteThenDeleteAgain(t *testing.T) {
	router, _, _ := newTestRouter(t, 0)

	resp := uploadText(t, router, "note.txt", "contents")

	rec := doJSON(t, router, "DELETE", fmt.Sprintf("/files/%d", resp.FileID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "DELETE", fmt.Sprintf("/files/%d", resp.FileID), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	details := doJSON(t, router, "GET", fmt.Sprintf("/files/%d/details", resp.FileID), nil)
	require.Equal(t, http.StatusNotFound, details.Code)
}

func TestUploadRecompressesOversizedImage(t *testing.T) {
	router, meta, _ := newTestRouter(t, 40)

	// Random noise barely compresses as PNG, so the payload clears the
	// 40 KB budget comfortably.
	rng := rand.New(rand.NewSource(3))
	img := image.NewRGBA(image.Rect(0, 0, 160, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.Greater(t, buf.Len(), 40*1024)

	rec := doJSON(t, router, "POST", "/files", models.UploadPayload{
		FileName: "photo.png",
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp WriteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "photo.jpg", resp.FileName)
	require.LessOrEqual(t, resp.FileSize, int64(40*1024))

	record, err := meta.GetFile(context.Background(), resp.FileID)
	require.NoError(t, err)
	require.Equal(t, "photo.jpg", record.Name)
	require.Equal(t, "image/jpg", record.ContentType)
}

func TestUploadBrokenImageRejected(t *testing.T) {
	router, _, _ := newTestRouter(t, 10)

	junk := make([]byte, 64*1024)
	rand.New(rand.NewSource(4)).Read(junk)

	rec := doJSON(t, router, "POST", "/files", models.UploadPayload{
		FileName: "broken.png",
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString(junk),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
