package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/saas-innova/file-provider/internal/models"
	"github.com/stretchr/testify/require"
)

// -------- test fakes --------

type presignCall struct {
	key     string
	expires time.Duration
}

type fakeObjectStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
	deleted      []string
	presigns     []presignCall

	uploadErr   error
	downloadErr error
	deleteErr   error
	presignErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (f *fakeObjectStore) UploadObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[objectKey] = data
	f.contentTypes[objectKey] = contentType
	return nil
}

func (f *fakeObjectStore) DownloadObject(ctx context.Context, objectKey string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", objectKey)
	}
	return data, nil
}

func (f *fakeObjectStore) DeleteObject(ctx context.Context, objectKey string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, objectKey)
	f.deleted = append(f.deleted, objectKey)
	return nil
}

func (f *fakeObjectStore) PresignURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	f.presigns = append(f.presigns, presignCall{key: objectKey, expires: expires})
	return fmt.Sprintf("https://bucket.test/%s?expires=%d", objectKey, int(expires.Seconds())), nil
}

func newBucketGateway(t *testing.T, store ObjectStore) *Gateway {
	t.Helper()
	return NewGateway(NewBucketBackend(store), t.TempDir())
}

// -------- tests --------

func TestBucketStoreAndFetchDetails(t *testing.T) {
	store := newFakeObjectStore()
	gw := newBucketGateway(t, store)
	ctx := context.Background()

	require.NoError(t, gw.Store(ctx, textPayload("report.pdf", "pdf bytes"), 1))
	require.Equal(t, []byte("pdf bytes"), store.objects["1/report.pdf"])
	require.Equal(t, "application/pdf", store.contentTypes["1/report.pdf"])

	content, err := gw.FetchDetails(ctx, &models.File{ID: 1, Name: "report.pdf"})
	require.NoError(t, err)
	require.NotNil(t, content)
	require.Equal(t, ".pdf", content.Extension)

	decoded, err := base64.StdEncoding.DecodeString(content.Content)
	require.NoError(t, err)
	require.Equal(t, []byte("pdf bytes"), decoded)
}

func TestBucketStoreFailureRejected(t *testing.T) {
	store := newFakeObjectStore()
	store.uploadErr = errors.New("bucket unavailable")
	gw := newBucketGateway(t, store)

	err := gw.Store(context.Background(), textPayload("report.pdf", "pdf bytes"), 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRequestRejected))
	require.True(t, errors.Is(err, ErrRemoteStorage))
}

func TestBucketFetchDefaultExpiry(t *testing.T) {
	store := newFakeObjectStore()
	gw := newBucketGateway(t, store)

	location, err := gw.Fetch(context.Background(), &models.File{ID: 4, Name: "clip.mp4"}, FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, DefaultPresignExpiry, location.ExpiresIn)

	require.Len(t, store.presigns, 1)
	require.Equal(t, "4/clip.mp4", store.presigns[0].key)
	require.Equal(t, 60*time.Second, store.presigns[0].expires)
}

func TestBatchPresignExpiry(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{1, 5},
		{3, 15},
		{12, 60},
		{20, 60},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, BatchPresignExpiry(tt.count), "count %d", tt.count)
	}
}

func TestBucketFetchBatchScalesExpiry(t *testing.T) {
	store := newFakeObjectStore()
	gw := newBucketGateway(t, store)

	records := []*models.File{
		{ID: 1, Name: "a.txt"},
		{ID: 2, Name: "b.txt"},
		{ID: 3, Name: "c.txt"},
	}

	results := gw.FetchBatch(context.Background(), records, "")
	require.Len(t, results, 3)
	for _, result := range results {
		require.NoError(t, result.Err)
		require.Equal(t, 15, result.Location.ExpiresIn)
	}
	for _, call := range store.presigns {
		require.Equal(t, 15*time.Second, call.expires)
	}
}

func TestBucketFetchBatchReportsFailures(t *testing.T) {
	store := newFakeObjectStore()
	store.presignErr = errors.New("presign refused")
	gw := newBucketGateway(t, store)

	records := []*models.File{
		{ID: 1, Name: "a.txt"},
		{ID: 2, Name: "b.txt"},
	}

	results := gw.FetchBatch(context.Background(), records, "")
	require.Len(t, results, 2)
	for _, result := range results {
		require.Error(t, result.Err)
		require.Nil(t, result.Location)
	}
}

func TestBucketUpdateDeletesPrevious(t *testing.T) {
	store := newFakeObjectStore()
	gw := newBucketGateway(t, store)
	ctx := context.Background()

	require.NoError(t, gw.Store(ctx, textPayload("old.txt", "old"), 6))
	require.NoError(t, gw.Update(ctx, textPayload("new.txt", "new"), 6, "old.txt"))

	require.Equal(t, []byte("new"), store.objects["6/new.txt"])
	require.NotContains(t, store.objects, "6/old.txt")
	require.Contains(t, store.deleted, "6/old.txt")
}

func TestBucketUpdateToleratesDeleteFailure(t *testing.T) {
	store := newFakeObjectStore()
	gw := newBucketGateway(t, store)
	ctx := context.Background()

	require.NoError(t, gw.Store(ctx, textPayload("old.txt", "old"), 6))

	store.deleteErr = errors.New("delete refused")
	require.NoError(t, gw.Update(ctx, textPayload("new.txt", "new"), 6, "old.txt"))

	// The new object landed; the orphaned old object stays behind.
	require.Equal(t, []byte("new"), store.objects["6/new.txt"])
	require.Contains(t, store.objects, "6/old.txt")
}

func TestBucketRemove(t *testing.T) {
	store := newFakeObjectStore()
	gw := newBucketGateway(t, store)
	ctx := context.Background()

	require.NoError(t, gw.Store(ctx, textPayload("note.txt", "contents"), 8))
	require.NoError(t, gw.Remove(ctx, &models.File{ID: 8, Name: "note.txt"}))
	require.NotContains(t, store.objects, "8/note.txt")
}
