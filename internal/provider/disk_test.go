package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saas-innova/file-provider/internal/models"
	"github.com/stretchr/testify/require"
)

func newDiskGateway(t *testing.T) *Gateway {
	t.Helper()
	root := t.TempDir()
	return NewGateway(NewDiskBackend(filepath.Join(root, "files")), filepath.Join(root, "temp"))
}

func textPayload(name, text string) *models.UploadPayload {
	return &models.UploadPayload{
		FileName: name,
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString([]byte(text)),
	}
}

func TestDiskStoreResolvesBasename(t *testing.T) {
	gw := newDiskGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.Store(ctx, textPayload("report.pdf", "contents"), 7))

	path, ok := gw.ResolveLocalPath(7)
	require.True(t, ok)
	require.Equal(t, "report.pdf", filepath.Base(path))
}

func TestDiskStoreRejectsMissingExtension(t *testing.T) {
	gw := newDiskGateway(t)

	err := gw.Store(context.Background(), textPayload("noextension", "contents"), 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRequestRejected))
}

func TestDiskStoreRollsBackOnWriteFailure(t *testing.T) {
	gw := newDiskGateway(t)
	disk := gw.backend.(*DiskBackend)

	// A name with a path separator points at a directory that was never
	// created, so the write fails after the id directory exists.
	err := gw.Store(context.Background(), textPayload("missing/report.pdf", "contents"), 3)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStorageWrite))

	_, statErr := os.Stat(disk.fileDir(3))
	require.True(t, os.IsNotExist(statErr))
}

func TestDiskRoundTrip(t *testing.T) {
	gw := newDiskGateway(t)
	ctx := context.Background()

	original := "the quick brown fox"
	require.NoError(t, gw.Store(ctx, textPayload("note.txt", original), 11))

	content, err := gw.FetchDetails(ctx, &models.File{ID: 11, Name: "note.txt"})
	require.NoError(t, err)
	require.NotNil(t, content)
	require.Equal(t, ".txt", content.Extension)
	require.Equal(t, "base64", content.Encoding)
	require.Equal(t, "note.txt", content.FileName)

	decoded, err := base64.StdEncoding.DecodeString(content.Content)
	require.NoError(t, err)
	require.Equal(t, []byte(original), decoded)
}

func TestDiskFetchDetailsMissing(t *testing.T) {
	gw := newDiskGateway(t)

	content, err := gw.FetchDetails(context.Background(), &models.File{ID: 999, Name: "ghost.txt"})
	require.NoError(t, err)
	require.Nil(t, content)
}

func TestDiskFetchReturnsStableURL(t *testing.T) {
	gw := newDiskGateway(t)

	location, err := gw.Fetch(context.Background(), &models.File{ID: 42, Name: "report.pdf"},
		FetchOptions{HostURL: "http://files.test"})
	require.NoError(t, err)
	require.Equal(t, "http://files.test/file/42", location.URL)
	require.Equal(t, 0, location.ExpiresIn)
}

func TestDiskRemoveIdempotent(t *testing.T) {
	gw := newDiskGateway(t)
	ctx := context.Background()
	record := &models.File{ID: 5, Name: "note.txt"}

	require.NoError(t, gw.Store(ctx, textPayload("note.txt", "contents"), 5))
	require.NoError(t, gw.Remove(ctx, record))
	require.NoError(t, gw.Remove(ctx, record))

	_, ok := gw.ResolveLocalPath(5)
	require.False(t, ok)
}

func TestDiskUpdateLeavesExactlyNewFile(t *testing.T) {
	gw := newDiskGateway(t)
	disk := gw.backend.(*DiskBackend)
	ctx := context.Background()

	require.NoError(t, gw.Store(ctx, textPayload("old.txt", "old contents"), 9))
	require.NoError(t, gw.Update(ctx, textPayload("new.txt", "new contents"), 9, "old.txt"))

	entries, err := os.ReadDir(disk.fileDir(9))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "new.txt", entries[0].Name())

	content, err := gw.FetchDetails(ctx, &models.File{ID: 9, Name: "new.txt"})
	require.NoError(t, err)
	require.NotNil(t, content)
	decoded, err := base64.StdEncoding.DecodeString(content.Content)
	require.NoError(t, err)
	require.Equal(t, []byte("new contents"), decoded)
}

func TestResolveLocalPathMissing(t *testing.T) {
	gw := newDiskGateway(t)

	_, ok := gw.ResolveLocalPath(12345)
	require.False(t, ok)
}

func TestPurgeStaleTemp(t *testing.T) {
	gw := newDiskGateway(t)

	stale := filepath.Join(gw.TempDir(), "stale.bin")
	fresh := filepath.Join(gw.TempDir(), "fresh.bin")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o644))

	past := time.Now().Add(-10 * time.Minute)
	require.NoError(t, os.Chtimes(stale, past, past))

	gw.PurgeStaleTemp(context.Background(), 5*time.Minute)

	_, err := os.Stat(stale)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	require.NoError(t, err)
}
