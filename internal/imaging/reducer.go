// Package imaging shrinks images below a size budget by iterative lossy
// re-encoding.
package imaging

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/saas-innova/file-provider/internal/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("file-provider-imaging")

const (
	startQuality = 100
	qualityStep  = 2
)

// Reducer re-encodes images as JPEG at decreasing quality until the encoded
// file fits a kilobyte budget.
type Reducer struct{}

// NewReducer creates a Reducer.
func NewReducer() *Reducer {
	return &Reducer{}
}

// Reduce shrinks the image at path below targetKB kilobytes. If the file
// already fits the budget its own path is returned and nothing is written.
// Otherwise the image is decoded once and re-encoded as JPEG at quality 100,
// 98, 96, ... to a sibling path (basename truncated at its first dot, .jpg
// appended), measuring the written file each round, until the budget is met
// or quality runs out. Exhausting quality without meeting the budget is not
// an error; the smallest encoding achieved is left in place and its path
// returned.
func (r *Reducer) Reduce(ctx context.Context, path string, targetKB int) (string, error) {
	_, span := tracer.Start(ctx, "imaging.reduce",
		trace.WithAttributes(
			attribute.String("path", path),
			attribute.Int("target_kb", targetKB),
		),
	)
	defer span.End()

	budget := int64(targetKB) * 1024

	info, err := os.Stat(path)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: stat %s: %w", provider.ErrImageProcessing, path, err)
	}
	if info.Size() <= budget {
		span.SetAttributes(attribute.Bool("already_within_budget", true))
		return path, nil
	}

	img, err := decodeImage(path)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: decoding %s: %w", provider.ErrImageProcessing, path, err)
	}

	outPath := jpegSiblingPath(path)
	quality := startQuality
	var size int64
	for {
		if err := encodeJPEG(img, outPath, quality); err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("%w: encoding at quality %d: %w", provider.ErrImageProcessing, quality, err)
		}
		written, err := os.Stat(outPath)
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("%w: stat %s: %w", provider.ErrImageProcessing, outPath, err)
		}
		size = written.Size()
		if size <= budget || quality <= 0 {
			break
		}
		quality -= qualityStep
	}

	span.SetAttributes(
		attribute.Int("final_quality", quality),
		attribute.Int64("final_size_bytes", size),
		attribute.Bool("budget_met", size <= budget),
	)
	return outPath, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

func encodeJPEG(img image.Image, path string, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// jpegSiblingPath truncates the basename at its first dot and appends .jpg,
// keeping the directory.
func jpegSiblingPath(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return filepath.Join(dir, base+".jpg")
}
