package provider

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/saas-innova/file-provider/internal/models"
)

// DataURIKind selects which data-URI pattern ExtractFromDataURI applies.
type DataURIKind string

const (
	// DataURIImage matches only data URIs with an image/* MIME type.
	DataURIImage DataURIKind = "image"
	// DataURIGeneric matches data URIs of any MIME type.
	DataURIGeneric DataURIKind = "generic"
)

var (
	// Group 1 is the MIME subtype, group 2 is the base64 payload.
	imageDataURIPattern   = regexp.MustCompile(`^data:image/([\w.+-]+);base64,(.+)$`)
	genericDataURIPattern = regexp.MustCompile(`^data:[\w-]+/([\w.+-]+);base64,(.+)$`)
)

// subtypes whose file extension differs from the subtype itself
var extensionOverrides = map[string]string{
	"jpeg":    "jpg",
	"svg+xml": "svg",
}

// ExtractFromDataURI splits a data:<mime>;base64,<payload> string into its
// payload and a dotted file extension derived from the MIME subtype.
// Input that does not match the pattern is treated as already-raw content:
// the extension comes back empty and the content is returned unchanged.
func ExtractFromDataURI(data string, kind DataURIKind) (content, extension string) {
	pattern := genericDataURIPattern
	if kind == DataURIImage {
		pattern = imageDataURIPattern
	}

	match := pattern.FindStringSubmatch(data)
	if match == nil {
		return data, ""
	}

	subtype := match[1]
	if override, ok := extensionOverrides[subtype]; ok {
		subtype = override
	}
	return match[2], "." + subtype
}

// MIMETypeFromDataURI returns the MIME subtype (the part after the slash) of
// a data URI, or false when the input is not one.
func MIMETypeFromDataURI(data string) (string, bool) {
	match := genericDataURIPattern.FindStringSubmatch(data)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// ExtractFromFilePath reads the file at path and returns it as base64
// transfer-encoded content plus the filename's extension. A missing path is
// reported as (nil, nil); callers must handle the nil case explicitly.
func ExtractFromFilePath(path string) (*models.FileContent, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStorageRead, path, err)
	}

	name := filepath.Base(path)
	return &models.FileContent{
		Content:   base64.StdEncoding.EncodeToString(data),
		Extension: filepath.Ext(name),
		Encoding:  "base64",
		FileName:  name,
	}, nil
}

// ContentTypeForExtension maps a file extension (dotted or bare, any case)
// to an HTTP content type. Unknown extensions fall back to
// application/octet-stream.
func ContentTypeForExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "xml":
		return "application/xml"
	case "png", "jpg", "jpeg", "gif":
		return "image/" + ext
	case "mp4", "avi", "mov":
		return "video/" + ext
	case "mp3", "mpga":
		return "audio/mp3"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// RandomizedName prefixes the original name with a millisecond timestamp and
// a short random infix, so two uploads of the same name within the same
// millisecond still get distinct names.
func RandomizedName(original string) string {
	return fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), uuid.NewString()[:8], original)
}
