// Package imagesource loads scan photos from S3, HTTP(S), the local
// filesystem or inline base64, and reads the camera metadata recorded on a
// session.
package imagesource

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// MaxImageBytes is the largest photo accepted for a scan.
const MaxImageBytes = 20 << 20

// ErrInvalidImage is returned for empty, oversized or non-image input.
var ErrInvalidImage = errors.New("invalid image")

// SupportedImageExtensions maps file extensions to MIME types.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// Image is a loaded scan photo.
type Image struct {
	Data     []byte
	MIMEType string
	// Source describes where the bytes came from (s3 URI, URL, path).
	Source string
}

// Hash returns the hex sha256 of the image bytes. Identical bytes always
// produce the same hash.
func (img Image) Hash() string {
	sum := sha256.Sum256(img.Data)
	return hex.EncodeToString(sum[:])
}

// detectMIME prefers content sniffing and falls back to the file extension
// for formats net/http does not recognize (HEIC).
func detectMIME(data []byte, name string) string {
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if m, ok := SupportedImageExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		return m
	}
	return sniffed
}

// newImage validates data and wraps it in an Image.
func newImage(data []byte, name, source string) (Image, error) {
	if len(data) == 0 {
		return Image{}, errorf("%s: empty", source)
	}
	if len(data) > MaxImageBytes {
		return Image{}, errorf("%s: %d bytes exceeds limit of %d", source, len(data), MaxImageBytes)
	}
	mimeType := detectMIME(data, name)
	if !strings.HasPrefix(mimeType, "image/") {
		return Image{}, errorf("%s: unsupported content type %s", source, mimeType)
	}
	return Image{Data: data, MIMEType: mimeType, Source: source}, nil
}

// Capture reads camera make, model and capture time from the image's EXIF
// block. It returns nil when the image carries no usable metadata.
func Capture(img Image) map[string]string {
	exifData, err := imagemeta.Decode(bytes.NewReader(img.Data))
	if err != nil {
		log.Debug().Err(err).Str("source", img.Source).Msg("No EXIF metadata in scan image")
		return nil
	}

	out := make(map[string]string)
	if v := strings.TrimSpace(exifData.Make); v != "" {
		out["cameraMake"] = v
	}
	if v := strings.TrimSpace(exifData.Model); v != "" {
		out["cameraModel"] = v
	}
	// Priority: DateTimeOriginal > CreateDate
	if t := exifData.DateTimeOriginal(); !t.IsZero() {
		out["dateTaken"] = t.Format(time.RFC3339)
	} else if t := exifData.CreateDate(); !t.IsZero() {
		out["dateTaken"] = t.Format(time.RFC3339)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Describe formats capture metadata as a one-line prompt hint.
func Describe(capture map[string]string) string {
	var parts []string
	if m := strings.TrimSpace(capture["cameraMake"] + " " + capture["cameraModel"]); m != "" {
		parts = append(parts, "taken with "+m)
	}
	if d := capture["dateTaken"]; d != "" {
		parts = append(parts, "on "+d)
	}
	return strings.Join(parts, " ")
}
