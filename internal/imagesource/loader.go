package imagesource

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3API is the subset of the S3 client used by Loader.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader fetches scan images. Bucket is used for bare S3 keys.
type Loader struct {
	s3     S3API
	bucket string
	http   *http.Client
}

// NewLoader creates a Loader. s3Client may be nil when only local files,
// URLs and inline data are used.
func NewLoader(s3Client S3API, bucket string) *Loader {
	return &Loader{
		s3:     s3Client,
		bucket: bucket,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidImage, fmt.Sprintf(format, args...))
}

// Load dispatches on the reference form: s3://bucket/key, http(s)://...,
// or a local file path.
func (l *Loader) Load(ctx context.Context, ref string) (Image, error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return Image{}, errorf("malformed S3 URI %q", ref)
		}
		return l.FromS3(ctx, bucket, key)
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"):
		return l.FromURL(ctx, ref)
	default:
		return l.FromFile(ref)
	}
}

// FromS3Key loads key from the configured bucket.
func (l *Loader) FromS3Key(ctx context.Context, key string) (Image, error) {
	if l.bucket == "" {
		return Image{}, fmt.Errorf("load %s: image bucket not configured", key)
	}
	return l.FromS3(ctx, l.bucket, key)
}

// FromS3 downloads an object into memory.
func (l *Loader) FromS3(ctx context.Context, bucket, key string) (Image, error) {
	if l.s3 == nil {
		return Image{}, fmt.Errorf("load s3://%s/%s: S3 client not configured", bucket, key)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading scan image from S3")

	result, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return Image{}, fmt.Errorf("S3 GetObject s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	data, err := readLimited(result.Body)
	if err != nil {
		return Image{}, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return newImage(data, key, "s3://"+bucket+"/"+key)
}

// FromURL fetches an image over HTTP(S).
func (l *Loader) FromURL(ctx context.Context, url string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Image{}, errorf("bad URL %q: %v", url, err)
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	data, err := readLimited(resp.Body)
	if err != nil {
		return Image{}, fmt.Errorf("read %s: %w", url, err)
	}
	return newImage(data, path.Base(req.URL.Path), url)
}

// FromFile reads a local image.
func (l *Loader) FromFile(filePath string) (Image, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return Image{}, fmt.Errorf("failed to stat %s: %w", filePath, err)
	}
	if info.Size() > MaxImageBytes {
		return Image{}, errorf("%s: %d bytes exceeds limit of %d", filePath, info.Size(), MaxImageBytes)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return newImage(data, filePath, filePath)
}

// FromBase64 decodes inline image data. A data: URL prefix is accepted.
func FromBase64(encoded string) (Image, error) {
	if i := strings.Index(encoded, ";base64,"); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Image{}, errorf("bad base64: %v", err)
	}
	return newImage(data, "", "inline")
}

// FromBytes wraps raw bytes already in memory.
func FromBytes(data []byte, name string) (Image, error) {
	return newImage(data, name, "bytes:"+name)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, err
	}
	return data, nil
}
