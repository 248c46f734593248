package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveImageRef returns ref unchanged for s3:// and http(s):// references
// and the absolute path of a local file otherwise.
func ResolveImageRef(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("image reference is required")
	}
	for _, prefix := range []string{"s3://", "https://", "http://"} {
		if strings.HasPrefix(ref, prefix) {
			return ref, nil
		}
	}

	info, err := os.Stat(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("image not found: %s", ref)
		}
		return "", fmt.Errorf("failed to access %s: %w", ref, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", ref)
	}
	if abs, err := filepath.Abs(ref); err == nil {
		ref = abs
	}
	return ref, nil
}
