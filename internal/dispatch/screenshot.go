package dispatch

import (
	"encoding/base64"
	"os"
	"path/filepath"
)

func writeScreenshot(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
