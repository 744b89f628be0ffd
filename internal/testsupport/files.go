package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// pngSignature is enough for content sniffing to report image/png.
const pngSignature = "\x89PNG\r\n\x1a\n"

// WriteImage writes a small PNG-signed file named name under dir and returns
// its path.
func WriteImage(t testing.TB, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(pngSignature+name), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
