package autotune

import (
	"os"
	"path/filepath"
	"testing"
)

func writeGarbage(t *testing.T, dir, pattern string) {
	t.Helper()
	path := filepath.Join(dir, "states", pattern+".json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}
