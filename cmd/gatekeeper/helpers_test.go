package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

const testConfigTemplate = `
storage:
  backend: file
  file:
    dir: %q
telemetry:
  logging:
    level: error
patterns:
  - name: retry-loop
    detector:
      path: tool
      equals: deploy
    remediation: Read the deploy logs before retrying.
`

// useTestConfig points --config at a fresh config whose file store lives in
// a temp dir, so state persists across commands within one test.
func useTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gatekeeper.yaml")
	writeFile(t, path, fmt.Sprintf(testConfigTemplate, filepath.Join(dir, "state")))

	orig := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = orig })
	return path
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

// capture redirects cmd's output to a buffer and feeds it input.
func capture(t *testing.T, cmd *cobra.Command, input string) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(input))
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetIn(nil)
	})
	return &out
}

func deployContext(n int, extra string) string {
	entries := make([]string, n)
	for i := range entries {
		entries[i] = `{"tool":"deploy"}`
	}
	return fmt.Sprintf(`{"recent_window":[%s]%s}`, strings.Join(entries, ","), extra)
}
