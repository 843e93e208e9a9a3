package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`data_directory: %s
log_level: warning
services:
  - id: grafana
    name: Grafana
    url: %s
    check_health: true
`, filepath.Join(dir, "data"), srv.URL)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	out := new(bytes.Buffer)
	root := RootCmd()
	root.SetOut(out)
	root.SetArgs([]string{"check", "--config", cfgPath})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "grafana")
	assert.Contains(t, out.String(), "online")
	assert.Contains(t, out.String(), "1 checked, 0 skipped")
}

func TestCheckCommand_BadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("health: [not a map"), 0o644))

	root := RootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"check", "--config", cfgPath})
	assert.Error(t, root.Execute())
}
