package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connkeeper/internal/config"
	"connkeeper/internal/storage"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)

	buf.Reset()
	newLogger(&buf, "bogus", "text").Info("fallback")
	assert.Contains(t, buf.String(), "msg=fallback")
}

func TestCacheGetCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "data_directory: "+dir+"\ncache:\n  backend: file\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	backend, err := openBackend(cfg)
	require.NoError(t, err)
	cache := storage.NewCache(backend, nil, nil)
	require.True(t, cache.Write("app-state", map[string]int{"a": 1}))
	require.NoError(t, cache.Close())

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "cache", "get", "app-state"})
	require.NoError(t, root.Execute())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	assert.Equal(t, "app-state", entry["key"])

	root = newRootCommand()
	root.SetArgs([]string{"--config", path, "cache", "get", "missing"})
	require.Error(t, root.Execute())
}

func TestProbeCommand_ExitsWithErrorWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	path := writeConfig(t, "server_url: "+srv.URL+"\nprobe:\n  internet_target: \"\"\n  timeout_seconds: 2\n")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "probe"})
	err := root.Execute()

	require.Error(t, err)
	assert.True(t, strings.Contains(out.String(), `"ok": false`))
}
