package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/pagekeeper/internal/persistence"
	"github.com/agentworkforce/pagekeeper/internal/registry"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "pagekeeper", cmd.Use)
	assert.Contains(t, cmd.Long, "remote page store")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"serve"},
		{"pages", "list"},
		{"pages", "show"},
		{"pages", "create"},
		{"pages", "rename"},
		{"pages", "save"},
	} {
		name := strings.Join(path, " ")
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err, "command %s should exist", name)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("remote-url"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestCreateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	create, _, err := cmd.Find([]string{"pages", "create"})
	require.NoError(t, err)

	base := create.Flags().Lookup("base")
	require.NotNil(t, base)
	assert.Equal(t, "Page", base.DefValue)
	require.NotNil(t, create.Flags().Lookup("template"))
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "pages", "list", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestOfflineCreateListSave(t *testing.T) {
	cfgPath, downloads := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "--format", "json", "pages", "create")
	require.NoError(t, err)
	var created registry.Page
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "Page 1", created.Name)
	assert.Equal(t, "page-1.json", created.StorageKey)

	out, err = execute(t, "--config", cfgPath, "--format", "json", "pages", "list")
	require.NoError(t, err)
	var listed []registry.Page
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	out, err = execute(t, "--config", cfgPath, "--format", "json", "pages", "create")
	require.NoError(t, err)
	var second registry.Page
	require.NoError(t, json.Unmarshal([]byte(out), &second))
	assert.Equal(t, "Page 2", second.Name)

	docPath := filepath.Join(t.TempDir(), "page.json")
	require.NoError(t, os.WriteFile(docPath, []byte(`{"content":[{"type":"Heading","props":{"text":"Welcome"}}],"root":{"props":{"title":"Page 1"}}}`), 0o644))
	out, err = execute(t, "--config", cfgPath, "--format", "json", "pages", "save", docPath, "--page", created.ID)
	require.NoError(t, err)
	var result persistence.SaveResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Cached)
	assert.False(t, result.RemoteSaved)
	assert.True(t, result.Downloaded)
	assert.Equal(t, filepath.Join(downloads, "page-1.json"), result.DownloadPath)
	assert.FileExists(t, result.DownloadPath)
}

func TestTextListing(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := execute(t, "--config", cfgPath, "pages", "create", "--template", "schedule")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "pages", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "STORAGE KEY")
	assert.Contains(t, out, "Schedule 1")
}

func TestUnknownTemplate(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := execute(t, "--config", cfgPath, "pages", "create", "--template", "gallery")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// writeConfig points the cache and downloads at a temp dir and clears the
// environment overrides that would leak in from the caller's shell.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	for _, name := range []string{
		"PAGEKEEPER_REMOTE_URL",
		"PAGEKEEPER_CACHE_DSN",
		"PAGEKEEPER_DOWNLOAD_DIR",
		"PAGEKEEPER_EVENT_FILE",
	} {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	downloads := filepath.Join(dir, "downloads")
	cfg := strings.Join([]string{
		"cache:",
		"  dsn: " + filepath.Join(dir, "cache"),
		"downloads:",
		"  dir: " + downloads,
		"log:",
		"  level: error",
	}, "\n") + "\n"
	path := filepath.Join(dir, "pagekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, downloads
}
