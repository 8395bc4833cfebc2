package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/config"
)

func writeTaskDefinition(t *testing.T, dir, relPath, body string) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
}

func TestFilesystemSourceListsTaskDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeTaskDefinition(t, dir, "greet.task.json", `{"name":"greet","version":"1.0.0","script_source":"function handle(i){return i}"}`)
	writeTaskDefinition(t, dir, "nested/farewell.task.json", `{"name":"farewell","version":"1.0.0","script_source":"function handle(i){return i}"}`)
	writeTaskDefinition(t, dir, "README.md", "not a task definition")

	src := &FilesystemSource{root: dir}
	defs, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, "greet.task.json", defs[0].Path)
	require.Equal(t, "nested/farewell.task.json", defs[1].Path)
	require.NotEmpty(t, defs[0].ContentHash)
	require.NotEmpty(t, defs[1].ContentHash)
}

func TestFilesystemSourceContentHashIsStableForIdenticalContent(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	body := `{"name":"greet","version":"1.0.0","script_source":"function handle(i){return i}"}`
	writeTaskDefinition(t, dirA, "greet.task.json", body)
	writeTaskDefinition(t, dirB, "greet.task.json", body)

	defsA, err := (&FilesystemSource{root: dirA}).List(context.Background())
	require.NoError(t, err)
	defsB, err := (&FilesystemSource{root: dirB}).List(context.Background())
	require.NoError(t, err)

	require.Equal(t, defsA[0].ContentHash, defsB[0].ContentHash)
}

func TestFilesystemSourceRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	writeTaskDefinition(t, dir, "broken.task.json", `{not valid json`)

	_, err := (&FilesystemSource{root: dir}).List(context.Background())
	require.Error(t, err)
}

func TestFilesystemSourceEmptyDirectoryReturnsNoDefinitions(t *testing.T) {
	dir := t.TempDir()
	defs, err := (&FilesystemSource{root: dir}).List(context.Background())
	require.NoError(t, err)
	require.Empty(t, defs)
}

func TestNewSourceUnknownTypeErrors(t *testing.T) {
	_, err := NewSource(config.RegistrySourceConfig{Type: "ftp"})
	require.Error(t, err)
}

func TestNewSourceFilesystemAndHTTP(t *testing.T) {
	fsSrc, err := NewSource(config.RegistrySourceConfig{Type: "filesystem", URI: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &FilesystemSource{}, fsSrc)

	httpSrc, err := NewSource(config.RegistrySourceConfig{Type: "http", URI: "https://example.com/registry"})
	require.NoError(t, err)
	require.NotNil(t, httpSrc)
}

func TestSanitizeDirName(t *testing.T) {
	require.Equal(t, "a_b_c-1_2", sanitizeDirName("a/b c-1.2"))
}
