package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/config"
)

func TestHasFilesystemSourceTrueWhenAnySourceIsFilesystem(t *testing.T) {
	cfg := config.RegistryConfig{Sources: []config.RegistrySourceConfig{
		{Name: "repo-a", Type: "http"},
		{Name: "repo-b", Type: "filesystem"},
	}}
	require.True(t, hasFilesystemSource(cfg))
}

func TestHasFilesystemSourceFalseWhenNoSources(t *testing.T) {
	require.False(t, hasFilesystemSource(config.RegistryConfig{}))
}

func TestHasFilesystemSourceFalseWhenOnlyHTTPSources(t *testing.T) {
	cfg := config.RegistryConfig{Sources: []config.RegistrySourceConfig{{Name: "repo-a", Type: "http"}}}
	require.False(t, hasFilesystemSource(cfg))
}

func TestWorkerBinaryPathFallsBackToBareNameWhenNoSiblingBinary(t *testing.T) {
	// The test binary has no "jobworker" executable next to it, so this
	// exercises the $PATH-lookup fallback branch.
	path, err := workerBinaryPath()
	require.NoError(t, err)
	require.True(t, path == "jobworker" || strings.HasSuffix(path, "/jobworker"))
}
