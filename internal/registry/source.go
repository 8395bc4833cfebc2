// Package registry implements the Repository Syncer and Filesystem Watcher
// (§4.5): it keeps the Task table's registry_source rows consistent with
// content enumerated from configured repositories.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/northcloud/jobforge/internal/config"
	"github.com/northcloud/jobforge/internal/domain"
)

// TaskDefinition is one task as enumerated from a repository, prior to being
// reconciled against the Task table.
type TaskDefinition struct {
	Path         string `json:"-"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Version      string `json:"version"`
	ScriptSource string `json:"script_source"`
	InputSchema  domain.JSONDoc `json:"input_schema"`
	OutputSchema domain.JSONDoc `json:"output_schema"`
	Metadata     domain.JSONDoc `json:"metadata"`
	Enabled      *bool          `json:"enabled"`
	ContentHash  string         `json:"-"`
}

// taskDefinitionExt is the on-disk file suffix a repository source looks for.
const taskDefinitionExt = ".task.json"

// Source enumerates the TaskDefinitions currently present in one repository.
// Each concrete Source is a tagged variant of RegistrySourceConfig.Type
// (§9's "trait objects → tagged variants" re-architecture note).
type Source interface {
	// List returns every task definition currently present, with Path set
	// to a stable per-repository identifier (used as registry_path).
	List(ctx context.Context) ([]TaskDefinition, error)
}

// NewSource builds the concrete Source for one configured repository.
func NewSource(cfg config.RegistrySourceConfig) (Source, error) {
	switch cfg.Type {
	case "filesystem":
		return &FilesystemSource{root: cfg.URI}, nil
	case "git":
		return &GitSource{repoURL: cfg.URI, name: cfg.Name}, nil
	case "http":
		return NewHTTPSource(cfg.URI), nil
	default:
		return nil, fmt.Errorf("registry: unknown source type %q", cfg.Type)
	}
}

// FilesystemSource walks a directory tree for `*.task.json` files.
type FilesystemSource struct {
	root string
}

func (s *FilesystemSource) List(_ context.Context) ([]TaskDefinition, error) {
	return walkTaskDefinitions(s.root)
}

// GitSource shallow-clones (or pulls, if already cloned) repoURL into a
// per-source work directory under the OS temp dir, then delegates to a
// FilesystemSource over the checkout. No git client library is present in
// the retrieved pack, so the `git` CLI is wrapped via os/exec the same way
// the spec's worker processes are wrapped (§6.2) — named, not grounded; see
// DESIGN.md.
type GitSource struct {
	repoURL string
	name    string
}

func (s *GitSource) workDir() string {
	return filepath.Join(os.TempDir(), "jobforge-registry", sanitizeDirName(s.name))
}

func (s *GitSource) List(ctx context.Context) ([]TaskDefinition, error) {
	dir := s.workDir()
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		if err := s.run(ctx, dir, "pull", "--ff-only"); err != nil {
			return nil, fmt.Errorf("registry: git pull %s: %w", s.repoURL, err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return nil, fmt.Errorf("registry: prepare git work dir: %w", err)
		}
		if err := s.run(ctx, filepath.Dir(dir), "clone", "--depth", "1", s.repoURL, dir); err != nil {
			return nil, fmt.Errorf("registry: git clone %s: %w", s.repoURL, err)
		}
	}
	return walkTaskDefinitions(dir)
}

func (s *GitSource) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func sanitizeDirName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// walkTaskDefinitions scans root for `*.task.json` files and decodes each.
// Returned definitions are sorted by Path for deterministic diffing.
func walkTaskDefinitions(root string) ([]TaskDefinition, error) {
	var defs []TaskDefinition
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, taskDefinitionExt) {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var def TaskDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		def.Path = filepath.ToSlash(rel)
		def.ContentHash = contentHash(raw)
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs, nil
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
