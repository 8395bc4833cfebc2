package delivery

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/northcloud/jobforge/internal/domain"
)

// FilesystemSender writes an Execution's output to a local path, per
// §4.3.1 #2.
type FilesystemSender struct{}

func NewFilesystemSender() *FilesystemSender { return &FilesystemSender{} }

func (FilesystemSender) Send(ctx context.Context, env Envelope, dest domain.Destination, tmplCtx Context) Attempt {
	cfg := dest.Filesystem
	if cfg == nil {
		return failAttempt(domain.KindConfigError, "filesystem destination missing its config", false)
	}

	path, err := Render(cfg.PathTemplate, tmplCtx)
	if err != nil {
		return failAttempt(domain.KindConfigError, err.Error(), false)
	}

	body, err := renderBody(env, cfg, tmplCtx)
	if err != nil {
		return failAttempt(domain.KindInternalError, err.Error(), false)
	}

	if cfg.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return failAttempt(domain.KindInternalError, "create directories: "+err.Error(), true)
		}
	}

	if _, err := os.Stat(path); err == nil {
		if !cfg.Overwrite {
			return failAttempt(domain.KindConflict, "path exists and overwrite is false: "+path, false)
		}
		if cfg.BackupExisting {
			if err := os.Rename(path, path+".bak"); err != nil {
				return failAttempt(domain.KindInternalError, "backup existing file: "+err.Error(), true)
			}
		}
	}

	perm := os.FileMode(cfg.Permissions)
	if perm == 0 {
		perm = 0o644
	}
	if err := os.WriteFile(path, body, perm); err != nil {
		return failAttempt(domain.KindTransportError, "write file: "+err.Error(), true)
	}

	return Attempt{Success: true, SizeBytes: int64(len(body))}
}

func renderBody(env Envelope, cfg *domain.FilesystemConfig, tmplCtx Context) ([]byte, error) {
	switch cfg.Format {
	case domain.FormatJSON:
		return json.MarshalIndent(env, "", "  ")
	case domain.FormatJSONCompact:
		return json.Marshal(env)
	case domain.FormatYAML:
		return yaml.Marshal(env)
	case domain.FormatCSV:
		return envelopeToCSV(env)
	case domain.FormatRaw:
		return []byte(env.Output), nil
	case domain.FormatTemplate:
		rendered, err := Render(cfg.BodyTemplate, tmplCtx.WithVariables(map[string]string{
			"output": string(env.Output),
		}))
		return []byte(rendered), err
	default:
		return nil, fmt.Errorf("delivery: unknown filesystem format %q", cfg.Format)
	}
}

// envelopeToCSV emits a single header/row pair of the envelope's flat
// fields; Output is embedded as a raw JSON string column since it may be
// arbitrarily nested.
func envelopeToCSV(env Envelope) ([]byte, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	header := []string{"job_id", "task_id", "execution_id", "task_name", "task_version", "output"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	row := []string{
		fmt.Sprint(env.JobID), fmt.Sprint(env.TaskID), fmt.Sprint(env.ExecutionID),
		env.TaskName, env.TaskVersion, string(env.Output),
	}
	if err := w.Write(row); err != nil {
		return nil, err
	}
	w.Flush()
	return []byte(buf.String()), w.Error()
}
