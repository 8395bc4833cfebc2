package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/northcloud/jobforge/internal/domain"
)

// TaskRepository handles CRUD for the Task entity (§3).
type TaskRepository struct {
	db *sqlx.DB
}

func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, uuid, version, name, description, script_source,
	input_schema, output_schema, metadata, enabled, registry_source,
	content_hash, registry_repository, registry_path, retry_policy,
	created_at, updated_at`

func (r *TaskRepository) Create(ctx context.Context, t *domain.Task) error {
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	query := `
		INSERT INTO tasks (uuid, version, name, description, script_source,
			input_schema, output_schema, metadata, enabled, registry_source,
			content_hash, registry_repository, registry_path, retry_policy)
		VALUES (:uuid, :version, :name, :description, :script_source,
			:input_schema, :output_schema, :metadata, :enabled, :registry_source,
			:content_hash, :registry_repository, :registry_path, :retry_policy)
		RETURNING id, created_at, updated_at`

	rows, err := r.db.NamedQueryContext(ctx, query, t)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return fmt.Errorf("scan created task: %w", err)
		}
	}
	return nil
}

func (r *TaskRepository) GetByUUID(ctx context.Context, id string) (*domain.Task, error) {
	var t domain.Task
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE uuid = $1`
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "task not found: "+id, err)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*domain.Task, error) {
	var t domain.Task
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, fmt.Sprintf("task not found: %d", id), err)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

func (r *TaskRepository) Update(ctx context.Context, t *domain.Task) error {
	query := `
		UPDATE tasks SET
			version = :version, name = :name, description = :description,
			script_source = :script_source, input_schema = :input_schema,
			output_schema = :output_schema, metadata = :metadata,
			enabled = :enabled, registry_source = :registry_source,
			content_hash = :content_hash, registry_repository = :registry_repository,
			registry_path = :registry_path, retry_policy = :retry_policy, updated_at = now()
		WHERE uuid = :uuid`
	result, err := r.db.NamedExecContext(ctx, query, t)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewError(domain.KindNotFound, "task not found: "+t.UUID, nil)
	}
	return nil
}

// Delete removes a task. A second Delete on the same UUID returns NotFound,
// matching §8's round-trip property (create → get → delete → get = NotFound).
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewError(domain.KindNotFound, "task not found: "+id, nil)
	}
	return nil
}

// TaskFilter narrows List (§6.1: "filters (enabled, name_contains, source_type)").
// 1-based pagination follows spec.md's Open Question resolution (DESIGN.md).
type TaskFilter struct {
	Enabled      *bool
	NameContains string
	SourceType   string // "registry" | "manual" | ""
}

// List returns tasks matching filter, 1-based page/pageSize, with
// deterministic id-ascending order for stable pagination.
func (r *TaskRepository) List(ctx context.Context, filter TaskFilter, page, pageSize int) ([]*domain.Task, error) {
	if page < 1 {
		page = 1
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		query += fmt.Sprintf(" AND enabled = $%d", len(args))
	}
	if filter.NameContains != "" {
		args = append(args, "%"+filter.NameContains+"%")
		query += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}
	switch filter.SourceType {
	case "registry":
		query += " AND registry_source = true"
	case "manual":
		query += " AND registry_source = false"
	}
	args = append(args, pageSize, (page-1)*pageSize)
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var tasks []*domain.Task
	if err := r.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListByRepository returns every registry-sourced task currently tracked for
// repository, keyed by registry_path — the Syncer's diff base (§4.5.1).
func (r *TaskRepository) ListByRepository(ctx context.Context, repository string) ([]*domain.Task, error) {
	var tasks []*domain.Task
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE registry_source = true AND registry_repository = $1`
	if err := r.db.SelectContext(ctx, &tasks, query, repository); err != nil {
		return nil, fmt.Errorf("list tasks by repository: %w", err)
	}
	return tasks, nil
}

// UpsertFromRegistry inserts or updates a registry-sourced Task keyed by
// (registry_repository, registry_path), never touching manually-created
// tasks (§4.5.1: "manual user-created tasks are untouched").
func (r *TaskRepository) UpsertFromRegistry(ctx context.Context, t *domain.Task) error {
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	t.RegistrySource = true
	query := `
		INSERT INTO tasks (uuid, version, name, description, script_source,
			input_schema, output_schema, metadata, enabled, registry_source,
			content_hash, registry_repository, registry_path)
		VALUES (:uuid, :version, :name, :description, :script_source,
			:input_schema, :output_schema, :metadata, :enabled, true,
			:content_hash, :registry_repository, :registry_path)
		ON CONFLICT (registry_repository, registry_path) WHERE registry_source
			DO UPDATE SET
				version = EXCLUDED.version, name = EXCLUDED.name,
				description = EXCLUDED.description, script_source = EXCLUDED.script_source,
				input_schema = EXCLUDED.input_schema, output_schema = EXCLUDED.output_schema,
				metadata = EXCLUDED.metadata, enabled = EXCLUDED.enabled,
				content_hash = EXCLUDED.content_hash, updated_at = now()
		RETURNING id, uuid, created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, query, t)
	if err != nil {
		return fmt.Errorf("upsert registry task: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&t.ID, &t.UUID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return fmt.Errorf("scan upserted registry task: %w", err)
		}
	}
	return nil
}

// DeleteByRepositoryPathNotIn removes registry-sourced tasks for repository
// whose registry_path is no longer present, implementing §4.5.1's "removed"
// side of the diff.
func (r *TaskRepository) DeleteByRepositoryPathNotIn(ctx context.Context, repository string, keepPaths []string) (int64, error) {
	if len(keepPaths) == 0 {
		result, err := r.db.ExecContext(ctx,
			`DELETE FROM tasks WHERE registry_source = true AND registry_repository = $1`, repository)
		if err != nil {
			return 0, fmt.Errorf("delete all registry tasks: %w", err)
		}
		return result.RowsAffected()
	}
	query, args, err := sqlx.In(
		`DELETE FROM tasks WHERE registry_source = true AND registry_repository = ? AND registry_path NOT IN (?)`,
		repository, keepPaths)
	if err != nil {
		return 0, fmt.Errorf("build delete-stale query: %w", err)
	}
	query = r.db.Rebind(query)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete stale registry tasks: %w", err)
	}
	return result.RowsAffected()
}
