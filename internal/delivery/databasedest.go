package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/northcloud/jobforge/internal/domain"
)

// DatabaseSender writes an Execution's output into a user-configured table,
// per §4.3.1 #3. Destination connection strings are arbitrary and
// user-supplied, so each is pooled independently and cached by connection
// string, mirroring crawler/internal/database/postgres.go's pool-tuning
// approach but applied per-destination rather than to the server's own
// database.
type DatabaseSender struct {
	mu    sync.Mutex
	pools map[string]*sqlx.DB
}

func NewDatabaseSender() *DatabaseSender {
	return &DatabaseSender{pools: make(map[string]*sqlx.DB)}
}

func (s *DatabaseSender) Send(ctx context.Context, env Envelope, dest domain.Destination, tmplCtx Context) Attempt {
	cfg := dest.Database
	if cfg == nil {
		return failAttempt(domain.KindConfigError, "database destination missing its config", false)
	}

	db, err := s.pool(cfg)
	if err != nil {
		return failAttempt(domain.KindConfigError, err.Error(), false)
	}

	output := make(map[string]interface{})
	if len(env.Output) > 0 {
		_ = json.Unmarshal(env.Output, &output)
	}

	columns := make([]string, 0, len(cfg.ColumnMappings))
	placeholders := make([]string, 0, len(cfg.ColumnMappings))
	args := make([]interface{}, 0, len(cfg.ColumnMappings))
	i := 1
	for jsonPath, column := range cfg.ColumnMappings {
		columns = append(columns, column)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		args = append(args, lookupPath(output, jsonPath))
		i++
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		cfg.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return failAttempt(domain.KindTransportError, "insert output row: "+err.Error(), true)
	}
	return Attempt{Success: true, SizeBytes: int64(len(env.Output))}
}

func (s *DatabaseSender) pool(cfg *domain.DatabaseDestConfig) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.pools[cfg.ConnectionString]; ok {
		return db, nil
	}
	db, err := sqlx.Connect("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("connect destination database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	s.pools[cfg.ConnectionString] = db
	return db, nil
}

// lookupPath resolves a dotted JSON path (e.g. "result.total") against a
// decoded output map; an absent path yields nil, inserted as SQL NULL.
func lookupPath(doc map[string]interface{}, path string) interface{} {
	parts := strings.Split(path, ".")
	var cur interface{} = doc
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}
