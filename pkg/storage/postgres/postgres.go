// Package postgres provides a PostgreSQL implementation of storage.ProjectStore.
// It uses pgx/v5 for connection pooling and JSONB for file sets.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/storage"
)

// Store is a PostgreSQL-backed ProjectStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.ProjectStore at compile time.
var _ storage.ProjectStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	if poolCfg.ConnConfig.ConnectTimeout == 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

const projectColumns = `id, tenant_id, name, description, runtime, files, created_at, updated_at`

// CreateProject inserts a project owned by the tenant in ctx.
func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	p.Owner = storage.GetTenant(ctx)

	filesJSON, err := json.Marshal(nonNil(p.Files))
	if err != nil {
		return fmt.Errorf("marshaling files: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		p.ID, p.Owner, p.Name, p.Description, string(p.Runtime),
		filesJSON, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	args := []any{id}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	p, err := scanProject(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	return p, nil
}

// ListProjects returns a page of projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context, opts storage.ListOptions) (*storage.ProjectList, error) {
	order, cmpOp := "DESC", "<"
	if opts.Order == "asc" {
		order, cmpOp = "ASC", ">"
	}
	limit := opts.EffectiveLimit()

	query := `SELECT ` + projectColumns + ` FROM projects WHERE ($1 = '' OR tenant_id = $1)`
	args := []any{storage.GetTenant(ctx)}
	if opts.After != "" {
		query += fmt.Sprintf(" AND (created_at, id) %s (SELECT created_at, id FROM projects WHERE id = $2)", cmpOp)
		args = append(args, opts.After)
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, id %s LIMIT %d", order, order, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var matches []*project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		matches = append(matches, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return storage.NewProjectList(matches, limit), nil
}

// UpdateProject replaces the name, description and files of a project.
func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	filesJSON, err := json.Marshal(nonNil(p.Files))
	if err != nil {
		return fmt.Errorf("marshaling files: %w", err)
	}

	now := time.Now().UTC()
	query := `UPDATE projects SET name = $1, description = $2, files = $3, updated_at = $4 WHERE id = $5`
	args := []any{p.Name, p.Description, filesJSON, now, p.ID}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += " AND tenant_id = $6"
		args = append(args, tenantID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	p.UpdatedAt = now
	return nil
}

// DeleteProject removes a project. Interactions go with it through the
// ON DELETE CASCADE foreign key.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	query := "DELETE FROM projects WHERE id = $1"
	args := []any{id}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CommitPrompt updates the project files and inserts the interaction in
// one transaction.
func (s *Store) CommitPrompt(ctx context.Context, projectID string, files project.FileSet, in *project.Interaction) error {
	filesJSON, err := json.Marshal(nonNil(files))
	if err != nil {
		return fmt.Errorf("marshaling files: %w", err)
	}
	generatedJSON, err := json.Marshal(nonNil(in.Files))
	if err != nil {
		return fmt.Errorf("marshaling interaction files: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		query := `UPDATE projects SET files = $1, updated_at = $2 WHERE id = $3`
		args := []any{filesJSON, in.CreatedAt, projectID}
		if tenantID := storage.GetTenant(ctx); tenantID != "" {
			query += " AND tenant_id = $4"
			args = append(args, tenantID)
		}
		result, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("updating project files: %w", err)
		}
		if result.RowsAffected() == 0 {
			return storage.ErrNotFound
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO interactions (id, project_id, prompt, message, files, model, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, in.ID, projectID, in.Prompt, in.Message, generatedJSON, in.Model, in.CreatedAt)
		if err != nil {
			if isDuplicateKey(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("inserting interaction: %w", err)
		}
		return nil
	})
}

// ListInteractions returns a project's interactions in insertion order.
func (s *Store) ListInteractions(ctx context.Context, projectID string) ([]*project.Interaction, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, prompt, message, files, model, created_at
		FROM interactions WHERE project_id = $1 ORDER BY seq
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	defer rows.Close()

	out := []*project.Interaction{}
	for rows.Next() {
		var in project.Interaction
		var filesJSON []byte
		if err := rows.Scan(&in.ID, &in.ProjectID, &in.Prompt, &in.Message, &filesJSON, &in.Model, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}
		if err := json.Unmarshal(filesJSON, &in.Files); err != nil {
			return nil, fmt.Errorf("unmarshaling interaction files: %w", err)
		}
		in.CreatedAt = in.CreatedAt.UTC()
		out = append(out, &in)
	}
	return out, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanProject(row pgx.Row) (*project.Project, error) {
	var p project.Project
	var runtime string
	var filesJSON []byte
	if err := row.Scan(&p.ID, &p.Owner, &p.Name, &p.Description, &runtime, &filesJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Runtime = project.Runtime(runtime)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if err := json.Unmarshal(filesJSON, &p.Files); err != nil {
		return nil, fmt.Errorf("unmarshaling files: %w", err)
	}
	return &p, nil
}

func nonNil(fs project.FileSet) project.FileSet {
	if fs == nil {
		return project.FileSet{}
	}
	return fs
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
