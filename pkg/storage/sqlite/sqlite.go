// Package sqlite provides a single-file storage.ProjectStore on top of the
// pure-Go modernc.org/sqlite driver, for classroom installs without a
// database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rhuss/vibe/pkg/project"
	"github.com/rhuss/vibe/pkg/storage"
)

// timeLayout is fixed-width so text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	runtime     TEXT NOT NULL,
	files       TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_tenant_created ON projects(tenant_id, created_at, id);

CREATE TABLE IF NOT EXISTS interactions (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	prompt     TEXT NOT NULL,
	message    TEXT NOT NULL,
	files      TEXT NOT NULL DEFAULT '{}',
	model      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_project ON interactions(project_id, seq);
`

// Store is a SQLite-backed ProjectStore.
type Store struct {
	db   *sql.DB
	path string
}

// Ensure Store implements storage.ProjectStore at compile time.
var _ storage.ProjectStore = (*Store)(nil)

// New opens (or creates) the database at path and applies the schema.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

const projectColumns = `id, tenant_id, name, description, runtime, files, created_at, updated_at`

// CreateProject inserts a project owned by the tenant in ctx.
func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	p.Owner = storage.GetTenant(ctx)

	filesJSON, err := marshalFiles(p.Files)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Owner, p.Name, p.Description, string(p.Runtime), filesJSON,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isConstraint(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ? AND (? = '' OR tenant_id = ?)`,
		id, storage.GetTenant(ctx), storage.GetTenant(ctx),
	))
	if errors.Is(err, sql.ErrNoRows) {
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
	tenantID := storage.GetTenant(ctx)

	query := `SELECT ` + projectColumns + ` FROM projects WHERE (? = '' OR tenant_id = ?)`
	args := []any{tenantID, tenantID}
	if opts.After != "" {
		query += fmt.Sprintf(" AND (created_at, id) %s (SELECT created_at, id FROM projects WHERE id = ?)", cmpOp)
		args = append(args, opts.After)
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, id %s LIMIT %d", order, order, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	filesJSON, err := marshalFiles(p.Files)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tenantID := storage.GetTenant(ctx)

	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, files = ?, updated_at = ?
		 WHERE id = ? AND (? = '' OR tenant_id = ?)`,
		p.Name, p.Description, filesJSON, formatTime(now), p.ID, tenantID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	p.UpdatedAt = now
	return nil
}

// DeleteProject removes a project and, through the foreign key, its
// interactions.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tenantID := storage.GetTenant(ctx)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM projects WHERE id = ? AND (? = '' OR tenant_id = ?)`,
		id, tenantID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CommitPrompt updates the project files and inserts the interaction in
// one transaction.
func (s *Store) CommitPrompt(ctx context.Context, projectID string, files project.FileSet, in *project.Interaction) error {
	filesJSON, err := marshalFiles(files)
	if err != nil {
		return err
	}
	generatedJSON, err := marshalFiles(in.Files)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	tenantID := storage.GetTenant(ctx)
	result, err := tx.ExecContext(ctx,
		`UPDATE projects SET files = ?, updated_at = ? WHERE id = ? AND (? = '' OR tenant_id = ?)`,
		filesJSON, formatTime(in.CreatedAt), projectID, tenantID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("updating project files: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO interactions (id, project_id, prompt, message, files, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, projectID, in.Prompt, in.Message, generatedJSON, in.Model, formatTime(in.CreatedAt),
	)
	if err != nil {
		if isConstraint(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting interaction: %w", err)
	}
	return tx.Commit()
}

// ListInteractions returns a project's interactions in insertion order.
func (s *Store) ListInteractions(ctx context.Context, projectID string) ([]*project.Interaction, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, prompt, message, files, model, created_at
		 FROM interactions WHERE project_id = ? ORDER BY seq`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	defer rows.Close()

	out := []*project.Interaction{}
	for rows.Next() {
		var in project.Interaction
		var filesJSON, created string
		if err := rows.Scan(&in.ID, &in.ProjectID, &in.Prompt, &in.Message, &filesJSON, &in.Model, &created); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &in.Files); err != nil {
			return nil, fmt.Errorf("unmarshaling interaction files: %w", err)
		}
		if in.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*project.Project, error) {
	var p project.Project
	var runtime, filesJSON, created, updated string
	if err := row.Scan(&p.ID, &p.Owner, &p.Name, &p.Description, &runtime, &filesJSON, &created, &updated); err != nil {
		return nil, err
	}
	p.Runtime = project.Runtime(runtime)
	if err := json.Unmarshal([]byte(filesJSON), &p.Files); err != nil {
		return nil, fmt.Errorf("unmarshaling files: %w", err)
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func marshalFiles(fs project.FileSet) (string, error) {
	if fs == nil {
		fs = project.FileSet{}
	}
	b, err := json.Marshal(fs)
	if err != nil {
		return "", fmt.Errorf("marshaling files: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// isConstraint reports a primary key or unique violation.
func isConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
