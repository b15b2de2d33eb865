package builderstub

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists projects to Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to conn and creates the projects table if needed.
func NewPostgresStore(ctx context.Context, conn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", conn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS stub_projects (
    id TEXT PRIMARY KEY,
    app_type TEXT NOT NULL,
    package_name TEXT NOT NULL,
    features JSONB NOT NULL DEFAULT '[]',
    description TEXT NOT NULL,
    status TEXT NOT NULL,
    progress INTEGER NOT NULL DEFAULT 0,
    apk_ready BOOLEAN NOT NULL DEFAULT FALSE,
    apk_size BIGINT NOT NULL DEFAULT 0,
    error TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, project Project) error {
	features, err := json.Marshal(nonNil(project.Features))
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	query := `INSERT INTO stub_projects (id, app_type, package_name, features, description, status, progress, apk_ready, apk_size, error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    progress = EXCLUDED.progress,
    apk_ready = EXCLUDED.apk_ready,
    apk_size = EXCLUDED.apk_size,
    error = EXCLUDED.error,
    updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		project.ID,
		project.AppType,
		project.PackageName,
		string(features),
		project.Description,
		project.Status,
		project.Progress,
		project.ApkReady,
		project.ApkSize,
		nullString(project.Error),
		project.CreatedAt,
		project.UpdatedAt,
	)
	return err
}

const selectProjects = `SELECT id, app_type, package_name, features, description, status, progress, apk_ready, apk_size, error, created_at, updated_at FROM stub_projects`

func (s *PostgresStore) Get(ctx context.Context, id string) (Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx, selectProjects+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrProjectNotFound
	}
	return project, err
}

func (s *PostgresStore) List(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, selectProjects+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var (
		p        Project
		features string
		errMsg   sql.NullString
	)
	if err := row.Scan(&p.ID, &p.AppType, &p.PackageName, &features, &p.Description, &p.Status, &p.Progress, &p.ApkReady, &p.ApkSize, &errMsg, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Project{}, err
	}
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return Project{}, fmt.Errorf("decode features of %s: %w", p.ID, err)
	}
	if errMsg.Valid {
		p.Error = errMsg.String
	}
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
