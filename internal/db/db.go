package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/wesm/issuemirror/internal/models"
)

// DB represents the database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		full_name TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_tokens (
		repository TEXT NOT NULL,
		kind TEXT NOT NULL,
		etag TEXT NOT NULL DEFAULT '',
		last_check TIMESTAMP NOT NULL,
		PRIMARY KEY (repository, kind)
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SaveRepository records a repository as opened
func (db *DB) SaveRepository(repo *models.Repository) error {
	query := `
	INSERT INTO repositories (full_name, owner, name, opened_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(full_name) DO UPDATE SET
		opened_at = excluded.opened_at
	`

	_, err := db.Exec(query, repo.FullName, repo.Owner, repo.Name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save repository: %w", err)
	}

	return nil
}

// ListRepositories returns every repository that was opened, by name
func (db *DB) ListRepositories() ([]*models.Repository, error) {
	rows, err := db.Query(`SELECT owner, name, full_name FROM repositories ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		var repo models.Repository
		if err := rows.Scan(&repo.Owner, &repo.Name, &repo.FullName); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, &repo)
	}
	return repos, rows.Err()
}

// LoadTokens returns the stored sync tokens of a repository by resource kind
func (db *DB) LoadTokens(repoFullName string) (map[models.ResourceKind]models.SyncToken, error) {
	rows, err := db.Query(`SELECT kind, etag, last_check FROM sync_tokens WHERE repository = ?`, repoFullName)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync tokens: %w", err)
	}
	defer rows.Close()

	tokens := make(map[models.ResourceKind]models.SyncToken)
	for rows.Next() {
		var (
			kindName string
			token    models.SyncToken
		)
		if err := rows.Scan(&kindName, &token.ETag, &token.LastCheck); err != nil {
			return nil, fmt.Errorf("failed to scan sync token: %w", err)
		}
		kind, err := models.ParseKind(kindName)
		if err != nil {
			continue
		}
		token.LastCheck = token.LastCheck.UTC()
		tokens[kind] = token
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load sync tokens: %w", err)
	}
	return tokens, nil
}

// SaveToken stores the sync token of one resource kind of a repository
func (db *DB) SaveToken(repoFullName string, kind models.ResourceKind, token models.SyncToken) error {
	query := `
	INSERT INTO sync_tokens (repository, kind, etag, last_check)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(repository, kind) DO UPDATE SET
		etag = excluded.etag,
		last_check = excluded.last_check
	`

	_, err := db.Exec(query, repoFullName, kind.String(), token.ETag, token.LastCheck.UTC())
	if err != nil {
		return fmt.Errorf("failed to save sync token: %w", err)
	}

	return nil
}

// DeleteTokens forgets every sync token of a repository
func (db *DB) DeleteTokens(repoFullName string) error {
	if _, err := db.Exec(`DELETE FROM sync_tokens WHERE repository = ?`, repoFullName); err != nil {
		return fmt.Errorf("failed to delete sync tokens: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
