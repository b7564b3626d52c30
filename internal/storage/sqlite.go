package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/nyaya/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS passages (
		document_id TEXT NOT NULL,
		section TEXT NOT NULL,
		act_name TEXT NOT NULL,
		title TEXT,
		text TEXT NOT NULL,
		language TEXT NOT NULL,
		source_version TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (document_id, section)
	);

	CREATE INDEX IF NOT EXISTS idx_passages_language ON passages(language);
	`
	_, err := db.Exec(schema)
	return err
}

const upsertSQL = `INSERT INTO passages (document_id, section, act_name, title, text, language, source_version, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(document_id, section) DO UPDATE SET
		act_name = excluded.act_name,
		title = excluded.title,
		text = excluded.text,
		language = excluded.language,
		source_version = excluded.source_version,
		updated_at = excluded.updated_at`

const selectColumns = `document_id, section, act_name, title, text, language, source_version`

// UpsertPassage inserts a passage or replaces the one with the same key.
func (s *SQLiteStorage) UpsertPassage(ctx context.Context, p *models.Passage) error {
	if p.DocumentID == "" || p.Section == "" {
		return fmt.Errorf("passage requires document_id and section")
	}
	_, err := s.db.ExecContext(ctx, upsertSQL,
		p.DocumentID, p.Section, p.ActName, p.Title, p.Text, p.Language, p.SourceVersion, time.Now(),
	)
	return err
}

// BatchUpsertPassages upserts passages in a transaction.
func (s *SQLiteStorage) BatchUpsertPassages(ctx context.Context, passages []models.Passage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range passages {
		if p.DocumentID == "" || p.Section == "" {
			return fmt.Errorf("passage requires document_id and section")
		}
		if _, err := stmt.ExecContext(ctx, p.DocumentID, p.Section, p.ActName, p.Title, p.Text, p.Language, p.SourceVersion, now); err != nil {
			return fmt.Errorf("upsert %s: %w", p.Key(), err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPassage(row scanner) (models.Passage, error) {
	var p models.Passage
	var title, version sql.NullString
	err := row.Scan(&p.DocumentID, &p.Section, &p.ActName, &title, &p.Text, &p.Language, &version)
	p.Title = title.String
	p.SourceVersion = version.String
	return p, err
}

// GetPassage returns the passage with key.
func (s *SQLiteStorage) GetPassage(ctx context.Context, key models.PassageKey) (*models.Passage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM passages WHERE document_id = ? AND section = ?`,
		key.DocumentID, key.Section,
	)
	p, err := scanPassage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPassages fetches many passages in one query.
func (s *SQLiteStorage) GetPassages(ctx context.Context, keys []models.PassageKey) (map[models.PassageKey]models.Passage, error) {
	out := make(map[models.PassageKey]models.Passage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		clauses = append(clauses, "(document_id = ? AND section = ?)")
		args = append(args, k.DocumentID, k.Section)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM passages WHERE `+strings.Join(clauses, " OR "),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		out[p.Key()] = p
	}
	return out, rows.Err()
}

// ListPassages returns passages ordered by key with offset and limit.
func (s *SQLiteStorage) ListPassages(ctx context.Context, offset, limit int) ([]models.Passage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM passages ORDER BY document_id, section LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passages []models.Passage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// DeletePassage removes a passage by key.
func (s *SQLiteStorage) DeletePassage(ctx context.Context, key models.PassageKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM passages WHERE document_id = ? AND section = ?`, key.DocumentID, key.Section)
	return err
}

// DeleteDocument removes every passage of a document.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM passages WHERE document_id = ?`, documentID)
	return err
}

// CountPassages returns the total number of passages.
func (s *SQLiteStorage) CountPassages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
