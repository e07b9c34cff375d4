package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tnguyen-sec/iocpipe/internal/model"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the document store at dbPath.
func NewSQLite(dbPath string) (Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite doesn't handle concurrent writes well
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			bucket     TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			data       TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_documents_bucket ON documents(bucket)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type)`); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*model.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE id = ?", id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document %s: %w", id, err)
	}

	var doc model.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return &doc, nil
}

func (s *sqliteStore) Put(ctx context.Context, doc *model.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, type, bucket, confidence, data, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET type=excluded.type, bucket=excluded.bucket,
		 confidence=excluded.confidence, data=excluded.data, updated_at=excluded.updated_at`,
		doc.ID, string(doc.Type), string(doc.RiskBucket), doc.Confidence, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storing document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context, filter Filter) ([]*model.Document, error) {
	query, args := buildListQuery(filter, "?")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM documents")
	if err != nil {
		return nil, fmt.Errorf("listing document keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		keys = append(keys, id)
	}
	return keys, rows.Err()
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// buildListQuery assembles the filtered List statement. placeholder is
// "?" for both supported SQL backends, kept as a parameter so the
// query builder stays backend-neutral.
func buildListQuery(filter Filter, placeholder string) (string, []interface{}) {
	query := "SELECT data FROM documents WHERE 1=1"
	var args []interface{}

	if filter.Type != "" {
		query += " AND type = " + placeholder
		args = append(args, string(filter.Type))
	}
	if filter.Bucket != "" {
		query += " AND bucket = " + placeholder
		args = append(args, string(filter.Bucket))
	}
	if filter.MinConfidence > 0 {
		query += " AND confidence >= " + placeholder
		args = append(args, filter.MinConfidence)
	}
	query += " ORDER BY confidence DESC, id ASC"
	// Offset only applies alongside a limit; neither SQLite nor MySQL
	// accepts a bare OFFSET.
	if filter.Limit > 0 {
		query += " LIMIT " + placeholder
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET " + placeholder
			args = append(args, filter.Offset)
		}
	}
	return query, args
}

func scanDocuments(rows *sql.Rows) ([]*model.Document, error) {
	var docs []*model.Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var doc model.Document
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("decoding document row: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}
