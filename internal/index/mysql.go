package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tnguyen-sec/iocpipe/internal/model"

	_ "github.com/go-sql-driver/mysql"
)

type mysqlStore struct {
	db *sql.DB
}

// NewMySQL opens the document store over the given DSN.
func NewMySQL(dsn string) (Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id         VARCHAR(300) PRIMARY KEY,
			type       VARCHAR(20) NOT NULL,
			bucket     VARCHAR(10) NOT NULL,
			confidence INT NOT NULL,
			data       MEDIUMTEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			INDEX idx_documents_bucket (bucket),
			INDEX idx_documents_type (type)
		)
	`); err != nil {
		db.Close()
		return nil, err
	}

	return &mysqlStore{db: db}, nil
}

func (s *mysqlStore) Get(ctx context.Context, id string) (*model.Document, error) {
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

func (s *mysqlStore) Put(ctx context.Context, doc *model.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, type, bucket, confidence, data, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE type=VALUES(type), bucket=VALUES(bucket),
		 confidence=VALUES(confidence), data=VALUES(data), updated_at=VALUES(updated_at)`,
		doc.ID, string(doc.Type), string(doc.RiskBucket), doc.Confidence, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storing document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *mysqlStore) List(ctx context.Context, filter Filter) ([]*model.Document, error) {
	query, args := buildListQuery(filter, "?")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (s *mysqlStore) Keys(ctx context.Context) ([]string, error) {
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

func (s *mysqlStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

func (s *mysqlStore) Close() error { return s.db.Close() }
