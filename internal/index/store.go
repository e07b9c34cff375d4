// Package index persists enriched indicators as deduplicated
// documents and recomputes their confidence scores on every upsert.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

// ErrNotFound is returned by Get when no document has the given ID.
var ErrNotFound = errors.New("document not found")

// ErrInvalidIndicator is returned by Upsert for records that lack a
// type or a value after canonicalization.
var ErrInvalidIndicator = errors.New("indicator missing type or value")

// Filter narrows List and Export results. Zero values match
// everything.
type Filter struct {
	Type          model.IndicatorType
	Bucket        model.RiskBucket
	MinConfidence int
	Limit         int
	Offset        int
}

// Store is the document persistence backend. Documents are keyed by
// their canonical ID; Put is a full-document replace.
type Store interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	Put(ctx context.Context, doc *model.Document) error
	List(ctx context.Context, filter Filter) ([]*model.Document, error)
	Keys(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// New creates a store backend by type. Supported types: memory,
// sqlite, mysql. dsn is the database path for sqlite and the
// connection string for mysql; it is ignored for memory.
func New(storeType, dsn string) (Store, error) {
	switch storeType {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(dsn)
	case "mysql":
		return NewMySQL(dsn)
	default:
		return nil, fmt.Errorf("unknown store type: %s", storeType)
	}
}
