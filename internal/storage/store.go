// Package storage defines the narrow relational contract the agent tools use:
// generic single-table reads, inserts and updates keyed by id.
package storage

import (
	"context"
	"errors"

	"github.com/L7Shift/l7shift-website-sub000/internal/query"
)

// Row is one record keyed by column name.
type Row = map[string]any

// ErrNotFound is returned when an update or read-back finds no row for the id.
var ErrNotFound = errors.New("record not found")

// ErrUnsupportedDriver is returned for unknown database drivers.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Store is implemented by every backing database.
type Store interface {
	// Select returns rows matching q. Implementations apply q.Normalize.
	Select(ctx context.Context, q query.Query) ([]Row, error)
	// Insert writes values and returns the stored row including generated fields.
	Insert(ctx context.Context, table string, values Row) (Row, error)
	// Update sets values on the row with the given id and returns the row after the write.
	Update(ctx context.Context, table string, id any, values Row) (Row, error)
	Close() error
}

// ValidateRow checks table and column names of a write.
func ValidateRow(table string, values Row) error {
	if err := query.ValidIdentifier(table); err != nil {
		return err
	}
	if len(values) == 0 {
		return errors.New("no values provided")
	}
	for column := range values {
		if err := query.ValidIdentifier(column); err != nil {
			return err
		}
	}
	return nil
}
