// Package memory keeps tables in process memory. It backs local development
// and tests where no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/L7Shift/l7shift-website-sub000/internal/errors"
	"github.com/L7Shift/l7shift-website-sub000/internal/query"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage"
)

// Store 以内存方式保存任意表的记录。
type Store struct {
	mu     sync.RWMutex
	tables map[string][]storage.Row
	now    func() time.Time
}

// New 创建一个空的内存存储。
func New() *Store {
	return &Store{
		tables: make(map[string][]storage.Row),
		now:    time.Now,
	}
}

// Seed 直接写入初始数据，不生成任何字段。
func (s *Store) Seed(table string, rows ...storage.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.tables[table] = append(s.tables[table], cloneRow(row))
	}
}

// Rows 返回指定表的全部记录副本。
func (s *Store) Rows(table string) []storage.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Row, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		out = append(out, cloneRow(row))
	}
	return out
}

// Select 实现 storage.Store。
func (s *Store) Select(_ context.Context, q query.Query) ([]storage.Row, error) {
	if err := q.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid query")
	}
	q.Normalize()

	s.mu.RLock()
	matched := make([]storage.Row, 0)
	for _, row := range s.tables[q.Table] {
		if matches(row, q.Filters) {
			matched = append(matched, cloneRow(row))
		}
	}
	s.mu.RUnlock()

	if q.Order != nil {
		col, desc := q.Order.Column, q.Order.Direction == query.Desc
		sort.SliceStable(matched, func(i, j int) bool {
			cmp := query.Compare(matched[i][col], matched[j][col])
			if desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	if len(q.Columns) > 0 {
		for i, row := range matched {
			projected := make(storage.Row, len(q.Columns))
			for _, col := range q.Columns {
				projected[col] = row[col]
			}
			matched[i] = projected
		}
	}
	return matched, nil
}

// Insert 实现 storage.Store，缺省时生成 id 与 created_at。
func (s *Store) Insert(_ context.Context, table string, values storage.Row) (storage.Row, error) {
	if err := storage.ValidateRow(table, values); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid insert")
	}
	row := cloneRow(values)
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = s.now().UTC().Format(time.RFC3339)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tables[table] {
		if query.Stringify(existing["id"]) == query.Stringify(row["id"]) {
			return nil, xerrors.New(xerrors.CodeStorageFailure, "duplicate key value for id")
		}
	}
	s.tables[table] = append(s.tables[table], row)
	return cloneRow(row), nil
}

// Update 实现 storage.Store。
func (s *Store) Update(_ context.Context, table string, id any, values storage.Row) (storage.Row, error) {
	if err := storage.ValidateRow(table, values); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid update")
	}
	key := query.Stringify(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.tables[table] {
		if query.Stringify(row["id"]) != key {
			continue
		}
		for col, value := range values {
			row[col] = value
		}
		return cloneRow(row), nil
	}
	return nil, storage.ErrNotFound
}

// Close 实现 storage.Store。
func (s *Store) Close() error { return nil }

func matches(row storage.Row, filters []query.Predicate) bool {
	for _, f := range filters {
		if !f.Match(row[f.Column]) {
			return false
		}
	}
	return true
}

func cloneRow(row storage.Row) storage.Row {
	clone := make(storage.Row, len(row))
	for k, v := range row {
		clone[k] = v
	}
	return clone
}
