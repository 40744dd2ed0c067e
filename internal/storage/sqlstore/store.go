// Package sqlstore implements storage.Store on top of database/sql for MySQL
// and SQLite. Table and column names come from tool arguments, so every
// identifier is validated and quoted and every value is bound as a parameter.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	xerrors "github.com/L7Shift/l7shift-website-sub000/internal/errors"
	"github.com/L7Shift/l7shift-website-sub000/internal/query"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage"
)

// Store 是基于 database/sql 的通用表访问实现。
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open 建立连接，并在需要时执行迁移。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dialect, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "数据库驱动不受支持")
	}
	db, err := openDatabase(ctx, dialect, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开数据库失败")
	}
	s := &Store{db: db, dialect: dialect}
	if cfg.Migrate {
		if err := s.runMigrations(ctx); err != nil {
			db.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
		}
	}
	return s, nil
}

// DB 返回底层连接池。
func (s *Store) DB() *sql.DB { return s.db }

// Select 实现 storage.Store。
func (s *Store) Select(ctx context.Context, q query.Query) ([]storage.Row, error) {
	if err := q.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid query")
	}
	q.Normalize()
	stmt, args := buildSelect(s.dialect, q)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("query %s failed", q.Table))
	}
	defer rows.Close()
	return scanRows(rows)
}

// Insert 实现 storage.Store。SQLite 使用 RETURNING，MySQL 写入后按 id 回读，
// 回读不到时返回写入的值。
func (s *Store) Insert(ctx context.Context, table string, values storage.Row) (storage.Row, error) {
	if err := storage.ValidateRow(table, values); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid insert")
	}
	columns := sortedColumns(values)
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		quoted[i] = s.dialect.Quote(col)
		placeholders[i] = "?"
		args[i] = toArg(values[col])
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.Quote(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	if s.dialect.Returning() {
		rows, err := s.db.QueryContext(ctx, stmt+" RETURNING *", args...)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("insert into %s failed", table))
		}
		defer rows.Close()
		result, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		if len(result) == 0 {
			return nil, storage.ErrNotFound
		}
		return result[0], nil
	}

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("insert into %s failed", table))
	}
	// 写入已提交，之后的回读失败只能降级为返回写入的值，不能报告为插入失败。
	written := copyRow(values)
	id, ok := values["id"]
	if !ok {
		lastID, err := res.LastInsertId()
		if err != nil || lastID == 0 {
			return written, nil
		}
		id = lastID
	}
	row, err := s.fetchByID(ctx, table, id)
	if err != nil {
		return written, nil
	}
	return row, nil
}

func copyRow(values storage.Row) storage.Row {
	out := make(storage.Row, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// Update 实现 storage.Store。
func (s *Store) Update(ctx context.Context, table string, id any, values storage.Row) (storage.Row, error) {
	if err := storage.ValidateRow(table, values); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid update")
	}
	columns := sortedColumns(values)
	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, col := range columns {
		assignments[i] = s.dialect.Quote(col) + " = ?"
		args = append(args, toArg(values[col]))
	}
	args = append(args, toArg(id))
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		s.dialect.Quote(table), strings.Join(assignments, ", "), s.dialect.Quote("id"))

	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("update %s failed", table))
	}
	return s.fetchByID(ctx, table, id)
}

// Close 关闭连接池。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) fetchByID(ctx context.Context, table string, id any) (storage.Row, error) {
	rows, err := s.Select(ctx, query.Query{
		Table:   table,
		Filters: []query.Predicate{{Column: "id", Operator: query.OpEq, Value: query.Stringify(id)}},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return rows[0], nil
}

func buildSelect(d Dialect, q query.Query) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		b.WriteString("*")
	} else {
		cols := make([]string, len(q.Columns))
		for i, col := range q.Columns {
			cols[i] = d.Quote(col)
		}
		b.WriteString(strings.Join(cols, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(d.Quote(q.Table))

	var args []any
	if len(q.Filters) > 0 {
		clauses := make([]string, 0, len(q.Filters))
		for _, f := range q.Filters {
			clause, clauseArgs := renderPredicate(d, f)
			clauses = append(clauses, clause)
			args = append(args, clauseArgs...)
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	if q.Order != nil {
		direction := "ASC"
		if q.Order.Direction == query.Desc {
			direction = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", d.Quote(q.Order.Column), direction)
	}
	b.WriteString(" LIMIT ?")
	args = append(args, q.Limit)
	return b.String(), args
}

func renderPredicate(d Dialect, p query.Predicate) (string, []any) {
	col := d.Quote(p.Column)
	switch p.Operator {
	case query.OpILike:
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", col), []any{p.Value}
	case query.OpGt:
		return col + " > ?", []any{p.Value}
	case query.OpLt:
		return col + " < ?", []any{p.Value}
	case query.OpGte:
		return col + " >= ?", []any{p.Value}
	case query.OpNeq:
		return col + " <> ?", []any{p.Value}
	case query.OpIn:
		if len(p.Values) == 0 {
			return "1 = 0", nil
		}
		marks := make([]string, len(p.Values))
		args := make([]any, len(p.Values))
		for i, v := range p.Values {
			marks[i] = "?"
			args[i] = v
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")), args
	default:
		return col + " = ?", []any{p.Value}
	}
}

func scanRows(rows *sql.Rows) ([]storage.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read columns failed")
	}
	result := make([]storage.Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan row failed")
		}
		row := make(storage.Row, len(columns))
		for i, col := range columns {
			row[col] = fromColumn(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate rows failed")
	}
	return result, nil
}

func fromColumn(v any) any {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	default:
		return value
	}
}

// toArg converts decoded JSON values into driver-friendly arguments.
func toArg(v any) any {
	switch value := v.(type) {
	case float64:
		if value == math.Trunc(value) && math.Abs(value) < 1<<53 {
			return int64(value)
		}
		return value
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i
		}
		return value.String()
	case map[string]any, []any, []string, map[string]string:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(encoded)
	default:
		return value
	}
}

func sortedColumns(values storage.Row) []string {
	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}
