package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/L7Shift/l7shift-website-sub000/internal/query"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, Config{
		Driver:  "sqlite",
		DSN:     filepath.Join(t.TempDir(), "agent.db"),
		Migrate: true,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := store.DB().ExecContext(ctx, `CREATE TABLE tasks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'active',
        priority INTEGER NOT NULL DEFAULT 0,
        created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		t.Fatalf("create tasks table: %v", err)
	}
	return store
}

func TestInsertReturnsDatabaseAssignedFields(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	row, err := store.Insert(context.Background(), "tasks", storage.Row{"title": "Write brief", "priority": float64(2)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if row["id"] != int64(1) {
		t.Fatalf("expected generated id 1, got %#v", row["id"])
	}
	if row["status"] != "active" {
		t.Fatalf("expected default status, got %#v", row["status"])
	}
	if row["created_at"] == nil || row["created_at"] == "" {
		t.Fatalf("expected created_at default, got %#v", row["created_at"])
	}
	if row["priority"] != int64(2) {
		t.Fatalf("expected whole float to be stored as integer, got %#v", row["priority"])
	}
}

func TestSelectAppliesFiltersOrderAndLimit(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()
	for _, title := range []string{"Alpha launch", "beta FOO", "gamma", "Foo delta"} {
		if _, err := store.Insert(ctx, "tasks", storage.Row{"title": title, "priority": float64(len(title))}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rows, err := store.Select(ctx, query.Query{
		Table:   "tasks",
		Columns: []string{"title"},
		Filters: []query.Predicate{query.BuildFilter("title", "ilike.%foo%")},
		Order:   &query.Order{Column: "priority", Direction: query.Desc},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	got := make([]string, 0, len(rows))
	for _, row := range rows {
		got = append(got, row["title"].(string))
	}
	if !reflect.DeepEqual(got, []string{"Foo delta", "beta FOO"}) {
		t.Fatalf("unexpected titles: %v", got)
	}

	rows, err = store.Select(ctx, query.Query{
		Table:   "tasks",
		Filters: []query.Predicate{query.BuildFilter("priority", "gte.8"), query.BuildFilter("id", "in.1,2,3")},
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected limit of 1, got %d", len(rows))
	}
}

func TestUpdateReturnsRowAfterWrite(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()
	created, err := store.Insert(ctx, "tasks", storage.Row{"title": "Ship"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := store.Update(ctx, "tasks", created["id"], storage.Row{"status": "done"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["status"] != "done" || updated["title"] != "Ship" {
		t.Fatalf("unexpected row: %+v", updated)
	}

	if _, err := store.Update(ctx, "tasks", "999", storage.Row{"status": "done"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrationsCreateAuditTables(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	row, err := store.Insert(context.Background(), "agent_logs", storage.Row{
		"id":              "log-1",
		"run_id":          "run-1",
		"event_kind":      "store-change",
		"event_table":     "tasks",
		"event_id":        "t1",
		"iteration_count": 2,
		"status":          "processed",
		"actions":         []any{"thought: ok"},
		"created_at":      "2025-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("insert agent log: %v", err)
	}
	if row["actions"] != `["thought: ok"]` {
		t.Fatalf("expected actions to be stored as JSON, got %#v", row["actions"])
	}

	if err := store.runMigrations(context.Background()); err != nil {
		t.Fatalf("migrations must be idempotent: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	if err == nil || !errors.Is(err, storage.ErrUnsupportedDriver) {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestBuildSelectQuotesIdentifiers(t *testing.T) {
	q := query.Query{
		Table:   "tasks",
		Filters: []query.Predicate{query.BuildFilter("status", "in.a,b"), query.BuildFilter("name", "ilike.%x%")},
		Order:   &query.Order{Column: "created_at", Direction: query.Asc},
		Limit:   20,
	}
	stmt, args := buildSelect(mysqlDialect{}, q)
	want := "SELECT * FROM `tasks` WHERE `status` IN (?, ?) AND LOWER(`name`) LIKE LOWER(?) ORDER BY `created_at` ASC LIMIT ?"
	if stmt != want {
		t.Fatalf("unexpected statement:\n%s\nwant:\n%s", stmt, want)
	}
	if !reflect.DeepEqual(args, []any{"a", "b", "%x%", 20}) {
		t.Fatalf("unexpected args: %#v", args)
	}
	stmt, _ = buildSelect(sqliteDialect{}, q)
	if !strings.HasPrefix(stmt, `SELECT * FROM "tasks"`) {
		t.Fatalf("unexpected sqlite statement: %s", stmt)
	}
}

func TestSplitSQLStatements(t *testing.T) {
	got := splitSQLStatements("CREATE TABLE a (id INT);\n\nCREATE INDEX i ON a (id);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(got), got)
	}
	if parseMigrationVersion("0002_activity_log.sql") != "0002" {
		t.Fatalf("unexpected version parsing")
	}
}

// lastInsertIDDialect 模拟 MySQL：不支持 RETURNING，只能依赖 LastInsertId 回读。
type lastInsertIDDialect struct{ sqliteDialect }

func (lastInsertIDDialect) Returning() bool { return false }

func TestInsertWithoutReturningReadsBackByLastInsertID(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	store.dialect = lastInsertIDDialect{}

	row, err := store.Insert(context.Background(), "tasks", storage.Row{"title": "Ship"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if row["id"] != int64(1) || row["status"] != "active" {
		t.Fatalf("expected read-back row with defaults, got %#v", row)
	}
}

func TestInsertWithoutReadableIDReturnsWrittenValues(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	store.dialect = lastInsertIDDialect{}
	ctx := context.Background()
	if _, err := store.DB().ExecContext(ctx, `CREATE TABLE notes (
        id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
        body TEXT NOT NULL
)`); err != nil {
		t.Fatalf("create notes table: %v", err)
	}

	row, err := store.Insert(ctx, "notes", storage.Row{"body": "hello"})
	if err != nil {
		t.Fatalf("committed insert must not be reported as failure: %v", err)
	}
	if row["body"] != "hello" {
		t.Fatalf("expected written values, got %#v", row)
	}

	var count int
	if err := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}
