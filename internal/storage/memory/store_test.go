package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/L7Shift/l7shift-website-sub000/internal/query"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage"
)

func TestInsertAssignsGeneratedFields(t *testing.T) {
	t.Parallel()
	s := New()

	row, err := s.Insert(context.Background(), "clients", storage.Row{"name": "Acme"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if row["id"] == "" || row["id"] == nil {
		t.Fatalf("expected generated id, got %+v", row)
	}
	if row["created_at"] == nil {
		t.Fatalf("expected created_at, got %+v", row)
	}
	if _, err := s.Insert(context.Background(), "clients", storage.Row{"id": row["id"], "name": "dup"}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestSelectFiltersOrdersAndLimits(t *testing.T) {
	t.Parallel()
	s := New()
	s.Seed("tasks",
		storage.Row{"id": "t1", "status": "active", "priority": 3},
		storage.Row{"id": "t2", "status": "done", "priority": 1},
		storage.Row{"id": "t3", "status": "active", "priority": 10},
	)

	rows, err := s.Select(context.Background(), query.Query{
		Table:   "tasks",
		Columns: []string{"id"},
		Filters: []query.Predicate{query.BuildFilter("status", "active")},
		Order:   &query.Order{Column: "priority", Direction: query.Desc},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 2 || rows[0]["id"] != "t3" || rows[1]["id"] != "t1" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if _, ok := rows[0]["status"]; ok {
		t.Fatalf("expected projection to drop unselected columns")
	}

	limited, err := s.Select(context.Background(), query.Query{Table: "tasks", Limit: 1})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d rows", len(limited))
	}
}

func TestUpdateReturnsRowAfterWrite(t *testing.T) {
	t.Parallel()
	s := New()
	s.Seed("tasks", storage.Row{"id": "t1", "status": "active"})

	row, err := s.Update(context.Background(), "tasks", "t1", storage.Row{"status": "done"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if row["status"] != "done" || row["id"] != "t1" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if _, err := s.Update(context.Background(), "tasks", "missing", storage.Row{"status": "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectsInvalidIdentifiers(t *testing.T) {
	t.Parallel()
	s := New()
	if _, err := s.Insert(context.Background(), "bad table", storage.Row{"a": 1}); err == nil {
		t.Fatalf("expected invalid table error")
	}
	if _, err := s.Select(context.Background(), query.Query{Table: "tasks;"}); err == nil {
		t.Fatalf("expected invalid table error")
	}
}
