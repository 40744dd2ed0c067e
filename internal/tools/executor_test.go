package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/L7Shift/l7shift-website-sub000/internal/mail"
	"github.com/L7Shift/l7shift-website-sub000/internal/observability/alerting"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage/memory"
)

type stubSender struct {
	messages []mail.Message
	err      error
}

func (s *stubSender) Send(_ context.Context, msg mail.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.messages = append(s.messages, msg)
	return "email_1", nil
}

type stubDispatcher struct {
	events []alerting.Event
}

func (s *stubDispatcher) Notify(_ context.Context, event alerting.Event) error {
	s.events = append(s.events, event)
	return nil
}

type panicStore struct{ storage.Store }

func (panicStore) Insert(context.Context, string, storage.Row) (storage.Row, error) {
	panic("boom")
}

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("result is not JSON: %v (%s)", err, raw)
	}
	return out
}

func seededStore() *memory.Store {
	store := memory.New()
	store.Seed("tasks",
		storage.Row{"id": "t1", "title": "Write proposal", "status": "todo", "priority": 3},
		storage.Row{"id": "t2", "title": "Review invoice", "status": "done", "priority": 1},
		storage.Row{"id": "t3", "title": "Proposal follow-up", "status": "doing", "priority": 5},
	)
	return store
}

func TestExecuteUnknownTool(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(memory.New())
	got := exec.Execute(context.Background(), "frobnicate", map[string]any{})
	if got != `{"error":"Unknown tool: frobnicate"}` {
		t.Fatalf("unexpected result: %s", got)
	}
}

func TestExecuteRejectsInvalidArguments(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(memory.New())
	out := decode(t, exec.Execute(context.Background(), CreateRecord, map[string]any{"table": "tasks"}))
	msg, _ := out["error"].(string)
	if !strings.HasPrefix(msg, "Invalid arguments for create_record: ") {
		t.Fatalf("unexpected error: %q", msg)
	}
}

func TestSendEmailWithoutAPIKey(t *testing.T) {
	t.Parallel()
	mailer, err := mail.NewClient(mail.Config{})
	if err != nil {
		t.Fatalf("new mail client: %v", err)
	}
	exec := NewExecutor(memory.New(), WithMailer(mailer))
	got := exec.Execute(context.Background(), SendEmail, map[string]any{
		"to":      "client@example.com",
		"subject": "Hello",
		"html":    "<p>Hi</p>",
	})
	if got != `{"error":"No Resend API key configured"}` {
		t.Fatalf("unexpected result: %s", got)
	}
}

func TestSendEmailUsesDefaultSender(t *testing.T) {
	t.Parallel()
	sender := &stubSender{}
	exec := NewExecutor(memory.New(), WithMailer(sender), WithDefaultFrom("agent@example.com"))
	out := decode(t, exec.Execute(context.Background(), SendEmail, map[string]any{
		"to":      []any{"a@example.com", "b@example.com"},
		"subject": "Status",
		"html":    "<p>All good</p>",
	}))
	if out["success"] != true || out["id"] != "email_1" {
		t.Fatalf("unexpected result: %v", out)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.messages))
	}
	msg := sender.messages[0]
	if msg.From != "agent@example.com" || len(msg.To) != 2 || msg.HTML != "<p>All good</p>" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestCreateRecordReturnsGeneratedFields(t *testing.T) {
	t.Parallel()
	store := memory.New()
	exec := NewExecutor(store)
	out := decode(t, exec.Execute(context.Background(), CreateRecord, map[string]any{
		"table": "tasks",
		"data":  map[string]any{"title": "Call client"},
	}))
	if out["success"] != true {
		t.Fatalf("unexpected result: %v", out)
	}
	row, _ := out["data"].(map[string]any)
	if row["id"] == nil || row["id"] == "" || row["created_at"] == nil {
		t.Fatalf("expected generated id and created_at, got %v", row)
	}
	if rows := store.Rows("tasks"); len(rows) != 1 || rows[0]["title"] != "Call client" {
		t.Fatalf("row was not stored: %v", rows)
	}
}

func TestQueryRecordsAppliesFiltersOrderAndLimit(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(seededStore())

	cases := []struct {
		name string
		args map[string]any
		ids  []string
	}{
		{
			name: "ilike",
			args: map[string]any{"table": "tasks", "filters": map[string]any{"title": "ilike.%proposal%"}, "order": "priority.desc"},
			ids:  []string{"t3", "t1"},
		},
		{
			name: "in",
			args: map[string]any{"table": "tasks", "filters": map[string]any{"status": "in.todo,done"}, "order": "id.asc"},
			ids:  []string{"t1", "t2"},
		},
		{
			name: "implicit equals",
			args: map[string]any{"table": "tasks", "filters": map[string]any{"status": "done"}},
			ids:  []string{"t2"},
		},
		{
			name: "limit",
			args: map[string]any{"table": "tasks", "order": "priority.asc", "limit": float64(1)},
			ids:  []string{"t2"},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			out := decode(t, exec.Execute(context.Background(), QueryRecords, tc.args))
			data, _ := out["data"].([]any)
			if int(out["count"].(float64)) != len(tc.ids) || len(data) != len(tc.ids) {
				t.Fatalf("unexpected result: %v", out)
			}
			for i, id := range tc.ids {
				if row := data[i].(map[string]any); row["id"] != id {
					t.Fatalf("row %d: want %s, got %v", i, id, row["id"])
				}
			}
		})
	}
}

func TestQueryRecordsRejectsBadIdentifier(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(seededStore())
	out := decode(t, exec.Execute(context.Background(), QueryRecords, map[string]any{"table": "tasks; DROP TABLE tasks"}))
	if _, ok := out["error"]; !ok {
		t.Fatalf("expected error, got %v", out)
	}
}

func TestUpdateRecord(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(seededStore())

	out := decode(t, exec.Execute(context.Background(), UpdateRecord, map[string]any{
		"table": "tasks", "id": "t1", "updates": map[string]any{"status": "done"},
	}))
	row, _ := out["data"].(map[string]any)
	if out["success"] != true || row["status"] != "done" || row["title"] != "Write proposal" {
		t.Fatalf("unexpected result: %v", out)
	}

	missing := exec.Execute(context.Background(), UpdateRecord, map[string]any{
		"table": "tasks", "id": "nope", "updates": map[string]any{"status": "done"},
	})
	if missing != `{"error":"record not found"}` {
		t.Fatalf("unexpected result: %s", missing)
	}
}

func TestLogActivityWritesActivityTable(t *testing.T) {
	t.Parallel()
	store := memory.New()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	exec := NewExecutor(store, WithClock(func() time.Time { return fixed }))
	out := decode(t, exec.Execute(context.Background(), LogActivity, map[string]any{
		"action":      "task_completed",
		"description": "Marked t1 done",
		"entity_type": "task",
		"entity_id":   "t1",
	}))
	if out["success"] != true {
		t.Fatalf("unexpected result: %v", out)
	}
	rows := store.Rows(ActivityTable)
	if len(rows) != 1 {
		t.Fatalf("expected one activity row, got %d", len(rows))
	}
	if rows[0]["actor"] != "agent" || rows[0]["created_at"] != "2024-05-01T12:00:00Z" || rows[0]["entity_id"] != "t1" {
		t.Fatalf("unexpected activity row: %v", rows[0])
	}
}

func TestSendNotificationDispatches(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{}
	exec := NewExecutor(memory.New(), WithNotifier(d))
	out := decode(t, exec.Execute(context.Background(), SendNotification, map[string]any{
		"title": "Client waiting", "message": "Acme has not heard back in 3 days", "priority": "urgent",
	}))
	if out["success"] != true {
		t.Fatalf("unexpected result: %v", out)
	}
	if len(d.events) != 1 || d.events[0].Title != "Client waiting" || d.events[0].Severity != "critical" {
		t.Fatalf("unexpected events: %+v", d.events)
	}

	bad := decode(t, exec.Execute(context.Background(), SendNotification, map[string]any{
		"title": "x", "message": "y", "priority": "whenever",
	}))
	if _, ok := bad["error"]; !ok {
		t.Fatalf("priority outside enum must be rejected: %v", bad)
	}
}

func TestThink(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil)
	got := exec.Execute(context.Background(), Think, map[string]any{"thought": "check overdue tasks first"})
	if got != `{"acknowledged":true,"success":true}` {
		t.Fatalf("unexpected result: %s", got)
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(panicStore{})
	out := decode(t, exec.Execute(context.Background(), CreateRecord, map[string]any{
		"table": "tasks", "data": map[string]any{"title": "x"},
	}))
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "panicked") {
		t.Fatalf("expected recovered panic, got %v", out)
	}
}

func TestStoreErrorsBecomeResults(t *testing.T) {
	t.Parallel()
	exec := NewExecutor(nil)
	out := decode(t, exec.Execute(context.Background(), QueryRecords, map[string]any{"table": "tasks"}))
	if out["error"] != "database is not configured" {
		t.Fatalf("unexpected result: %v", out)
	}

	sender := &stubSender{err: errors.New("resend returned status 422: invalid from")}
	exec = NewExecutor(nil, WithMailer(sender))
	out = decode(t, exec.Execute(context.Background(), SendEmail, map[string]any{
		"to": "a@example.com", "subject": "s", "html": "h",
	}))
	if out["error"] != "resend returned status 422: invalid from" {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestRegistrySpecsFollowCatalog(t *testing.T) {
	t.Parallel()
	reg := DefaultRegistry()
	names := reg.Names()
	want := []string{QueryRecords, UpdateRecord, CreateRecord, SendEmail, LogActivity, SendNotification, Think}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected names: %v", names)
	}
	specs := reg.Specs()
	if len(specs) != len(want) || specs[0].InputSchema["type"] != "object" {
		t.Fatalf("unexpected specs: %+v", specs)
	}
	if !strings.Contains(specs[0].Description, "ilike") {
		t.Fatalf("query_records description must list operators")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("duplicate tool names must panic")
		}
	}()
	NewRegistry(Catalog()[0], Catalog()[0])
}
