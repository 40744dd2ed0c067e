package event

import (
	"errors"
	"strings"
	"testing"
)

func mustParse(t *testing.T, body string) *Event {
	t.Helper()
	e, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return e
}

func TestParseShapes(t *testing.T) {
	t.Parallel()

	e := mustParse(t, `{"type":"update","table":"tasks","schema":"public","record":{"id":"t1"},"old_record":{"id":"t1"}}`)
	if e.Kind != KindStoreChange || e.ChangeType != ChangeUpdate || e.Table != "tasks" || e.ID() != "t1" {
		t.Fatalf("unexpected store-change event: %+v", e)
	}

	e = mustParse(t, `{"event_type":"manual_trigger","context":{"note":"check overdue tasks"}}`)
	if e.Kind != KindCustom || e.EventType != "manual_trigger" || e.Source() != "manual_trigger" {
		t.Fatalf("unexpected custom event: %+v", e)
	}

	if _, err := Parse([]byte(`{not json`)); !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
	for _, body := range []string{`{"foo":1}`, `[1,2]`, `{"type":"INSERT"}`} {
		if _, err := Parse([]byte(body)); !errors.Is(err, ErrUnrecognizedEvent) {
			t.Fatalf("%s: expected ErrUnrecognizedEvent, got %v", body, err)
		}
	}
}

func TestNormalizeDenylist(t *testing.T) {
	t.Parallel()
	n := NewNormalizer()
	for _, table := range []string{"auth_sessions", "sessions", "refresh_tokens", "agent_logs", "activity_log"} {
		if out, ok := n.Normalize(&Event{Kind: KindStoreChange, Table: table, ChangeType: ChangeInsert}); ok || out != "" {
			t.Fatalf("table %s must be ignored", table)
		}
	}

	custom := NewNormalizer(WithDenylist("invoices"))
	if _, ok := custom.Normalize(&Event{Kind: KindStoreChange, Table: "sessions", ChangeType: ChangeInsert}); !ok {
		t.Fatalf("custom denylist replaces the default one")
	}
	if _, ok := custom.Normalize(&Event{Kind: KindStoreChange, Table: "Invoices", ChangeType: ChangeInsert}); ok {
		t.Fatalf("denylist match is case-insensitive")
	}
}

func TestNormalizeUpdateIncludesOnlyChangedFields(t *testing.T) {
	t.Parallel()
	e := mustParse(t, `{
		"type": "UPDATE",
		"table": "tasks",
		"record":     {"id":"t1","title":"Ship","status":"done","priority":2,"tags":{"a":1,"b":2}},
		"old_record": {"id":"t1","title":"Ship","status":"todo","priority":2,"tags":{"b":2,"a":1}}
	}`)
	out, ok := NewNormalizer().Normalize(e)
	if !ok {
		t.Fatalf("expected actionable event")
	}
	if !strings.HasPrefix(out, `UPDATE on "tasks"`) {
		t.Fatalf("unexpected header: %s", out)
	}
	_, changes, found := strings.Cut(out, "Changes:\n")
	if !found {
		t.Fatalf("missing changes section: %s", out)
	}
	want := "{\n  \"status\": {\n    \"from\": \"todo\",\n    \"to\": \"done\"\n  }\n}"
	if changes != want {
		t.Fatalf("unexpected changes:\n%s\nwant:\n%s", changes, want)
	}
	if !strings.Contains(out, "Record:\n{\n  \"id\": \"t1\"") {
		t.Fatalf("record section must hold the new record: %s", out)
	}
}

func TestNormalizeInsertHasNoChanges(t *testing.T) {
	t.Parallel()
	e := mustParse(t, `{"type":"INSERT","table":"clients","record":{"id":7,"name":"Acme"}}`)
	out, ok := NewNormalizer().Normalize(e)
	if !ok || strings.Contains(out, "Changes:") {
		t.Fatalf("unexpected output: %s", out)
	}
	if e.ID() != "7" {
		t.Fatalf("unexpected id: %q", e.ID())
	}
}

func TestNormalizeDeleteUsesPreviousRecord(t *testing.T) {
	t.Parallel()
	e := mustParse(t, `{"type":"DELETE","table":"projects","record":null,"old_record":{"id":"p9","name":"Site"}}`)
	out, ok := NewNormalizer().Normalize(e)
	if !ok || !strings.Contains(out, `"name": "Site"`) {
		t.Fatalf("unexpected output: %s", out)
	}
	if e.ID() != "p9" {
		t.Fatalf("unexpected id: %q", e.ID())
	}
}

func TestNormalizeCustomEvent(t *testing.T) {
	t.Parallel()
	e := mustParse(t, `{"event_type":"manual_trigger","context":{"note":"review <overdue>"}}`)
	out, ok := NewNormalizer().Normalize(e)
	if !ok {
		t.Fatalf("custom events are always actionable")
	}
	want := "Custom Event: manual_trigger\n\nContext:\n{\n  \"note\": \"review <overdue>\"\n}"
	if out != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", out, want)
	}
}

func TestDiffTreatsMissingKeysAsNull(t *testing.T) {
	t.Parallel()
	changes := Diff(map[string]any{"a": 1}, map[string]any{"a": 1, "b": "x", "c": nil})
	if len(changes) != 1 {
		t.Fatalf("unexpected diff: %+v", changes)
	}
	if c := changes["b"]; c.From != nil || c.To != "x" {
		t.Fatalf("unexpected change: %+v", c)
	}
}
