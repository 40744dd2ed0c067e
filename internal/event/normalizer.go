package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultDenylist holds tables whose changes never trigger the agent. The
// last two are written by the agent itself.
var DefaultDenylist = []string{"auth_sessions", "sessions", "refresh_tokens", "agent_logs", "activity_log"}

// FieldChange is one entry of an UPDATE diff.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Normalizer turns events into natural-language task descriptions.
type Normalizer struct {
	denylist map[string]struct{}
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithDenylist replaces the default denylist.
func WithDenylist(tables ...string) Option {
	return func(n *Normalizer) {
		n.denylist = make(map[string]struct{}, len(tables))
		for _, t := range tables {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				n.denylist[t] = struct{}{}
			}
		}
	}
}

// NewNormalizer builds a Normalizer using DefaultDenylist unless overridden.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{}
	WithDenylist(DefaultDenylist...)(n)
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Denied reports whether changes to table are ignored.
func (n *Normalizer) Denied(table string) bool {
	_, ok := n.denylist[strings.ToLower(strings.TrimSpace(table))]
	return ok
}

// Normalize renders e as a task description. The boolean is false when the
// event is not actionable.
func (n *Normalizer) Normalize(e *Event) (string, bool) {
	if e == nil {
		return "", false
	}
	switch e.Kind {
	case KindCustom:
		return fmt.Sprintf("Custom Event: %s\n\nContext:\n%s", e.EventType, pretty(e.Context)), true
	case KindStoreChange:
		if n.Denied(e.Table) {
			return "", false
		}
	default:
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s on %q", e.ChangeType, e.Table)

	record := e.Record
	if len(record) == 0 && e.ChangeType == ChangeDelete {
		record = e.PreviousRecord
	}
	if record == nil {
		record = map[string]any{}
	}
	b.WriteString("\n\nRecord:\n")
	b.WriteString(pretty(record))

	if e.ChangeType == ChangeUpdate {
		if changes := Diff(e.PreviousRecord, e.Record); len(changes) > 0 {
			b.WriteString("\n\nChanges:\n")
			b.WriteString(pretty(changes))
		}
	}
	return b.String(), true
}

// Diff compares the new record against the old one key by key. Values are
// compared by their JSON encoding; keys absent from previous count as null.
func Diff(previous, current map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for key, to := range current {
		from, ok := previous[key]
		if !ok {
			from = nil
		}
		if stable(from) == stable(to) {
			continue
		}
		changes[key] = FieldChange{From: from, To: to}
	}
	return changes
}

// stable encodes v with sorted map keys.
func stable(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(raw)
}

func pretty(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
