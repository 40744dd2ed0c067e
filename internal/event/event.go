// Package event parses inbound webhook payloads and renders them as task
// descriptions for the agent.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes the two accepted payload shapes.
type Kind string

const (
	KindStoreChange Kind = "store-change"
	KindCustom      Kind = "custom"
)

// Change types emitted by database webhooks.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

var (
	// ErrInvalidJSON is returned when the body is not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON body")
	// ErrUnrecognizedEvent is returned for JSON that matches neither shape.
	ErrUnrecognizedEvent = errors.New("unrecognized event shape")
)

// Event is a parsed webhook payload.
type Event struct {
	Kind Kind

	// store-change
	Table          string
	Schema         string
	ChangeType     string
	Record         map[string]any
	PreviousRecord map[string]any

	// custom
	EventType string
	Context   any
}

// Parse decodes a webhook body. Store-change payloads carry "type" and
// "table"; custom payloads carry "event_type".
func Parse(body []byte) (*Event, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrUnrecognizedEvent
	}

	changeType, _ := obj["type"].(string)
	table, _ := obj["table"].(string)
	if strings.TrimSpace(changeType) != "" && strings.TrimSpace(table) != "" {
		schema, _ := obj["schema"].(string)
		record, _ := obj["record"].(map[string]any)
		previous, _ := obj["old_record"].(map[string]any)
		return &Event{
			Kind:           KindStoreChange,
			Table:          strings.TrimSpace(table),
			Schema:         schema,
			ChangeType:     strings.ToUpper(strings.TrimSpace(changeType)),
			Record:         record,
			PreviousRecord: previous,
		}, nil
	}

	if eventType, _ := obj["event_type"].(string); strings.TrimSpace(eventType) != "" {
		ctx, present := obj["context"]
		if !present || ctx == nil {
			ctx = map[string]any{}
		}
		return &Event{Kind: KindCustom, EventType: strings.TrimSpace(eventType), Context: ctx}, nil
	}
	return nil, ErrUnrecognizedEvent
}

// ID returns the id of the affected record, falling back to the previous
// record. Custom events return the context "id" when present.
func (e *Event) ID() string {
	if e == nil {
		return ""
	}
	for _, rec := range []map[string]any{e.Record, e.PreviousRecord} {
		if v, ok := rec["id"]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	if ctx, ok := e.Context.(map[string]any); ok {
		if v, ok := ctx["id"]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// Source names the table or custom event type, used for audit records.
func (e *Event) Source() string {
	if e == nil {
		return ""
	}
	if e.Kind == KindCustom {
		return e.EventType
	}
	return e.Table
}
