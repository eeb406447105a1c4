// Package events appends to the workflow diary. Rows are written inside the
// caller's transaction so the log commits or rolls back with the state change
// it describes.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type Writer struct {
	DB *sql.DB
}

type EventPayload map[string]any

// Entry is one diary line. ProjectID and EntityID may be empty and are stored
// as NULL.
type Entry struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// Append writes one event row with the caller's timestamp, so event times
// line up with the request/project rows written in the same transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, ts string, e Entry) error {
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Type, nullable(e.ProjectID), e.EntityKind, nullable(e.EntityID), e.ActorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
