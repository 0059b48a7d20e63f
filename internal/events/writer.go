// Package events persists the append-only audit log. Every engine mutation
// appends one row inside the mutation's own transaction.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded by the engine. The values are part of the stored
// format; webhook filters and API type queries match them verbatim.
const (
	ProjectInit       = "project.init"
	ItemCreated       = "item.created"
	ItemUpdated       = "item.updated"
	RAGUpdated        = "rag.updated"
	StageTransitioned = "stage.transitioned"
	StageReverted     = "stage.reverted"
	GateOverridden    = "gate.overridden"
	RoleGranted       = "rbac.role.granted"
	RoleRevoked       = "rbac.role.revoked"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside the caller's transaction. A nil payload is
// stored as an empty object so readers never see SQL NULL there.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	clock := time.Now
	if w.Now != nil {
		clock = w.Now
	}
	ts := clock().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
