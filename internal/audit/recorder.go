// Package audit records workflow events into an append-only log table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

// Recorder writes audit entries. Writes are asynchronous and never block or
// fail the calling operation; a lost audit row is logged, not surfaced.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record captures one audit event. Safe to call on a nil receiver.
func (r *Recorder) Record(action, entityType, entityID, actorID string, meta map[string]any) {
	if r == nil || r.db == nil {
		return
	}

	metaJSON := []byte("{}")
	if len(meta) > 0 {
		encoded, err := json.Marshal(meta)
		if err != nil {
			log.Printf("audit: marshal meta for %s %s/%s: %v", action, entityType, entityID, err)
		} else {
			metaJSON = encoded
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var actor any
		if actorID != "" {
			actor = actorID
		}
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO audit_log (action, entity_type, entity_id, actor_id, meta)
			VALUES ($1, $2, $3, $4, $5)
		`, action, entityType, entityID, actor, metaJSON)
		if err != nil {
			log.Printf("audit: record %s %s/%s: %v", action, entityType, entityID, err)
		}
	}()
}

// Entry is a row read back from the audit log.
type Entry struct {
	ID         int64           `json:"id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	ActorID    string          `json:"actorId,omitempty"`
	Meta       json.RawMessage `json:"meta"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ListForEntity returns the audit trail for one entity, newest first.
func (r *Recorder) ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, entity_type, entity_id, COALESCE(actor_id, ''), meta, created_at
		FROM audit_log
		WHERE entity_type=$1 AND entity_id=$2
		ORDER BY id DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.ActorID, &e.Meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
