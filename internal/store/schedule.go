package store

import (
	"context"
	"database/sql"
	"fmt"
)

func scanProposal(row interface{ Scan(...any) error }) (ScheduleProposal, error) {
	var item ScheduleProposal
	var note, decidedBy, decisionNote sql.NullString
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Status,
		&item.StartsAt,
		&item.EndsAt,
		&note,
		&item.CreatedBy,
		&item.DecidedAt,
		&decidedBy,
		&decisionNote,
		&item.CreatedAt,
	)
	if err != nil {
		return ScheduleProposal{}, err
	}
	item.Note = note.String
	item.DecidedBy = decidedBy.String
	item.DecisionNote = decisionNote.String
	return item, nil
}

const proposalColumns = `id, project_id, status, starts_at, ends_at, note, created_by, decided_at, decided_by, decision_note, created_at`

func (s *PostgresStore) GetScheduleProposal(ctx context.Context, proposalID string) (ScheduleProposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM schedule_proposals WHERE id=$1`, proposalID)
	return scanProposal(row)
}

func (s *PostgresStore) ListScheduleProposals(ctx context.Context, projectID string) ([]ScheduleProposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM schedule_proposals
		WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list schedule proposals: %w", err)
	}
	defer rows.Close()

	items := make([]ScheduleProposal, 0)
	for rows.Next() {
		item, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule proposal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule proposals: %w", err)
	}
	return items, nil
}

// InsertScheduleProposal creates a submitted proposal and moves the project
// to schedule_proposed in one transaction.
func (s *PostgresStore) InsertScheduleProposal(ctx context.Context, item ScheduleProposal) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schedule_proposals (id, project_id, status, starts_at, ends_at, note, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.ProjectID, item.Status, item.StartsAt, item.EndsAt, item.Note, item.CreatedBy); err != nil {
			return fmt.Errorf("insert schedule proposal: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projects SET status='schedule_proposed', updated_at=NOW()
			WHERE id=$1 AND status IN ('active', 'scheduled')
		`, item.ProjectID); err != nil {
			return fmt.Errorf("mark project schedule_proposed: %w", err)
		}
		return nil
	})
}

// ApproveScheduleProposal stamps the proposal decided and creates the
// resulting calendar event atomically. The conditional status guard makes a
// double-approve race lose cleanly: zero affected rows, no event, ok=false.
func (s *PostgresStore) ApproveScheduleProposal(ctx context.Context, proposalID, decidedBy, note string, event ScheduleEvent) (bool, error) {
	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE schedule_proposals
			SET status='approved', decided_at=NOW(), decided_by=$2, decision_note=$3
			WHERE id=$1 AND status='submitted'
		`, proposalID, decidedBy, note)
		if err != nil {
			return fmt.Errorf("approve schedule proposal: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("approve schedule proposal rows: %w", err)
		}
		if rows == 0 {
			return nil
		}
		changed = true

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schedule_events (id, project_id, title, starts_at, ends_at, status, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, event.ID, event.ProjectID, event.Title, event.StartsAt, event.EndsAt, event.Status, event.CreatedBy); err != nil {
			return fmt.Errorf("create event from proposal: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE projects SET status='scheduled', updated_at=NOW()
			WHERE id=$1 AND status='schedule_proposed'
		`, event.ProjectID); err != nil {
			return fmt.Errorf("mark project scheduled: %w", err)
		}
		return nil
	})
	return changed, err
}

// RejectScheduleProposal stamps the proposal decided with no side effects.
func (s *PostgresStore) RejectScheduleProposal(ctx context.Context, proposalID, decidedBy, note string) (bool, error) {
	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE schedule_proposals
			SET status='rejected', decided_at=NOW(), decided_by=$2, decision_note=$3
			WHERE id=$1 AND status='submitted'
		`, proposalID, decidedBy, note)
		if err != nil {
			return fmt.Errorf("reject schedule proposal: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("reject schedule proposal rows: %w", err)
		}
		if rows == 0 {
			return nil
		}
		changed = true
		if _, err := tx.ExecContext(ctx, `
			UPDATE projects SET status='active', updated_at=NOW()
			WHERE id=(SELECT project_id FROM schedule_proposals WHERE id=$1) AND status='schedule_proposed'
		`, proposalID); err != nil {
			return fmt.Errorf("reset project status: %w", err)
		}
		return nil
	})
	return changed, err
}

func scanEvent(row interface{ Scan(...any) error }) (ScheduleEvent, error) {
	var item ScheduleEvent
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Title,
		&item.StartsAt,
		&item.EndsAt,
		&item.Status,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return ScheduleEvent{}, err
	}
	return item, nil
}

const eventColumns = `id, project_id, title, starts_at, ends_at, status, created_by, created_at`

func (s *PostgresStore) GetScheduleEvent(ctx context.Context, eventID string) (ScheduleEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM schedule_events WHERE id=$1`, eventID)
	return scanEvent(row)
}

func (s *PostgresStore) ListScheduleEvents(ctx context.Context, projectID string) ([]ScheduleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM schedule_events
		WHERE project_id=$1
		ORDER BY starts_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list schedule events: %w", err)
	}
	defer rows.Close()

	items := make([]ScheduleEvent, 0)
	for rows.Next() {
		item, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertScheduleEvent(ctx context.Context, item ScheduleEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_events (id, project_id, title, starts_at, ends_at, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ProjectID, item.Title, item.StartsAt, item.EndsAt, item.Status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert schedule event: %w", err)
	}
	return nil
}

// UpdateScheduleEvent edits an event's window and title while it is still
// approved; cancelled events are immutable.
func (s *PostgresStore) UpdateScheduleEvent(ctx context.Context, item ScheduleEvent) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE schedule_events
		SET title=$2, starts_at=$3, ends_at=$4
		WHERE id=$1 AND status='approved'
	`, item.ID, item.Title, item.StartsAt, item.EndsAt)
	if err != nil {
		return false, fmt.Errorf("update schedule event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update schedule event rows: %w", err)
	}
	return rows > 0, nil
}

// CancelScheduleEvent is terminal; cancelling twice reports no change.
func (s *PostgresStore) CancelScheduleEvent(ctx context.Context, eventID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE schedule_events SET status='cancelled' WHERE id=$1 AND status='approved'
	`, eventID)
	if err != nil {
		return false, fmt.Errorf("cancel schedule event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel schedule event rows: %w", err)
	}
	return rows > 0, nil
}

// ListApprovedEventWindows feeds the conflict detector: approved events
// joined to their project's assigned PM. Projects without a PM yield an
// empty PM id and are skipped by the detector.
func (s *PostgresStore) ListApprovedEventWindows(ctx context.Context) ([]EventWindow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT se.id, se.project_id, se.title, COALESCE(p.assigned_pm_id, ''), se.starts_at, se.ends_at
		FROM schedule_events se
		JOIN projects p ON p.id = se.project_id
		WHERE se.status='approved'
		ORDER BY se.starts_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list approved event windows: %w", err)
	}
	defer rows.Close()

	items := make([]EventWindow, 0)
	for rows.Next() {
		var item EventWindow
		if err := rows.Scan(&item.EventID, &item.ProjectID, &item.Title, &item.PMID, &item.StartsAt, &item.EndsAt); err != nil {
			return nil, fmt.Errorf("scan event window: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event windows: %w", err)
	}
	return items, nil
}
