package store

import (
	"context"
	"database/sql"
	"fmt"
)

const changeColumns = `id, project_id, title, body, status, cost_delta_cents, schedule_delta_days, created_by, submitted_at, decided_at, decided_by, decision_note, created_at`

func scanChange(row interface{ Scan(...any) error }) (ChangeRequest, error) {
	var item ChangeRequest
	var body, decidedBy, decisionNote sql.NullString
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Title,
		&body,
		&item.Status,
		&item.CostDeltaCents,
		&item.ScheduleDeltaDays,
		&item.CreatedBy,
		&item.SubmittedAt,
		&item.DecidedAt,
		&decidedBy,
		&decisionNote,
		&item.CreatedAt,
	)
	if err != nil {
		return ChangeRequest{}, err
	}
	item.Body = body.String
	item.DecidedBy = decidedBy.String
	item.DecisionNote = decisionNote.String
	return item, nil
}

func (s *PostgresStore) GetChangeRequest(ctx context.Context, changeID string) (ChangeRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+changeColumns+` FROM change_requests WHERE id=$1`, changeID)
	return scanChange(row)
}

func (s *PostgresStore) ListChangeRequests(ctx context.Context, projectID string) ([]ChangeRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+changeColumns+` FROM change_requests
		WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	defer rows.Close()

	items := make([]ChangeRequest, 0)
	for rows.Next() {
		item, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change requests: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertChangeRequest(ctx context.Context, item ChangeRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO change_requests (id, project_id, title, body, status, cost_delta_cents, schedule_delta_days, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.ProjectID, item.Title, item.Body, item.Status, item.CostDeltaCents, item.ScheduleDeltaDays, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert change request: %w", err)
	}
	return nil
}

// UpdateChangeRequestDraft edits a change request only while it is a draft.
func (s *PostgresStore) UpdateChangeRequestDraft(ctx context.Context, item ChangeRequest) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_requests
		SET title=$2, body=$3, cost_delta_cents=$4, schedule_delta_days=$5
		WHERE id=$1 AND status='draft'
	`, item.ID, item.Title, item.Body, item.CostDeltaCents, item.ScheduleDeltaDays)
	if err != nil {
		return false, fmt.Errorf("update change request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update change request rows: %w", err)
	}
	return rows > 0, nil
}

// DeleteChangeRequestDraft hard-deletes a draft; decided rows are kept.
func (s *PostgresStore) DeleteChangeRequestDraft(ctx context.Context, changeID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM change_requests WHERE id=$1 AND status='draft'`, changeID)
	if err != nil {
		return false, fmt.Errorf("delete change request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete change request rows: %w", err)
	}
	return rows > 0, nil
}

// SubmitChangeRequest is one-way: draft to submitted.
func (s *PostgresStore) SubmitChangeRequest(ctx context.Context, changeID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_requests
		SET status='submitted', submitted_at=NOW()
		WHERE id=$1 AND status='draft'
	`, changeID)
	if err != nil {
		return false, fmt.Errorf("submit change request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("submit change request rows: %w", err)
	}
	return rows > 0, nil
}

// DecideChangeRequest applies approve/reject, guarded on submitted.
func (s *PostgresStore) DecideChangeRequest(ctx context.Context, changeID, verdictStatus, decidedBy, note string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_requests
		SET status=$2, decided_at=NOW(), decided_by=$3, decision_note=$4
		WHERE id=$1 AND status='submitted'
	`, changeID, verdictStatus, decidedBy, note)
	if err != nil {
		return false, fmt.Errorf("decide change request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide change request rows: %w", err)
	}
	return rows > 0, nil
}

// CancelChangeRequest cancels a draft, submitted or approved change request.
func (s *PostgresStore) CancelChangeRequest(ctx context.Context, changeID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_requests
		SET status='cancelled'
		WHERE id=$1 AND status IN ('draft', 'submitted', 'approved')
	`, changeID)
	if err != nil {
		return false, fmt.Errorf("cancel change request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel change request rows: %w", err)
	}
	return rows > 0, nil
}

// MarkChangeRequestImplemented closes out an approved change request.
func (s *PostgresStore) MarkChangeRequestImplemented(ctx context.Context, changeID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_requests SET status='implemented' WHERE id=$1 AND status='approved'
	`, changeID)
	if err != nil {
		return false, fmt.Errorf("mark change implemented: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark change implemented rows: %w", err)
	}
	return rows > 0, nil
}
