package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrStaleStatus marks a guarded update that matched no rows: the entity's
// status changed underneath the caller.
var ErrStaleStatus = errors.New("status changed concurrently")

const estimateColumns = `id, lead_id, project_id, title, status, created_by, submitted_at, decided_at, decided_by, decision_note, created_at`

func scanEstimate(row interface{ Scan(...any) error }) (Estimate, error) {
	var item Estimate
	var decidedBy, decisionNote sql.NullString
	err := row.Scan(
		&item.ID,
		&item.LeadID,
		&item.ProjectID,
		&item.Title,
		&item.Status,
		&item.CreatedBy,
		&item.SubmittedAt,
		&item.DecidedAt,
		&decidedBy,
		&decisionNote,
		&item.CreatedAt,
	)
	if err != nil {
		return Estimate{}, err
	}
	item.DecidedBy = decidedBy.String
	item.DecisionNote = decisionNote.String
	return item, nil
}

func (s *PostgresStore) GetEstimate(ctx context.Context, estimateID string) (Estimate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+estimateColumns+` FROM estimates WHERE id=$1`, estimateID)
	return scanEstimate(row)
}

// GetActiveEstimateForLead returns the lead's current estimate, nil if none.
func (s *PostgresStore) GetActiveEstimateForLead(ctx context.Context, leadID string) (*Estimate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+estimateColumns+` FROM estimates
		WHERE lead_id=$1
		ORDER BY created_at DESC
		LIMIT 1
	`, leadID)
	item, err := scanEstimate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lead estimate: %w", err)
	}
	return &item, nil
}

// GetActiveEstimateForProject returns the project's current estimate, nil if none.
func (s *PostgresStore) GetActiveEstimateForProject(ctx context.Context, projectID string) (*Estimate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+estimateColumns+` FROM estimates
		WHERE project_id=$1
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID)
	item, err := scanEstimate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project estimate: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) InsertEstimate(ctx context.Context, item Estimate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO estimates (id, lead_id, project_id, title, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.LeadID, item.ProjectID, item.Title, item.Status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert estimate: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEstimateItems(ctx context.Context, estimateID string) ([]EstimateItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, estimate_id, position, title, pricing_mode, quantity, unit_cost_cents, fixed_cost_cents, item_status, created_at
		FROM estimate_items
		WHERE estimate_id=$1
		ORDER BY position ASC
	`, estimateID)
	if err != nil {
		return nil, fmt.Errorf("list estimate items: %w", err)
	}
	defer rows.Close()

	items := make([]EstimateItem, 0)
	for rows.Next() {
		var item EstimateItem
		if err := rows.Scan(
			&item.ID,
			&item.EstimateID,
			&item.Position,
			&item.Title,
			&item.PricingMode,
			&item.Quantity,
			&item.UnitCostCents,
			&item.FixedCostCents,
			&item.ItemStatus,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan estimate item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate estimate items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetEstimateItem(ctx context.Context, itemID string) (EstimateItem, error) {
	var item EstimateItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, estimate_id, position, title, pricing_mode, quantity, unit_cost_cents, fixed_cost_cents, item_status, created_at
		FROM estimate_items
		WHERE id=$1
	`, itemID).Scan(
		&item.ID,
		&item.EstimateID,
		&item.Position,
		&item.Title,
		&item.PricingMode,
		&item.Quantity,
		&item.UnitCostCents,
		&item.FixedCostCents,
		&item.ItemStatus,
		&item.CreatedAt,
	)
	if err != nil {
		return EstimateItem{}, err
	}
	return item, nil
}

func (s *PostgresStore) NextItemPosition(ctx context.Context, estimateID string) (int, error) {
	var position int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), 0) + 10 FROM estimate_items WHERE estimate_id=$1
	`, estimateID).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("next item position: %w", err)
	}
	return position, nil
}

func (s *PostgresStore) InsertEstimateItem(ctx context.Context, item EstimateItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO estimate_items (id, estimate_id, position, title, pricing_mode, quantity, unit_cost_cents, fixed_cost_cents, item_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.EstimateID, item.Position, item.Title, item.PricingMode, item.Quantity, item.UnitCostCents, item.FixedCostCents, item.ItemStatus)
	if err != nil {
		return fmt.Errorf("insert estimate item: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateEstimateItem(ctx context.Context, item EstimateItem) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE estimate_items
		SET title=$2, pricing_mode=$3, quantity=$4, unit_cost_cents=$5, fixed_cost_cents=$6, item_status=$7
		WHERE id=$1
	`, item.ID, item.Title, item.PricingMode, item.Quantity, item.UnitCostCents, item.FixedCostCents, item.ItemStatus)
	if err != nil {
		return fmt.Errorf("update estimate item: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateEstimateItemStatus(ctx context.Context, itemID, itemStatus string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE estimate_items SET item_status=$2 WHERE id=$1`, itemID, itemStatus)
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteEstimateItem(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM estimate_items WHERE id=$1`, itemID)
	if err != nil {
		return fmt.Errorf("delete estimate item: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountEstimateItems(ctx context.Context, estimateID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM estimate_items WHERE estimate_id=$1`, estimateID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count estimate items: %w", err)
	}
	return count, nil
}

// SubmitEstimate flips a draft estimate to submitted, guarded so a repeat
// submit cannot double-stamp. The lead status advance (when lead-scoped)
// rides in the same transaction.
func (s *PostgresStore) SubmitEstimate(ctx context.Context, estimateID string, leadID *string) (bool, error) {
	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE estimates
			SET status='submitted', submitted_at=NOW()
			WHERE id=$1 AND status='draft'
		`, estimateID)
		if err != nil {
			return fmt.Errorf("submit estimate: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("submit estimate rows: %w", err)
		}
		if rows == 0 {
			return nil
		}
		changed = true
		if leadID != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE leads SET status='checklist_submitted', updated_at=NOW() WHERE id=$1 AND status='new'
			`, *leadID); err != nil {
				return fmt.Errorf("advance lead status: %w", err)
			}
		}
		return nil
	})
	return changed, err
}

// DecideEstimate applies an approve/reject verdict with a conditional update;
// zero affected rows means the estimate was not submitted (already decided or
// still draft) and the caller reports a conflict. The owning lead's status
// moves in step within the same transaction.
func (s *PostgresStore) DecideEstimate(ctx context.Context, estimateID, verdictStatus, decidedBy, note string, leadID *string, leadStatus string) (bool, error) {
	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE estimates
			SET status=$2, decided_at=NOW(), decided_by=$3, decision_note=$4
			WHERE id=$1 AND status='submitted'
		`, estimateID, verdictStatus, decidedBy, note)
		if err != nil {
			return fmt.Errorf("decide estimate: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("decide estimate rows: %w", err)
		}
		if rows == 0 {
			return nil
		}
		changed = true
		if leadID != nil && leadStatus != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE leads SET status=$2, updated_at=NOW() WHERE id=$1
			`, *leadID, leadStatus); err != nil {
				return fmt.Errorf("advance lead status: %w", err)
			}
		}
		return nil
	})
	return changed, err
}

// ConvertEstimate materializes a project from an approved lead estimate: the
// project row, the copied estimate with its decision metadata, the copied
// items, and the lead's move to converted all commit together or not at all.
func (s *PostgresStore) ConvertEstimate(ctx context.Context, project Project, copied Estimate, items []EstimateItem, leadID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, lead_id, client_id, title, site_address, assigned_pm_id, status, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, project.ID, project.LeadID, project.ClientID, project.Title, project.SiteAddress, project.AssignedPMID, project.Status, project.CreatedBy); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO estimates (id, project_id, title, status, created_by, submitted_at, decided_at, decided_by, decision_note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, copied.ID, copied.ProjectID, copied.Title, copied.Status, copied.CreatedBy, copied.SubmittedAt, copied.DecidedAt, copied.DecidedBy, copied.DecisionNote); err != nil {
			return fmt.Errorf("copy estimate: %w", err)
		}

		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO estimate_items (id, estimate_id, position, title, pricing_mode, quantity, unit_cost_cents, fixed_cost_cents, item_status)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, item.ID, item.EstimateID, item.Position, item.Title, item.PricingMode, item.Quantity, item.UnitCostCents, item.FixedCostCents, item.ItemStatus); err != nil {
				return fmt.Errorf("copy estimate item: %w", err)
			}
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE leads SET status='converted', updated_at=NOW() WHERE id=$1 AND status='approved'
		`, leadID)
		if err != nil {
			return fmt.Errorf("mark lead converted: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark lead converted rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("lead %s is not approved: %w", leadID, ErrStaleStatus)
		}
		return nil
	})
}
