package store

import (
	"context"
	"database/sql"
	"fmt"
)

const leadColumns = `id, client_id, title, site_address, status, created_by, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (Lead, error) {
	var item Lead
	var siteAddress sql.NullString
	err := row.Scan(
		&item.ID,
		&item.ClientID,
		&item.Title,
		&siteAddress,
		&item.Status,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Lead{}, err
	}
	item.SiteAddress = siteAddress.String
	return item, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=$1`, leadID)
	return scanLead(row)
}

// ListLeads returns all leads, or just a single client's when clientID is set.
func (s *PostgresStore) ListLeads(ctx context.Context, clientID string) ([]Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads ORDER BY created_at DESC`
	args := []any{}
	if clientID != "" {
		query = `SELECT ` + leadColumns + ` FROM leads WHERE client_id=$1 ORDER BY created_at DESC`
		args = append(args, clientID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	items := make([]Lead, 0)
	for rows.Next() {
		item, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertLead(ctx context.Context, item Lead) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, client_id, title, site_address, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ClientID, item.Title, item.SiteAddress, item.Status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// UpdateLeadStatus moves a lead between lifecycle states, guarded on the
// expected current state.
func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, leadID, fromStatus, toStatus string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE leads SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2
	`, leadID, fromStatus, toStatus)
	if err != nil {
		return false, fmt.Errorf("update lead status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update lead status rows: %w", err)
	}
	return rows > 0, nil
}

const projectColumns = `id, lead_id, client_id, title, site_address, assigned_pm_id, status, created_by, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var item Project
	var siteAddress, assignedPM sql.NullString
	err := row.Scan(
		&item.ID,
		&item.LeadID,
		&item.ClientID,
		&item.Title,
		&siteAddress,
		&assignedPM,
		&item.Status,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	item.SiteAddress = siteAddress.String
	item.AssignedPMID = assignedPM.String
	return item, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID)
	return scanProject(row)
}

// ListProjects returns all projects, a client's projects when clientID is
// set, or only the projects a user belongs to when memberID is set.
func (s *PostgresStore) ListProjects(ctx context.Context, clientID, memberID string) ([]Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC`
	args := []any{}
	switch {
	case clientID != "":
		query = `SELECT ` + projectColumns + ` FROM projects WHERE client_id=$1 ORDER BY created_at DESC`
		args = append(args, clientID)
	case memberID != "":
		query = `
			SELECT ` + projectColumns + ` FROM projects
			WHERE id IN (SELECT project_id FROM project_memberships WHERE user_id=$1)
			ORDER BY created_at DESC`
		args = append(args, memberID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, projectID, fromStatus, toStatus string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2
	`, projectID, fromStatus, toStatus)
	if err != nil {
		return false, fmt.Errorf("update project status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update project status rows: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) AssignProjectPM(ctx context.Context, projectID, pmID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET assigned_pm_id=$2, updated_at=NOW() WHERE id=$1
	`, projectID, pmID)
	if err != nil {
		return fmt.Errorf("assign project pm: %w", err)
	}
	return nil
}

const attachmentColumns = `id, project_id, estimate_id, object_key, filename, content_type, size_bytes, uploaded_by, created_at`

func scanAttachment(row interface{ Scan(...any) error }) (Attachment, error) {
	var item Attachment
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.EstimateID,
		&item.ObjectKey,
		&item.Filename,
		&item.ContentType,
		&item.SizeBytes,
		&item.UploadedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id=$1`, attachmentID)
	return scanAttachment(row)
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, project_id, estimate_id, object_key, filename, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.ProjectID, item.EstimateID, item.ObjectKey, item.Filename, item.ContentType, item.SizeBytes, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjectAttachments(ctx context.Context, projectID string) ([]Attachment, error) {
	return s.listAttachments(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE project_id=$1 ORDER BY created_at DESC`, projectID)
}

func (s *PostgresStore) ListEstimateAttachments(ctx context.Context, estimateID string) ([]Attachment, error) {
	return s.listAttachments(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE estimate_id=$1 ORDER BY created_at DESC`, estimateID)
}

func (s *PostgresStore) listAttachments(ctx context.Context, query string, arg string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		item, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}
