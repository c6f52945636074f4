package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sitework/api/internal/rbac"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, is_email_verified
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_memberships WHERE project_id=$1 AND user_id=$2)
	`, projectID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check project membership: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) AddProjectMember(ctx context.Context, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_memberships (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("add project member: %w", err)
	}
	return nil
}

// ResourceOwnership resolves the owning client and (when project-scoped) the
// project of a resource. Returns nil when the resource does not exist, so the
// resolver can deny without distinguishing missing from forbidden.
func (s *PostgresStore) ResourceOwnership(ctx context.Context, kind rbac.ResourceKind, id string) (*rbac.Ownership, error) {
	var query string
	switch kind {
	case rbac.KindLead:
		query = `SELECT client_id, NULL::TEXT FROM leads WHERE id=$1`
	case rbac.KindProject:
		query = `SELECT client_id, id FROM projects WHERE id=$1`
	case rbac.KindEstimate:
		query = `
			SELECT COALESCE(p.client_id, l.client_id, ''), e.project_id
			FROM estimates e
			LEFT JOIN projects p ON p.id = e.project_id
			LEFT JOIN leads l ON l.id = e.lead_id
			WHERE e.id=$1`
	case rbac.KindEstimateItem:
		query = `
			SELECT COALESCE(p.client_id, l.client_id, ''), e.project_id
			FROM estimate_items i
			JOIN estimates e ON e.id = i.estimate_id
			LEFT JOIN projects p ON p.id = e.project_id
			LEFT JOIN leads l ON l.id = e.lead_id
			WHERE i.id=$1`
	case rbac.KindScheduleProposal:
		query = `
			SELECT p.client_id, p.id
			FROM schedule_proposals sp
			JOIN projects p ON p.id = sp.project_id
			WHERE sp.id=$1`
	case rbac.KindScheduleEvent:
		query = `
			SELECT p.client_id, p.id
			FROM schedule_events se
			JOIN projects p ON p.id = se.project_id
			WHERE se.id=$1`
	case rbac.KindChangeRequest:
		query = `
			SELECT p.client_id, p.id
			FROM change_requests cr
			JOIN projects p ON p.id = cr.project_id
			WHERE cr.id=$1`
	case rbac.KindAttachment:
		query = `
			SELECT COALESCE(p.client_id, pe.client_id, l.client_id, ''), COALESCE(a.project_id, e.project_id)
			FROM attachments a
			LEFT JOIN projects p ON p.id = a.project_id
			LEFT JOIN estimates e ON e.id = a.estimate_id
			LEFT JOIN projects pe ON pe.id = e.project_id
			LEFT JOIN leads l ON l.id = e.lead_id
			WHERE a.id=$1`
	default:
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}

	var clientID sql.NullString
	var projectID sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(&clientID, &projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve ownership %s/%s: %w", kind, id, err)
	}
	return &rbac.Ownership{ClientID: clientID.String, ProjectID: projectID.String}, nil
}
