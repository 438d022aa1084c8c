package company

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mailoreply.ai/platform/internal/ledger"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/database"
)

const companyColumns = `
	c.id, c.name, c.domain, c.max_users,
	(SELECT COUNT(*) FROM users u WHERE u.company_id = c.id),
	c.status, c.created_at, c.updated_at`

const invitationColumns = `
	id, company_id, email, name, role, COALESCE(token, ''), status, invited_by,
	expires_at, accepted_at, accepted_by, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCompany(row rowScanner) (models.Company, error) {
	var c models.Company
	var domain sql.NullString
	err := row.Scan(&c.ID, &c.Name, &domain, &c.MaxUsers, &c.CurrentUsers, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Company{}, ErrNotFound
	}
	if err != nil {
		return models.Company{}, err
	}
	if domain.Valid {
		c.Domain = &domain.String
	}
	return c, nil
}

func scanInvitation(row rowScanner) (models.Invitation, error) {
	var inv models.Invitation
	var invitedBy, acceptedBy sql.NullString
	var acceptedAt sql.NullTime
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.Email, &inv.Name, &inv.Role, &inv.Token, &inv.Status,
		&invitedBy, &inv.ExpiresAt, &acceptedAt, &acceptedBy, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invitation{}, ErrNotFound
	}
	if err != nil {
		return models.Invitation{}, err
	}
	if invitedBy.Valid {
		inv.InvitedBy = &invitedBy.String
	}
	if acceptedBy.Valid {
		inv.AcceptedBy = &acceptedBy.String
	}
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	return inv, nil
}

type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]models.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies c ORDER BY c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Company{}
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (models.Company, error) {
	return scanCompany(s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies c WHERE c.id = $1`, id))
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c models.Company) (models.Company, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, domain, max_users, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Name, c.Domain, c.MaxUsers, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return models.Company{}, err
	}
	return s.GetCompany(ctx, c.ID)
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, c models.Company) (models.Company, error) {
	err := affected(s.db.ExecContext(ctx, `
		UPDATE companies SET name = $1, domain = $2, max_users = $3, updated_at = $4
		WHERE id = $5
	`, c.Name, c.Domain, c.MaxUsers, c.UpdatedAt, c.ID))
	if err != nil {
		return models.Company{}, err
	}
	return s.GetCompany(ctx, c.ID)
}

func (s *PostgresStore) SetCompanyStatus(ctx context.Context, id string, status models.CompanyStatus) error {
	userStatus := models.StatusActive
	if status == models.CompanySuspended {
		userStatus = models.StatusSuspended
	}
	return s.db.WithTx(ctx, nil, func(tx *sql.Tx) error {
		err := affected(tx.ExecContext(ctx,
			`UPDATE companies SET status = $1, updated_at = NOW() WHERE id = $2`, status, id))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET status = $1, updated_at = NOW() WHERE company_id = $2`, userStatus, id)
		return err
	})
}

func (s *PostgresStore) DeleteCompany(ctx context.Context, id string) error {
	return s.db.WithTx(ctx, nil, func(tx *sql.Tx) error {
		free := models.LimitsFor(models.RoleFree)
		_, err := tx.ExecContext(ctx, `
			UPDATE users SET company_id = NULL, role = $1,
				daily_limit = $2, monthly_limit = $3, device_limit = $4, updated_at = NOW()
			WHERE company_id = $5
		`, models.RoleFree, free.Daily, free.Monthly, free.Devices, id)
		if err != nil {
			return err
		}
		return affected(tx.ExecContext(ctx, `DELETE FROM companies WHERE id = $1`, id))
	})
}

func (s *PostgresStore) CompanyOf(ctx context.Context, userID string) (string, error) {
	var id sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT company_id FROM users WHERE id = $1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id.String, err
}

func (s *PostgresStore) ListMembers(ctx context.Context, companyID string) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledger.UserColumns()+` FROM users WHERE company_id = $1 ORDER BY created_at`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.User{}
	for rows.Next() {
		u, err := ledger.ScanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

func (s *PostgresStore) RemoveMember(ctx context.Context, companyID, userID string) error {
	free := models.LimitsFor(models.RoleFree)
	return affected(s.db.ExecContext(ctx, `
		UPDATE users SET company_id = NULL, role = $1,
			daily_limit = $2, monthly_limit = $3, device_limit = $4, updated_at = NOW()
		WHERE id = $5 AND company_id = $6
	`, models.RoleFree, free.Daily, free.Monthly, free.Devices, userID, companyID))
}

func (s *PostgresStore) AddInvitations(ctx context.Context, companyID string, invs []models.Invitation, now time.Time) error {
	return s.db.WithTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sql.Tx) error {
		var maxUsers int
		var status models.CompanyStatus
		err := tx.QueryRowContext(ctx,
			`SELECT max_users, status FROM companies WHERE id = $1 FOR UPDATE`, companyID).Scan(&maxUsers, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if status != models.CompanyActive {
			return ErrSuspended
		}

		var taken int
		err = tx.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM users WHERE company_id = $1)
			     + (SELECT COUNT(*) FROM invitations WHERE company_id = $1 AND status = 'pending' AND expires_at > $2)
		`, companyID, now).Scan(&taken)
		if err != nil {
			return err
		}
		if taken+len(invs) > maxUsers {
			return ErrSeatLimit
		}

		for _, inv := range invs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO invitations (id, company_id, email, name, role, token, status, invited_by, expires_at, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`, inv.ID, companyID, inv.Email, inv.Name, inv.Role, inv.Token, inv.Status, inv.InvitedBy, inv.ExpiresAt, inv.CreatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListInvitations(ctx context.Context, companyID string) ([]models.Invitation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE company_id = $1 ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

func (s *PostgresStore) GetInvitation(ctx context.Context, id string) (models.Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
}

func (s *PostgresStore) InvitationByToken(ctx context.Context, token string) (models.Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token = $1`, token))
}

func (s *PostgresStore) ExtendInvitation(ctx context.Context, id string, expiresAt time.Time) error {
	return affected(s.db.ExecContext(ctx,
		`UPDATE invitations SET expires_at = $1 WHERE id = $2 AND status = 'pending'`, expiresAt, id))
}

func (s *PostgresStore) CancelInvitation(ctx context.Context, id string) error {
	return affected(s.db.ExecContext(ctx,
		`UPDATE invitations SET status = 'cancelled' WHERE id = $1 AND status = 'pending'`, id))
}

func (s *PostgresStore) AcceptInvitation(ctx context.Context, token, userID string, at time.Time) error {
	err := affected(s.db.ExecContext(ctx, `
		UPDATE invitations SET status = 'accepted', accepted_at = $1, accepted_by = $2
		WHERE token = $3 AND status = 'pending' AND expires_at > $1
	`, at, userID, token))
	if errors.Is(err, ErrNotFound) {
		return ErrNotPending
	}
	return err
}
