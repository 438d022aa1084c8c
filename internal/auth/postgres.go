package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"mailoreply.ai/platform/internal/ledger"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/database"
)

type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	var hash sql.NullString
	if u.PasswordHash != "" {
		hash = sql.NullString{String: u.PasswordHash, Valid: true}
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (
			id, email, name, password_hash, role, status, company_id,
			daily_limit, monthly_limit, device_limit, daily_usage, monthly_usage,
			last_daily_reset, last_monthly_reset
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, 0, $11, $12)
		RETURNING `+ledger.UserColumns(),
		u.ID, u.Email, u.Name, hash, u.Role, u.Status, u.CompanyID,
		u.DailyLimit, u.MonthlyLimit, u.DeviceLimit, u.LastDailyReset, u.LastMonthlyReset)

	created, err := ledger.ScanUser(row)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.User{}, ErrEmailTaken
	}
	if err != nil {
		return models.User{}, err
	}
	created.PasswordHash = u.PasswordHash
	return created, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledger.UserColumns()+` FROM users WHERE id = $1`, id)
	return ledger.ScanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledger.UserColumns()+` FROM users WHERE email = $1`, email)
	u, err := ledger.ScanUser(row)
	if err != nil {
		return models.User{}, err
	}

	var hash sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = $1`, u.ID).Scan(&hash); err != nil {
		return models.User{}, err
	}
	u.PasswordHash = hash.String
	return u, nil
}

func (s *PostgresStore) EnsureUser(ctx context.Context, u models.User) (models.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, name, role, status, daily_limit, monthly_limit, device_limit,
			last_daily_reset, last_monthly_reset
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, u.ID, u.Email, u.Name, u.Role, u.Status, u.DailyLimit, u.MonthlyLimit, u.DeviceLimit,
		u.LastDailyReset, u.LastMonthlyReset)
	if err != nil {
		return models.User{}, err
	}
	return s.GetUser(ctx, u.ID)
}

func (s *PostgresStore) GetSettings(ctx context.Context, userID string) (models.UserSettings, error) {
	var st models.UserSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, always_encrypt, encryption_enabled, default_language, default_tone, updated_at
		FROM user_settings WHERE user_id = $1
	`, userID).Scan(&st.UserID, &st.AlwaysEncrypt, &st.EncryptionEnabled, &st.DefaultLanguage, &st.DefaultTone, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserSettings{}, ledger.ErrNotFound
	}
	return st, err
}

func (s *PostgresStore) UpsertSettings(ctx context.Context, st models.UserSettings) (models.UserSettings, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, always_encrypt, encryption_enabled, default_language, default_tone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			always_encrypt = EXCLUDED.always_encrypt,
			encryption_enabled = EXCLUDED.encryption_enabled,
			default_language = EXCLUDED.default_language,
			default_tone = EXCLUDED.default_tone,
			updated_at = EXCLUDED.updated_at
	`, st.UserID, st.AlwaysEncrypt, st.EncryptionEnabled, st.DefaultLanguage, st.DefaultTone, st.UpdatedAt)
	if err != nil {
		return models.UserSettings{}, err
	}
	return st, nil
}
