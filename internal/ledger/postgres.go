package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/database"
)

const userColumns = `
	id, email, COALESCE(name, ''), role, company_id, status,
	daily_limit, monthly_limit, device_limit, daily_usage, monthly_usage,
	last_daily_reset, last_monthly_reset, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// ScanUser reads the columns listed in UserColumns.
func ScanUser(row rowScanner) (models.User, error) {
	var u models.User
	var companyID sql.NullString
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &companyID, &u.Status,
		&u.DailyLimit, &u.MonthlyLimit, &u.DeviceLimit, &u.DailyUsage, &u.MonthlyUsage,
		&u.LastDailyReset, &u.LastMonthlyReset, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	if companyID.Valid {
		u.CompanyID = &companyID.String
	}
	return u, nil
}

// UserColumns is the select list matching ScanUser.
func UserColumns() string { return userColumns }

type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return ScanUser(row)
}

func (s *PostgresStore) CountDevices(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_devices WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

func (s *PostgresStore) Reserve(ctx context.Context, userID string, now time.Time) (models.User, error) {
	var out models.User
	err := s.db.WithTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
		u, err := ScanUser(row)
		if err != nil {
			return err
		}

		u.Normalize(now)
		if u.Status == models.StatusSuspended {
			return ErrSuspended
		}
		if !u.HasQuota() {
			return ErrQuotaExceeded
		}
		u.DailyUsage++
		u.MonthlyUsage++

		_, err = tx.ExecContext(ctx, `
			UPDATE users
			SET daily_usage = $1, monthly_usage = $2,
			    last_daily_reset = $3, last_monthly_reset = $4, updated_at = $5
			WHERE id = $6
		`, u.DailyUsage, u.MonthlyUsage, u.LastDailyReset, u.LastMonthlyReset, now, userID)
		if err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

func (s *PostgresStore) Release(ctx context.Context, userID string, reservedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			daily_usage = CASE
				WHEN (last_daily_reset AT TIME ZONE 'UTC')::date = ($2::timestamptz AT TIME ZONE 'UTC')::date
				THEN GREATEST(daily_usage - 1, 0) ELSE daily_usage END,
			monthly_usage = CASE
				WHEN date_trunc('month', last_monthly_reset AT TIME ZONE 'UTC') = date_trunc('month', $2::timestamptz AT TIME ZONE 'UTC')
				THEN GREATEST(monthly_usage - 1, 0) ELSE monthly_usage END,
			updated_at = NOW()
		WHERE id = $1
	`, userID, reservedAt)
	return err
}

func (s *PostgresStore) Increment(ctx context.Context, userID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			daily_usage = CASE
				WHEN (last_daily_reset AT TIME ZONE 'UTC')::date = ($2::timestamptz AT TIME ZONE 'UTC')::date
				THEN daily_usage + 1 ELSE 1 END,
			last_daily_reset = CASE
				WHEN (last_daily_reset AT TIME ZONE 'UTC')::date = ($2::timestamptz AT TIME ZONE 'UTC')::date
				THEN last_daily_reset ELSE $2 END,
			monthly_usage = CASE
				WHEN date_trunc('month', last_monthly_reset AT TIME ZONE 'UTC') = date_trunc('month', $2::timestamptz AT TIME ZONE 'UTC')
				THEN monthly_usage + 1 ELSE 1 END,
			last_monthly_reset = CASE
				WHEN date_trunc('month', last_monthly_reset AT TIME ZONE 'UTC') = date_trunc('month', $2::timestamptz AT TIME ZONE 'UTC')
				THEN last_monthly_reset ELSE $2 END,
			updated_at = $2
		WHERE id = $1
	`, userID, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertGeneration(ctx context.Context, g models.Generation) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_generations (
			id, user_id, company_id, source, generation_type, language, tone, intent,
			input_length, output_length, encrypted, success, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, g.ID, g.UserID, g.CompanyID, g.Source, g.GenerationType, g.Language, g.Tone, g.Intent,
		g.InputLength, g.OutputLength, g.Encrypted, g.Success, g.ErrorMessage, g.CreatedAt)
	return err
}

const deviceColumns = `id, user_id, device_fingerprint, device_name, status, last_active, created_at`

func scanDevice(row rowScanner) (models.Device, error) {
	var d models.Device
	var name sql.NullString
	if err := row.Scan(&d.ID, &d.UserID, &d.Fingerprint, &name, &d.Status, &d.LastActive, &d.CreatedAt); err != nil {
		return models.Device{}, err
	}
	if name.Valid {
		d.Name = &name.String
	}
	return d, nil
}

// UpsertDevice locks the owner's row so that two tabs registering at once
// cannot both pass the device limit check.
func (s *PostgresStore) UpsertDevice(ctx context.Context, userID, fingerprint string, name *string, now time.Time) (models.Device, bool, error) {
	var (
		device  models.Device
		created bool
	)
	err := s.db.WithTx(ctx, nil, func(tx *sql.Tx) error {
		var limit int
		err := tx.QueryRowContext(ctx, `SELECT device_limit FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&limit)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE user_devices
			SET last_active = $3, device_name = COALESCE($4, device_name), status = 'active'
			WHERE user_id = $1 AND device_fingerprint = $2
			RETURNING `+deviceColumns, userID, fingerprint, now, name)
		device, err = scanDevice(row)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if limit != models.Unlimited {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_devices WHERE user_id = $1`, userID).Scan(&count); err != nil {
				return err
			}
			if count >= limit {
				return ErrDeviceLimit
			}
		}

		row = tx.QueryRowContext(ctx, `
			INSERT INTO user_devices (id, user_id, device_fingerprint, device_name, status, last_active, created_at)
			VALUES ($1, $2, $3, $4, 'active', $5, $5)
			RETURNING `+deviceColumns, uuid.NewString(), userID, fingerprint, name, now)
		device, err = scanDevice(row)
		created = err == nil
		return err
	})
	return device, created, err
}

func (s *PostgresStore) TouchDevice(ctx context.Context, userID, fingerprint string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_devices SET last_active = $3 WHERE user_id = $1 AND device_fingerprint = $2`,
		userID, fingerprint, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDevices(ctx context.Context, userID string) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM user_devices WHERE user_id = $1 ORDER BY last_active DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_devices WHERE id = $1 AND user_id = $2`, deviceID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) HasDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_devices WHERE user_id = $1 AND device_fingerprint = $2)`,
		userID, fingerprint).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Breakdown(ctx context.Context, userID string, now time.Time) (Breakdown, error) {
	var b Breakdown
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE source = 'website' AND created_at >= $2),
			COUNT(*) FILTER (WHERE source = 'website' AND created_at >= $3),
			COUNT(*) FILTER (WHERE source = 'website'),
			COUNT(*) FILTER (WHERE source = 'extension' AND created_at >= $2),
			COUNT(*) FILTER (WHERE source = 'extension' AND created_at >= $3),
			COUNT(*) FILTER (WHERE source = 'extension')
		FROM ai_generations
		WHERE user_id = $1 AND success = TRUE
	`, userID, dayStart, monthStart).Scan(
		&b.Website.Today, &b.Website.Month, &b.Website.Total,
		&b.Extension.Today, &b.Extension.Month, &b.Extension.Total,
	)
	if err != nil {
		return Breakdown{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, generation_type, language, tone, success, created_at
		FROM ai_generations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 10
	`, userID)
	if err != nil {
		return Breakdown{}, err
	}
	defer rows.Close()

	b.Recent = []models.Generation{}
	for rows.Next() {
		g := models.Generation{UserID: userID}
		if err := rows.Scan(&g.ID, &g.Source, &g.GenerationType, &g.Language, &g.Tone, &g.Success, &g.CreatedAt); err != nil {
			return Breakdown{}, err
		}
		b.Recent = append(b.Recent, g)
	}
	return b, rows.Err()
}
