package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/database"
)

type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetSubscription(ctx context.Context, userID string) (models.Subscription, error) {
	var sub models.Subscription
	var priceID sql.NullString
	var start, end sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, stripe_subscription_id, stripe_customer_id, status, price_id,
		       current_period_start, current_period_end, cancel_at_period_end
		FROM user_subscriptions WHERE user_id = $1
	`, userID).Scan(&sub.UserID, &sub.StripeSubscriptionID, &sub.StripeCustomerID, &sub.Status, &priceID,
		&start, &end, &sub.CancelAtPeriodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subscription{}, ErrNoSubscription
	}
	if err != nil {
		return models.Subscription{}, err
	}
	sub.PriceID = priceID.String
	sub.CurrentPeriodStart = start.Time
	sub.CurrentPeriodEnd = end.Time
	return sub, nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_subscriptions (
			user_id, stripe_subscription_id, stripe_customer_id, status, price_id,
			current_period_start, current_period_end, cancel_at_period_end, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			status = EXCLUDED.status,
			price_id = EXCLUDED.price_id,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = NOW()
	`, sub.UserID, sub.StripeSubscriptionID, sub.StripeCustomerID, sub.Status, sub.PriceID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd)
	return err
}

func (s *PostgresStore) MarkCanceled(ctx context.Context, subscriptionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET status = 'canceled', canceled_at = $2, updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`, subscriptionID, at)
	return err
}

func (s *PostgresStore) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET cancel_at_period_end = $2, updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`, subscriptionID, cancel)
	return err
}

// SetRole moves the user onto the role's plan limits in the same update.
func (s *PostgresStore) SetRole(ctx context.Context, userID string, role models.Role) error {
	l := models.LimitsFor(role)
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET role = $2, daily_limit = $3, monthly_limit = $4, device_limit = $5, updated_at = NOW()
		WHERE id = $1
	`, userID, role, l.Daily, l.Monthly, l.Devices)
	return err
}

func (s *PostgresStore) InsertPayment(ctx context.Context, p models.Payment, subscriptionID string) error {
	var sub sql.NullString
	if subscriptionID != "" {
		sub = sql.NullString{String: subscriptionID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_history (user_id, stripe_subscription_id, stripe_invoice_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_invoice_id, status) DO NOTHING
	`, p.UserID, sub, p.StripeInvoiceID, p.Amount, p.Currency, p.Status, p.CreatedAt)
	return err
}
