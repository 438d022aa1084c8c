package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/database/dbtest"
)

func TestPostgresSubscriptionLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	store := NewPostgresStore(db)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, db, models.RoleFree, nil)
	subID := "sub_" + userID

	if _, err := store.GetSubscription(ctx, userID); !errors.Is(err, ErrNoSubscription) {
		t.Fatalf("err = %v, want ErrNoSubscription", err)
	}

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sub := models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: subID,
		StripeCustomerID:     "cus_" + userID,
		Status:               "active",
		PriceID:              "price_pro",
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     start.AddDate(0, 1, 0),
	}
	if err := store.UpsertSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	// a renewal overwrites the period in place
	sub.CurrentPeriodStart = start.AddDate(0, 1, 0)
	sub.CurrentPeriodEnd = start.AddDate(0, 2, 0)
	sub.PriceID = "price_pro_plus"
	if err := store.UpsertSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetSubscription(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PriceID != "price_pro_plus" || !got.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd) {
		t.Fatalf("subscription = %+v", got)
	}

	if err := store.SetCancelAtPeriodEnd(ctx, subID, true); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetSubscription(ctx, userID); !got.CancelAtPeriodEnd {
		t.Fatal("cancel_at_period_end not set")
	}

	if err := store.MarkCanceled(ctx, subID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetSubscription(ctx, userID); got.Status != "canceled" {
		t.Fatalf("status = %q, want canceled", got.Status)
	}
}

func TestPostgresSetRoleAppliesPlanLimits(t *testing.T) {
	db := dbtest.Open(t)
	store := NewPostgresStore(db)
	userID := dbtest.SeedUser(t, db, models.RoleFree, nil)

	if err := store.SetRole(context.Background(), userID, models.RoleProPlus); err != nil {
		t.Fatal(err)
	}

	var (
		role                   models.Role
		daily, monthly, device int
	)
	err := db.QueryRow(`SELECT role, daily_limit, monthly_limit, device_limit FROM users WHERE id = $1`, userID).
		Scan(&role, &daily, &monthly, &device)
	if err != nil {
		t.Fatal(err)
	}
	want := models.LimitsFor(models.RoleProPlus)
	if role != models.RoleProPlus || daily != want.Daily || monthly != want.Monthly || device != want.Devices {
		t.Fatalf("got %s %d/%d/%d, want %+v", role, daily, monthly, device, want)
	}
}

func TestPostgresInsertPaymentIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	store := NewPostgresStore(db)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, db, models.RolePro, nil)

	p := models.Payment{
		UserID:          userID,
		StripeInvoiceID: "in_" + userID,
		Amount:          999,
		Currency:        "usd",
		Status:          "paid",
		CreatedAt:       time.Now().UTC(),
	}
	// stripe retries deliver the same invoice event more than once
	for i := 0; i < 2; i++ {
		if err := store.InsertPayment(ctx, p, "sub_"+userID); err != nil {
			t.Fatal(err)
		}
	}
	p.Status = "refunded"
	if err := store.InsertPayment(ctx, p, ""); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM payment_history WHERE user_id = $1`, userID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("payments = %d, want 2", n)
	}
}
