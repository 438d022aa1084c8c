package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"mailoreply.ai/platform/internal/ledger"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/database/dbtest"
)

func pgUser(role models.Role, companyID *string) models.User {
	now := time.Now().UTC()
	id := uuid.NewString()
	u := models.User{
		ID:               id,
		Email:            id + "@example.test",
		Name:             "Pat",
		PasswordHash:     "$2a$10$abcdefghijklmnopqrstuu",
		Status:           models.StatusActive,
		CompanyID:        companyID,
		LastDailyReset:   now,
		LastMonthlyReset: now,
	}
	u.ApplyPlan(role)
	return u
}

func TestPostgresCreateUser(t *testing.T) {
	db := dbtest.Open(t)
	store := NewPostgresStore(db)
	ctx := context.Background()
	companyID := dbtest.SeedCompany(t, db, 10)

	u := pgUser(models.RoleEnterpriseUser, &companyID)
	created, err := store.CreateUser(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if created.CompanyID == nil || *created.CompanyID != companyID {
		t.Fatalf("company_id = %v, want %s", created.CompanyID, companyID)
	}
	if created.Role != models.RoleEnterpriseUser || created.DailyLimit != models.Unlimited {
		t.Fatalf("created = %+v", created)
	}

	byEmail, err := store.GetUserByEmail(ctx, u.Email)
	if err != nil {
		t.Fatal(err)
	}
	if byEmail.ID != u.ID || byEmail.PasswordHash != u.PasswordHash {
		t.Fatalf("by email = %+v", byEmail)
	}

	dup := pgUser(models.RoleFree, nil)
	dup.Email = u.Email
	if _, err := store.CreateUser(ctx, dup); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}

	if _, err := store.GetUser(ctx, uuid.NewString()); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want ledger.ErrNotFound", err)
	}
}

func TestPostgresEnsureUserKeepsExistingRow(t *testing.T) {
	db := dbtest.Open(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	u := pgUser(models.RoleFree, nil)
	u.PasswordHash = ""
	first, err := store.EnsureUser(ctx, u)
	if err != nil {
		t.Fatal(err)
	}

	// a second OAuth sign-in must not reset a plan bought in between
	if _, err := db.Exec(`UPDATE users SET role = 'pro' WHERE id = $1`, u.ID); err != nil {
		t.Fatal(err)
	}
	again, err := store.EnsureUser(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != again.ID || again.Role != models.RolePro {
		t.Fatalf("again = %+v", again)
	}

	byEmail, err := store.GetUserByEmail(ctx, u.Email)
	if err != nil {
		t.Fatal(err)
	}
	if byEmail.PasswordHash != "" {
		t.Fatal("OAuth account should have no password hash")
	}
}

func TestPostgresSettings(t *testing.T) {
	db := dbtest.Open(t)
	store := NewPostgresStore(db)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, db, models.RoleFree, nil)

	if _, err := store.GetSettings(ctx, userID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want ledger.ErrNotFound", err)
	}

	st := models.UserSettings{
		UserID:          userID,
		AlwaysEncrypt:   true,
		DefaultLanguage: "German",
		DefaultTone:     "Friendly",
		UpdatedAt:       time.Now().UTC(),
	}
	if _, err := store.UpsertSettings(ctx, st); err != nil {
		t.Fatal(err)
	}
	st.DefaultTone = "Formal"
	if _, err := store.UpsertSettings(ctx, st); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetSettings(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.AlwaysEncrypt || got.DefaultLanguage != "German" || got.DefaultTone != "Formal" {
		t.Fatalf("settings = %+v", got)
	}
}
