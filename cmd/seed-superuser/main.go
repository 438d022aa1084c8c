package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"mailoreply.ai/platform/internal/auth"
	"mailoreply.ai/platform/internal/config"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/database"
	"mailoreply.ai/platform/pkg/logger"
)

// seed-superuser creates the admin account, or resets its password and role
// when it already exists. With -hash it only prints a bcrypt hash.
func main() {
	cfg := config.Load()

	email := flag.String("email", cfg.Auth.AdminEmail, "admin email")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password")
	hashOnly := flag.Bool("hash", false, "print the bcrypt hash and exit")
	flag.Parse()

	if err := auth.ValidatePassword(*password); err != nil {
		fmt.Fprintln(os.Stderr, "invalid password:", err)
		os.Exit(2)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *hashOnly {
		fmt.Println(string(hash))
		return
	}

	log := logger.New()
	db, err := database.Connect(cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	u := models.User{Role: models.RoleSuperuser}
	u.ApplyPlan(models.RoleSuperuser)
	now := time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, name, password_hash, role, status,
			daily_limit, monthly_limit, device_limit, last_daily_reset, last_monthly_reset
		) VALUES ($1, $2, 'Admin', $3, $4, 'active', $5, $6, $7, $8, $8)
		ON CONFLICT (email) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			daily_limit = EXCLUDED.daily_limit,
			monthly_limit = EXCLUDED.monthly_limit,
			device_limit = EXCLUDED.device_limit,
			status = 'active',
			updated_at = NOW()
	`, uuid.NewString(), strings.ToLower(*email), string(hash), u.Role,
		u.DailyLimit, u.MonthlyLimit, u.DeviceLimit, now)
	if err != nil {
		log.Fatal("Failed to seed superuser", "email", *email, "error", err)
	}

	log.Info("Superuser ready", "email", *email)
}
