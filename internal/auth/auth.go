// Package auth signs users in and out and resolves their profile. Sessions
// are HS256 tokens; every sign-in and sign-out goes through the session
// store so subscribers see one consistent stream of auth events.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/config"
	"mailoreply.ai/platform/internal/ledger"
	"mailoreply.ai/platform/internal/middleware"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/internal/session"
	"mailoreply.ai/platform/pkg/logger"
)

var ErrEmailTaken = errors.New("auth: email already registered")

type UserStore interface {
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	// EnsureUser inserts a profile row for id if none exists and returns it.
	EnsureUser(ctx context.Context, u models.User) (models.User, error)
	GetSettings(ctx context.Context, userID string) (models.UserSettings, error)
	UpsertSettings(ctx context.Context, s models.UserSettings) (models.UserSettings, error)
}

// Invitations resolves the invitation token a new user signs up with.
type Invitations interface {
	PendingInvitation(ctx context.Context, token string) (models.Invitation, error)
	AcceptInvitation(ctx context.Context, token, userID string) error
}

var oauthProviders = map[string]bool{"google": true, "github": true, "azure": true}

type Service struct {
	users       UserStore
	invitations Invitations
	sessions    *session.Store
	tokens      *middleware.Authenticator
	ttl         time.Duration
	oauthBase   string
	oauthSecret []byte
	appURL      string
	adminEmail  string
	logger      *logger.Logger
	now         func() time.Time
}

func NewService(users UserStore, sessions *session.Store, tokens *middleware.Authenticator, cfg config.AuthConfig, l *logger.Logger) *Service {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Service{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		ttl:        ttl,
		oauthBase:  cfg.SupabaseURL,
		appURL:     strings.TrimRight(cfg.AppURL, "/"),
		adminEmail: strings.ToLower(cfg.AdminEmail),
		logger:     l.With("component", "auth"),
		now:        time.Now,
	}
	if cfg.SupabaseJWTSecret != "" {
		s.oauthSecret = []byte(cfg.SupabaseJWTSecret)
	}
	return s
}

// UseInvitations enables sign-up with an invitation token.
func (s *Service) UseInvitations(inv Invitations) {
	s.invitations = inv
}

type Result struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

func (s *Service) roleForEmail(email string) models.Role {
	if s.adminEmail != "" && strings.EqualFold(email, s.adminEmail) {
		return models.RoleSuperuser
	}
	return models.RoleFree
}

// SignUp creates a password account. With an invitation token the account
// joins the inviting company on the invited role; the invitation must have
// been sent to the same email.
func (s *Service) SignUp(ctx context.Context, email, password, name, invitationToken string) (Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return Result{}, apperr.Validation("A valid email is required")
	}
	if err := ValidatePassword(password); err != nil {
		return Result{}, err
	}

	var inv *models.Invitation
	if invitationToken != "" {
		if s.invitations == nil {
			return Result{}, apperr.Validation("Invitations are not available")
		}
		pending, err := s.invitations.PendingInvitation(ctx, invitationToken)
		if err != nil {
			return Result{}, err
		}
		if !strings.EqualFold(pending.Email, email) {
			return Result{}, apperr.Validation("This invitation was sent to a different email address")
		}
		inv = &pending
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Result{}, apperr.Internal("Failed to process password", err)
	}

	now := s.now().UTC()
	u := models.User{
		ID:               uuid.NewString(),
		Email:            email,
		Name:             strings.TrimSpace(name),
		PasswordHash:     string(hash),
		Status:           models.StatusActive,
		LastDailyReset:   now,
		LastMonthlyReset: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if inv != nil {
		companyID := inv.CompanyID
		u.CompanyID = &companyID
		u.ApplyPlan(inv.Role)
		if u.Name == "" {
			u.Name = inv.Name
		}
	} else {
		u.ApplyPlan(s.roleForEmail(email))
	}

	created, err := s.users.CreateUser(ctx, u)
	if errors.Is(err, ErrEmailTaken) {
		return Result{}, apperr.Validation("Email already registered")
	}
	if err != nil {
		return Result{}, apperr.Network("Failed to create account", err)
	}

	if inv != nil {
		if err := s.invitations.AcceptInvitation(ctx, invitationToken, created.ID); err != nil {
			s.logger.Warn("Failed to mark invitation accepted", "user_id", created.ID, "invitation_id", inv.ID, "error", err)
		}
	}

	s.logger.Info("User registered", "user_id", created.ID, "email", created.Email, "role", created.Role)
	return s.issue(created)
}

func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Result{}, apperr.Validation("Email and password are required")
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ledger.ErrNotFound) {
		s.logger.Warn("Login failed - user not found", "email", email)
		return Result{}, apperr.Auth("Invalid credentials")
	}
	if err != nil {
		return Result{}, apperr.Network("Authentication service unavailable", err)
	}

	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.logger.Warn("Login failed - invalid password", "email", email)
		return Result{}, apperr.Auth("Invalid credentials")
	}
	if u.Status == models.StatusSuspended {
		return Result{}, apperr.Auth("Account is suspended")
	}

	s.logger.Info("User logged in", "user_id", u.ID, "email", u.Email)
	return s.issue(u)
}

// SignInWithOAuth returns the identity provider URL the browser should be
// sent to.
func (s *Service) SignInWithOAuth(provider string) (string, error) {
	if s.oauthBase == "" {
		return "", apperr.Configuration("OAuth sign-in is not configured")
	}
	provider = strings.ToLower(provider)
	if !oauthProviders[provider] {
		return "", apperr.Validation("Unsupported OAuth provider")
	}

	q := url.Values{}
	q.Set("provider", provider)
	q.Set("redirect_to", s.appURL+"/auth/callback")
	return fmt.Sprintf("%s/auth/v1/authorize?%s", s.oauthBase, q.Encode()), nil
}

type oauthClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// CompleteOAuth exchanges the provider access token from the OAuth redirect
// for an application session. The token must be signed with the project's
// JWT secret, carry a subject and an email, and target authenticated users.
func (s *Service) CompleteOAuth(ctx context.Context, accessToken string) (Result, error) {
	if s.oauthBase == "" || len(s.oauthSecret) == 0 {
		return Result{}, apperr.Configuration("OAuth sign-in is not configured")
	}
	if accessToken == "" {
		return Result{}, apperr.Validation("access_token is required")
	}

	var claims oauthClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(*jwt.Token) (interface{}, error) {
		return s.oauthSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience("authenticated"),
		jwt.WithIssuer(s.oauthBase+"/auth/v1"),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		s.logger.Warn("OAuth token rejected", "error", err)
		return Result{}, apperr.Auth("Invalid OAuth token")
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if claims.Subject == "" || email == "" {
		return Result{}, apperr.Auth("Invalid OAuth token")
	}

	u, err := s.users.GetUser(ctx, claims.Subject)
	if errors.Is(err, ledger.ErrNotFound) {
		u, err = s.users.GetUserByEmail(ctx, email)
	}
	if errors.Is(err, ledger.ErrNotFound) {
		now := s.now().UTC()
		fresh := models.User{
			ID:               claims.Subject,
			Email:            email,
			Name:             strings.Split(email, "@")[0],
			Status:           models.StatusActive,
			LastDailyReset:   now,
			LastMonthlyReset: now,
		}
		fresh.ApplyPlan(s.roleForEmail(email))
		u, err = s.users.EnsureUser(ctx, fresh)
	}
	if err != nil {
		return Result{}, apperr.Network("Authentication service unavailable", err)
	}
	if u.Status == models.StatusSuspended {
		return Result{}, apperr.Auth("Account is suspended")
	}

	s.logger.Info("User logged in via OAuth", "user_id", u.ID, "email", u.Email)
	return s.issue(u)
}

func (s *Service) GetSession(ctx context.Context, token string) (session.Session, error) {
	claims, err := s.tokens.Parse(ctx, token)
	if err != nil {
		return session.Session{}, apperr.Auth("Invalid token")
	}
	return sessionFromClaims(claims), nil
}

// Refresh issues a new token with the role currently on the profile and
// retires the old one on every instance. Deleted and suspended accounts
// cannot refresh.
func (s *Service) Refresh(ctx context.Context, claims *middleware.Claims) (Result, error) {
	u, err := s.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Result{}, apperr.Auth("Account no longer exists")
	}
	if err != nil {
		return Result{}, apperr.Network("Authentication service unavailable", err)
	}
	if u.Status == models.StatusSuspended {
		s.logger.Warn("Refresh refused for suspended account", "user_id", u.ID)
		return Result{}, apperr.Auth("Account is suspended")
	}

	res, next, err := s.sign(u)
	if err != nil {
		return Result{}, err
	}

	oldExp := next.ExpiresAt
	if claims.ExpiresAt != nil {
		oldExp = claims.ExpiresAt.Time
	}
	if err := s.sessions.Replace(ctx, claims.ID, oldExp, next); err != nil {
		s.logger.Warn("Shared revocation failed", "user_id", claims.UserID, "error", err)
	}
	return res, nil
}

func (s *Service) SignOut(ctx context.Context, claims *middleware.Claims) error {
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	} else {
		exp = s.now().Add(s.ttl)
	}
	if err := s.sessions.Revoke(ctx, claims.ID, exp); err != nil {
		s.logger.Warn("Shared revocation failed", "user_id", claims.UserID, "error", err)
	}
	s.logger.Info("User logged out", "user_id", claims.UserID)
	return nil
}

func (s *Service) OnAuthStateChange(fn session.Listener) func() {
	return s.sessions.Subscribe(fn)
}

type Profile struct {
	User     models.User         `json:"user"`
	Settings models.UserSettings `json:"settings"`
	Fallback bool                `json:"fallback"`
}

// Profile loads the user's row, creating it on first sight. When the
// profile store is unreachable a plan-default user is synthesized so the
// dashboard still renders.
func (s *Service) Profile(ctx context.Context, claims *middleware.Claims) Profile {
	u, err := s.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		now := s.now().UTC()
		fresh := models.User{
			ID:               claims.UserID,
			Email:            claims.Email,
			Status:           models.StatusActive,
			LastDailyReset:   now,
			LastMonthlyReset: now,
		}
		fresh.ApplyPlan(s.roleForEmail(claims.Email))
		u, err = s.users.EnsureUser(ctx, fresh)
	}
	if err != nil {
		s.logger.Warn("Profile unavailable, using fallback", "user_id", claims.UserID, "error", err)
		return Profile{User: s.fallbackUser(claims), Settings: models.DefaultSettings(claims.UserID), Fallback: true}
	}
	u.Normalize(s.now())

	settings, err := s.users.GetSettings(ctx, u.ID)
	if err != nil {
		settings = models.DefaultSettings(u.ID)
	}
	return Profile{User: u, Settings: settings}
}

type SettingsPatch struct {
	AlwaysEncrypt     *bool   `json:"always_encrypt"`
	EncryptionEnabled *bool   `json:"encryption_enabled"`
	DefaultLanguage   *string `json:"default_language"`
	DefaultTone       *string `json:"default_tone"`
}

func (s *Service) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (models.UserSettings, error) {
	current, err := s.users.GetSettings(ctx, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		current = models.DefaultSettings(userID)
	} else if err != nil {
		return models.UserSettings{}, apperr.Network("Failed to load settings", err)
	}

	if patch.AlwaysEncrypt != nil {
		current.AlwaysEncrypt = *patch.AlwaysEncrypt
	}
	if patch.EncryptionEnabled != nil {
		current.EncryptionEnabled = *patch.EncryptionEnabled
	}
	if patch.DefaultLanguage != nil {
		if !contains(models.Languages, *patch.DefaultLanguage) {
			return models.UserSettings{}, apperr.Validation("Unsupported language")
		}
		current.DefaultLanguage = *patch.DefaultLanguage
	}
	if patch.DefaultTone != nil {
		if !contains(models.Tones, *patch.DefaultTone) {
			return models.UserSettings{}, apperr.Validation("Unsupported tone")
		}
		current.DefaultTone = *patch.DefaultTone
	}
	current.UpdatedAt = s.now().UTC()

	saved, err := s.users.UpsertSettings(ctx, current)
	if err != nil {
		return models.UserSettings{}, apperr.Network("Failed to save settings", err)
	}
	return saved, nil
}

func (s *Service) fallbackUser(claims *middleware.Claims) models.User {
	now := s.now().UTC()
	u := models.User{
		ID:               claims.UserID,
		Email:            claims.Email,
		Name:             strings.Split(claims.Email, "@")[0],
		Status:           models.StatusActive,
		LastDailyReset:   now,
		LastMonthlyReset: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	u.ApplyPlan(s.roleForEmail(claims.Email))
	return u
}

func (s *Service) issue(u models.User) (Result, error) {
	res, sess, err := s.sign(u)
	if err != nil {
		return Result{}, err
	}
	s.sessions.Put(sess)
	return res, nil
}

func (s *Service) sign(u models.User) (Result, session.Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := middleware.Claims{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := s.tokens.Sign(claims)
	if err != nil {
		s.logger.Error("Failed to generate JWT", "error", err)
		return Result{}, session.Session{}, apperr.Internal("Failed to generate token", err)
	}
	return Result{Token: token, ExpiresAt: exp, User: u}, sessionFromClaims(&claims), nil
}

func sessionFromClaims(c *middleware.Claims) session.Session {
	sess := session.Session{ID: c.ID, UserID: c.UserID, Email: c.Email, Role: c.Role}
	if c.IssuedAt != nil {
		sess.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		sess.ExpiresAt = c.ExpiresAt.Time
	}
	return sess
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
