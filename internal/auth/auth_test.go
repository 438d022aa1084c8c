package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/config"
	"mailoreply.ai/platform/internal/ledger"
	"mailoreply.ai/platform/internal/middleware"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/internal/session"
	"mailoreply.ai/platform/pkg/logger"
)

type memUsers struct {
	mu       sync.Mutex
	byID     map[string]models.User
	settings map[string]models.UserSettings
	down     bool
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]models.User{}, settings: map[string]models.UserSettings{}}
}

func (m *memUsers) CreateUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return models.User{}, ErrEmailTaken
		}
	}
	m.byID[u.ID] = u
	return u, nil
}

func (m *memUsers) GetUser(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return models.User{}, errors.New("connection refused")
	}
	u, ok := m.byID[id]
	if !ok {
		return models.User{}, ledger.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, ledger.ErrNotFound
}

func (m *memUsers) EnsureUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byID[u.ID]; ok {
		return existing, nil
	}
	m.byID[u.ID] = u
	return u, nil
}

func (m *memUsers) GetSettings(_ context.Context, userID string) (models.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[userID]
	if !ok {
		return models.UserSettings{}, ledger.ErrNotFound
	}
	return s, nil
}

func (m *memUsers) UpsertSettings(_ context.Context, s models.UserSettings) (models.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.UserID] = s
	return s, nil
}

func newTestService(users UserStore) (*Service, *session.Store) {
	sessions := session.NewStore(nil)
	tokens := middleware.NewAuthenticator("test-secret", sessions)
	cfg := config.AuthConfig{
		TokenTTL:    time.Hour,
		SupabaseURL: "https://abc.supabase.co",
		AppURL:      "https://app.mailoreply.ai",
		AdminEmail:  "admin@mailoreply.com",
	}
	return NewService(users, sessions, tokens, cfg, logger.Nop()), sessions
}

const strongPassword = "Str0ng!pass"

func TestSignUpAndSignIn(t *testing.T) {
	users := newMemUsers()
	svc, sessions := newTestService(users)
	ctx := context.Background()

	var events []session.Event
	svc.OnAuthStateChange(func(ev session.Event, _ session.Session) { events = append(events, ev) })

	res, err := svc.SignUp(ctx, "Jane@Example.com", strongPassword, "Jane", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if res.User.Role != models.RoleFree || res.User.DailyLimit != 3 || res.User.Email != "jane@example.com" {
		t.Fatalf("user = %+v", res.User)
	}

	if _, err := svc.SignUp(ctx, "jane@example.com", strongPassword, "", ""); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("duplicate sign-up err = %v", err)
	}

	if _, err := svc.SignInWithPassword(ctx, "jane@example.com", "Wrong!pass1"); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("wrong password err = %v", err)
	}

	in, err := svc.SignInWithPassword(ctx, "jane@example.com", strongPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	sess, err := svc.GetSession(ctx, in.Token)
	if err != nil || sess.UserID != res.User.ID {
		t.Fatalf("GetSession = %+v, %v", sess, err)
	}
	if sessions.Count() != 2 {
		t.Fatalf("sessions = %d, want 2", sessions.Count())
	}
	if len(events) != 2 || events[0] != session.SignedIn {
		t.Fatalf("events = %v", events)
	}
}

func TestSignUpRejectsWeakPassword(t *testing.T) {
	svc, _ := newTestService(newMemUsers())
	_, err := svc.SignUp(context.Background(), "a@b.com", "password", "", "")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestAdminEmailBecomesSuperuser(t *testing.T) {
	svc, _ := newTestService(newMemUsers())
	res, err := svc.SignUp(context.Background(), "admin@mailoreply.com", strongPassword, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.User.Role != models.RoleSuperuser || res.User.DeviceLimit != -1 {
		t.Fatalf("admin = %+v", res.User)
	}
}

func TestSignOutRevokesToken(t *testing.T) {
	svc, _ := newTestService(newMemUsers())
	ctx := context.Background()
	res, _ := svc.SignUp(ctx, "x@example.com", strongPassword, "", "")

	claims, err := svc.tokens.Parse(ctx, res.Token)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SignOut(ctx, claims); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetSession(ctx, res.Token); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("revoked token err = %v", err)
	}
}

func TestRefreshPicksUpRoleChange(t *testing.T) {
	users := newMemUsers()
	svc, _ := newTestService(users)
	ctx := context.Background()
	res, _ := svc.SignUp(ctx, "y@example.com", strongPassword, "", "")
	claims, _ := svc.tokens.Parse(ctx, res.Token)

	u := users.byID[res.User.ID]
	u.ApplyPlan(models.RoleProPlus)
	users.byID[u.ID] = u

	next, err := svc.Refresh(ctx, claims)
	if err != nil {
		t.Fatal(err)
	}
	newClaims, err := svc.tokens.Parse(ctx, next.Token)
	if err != nil || newClaims.Role != models.RoleProPlus {
		t.Fatalf("refreshed claims = %+v, %v", newClaims, err)
	}
	if _, err := svc.tokens.Parse(ctx, res.Token); err == nil {
		t.Fatal("old token should be retired after refresh")
	}
}

func TestRefreshRejectsSuspendedAccount(t *testing.T) {
	users := newMemUsers()
	svc, _ := newTestService(users)
	ctx := context.Background()
	res, _ := svc.SignUp(ctx, "s@example.com", strongPassword, "", "")
	claims, _ := svc.tokens.Parse(ctx, res.Token)

	u := users.byID[res.User.ID]
	u.Status = models.StatusSuspended
	users.byID[u.ID] = u

	if _, err := svc.Refresh(ctx, claims); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("suspended refresh err = %v", err)
	}
	if _, err := svc.tokens.Parse(ctx, res.Token); err != nil {
		t.Fatal("a refused refresh must not retire the current token")
	}
}

func TestRefreshNeedsProfile(t *testing.T) {
	users := newMemUsers()
	svc, _ := newTestService(users)
	ctx := context.Background()
	res, _ := svc.SignUp(ctx, "gone@example.com", strongPassword, "", "")
	claims, _ := svc.tokens.Parse(ctx, res.Token)

	users.down = true
	if _, err := svc.Refresh(ctx, claims); !apperr.Is(err, apperr.KindNetwork) {
		t.Fatalf("store down err = %v", err)
	}

	users.down = false
	delete(users.byID, res.User.ID)
	if _, err := svc.Refresh(ctx, claims); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("deleted account err = %v", err)
	}
}

type memInvitations struct {
	inv      models.Invitation
	accepted string
}

func (m *memInvitations) PendingInvitation(_ context.Context, token string) (models.Invitation, error) {
	if token != m.inv.Token || m.accepted != "" {
		return models.Invitation{}, apperr.Validation("Invalid or expired invitation")
	}
	return m.inv, nil
}

func (m *memInvitations) AcceptInvitation(_ context.Context, token, userID string) error {
	m.accepted = userID
	return nil
}

func TestSignUpWithInvitation(t *testing.T) {
	users := newMemUsers()
	svc, _ := newTestService(users)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "ann@acme.test", strongPassword, "", "tok-1"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("token without invitations err = %v", err)
	}

	invs := &memInvitations{inv: models.Invitation{
		ID: "inv-1", CompanyID: "acme", Email: "ann@acme.test", Name: "Ann",
		Role: models.RoleEnterpriseUser, Token: "tok-1", Status: models.InvitationPending,
	}}
	svc.UseInvitations(invs)

	if _, err := svc.SignUp(ctx, "bob@acme.test", strongPassword, "", "tok-1"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("email mismatch err = %v", err)
	}
	if _, err := svc.SignUp(ctx, "ann@acme.test", strongPassword, "", "wrong"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("bad token err = %v", err)
	}

	res, err := svc.SignUp(ctx, "Ann@Acme.test", strongPassword, "", "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	u := res.User
	if u.CompanyID == nil || *u.CompanyID != "acme" || u.Role != models.RoleEnterpriseUser || u.Name != "Ann" {
		t.Fatalf("invited user = %+v", u)
	}
	if want := models.LimitsFor(models.RoleEnterpriseUser); u.DailyLimit != want.Daily || u.DeviceLimit != want.Devices {
		t.Fatalf("limits = %d/%d", u.DailyLimit, u.DeviceLimit)
	}
	if invs.accepted != u.ID {
		t.Fatalf("invitation accepted by %q, want %q", invs.accepted, u.ID)
	}
}

func oauthToken(t *testing.T, secret string, claims oauthClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestCompleteOAuth(t *testing.T) {
	users := newMemUsers()
	svc, _ := newTestService(users)
	ctx := context.Background()

	if _, err := svc.CompleteOAuth(ctx, "anything"); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("unconfigured err = %v", err)
	}
	svc.oauthSecret = []byte("project-secret")

	valid := func(sub, email string) oauthClaims {
		return oauthClaims{
			Email: email,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   sub,
				Issuer:    "https://abc.supabase.co/auth/v1",
				Audience:  jwt.ClaimStrings{"authenticated"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	res, err := svc.CompleteOAuth(ctx, oauthToken(t, "project-secret", valid("sb-123", "New@Example.com")))
	if err != nil {
		t.Fatal(err)
	}
	if res.User.ID != "sb-123" || res.User.Email != "new@example.com" || res.User.Role != models.RoleFree {
		t.Fatalf("oauth user = %+v", res.User)
	}
	if _, err := svc.GetSession(ctx, res.Token); err != nil {
		t.Fatalf("issued session invalid: %v", err)
	}

	// an existing password account is matched by email
	pw, _ := svc.SignUp(ctx, "pw@example.com", strongPassword, "", "")
	res, err = svc.CompleteOAuth(ctx, oauthToken(t, "project-secret", valid("sb-other", "pw@example.com")))
	if err != nil || res.User.ID != pw.User.ID {
		t.Fatalf("email match = %+v, %v", res.User, err)
	}

	forged := oauthToken(t, "someone-else", valid("sb-123", "new@example.com"))
	if _, err := svc.CompleteOAuth(ctx, forged); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("forged token err = %v", err)
	}

	expired := valid("sb-123", "new@example.com")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	if _, err := svc.CompleteOAuth(ctx, oauthToken(t, "project-secret", expired)); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("expired token err = %v", err)
	}

	wrongIssuer := valid("sb-123", "new@example.com")
	wrongIssuer.Issuer = "https://evil.example/auth/v1"
	if _, err := svc.CompleteOAuth(ctx, oauthToken(t, "project-secret", wrongIssuer)); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("wrong issuer err = %v", err)
	}

	if _, err := svc.CompleteOAuth(ctx, oauthToken(t, "project-secret", valid("", "x@example.com"))); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("missing sub err = %v", err)
	}

	u := users.byID["sb-123"]
	u.Status = models.StatusSuspended
	users.byID["sb-123"] = u
	if _, err := svc.CompleteOAuth(ctx, oauthToken(t, "project-secret", valid("sb-123", "new@example.com"))); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("suspended err = %v", err)
	}
}

func TestOAuthURL(t *testing.T) {
	svc, _ := newTestService(newMemUsers())
	raw, err := svc.SignInWithOAuth("Google")
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(u.Path, "/auth/v1/authorize") || u.Query().Get("provider") != "google" ||
		u.Query().Get("redirect_to") != "https://app.mailoreply.ai/auth/callback" {
		t.Fatalf("url = %s", raw)
	}

	if _, err := svc.SignInWithOAuth("myspace"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("unknown provider err = %v", err)
	}

	svc.oauthBase = ""
	if _, err := svc.SignInWithOAuth("google"); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("unconfigured err = %v", err)
	}
}

func TestProfileCreatesRowLazily(t *testing.T) {
	users := newMemUsers()
	svc, _ := newTestService(users)
	claims := &middleware.Claims{UserID: "oauth-user", Email: "o@example.com", Role: models.RoleFree}

	p := svc.Profile(context.Background(), claims)
	if p.Fallback {
		t.Fatal("profile should not be a fallback")
	}
	if _, ok := users.byID["oauth-user"]; !ok {
		t.Fatal("profile row should have been created")
	}
	if p.Settings.DefaultTone != "Professional" {
		t.Fatalf("settings = %+v", p.Settings)
	}
}

func TestProfileFallback(t *testing.T) {
	users := newMemUsers()
	users.down = true
	svc, _ := newTestService(users)

	p := svc.Profile(context.Background(), &middleware.Claims{UserID: "u1", Email: "someone@example.com"})
	if !p.Fallback || p.User.Role != models.RoleFree || p.User.DailyLimit != 3 || p.User.MonthlyLimit != 30 || p.User.DeviceLimit != 1 {
		t.Fatalf("fallback = %+v", p.User)
	}

	p = svc.Profile(context.Background(), &middleware.Claims{UserID: "u2", Email: "admin@mailoreply.com"})
	if p.User.Role != models.RoleSuperuser || p.User.DailyLimit != -1 || p.User.MonthlyLimit != -1 || p.User.DeviceLimit != -1 {
		t.Fatalf("admin fallback = %+v", p.User)
	}
}

func TestUpdateSettings(t *testing.T) {
	svc, _ := newTestService(newMemUsers())
	ctx := context.Background()
	lang, tone, on := "Spanish", "Friendly", true

	st, err := svc.UpdateSettings(ctx, "u1", SettingsPatch{DefaultLanguage: &lang, AlwaysEncrypt: &on})
	if err != nil {
		t.Fatal(err)
	}
	if st.DefaultLanguage != "Spanish" || !st.AlwaysEncrypt || st.DefaultTone != "Professional" {
		t.Fatalf("settings = %+v", st)
	}

	st, _ = svc.UpdateSettings(ctx, "u1", SettingsPatch{DefaultTone: &tone})
	if st.DefaultLanguage != "Spanish" || st.DefaultTone != "Friendly" {
		t.Fatalf("patch should keep earlier values: %+v", st)
	}

	bad := "Klingon"
	if _, err := svc.UpdateSettings(ctx, "u1", SettingsPatch{DefaultLanguage: &bad}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("bad language err = %v", err)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"short1!", false},
		{"alllowercase1!", false},
		{"ALLUPPERCASE1!", false},
		{"NoNumbers!!", false},
		{"NoSpecial123", false},
		{strongPassword, true},
	}
	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if (err == nil) != tt.ok {
			t.Errorf("ValidatePassword(%q) = %v", tt.password, err)
		}
		if err != nil && !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("ValidatePassword(%q) kind = %v", tt.password, err)
		}
	}

	err := ValidatePassword("lowercase only")
	if err == nil || !strings.Contains(err.Error(), "an uppercase letter, a number") {
		t.Fatalf("missing rules not listed together: %v", err)
	}
}
