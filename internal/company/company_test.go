package company

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/logger"
)

type memStore struct {
	mu          sync.Mutex
	companies   map[string]models.Company
	users       map[string]*models.User
	invitations map[string]models.Invitation
}

func newMemStore() *memStore {
	return &memStore{
		companies:   map[string]models.Company{},
		users:       map[string]*models.User{},
		invitations: map[string]models.Invitation{},
	}
}

func (m *memStore) members(companyID string) int {
	n := 0
	for _, u := range m.users {
		if u.CompanyID != nil && *u.CompanyID == companyID {
			n++
		}
	}
	return n
}

func (m *memStore) ListCompanies(context.Context) ([]models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Company
	for _, c := range m.companies {
		c.CurrentUsers = m.members(c.ID)
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) GetCompany(_ context.Context, id string) (models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return models.Company{}, ErrNotFound
	}
	c.CurrentUsers = m.members(id)
	return c, nil
}

func (m *memStore) CreateCompany(_ context.Context, c models.Company) (models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[c.ID] = c
	return c, nil
}

func (m *memStore) UpdateCompany(_ context.Context, c models.Company) (models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[c.ID]; !ok {
		return models.Company{}, ErrNotFound
	}
	m.companies[c.ID] = c
	return c, nil
}

func (m *memStore) SetCompanyStatus(_ context.Context, id string, status models.CompanyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	m.companies[id] = c
	for _, u := range m.users {
		if u.CompanyID != nil && *u.CompanyID == id {
			if status == models.CompanySuspended {
				u.Status = models.StatusSuspended
			} else {
				u.Status = models.StatusActive
			}
		}
	}
	return nil
}

func (m *memStore) DeleteCompany(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[id]; !ok {
		return ErrNotFound
	}
	delete(m.companies, id)
	return nil
}

func (m *memStore) CompanyOf(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return "", ErrNotFound
	}
	if u.CompanyID == nil {
		return "", nil
	}
	return *u.CompanyID, nil
}

func (m *memStore) ListMembers(_ context.Context, companyID string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if u.CompanyID != nil && *u.CompanyID == companyID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *memStore) RemoveMember(_ context.Context, companyID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.CompanyID == nil || *u.CompanyID != companyID {
		return ErrNotFound
	}
	u.CompanyID = nil
	u.ApplyPlan(models.RoleFree)
	return nil
}

func (m *memStore) AddInvitations(_ context.Context, companyID string, invs []models.Invitation, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[companyID]
	if !ok {
		return ErrNotFound
	}
	if c.Status != models.CompanyActive {
		return ErrSuspended
	}
	taken := m.members(companyID)
	for _, inv := range m.invitations {
		if inv.CompanyID == companyID && inv.Redeemable(now) {
			taken++
		}
	}
	if taken+len(invs) > c.MaxUsers {
		return ErrSeatLimit
	}
	for _, inv := range invs {
		m.invitations[inv.ID] = inv
	}
	return nil
}

func (m *memStore) ListInvitations(_ context.Context, companyID string) ([]models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Invitation
	for _, inv := range m.invitations {
		if inv.CompanyID == companyID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) GetInvitation(_ context.Context, id string) (models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok {
		return models.Invitation{}, ErrNotFound
	}
	return inv, nil
}

func (m *memStore) InvitationByToken(_ context.Context, token string) (models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.Token == token {
			return inv, nil
		}
	}
	return models.Invitation{}, ErrNotFound
}

func (m *memStore) ExtendInvitation(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.invitations[id]
	inv.ExpiresAt = expiresAt
	m.invitations[id] = inv
	return nil
}

func (m *memStore) CancelInvitation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.invitations[id]
	inv.Status = models.InvitationCancelled
	m.invitations[id] = inv
	return nil
}

func (m *memStore) AcceptInvitation(_ context.Context, token, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inv := range m.invitations {
		if inv.Token == token {
			if !inv.Redeemable(at) {
				return ErrNotPending
			}
			inv.Status = models.InvitationAccepted
			inv.AcceptedBy = &userID
			inv.AcceptedAt = &at
			m.invitations[id] = inv
			return nil
		}
	}
	return ErrNotFound
}

var testNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memStore
	svc     *Service
	acme    models.Company
	manager Actor
}

func newFixture(t *testing.T, maxUsers int) *fixture {
	t.Helper()
	store := newMemStore()
	svc := NewService(store, "https://app.mailoreply.ai/", logger.Nop())
	svc.now = func() time.Time { return testNow }

	acme, err := svc.CreateCompany(context.Background(), CompanyInput{Name: " Acme ", MaxUsers: maxUsers})
	if err != nil {
		t.Fatal(err)
	}
	id := acme.ID
	store.users["mgr"] = &models.User{ID: "mgr", Email: "mgr@acme.test", Role: models.RoleEnterpriseManager, CompanyID: &id, Status: models.StatusActive}
	return &fixture{store: store, svc: svc, acme: acme, manager: Actor{UserID: "mgr", Role: models.RoleEnterpriseManager}}
}

func TestCreateCompanyDefaults(t *testing.T) {
	f := newFixture(t, 0)
	if f.acme.Name != "Acme" || f.acme.MaxUsers != defaultMaxUsers || f.acme.Status != models.CompanyActive {
		t.Fatalf("company = %+v", f.acme)
	}
	if _, err := f.svc.CreateCompany(context.Background(), CompanyInput{Name: "  "}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("blank name err = %v", err)
	}
}

func TestScopeRules(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	if _, err := f.svc.ListMembers(ctx, Actor{UserID: "x", Role: models.RolePro}, ""); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("pro err = %v", err)
	}
	if _, err := f.svc.ListMembers(ctx, f.manager, "other-company"); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("foreign company err = %v", err)
	}
	if _, err := f.svc.ListMembers(ctx, Actor{UserID: "root", Role: models.RoleSuperuser}, ""); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("superuser without company_id err = %v", err)
	}

	members, err := f.svc.ListMembers(ctx, f.manager, "")
	if err != nil || len(members) != 1 {
		t.Fatalf("members = %v, %v", members, err)
	}
	members, err = f.svc.ListMembers(ctx, Actor{UserID: "root", Role: models.RoleSuperuser}, f.acme.ID)
	if err != nil || len(members) != 1 {
		t.Fatalf("superuser members = %v, %v", members, err)
	}
}

func TestInviteSkipsBadRowsAndBuildsLinks(t *testing.T) {
	f := newFixture(t, 10)

	res, err := f.svc.Invite(context.Background(), f.manager, "", []InviteInput{
		{Email: "Ann@Acme.test", Name: "Ann"},
		{Email: "ann@acme.test", Name: "Ann again"},
		{Email: "not-an-email", Name: "Bob"},
		{Email: "cy@acme.test", Name: ""},
		{Email: "dee@acme.test", Name: "Dee", Role: models.RoleSuperuser},
		{Email: "eve@acme.test", Name: "Eve", Role: models.RoleEnterpriseManager},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sent) != 2 || len(res.Skipped) != 4 {
		t.Fatalf("sent=%d skipped=%d", len(res.Sent), len(res.Skipped))
	}

	ann := res.Sent[0]
	if ann.Email != "ann@acme.test" || ann.Role != models.RoleEnterpriseUser || ann.Status != models.InvitationPending {
		t.Fatalf("invitation = %+v", ann.Invitation)
	}
	if !ann.ExpiresAt.Equal(testNow.Add(72 * time.Hour)) {
		t.Fatalf("expires_at = %s", ann.ExpiresAt)
	}
	if ann.URL != "https://app.mailoreply.ai/signup?invitation="+ann.Token {
		t.Fatalf("url = %q", ann.URL)
	}
}

func TestInviteSkipsMembersAndLiveInvitations(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	if _, err := f.svc.Invite(ctx, f.manager, "", []InviteInput{{Email: "a@acme.test", Name: "A"}}); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Invite(ctx, f.manager, "", []InviteInput{
		{Email: "MGR@acme.test", Name: "Manager"},
		{Email: "a@acme.test", Name: "A"},
		{Email: "b@acme.test", Name: "B"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sent) != 1 || res.Sent[0].Email != "b@acme.test" {
		t.Fatalf("sent = %+v", res.Sent)
	}
	reasons := map[string]string{}
	for _, sk := range res.Skipped {
		reasons[sk.Email] = sk.Reason
	}
	if reasons["mgr@acme.test"] != "already a member" || reasons["a@acme.test"] != "already invited" {
		t.Fatalf("skipped = %+v", res.Skipped)
	}

	// once the invitation lapses the address can be invited again
	f.svc.now = func() time.Time { return testNow.Add(models.InvitationTTL + time.Hour) }
	res, err = f.svc.Invite(ctx, f.manager, "", []InviteInput{{Email: "a@acme.test", Name: "A"}})
	if err != nil || len(res.Sent) != 1 {
		t.Fatalf("re-invite after expiry = %+v, %v", res, err)
	}
}

func TestInviteRespectsSeatLimit(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	// one member already
	_, err := f.svc.Invite(ctx, f.manager, "", []InviteInput{
		{Email: "a@acme.test", Name: "A"},
		{Email: "b@acme.test", Name: "B"},
		{Email: "c@acme.test", Name: "C"},
	})
	if !apperr.Is(err, apperr.KindValidation) || !strings.Contains(err.Error(), "user limit") {
		t.Fatalf("err = %v", err)
	}
	if list, _ := f.svc.ListInvitations(ctx, f.manager, ""); len(list) != 0 {
		t.Fatalf("batch must be all or nothing, got %d", len(list))
	}

	if _, err := f.svc.Invite(ctx, f.manager, "", []InviteInput{{Email: "a@acme.test", Name: "A"}, {Email: "b@acme.test", Name: "B"}}); err != nil {
		t.Fatal(err)
	}

	// expired invitations free their seat
	f.svc.now = func() time.Time { return testNow.Add(73 * time.Hour) }
	if _, err := f.svc.Invite(ctx, f.manager, "", []InviteInput{{Email: "c@acme.test", Name: "C"}}); err != nil {
		t.Fatalf("after expiry: %v", err)
	}
}

func TestResendAndCancel(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	res, _ := f.svc.Invite(ctx, f.manager, "", []InviteInput{{Email: "a@acme.test", Name: "A"}})
	id := res.Sent[0].ID

	f.svc.now = func() time.Time { return testNow.Add(48 * time.Hour) }
	sent, err := f.svc.ResendInvitation(ctx, f.manager, id)
	if err != nil {
		t.Fatal(err)
	}
	if want := testNow.Add(48*time.Hour + models.InvitationTTL); !sent.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %s, want %s", sent.ExpiresAt, want)
	}

	outsider := Actor{UserID: "mgr2", Role: models.RoleEnterpriseManager}
	other := "globex"
	f.store.users["mgr2"] = &models.User{ID: "mgr2", CompanyID: &other}
	if err := f.svc.CancelInvitation(ctx, outsider, id); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("outsider cancel err = %v", err)
	}

	if err := f.svc.CancelInvitation(ctx, f.manager, id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ResendInvitation(ctx, f.manager, id); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("resend cancelled err = %v", err)
	}
}

func TestPendingAndAccept(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	res, _ := f.svc.Invite(ctx, f.manager, "", []InviteInput{{Email: "a@acme.test", Name: "A"}})
	token := res.Sent[0].Token

	inv, err := f.svc.PendingInvitation(ctx, token)
	if err != nil || inv.CompanyID != f.acme.ID {
		t.Fatalf("pending = %+v, %v", inv, err)
	}
	if _, err := f.svc.PendingInvitation(ctx, "nope"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("unknown token err = %v", err)
	}

	if err := f.svc.AcceptInvitation(ctx, token, "new-user"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.AcceptInvitation(ctx, token, "someone-else"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("second accept err = %v", err)
	}
	if _, err := f.svc.PendingInvitation(ctx, token); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("accepted token should not be pending: %v", err)
	}
}

func TestPendingRejectsExpiredAndSuspended(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	res, _ := f.svc.Invite(ctx, f.manager, "", []InviteInput{{Email: "a@acme.test", Name: "A"}})
	token := res.Sent[0].Token

	if err := f.svc.SetStatus(ctx, f.acme.ID, models.CompanySuspended); err != nil {
		t.Fatal(err)
	}
	if f.store.users["mgr"].Status != models.StatusSuspended {
		t.Fatal("suspending a company suspends its members")
	}
	if _, err := f.svc.PendingInvitation(ctx, token); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("suspended company err = %v", err)
	}
	if _, err := f.svc.Invite(ctx, Actor{UserID: "root", Role: models.RoleSuperuser}, f.acme.ID, []InviteInput{{Email: "b@acme.test", Name: "B"}}); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("invite into suspended company err = %v", err)
	}

	_ = f.svc.SetStatus(ctx, f.acme.ID, models.CompanyActive)
	f.svc.now = func() time.Time { return testNow.Add(models.InvitationTTL) }
	if _, err := f.svc.PendingInvitation(ctx, token); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expired err = %v", err)
	}
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id := f.acme.ID
	f.store.users["u1"] = &models.User{ID: "u1", CompanyID: &id}
	f.store.users["u1"].ApplyPlan(models.RoleEnterpriseUser)

	if err := f.svc.RemoveMember(ctx, f.manager, "", "mgr"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("self removal err = %v", err)
	}
	if err := f.svc.RemoveMember(ctx, f.manager, "", "ghost"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("unknown member err = %v", err)
	}
	if err := f.svc.RemoveMember(ctx, f.manager, "", "u1"); err != nil {
		t.Fatal(err)
	}
	u := f.store.users["u1"]
	if u.CompanyID != nil || u.Role != models.RoleFree || u.DailyLimit != models.LimitsFor(models.RoleFree).Daily {
		t.Fatalf("removed member = %+v", u)
	}
}

func TestUpdateCompanyMaxUsersFloor(t *testing.T) {
	f := newFixture(t, 10)
	zero := 0
	if _, err := f.svc.UpdateCompany(context.Background(), f.acme.ID, CompanyPatch{MaxUsers: &zero}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v", err)
	}
	name, max := "Acme Corp", 20
	c, err := f.svc.UpdateCompany(context.Background(), f.acme.ID, CompanyPatch{Name: &name, MaxUsers: &max})
	if err != nil || c.Name != "Acme Corp" || c.MaxUsers != 20 {
		t.Fatalf("updated = %+v, %v", c, err)
	}
	if _, err := f.svc.UpdateCompany(context.Background(), "missing", CompanyPatch{Name: &name}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestMyCompany(t *testing.T) {
	f := newFixture(t, 10)
	c, err := f.svc.MyCompany(context.Background(), "mgr")
	if err != nil || c.ID != f.acme.ID || c.CurrentUsers != 1 {
		t.Fatalf("company = %+v, %v", c, err)
	}
	f.store.users["solo"] = &models.User{ID: "solo"}
	if _, err := f.svc.MyCompany(context.Background(), "solo"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("no company err = %v", err)
	}
}

func TestParseInviteCSV(t *testing.T) {
	in := "email,name\nann@acme.test, Ann\n\nbob@acme.test\ncy@acme.test,Cy,enterprise_manager\n,Nobody\n"
	got, err := ParseInviteCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %+v", got)
	}
	if got[0].Name != "Ann" || got[1].Role != models.RoleEnterpriseManager {
		t.Fatalf("rows = %+v", got)
	}

	if _, err := ParseInviteCSV(strings.NewReader("email,name\n")); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("empty csv err = %v", err)
	}

	// no header row
	got, err = ParseInviteCSV(strings.NewReader("dee@acme.test,Dee\n"))
	if err != nil || len(got) != 1 {
		t.Fatalf("headerless = %+v, %v", got, err)
	}
}
