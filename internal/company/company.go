// Package company manages enterprise tenants, their members and the
// invitations that bring new members in.
package company

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/logger"
)

var (
	ErrNotFound   = errors.New("company: not found")
	ErrSeatLimit  = errors.New("company: user limit reached")
	ErrSuspended  = errors.New("company: suspended")
	ErrNotPending = errors.New("company: invitation is not pending")
)

const defaultMaxUsers = 50

type Store interface {
	ListCompanies(ctx context.Context) ([]models.Company, error)
	GetCompany(ctx context.Context, id string) (models.Company, error)
	CreateCompany(ctx context.Context, c models.Company) (models.Company, error)
	UpdateCompany(ctx context.Context, c models.Company) (models.Company, error)
	// SetCompanyStatus updates the company and every member account.
	SetCompanyStatus(ctx context.Context, id string, status models.CompanyStatus) error
	DeleteCompany(ctx context.Context, id string) error

	// CompanyOf returns the user's company id, or "" when they have none.
	CompanyOf(ctx context.Context, userID string) (string, error)
	ListMembers(ctx context.Context, companyID string) ([]models.User, error)
	// RemoveMember detaches the user and drops them to the free plan.
	RemoveMember(ctx context.Context, companyID, userID string) error

	// AddInvitations inserts invs under a lock on the company row. Members
	// plus redeemable pending invitations may not exceed max_users.
	AddInvitations(ctx context.Context, companyID string, invs []models.Invitation, now time.Time) error
	ListInvitations(ctx context.Context, companyID string) ([]models.Invitation, error)
	GetInvitation(ctx context.Context, id string) (models.Invitation, error)
	InvitationByToken(ctx context.Context, token string) (models.Invitation, error)
	ExtendInvitation(ctx context.Context, id string, expiresAt time.Time) error
	CancelInvitation(ctx context.Context, id string) error
	// AcceptInvitation marks a redeemable invitation accepted, and returns
	// ErrNotPending when it is no longer redeemable.
	AcceptInvitation(ctx context.Context, token, userID string, at time.Time) error
}

// Actor is the signed-in user acting on a company.
type Actor struct {
	UserID string
	Role   models.Role
}

type Service struct {
	store  Store
	appURL string
	logger *logger.Logger
	now    func() time.Time
}

func NewService(store Store, appURL string, l *logger.Logger) *Service {
	return &Service{
		store:  store,
		appURL: strings.TrimRight(appURL, "/"),
		logger: l.With("component", "company"),
		now:    time.Now,
	}
}

func storeErr(msg string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(msg + " not found")
	case errors.Is(err, ErrSeatLimit):
		return apperr.Validation("Company has reached its user limit")
	case errors.Is(err, ErrSuspended):
		return apperr.Forbidden("Company is suspended")
	default:
		return apperr.Network("Failed to load "+strings.ToLower(msg), err)
	}
}

// scope resolves the company an actor may act on. Superusers name the
// company; managers are pinned to their own.
func (s *Service) scope(ctx context.Context, a Actor, requested string) (string, error) {
	if a.Role == models.RoleSuperuser {
		if requested == "" {
			return "", apperr.Validation("company_id is required")
		}
		return requested, nil
	}
	if a.Role != models.RoleEnterpriseManager {
		return "", apperr.Forbidden("Enterprise manager access required")
	}

	own, err := s.store.CompanyOf(ctx, a.UserID)
	if err != nil {
		return "", storeErr("User", err)
	}
	if own == "" {
		return "", apperr.Forbidden("You are not a member of a company")
	}
	if requested != "" && requested != own {
		return "", apperr.Forbidden("Access denied")
	}
	return own, nil
}

// ============== COMPANIES ==============

type CompanyInput struct {
	Name     string  `json:"name"`
	Domain   *string `json:"domain"`
	MaxUsers int     `json:"max_users"`
}

type CompanyPatch struct {
	Name     *string `json:"name"`
	Domain   *string `json:"domain"`
	MaxUsers *int    `json:"max_users"`
}

func (s *Service) ListCompanies(ctx context.Context) ([]models.Company, error) {
	list, err := s.store.ListCompanies(ctx)
	if err != nil {
		return nil, storeErr("Companies", err)
	}
	return list, nil
}

func (s *Service) GetCompany(ctx context.Context, id string) (models.Company, error) {
	c, err := s.store.GetCompany(ctx, id)
	if err != nil {
		return models.Company{}, storeErr("Company", err)
	}
	return c, nil
}

// MyCompany is the company profile of the user's own tenant.
func (s *Service) MyCompany(ctx context.Context, userID string) (models.Company, error) {
	id, err := s.store.CompanyOf(ctx, userID)
	if err != nil {
		return models.Company{}, storeErr("User", err)
	}
	if id == "" {
		return models.Company{}, apperr.NotFound("No company associated with this account")
	}
	return s.GetCompany(ctx, id)
}

func (s *Service) CreateCompany(ctx context.Context, in CompanyInput) (models.Company, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Company{}, apperr.Validation("Company name is required")
	}
	if in.MaxUsers < 0 {
		return models.Company{}, apperr.Validation("max_users must be positive")
	}
	if in.MaxUsers == 0 {
		in.MaxUsers = defaultMaxUsers
	}

	now := s.now().UTC()
	c, err := s.store.CreateCompany(ctx, models.Company{
		ID:        uuid.NewString(),
		Name:      name,
		Domain:    normalizeDomain(in.Domain),
		MaxUsers:  in.MaxUsers,
		Status:    models.CompanyActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return models.Company{}, storeErr("Company", err)
	}
	s.logger.Info("Company created", "company_id", c.ID, "name", c.Name)
	return c, nil
}

func (s *Service) UpdateCompany(ctx context.Context, id string, patch CompanyPatch) (models.Company, error) {
	c, err := s.store.GetCompany(ctx, id)
	if err != nil {
		return models.Company{}, storeErr("Company", err)
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return models.Company{}, apperr.Validation("Company name is required")
		}
		c.Name = name
	}
	if patch.Domain != nil {
		c.Domain = normalizeDomain(patch.Domain)
	}
	if patch.MaxUsers != nil {
		if *patch.MaxUsers < c.CurrentUsers || *patch.MaxUsers <= 0 {
			return models.Company{}, apperr.Validation("max_users cannot be below the current member count")
		}
		c.MaxUsers = *patch.MaxUsers
	}
	c.UpdatedAt = s.now().UTC()

	updated, err := s.store.UpdateCompany(ctx, c)
	if err != nil {
		return models.Company{}, storeErr("Company", err)
	}
	return updated, nil
}

func (s *Service) SetStatus(ctx context.Context, id string, status models.CompanyStatus) error {
	if status != models.CompanyActive && status != models.CompanySuspended {
		return apperr.Validation("Unknown company status")
	}
	if err := s.store.SetCompanyStatus(ctx, id, status); err != nil {
		return storeErr("Company", err)
	}
	s.logger.Info("Company status changed", "company_id", id, "status", status)
	return nil
}

func (s *Service) DeleteCompany(ctx context.Context, id string) error {
	if err := s.store.DeleteCompany(ctx, id); err != nil {
		return storeErr("Company", err)
	}
	s.logger.Info("Company deleted", "company_id", id)
	return nil
}

func normalizeDomain(d *string) *string {
	if d == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*d))
	if v == "" {
		return nil
	}
	return &v
}

// ============== TEAM ==============

func (s *Service) ListMembers(ctx context.Context, a Actor, companyID string) ([]models.User, error) {
	id, err := s.scope(ctx, a, companyID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, id)
	if err != nil {
		return nil, storeErr("Members", err)
	}
	return members, nil
}

func (s *Service) RemoveMember(ctx context.Context, a Actor, companyID, userID string) error {
	id, err := s.scope(ctx, a, companyID)
	if err != nil {
		return err
	}
	if userID == a.UserID {
		return apperr.Validation("You cannot remove yourself")
	}
	if err := s.store.RemoveMember(ctx, id, userID); err != nil {
		return storeErr("Member", err)
	}
	s.logger.Info("Team member removed", "company_id", id, "user_id", userID, "by", a.UserID)
	return nil
}

// ============== INVITATIONS ==============

type InviteInput struct {
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  models.Role `json:"role"`
}

type SentInvitation struct {
	models.Invitation
	URL string `json:"invitation_url"`
}

type SkippedInvite struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

type InviteResult struct {
	Sent    []SentInvitation `json:"sent"`
	Skipped []SkippedInvite  `json:"skipped"`
}

// InvitationURL is the sign-up link carrying the invitation token.
func (s *Service) InvitationURL(inv models.Invitation) string {
	q := url.Values{}
	q.Set("invitation", inv.Token)
	return s.appURL + "/signup?" + q.Encode()
}

// Invite creates one invitation per valid input. Invalid or duplicate rows
// are skipped and reported; the seat limit applies to the whole batch.
func (s *Service) Invite(ctx context.Context, a Actor, companyID string, in []InviteInput) (InviteResult, error) {
	id, err := s.scope(ctx, a, companyID)
	if err != nil {
		return InviteResult{}, err
	}
	if len(in) == 0 {
		return InviteResult{}, apperr.Validation("No invitations to send")
	}

	now := s.now().UTC()
	taken, err := s.takenEmails(ctx, id, now)
	if err != nil {
		return InviteResult{}, err
	}

	res := InviteResult{Sent: []SentInvitation{}, Skipped: []SkippedInvite{}}
	seen := map[string]bool{}
	var invs []models.Invitation

	for _, item := range in {
		email := strings.ToLower(strings.TrimSpace(item.Email))
		name := strings.TrimSpace(item.Name)
		role := item.Role
		if role == "" {
			role = models.RoleEnterpriseUser
		}

		switch {
		case !validEmail(email):
			res.Skipped = append(res.Skipped, SkippedInvite{Email: item.Email, Reason: "invalid email"})
			continue
		case name == "":
			res.Skipped = append(res.Skipped, SkippedInvite{Email: email, Reason: "name is required"})
			continue
		case role != models.RoleEnterpriseUser && role != models.RoleEnterpriseManager:
			res.Skipped = append(res.Skipped, SkippedInvite{Email: email, Reason: "unsupported role"})
			continue
		case seen[email]:
			res.Skipped = append(res.Skipped, SkippedInvite{Email: email, Reason: "duplicate"})
			continue
		case taken[email] != "":
			res.Skipped = append(res.Skipped, SkippedInvite{Email: email, Reason: taken[email]})
			continue
		}
		seen[email] = true

		inviter := a.UserID
		invs = append(invs, models.Invitation{
			ID:        uuid.NewString(),
			CompanyID: id,
			Email:     email,
			Name:      name,
			Role:      role,
			Token:     uuid.NewString(),
			Status:    models.InvitationPending,
			InvitedBy: &inviter,
			ExpiresAt: now.Add(models.InvitationTTL),
			CreatedAt: now,
		})
	}

	if len(invs) == 0 {
		return res, nil
	}
	if err := s.store.AddInvitations(ctx, id, invs, now); err != nil {
		return InviteResult{}, storeErr("Company", err)
	}

	for _, inv := range invs {
		res.Sent = append(res.Sent, SentInvitation{Invitation: inv, URL: s.InvitationURL(inv)})
	}
	s.logger.Info("Invitations created", "company_id", id, "count", len(invs), "skipped", len(res.Skipped), "by", a.UserID)
	return res, nil
}

func (s *Service) ListInvitations(ctx context.Context, a Actor, companyID string) ([]models.Invitation, error) {
	id, err := s.scope(ctx, a, companyID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListInvitations(ctx, id)
	if err != nil {
		return nil, storeErr("Invitations", err)
	}
	return list, nil
}

// pendingFor loads an invitation the actor may manage and checks it is
// still pending.
func (s *Service) pendingFor(ctx context.Context, a Actor, invitationID string) (models.Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return models.Invitation{}, storeErr("Invitation", err)
	}
	if _, err := s.scope(ctx, a, inv.CompanyID); err != nil {
		return models.Invitation{}, err
	}
	if inv.Status != models.InvitationPending {
		return models.Invitation{}, apperr.Validation("Only pending invitations can be changed")
	}
	return inv, nil
}

// ResendInvitation restarts the invitation's expiry window.
func (s *Service) ResendInvitation(ctx context.Context, a Actor, invitationID string) (SentInvitation, error) {
	inv, err := s.pendingFor(ctx, a, invitationID)
	if err != nil {
		return SentInvitation{}, err
	}
	inv.ExpiresAt = s.now().UTC().Add(models.InvitationTTL)
	if err := s.store.ExtendInvitation(ctx, inv.ID, inv.ExpiresAt); err != nil {
		return SentInvitation{}, storeErr("Invitation", err)
	}
	s.logger.Info("Invitation resent", "invitation_id", inv.ID, "email", inv.Email, "by", a.UserID)
	return SentInvitation{Invitation: inv, URL: s.InvitationURL(inv)}, nil
}

func (s *Service) CancelInvitation(ctx context.Context, a Actor, invitationID string) error {
	inv, err := s.pendingFor(ctx, a, invitationID)
	if err != nil {
		return err
	}
	if err := s.store.CancelInvitation(ctx, inv.ID); err != nil {
		return storeErr("Invitation", err)
	}
	s.logger.Info("Invitation cancelled", "invitation_id", inv.ID, "by", a.UserID)
	return nil
}

// takenEmails maps the lower-cased emails that cannot be invited again to
// the reason: current members and holders of a live invitation.
func (s *Service) takenEmails(ctx context.Context, companyID string, now time.Time) (map[string]string, error) {
	members, err := s.store.ListMembers(ctx, companyID)
	if err != nil {
		return nil, storeErr("Team members", err)
	}
	invs, err := s.store.ListInvitations(ctx, companyID)
	if err != nil {
		return nil, storeErr("Invitations", err)
	}

	taken := make(map[string]string, len(members)+len(invs))
	for _, inv := range invs {
		if inv.Redeemable(now) {
			taken[strings.ToLower(inv.Email)] = "already invited"
		}
	}
	for _, u := range members {
		taken[strings.ToLower(u.Email)] = "already a member"
	}
	return taken, nil
}

// PendingInvitation returns the invitation behind token if it can still be
// redeemed and its company is active.
func (s *Service) PendingInvitation(ctx context.Context, token string) (models.Invitation, error) {
	invalid := apperr.Validation("Invalid or expired invitation")
	if strings.TrimSpace(token) == "" {
		return models.Invitation{}, invalid
	}

	inv, err := s.store.InvitationByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return models.Invitation{}, invalid
	}
	if err != nil {
		return models.Invitation{}, storeErr("Invitation", err)
	}
	if !inv.Redeemable(s.now()) {
		return models.Invitation{}, invalid
	}

	c, err := s.store.GetCompany(ctx, inv.CompanyID)
	if err != nil {
		return models.Invitation{}, storeErr("Company", err)
	}
	if c.Status != models.CompanyActive {
		return models.Invitation{}, apperr.Forbidden("Company is suspended")
	}
	return inv, nil
}

func (s *Service) AcceptInvitation(ctx context.Context, token, userID string) error {
	err := s.store.AcceptInvitation(ctx, token, userID, s.now().UTC())
	if errors.Is(err, ErrNotPending) || errors.Is(err, ErrNotFound) {
		return apperr.Validation("Invalid or expired invitation")
	}
	if err != nil {
		return apperr.Network("Failed to accept invitation", err)
	}
	s.logger.Info("Invitation accepted", "user_id", userID)
	return nil
}

// ParseInviteCSV reads "email,name[,role]" rows. A leading header row is
// skipped, as are rows missing an email or a name.
func ParseInviteCSV(r io.Reader) ([]InviteInput, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []InviteInput
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Validation("Error processing CSV file. Please check the format.")
		}
		if first {
			first = false
			if len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "email") {
				continue
			}
		}
		if len(rec) < 2 {
			continue
		}

		in := InviteInput{Email: strings.TrimSpace(rec[0]), Name: strings.TrimSpace(rec[1])}
		if len(rec) > 2 {
			in.Role = models.Role(strings.TrimSpace(rec[2]))
		}
		if in.Email == "" || in.Name == "" {
			continue
		}
		out = append(out, in)
	}

	if len(out) == 0 {
		return nil, apperr.Validation("No valid invitations found in CSV file")
	}
	return out, nil
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " ,;")
}
