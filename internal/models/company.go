package models

import "time"

type CompanyStatus string

const (
	CompanyActive    CompanyStatus = "active"
	CompanySuspended CompanyStatus = "suspended"
)

// Company is an enterprise tenant. CurrentUsers is counted from its members,
// never stored.
type Company struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Domain       *string       `json:"domain"`
	MaxUsers     int           `json:"max_users"`
	CurrentUsers int           `json:"current_users"`
	Status       CompanyStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationCancelled InvitationStatus = "cancelled"
)

// InvitationTTL is how long an invitation stays redeemable after it is sent
// or resent.
const InvitationTTL = 72 * time.Hour

type Invitation struct {
	ID         string           `json:"id"`
	CompanyID  string           `json:"company_id"`
	Email      string           `json:"email"`
	Name       string           `json:"name"`
	Role       Role             `json:"role"`
	Token      string           `json:"-"`
	Status     InvitationStatus `json:"status"`
	InvitedBy  *string          `json:"invited_by"`
	ExpiresAt  time.Time        `json:"expires_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	AcceptedBy *string          `json:"accepted_by,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Redeemable reports whether the invitation can still be used to sign up.
func (i Invitation) Redeemable(now time.Time) bool {
	return i.Status == InvitationPending && now.Before(i.ExpiresAt)
}
