package models

import (
	"time"
)

type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusSuspended UserStatus = "suspended"
)

type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	PasswordHash     string     `json:"-"`
	Role             Role       `json:"role"`
	CompanyID        *string    `json:"company_id"`
	Status           UserStatus `json:"status"`
	DailyLimit       int        `json:"daily_limit"`
	MonthlyLimit     int        `json:"monthly_limit"`
	DeviceLimit      int        `json:"device_limit"`
	DailyUsage       int        `json:"daily_usage"`
	MonthlyUsage     int        `json:"monthly_usage"`
	LastDailyReset   time.Time  `json:"last_daily_reset"`
	LastMonthlyReset time.Time  `json:"last_monthly_reset"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ApplyPlan copies the role's limits onto the user.
func (u *User) ApplyPlan(role Role) {
	l := LimitsFor(role)
	u.Role = role
	u.DailyLimit = l.Daily
	u.MonthlyLimit = l.Monthly
	u.DeviceLimit = l.Devices
}

// Normalize zeroes counters whose period has rolled over since the last
// reset. Days and months are UTC. It reports whether anything changed.
func (u *User) Normalize(now time.Time) bool {
	now = now.UTC()
	changed := false

	if !sameDay(u.LastDailyReset.UTC(), now) {
		u.DailyUsage = 0
		u.LastDailyReset = now
		changed = true
	}
	if !sameMonth(u.LastMonthlyReset.UTC(), now) {
		u.MonthlyUsage = 0
		u.LastMonthlyReset = now
		changed = true
	}
	return changed
}

// HasQuota reports whether one more generation fits within the user's
// limits. Suspended users have none.
func (u User) HasQuota() bool {
	if u.Status == StatusSuspended {
		return false
	}
	if u.DailyLimit != Unlimited && u.DailyUsage >= u.DailyLimit {
		return false
	}
	if u.MonthlyLimit != Unlimited && u.MonthlyUsage >= u.MonthlyLimit {
		return false
	}
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

type UserSettings struct {
	UserID            string    `json:"user_id"`
	AlwaysEncrypt     bool      `json:"always_encrypt"`
	EncryptionEnabled bool      `json:"encryption_enabled"`
	DefaultLanguage   string    `json:"default_language"`
	DefaultTone       string    `json:"default_tone"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:          userID,
		DefaultLanguage: "English",
		DefaultTone:     "Professional",
	}
}

type Device struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Fingerprint string    `json:"device_fingerprint"`
	Name        *string   `json:"device_name"`
	Status      string    `json:"status"`
	LastActive  time.Time `json:"last_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Source string

const (
	SourceWebsite   Source = "website"
	SourceExtension Source = "extension"
)

type GenerationType string

const (
	GenerationReply GenerationType = "reply"
	GenerationEmail GenerationType = "email"
)

type GenerationRequest struct {
	Source          Source         `json:"source"`
	GenerationType  GenerationType `json:"generationType"`
	Language        string         `json:"language"`
	Tone            string         `json:"tone"`
	Intent          string         `json:"intent,omitempty"`
	OriginalMessage string         `json:"originalMessage,omitempty"`
	Prompt          string         `json:"prompt,omitempty"`
	Encrypted       bool           `json:"encrypted"`
}

// InputLength is the size of whichever text the mode reads.
func (r GenerationRequest) InputLength() int {
	if r.GenerationType == GenerationReply {
		return len(r.OriginalMessage)
	}
	return len(r.Prompt)
}

type GenerationResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Subject string `json:"subject,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Generation is one row of the ai_generations table.
type Generation struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	CompanyID      *string        `json:"company_id"`
	Source         Source         `json:"source"`
	GenerationType GenerationType `json:"generation_type"`
	Language       string         `json:"language"`
	Tone           string         `json:"tone"`
	Intent         *string        `json:"intent"`
	InputLength    int            `json:"input_length"`
	OutputLength   int            `json:"output_length"`
	Encrypted      bool           `json:"encrypted"`
	Success        bool           `json:"success"`
	ErrorMessage   *string        `json:"error_message"`
	CreatedAt      time.Time      `json:"created_at"`
}

type Subscription struct {
	UserID               string    `json:"user_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id"`
	StripeCustomerID     string    `json:"stripe_customer_id"`
	Status               string    `json:"status"`
	PriceID              string    `json:"price_id"`
	CurrentPeriodStart   time.Time `json:"current_period_start"`
	CurrentPeriodEnd     time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool      `json:"cancel_at_period_end"`
}

type Payment struct {
	UserID          string    `json:"user_id"`
	StripeInvoiceID string    `json:"stripe_invoice_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// ExtensionLog is an error report sent by the browser extension.
type ExtensionLog struct {
	ID           int64                  `json:"id"`
	UserID       *string                `json:"user_id"`
	ErrorType    string                 `json:"error_type"`
	ErrorMessage string                 `json:"error_message"`
	Context      map[string]interface{} `json:"context_data,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

var (
	Languages = []string{
		"English", "Spanish", "French", "German", "Italian", "Portuguese",
		"Dutch", "Russian", "Chinese (Simplified)", "Chinese (Traditional)",
		"Japanese", "Korean", "Arabic", "Hindi", "Polish", "Swedish",
		"Norwegian", "Danish", "Finnish", "Turkish",
	}
	Tones = []string{
		"Friendly", "Professional", "Polite", "Direct", "Apologetic",
		"Thankful", "Urgent",
	}
	Intents = []string{
		"Say Yes", "Say No", "Ask for More Info", "Delay Reply", "Follow Up",
		"Confirm Something", "Decline Politely", "Request Action", "Thank Sender",
		"Acknowledge Message",
	}
)
