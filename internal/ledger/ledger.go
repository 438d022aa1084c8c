// Package ledger enforces plan quotas. It owns the per-user generation
// counters, the generation history and the device registrations.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/pkg/logger"
)

var (
	ErrNotFound      = errors.New("ledger: not found")
	ErrQuotaExceeded = errors.New("ledger: quota exceeded")
	ErrDeviceLimit   = errors.New("ledger: device limit reached")
	ErrSuspended     = errors.New("ledger: user suspended")
)

// Store is the persistence behind the ledger. Every counter mutation is a
// single atomic operation on the store side.
type Store interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	CountDevices(ctx context.Context, userID string) (int, error)

	// Reserve rolls over stale periods, checks the limits and takes one
	// generation slot, all under a row lock. It returns the updated user
	// or ErrQuotaExceeded / ErrSuspended.
	Reserve(ctx context.Context, userID string, now time.Time) (models.User, error)
	// Release gives back a slot taken at reservedAt, unless the period it
	// was counted in has already rolled over.
	Release(ctx context.Context, userID string, reservedAt time.Time) error
	// Increment unconditionally adds one generation.
	Increment(ctx context.Context, userID string, now time.Time) error
	InsertGeneration(ctx context.Context, g models.Generation) error

	UpsertDevice(ctx context.Context, userID, fingerprint string, name *string, now time.Time) (models.Device, bool, error)
	TouchDevice(ctx context.Context, userID, fingerprint string, now time.Time) error
	ListDevices(ctx context.Context, userID string) ([]models.Device, error)
	DeleteDevice(ctx context.Context, userID, deviceID string) error
	HasDevice(ctx context.Context, userID, fingerprint string) (bool, error)

	Breakdown(ctx context.Context, userID string, now time.Time) (Breakdown, error)
}

// Cache is the subset of the Redis client used for usage stats.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type SourceCounts struct {
	Today int `json:"today"`
	Month int `json:"month"`
	Total int `json:"total"`
}

type Breakdown struct {
	Website   SourceCounts        `json:"website"`
	Extension SourceCounts        `json:"extension"`
	Recent    []models.Generation `json:"recentGenerations"`
}

// ExtensionLimits is the flattened view the browser extension polls.
// Remaining counts are omitted for unlimited periods.
type ExtensionLimits struct {
	Role             models.Role       `json:"role"`
	Status           models.UserStatus `json:"status"`
	DailyLimit       int               `json:"daily_limit"`
	MonthlyLimit     int               `json:"monthly_limit"`
	DailyUsed        int               `json:"daily_used"`
	MonthlyUsed      int               `json:"monthly_used"`
	DailyRemaining   *int              `json:"daily_remaining,omitempty"`
	MonthlyRemaining *int              `json:"monthly_remaining,omitempty"`
	IsUnlimited      bool              `json:"is_unlimited"`
	CanGenerate      bool              `json:"can_generate"`
}

const statsTTL = 30 * time.Second

type Service struct {
	store  Store
	cache  Cache
	logger *logger.Logger
	now    func() time.Time
}

// NewService wires the ledger. cache may be nil.
func NewService(store Store, cache Cache, l *logger.Logger) *Service {
	return &Service{store: store, cache: cache, logger: l.With("component", "ledger"), now: time.Now}
}

// CanGenerate fails closed. When the ledger cannot be read, only a session
// already carrying an unlimited role is let through.
func (s *Service) CanGenerate(ctx context.Context, userID string, roleHint models.Role) (bool, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, apperr.NotFound("User profile not found")
		}
		if roleHint.IsUnlimited() {
			s.logger.Warn("Ledger unreachable, allowing unlimited role", "user_id", userID, "role", roleHint, "error", err)
			return true, nil
		}
		s.logger.Error("Ledger unreachable, denying generation", "user_id", userID, "error", err)
		return false, apperr.Network("Usage service is unavailable", err)
	}

	u.Normalize(s.now())
	return u.HasQuota(), nil
}

// Reserve atomically takes one generation slot.
func (s *Service) Reserve(ctx context.Context, userID string) (*Reservation, error) {
	now := s.now()
	u, err := s.store.Reserve(ctx, userID, now)
	switch {
	case err == nil:
	case errors.Is(err, ErrQuotaExceeded):
		return nil, apperr.Quota("Generation limit reached. Upgrade your plan to keep generating.")
	case errors.Is(err, ErrSuspended):
		return nil, apperr.Forbidden("Account is suspended")
	case errors.Is(err, ErrNotFound):
		return nil, apperr.NotFound("User profile not found")
	default:
		return nil, apperr.Network("Usage service is unavailable", err)
	}

	s.invalidate(ctx, userID)
	return &Reservation{svc: s, userID: userID, companyID: u.CompanyID, at: now}, nil
}

// TrackGeneration records an attempt that did not go through Reserve.
// Duplicate calls are counted twice.
func (s *Service) TrackGeneration(ctx context.Context, userID string, req models.GenerationRequest, success bool, errMsg string) error {
	now := s.now()
	g := newGeneration(userID, nil, req, now, success, errMsg, 0)
	if err := s.store.InsertGeneration(ctx, g); err != nil {
		return apperr.Network("Failed to record generation", err)
	}
	if success {
		if err := s.store.Increment(ctx, userID, now); err != nil {
			return apperr.Network("Failed to update usage", err)
		}
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) GetUsageStats(ctx context.Context, userID string) (models.UsageStats, error) {
	key := statsKey(userID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var stats models.UsageStats
			if json.Unmarshal([]byte(raw), &stats) == nil {
				return stats, nil
			}
		}
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.UsageStats{}, apperr.NotFound("User profile not found")
		}
		return models.UsageStats{}, apperr.Network("Usage service is unavailable", err)
	}
	u.Normalize(s.now())

	devices, err := s.store.CountDevices(ctx, userID)
	if err != nil {
		return models.UsageStats{}, apperr.Network("Usage service is unavailable", err)
	}

	stats := models.NewUsageStats(u, devices)
	if s.cache != nil {
		if raw, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, key, raw, statsTTL); err != nil {
				s.logger.Debug("Usage stats cache write failed", "user_id", userID, "error", err)
			}
		}
	}
	return stats, nil
}

func (s *Service) GetUsageBreakdown(ctx context.Context, userID string) (Breakdown, error) {
	b, err := s.store.Breakdown(ctx, userID, s.now())
	if err != nil {
		return Breakdown{}, apperr.Network("Usage service is unavailable", err)
	}
	return b, nil
}

func (s *Service) ExtensionLimits(ctx context.Context, userID string) (ExtensionLimits, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ExtensionLimits{}, apperr.NotFound("User profile not found")
		}
		return ExtensionLimits{}, apperr.Network("Usage service is unavailable", err)
	}
	u.Normalize(s.now())

	stats := models.NewUsageStats(u, 0)
	out := ExtensionLimits{
		Role:         u.Role,
		Status:       u.Status,
		DailyLimit:   u.DailyLimit,
		MonthlyLimit: u.MonthlyLimit,
		DailyUsed:    u.DailyUsage,
		MonthlyUsed:  u.MonthlyUsage,
		IsUnlimited:  stats.IsUnlimited,
		CanGenerate:  u.HasQuota(),
	}
	if m := stats.Meter(models.MeterDaily); !m.Unlimited {
		out.DailyRemaining = &m.Remaining
	}
	if m := stats.Meter(models.MeterMonthly); !m.Unlimited {
		out.MonthlyRemaining = &m.Remaining
	}
	return out, nil
}

// ValidateExtensionAccess allows an active user on a device that is either
// registered already or still fits within the device limit.
func (s *Service) ValidateExtensionAccess(ctx context.Context, userID, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, apperr.Validation("Device fingerprint is required")
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, apperr.Network("Usage service is unavailable", err)
	}
	if u.Status != models.StatusActive {
		return false, nil
	}

	known, err := s.store.HasDevice(ctx, userID, fingerprint)
	if err != nil {
		return false, apperr.Network("Usage service is unavailable", err)
	}
	if known || u.DeviceLimit == models.Unlimited {
		return true, nil
	}

	count, err := s.store.CountDevices(ctx, userID)
	if err != nil {
		return false, apperr.Network("Usage service is unavailable", err)
	}
	return count < u.DeviceLimit, nil
}

// RegisterDevice inserts the device or refreshes its last activity. A new
// device beyond the plan's device limit is refused.
func (s *Service) RegisterDevice(ctx context.Context, userID, fingerprint string, name *string) (models.Device, bool, error) {
	if fingerprint == "" {
		return models.Device{}, false, apperr.Validation("Device fingerprint is required")
	}

	d, created, err := s.store.UpsertDevice(ctx, userID, fingerprint, name, s.now())
	switch {
	case err == nil:
	case errors.Is(err, ErrDeviceLimit):
		return models.Device{}, false, apperr.Quota("Device limit reached for your plan. Remove a device or upgrade.")
	case errors.Is(err, ErrNotFound):
		return models.Device{}, false, apperr.NotFound("User profile not found")
	default:
		return models.Device{}, false, apperr.Network("Failed to register device", err)
	}

	if created {
		s.logger.Info("Device registered", "user_id", userID, "device_id", d.ID)
		s.invalidate(ctx, userID)
	}
	return d, created, nil
}

func (s *Service) TouchDevice(ctx context.Context, userID, fingerprint string) error {
	if err := s.store.TouchDevice(ctx, userID, fingerprint, s.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("Device not registered")
		}
		return apperr.Network("Failed to update device", err)
	}
	return nil
}

func (s *Service) ListDevices(ctx context.Context, userID string) ([]models.Device, error) {
	devices, err := s.store.ListDevices(ctx, userID)
	if err != nil {
		return nil, apperr.Network("Failed to load devices", err)
	}
	return devices, nil
}

func (s *Service) RemoveDevice(ctx context.Context, userID, deviceID string) error {
	if err := s.store.DeleteDevice(ctx, userID, deviceID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("Device not found")
		}
		return apperr.Network("Failed to remove device", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// Invalidate drops the cached stats, e.g. after a plan change.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	s.invalidate(ctx, userID)
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsKey(userID)); err != nil {
		s.logger.Debug("Usage stats cache invalidation failed", "user_id", userID, "error", err)
	}
}

func statsKey(userID string) string {
	return "usage:stats:" + userID
}

func newGeneration(userID string, companyID *string, req models.GenerationRequest, at time.Time, success bool, errMsg string, outputLen int) models.Generation {
	g := models.Generation{
		UserID:         userID,
		CompanyID:      companyID,
		Source:         req.Source,
		GenerationType: req.GenerationType,
		Language:       req.Language,
		Tone:           req.Tone,
		InputLength:    req.InputLength(),
		OutputLength:   outputLen,
		Encrypted:      req.Encrypted,
		Success:        success,
		CreatedAt:      at,
	}
	if g.Source == "" {
		g.Source = models.SourceWebsite
	}
	if req.Intent != "" {
		intent := req.Intent
		g.Intent = &intent
	}
	if errMsg != "" {
		g.ErrorMessage = &errMsg
	}
	return g
}
