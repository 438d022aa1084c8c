package models

// UsageStats is derived from a user row and the device count; it is never
// stored.
type UsageStats struct {
	DailyUsed    int  `json:"dailyUsed"`
	DailyLimit   int  `json:"dailyLimit"`
	MonthlyUsed  int  `json:"monthlyUsed"`
	MonthlyLimit int  `json:"monthlyLimit"`
	DeviceCount  int  `json:"deviceCount"`
	DeviceLimit  int  `json:"deviceLimit"`
	IsUnlimited  bool `json:"isUnlimited"`
}

// NewUsageStats builds the stats for u. u should already be normalized.
func NewUsageStats(u User, deviceCount int) UsageStats {
	return UsageStats{
		DailyUsed:    u.DailyUsage,
		DailyLimit:   u.DailyLimit,
		MonthlyUsed:  u.MonthlyUsage,
		MonthlyLimit: u.MonthlyLimit,
		DeviceCount:  deviceCount,
		DeviceLimit:  u.DeviceLimit,
		IsUnlimited:  u.DailyLimit == Unlimited || u.MonthlyLimit == Unlimited,
	}
}

type MeterKind string

const (
	MeterDaily   MeterKind = "daily"
	MeterMonthly MeterKind = "monthly"
	MeterDevices MeterKind = "devices"
)

// Meter is one gauge on the usage panel. Remaining and Percent are only
// meaningful when Unlimited is false.
type Meter struct {
	Used      int     `json:"used"`
	Limit     int     `json:"limit"`
	Unlimited bool    `json:"unlimited"`
	Percent   float64 `json:"percent"`
	Remaining int     `json:"remaining"`
}

func (s UsageStats) Meter(kind MeterKind) Meter {
	var used, limit int
	switch kind {
	case MeterDaily:
		used, limit = s.DailyUsed, s.DailyLimit
	case MeterMonthly:
		used, limit = s.MonthlyUsed, s.MonthlyLimit
	case MeterDevices:
		used, limit = s.DeviceCount, s.DeviceLimit
	}
	return newMeter(used, limit)
}

func (s UsageStats) Meters() map[MeterKind]Meter {
	return map[MeterKind]Meter{
		MeterDaily:   s.Meter(MeterDaily),
		MeterMonthly: s.Meter(MeterMonthly),
		MeterDevices: s.Meter(MeterDevices),
	}
}

func newMeter(used, limit int) Meter {
	if limit == Unlimited {
		return Meter{Used: used, Limit: limit, Unlimited: true}
	}

	m := Meter{Used: used, Limit: limit}
	if limit > 0 {
		m.Percent = float64(used) / float64(limit) * 100
		if m.Percent > 100 {
			m.Percent = 100
		}
	} else {
		m.Percent = 100
	}
	if remaining := limit - used; remaining > 0 {
		m.Remaining = remaining
	}
	return m
}
