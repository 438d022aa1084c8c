package models

type Role string

const (
	RoleFree              Role = "free"
	RolePro               Role = "pro"
	RoleProPlus           Role = "pro_plus"
	RoleEnterpriseUser    Role = "enterprise_user"
	RoleEnterpriseManager Role = "enterprise_manager"
	RoleSuperuser         Role = "superuser"
)

// Unlimited is the sentinel stored in any limit column.
const Unlimited = -1

type PlanLimits struct {
	Daily   int `json:"daily_limit"`
	Monthly int `json:"monthly_limit"`
	Devices int `json:"device_limit"`
}

var planLimits = map[Role]PlanLimits{
	RoleFree:              {Daily: 3, Monthly: 30, Devices: 1},
	RolePro:               {Daily: Unlimited, Monthly: 100, Devices: 1},
	RoleProPlus:           {Daily: Unlimited, Monthly: Unlimited, Devices: 2},
	RoleEnterpriseUser:    {Daily: Unlimited, Monthly: Unlimited, Devices: 1},
	RoleEnterpriseManager: {Daily: Unlimited, Monthly: Unlimited, Devices: 1},
	RoleSuperuser:         {Daily: Unlimited, Monthly: Unlimited, Devices: Unlimited},
}

// LimitsFor returns the plan limits for role. Unknown roles get the free plan.
func LimitsFor(role Role) PlanLimits {
	if l, ok := planLimits[role]; ok {
		return l
	}
	return planLimits[RoleFree]
}

func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := planLimits[r]
	return r, ok
}

func (r Role) Valid() bool {
	_, ok := planLimits[r]
	return ok
}

// IsUnlimited reports whether the role never runs out of generations.
func (r Role) IsUnlimited() bool {
	switch r {
	case RoleProPlus, RoleEnterpriseUser, RoleEnterpriseManager, RoleSuperuser:
		return true
	}
	return false
}

// IsAdmin covers the roles allowed onto the operations dashboard.
func (r Role) IsAdmin() bool {
	return r == RoleSuperuser || r == RoleEnterpriseManager
}

type PlanPrice struct {
	PriceID  string `json:"price_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Interval string `json:"interval"`
}

type Plan struct {
	Role     Role        `json:"role"`
	Name     string      `json:"name"`
	Limits   PlanLimits  `json:"limits"`
	Prices   []PlanPrice `json:"prices,omitempty"`
	Features []string    `json:"features"`
}

const (
	PriceProMonthly     = "price_pro_monthly"
	PriceProYearly      = "price_pro_yearly"
	PriceProPlusMonthly = "price_pro_plus_monthly"
	PriceProPlusYearly  = "price_pro_plus_yearly"
)

// Catalog is the public plan list. Amounts are in cents.
func Catalog() []Plan {
	return []Plan{
		{
			Role:     RoleFree,
			Name:     "Free",
			Limits:   LimitsFor(RoleFree),
			Features: []string{"3 emails per day", "30 emails per month", "1 device"},
		},
		{
			Role:   RolePro,
			Name:   "Pro",
			Limits: LimitsFor(RolePro),
			Prices: []PlanPrice{
				{PriceID: PriceProMonthly, Amount: 599, Currency: "usd", Interval: "month"},
				{PriceID: PriceProYearly, Amount: 4990, Currency: "usd", Interval: "year"},
			},
			Features: []string{"Unlimited daily emails", "100 emails per month", "Premium templates", "Priority support"},
		},
		{
			Role:   RoleProPlus,
			Name:   "Pro Plus",
			Limits: LimitsFor(RoleProPlus),
			Prices: []PlanPrice{
				{PriceID: PriceProPlusMonthly, Amount: 2000, Currency: "usd", Interval: "month"},
				{PriceID: PriceProPlusYearly, Amount: 20000, Currency: "usd", Interval: "year"},
			},
			Features: []string{"Unlimited everything", "2 device access", "Advanced templates", "Analytics dashboard"},
		},
		{
			Role:     RoleEnterpriseUser,
			Name:     "Enterprise",
			Limits:   LimitsFor(RoleEnterpriseUser),
			Features: []string{"Unlimited everything", "Team management", "Custom templates", "Dedicated support"},
		},
	}
}
