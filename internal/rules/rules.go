// internal/rules/rules.go
package rules

import "strings"

// Category buckets a PSP failure for retry-strategy selection.
type Category string

const (
	CategoryFunds         Category = "funds"
	CategoryIssuerDecline Category = "issuer_decline"
	CategoryNetwork       Category = "network"
	CategoryAuthTimeout   Category = "auth_timeout"
	CategoryUpiPending    Category = "upi_pending"
	CategoryUnknown       Category = "unknown"
)

// ScheduleStrategy names how retries for a category are timed.
type ScheduleStrategy string

const (
	StrategyStandard     ScheduleStrategy = "standard"
	StrategyNetworkRetry ScheduleStrategy = "network_retry"
	StrategyPayday       ScheduleStrategy = "payday"
	StrategyPoll         ScheduleStrategy = "poll"
)

// Hardness flags whether a decline is worth retrying on the same method.
type Hardness string

const (
	HardnessSoft Hardness = "soft"
	HardnessHard Hardness = "hard"
)

// failureCodes is the exact-match code table. Provider-prefixed codes
// coexist with generic ones.
var failureCodes = map[string]Category{
	"issuer_declined":           CategoryIssuerDecline,
	"do_not_honor":              CategoryIssuerDecline,
	"insufficient_funds":        CategoryFunds,
	"transaction_not_permitted": CategoryIssuerDecline,
	"otp_timeout":               CategoryAuthTimeout,
	"3ds_timeout":               CategoryAuthTimeout,
	"network_error":             CategoryNetwork,
	"upi_pending":               CategoryUpiPending,
	// Razorpay-specific codes
	"RZP001_INSUFFICIENT_FUNDS": CategoryFunds,
	"RZP_NETWORK_ISSUE":         CategoryNetwork,
	"RZP_UPI_INVALID_VPA":       CategoryIssuerDecline,
	"RZP_CARD_BLOCKED":          CategoryIssuerDecline,
}

// Classify maps a gateway failure code and message to a category. It is a
// total function: every input maps to exactly one category, defaulting to
// unknown. Exact code lookup wins over message matching.
func Classify(code, message string) Category {
	if code != "" {
		if cat, ok := failureCodes[code]; ok {
			return cat
		}
	}
	if message != "" {
		m := strings.ToLower(message)
		switch {
		case containsAny(m, "otp", "3ds", "authentication"):
			return CategoryAuthTimeout
		case containsAny(m, "network", "timeout", "gateway"):
			return CategoryNetwork
		case strings.Contains(m, "insufficient"):
			return CategoryFunds
		case strings.Contains(m, "upi") && strings.Contains(m, "pending"):
			return CategoryUpiPending
		}
	}
	return CategoryUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// RetryOptions is the scheduling strategy resolved for a failure category.
type RetryOptions struct {
	Recommendation   string           `json:"recommendation"`
	AlternateMethods []string         `json:"alt"`
	CooldownSeconds  int              `json:"cooldown_seconds,omitempty"`
	ScheduleStrategy ScheduleStrategy `json:"schedule_strategy"`
	DelaysMinutes    []int            `json:"delays_minutes"`
}

// OptionsFor is a pure lookup from category to retry options.
func OptionsFor(category Category) RetryOptions {
	switch category {
	case CategoryNetwork, CategoryAuthTimeout:
		return RetryOptions{
			Recommendation:   "Retry same method with fresh auth",
			AlternateMethods: []string{"upi_collect", "netbanking"},
			CooldownSeconds:  30,
			ScheduleStrategy: StrategyNetworkRetry,
			DelaysMinutes:    []int{0, 5},
		}
	case CategoryFunds:
		return RetryOptions{
			Recommendation:   "Suggest alternate method",
			AlternateMethods: []string{"netbanking", "card_other_bank", "upi_collect"},
			ScheduleStrategy: StrategyPayday, // wait for the 5th/15th
			DelaysMinutes:    []int{},
		}
	case CategoryIssuerDecline:
		return RetryOptions{
			Recommendation:   "Try alternate card or netbanking",
			AlternateMethods: []string{"card_other_bank", "netbanking", "upi_collect"},
			ScheduleStrategy: StrategyStandard,
			DelaysMinutes:    []int{0},
		}
	case CategoryUpiPending:
		return RetryOptions{
			Recommendation:   "Poll or provide cancel+alternate",
			AlternateMethods: []string{"netbanking", "card"},
			ScheduleStrategy: StrategyPoll,
			DelaysMinutes:    []int{0, 2, 5},
		}
	}
	return RetryOptions{
		Recommendation:   "Offer alternate method",
		AlternateMethods: []string{"upi_collect", "netbanking", "card"},
		ScheduleStrategy: StrategyStandard,
		DelaysMinutes:    []int{0},
	}
}

// HardnessFor reports whether a category is worth retrying on the same
// method. Issuer declines are hard; everything else is soft.
func HardnessFor(category Category) Hardness {
	if category == CategoryIssuerDecline {
		return HardnessHard
	}
	return HardnessSoft
}

// Classification is the full result consumed by the webhook processor and
// exposed to analytics.
type Classification struct {
	Category Category     `json:"category"`
	Options  RetryOptions `json:"options"`
	Hardness Hardness     `json:"hardness"`
}

// ClassifyEvent classifies a failure and resolves its retry options in one
// step. Never fails; unknown inputs map to sensible defaults.
func ClassifyEvent(code, message string) Classification {
	category := Classify(code, message)
	return Classification{
		Category: category,
		Options:  OptionsFor(category),
		Hardness: HardnessFor(category),
	}
}
