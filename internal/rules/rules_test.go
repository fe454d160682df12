package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Classification Tests
// ==========================

func TestClassify_CodeTable(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected Category
	}{
		{name: "issuer declined", code: "issuer_declined", expected: CategoryIssuerDecline},
		{name: "do not honor", code: "do_not_honor", expected: CategoryIssuerDecline},
		{name: "transaction not permitted", code: "transaction_not_permitted", expected: CategoryIssuerDecline},
		{name: "insufficient funds", code: "insufficient_funds", expected: CategoryFunds},
		{name: "otp timeout", code: "otp_timeout", expected: CategoryAuthTimeout},
		{name: "3ds timeout", code: "3ds_timeout", expected: CategoryAuthTimeout},
		{name: "network error", code: "network_error", expected: CategoryNetwork},
		{name: "upi pending", code: "upi_pending", expected: CategoryUpiPending},
		{name: "razorpay insufficient funds", code: "RZP001_INSUFFICIENT_FUNDS", expected: CategoryFunds},
		{name: "razorpay network issue", code: "RZP_NETWORK_ISSUE", expected: CategoryNetwork},
		{name: "razorpay invalid vpa", code: "RZP_UPI_INVALID_VPA", expected: CategoryIssuerDecline},
		{name: "razorpay card blocked", code: "RZP_CARD_BLOCKED", expected: CategoryIssuerDecline},
		{name: "unknown code", code: "something_else", expected: CategoryUnknown},
		{name: "empty code and message", expected: CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.code, tt.message))
		})
	}
}

func TestClassify_MessageFallback(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected Category
	}{
		{name: "otp mention", message: "OTP entry timed out", expected: CategoryAuthTimeout},
		{name: "3ds mention", message: "3DS challenge failed", expected: CategoryAuthTimeout},
		{name: "authentication mention", message: "Authentication was not completed", expected: CategoryAuthTimeout},
		{name: "network mention", message: "Network error while contacting bank", expected: CategoryNetwork},
		{name: "timeout mention", message: "Request timeout at acquirer", expected: CategoryNetwork},
		{name: "gateway mention", message: "Gateway returned 502", expected: CategoryNetwork},
		{name: "insufficient mention", message: "Insufficient balance in account", expected: CategoryFunds},
		{name: "upi pending mention", message: "UPI request pending on customer device", expected: CategoryUpiPending},
		{name: "upi alone is not enough", message: "upi handle invalid", expected: CategoryUnknown},
		{name: "no match", message: "card expired", expected: CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify("", tt.message))
		})
	}
}

func TestClassify_CodeWinsOverMessage(t *testing.T) {
	// The code table is authoritative even when the message suggests another bucket.
	got := Classify("insufficient_funds", "network timeout at gateway")
	assert.Equal(t, CategoryFunds, got)
}

func TestClassify_UnknownCodeFallsBackToMessage(t *testing.T) {
	got := Classify("weird_new_code", "insufficient balance")
	assert.Equal(t, CategoryFunds, got)
}

// ==========================
// Retry Options Tests
// ==========================

func TestOptionsFor(t *testing.T) {
	tests := []struct {
		name             string
		category         Category
		expectedStrategy ScheduleStrategy
		expectedDelays   []int
		expectedCooldown int
	}{
		{
			name:             "network uses short retry ladder",
			category:         CategoryNetwork,
			expectedStrategy: StrategyNetworkRetry,
			expectedDelays:   []int{0, 5},
			expectedCooldown: 30,
		},
		{
			name:             "auth timeout shares the network ladder",
			category:         CategoryAuthTimeout,
			expectedStrategy: StrategyNetworkRetry,
			expectedDelays:   []int{0, 5},
			expectedCooldown: 30,
		},
		{
			name:             "funds waits for payday",
			category:         CategoryFunds,
			expectedStrategy: StrategyPayday,
			expectedDelays:   []int{},
		},
		{
			name:             "issuer decline is immediate once",
			category:         CategoryIssuerDecline,
			expectedStrategy: StrategyStandard,
			expectedDelays:   []int{0},
		},
		{
			name:             "upi pending polls",
			category:         CategoryUpiPending,
			expectedStrategy: StrategyPoll,
			expectedDelays:   []int{0, 2, 5},
		},
		{
			name:             "unknown is standard",
			category:         CategoryUnknown,
			expectedStrategy: StrategyStandard,
			expectedDelays:   []int{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := OptionsFor(tt.category)
			assert.Equal(t, tt.expectedStrategy, opts.ScheduleStrategy)
			assert.Equal(t, tt.expectedDelays, opts.DelaysMinutes)
			assert.Equal(t, tt.expectedCooldown, opts.CooldownSeconds)
			assert.NotEmpty(t, opts.Recommendation)
			assert.NotEmpty(t, opts.AlternateMethods)
		})
	}
}

func TestHardnessFor(t *testing.T) {
	assert.Equal(t, HardnessHard, HardnessFor(CategoryIssuerDecline))

	for _, cat := range []Category{CategoryFunds, CategoryNetwork, CategoryAuthTimeout, CategoryUpiPending, CategoryUnknown} {
		assert.Equal(t, HardnessSoft, HardnessFor(cat), "category %s should be soft", cat)
	}
}

func TestClassifyEvent(t *testing.T) {
	result := ClassifyEvent("RZP_NETWORK_ISSUE", "")

	require.Equal(t, CategoryNetwork, result.Category)
	assert.Equal(t, StrategyNetworkRetry, result.Options.ScheduleStrategy)
	assert.Equal(t, HardnessSoft, result.Hardness)
}

func TestClassifyEvent_TotalOnGarbage(t *testing.T) {
	result := ClassifyEvent("!!garbage!!", "???")

	assert.Equal(t, CategoryUnknown, result.Category)
	assert.Equal(t, StrategyStandard, result.Options.ScheduleStrategy)
	assert.NotEmpty(t, result.Options.AlternateMethods)
}
