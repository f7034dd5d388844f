package rules

import (
	"strings"

	"github.com/fraudguard/fraudguard/internal/events"
)

// suspiciousKeywords are matched as lowercase substrings of the merchant id.
var suspiciousKeywords = []string{
	"casino",
	"gambling",
	"bet",
	"crypto",
	"giftcard",
	"money-transfer",
	"wire",
}

// SuspiciousMerchantRule flags merchants whose id contains a known
// high-risk category keyword.
type SuspiciousMerchantRule struct{}

func (SuspiciousMerchantRule) Name() string    { return "suspicious_merchant" }
func (SuspiciousMerchantRule) Weight() float64 { return 0.20 }

func (SuspiciousMerchantRule) Evaluate(tx *events.TransactionEvent, _ FeatureContext) float64 {
	merchant := strings.ToLower(strings.TrimSpace(tx.MerchantID))
	if merchant == "" {
		return 0.0
	}

	for _, keyword := range suspiciousKeywords {
		if strings.Contains(merchant, keyword) {
			return 1.0
		}
	}
	return 0.0
}
