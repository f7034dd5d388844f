package rules

import (
	"strings"

	"github.com/fraudguard/fraudguard/internal/events"
)

// highRiskLocations is matched as lowercase substrings of the location.
var highRiskLocations = []string{
	"lagos",
	"moscow",
	"bucharest",
	"phnom penh",
	"jakarta",
}

// ForeignLocationRule flags transactions from known high-risk locations
// (1.0) and, more weakly, any "city, country" style location that is not in
// the US (0.65).
type ForeignLocationRule struct{}

func (ForeignLocationRule) Name() string    { return "foreign_location" }
func (ForeignLocationRule) Weight() float64 { return 0.20 }

func (ForeignLocationRule) Evaluate(tx *events.TransactionEvent, _ FeatureContext) float64 {
	location := strings.ToLower(strings.TrimSpace(tx.Location))
	if location == "" {
		return 0.0
	}

	for _, risky := range highRiskLocations {
		if strings.Contains(location, risky) {
			return 1.0
		}
	}

	if strings.Contains(location, ",") &&
		!strings.HasSuffix(location, "us") &&
		!strings.HasSuffix(location, "usa") &&
		!strings.HasSuffix(location, "united states") {
		return 0.65
	}

	return 0.0
}
