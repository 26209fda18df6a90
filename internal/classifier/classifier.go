// Package classifier assigns a business-vs-personal probability to a card
// transaction based on merchant-name keyword heuristics.
//
// The keyword tables are deliberately simple: the first matching set wins
// and multiple keyword hits carry no extra weight. This is a documented
// limitation of the heuristic, not a defect.
package classifier

import "strings"

// Fixed probabilities returned by the keyword heuristic.
const (
	BusinessProbability = 0.8
	PersonalProbability = 0.3
	NeutralProbability  = 0.5
)

// BusinessKeywords mark a merchant name as business-indicative.
var BusinessKeywords = []string{
	"hotel",
	"restaurant",
	"airline",
	"airfare",
	"taxi",
	"office",
	"conference",
	"software",
	"parking",
	"car rental",
}

// PersonalKeywords mark a merchant name as personal-indicative.
var PersonalKeywords = []string{
	"grocery",
	"supermarket",
	"pharmacy",
	"gas station",
	"entertainment",
	"cinema",
	"streaming",
}

// ClassifyMerchant returns the probability that a transaction at the given
// merchant is a business expense. Matching is case-insensitive substring
// containment; business keywords are checked before personal ones.
func ClassifyMerchant(merchantName string) float64 {
	name := strings.ToLower(strings.TrimSpace(merchantName))
	if name == "" {
		return NeutralProbability
	}

	if containsAny(name, BusinessKeywords) {
		return BusinessProbability
	}
	if containsAny(name, PersonalKeywords) {
		return PersonalProbability
	}
	return NeutralProbability
}

func containsAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}
