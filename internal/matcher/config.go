// Package matcher computes candidate matches between card transactions and
// submitted expense claims.
//
// The matching algorithm is a weighted sub-score model out of 100 points,
// normalized to [0, 1]:
//   - date proximity (max 30)
//   - amount closeness (max 40)
//   - merchant name similarity (max 20)
//   - currency match (max 5)
//   - category match (max 5)
//
// Each triggered sub-score contributes one human-readable reason, in
// evaluation order, for audit and explainability. Mismatched currencies
// reduce the score but never zero it.
package matcher

import "fmt"

// Config holds the tunable parameters of the matching pipeline.
//
// Use the provided factories for common scenarios:
//   - DefaultConfig(): balanced, matches the shipped behavior
//   - StrictConfig(): tighter auto-link threshold for critical tenants
//   - RelaxedConfig(): wider candidate net for exploratory matching
type Config struct {
	// MinCandidateScore is the minimum match score for a pair to be kept
	// as a candidate at all.
	MinCandidateScore float64 `json:"min_candidate_score"`

	// AutoLinkThreshold is the minimum score at which a match may be
	// linked without human review.
	AutoLinkThreshold float64 `json:"auto_link_threshold"`

	// HighConfidenceScore and MediumConfidenceScore define the confidence
	// bucket boundaries. Scores below medium are low confidence.
	HighConfidenceScore   float64 `json:"high_confidence_score"`
	MediumConfidenceScore float64 `json:"medium_confidence_score"`

	// MaxWorkers bounds the concurrent scoring goroutines in the
	// aggregator. Zero means one worker per CPU.
	MaxWorkers int `json:"max_workers"`

	// CategoryMappings maps a lower-cased expense category to the set of
	// upper-cased transaction merchant categories it is compatible with.
	CategoryMappings map[string][]string `json:"category_mappings"`
}

// DefaultConfig returns the shipped matching configuration
func DefaultConfig() *Config {
	return &Config{
		MinCandidateScore:     0.6,
		AutoLinkThreshold:     0.95,
		HighConfidenceScore:   0.9,
		MediumConfidenceScore: 0.7,
		MaxWorkers:            0,
		CategoryMappings:      defaultCategoryMappings(),
	}
}

// StrictConfig returns a configuration that only auto-links perfect matches
func StrictConfig() *Config {
	cfg := DefaultConfig()
	cfg.MinCandidateScore = 0.7
	cfg.AutoLinkThreshold = 1.0
	return cfg
}

// RelaxedConfig returns a configuration that keeps weaker candidates for
// manual review.
func RelaxedConfig() *Config {
	cfg := DefaultConfig()
	cfg.MinCandidateScore = 0.5
	cfg.AutoLinkThreshold = 0.9
	return cfg
}

func defaultCategoryMappings() map[string][]string {
	return map[string][]string{
		"meals":         {"RESTAURANT", "FOOD"},
		"travel":        {"AIRLINE", "HOTEL", "TAXI"},
		"lodging":       {"HOTEL"},
		"transport":     {"TAXI", "PARKING", "FUEL", "CAR_RENTAL"},
		"office":        {"OFFICE_SUPPLIES", "SOFTWARE"},
		"entertainment": {"ENTERTAINMENT"},
	}
}

// Validate checks if the matching configuration is valid
func (c *Config) Validate() error {
	if c.MinCandidateScore < 0.0 || c.MinCandidateScore > 1.0 {
		return fmt.Errorf("min candidate score must be between 0.0 and 1.0: %f", c.MinCandidateScore)
	}
	if c.AutoLinkThreshold < 0.0 || c.AutoLinkThreshold > 1.0 {
		return fmt.Errorf("auto-link threshold must be between 0.0 and 1.0: %f", c.AutoLinkThreshold)
	}
	if c.AutoLinkThreshold < c.MinCandidateScore {
		return fmt.Errorf("auto-link threshold %f cannot be below min candidate score %f",
			c.AutoLinkThreshold, c.MinCandidateScore)
	}
	if c.HighConfidenceScore < c.MediumConfidenceScore {
		return fmt.Errorf("high confidence boundary %f cannot be below medium boundary %f",
			c.HighConfidenceScore, c.MediumConfidenceScore)
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max workers cannot be negative: %d", c.MaxWorkers)
	}
	if len(c.CategoryMappings) == 0 {
		return fmt.Errorf("category mappings cannot be empty")
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	mappings := make(map[string][]string, len(c.CategoryMappings))
	for k, v := range c.CategoryMappings {
		mappings[k] = append([]string(nil), v...)
	}

	clone := *c
	clone.CategoryMappings = mappings
	return &clone
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{MinCandidate: %.2f, AutoLink: %.2f, Confidence: %.2f/%.2f, Workers: %d}",
		c.MinCandidateScore, c.AutoLinkThreshold, c.HighConfidenceScore, c.MediumConfidenceScore, c.MaxWorkers)
}
