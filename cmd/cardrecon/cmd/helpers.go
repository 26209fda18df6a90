package cmd

import (
	"time"

	"card-reconciliation-engine/internal/matcher"
	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/internal/storage"
	"card-reconciliation-engine/pkg/errors"

	"github.com/spf13/viper"
)

// openStore opens the SQLite store at the configured database path
func openStore() (*storage.SQLiteStore, error) {
	return storage.NewSQLiteStore(viper.GetString("db"))
}

// parsePeriod resolves the --from/--to flags. An empty period defaults to
// the last 30 days; an open end defaults to now.
func parsePeriod(fromStr, toStr string) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	if toStr != "" {
		parsed, err := models.ParseTimeWithFormats(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.ValidationError(errors.CodeInvalidDate, "to", toStr)
		}
		// A date-only bound means the whole day.
		to = parsed.Add(24*time.Hour - time.Second)
	}

	from := to.AddDate(0, 0, -30)
	if fromStr != "" {
		parsed, err := models.ParseTimeWithFormats(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.ValidationError(errors.CodeInvalidDate, "from", fromStr)
		}
		from = parsed
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, errors.ValidationError(errors.CodeInvalidDate, "from", fromStr).
			WithSuggestion("the period start must be before its end")
	}
	return from, to, nil
}

// matchingConfig builds the matcher configuration from the profile flags
func matchingConfig(strict, relaxed bool, autoLinkOverride float64) (*matcher.Config, error) {
	var config *matcher.Config
	switch {
	case strict:
		config = matcher.StrictConfig()
	case relaxed:
		config = matcher.RelaxedConfig()
	default:
		config = matcher.DefaultConfig()
	}

	if autoLinkOverride > 0 {
		config.AutoLinkThreshold = autoLinkOverride
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError("matching", config.String(), err)
	}
	return config, nil
}
