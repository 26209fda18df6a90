package feed

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"time"

	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/pkg/errors"
	"card-reconciliation-engine/pkg/logger"
)

// Canonical field names resolved through the alias table.
const (
	fieldProviderTxID     = "provider_tx_id"
	fieldAmount           = "amount"
	fieldCurrency         = "currency"
	fieldMerchantName     = "merchant_name"
	fieldMerchantCategory = "merchant_category"
	fieldDescription      = "description"
	fieldStatus           = "status"
	fieldKind             = "kind"
	fieldTransactionTime  = "transaction_time"
	fieldPostedTime       = "posted_time"
	fieldCountry          = "country"
	fieldCity             = "city"
	fieldVelocityFlag     = "velocity_flag"
	fieldOffline          = "offline"
)

// CSVFeedConfig configures a CSV feed export. FieldAliases maps each
// canonical field to the header names provider exports use for it.
type CSVFeedConfig struct {
	HasHeader    bool
	Delimiter    rune
	FieldAliases map[string][]string
}

// DefaultCSVFeedConfig returns a configuration covering the header
// variations seen across provider exports.
func DefaultCSVFeedConfig() *CSVFeedConfig {
	return &CSVFeedConfig{
		HasHeader: true,
		Delimiter: ',',
		FieldAliases: map[string][]string{
			fieldProviderTxID:     {"provider_tx_id", "transaction_id", "tx_id", "id"},
			fieldAmount:           {"amount", "value"},
			fieldCurrency:         {"currency", "ccy"},
			fieldMerchantName:     {"merchant_name", "merchant", "payee"},
			fieldMerchantCategory: {"merchant_category", "mcc", "category"},
			fieldDescription:      {"description", "memo", "narrative"},
			fieldStatus:           {"status", "state"},
			fieldKind:             {"kind", "type", "transaction_type"},
			fieldTransactionTime:  {"transaction_time", "timestamp", "transaction_date", "date"},
			fieldPostedTime:       {"posted_time", "posted_at", "posting_date"},
			fieldCountry:          {"country", "location_country"},
			fieldCity:             {"city", "location_city"},
			fieldVelocityFlag:     {"velocity_flag"},
			fieldOffline:          {"offline", "offline_transaction"},
		},
	}
}

// Validate validates the CSV feed configuration
func (c *CSVFeedConfig) Validate() error {
	if c.Delimiter == 0 {
		return errors.ConfigError("csv_feed.delimiter", c.Delimiter, nil)
	}
	for _, field := range []string{fieldProviderTxID, fieldAmount, fieldTransactionTime} {
		if len(c.FieldAliases[field]) == 0 {
			return errors.ConfigError("csv_feed.field_aliases."+field, nil, nil)
		}
	}
	return nil
}

// CSVFeed reads provider transactions from a CSV export file
type CSVFeed struct {
	path   string
	config *CSVFeedConfig
	logger logger.Logger
}

// NewCSVFeed creates a feed source over a CSV export
func NewCSVFeed(path string, config *CSVFeedConfig) (*CSVFeed, error) {
	if config == nil {
		config = DefaultCSVFeedConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &CSVFeed{
		path:   path,
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("csv_feed"),
	}, nil
}

// FetchTransactions reads the export and returns the decoded transactions
// that fall inside [from, to]. Records that fail to decode are reported in
// the result and skipped.
func (f *CSVFeed) FetchTransactions(ctx context.Context, card *models.CorporateCard, from, to time.Time) (*FetchResult, error) {
	f.logger.WithFields(logger.Fields{
		"file_path": f.path,
		"card_id":   card.ID,
	}).Info("Fetching transactions from CSV export")

	file, err := os.Open(f.path)
	if err != nil {
		return nil, errors.FeedError(errors.CodeFeedUnavailable, f.path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = f.config.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	line := 0
	columns, err := f.resolveColumns(reader, &line)
	if err != nil {
		return nil, err
	}

	result := &FetchResult{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.FeedError(errors.CodeFeedTimeout, f.path, err)
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Skipped = append(result.Skipped, &RecordError{
				Line: line,
				Err:  errors.FeedError(errors.CodeInvalidRecord, f.path, err),
			})
			continue
		}
		if isEmptyRecord(record) {
			continue
		}

		tx, recErr := f.decodeRecord(record, columns, card, line)
		if recErr != nil {
			f.logger.WithError(recErr).WithField("line", line).Warn("Skipping malformed feed record")
			result.Skipped = append(result.Skipped, recErr)
			continue
		}

		if tx.TransactionTime.Before(from) || tx.TransactionTime.After(to) {
			continue
		}
		result.Transactions = append(result.Transactions, tx)
	}

	f.logger.WithFields(logger.Fields{
		"fetched": len(result.Transactions),
		"skipped": len(result.Skipped),
	}).Info("Completed CSV feed fetch")
	return result, nil
}

// resolveColumns maps canonical fields to column indices using the alias
// table. Without a header row the aliases' canonical order is assumed.
func (f *CSVFeed) resolveColumns(reader *csv.Reader, line *int) (map[string]int, error) {
	columns := make(map[string]int)

	if !f.config.HasHeader {
		for i, field := range []string{
			fieldProviderTxID, fieldAmount, fieldCurrency, fieldMerchantName,
			fieldMerchantCategory, fieldStatus, fieldKind, fieldTransactionTime,
		} {
			columns[field] = i
		}
		return columns, nil
	}

	headers, err := reader.Read()
	if err != nil {
		return nil, errors.FeedError(errors.CodeInvalidRecord, f.path, err).
			WithSuggestion("ensure the export contains a header row")
	}
	*line = *line + 1

	index := make(map[string]int, len(headers))
	for i, header := range headers {
		index[strings.ToLower(strings.TrimSpace(header))] = i
	}
	for field, aliases := range f.config.FieldAliases {
		for _, alias := range aliases {
			if i, ok := index[alias]; ok {
				columns[field] = i
				break
			}
		}
	}

	for _, required := range []string{fieldProviderTxID, fieldAmount, fieldTransactionTime} {
		if _, ok := columns[required]; !ok {
			return nil, errors.FeedError(errors.CodeInvalidRecord, f.path, nil).
				WithContext("missing_column", required).
				WithSuggestion("check the export headers against the configured field aliases")
		}
	}
	return columns, nil
}

func (f *CSVFeed) decodeRecord(record []string, columns map[string]int, card *models.CorporateCard, line int) (*models.CardTransaction, *RecordError) {
	get := func(field string) string {
		i, ok := columns[field]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	providerTxID := get(fieldProviderTxID)
	if providerTxID == "" {
		return nil, &RecordError{Line: line, Field: fieldProviderTxID,
			Err: errors.ValidationError(errors.CodeMissingField, fieldProviderTxID, nil)}
	}

	amount, err := models.ParseDecimalFromString(get(fieldAmount))
	if err != nil {
		return nil, &RecordError{Line: line, Field: fieldAmount, Value: get(fieldAmount),
			Err: errors.ValidationError(errors.CodeInvalidAmount, fieldAmount, get(fieldAmount))}
	}

	transactionTime, err := models.ParseTimeWithFormats(get(fieldTransactionTime))
	if err != nil {
		return nil, &RecordError{Line: line, Field: fieldTransactionTime, Value: get(fieldTransactionTime),
			Err: errors.ValidationError(errors.CodeInvalidDate, fieldTransactionTime, get(fieldTransactionTime))}
	}

	status := models.StatusPosted
	if raw := get(fieldStatus); raw != "" {
		if status, err = models.ParseTransactionStatus(raw); err != nil {
			return nil, &RecordError{Line: line, Field: fieldStatus, Value: raw, Err: err}
		}
	}

	kind := models.KindPurchase
	if raw := get(fieldKind); raw != "" {
		if kind, err = models.ParseTransactionKind(raw); err != nil {
			return nil, &RecordError{Line: line, Field: fieldKind, Value: raw, Err: err}
		}
	}

	currency := get(fieldCurrency)
	if currency == "" {
		currency = card.Currency
	}

	tx := &models.CardTransaction{
		ProviderTxID:     providerTxID,
		CardID:           card.ID,
		TenantID:         card.TenantID,
		Amount:           amount,
		Currency:         strings.ToUpper(currency),
		MerchantName:     get(fieldMerchantName),
		MerchantCategory: strings.ToUpper(get(fieldMerchantCategory)),
		Description:      get(fieldDescription),
		Status:           status,
		Kind:             kind,
		TransactionTime:  transactionTime,
	}

	if raw := get(fieldPostedTime); raw != "" {
		if postedTime, err := models.ParseTimeWithFormats(raw); err == nil {
			tx.PostedTime = postedTime
		}
	}
	if country := get(fieldCountry); country != "" {
		tx.Location = &models.Geolocation{
			Country: strings.ToUpper(country),
			City:    get(fieldCity),
		}
	}
	for _, flag := range []struct{ column, key string }{
		{fieldVelocityFlag, models.MetadataVelocityFlag},
		{fieldOffline, models.MetadataOfflineFlag},
	} {
		if isTruthy(get(flag.column)) {
			if tx.Metadata == nil {
				tx.Metadata = make(map[string]string)
			}
			tx.Metadata[flag.key] = "true"
		}
	}

	return tx, nil
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}
