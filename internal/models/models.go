// Package models defines the core domain entities for corporate-card
// transaction-to-expense reconciliation: cards, card transactions, expense
// items, candidate matches, fraud alerts and period reconciliation reports.
//
// All monetary values use decimal.Decimal to avoid floating point drift in
// amount comparisons.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus represents the lifecycle state of a card transaction.
// Valid transitions: pending -> posted -> {disputed, reversed}.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusPosted   TransactionStatus = "posted"
	StatusDisputed TransactionStatus = "disputed"
	StatusReversed TransactionStatus = "reversed"
)

// String returns the string representation of TransactionStatus
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid checks if the transaction status is valid
func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusPosted, StatusDisputed, StatusReversed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle transition s -> next is allowed
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusPosted
	case StatusPosted:
		return next == StatusDisputed || next == StatusReversed
	}
	return false
}

// TransactionKind represents the kind of card transaction
type TransactionKind string

const (
	KindPurchase TransactionKind = "purchase"
	KindRefund   TransactionKind = "refund"
	KindFee      TransactionKind = "fee"
	KindInterest TransactionKind = "interest"
)

// IsValid checks if the transaction kind is valid
func (k TransactionKind) IsValid() bool {
	switch k {
	case KindPurchase, KindRefund, KindFee, KindInterest:
		return true
	}
	return false
}

// MatchConfidence is a coarse classification of a match score for
// human-facing triage.
type MatchConfidence string

const (
	ConfidenceHigh   MatchConfidence = "high"
	ConfidenceMedium MatchConfidence = "medium"
	ConfidenceLow    MatchConfidence = "low"
)

// AlertType identifies which fraud check produced an alert
type AlertType string

const (
	AlertUnusualAmount      AlertType = "unusual_amount"
	AlertUnusualLocation    AlertType = "unusual_location"
	AlertVelocity           AlertType = "velocity"
	AlertMerchantCategory   AlertType = "merchant_category"
	AlertDuplicate          AlertType = "duplicate"
	AlertOfflineTransaction AlertType = "offline_transaction"
)

// RecommendedAction is the downstream workflow suggested for a fraud alert
type RecommendedAction string

const (
	ActionBlock      RecommendedAction = "block"
	ActionReview     RecommendedAction = "review"
	ActionApprove    RecommendedAction = "approve"
	ActionNotifyUser RecommendedAction = "notify_user"
)

// IssueKind classifies a reconciliation issue
type IssueKind string

const (
	IssueUnmatchedTransaction IssueKind = "unmatched_transaction"
	IssueDuplicateExpense     IssueKind = "duplicate_expense"
	IssueAmountMismatch       IssueKind = "amount_mismatch"
	IssueDateMismatch         IssueKind = "date_mismatch"
	IssueMissingReceipt       IssueKind = "missing_receipt"
)

// IssueSeverity ranks how much a reconciliation issue matters
type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// IsActionable reports whether the severity counts against the period
// reconciliation score.
func (s IssueSeverity) IsActionable() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// CorporateCard represents a company-issued card owned by a tenant.
// Immutable except for AvailableCredit and LastSyncedAt.
type CorporateCard struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	MaskedNumber    string          `json:"masked_number"`
	LastFour        string          `json:"last_four"`
	HolderName      string          `json:"holder_name"`
	Network         string          `json:"network"`
	IssuingBank     string          `json:"issuing_bank"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
	Currency        string          `json:"currency"`
	Country         string          `json:"country"`
	Active          bool            `json:"active"`
	Business        bool            `json:"business"`
	LastSyncedAt    time.Time       `json:"last_synced_at"`
}

// Validate performs basic validation on the CorporateCard
func (c *CorporateCard) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("card ID cannot be empty")
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("card tenant ID cannot be empty")
	}
	if len(c.LastFour) != 4 {
		return fmt.Errorf("card last four must be exactly 4 digits: %q", c.LastFour)
	}
	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("card currency cannot be empty")
	}
	return nil
}

// String returns a string representation of the CorporateCard
func (c *CorporateCard) String() string {
	return fmt.Sprintf("CorporateCard{ID: %s, Last4: %s, Holder: %s, Active: %t}",
		c.ID, c.LastFour, c.HolderName, c.Active)
}

// Geolocation is the optional location attached to a card transaction
type Geolocation struct {
	Country string  `json:"country"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
}

// Transaction metadata keys set by the provider feed.
const (
	MetadataVelocityFlag = "velocity_flag"
	MetadataOfflineFlag  = "offline"
)

// CardTransaction represents one transaction from the card-provider feed.
// ProviderTxID is the idempotency key for import: re-importing the same
// provider id updates the existing record instead of creating a duplicate.
//
// ClassificationScore and FraudScore are derived annotations set once per
// import pass and recomputed on re-import.
type CardTransaction struct {
	ID               string            `json:"id"`
	ProviderTxID     string            `json:"provider_tx_id"`
	CardID           string            `json:"card_id"`
	TenantID         string            `json:"tenant_id"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	MerchantName     string            `json:"merchant_name"`
	MerchantCategory string            `json:"merchant_category"`
	Description      string            `json:"description,omitempty"`
	Status           TransactionStatus `json:"status"`
	Kind             TransactionKind   `json:"kind"`
	TransactionTime  time.Time         `json:"transaction_time"`
	PostedTime       time.Time         `json:"posted_time,omitempty"`
	Location         *Geolocation      `json:"location,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`

	Linked          bool   `json:"linked"`
	LinkedExpenseID string `json:"linked_expense_id,omitempty"`

	ClassificationScore float64 `json:"classification_score"`
	FraudScore          int     `json:"fraud_score"`
}

// Validate performs basic validation on the CardTransaction
func (t *CardTransaction) Validate() error {
	if strings.TrimSpace(t.ProviderTxID) == "" {
		return fmt.Errorf("provider transaction ID cannot be empty")
	}
	if strings.TrimSpace(t.CardID) == "" {
		return fmt.Errorf("transaction card ID cannot be empty")
	}
	if t.Amount.IsZero() {
		return fmt.Errorf("transaction amount cannot be zero")
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid transaction status: %s", t.Status)
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("invalid transaction kind: %s", t.Kind)
	}
	if t.TransactionTime.IsZero() {
		return fmt.Errorf("transaction time cannot be zero")
	}
	return nil
}

// String returns a string representation of the CardTransaction
func (t *CardTransaction) String() string {
	return fmt.Sprintf("CardTransaction{Provider: %s, Amount: %s %s, Merchant: %s, Status: %s}",
		t.ProviderTxID, t.Amount.String(), t.Currency, t.MerchantName, t.Status)
}

// TransactionCountry returns the transaction country, or empty when the feed
// supplied no geolocation.
func (t *CardTransaction) TransactionCountry() string {
	if t.Location == nil {
		return ""
	}
	return t.Location.Country
}

// HasMetadataFlag reports whether the provider feed set the given flag
func (t *CardTransaction) HasMetadataFlag(key string) bool {
	if t.Metadata == nil {
		return false
	}
	v, ok := t.Metadata[key]
	return ok && v != "" && v != "false" && v != "0"
}

// IsDisputed returns true if the transaction is in disputed status
func (t *CardTransaction) IsDisputed() bool {
	return t.Status == StatusDisputed
}

// ExpenseItem is a submitted expense claim. Read-only to this engine:
// linking is recorded against the transaction, never by mutating the claim.
type ExpenseItem struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Vendor      string          `json:"vendor"`
	Category    string          `json:"category"`
	SubmittedBy string          `json:"submitted_by"`
	HasReceipt  bool            `json:"has_receipt"`
}

// Validate performs basic validation on the ExpenseItem
func (e *ExpenseItem) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("expense item ID cannot be empty")
	}
	if e.Amount.IsZero() {
		return fmt.Errorf("expense amount cannot be zero")
	}
	if e.Date.IsZero() {
		return fmt.Errorf("expense date cannot be zero")
	}
	return nil
}

// ExpenseMatch is a candidate pairing between a transaction and an expense
// claim. Produced fresh on every matching run; only the decision taken on it
// (auto-link or review suggestion) is persisted.
type ExpenseMatch struct {
	Transaction    *CardTransaction `json:"transaction"`
	Expense        *ExpenseItem     `json:"expense"`
	MatchScore     float64          `json:"match_score"`
	MatchReasons   []string         `json:"match_reasons"`
	Confidence     MatchConfidence  `json:"confidence"`
	RequiresReview bool             `json:"requires_review"`
}

// String returns a short representation of the match for logging
func (m *ExpenseMatch) String() string {
	return fmt.Sprintf("ExpenseMatch{Tx: %s, Expense: %s, Score: %.2f, Confidence: %s}",
		m.Transaction.ProviderTxID, m.Expense.ID, m.MatchScore, m.Confidence)
}

// FraudAlert is one triggered fraud check for a transaction. A single
// transaction may carry several alerts, one per triggered check.
type FraudAlert struct {
	ID                string            `json:"id"`
	TransactionID     string            `json:"transaction_id"`
	CardID            string            `json:"card_id"`
	AlertType         AlertType         `json:"alert_type"`
	RiskScore         int               `json:"risk_score"`
	Description       string            `json:"description"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	CreatedAt         time.Time         `json:"created_at"`
	Resolution        string            `json:"resolution,omitempty"`
}

// ReconciliationIssue is one detected problem in a reconciliation period
type ReconciliationIssue struct {
	Kind            IssueKind     `json:"kind"`
	TransactionID   string        `json:"transaction_id,omitempty"`
	ExpenseID       string        `json:"expense_id,omitempty"`
	Description     string        `json:"description"`
	SuggestedAction string        `json:"suggested_action"`
	Severity        IssueSeverity `json:"severity"`
}

// CardReconciliation is the period-scoped aggregate for one card. It is
// always derived fresh from the transaction set for the requested period,
// never incrementally updated.
type CardReconciliation struct {
	CardID                string                `json:"card_id"`
	TenantID              string                `json:"tenant_id"`
	PeriodStart           time.Time             `json:"period_start"`
	PeriodEnd             time.Time             `json:"period_end"`
	TotalTransactions     int                   `json:"total_transactions"`
	MatchedTransactions   int                   `json:"matched_transactions"`
	UnmatchedTransactions int                   `json:"unmatched_transactions"`
	BusinessExpenseTotal  decimal.Decimal       `json:"business_expense_total"`
	PersonalExpenseTotal  decimal.Decimal       `json:"personal_expense_total"`
	DisputedAmountTotal   decimal.Decimal       `json:"disputed_amount_total"`
	ReconciliationScore   int                   `json:"reconciliation_score"`
	Issues                []ReconciliationIssue `json:"issues"`
}

// MatchRate returns the fraction of transactions with an active expense link
func (r *CardReconciliation) MatchRate() float64 {
	if r.TotalTransactions == 0 {
		return 0
	}
	return float64(r.MatchedTransactions) / float64(r.TotalTransactions)
}

// ParseTransactionStatus parses and validates a transaction status from string
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	status := TransactionStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid transaction status '%s'", s)
	}
	return status, nil
}

// ParseTransactionKind parses and validates a transaction kind from string
func ParseTransactionKind(s string) (TransactionKind, error) {
	kind := TransactionKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid transaction kind '%s'", s)
	}
	return kind, nil
}

// ParseDecimalFromString parses a decimal value from string with validation,
// stripping common currency symbols and thousand separators.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTimeWithFormats attempts to parse time from string using multiple
// formats commonly found in provider feed exports.
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"01/02/2006 15:04:05",
		"01/02/2006",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// DaysBetween returns the absolute difference in calendar days between two
// timestamps, ignoring the time-of-day component.
func DaysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	diff := ad.Sub(bd)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// SameCalendarDate reports whether two timestamps fall on the same calendar day
func SameCalendarDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
