package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"card-reconciliation-engine/internal/models"
	"card-reconciliation-engine/pkg/errors"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS corporate_cards (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	masked_number TEXT NOT NULL,
	last_four TEXT NOT NULL,
	holder_name TEXT NOT NULL,
	network TEXT NOT NULL DEFAULT '',
	issuing_bank TEXT NOT NULL DEFAULT '',
	credit_limit TEXT NOT NULL DEFAULT '0',
	available_credit TEXT NOT NULL DEFAULT '0',
	currency TEXT NOT NULL,
	country TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	business INTEGER NOT NULL DEFAULT 1,
	last_synced_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS card_transactions (
	id TEXT PRIMARY KEY,
	provider_tx_id TEXT NOT NULL,
	card_id TEXT NOT NULL REFERENCES corporate_cards(id),
	tenant_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL,
	merchant_name TEXT NOT NULL DEFAULT '',
	merchant_category TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	kind TEXT NOT NULL,
	transaction_time TIMESTAMP NOT NULL,
	posted_time TIMESTAMP,
	location_json TEXT,
	metadata_json TEXT,
	linked INTEGER NOT NULL DEFAULT 0,
	linked_expense_id TEXT,
	link_method TEXT,
	classification_score REAL NOT NULL DEFAULT 0,
	fraud_score INTEGER NOT NULL DEFAULT 0,
	UNIQUE (card_id, provider_tx_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_unlinked
	ON card_transactions (tenant_id, linked, transaction_time);

CREATE TABLE IF NOT EXISTS expense_items (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	date TIMESTAMP NOT NULL,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL,
	vendor TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	submitted_by TEXT NOT NULL DEFAULT '',
	has_receipt INTEGER NOT NULL DEFAULT 0,
	matched INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pending_reviews (
	id TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	expense_item_id TEXT NOT NULL,
	match_score REAL NOT NULL,
	match_reasons TEXT NOT NULL,
	confidence TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS fraud_alerts (
	id TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	card_id TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	risk_score INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	recommended_action TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	resolution TEXT
);
`

// SQLiteStore is the embedded persistent Store implementation. The link
// claim runs as a transaction of two conditional UPDATEs, so a concurrent
// run that already claimed either side makes this claim fail cleanly with
// a link_conflict.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and bootstraps) a store at the given path. Use
// ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "open database", err)
	}

	// A single connection serializes writers and keeps :memory: databases
	// coherent; each pooled connection would otherwise see its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "bootstrap schema", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveCard inserts or replaces a card
func (s *SQLiteStore) SaveCard(ctx context.Context, card *models.CorporateCard) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO corporate_cards
			(id, tenant_id, masked_number, last_four, holder_name, network, issuing_bank,
			 credit_limit, available_credit, currency, country, active, business, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID, card.TenantID, card.MaskedNumber, card.LastFour, card.HolderName,
		card.Network, card.IssuingBank, card.CreditLimit.String(), card.AvailableCredit.String(),
		card.Currency, card.Country, card.Active, card.Business, card.LastSyncedAt)
	if err != nil {
		return errors.StorageError(errors.CodeStorageUnavailable, "save card", err)
	}
	return nil
}

// GetCard returns a card by id
func (s *SQLiteStore) GetCard(ctx context.Context, cardID string) (*models.CorporateCard, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, masked_number, last_four, holder_name, network, issuing_bank,
		       credit_limit, available_credit, currency, country, active, business, last_synced_at
		FROM corporate_cards WHERE id = ?`, cardID)

	var card models.CorporateCard
	var creditLimit, availableCredit string
	var lastSynced sql.NullTime
	err := row.Scan(&card.ID, &card.TenantID, &card.MaskedNumber, &card.LastFour,
		&card.HolderName, &card.Network, &card.IssuingBank, &creditLimit, &availableCredit,
		&card.Currency, &card.Country, &card.Active, &card.Business, &lastSynced)
	if err == sql.ErrNoRows {
		return nil, errors.CardNotFound(cardID)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "get card", err)
	}

	if card.CreditLimit, err = decimal.NewFromString(creditLimit); err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "decode credit limit", err)
	}
	if card.AvailableCredit, err = decimal.NewFromString(availableCredit); err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "decode available credit", err)
	}
	if lastSynced.Valid {
		card.LastSyncedAt = lastSynced.Time
	}
	return &card, nil
}

// UpsertTransaction inserts or updates by (card_id, provider_tx_id). Feed
// fields and derived annotations are refreshed; link state is preserved.
func (s *SQLiteStore) UpsertTransaction(ctx context.Context, tx *models.CardTransaction) (bool, error) {
	locationJSON, metadataJSON, err := encodeTransactionJSON(tx)
	if err != nil {
		return false, err
	}

	var id string
	created := false
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM card_transactions WHERE card_id = ? AND provider_tx_id = ?`,
		tx.CardID, tx.ProviderTxID).Scan(&id)
	if err == sql.ErrNoRows {
		created = true
		id = tx.ID
		if id == "" {
			id = uuid.NewString()
		}
	} else if err != nil {
		return false, errors.StorageError(errors.CodeStorageUnavailable, "resolve transaction", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO card_transactions
			(id, provider_tx_id, card_id, tenant_id, amount, currency, merchant_name,
			 merchant_category, description, status, kind, transaction_time, posted_time,
			 location_json, metadata_json, classification_score, fraud_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (card_id, provider_tx_id) DO UPDATE SET
			amount = excluded.amount,
			currency = excluded.currency,
			merchant_name = excluded.merchant_name,
			merchant_category = excluded.merchant_category,
			description = excluded.description,
			status = excluded.status,
			kind = excluded.kind,
			transaction_time = excluded.transaction_time,
			posted_time = excluded.posted_time,
			location_json = excluded.location_json,
			metadata_json = excluded.metadata_json,
			classification_score = excluded.classification_score,
			fraud_score = excluded.fraud_score`,
		id, tx.ProviderTxID, tx.CardID, tx.TenantID, tx.Amount.String(), tx.Currency,
		tx.MerchantName, tx.MerchantCategory, tx.Description, tx.Status.String(), string(tx.Kind),
		tx.TransactionTime, nullableTime(tx.PostedTime), locationJSON, metadataJSON,
		tx.ClassificationScore, tx.FraudScore)
	if err != nil {
		return false, errors.StorageError(errors.CodeStorageUnavailable, "upsert transaction", err)
	}

	tx.ID = id
	return created, nil
}

// FindUnmatchedTransactions returns not-yet-linked transactions in scope
func (s *SQLiteStore) FindUnmatchedTransactions(ctx context.Context, query TransactionQuery) ([]*models.CardTransaction, error) {
	sqlQuery := `SELECT ` + transactionColumns + ` FROM card_transactions WHERE linked = 0`
	args := []interface{}{}

	if query.TenantID != "" {
		sqlQuery += " AND tenant_id = ?"
		args = append(args, query.TenantID)
	}
	if query.CardID != "" {
		sqlQuery += " AND card_id = ?"
		args = append(args, query.CardID)
	}
	if !query.From.IsZero() {
		sqlQuery += " AND transaction_time >= ?"
		args = append(args, query.From)
	}
	if !query.To.IsZero() {
		sqlQuery += " AND transaction_time <= ?"
		args = append(args, query.To)
	}
	sqlQuery += " ORDER BY transaction_time, provider_tx_id"

	return s.queryTransactions(ctx, sqlQuery, args...)
}

// TransactionsInPeriod returns all transactions for a card in [from, to]
func (s *SQLiteStore) TransactionsInPeriod(ctx context.Context, cardID string, from, to time.Time) ([]*models.CardTransaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM card_transactions
		 WHERE card_id = ? AND transaction_time >= ? AND transaction_time <= ?
		 ORDER BY transaction_time, provider_tx_id`,
		cardID, from, to)
}

// RecentByCard returns transactions on a card since the given time
func (s *SQLiteStore) RecentByCard(ctx context.Context, cardID string, since time.Time) ([]*models.CardTransaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM card_transactions
		 WHERE card_id = ? AND transaction_time >= ?
		 ORDER BY transaction_time, provider_tx_id`,
		cardID, since)
}

// LinkTransactionToExpense atomically claims both sides of a link
func (s *SQLiteStore) LinkTransactionToExpense(ctx context.Context, transactionID, expenseItemID, method string) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeStorageUnavailable, "begin link", err)
	}
	defer dbTx.Rollback()

	result, err := dbTx.ExecContext(ctx,
		`UPDATE card_transactions
		 SET linked = 1, linked_expense_id = ?, link_method = ?
		 WHERE id = ? AND linked = 0`,
		expenseItemID, method, transactionID)
	if err != nil {
		return errors.StorageError(errors.CodeStorageUnavailable, "claim transaction", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.LinkConflict(transactionID, expenseItemID)
	}

	result, err = dbTx.ExecContext(ctx,
		`UPDATE expense_items SET matched = 1 WHERE id = ? AND matched = 0`,
		expenseItemID)
	if err != nil {
		return errors.StorageError(errors.CodeStorageUnavailable, "claim expense", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.LinkConflict(transactionID, expenseItemID)
	}

	if err := dbTx.Commit(); err != nil {
		return errors.StorageError(errors.CodeStorageUnavailable, "commit link", err)
	}
	return nil
}

// SaveExpenseItem inserts or replaces an expense claim
func (s *SQLiteStore) SaveExpenseItem(ctx context.Context, item *models.ExpenseItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO expense_items
			(id, tenant_id, date, amount, currency, vendor, category, submitted_by, has_receipt,
			 matched)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?,
			COALESCE((SELECT matched FROM expense_items WHERE id = ?), 0))`,
		item.ID, item.TenantID, item.Date, item.Amount.String(), item.Currency,
		item.Vendor, item.Category, item.SubmittedBy, item.HasReceipt, item.ID)
	if err != nil {
		return errors.StorageError(errors.CodeStorageUnavailable, "save expense", err)
	}
	return nil
}

// GetExpenseItem returns an expense claim by id
func (s *SQLiteStore) GetExpenseItem(ctx context.Context, id string) (*models.ExpenseItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, date, amount, currency, vendor, category, submitted_by, has_receipt
		FROM expense_items WHERE id = ?`, id)

	item, err := scanExpense(row)
	if err == sql.ErrNoRows {
		return nil, errors.StorageError(errors.CodeNotFound, "get expense", nil).
			WithContext("expense_id", id)
	}
	return item, err
}

// FindUnmatchedExpenseItems returns unclaimed expense claims in the window
func (s *SQLiteStore) FindUnmatchedExpenseItems(ctx context.Context, tenantID string, from, to time.Time) ([]*models.ExpenseItem, error) {
	sqlQuery := `SELECT id, tenant_id, date, amount, currency, vendor, category, submitted_by, has_receipt
		FROM expense_items WHERE matched = 0`
	args := []interface{}{}

	if tenantID != "" {
		sqlQuery += " AND tenant_id = ?"
		args = append(args, tenantID)
	}
	if !from.IsZero() {
		sqlQuery += " AND date >= ?"
		args = append(args, from)
	}
	if !to.IsZero() {
		sqlQuery += " AND date <= ?"
		args = append(args, to)
	}
	sqlQuery += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "find unmatched expenses", err)
	}
	defer rows.Close()

	var items []*models.ExpenseItem
	for rows.Next() {
		item, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SavePendingReview queues a match suggestion for manual review
func (s *SQLiteStore) SavePendingReview(ctx context.Context, match *models.ExpenseMatch) error {
	reasons, err := json.Marshal(match.MatchReasons)
	if err != nil {
		return errors.StorageError(errors.CodeStorageUnavailable, "encode match reasons", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_reviews
			(id, transaction_id, expense_item_id, match_score, match_reasons, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), match.Transaction.ID, match.Expense.ID,
		match.MatchScore, string(reasons), string(match.Confidence), time.Now().UTC())
	if err != nil {
		return errors.StorageError(errors.CodeStorageUnavailable, "save pending review", err)
	}
	return nil
}

// SaveAlerts records fraud alerts
func (s *SQLiteStore) SaveAlerts(ctx context.Context, alerts []*models.FraudAlert) error {
	for _, alert := range alerts {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO fraud_alerts
				(id, transaction_id, card_id, alert_type, risk_score, description,
				 recommended_action, created_at, resolution)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			alert.ID, alert.TransactionID, alert.CardID, string(alert.AlertType),
			alert.RiskScore, alert.Description, string(alert.RecommendedAction),
			alert.CreatedAt, alert.Resolution)
		if err != nil {
			return errors.StorageError(errors.CodeStorageUnavailable, "save fraud alert", err)
		}
	}
	return nil
}

const transactionColumns = `id, provider_tx_id, card_id, tenant_id, amount, currency,
	merchant_name, merchant_category, description, status, kind, transaction_time,
	posted_time, location_json, metadata_json, linked, linked_expense_id,
	classification_score, fraud_score`

func (s *SQLiteStore) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]*models.CardTransaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "query transactions", err)
	}
	defer rows.Close()

	var result []*models.CardTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.CardTransaction, error) {
	var tx models.CardTransaction
	var amount, status, kind string
	var postedTime sql.NullTime
	var locationJSON, metadataJSON, linkedExpense sql.NullString

	err := row.Scan(&tx.ID, &tx.ProviderTxID, &tx.CardID, &tx.TenantID, &amount, &tx.Currency,
		&tx.MerchantName, &tx.MerchantCategory, &tx.Description, &status, &kind,
		&tx.TransactionTime, &postedTime, &locationJSON, &metadataJSON,
		&tx.Linked, &linkedExpense, &tx.ClassificationScore, &tx.FraudScore)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "scan transaction", err)
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "decode amount", err)
	}
	tx.Status = models.TransactionStatus(status)
	tx.Kind = models.TransactionKind(kind)
	if postedTime.Valid {
		tx.PostedTime = postedTime.Time
	}
	if linkedExpense.Valid {
		tx.LinkedExpenseID = linkedExpense.String
	}
	if locationJSON.Valid && locationJSON.String != "" {
		var loc models.Geolocation
		if err := json.Unmarshal([]byte(locationJSON.String), &loc); err != nil {
			return nil, errors.StorageError(errors.CodeStorageUnavailable, "decode location", err)
		}
		tx.Location = &loc
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return nil, errors.StorageError(errors.CodeStorageUnavailable, "decode metadata", err)
		}
	}
	return &tx, nil
}

func scanExpense(row rowScanner) (*models.ExpenseItem, error) {
	var item models.ExpenseItem
	var amount string

	err := row.Scan(&item.ID, &item.TenantID, &item.Date, &amount, &item.Currency,
		&item.Vendor, &item.Category, &item.SubmittedBy, &item.HasReceipt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "scan expense", err)
	}

	if item.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, errors.StorageError(errors.CodeStorageUnavailable, "decode expense amount", err)
	}
	return &item, nil
}

func encodeTransactionJSON(tx *models.CardTransaction) (sql.NullString, sql.NullString, error) {
	var location, metadata sql.NullString

	if tx.Location != nil {
		raw, err := json.Marshal(tx.Location)
		if err != nil {
			return location, metadata, errors.StorageError(errors.CodeStorageUnavailable, "encode location", err)
		}
		location = sql.NullString{String: string(raw), Valid: true}
	}
	if len(tx.Metadata) > 0 {
		raw, err := json.Marshal(tx.Metadata)
		if err != nil {
			return location, metadata, errors.StorageError(errors.CodeStorageUnavailable, "encode metadata", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	return location, metadata, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)
