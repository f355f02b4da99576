// Package normalize converts heterogeneous raw financial records into canonical transactions.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/similarity"
)

// ErrNotIterable is returned when a payload is not an array of record objects.
var ErrNotIterable = errors.New("records payload is not an array of objects")

// Field aliases, matched against lower_snake_case record keys.
var (
	idKeys          = []string{"id", "transaction_id", "txn_id", "entry_id", "line_id"}
	timestampKeys   = []string{"timestamp", "date", "posted_at", "transaction_date", "posting_date", "invoice_date", "datetime", "created_at"}
	amountKeys      = []string{"amount", "amt", "transaction_amount", "invoice_amount", "total", "value"}
	vendorKeys      = []string{"vendor", "payee", "merchant", "supplier", "counterparty", "vendor_name", "merchant_name", "beneficiary"}
	categoryKeys    = []string{"category", "expense_type", "gl_category", "account_category", "mcc_description", "type"}
	descriptionKeys = []string{"description", "memo", "narrative", "details", "note", "notes"}
	accountKeys     = []string{"account_id", "account", "account_number", "gl_account", "card_number", "payment_method"}
	employeeKeys    = []string{"employee", "employee_id", "employee_name", "cardholder", "submitted_by"}
	balanceKeys     = []string{"balance", "running_balance"}
	referenceKeys   = []string{"reference", "check_number", "invoice_number", "reference_number", "ref", "cheque_number"}
)

// DetectShape identifies the origin record type from field presence.
func DetectShape(record map[string]any) domain.RecordType {
	r := canonicalKeys(record)
	switch {
	case has(r, "invoice_number"):
		return domain.RecordInvoice
	case has(r, "card_number"), has(r, "merchant"), has(r, "merchant_name"):
		return domain.RecordCardStatement
	case has(r, "debit"), has(r, "credit"):
		return domain.RecordLedger
	case has(r, "balance"), has(r, "running_balance"), has(r, "account_number"):
		return domain.RecordBankStatement
	default:
		return domain.RecordUnknown
	}
}

// Record converts one raw record into a Transaction. index is the record's
// position, used to name records without an identifier. Malformed fields are
// coerced rather than rejected.
func Record(index int, record map[string]any) *domain.Transaction {
	r := canonicalKeys(record)
	shape := DetectShape(record)

	tx := &domain.Transaction{
		ID:          firstString(r, idKeys),
		Vendor:      firstString(r, vendorKeys),
		Category:    firstString(r, categoryKeys),
		Description: firstString(r, descriptionKeys),
		AccountID:   firstString(r, accountKeys),
		Employee:    firstString(r, employeeKeys),
		Reference:   firstString(r, referenceKeys),
		RecordType:  shape,
	}
	if tx.ID == "" {
		tx.ID = fmt.Sprintf("txn-%05d", index)
	}
	if shape == domain.RecordCardStatement {
		tx.AccountID = maskCard(tx.AccountID)
	}
	tx.VendorKey = similarity.Canonical(tx.Vendor)

	tx.Amount = recordAmount(tx.ID, r)

	if raw, ok := first(r, balanceKeys); ok {
		if bal, ok := ParseAmount(raw); ok {
			tx.Balance = &bal
		}
	}

	if raw, ok := first(r, timestampKeys); ok {
		ts, ok := ParseTime(raw)
		if !ok {
			slog.Debug("unparseable timestamp", "transaction_id", tx.ID, "value", raw)
		}
		tx.Timestamp = ts
	}

	return tx
}

// recordAmount resolves the signed amount, falling back to credit - debit for ledgers.
func recordAmount(id string, r map[string]any) decimal.Decimal {
	if raw, ok := first(r, amountKeys); ok {
		amt, ok := ParseAmount(raw)
		if !ok {
			slog.Debug("unparseable amount coerced to zero", "transaction_id", id, "value", raw)
		}
		return amt
	}

	debitRaw, hasDebit := r["debit"]
	creditRaw, hasCredit := r["credit"]
	if hasDebit || hasCredit {
		debit, _ := ParseAmount(debitRaw)
		credit, _ := ParseAmount(creditRaw)
		return credit.Sub(debit)
	}

	slog.Debug("record has no amount", "transaction_id", id)
	return decimal.Zero
}

// Records normalizes a batch of raw records, preserving order.
func Records(records []map[string]any) []*domain.Transaction {
	txs := make([]*domain.Transaction, 0, len(records))
	for i, rec := range records {
		txs = append(txs, Record(i+1, rec))
	}
	return txs
}

// DecodeRecords parses a JSON array of objects into raw records. Numbers keep
// their exact decimal text.
func DecodeRecords(data []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotIterable, err)
	}
	items, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotIterable, payload)
	}

	records := make([]map[string]any, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T", ErrNotIterable, i, item)
		}
		records = append(records, rec)
	}
	return records, nil
}

// JSON normalizes a JSON array of record objects.
func JSON(data []byte) ([]*domain.Transaction, error) {
	records, err := DecodeRecords(data)
	if err != nil {
		return nil, err
	}
	return Records(records), nil
}

// canonicalKeys lower-cases keys and folds spaces and hyphens to underscores.
func canonicalKeys(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		key := strings.ToLower(strings.TrimSpace(k))
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
		out[key] = v
	}
	return out
}

func has(r map[string]any, key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

func first(r map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func firstString(r map[string]any, keys []string) string {
	v, ok := first(r, keys)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

// maskCard keeps only the last four digits of a card number.
func maskCard(card string) string {
	digits := make([]rune, 0, len(card))
	for _, r := range card {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return card
	}
	return "****" + string(digits[len(digits)-4:])
}
