package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordType identifies the raw record shape a Transaction was normalized from.
type RecordType string

const (
	RecordBankStatement RecordType = "bank_statement"
	RecordLedger        RecordType = "ledger"
	RecordCardStatement RecordType = "card_statement"
	RecordInvoice       RecordType = "invoice"
	RecordUnknown       RecordType = "unknown"
)

// Transaction is the canonical, immutable transaction produced by the normalizer.
// Detectors share Transaction pointers and must never mutate them.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
	EntityID string `json:"entityId,omitempty"`

	// Temporal. Zero when the source timestamp was missing or unparseable.
	Timestamp time.Time `json:"timestamp"`

	// Financial details. Amount is signed and exact to at least 1/10,000 of a unit.
	Amount  decimal.Decimal  `json:"amount"`
	Balance *decimal.Decimal `json:"balance,omitempty"`

	// Counterparty. VendorKey is the canonical form used for grouping.
	Vendor    string `json:"vendor"`
	VendorKey string `json:"vendorKey"`

	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	AccountID   string `json:"accountId,omitempty"`
	Employee    string `json:"employee,omitempty"`

	// Check, invoice or bank reference number
	Reference string `json:"reference,omitempty"`

	RecordType RecordType `json:"recordType"`
}

// AbsAmount returns |amount| as a float64.
func (t *Transaction) AbsAmount() float64 {
	f, _ := t.Amount.Abs().Float64()
	return f
}

// SignedAmount returns the amount as a float64.
func (t *Transaction) SignedAmount() float64 {
	f, _ := t.Amount.Float64()
	return f
}

// HasTimestamp reports whether the transaction carries a usable timestamp.
func (t *Transaction) HasTimestamp() bool {
	return !t.Timestamp.IsZero()
}

// IsZeroAmount reports whether the amount is exactly zero, which is also
// what malformed records are coerced to.
func (t *Transaction) IsZeroAmount() bool {
	return t.Amount.IsZero()
}
