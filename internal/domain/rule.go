package domain

import "time"

// RuleConfig defines a user-authored detection rule expressed in CEL.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression evaluated per transaction; must return bool
	Expression string `json:"expression"`

	// Outcome of a match
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
