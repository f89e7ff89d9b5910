package domain

import (
	"strings"
	"time"
)

// TransactionType enumerates the kinds of credit movements registries
// report.
type TransactionType string

const (
	TransactionIssuance     TransactionType = "issuance"
	TransactionRetirement   TransactionType = "retirement"
	TransactionCancellation TransactionType = "cancellation"
)

// KnownTransactionType reports whether raw names a member of the
// transaction enumeration.
func KnownTransactionType(raw string) bool {
	switch TransactionType(strings.ToLower(strings.TrimSpace(raw))) {
	case TransactionIssuance, TransactionRetirement, TransactionCancellation:
		return true
	default:
		return false
	}
}

// Credit is a unit of issued or retired offset volume tied to a
// Project. Quantity is never negative; RecordedAt carries the manifest
// timestamp used for last-writer-wins merging.
type Credit struct {
	ID                    int64           `json:"id" gorm:"primaryKey"`
	ProjectID             string          `json:"project_id" gorm:"type:text;not null;index"`
	Quantity              int64           `json:"quantity" gorm:"not null"`
	Vintage               *int            `json:"vintage,omitempty"`
	TransactionDate       *time.Time      `json:"transaction_date,omitempty"`
	TransactionType       TransactionType `json:"transaction_type" gorm:"type:text;not null"`
	RetirementBeneficiary *string         `json:"retirement_beneficiary,omitempty" gorm:"type:text"`
	RecordedAt            time.Time       `json:"recorded_at" gorm:"not null"`
}

func (Credit) TableName() string { return "credits" }
