package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. Credits caches the sum of the account's transactions.
type Account struct {
	AccountID    string              `gorm:"primaryKey"`
	Credits      int64               `gorm:"not null;default:0;check:chk_accounts_credits_non_negative,credits >= 0"`
	CreatedAt    time.Time           `gorm:"not null"`
	UpdatedAt    time.Time           `gorm:"not null"`
	Transactions []CreditTransaction `gorm:"foreignKey:AccountID;references:AccountID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
}

func (Account) TableName() string { return "accounts" }

// CreditTransaction mirrors the append-only credit_transactions table.
type CreditTransaction struct {
	Seq            int64          `gorm:"column:seq;primaryKey;autoIncrement"`
	TransactionID  string         `gorm:"type:uuid;not null;uniqueIndex:uniq_credit_transactions_transaction_id"`
	AccountID      string         `gorm:"not null;index:idx_credit_transactions_account_created,priority:1;index:idx_credit_transactions_account_kind_job,priority:1;uniqueIndex:uniq_credit_transactions_account_idem,priority:1"`
	Kind           string         `gorm:"not null;index:idx_credit_transactions_account_kind_job,priority:2"`
	Amount         int64          `gorm:"not null"`
	Description    string         `gorm:"not null"`
	JobID          *string        `gorm:"index:idx_credit_transactions_account_kind_job,priority:3"`
	IdempotencyKey *string        `gorm:"uniqueIndex:uniq_credit_transactions_account_idem,priority:2"`
	VideoID        *string
	SubscriptionID *string
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_credit_transactions_account_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// Models lists every table managed by Migrate.
func Models() []any {
	return []any{&Account{}, &CreditTransaction{}}
}
