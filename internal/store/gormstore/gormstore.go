package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/videocredits/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintAccountIdempotencyKey = "uniq_credit_transactions_account_idem"
	defaultMetadataJSON             = "{}"
	pgUniqueViolationCode           = "23505"
	pgForeignKeyViolationCode       = "23503"
	sqliteConstraintCode            = 19
	sqliteForeignKeyMessage         = "FOREIGN KEY"
	sqliteIdempotencyColumn         = "credit_transactions.idempotency_key"
	errorSubjectAccount             = "account"
	errorSubjectBalance             = "balance"
	errorSubjectTransaction         = "transaction"
	errorCodeAdjust                 = "adjust"
	errorCodeCount                  = "count"
	errorCodeDuplicate              = "duplicate"
	errorCodeEnsure                 = "ensure"
	errorCodeInsert                 = "insert"
	errorCodeInsufficient           = "insufficient"
	errorCodeInvalid                = "invalid"
	errorCodeList                   = "list"
	errorCodeLookup                 = "lookup"
	errorCodeMissing                = "missing"
	errorCodeRead                   = "read"
	errorCodeSum                    = "sum"
	orderNewestFirst                = "created_at DESC, seq DESC"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) EnsureAccount(ctx context.Context, accountID ledger.AccountID) error {
	now := time.Now().UTC()
	account := Account{AccountID: accountID.String(), CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(&account).Error
	if err != nil {
		return ledger.WrapStorageError(errorSubjectAccount, errorCodeEnsure, err)
	}
	return nil
}

// AdjustBalance applies delta with a single conditional UPDATE so concurrent writers cannot overdraw.
func (store *Store) AdjustBalance(ctx context.Context, accountID ledger.AccountID, delta ledger.SignedCredits) (ledger.Credits, error) {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND credits + ? >= 0", accountID.String(), delta.Int64()).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits + ?", delta.Int64()),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, ledger.WrapStorageError(errorSubjectBalance, errorCodeAdjust, result.Error)
	}
	if result.RowsAffected == 0 {
		exists, err := store.accountExists(ctx, accountID)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, wrapStoreError(errorSubjectAccount, errorCodeMissing, ledger.ErrAccountNotFound)
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInsufficient, ledger.ErrInsufficientCredits)
	}
	return store.ReadBalance(ctx, accountID)
}

func (store *Store) ReadBalance(ctx context.Context, accountID ledger.AccountID) (ledger.Credits, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Select("credits").
		Where("account_id = ?", accountID.String()).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, wrapStoreError(errorSubjectAccount, errorCodeMissing, ledger.ErrAccountNotFound)
		}
		return 0, ledger.WrapStorageError(errorSubjectBalance, errorCodeRead, err)
	}
	credits, err := ledger.NewCredits(account.Credits)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return credits, nil
}

func (store *Store) AppendTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.TransactionID, error) {
	model := CreditTransaction{
		AccountID:   input.AccountID().String(),
		Kind:        input.Kind().String(),
		Amount:      input.Amount().Int64(),
		Description: input.Description().String(),
		Metadata:    datatypesJSON(input.Metadata().String()),
		CreatedAt:   input.CreatedAt(),
	}
	if jobID, ok := input.JobID(); ok {
		model.JobID = optionalString(jobID.String())
	}
	if idempotencyKey, ok := input.IdempotencyKey(); ok {
		model.IdempotencyKey = optionalString(idempotencyKey.String())
	}
	if videoID, ok := input.References().VideoID(); ok {
		model.VideoID = optionalString(videoID)
	}
	if subscriptionID, ok := input.References().SubscriptionID(); ok {
		model.SubscriptionID = optionalString(subscriptionID)
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isAccountReferenceViolation(err) {
		return ledger.TransactionID{}, wrapStoreError(errorSubjectAccount, errorCodeMissing, ledger.ErrAccountNotFound)
	}
	if isIdempotencyConflict(err) {
		return ledger.TransactionID{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.TransactionID{}, ledger.WrapStorageError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transactionID, err := ledger.NewTransactionID(model.TransactionID)
	if err != nil {
		return ledger.TransactionID{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transactionID, nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID ledger.AccountID, page ledger.PageRequest) ([]ledger.Transaction, int64, error) {
	var total int64
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Where("account_id = ?", accountID.String()).
		Count(&total).Error
	if err != nil {
		return nil, 0, ledger.WrapStorageError(errorSubjectTransaction, errorCodeCount, err)
	}

	var rows []CreditTransaction
	err = store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order(orderNewestFirst).
		Limit(page.PageSize()).
		Offset(page.Offset()).
		Find(&rows).Error
	if err != nil {
		return nil, 0, ledger.WrapStorageError(errorSubjectTransaction, errorCodeList, err)
	}

	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapCreditTransaction(row)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, total, nil
}

func (store *Store) FindTransactionByJob(ctx context.Context, accountID ledger.AccountID, kind ledger.TransactionKind, jobID ledger.JobID) (ledger.Transaction, bool, error) {
	return store.findOne(ctx, "account_id = ? AND kind = ? AND job_id = ?", accountID.String(), kind.String(), jobID.String())
}

// SumJobTransactions totals the transactions of the given kind recorded for the job.
func (store *Store) SumJobTransactions(ctx context.Context, accountID ledger.AccountID, kind ledger.TransactionKind, jobID ledger.JobID) (ledger.SignedCredits, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Select("coalesce(sum(amount),0) as total").
		Where("account_id = ? AND kind = ? AND job_id = ?", accountID.String(), kind.String(), jobID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, ledger.WrapStorageError(errorSubjectTransaction, errorCodeSum, err)
	}
	return ledger.SignedCredits(sum.Total), nil
}

func (store *Store) FindTransactionByIdempotencyKey(ctx context.Context, accountID ledger.AccountID, idempotencyKey ledger.IdempotencyKey) (ledger.Transaction, bool, error) {
	return store.findOne(ctx, "account_id = ? AND idempotency_key = ?", accountID.String(), idempotencyKey.String())
}

func (store *Store) SumTransactions(ctx context.Context, accountID ledger.AccountID) (ledger.SignedCredits, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Select("coalesce(sum(amount),0) as total").
		Where("account_id = ?", accountID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, ledger.WrapStorageError(errorSubjectTransaction, errorCodeSum, err)
	}
	return ledger.SignedCredits(sum.Total), nil
}

// BackfillJobIDs fills job_id for rows that only carry the job in their description.
func (store *Store) BackfillJobIDs(ctx context.Context) (int, error) {
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Select("seq", "description").
		Where("job_id IS NULL AND kind IN ?", []string{ledger.KindUsage.String(), ledger.KindRefund.String()}).
		Find(&rows).Error
	if err != nil {
		return 0, ledger.WrapStorageError(errorSubjectTransaction, errorCodeList, err)
	}
	updated := 0
	for _, row := range rows {
		jobID, ok := ledger.ParseJobDescription(row.Description)
		if !ok {
			continue
		}
		err := store.db.WithContext(ctx).
			Model(&CreditTransaction{}).
			Where("seq = ?", row.Seq).
			Update("job_id", jobID.String()).Error
		if err != nil {
			return updated, ledger.WrapStorageError(errorSubjectTransaction, errorCodeInsert, err)
		}
		updated++
	}
	return updated, nil
}

func (store *Store) findOne(ctx context.Context, query string, args ...any) (ledger.Transaction, bool, error) {
	var row CreditTransaction
	err := store.db.WithContext(ctx).
		Where(query, args...).
		Order(orderNewestFirst).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Transaction{}, false, nil
		}
		return ledger.Transaction{}, false, ledger.WrapStorageError(errorSubjectTransaction, errorCodeLookup, err)
	}
	transaction, err := mapCreditTransaction(row)
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, true, nil
}

func (store *Store) accountExists(ctx context.Context, accountID ledger.AccountID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Count(&count).Error
	if err != nil {
		return false, ledger.WrapStorageError(errorSubjectAccount, errorCodeLookup, err)
	}
	return count > 0, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError("store", subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapCreditTransaction(row CreditTransaction) (ledger.Transaction, error) {
	return ledger.RestoreTransaction(ledger.StoredTransaction{
		TransactionID:  row.TransactionID,
		AccountID:      row.AccountID,
		Kind:           row.Kind,
		Amount:         row.Amount,
		Description:    row.Description,
		JobID:          stringOrEmpty(row.JobID),
		IdempotencyKey: stringOrEmpty(row.IdempotencyKey),
		VideoID:        stringOrEmpty(row.VideoID),
		SubscriptionID: stringOrEmpty(row.SubscriptionID),
		Metadata:       string(row.Metadata),
		CreatedAt:      row.CreatedAt,
	})
}

func optionalString(value string) *string {
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isIdempotencyConflict reports a unique violation on the (account_id, idempotency_key) index only;
// other unique violations remain storage failures.
func isIdempotencyConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintAccountIdempotencyKey
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), sqliteIdempotencyColumn)
	}
	return false
}

func isAccountReferenceViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), sqliteForeignKeyMessage)
	}
	return false
}
