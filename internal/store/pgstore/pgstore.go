package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/videocredits/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	constraintAccountIdempotencyKey = "uniq_credit_transactions_account_idem"
	pgUniqueViolationCode           = "23505"
	pgForeignKeyViolationCode       = "23503"
	errorSubjectAccount             = "account"
	errorSubjectBalance             = "balance"
	errorSubjectSchema              = "schema"
	errorSubjectTransaction         = "transaction"
	errorCodeAdjust                 = "adjust"
	errorCodeApply                  = "apply"
	errorCodeBegin                  = "begin"
	errorCodeCommit                 = "commit"
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

	sqlEnsureAccount = `
		insert into accounts(account_id) values($1)
		on conflict (account_id) do nothing
	`

	sqlAdjustBalance = `
		update accounts
		set credits = credits + $2, updated_at = now()
		where account_id = $1 and credits + $2 >= 0
		returning credits
	`

	sqlAccountExists = `select exists(select 1 from accounts where account_id = $1)`

	sqlReadBalance = `select credits from accounts where account_id = $1`

	sqlInsertTransaction = `
		insert into credit_transactions(
			account_id, kind, amount, description, job_id, idempotency_key, video_id, subscription_id, metadata, created_at
		)
		values(
			$1, $2, $3, $4,
			nullif($5,''), nullif($6,''), nullif($7,''), nullif($8,''),
			coalesce(nullif($9,''),'{}')::jsonb,
			$10
		)
		returning transaction_id::text
	`

	sqlCountTransactions = `select count(*) from credit_transactions where account_id = $1`

	sqlSelectColumns = `
		select
			transaction_id::text,
			account_id,
			kind,
			amount,
			description,
			coalesce(job_id,''),
			coalesce(idempotency_key,''),
			coalesce(video_id,''),
			coalesce(subscription_id,''),
			coalesce(metadata::text,'{}'),
			created_at
		from credit_transactions
	`

	sqlListTransactions = sqlSelectColumns + `
		where account_id = $1
		order by created_at desc, seq desc
		limit $2 offset $3
	`

	sqlFindByJob = sqlSelectColumns + `
		where account_id = $1 and kind = $2 and job_id = $3
		order by created_at desc, seq desc
		limit 1
	`

	sqlFindByIdempotencyKey = sqlSelectColumns + `
		where account_id = $1 and idempotency_key = $2
		limit 1
	`

	sqlSumTransactions    = `select coalesce(sum(amount),0)::bigint from credit_transactions where account_id = $1`
	sqlSumJobTransactions = `select coalesce(sum(amount),0)::bigint from credit_transactions where account_id = $1 and kind = $2 and job_id = $3`
)

// queryer is the subset shared by *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db queryer
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// EnsureSchema creates the ledger tables and indexes when missing.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, schemaSQL); err != nil {
		return ledger.WrapStorageError(errorSubjectSchema, errorCodeApply, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ledger.WrapStorageError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.WrapStorageError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store queries) EnsureAccount(ctx context.Context, accountID ledger.AccountID) error {
	if _, err := store.db.Exec(ctx, sqlEnsureAccount, accountID.String()); err != nil {
		return ledger.WrapStorageError(errorSubjectAccount, errorCodeEnsure, err)
	}
	return nil
}

func (store queries) AdjustBalance(ctx context.Context, accountID ledger.AccountID, delta ledger.SignedCredits) (ledger.Credits, error) {
	var credits int64
	err := store.db.QueryRow(ctx, sqlAdjustBalance, accountID.String(), delta.Int64()).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := store.db.QueryRow(ctx, sqlAccountExists, accountID.String()).Scan(&exists); err != nil {
			return 0, ledger.WrapStorageError(errorSubjectAccount, errorCodeLookup, err)
		}
		if !exists {
			return 0, wrapStoreError(errorSubjectAccount, errorCodeMissing, ledger.ErrAccountNotFound)
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInsufficient, ledger.ErrInsufficientCredits)
	}
	if err != nil {
		return 0, ledger.WrapStorageError(errorSubjectBalance, errorCodeAdjust, err)
	}
	balance, err := ledger.NewCredits(credits)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store queries) ReadBalance(ctx context.Context, accountID ledger.AccountID) (ledger.Credits, error) {
	var credits int64
	err := store.db.QueryRow(ctx, sqlReadBalance, accountID.String()).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wrapStoreError(errorSubjectAccount, errorCodeMissing, ledger.ErrAccountNotFound)
	}
	if err != nil {
		return 0, ledger.WrapStorageError(errorSubjectBalance, errorCodeRead, err)
	}
	balance, err := ledger.NewCredits(credits)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store queries) AppendTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.TransactionID, error) {
	jobID, _ := input.JobID()
	idempotencyKey, _ := input.IdempotencyKey()
	videoID, _ := input.References().VideoID()
	subscriptionID, _ := input.References().SubscriptionID()
	createdAt := input.CreatedAt()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var transactionIDValue string
	err := store.db.QueryRow(ctx, sqlInsertTransaction,
		input.AccountID().String(),
		input.Kind().String(),
		input.Amount().Int64(),
		input.Description().String(),
		jobID.String(),
		idempotencyKey.String(),
		videoID,
		subscriptionID,
		input.Metadata().String(),
		createdAt,
	).Scan(&transactionIDValue)
	if isAccountReferenceViolation(err) {
		return ledger.TransactionID{}, wrapStoreError(errorSubjectAccount, errorCodeMissing, ledger.ErrAccountNotFound)
	}
	if isIdempotencyConflict(err) {
		return ledger.TransactionID{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.TransactionID{}, ledger.WrapStorageError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transactionID, err := ledger.NewTransactionID(transactionIDValue)
	if err != nil {
		return ledger.TransactionID{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transactionID, nil
}

func (store queries) ListTransactions(ctx context.Context, accountID ledger.AccountID, page ledger.PageRequest) ([]ledger.Transaction, int64, error) {
	var total int64
	if err := store.db.QueryRow(ctx, sqlCountTransactions, accountID.String()).Scan(&total); err != nil {
		return nil, 0, ledger.WrapStorageError(errorSubjectTransaction, errorCodeCount, err)
	}
	rows, err := store.db.Query(ctx, sqlListTransactions, accountID.String(), page.PageSize(), page.Offset())
	if err != nil {
		return nil, 0, ledger.WrapStorageError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return transactions, total, nil
}

func (store queries) FindTransactionByJob(ctx context.Context, accountID ledger.AccountID, kind ledger.TransactionKind, jobID ledger.JobID) (ledger.Transaction, bool, error) {
	rows, err := store.db.Query(ctx, sqlFindByJob, accountID.String(), kind.String(), jobID.String())
	if err != nil {
		return ledger.Transaction{}, false, ledger.WrapStorageError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return firstTransaction(rows)
}

func (store queries) FindTransactionByIdempotencyKey(ctx context.Context, accountID ledger.AccountID, idempotencyKey ledger.IdempotencyKey) (ledger.Transaction, bool, error) {
	rows, err := store.db.Query(ctx, sqlFindByIdempotencyKey, accountID.String(), idempotencyKey.String())
	if err != nil {
		return ledger.Transaction{}, false, ledger.WrapStorageError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return firstTransaction(rows)
}

func (store queries) SumTransactions(ctx context.Context, accountID ledger.AccountID) (ledger.SignedCredits, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumTransactions, accountID.String()).Scan(&sum); err != nil {
		return 0, ledger.WrapStorageError(errorSubjectTransaction, errorCodeSum, err)
	}
	return ledger.SignedCredits(sum), nil
}

func (store queries) SumJobTransactions(ctx context.Context, accountID ledger.AccountID, kind ledger.TransactionKind, jobID ledger.JobID) (ledger.SignedCredits, error) {
	var sum int64
	if err := store.db.QueryRow(ctx, sqlSumJobTransactions, accountID.String(), kind.String(), jobID.String()).Scan(&sum); err != nil {
		return 0, ledger.WrapStorageError(errorSubjectTransaction, errorCodeSum, err)
	}
	return ledger.SignedCredits(sum), nil
}

func firstTransaction(rows pgx.Rows) (ledger.Transaction, bool, error) {
	transactions, err := scanTransactions(rows)
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	if len(transactions) == 0 {
		return ledger.Transaction{}, false, nil
	}
	return transactions[0], true, nil
}

type transactionRow struct {
	transactionID  string
	accountID      string
	kind           string
	amount         int64
	description    string
	jobID          string
	idempotencyKey string
	videoID        string
	subscriptionID string
	metadata       string
	createdAt      time.Time
}

func scanTransactions(rows pgx.Rows) ([]ledger.Transaction, error) {
	defer rows.Close()
	var transactions []ledger.Transaction
	for rows.Next() {
		var row transactionRow
		if err := rows.Scan(
			&row.transactionID,
			&row.accountID,
			&row.kind,
			&row.amount,
			&row.description,
			&row.jobID,
			&row.idempotencyKey,
			&row.videoID,
			&row.subscriptionID,
			&row.metadata,
			&row.createdAt,
		); err != nil {
			return nil, ledger.WrapStorageError(errorSubjectTransaction, errorCodeList, err)
		}
		transaction, err := mapTransactionRow(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.WrapStorageError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func mapTransactionRow(row transactionRow) (ledger.Transaction, error) {
	return ledger.RestoreTransaction(ledger.StoredTransaction{
		TransactionID:  row.transactionID,
		AccountID:      row.accountID,
		Kind:           row.kind,
		Amount:         row.amount,
		Description:    row.description,
		JobID:          row.jobID,
		IdempotencyKey: row.idempotencyKey,
		VideoID:        row.videoID,
		SubscriptionID: row.subscriptionID,
		Metadata:       row.metadata,
		CreatedAt:      row.createdAt,
	})
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError("store", subject, code, err)
}

func isIdempotencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintAccountIdempotencyKey
	}
	return false
}

func isAccountReferenceViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolationCode
	}
	return false
}
