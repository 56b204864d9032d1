package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Credits is a non-negative credit quantity such as an account balance.
type Credits int64

// PositiveCredits is a strictly positive credit quantity used for operation amounts.
type PositiveCredits int64

// SignedCredits is a signed transaction amount; positive adds credits, negative consumes them.
type SignedCredits int64

// AccountID identifies a user credit account.
type AccountID struct {
	value string
}

// JobID identifies a video generation job.
type JobID struct {
	value string
}

// TransactionID identifies a stored ledger transaction.
type TransactionID struct {
	value string
}

// IdempotencyKey scopes duplicate detection per account.
type IdempotencyKey struct {
	value string
}

// Description is the human readable label of a transaction.
type Description struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// References links a transaction to an optional video and subscription.
type References struct {
	videoID        string
	subscriptionID string
}

// TransactionKind enumerates ledger transaction kinds.
type TransactionKind string

const (
	KindPurchase          TransactionKind = "purchase"
	KindUsage             TransactionKind = "usage"
	KindRefund            TransactionKind = "refund"
	KindSubscriptionGrant TransactionKind = "subscription-grant"
)

// NewCredits validates a balance value.
func NewCredits(raw int64) (Credits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// Int64 exposes the raw value.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewPositiveCredits validates an operation amount and ensures it is strictly positive.
func NewPositiveCredits(raw int64) (PositiveCredits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return PositiveCredits(raw), nil
}

// Int64 exposes the raw value.
func (credits PositiveCredits) Int64() int64 {
	return int64(credits)
}

// ToCredits converts the amount to a plain credit quantity.
func (credits PositiveCredits) ToCredits() Credits {
	return Credits(credits)
}

// ToSigned converts the amount to a positive transaction amount.
func (credits PositiveCredits) ToSigned() SignedCredits {
	return SignedCredits(credits)
}

// Int64 exposes the raw value.
func (credits SignedCredits) Int64() int64 {
	return int64(credits)
}

// Negated flips the sign.
func (credits SignedCredits) Negated() SignedCredits {
	return -credits
}

// Magnitude returns the absolute amount.
func (credits SignedCredits) Magnitude() Credits {
	if credits < 0 {
		return Credits(-credits)
	}
	return Credits(credits)
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewJobID validates and normalizes a job id.
func NewJobID(raw string) (JobID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return JobID{}, fmt.Errorf("%w: empty value", ErrInvalidJobID)
	}
	if len(trimmed) > maxReferenceLength || strings.ContainsAny(trimmed, " \t\n") {
		return JobID{}, fmt.Errorf("%w: must be a single token of at most %d bytes", ErrInvalidJobID, maxReferenceLength)
	}
	return JobID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id JobID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewDescription validates a transaction description.
func NewDescription(raw string) (Description, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > maxDescriptionLength {
		return Description{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidDescription, maxDescriptionLength)
	}
	return Description{value: trimmed}, nil
}

// String returns the normalized description.
func (description Description) String() string {
	return description.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = emptyMetadataJSON
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return emptyMetadataJSON
	}
	return metadata.value
}

// NewReferences validates optional video and subscription references; empty values mean "absent".
func NewReferences(videoID string, subscriptionID string) (References, error) {
	trimmedVideoID := strings.TrimSpace(videoID)
	trimmedSubscriptionID := strings.TrimSpace(subscriptionID)
	if len(trimmedVideoID) > maxReferenceLength || len(trimmedSubscriptionID) > maxReferenceLength {
		return References{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidReference, maxReferenceLength)
	}
	return References{videoID: trimmedVideoID, subscriptionID: trimmedSubscriptionID}, nil
}

// VideoID returns the linked video id when present.
func (references References) VideoID() (string, bool) {
	return references.videoID, references.videoID != ""
}

// SubscriptionID returns the linked subscription id when present.
func (references References) SubscriptionID() (string, bool) {
	return references.subscriptionID, references.subscriptionID != ""
}

// ParseTransactionKind validates a stored or transported kind value.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	kind := TransactionKind(strings.TrimSpace(raw))
	switch kind {
	case KindPurchase, KindUsage, KindRefund, KindSubscriptionGrant:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
	}
}

// String returns the wire value.
func (kind TransactionKind) String() string {
	return string(kind)
}

// IsGrant reports whether the kind is created by purchases or subscriptions.
func (kind TransactionKind) IsGrant() bool {
	return kind == KindPurchase || kind == KindSubscriptionGrant
}

func (kind TransactionKind) requiresJob() bool {
	return kind == KindUsage || kind == KindRefund
}

// TransactionInput is a validated transaction awaiting insertion.
type TransactionInput struct {
	accountID      AccountID
	kind           TransactionKind
	amount         SignedCredits
	description    Description
	jobID          *JobID
	idempotencyKey *IdempotencyKey
	references     References
	metadata       MetadataJSON
	createdAt      time.Time
}

// NewTransactionInput validates kind, sign, and job association of a new transaction.
func NewTransactionInput(accountID AccountID, kind TransactionKind, amount SignedCredits, description Description, jobID *JobID, idempotencyKey *IdempotencyKey, references References, metadata MetadataJSON, createdAt time.Time) (TransactionInput, error) {
	if accountID.value == "" {
		return TransactionInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := ParseTransactionKind(string(kind)); err != nil {
		return TransactionInput{}, err
	}
	if amount == 0 {
		return TransactionInput{}, fmt.Errorf("%w: zero amount", ErrInvalidTransaction)
	}
	if kind == KindUsage && amount > 0 {
		return TransactionInput{}, fmt.Errorf("%w: usage must be negative", ErrInvalidTransaction)
	}
	if kind != KindUsage && amount < 0 {
		return TransactionInput{}, fmt.Errorf("%w: %s must be positive", ErrInvalidTransaction, kind)
	}
	if kind.requiresJob() && (jobID == nil || jobID.value == "") {
		return TransactionInput{}, fmt.Errorf("%w: %s requires a job id", ErrInvalidTransaction, kind)
	}
	if idempotencyKey != nil && idempotencyKey.value == "" {
		return TransactionInput{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	if createdAt.IsZero() {
		return TransactionInput{}, fmt.Errorf("%w: missing creation time", ErrInvalidTransaction)
	}
	if jobID != nil {
		description = FormatJobDescription(description, *jobID)
		if len(description.value) > maxDescriptionLength {
			return TransactionInput{}, fmt.Errorf("%w: longer than %d bytes with job marker", ErrInvalidDescription, maxDescriptionLength)
		}
	}
	return TransactionInput{
		accountID:      accountID,
		kind:           kind,
		amount:         amount,
		description:    description,
		jobID:          jobID,
		idempotencyKey: idempotencyKey,
		references:     references,
		metadata:       metadata,
		createdAt:      createdAt.UTC(),
	}, nil
}

func (input TransactionInput) AccountID() AccountID {
	return input.accountID
}

func (input TransactionInput) Kind() TransactionKind {
	return input.kind
}

func (input TransactionInput) Amount() SignedCredits {
	return input.amount
}

func (input TransactionInput) Description() Description {
	return input.description
}

func (input TransactionInput) JobID() (JobID, bool) {
	if input.jobID == nil {
		return JobID{}, false
	}
	return *input.jobID, true
}

func (input TransactionInput) IdempotencyKey() (IdempotencyKey, bool) {
	if input.idempotencyKey == nil {
		return IdempotencyKey{}, false
	}
	return *input.idempotencyKey, true
}

func (input TransactionInput) References() References {
	return input.references
}

func (input TransactionInput) Metadata() MetadataJSON {
	return input.metadata
}

func (input TransactionInput) CreatedAt() time.Time {
	return input.createdAt
}

// Transaction is a single immutable line in the ledger.
type Transaction struct {
	transactionID  TransactionID
	accountID      AccountID
	kind           TransactionKind
	amount         SignedCredits
	description    Description
	jobID          *JobID
	idempotencyKey *IdempotencyKey
	references     References
	metadata       MetadataJSON
	createdAt      time.Time
}

// NewTransaction rebuilds a stored transaction from a validated input and its id.
func NewTransaction(transactionID TransactionID, input TransactionInput) (Transaction, error) {
	if transactionID.value == "" {
		return Transaction{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return Transaction{
		transactionID:  transactionID,
		accountID:      input.accountID,
		kind:           input.kind,
		amount:         input.amount,
		description:    input.description,
		jobID:          input.jobID,
		idempotencyKey: input.idempotencyKey,
		references:     input.references,
		metadata:       input.metadata,
		createdAt:      input.createdAt,
	}, nil
}

// StoredTransaction is a persisted row as read back by a Store.
type StoredTransaction struct {
	TransactionID  string
	AccountID      string
	Kind           string
	Amount         int64
	Description    string
	JobID          string
	IdempotencyKey string
	VideoID        string
	SubscriptionID string
	Metadata       string
	CreatedAt      time.Time
}

// RestoreTransaction rebuilds a persisted row. Write-time rules (job association,
// length limits) are not reapplied so rows written by older releases stay readable.
func RestoreTransaction(row StoredTransaction) (Transaction, error) {
	transactionID, err := NewTransactionID(row.TransactionID)
	if err != nil {
		return Transaction{}, err
	}
	accountID, err := NewAccountID(row.AccountID)
	if err != nil {
		return Transaction{}, err
	}
	kind, err := ParseTransactionKind(row.Kind)
	if err != nil {
		return Transaction{}, err
	}
	transaction := Transaction{
		transactionID: transactionID,
		accountID:     accountID,
		kind:          kind,
		amount:        SignedCredits(row.Amount),
		description:   Description{value: row.Description},
		references:    References{videoID: strings.TrimSpace(row.VideoID), subscriptionID: strings.TrimSpace(row.SubscriptionID)},
		metadata:      MetadataJSON{value: strings.TrimSpace(row.Metadata)},
		createdAt:     row.CreatedAt.UTC(),
	}
	if jobID := strings.TrimSpace(row.JobID); jobID != "" {
		transaction.jobID = &JobID{value: jobID}
	}
	if idempotencyKey := strings.TrimSpace(row.IdempotencyKey); idempotencyKey != "" {
		transaction.idempotencyKey = &IdempotencyKey{value: idempotencyKey}
	}
	return transaction, nil
}

func (transaction Transaction) TransactionID() TransactionID {
	return transaction.transactionID
}

func (transaction Transaction) AccountID() AccountID {
	return transaction.accountID
}

func (transaction Transaction) Kind() TransactionKind {
	return transaction.kind
}

func (transaction Transaction) Amount() SignedCredits {
	return transaction.amount
}

func (transaction Transaction) Description() Description {
	return transaction.description
}

func (transaction Transaction) JobID() (JobID, bool) {
	if transaction.jobID == nil {
		return JobID{}, false
	}
	return *transaction.jobID, true
}

func (transaction Transaction) IdempotencyKey() (IdempotencyKey, bool) {
	if transaction.idempotencyKey == nil {
		return IdempotencyKey{}, false
	}
	return *transaction.idempotencyKey, true
}

func (transaction Transaction) References() References {
	return transaction.references
}

func (transaction Transaction) Metadata() MetadataJSON {
	return transaction.metadata
}

func (transaction Transaction) CreatedAt() time.Time {
	return transaction.createdAt
}

// PageRequest selects a 1-based page of the transaction history.
type PageRequest struct {
	page     int
	pageSize int
}

// NewPageRequest validates history paging parameters.
func NewPageRequest(page int, pageSize int) (PageRequest, error) {
	if page < 1 {
		return PageRequest{}, fmt.Errorf("%w: must be at least 1", ErrInvalidPage)
	}
	if pageSize < 1 || pageSize > MaxHistoryPageSize {
		return PageRequest{}, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidPageSize, MaxHistoryPageSize)
	}
	return PageRequest{page: page, pageSize: pageSize}, nil
}

func (request PageRequest) Page() int {
	return request.page
}

func (request PageRequest) PageSize() int {
	return request.pageSize
}

// Offset returns the number of rows preceding the page.
func (request PageRequest) Offset() int {
	return (request.page - 1) * request.pageSize
}

// Balance view for an account.
type Balance struct {
	Credits Credits
}

// DeductionResult reports the usage transaction written by Deduct.
type DeductionResult struct {
	TransactionID TransactionID
	Balance       Credits
}

// RefundResult reports the refund transaction for a job; AlreadyProcessed marks an earlier refund.
type RefundResult struct {
	TransactionID    TransactionID
	Balance          Credits
	AlreadyProcessed bool
}

// GrantResult reports the purchase or subscription transaction written by Grant.
type GrantResult struct {
	TransactionID    TransactionID
	Balance          Credits
	AlreadyProcessed bool
}

// HistoryItem is a display-normalized transaction.
type HistoryItem struct {
	TransactionID TransactionID
	Kind          TransactionKind
	Amount        Credits
	IsCredit      bool
	Description   Description
	JobID         string
	References    References
	CreatedAt     time.Time
}

// Pagination describes the page returned by GetHistory.
type Pagination struct {
	Page       int
	PageSize   int
	TotalCount int64
	TotalPages int
}

// History is one page of an account's transactions, newest first.
type History struct {
	Items      []HistoryItem
	Pagination Pagination
}

// NewHistoryItem converts a signed transaction into the absolute amount plus direction flag used by the UI.
func NewHistoryItem(transaction Transaction) HistoryItem {
	jobID, _ := transaction.JobID()
	return HistoryItem{
		TransactionID: transaction.transactionID,
		Kind:          transaction.kind,
		Amount:        transaction.amount.Magnitude(),
		IsCredit:      transaction.amount > 0,
		Description:   transaction.description,
		JobID:         jobID.String(),
		References:    transaction.references,
		CreatedAt:     transaction.createdAt,
	}
}

// Store is the persistence contract used by Service.
// AdjustBalance must apply the delta atomically and refuse to drive the balance negative.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	EnsureAccount(ctx context.Context, accountID AccountID) error
	AdjustBalance(ctx context.Context, accountID AccountID, delta SignedCredits) (Credits, error)
	ReadBalance(ctx context.Context, accountID AccountID) (Credits, error)
	AppendTransaction(ctx context.Context, input TransactionInput) (TransactionID, error)
	ListTransactions(ctx context.Context, accountID AccountID, page PageRequest) ([]Transaction, int64, error)
	FindTransactionByJob(ctx context.Context, accountID AccountID, kind TransactionKind, jobID JobID) (Transaction, bool, error)
	SumJobTransactions(ctx context.Context, accountID AccountID, kind TransactionKind, jobID JobID) (SignedCredits, error)
	FindTransactionByIdempotencyKey(ctx context.Context, accountID AccountID, idempotencyKey IdempotencyKey) (Transaction, bool, error)
	SumTransactions(ctx context.Context, accountID AccountID) (SignedCredits, error)
}
