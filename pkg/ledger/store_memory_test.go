package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type storeFailures struct {
	ensureError     error
	adjustError     error
	readError       error
	appendError     error
	listError       error
	findJobError    error
	findKeyError    error
	sumError        error
	sumSkew         int64
	hiddenJobLookup atomic.Int32
}

type memoryState struct {
	balances     map[string]int64
	transactions []Transaction
	nextID       int
}

func (state *memoryState) clone() *memoryState {
	balances := make(map[string]int64, len(state.balances))
	for accountID, credits := range state.balances {
		balances[accountID] = credits
	}
	transactions := make([]Transaction, len(state.transactions))
	copy(transactions, state.transactions)
	return &memoryState{balances: balances, transactions: transactions, nextID: state.nextID}
}

// memoryStore serializes transactions with one mutex and restores a snapshot on rollback.
type memoryStore struct {
	mutex    *sync.Mutex
	state    **memoryState
	inTx     bool
	failures *storeFailures
}

func newMemoryStore(test *testing.T) *memoryStore {
	test.Helper()
	state := &memoryState{balances: map[string]int64{}}
	return &memoryStore{mutex: &sync.Mutex{}, state: &state, failures: &storeFailures{}}
}

func (store *memoryStore) guard() func() {
	if store.inTx {
		return func() {}
	}
	store.mutex.Lock()
	return store.mutex.Unlock
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	snapshot := (*store.state).clone()
	transactionStore := &memoryStore{mutex: store.mutex, state: store.state, inTx: true, failures: store.failures}
	if err := fn(ctx, transactionStore); err != nil {
		*store.state = snapshot
		return err
	}
	return nil
}

func (store *memoryStore) EnsureAccount(_ context.Context, accountID AccountID) error {
	defer store.guard()()
	if store.failures.ensureError != nil {
		return store.failures.ensureError
	}
	state := *store.state
	if _, ok := state.balances[accountID.String()]; !ok {
		state.balances[accountID.String()] = 0
	}
	return nil
}

func (store *memoryStore) AdjustBalance(_ context.Context, accountID AccountID, delta SignedCredits) (Credits, error) {
	defer store.guard()()
	if store.failures.adjustError != nil {
		return 0, store.failures.adjustError
	}
	state := *store.state
	credits, ok := state.balances[accountID.String()]
	if !ok {
		return 0, ErrAccountNotFound
	}
	if credits+delta.Int64() < 0 {
		return 0, ErrInsufficientCredits
	}
	state.balances[accountID.String()] = credits + delta.Int64()
	return Credits(credits + delta.Int64()), nil
}

func (store *memoryStore) ReadBalance(_ context.Context, accountID AccountID) (Credits, error) {
	defer store.guard()()
	if store.failures.readError != nil {
		return 0, store.failures.readError
	}
	credits, ok := (*store.state).balances[accountID.String()]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return Credits(credits), nil
}

func (store *memoryStore) AppendTransaction(_ context.Context, input TransactionInput) (TransactionID, error) {
	defer store.guard()()
	if store.failures.appendError != nil {
		return TransactionID{}, store.failures.appendError
	}
	state := *store.state
	if _, ok := state.balances[input.AccountID().String()]; !ok {
		return TransactionID{}, ErrAccountNotFound
	}
	if key, ok := input.IdempotencyKey(); ok {
		for _, transaction := range state.transactions {
			existingKey, hasKey := transaction.IdempotencyKey()
			if hasKey && existingKey == key && transaction.AccountID() == input.AccountID() {
				return TransactionID{}, ErrDuplicateIdempotencyKey
			}
		}
	}
	state.nextID++
	transactionID := TransactionID{value: fmt.Sprintf("txn-%d", state.nextID)}
	transaction, err := NewTransaction(transactionID, input)
	if err != nil {
		return TransactionID{}, err
	}
	state.transactions = append(state.transactions, transaction)
	return transactionID, nil
}

func (store *memoryStore) ListTransactions(_ context.Context, accountID AccountID, page PageRequest) ([]Transaction, int64, error) {
	defer store.guard()()
	if store.failures.listError != nil {
		return nil, 0, store.failures.listError
	}
	var newestFirst []Transaction
	transactions := (*store.state).transactions
	for index := len(transactions) - 1; index >= 0; index-- {
		if transactions[index].AccountID() == accountID {
			newestFirst = append(newestFirst, transactions[index])
		}
	}
	total := int64(len(newestFirst))
	start := page.Offset()
	if start >= len(newestFirst) {
		return []Transaction{}, total, nil
	}
	end := start + page.PageSize()
	if end > len(newestFirst) {
		end = len(newestFirst)
	}
	return newestFirst[start:end], total, nil
}

func (store *memoryStore) FindTransactionByJob(_ context.Context, accountID AccountID, kind TransactionKind, jobID JobID) (Transaction, bool, error) {
	defer store.guard()()
	if store.failures.findJobError != nil {
		return Transaction{}, false, store.failures.findJobError
	}
	if store.failures.hiddenJobLookup.Load() > 0 {
		store.failures.hiddenJobLookup.Add(-1)
		return Transaction{}, false, nil
	}
	transactions := (*store.state).transactions
	for index := len(transactions) - 1; index >= 0; index-- {
		transaction := transactions[index]
		transactionJobID, hasJob := transaction.JobID()
		if transaction.AccountID() == accountID && transaction.Kind() == kind && hasJob && transactionJobID == jobID {
			return transaction, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (store *memoryStore) FindTransactionByIdempotencyKey(_ context.Context, accountID AccountID, idempotencyKey IdempotencyKey) (Transaction, bool, error) {
	defer store.guard()()
	if store.failures.findKeyError != nil {
		return Transaction{}, false, store.failures.findKeyError
	}
	for _, transaction := range (*store.state).transactions {
		key, hasKey := transaction.IdempotencyKey()
		if transaction.AccountID() == accountID && hasKey && key == idempotencyKey {
			return transaction, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (store *memoryStore) SumTransactions(_ context.Context, accountID AccountID) (SignedCredits, error) {
	defer store.guard()()
	if store.failures.sumError != nil {
		return 0, store.failures.sumError
	}
	var sum int64
	for _, transaction := range (*store.state).transactions {
		if transaction.AccountID() == accountID {
			sum += transaction.Amount().Int64()
		}
	}
	return SignedCredits(sum + store.failures.sumSkew), nil
}

func (store *memoryStore) SumJobTransactions(_ context.Context, accountID AccountID, kind TransactionKind, jobID JobID) (SignedCredits, error) {
	defer store.guard()()
	if store.failures.sumError != nil {
		return 0, store.failures.sumError
	}
	var sum int64
	for _, transaction := range (*store.state).transactions {
		transactionJobID, hasJob := transaction.JobID()
		if transaction.AccountID() == accountID && transaction.Kind() == kind && hasJob && transactionJobID == jobID {
			sum += transaction.Amount().Int64()
		}
	}
	return SignedCredits(sum), nil
}

func (store *memoryStore) countKind(accountID AccountID, kind TransactionKind) int {
	defer store.guard()()
	count := 0
	for _, transaction := range (*store.state).transactions {
		if transaction.AccountID() == accountID && transaction.Kind() == kind {
			count++
		}
	}
	return count
}

type stepClock struct {
	base  time.Time
	ticks atomic.Int64
}

func newStepClock() *stepClock {
	return &stepClock{base: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (clock *stepClock) Now() time.Time {
	return clock.base.Add(time.Duration(clock.ticks.Add(1)) * time.Millisecond)
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, newStepClock().Now, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	accountID, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accountID
}

func mustJobID(test *testing.T, raw string) JobID {
	test.Helper()
	jobID, err := NewJobID(raw)
	if err != nil {
		test.Fatalf("job id: %v", err)
	}
	return jobID
}

func mustPositiveCredits(test *testing.T, raw int64) PositiveCredits {
	test.Helper()
	amount, err := NewPositiveCredits(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustDescription(test *testing.T, raw string) Description {
	test.Helper()
	description, err := NewDescription(raw)
	if err != nil {
		test.Fatalf("description: %v", err)
	}
	return description
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func mustPageRequest(test *testing.T, page int, pageSize int) PageRequest {
	test.Helper()
	request, err := NewPageRequest(page, pageSize)
	if err != nil {
		test.Fatalf("page request: %v", err)
	}
	return request
}

// mustFundedAccount opens an account through a purchase grant.
func mustFundedAccount(test *testing.T, service *Service, raw string, credits int64) AccountID {
	test.Helper()
	accountID := mustAccountID(test, raw)
	_, err := service.Grant(
		context.Background(),
		accountID,
		KindPurchase,
		mustPositiveCredits(test, credits),
		mustDescription(test, "Credit pack"),
		mustIdempotencyKey(test, "evt-"+raw),
		References{},
		mustMetadata(test, ""),
	)
	if err != nil {
		test.Fatalf("fund account: %v", err)
	}
	return accountID
}
