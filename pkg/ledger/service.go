package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service contains the domain logic over a Store.
type Service struct {
	store           Store
	nowFn           func() time.Time
	logger          OperationLogger
	verifyMutations bool
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// OpenAccount creates the account with zero credits if it does not exist yet.
func (service *Service) OpenAccount(ctx context.Context, accountID AccountID) (Balance, error) {
	var balance Balance
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.EnsureAccount(ctx, accountID); err != nil {
			return err
		}
		credits, err := transactionStore.ReadBalance(ctx, accountID)
		if err != nil {
			return err
		}
		balance = Balance{Credits: credits}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationOpenAccount,
		AccountID: accountID,
		Balance:   balance.Credits,
		Error:     operationError,
	})
	if operationError != nil {
		return Balance{}, operationError
	}
	return balance, nil
}

// Deduct charges credits for a starting job: a conditional decrement plus a usage transaction, atomically.
// Deductions are not deduplicated per job.
func (service *Service) Deduct(ctx context.Context, accountID AccountID, amount PositiveCredits, description Description, jobID JobID, references References, metadata MetadataJSON) (DeductionResult, error) {
	var result DeductionResult
	input, operationError := NewTransactionInput(accountID, KindUsage, amount.ToSigned().Negated(), description, &jobID, nil, references, metadata, service.nowFn())
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			balance, err := transactionStore.AdjustBalance(ctx, accountID, input.Amount())
			if err != nil {
				return err
			}
			transactionID, err := transactionStore.AppendTransaction(ctx, input)
			if err != nil {
				return err
			}
			if err := service.verifyWithin(ctx, transactionStore, accountID, balance); err != nil {
				return err
			}
			result = DeductionResult{TransactionID: transactionID, Balance: balance}
			return nil
		})
	}
	if operationError != nil {
		result = DeductionResult{}
	}
	jobRef := jobID
	service.logOperation(ctx, OperationLog{
		Operation:     operationDeduct,
		AccountID:     accountID,
		JobID:         &jobRef,
		Kind:          KindUsage,
		Amount:        amount.ToCredits(),
		TransactionID: result.TransactionID,
		Balance:       result.Balance,
		Metadata:      metadata,
		Error:         operationError,
	})
	return result, operationError
}

// Refund returns credits for a failed job exactly once; repeated calls report AlreadyProcessed.
func (service *Service) Refund(ctx context.Context, accountID AccountID, amount PositiveCredits, description Description, jobID JobID, references References, metadata MetadataJSON) (RefundResult, error) {
	result, operationError := service.refund(ctx, accountID, amount, description, jobID, references, metadata)
	service.logRefund(ctx, operationRefund, accountID, jobID, amount.ToCredits(), metadata, result, operationError)
	return result, operationError
}

// RefundFailedJob refunds the total charged by every usage transaction of the job.
// The refund carries the references of the newest usage.
func (service *Service) RefundFailedJob(ctx context.Context, accountID AccountID, jobID JobID, description Description, metadata MetadataJSON) (RefundResult, error) {
	var (
		result  RefundResult
		amount  PositiveCredits
		charged SignedCredits
	)
	usage, found, operationError := service.store.FindTransactionByJob(ctx, accountID, KindUsage, jobID)
	if operationError == nil && !found {
		operationError = fmt.Errorf("%w: no usage for job %s", ErrTransactionNotFound, jobID.String())
	}
	if operationError == nil {
		charged, operationError = service.store.SumJobTransactions(ctx, accountID, KindUsage, jobID)
	}
	if operationError == nil {
		amount, operationError = NewPositiveCredits(charged.Magnitude().Int64())
	}
	if operationError == nil {
		result, operationError = service.refund(ctx, accountID, amount, description, jobID, usage.References(), metadata)
	}
	service.logRefund(ctx, operationRefundFailedJob, accountID, jobID, amount.ToCredits(), metadata, result, operationError)
	return result, operationError
}

// Grant adds purchased or subscription credits, opening the account when needed.
// The idempotency key (e.g. the payment event id) makes webhook retries safe.
func (service *Service) Grant(ctx context.Context, accountID AccountID, kind TransactionKind, amount PositiveCredits, description Description, idempotencyKey IdempotencyKey, references References, metadata MetadataJSON) (GrantResult, error) {
	var result GrantResult
	var operationError error
	if !kind.IsGrant() {
		operationError = fmt.Errorf("%w: %s is not a grant", ErrInvalidTransactionKind, kind)
	}
	scopedKey := grantIdempotencyKey(kind, idempotencyKey)
	var input TransactionInput
	if operationError == nil {
		input, operationError = NewTransactionInput(accountID, kind, amount.ToSigned(), description, nil, &scopedKey, references, metadata, service.nowFn())
	}
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if err := transactionStore.EnsureAccount(ctx, accountID); err != nil {
				return err
			}
			existing, found, err := transactionStore.FindTransactionByIdempotencyKey(ctx, accountID, scopedKey)
			if err != nil {
				return err
			}
			if found {
				result, err = alreadyGranted(ctx, transactionStore, accountID, existing)
				return err
			}
			balance, err := transactionStore.AdjustBalance(ctx, accountID, input.Amount())
			if err != nil {
				return err
			}
			transactionID, err := transactionStore.AppendTransaction(ctx, input)
			if err != nil {
				return err
			}
			if err := service.verifyWithin(ctx, transactionStore, accountID, balance); err != nil {
				return err
			}
			result = GrantResult{TransactionID: transactionID, Balance: balance}
			return nil
		})
	}
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		result, operationError = service.resolveConcurrentGrant(ctx, accountID, scopedKey)
	}
	if operationError != nil {
		result = GrantResult{}
	}
	logEntry := OperationLog{
		Operation:      operationGrant,
		AccountID:      accountID,
		Kind:           kind,
		Amount:         amount.ToCredits(),
		IdempotencyKey: scopedKey,
		TransactionID:  result.TransactionID,
		Balance:        result.Balance,
		Metadata:       metadata,
		Error:          operationError,
	}
	if result.AlreadyProcessed {
		logEntry.Status = operationStatusAlreadyProcessed
	}
	service.logOperation(ctx, logEntry)
	return result, operationError
}

func (service *Service) refund(ctx context.Context, accountID AccountID, amount PositiveCredits, description Description, jobID JobID, references References, metadata MetadataJSON) (RefundResult, error) {
	idempotencyKey := refundIdempotencyKey(jobID)
	input, err := NewTransactionInput(accountID, KindRefund, amount.ToSigned(), description, &jobID, &idempotencyKey, references, metadata, service.nowFn())
	if err != nil {
		return RefundResult{}, err
	}
	var result RefundResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		existing, found, err := transactionStore.FindTransactionByJob(ctx, accountID, KindRefund, jobID)
		if err != nil {
			return err
		}
		if found {
			result, err = alreadyRefunded(ctx, transactionStore, accountID, existing)
			return err
		}
		balance, err := transactionStore.AdjustBalance(ctx, accountID, input.Amount())
		if err != nil {
			return err
		}
		transactionID, err := transactionStore.AppendTransaction(ctx, input)
		if err != nil {
			return err
		}
		if err := service.verifyWithin(ctx, transactionStore, accountID, balance); err != nil {
			return err
		}
		result = RefundResult{TransactionID: transactionID, Balance: balance}
		return nil
	})
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		// A concurrent refund for the same job committed first; its insert won the unique index.
		return service.resolveConcurrentRefund(ctx, accountID, jobID)
	}
	if operationError != nil {
		return RefundResult{}, operationError
	}
	return result, nil
}

func (service *Service) resolveConcurrentRefund(ctx context.Context, accountID AccountID, jobID JobID) (RefundResult, error) {
	existing, found, err := service.store.FindTransactionByJob(ctx, accountID, KindRefund, jobID)
	if err != nil {
		return RefundResult{}, err
	}
	if !found {
		return RefundResult{}, WrapError("service", "refund", "conflict_without_refund", ErrDuplicateIdempotencyKey)
	}
	return alreadyRefunded(ctx, service.store, accountID, existing)
}

func (service *Service) resolveConcurrentGrant(ctx context.Context, accountID AccountID, idempotencyKey IdempotencyKey) (GrantResult, error) {
	existing, found, err := service.store.FindTransactionByIdempotencyKey(ctx, accountID, idempotencyKey)
	if err != nil {
		return GrantResult{}, err
	}
	if !found {
		return GrantResult{}, WrapError("service", "grant", "conflict_without_grant", ErrDuplicateIdempotencyKey)
	}
	return alreadyGranted(ctx, service.store, accountID, existing)
}

func alreadyRefunded(ctx context.Context, store Store, accountID AccountID, existing Transaction) (RefundResult, error) {
	balance, err := store.ReadBalance(ctx, accountID)
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{TransactionID: existing.TransactionID(), Balance: balance, AlreadyProcessed: true}, nil
}

func alreadyGranted(ctx context.Context, store Store, accountID AccountID, existing Transaction) (GrantResult, error) {
	balance, err := store.ReadBalance(ctx, accountID)
	if err != nil {
		return GrantResult{}, err
	}
	return GrantResult{TransactionID: existing.TransactionID(), Balance: balance, AlreadyProcessed: true}, nil
}

func (service *Service) verifyWithin(ctx context.Context, transactionStore Store, accountID AccountID, balance Credits) error {
	if !service.verifyMutations {
		return nil
	}
	sum, err := transactionStore.SumTransactions(ctx, accountID)
	if err != nil {
		return err
	}
	return checkConsistency(accountID, balance, sum)
}

func checkConsistency(accountID AccountID, balance Credits, sum SignedCredits) error {
	if balance.Int64() == sum.Int64() {
		return nil
	}
	return WrapError("service", "balance", "diverged", fmt.Errorf("%w: account %s has %d credits, log sums to %d", ErrConsistencyViolation, accountID.String(), balance.Int64(), sum.Int64()))
}

func (service *Service) logRefund(ctx context.Context, operation string, accountID AccountID, jobID JobID, amount Credits, metadata MetadataJSON, result RefundResult, operationError error) {
	jobRef := jobID
	entry := OperationLog{
		Operation:      operation,
		AccountID:      accountID,
		JobID:          &jobRef,
		Kind:           KindRefund,
		Amount:         amount,
		IdempotencyKey: refundIdempotencyKey(jobID),
		TransactionID:  result.TransactionID,
		Balance:        result.Balance,
		Metadata:       metadata,
		Error:          operationError,
	}
	if operationError == nil && result.AlreadyProcessed {
		entry.Status = operationStatusAlreadyProcessed
	}
	service.logOperation(ctx, entry)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
