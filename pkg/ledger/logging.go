package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a ledger operation and its outcome.
type OperationLog struct {
	Operation      string
	AccountID      AccountID
	JobID          *JobID
	Kind           TransactionKind
	Amount         Credits
	IdempotencyKey IdempotencyKey
	TransactionID  TransactionID
	Balance        Credits
	Metadata       MetadataJSON
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithConsistencyCheck verifies the cached balance against the transaction log
// inside every mutation and aborts the mutation on divergence.
func WithConsistencyCheck() ServiceOption {
	return func(service *Service) {
		service.verifyMutations = true
	}
}
