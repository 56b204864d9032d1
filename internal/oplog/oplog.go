package oplog

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/videocredits/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	messageOperation       = "ledger operation"
	messageRejected        = "ledger operation rejected"
	messageStorageFailure  = "ledger storage failure"
	messageBalanceDiverged = "ledger balance diverged from transaction log"

	statusAlreadyProcessed = "already_processed"
)

// Logger forwards ledger operation callbacks to zap.
type Logger struct {
	logger *zap.Logger
}

// New returns a ledger.OperationLogger writing to logger; nil yields a no-op logger.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *Logger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := entryFields(entry)
	switch level, message := classify(entry); level {
	case zapcore.ErrorLevel:
		operationLogger.logger.Error(message, fields...)
	case zapcore.WarnLevel:
		operationLogger.logger.Warn(message, fields...)
	default:
		operationLogger.logger.Info(message, fields...)
	}
}

func classify(entry ledger.OperationLog) (zapcore.Level, string) {
	switch {
	case entry.Error == nil && entry.Status == statusAlreadyProcessed:
		return zapcore.WarnLevel, messageOperation
	case entry.Error == nil:
		return zapcore.InfoLevel, messageOperation
	case errors.Is(entry.Error, ledger.ErrConsistencyViolation):
		return zapcore.ErrorLevel, messageBalanceDiverged
	case errors.Is(entry.Error, ledger.ErrStorage):
		return zapcore.ErrorLevel, messageStorageFailure
	default:
		return zapcore.WarnLevel, messageRejected
	}
}

func entryFields(entry ledger.OperationLog) []zap.Field {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("account_id", entry.AccountID.String()),
	}
	if entry.JobID != nil {
		fields = append(fields, zap.String("job_id", entry.JobID.String()))
	}
	if entry.Kind != "" {
		fields = append(fields, zap.String("kind", entry.Kind.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
	}
	if key := entry.IdempotencyKey.String(); key != "" {
		fields = append(fields, zap.String("idempotency_key", key))
	}
	if transactionID := entry.TransactionID.String(); transactionID != "" {
		fields = append(fields, zap.String("transaction_id", transactionID))
	}
	fields = append(fields, zap.Int64("balance", entry.Balance.Int64()))
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		if errors.Is(entry.Error, ledger.ErrConsistencyViolation) {
			fields = append(fields, zap.Bool("alert", true))
		}
	}
	return fields
}
