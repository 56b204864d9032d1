package refundqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/videocredits/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"
)

const (
	// QueueName is the River queue that carries failed-job refunds.
	QueueName = "credit_refunds"

	refundJobKind     = "credit_refund"
	refundMaxAttempts = 25
	refundJobMetadata = `{"source":"refund_queue"}`
)

var ErrQueueConfig = errors.New("invalid refund queue config")

// RefundArgs identifies the job whose usage must be refunded.
type RefundArgs struct {
	AccountID   string `json:"account_id"`
	JobID       string `json:"job_id"`
	Description string `json:"description,omitempty"`
}

func (RefundArgs) Kind() string { return refundJobKind }

// InsertOpts deduplicates pending refunds for the same job.
func (RefundArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueName,
		MaxAttempts: refundMaxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// Refunder is the ledger operation the worker drives.
type Refunder interface {
	RefundFailedJob(ctx context.Context, accountID ledger.AccountID, jobID ledger.JobID, description ledger.Description, metadata ledger.MetadataJSON) (ledger.RefundResult, error)
}

// Worker applies queued refunds; ledger idempotency makes retries safe.
type Worker struct {
	river.WorkerDefaults[RefundArgs]
	refunder Refunder
	logger   *zap.Logger
}

func NewWorker(refunder Refunder, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{refunder: refunder, logger: logger}
}

// Work cancels jobs that can never succeed and returns other errors so River retries them.
func (worker *Worker) Work(ctx context.Context, job *river.Job[RefundArgs]) error {
	accountID, jobID, description, err := job.Args.parse()
	if err != nil {
		worker.logger.Warn("refund job has invalid args", zap.Int64("river_job_id", job.ID), zap.Error(err))
		return river.JobCancel(err)
	}
	metadata, err := ledger.NewMetadataJSON(refundJobMetadata)
	if err != nil {
		return river.JobCancel(err)
	}
	result, err := worker.refunder.RefundFailedJob(ctx, accountID, jobID, description, metadata)
	if err != nil {
		if isPermanent(err) {
			worker.logger.Warn("refund job cancelled",
				zap.Int64("river_job_id", job.ID),
				zap.String("account_id", accountID.String()),
				zap.String("job_id", jobID.String()),
				zap.Error(err))
			return river.JobCancel(err)
		}
		worker.logger.Error("refund job failed",
			zap.Int64("river_job_id", job.ID),
			zap.Int("attempt", job.Attempt),
			zap.String("account_id", accountID.String()),
			zap.String("job_id", jobID.String()),
			zap.Error(err))
		return err
	}
	worker.logger.Info("refund job applied",
		zap.Int64("river_job_id", job.ID),
		zap.String("account_id", accountID.String()),
		zap.String("job_id", jobID.String()),
		zap.String("transaction_id", result.TransactionID.String()),
		zap.Bool("already_processed", result.AlreadyProcessed))
	return nil
}

func (args RefundArgs) parse() (ledger.AccountID, ledger.JobID, ledger.Description, error) {
	accountID, err := ledger.NewAccountID(args.AccountID)
	if err != nil {
		return ledger.AccountID{}, ledger.JobID{}, ledger.Description{}, err
	}
	jobID, err := ledger.NewJobID(args.JobID)
	if err != nil {
		return ledger.AccountID{}, ledger.JobID{}, ledger.Description{}, err
	}
	description, err := ledger.NewDescription(args.Description)
	if err != nil {
		return ledger.AccountID{}, ledger.JobID{}, ledger.Description{}, err
	}
	return accountID, jobID, description, nil
}

func isPermanent(err error) bool {
	return ledger.IsValidationError(err) || errors.Is(err, ledger.ErrNotFound)
}

type jobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Config sizes the refund worker pool; zero workers yields an insert-only queue.
type Config struct {
	MaxWorkers int
}

// Queue enqueues refunds and, when workers are configured, processes them.
type Queue struct {
	client   *river.Client[pgx.Tx]
	inserter jobInserter
	working  bool
	logger   *zap.Logger
}

// New builds a River client over pool.
func New(pool *pgxpool.Pool, refunder Refunder, config Config, logger *zap.Logger) (*Queue, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pool is nil", ErrQueueConfig)
	}
	if config.MaxWorkers < 0 {
		return nil, fmt.Errorf("%w: max workers must not be negative", ErrQueueConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	riverConfig := &river.Config{}
	if config.MaxWorkers > 0 {
		if refunder == nil {
			return nil, fmt.Errorf("%w: refunder is nil", ErrQueueConfig)
		}
		workers := river.NewWorkers()
		river.AddWorker(workers, NewWorker(refunder, logger.Named("refund_worker")))
		riverConfig.Workers = workers
		riverConfig.Queues = map[string]river.QueueConfig{
			QueueName: {MaxWorkers: config.MaxWorkers},
		}
	}
	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		return nil, fmt.Errorf("river client: %w", err)
	}
	return &Queue{client: client, inserter: client, working: config.MaxWorkers > 0, logger: logger}, nil
}

// Start begins working jobs; it is a no-op for insert-only queues.
func (queue *Queue) Start(ctx context.Context) error {
	if queue.client == nil || !queue.working {
		return nil
	}
	return queue.client.Start(ctx)
}

// Stop waits for running jobs to finish.
func (queue *Queue) Stop(ctx context.Context) error {
	if queue.client == nil || !queue.working {
		return nil
	}
	return queue.client.Stop(ctx)
}

// EnqueueRefund schedules RefundFailedJob for the job; duplicates of a pending refund are skipped.
func (queue *Queue) EnqueueRefund(ctx context.Context, accountID ledger.AccountID, jobID ledger.JobID, description ledger.Description) error {
	args := RefundArgs{AccountID: accountID.String(), JobID: jobID.String(), Description: description.String()}
	result, err := queue.inserter.Insert(ctx, args, nil)
	if err != nil {
		return ledger.WrapStorageError("refund_queue", "insert", err)
	}
	if result != nil && result.UniqueSkippedAsDuplicate {
		queue.logger.Info("refund already queued", zap.String("account_id", args.AccountID), zap.String("job_id", args.JobID))
	}
	return nil
}

// Migrate applies River's schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	return nil
}
