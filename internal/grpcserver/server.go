package grpcserver

import (
	"context"
	"errors"

	creditsv1 "github.com/MarkoPoloResearchLab/videocredits/api/credits/v1"
	"github.com/MarkoPoloResearchLab/videocredits/pkg/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInsufficientCredits     = "insufficient_credits"
	errorAccountNotFound         = "account_not_found"
	errorTransactionNotFound     = "transaction_not_found"
	errorStorageUnavailable      = "storage_unavailable"
	errorConsistencyViolation    = "consistency_violation"
	errorDuplicateIdempotencyKey = "duplicate_idempotency_key"
	errorInvalidAccountID        = "invalid_account_id"
	errorInvalidJobID            = "invalid_job_id"
	errorInvalidIdempotencyKey   = "invalid_idempotency_key"
	errorInvalidDescription      = "invalid_description"
	errorInvalidReference        = "invalid_reference"
	errorInvalidCredits          = "invalid_credits"
	errorInvalidTransactionKind  = "invalid_transaction_kind"
	errorInvalidMetadata         = "invalid_metadata_json"
	errorInvalidPage             = "invalid_page"
	errorInvalidPageSize         = "invalid_page_size"
	errorInvalidArgument         = "invalid_argument"
	errorRefundQueueUnavailable  = "refund_queue_unavailable"
	errorInternal                = "internal"

	defaultHistoryPage     = 1
	defaultHistoryPageSize = 20
)

// RefundEnqueuer hands a failed-job refund to a durable retry queue.
type RefundEnqueuer interface {
	EnqueueRefund(ctx context.Context, accountID ledger.AccountID, jobID ledger.JobID, description ledger.Description) error
}

// ServerOption configures CreditServiceServer.
type ServerOption func(*CreditServiceServer)

// WithRefundEnqueuer enables asynchronous RefundFailedJob requests.
func WithRefundEnqueuer(enqueuer RefundEnqueuer) ServerOption {
	return func(server *CreditServiceServer) {
		server.refundEnqueuer = enqueuer
	}
}

// CreditServiceServer exposes the credit ledger over gRPC.
type CreditServiceServer struct {
	creditsv1.UnimplementedCreditServiceServer
	creditService  *ledger.Service
	refundEnqueuer RefundEnqueuer
}

// NewCreditServiceServer constructs a gRPC server for the ledger service.
func NewCreditServiceServer(creditService *ledger.Service, options ...ServerOption) *CreditServiceServer {
	server := &CreditServiceServer{creditService: creditService}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	return server
}

func (server *CreditServiceServer) OpenAccount(ctx context.Context, request *creditsv1.BalanceRequest) (*creditsv1.BalanceResponse, error) {
	accountID, err := ledger.NewAccountID(request.GetAccountId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.creditService.OpenAccount(ctx, accountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &creditsv1.BalanceResponse{AccountId: accountID.String(), Credits: balance.Credits.Int64()}, nil
}

func (server *CreditServiceServer) GetBalance(ctx context.Context, request *creditsv1.BalanceRequest) (*creditsv1.BalanceResponse, error) {
	accountID, err := ledger.NewAccountID(request.GetAccountId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.creditService.GetBalance(ctx, accountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &creditsv1.BalanceResponse{AccountId: accountID.String(), Credits: balance.Credits.Int64()}, nil
}

func (server *CreditServiceServer) GetHistory(ctx context.Context, request *creditsv1.HistoryRequest) (*creditsv1.HistoryResponse, error) {
	accountID, err := ledger.NewAccountID(request.GetAccountId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	pageRequest, err := ledger.NewPageRequest(normalizeHistoryPaging(request.GetPage(), request.GetPageSize()))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	history, err := server.creditService.GetHistory(ctx, accountID, pageRequest)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &creditsv1.HistoryResponse{
		Transactions: make([]*creditsv1.HistoryItem, 0, len(history.Items)),
		Pagination: &creditsv1.Pagination{
			Page:       int32(history.Pagination.Page),
			PageSize:   int32(history.Pagination.PageSize),
			TotalCount: history.Pagination.TotalCount,
			TotalPages: int32(history.Pagination.TotalPages),
		},
	}
	for _, item := range history.Items {
		videoID, _ := item.References.VideoID()
		subscriptionID, _ := item.References.SubscriptionID()
		response.Transactions = append(response.Transactions, &creditsv1.HistoryItem{
			TransactionId:  item.TransactionID.String(),
			Kind:           item.Kind.String(),
			Amount:         item.Amount.Int64(),
			IsCredit:       item.IsCredit,
			Description:    item.Description.String(),
			JobId:          item.JobID,
			VideoId:        videoID,
			SubscriptionId: subscriptionID,
			CreatedAt:      item.CreatedAt,
		})
	}
	return response, nil
}

func (server *CreditServiceServer) Deduct(ctx context.Context, request *creditsv1.ChargeRequest) (*creditsv1.DeductResponse, error) {
	charge, err := parseChargeRequest(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, err := server.creditService.Deduct(ctx, charge.accountID, charge.amount, charge.description, charge.jobID, charge.references, charge.metadata)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &creditsv1.DeductResponse{TransactionId: result.TransactionID.String(), Credits: result.Balance.Int64()}, nil
}

func (server *CreditServiceServer) Refund(ctx context.Context, request *creditsv1.ChargeRequest) (*creditsv1.RefundResponse, error) {
	charge, err := parseChargeRequest(request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, err := server.creditService.Refund(ctx, charge.accountID, charge.amount, charge.description, charge.jobID, charge.references, charge.metadata)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return refundResponse(result), nil
}

func (server *CreditServiceServer) RefundFailedJob(ctx context.Context, request *creditsv1.RefundFailedJobRequest) (*creditsv1.RefundResponse, error) {
	accountID, err := ledger.NewAccountID(request.GetAccountId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	jobID, err := ledger.NewJobID(request.GetJobId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	description, err := ledger.NewDescription(request.GetDescription())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := ledger.NewMetadataJSON(request.GetMetadataJson())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if request.GetAsync() {
		if server.refundEnqueuer == nil {
			return nil, status.Error(codes.FailedPrecondition, errorRefundQueueUnavailable)
		}
		if err := server.refundEnqueuer.EnqueueRefund(ctx, accountID, jobID, description); err != nil {
			return nil, mapToGRPCError(err)
		}
		return &creditsv1.RefundResponse{Queued: true}, nil
	}
	result, err := server.creditService.RefundFailedJob(ctx, accountID, jobID, description, metadata)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return refundResponse(result), nil
}

func (server *CreditServiceServer) Grant(ctx context.Context, request *creditsv1.GrantRequest) (*creditsv1.GrantResponse, error) {
	accountID, err := ledger.NewAccountID(request.GetAccountId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	kind, err := ledger.ParseTransactionKind(request.GetKind())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := ledger.NewPositiveCredits(request.GetAmount())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	description, err := ledger.NewDescription(request.GetDescription())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(request.GetIdempotencyKey())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	references, err := ledger.NewReferences(request.GetVideoId(), request.GetSubscriptionId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := ledger.NewMetadataJSON(request.GetMetadataJson())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, err := server.creditService.Grant(ctx, accountID, kind, amount, description, idempotencyKey, references, metadata)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &creditsv1.GrantResponse{
		TransactionId:    result.TransactionID.String(),
		Credits:          result.Balance.Int64(),
		AlreadyProcessed: result.AlreadyProcessed,
	}, nil
}

func (server *CreditServiceServer) FindUsage(ctx context.Context, request *creditsv1.JobTransactionRequest) (*creditsv1.JobTransactionResponse, error) {
	return server.findJobTransaction(ctx, request, server.creditService.FindUsage)
}

func (server *CreditServiceServer) FindRefund(ctx context.Context, request *creditsv1.JobTransactionRequest) (*creditsv1.JobTransactionResponse, error) {
	return server.findJobTransaction(ctx, request, server.creditService.FindRefund)
}

func (server *CreditServiceServer) VerifyAccount(ctx context.Context, request *creditsv1.BalanceRequest) (*creditsv1.BalanceResponse, error) {
	accountID, err := ledger.NewAccountID(request.GetAccountId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.creditService.VerifyAccount(ctx, accountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &creditsv1.BalanceResponse{AccountId: accountID.String(), Credits: balance.Credits.Int64()}, nil
}

type jobLookup func(ctx context.Context, accountID ledger.AccountID, jobID ledger.JobID) (ledger.Transaction, bool, error)

func (server *CreditServiceServer) findJobTransaction(ctx context.Context, request *creditsv1.JobTransactionRequest, lookup jobLookup) (*creditsv1.JobTransactionResponse, error) {
	accountID, err := ledger.NewAccountID(request.GetAccountId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	jobID, err := ledger.NewJobID(request.GetJobId())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, found, err := lookup(ctx, accountID, jobID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if !found {
		return &creditsv1.JobTransactionResponse{}, nil
	}
	return &creditsv1.JobTransactionResponse{Found: true, Transaction: transactionMessage(transaction)}, nil
}

type chargeFields struct {
	accountID   ledger.AccountID
	amount      ledger.PositiveCredits
	description ledger.Description
	jobID       ledger.JobID
	references  ledger.References
	metadata    ledger.MetadataJSON
}

func parseChargeRequest(request *creditsv1.ChargeRequest) (chargeFields, error) {
	accountID, err := ledger.NewAccountID(request.GetAccountId())
	if err != nil {
		return chargeFields{}, err
	}
	amount, err := ledger.NewPositiveCredits(request.GetAmount())
	if err != nil {
		return chargeFields{}, err
	}
	description, err := ledger.NewDescription(request.GetDescription())
	if err != nil {
		return chargeFields{}, err
	}
	jobID, err := ledger.NewJobID(request.GetJobId())
	if err != nil {
		return chargeFields{}, err
	}
	references, err := ledger.NewReferences(request.GetVideoId(), request.GetSubscriptionId())
	if err != nil {
		return chargeFields{}, err
	}
	metadata, err := ledger.NewMetadataJSON(request.GetMetadataJson())
	if err != nil {
		return chargeFields{}, err
	}
	return chargeFields{
		accountID:   accountID,
		amount:      amount,
		description: description,
		jobID:       jobID,
		references:  references,
		metadata:    metadata,
	}, nil
}

func refundResponse(result ledger.RefundResult) *creditsv1.RefundResponse {
	return &creditsv1.RefundResponse{
		TransactionId:    result.TransactionID.String(),
		Credits:          result.Balance.Int64(),
		AlreadyProcessed: result.AlreadyProcessed,
	}
}

func transactionMessage(transaction ledger.Transaction) *creditsv1.Transaction {
	jobID, _ := transaction.JobID()
	idempotencyKey, _ := transaction.IdempotencyKey()
	videoID, _ := transaction.References().VideoID()
	subscriptionID, _ := transaction.References().SubscriptionID()
	return &creditsv1.Transaction{
		TransactionId:  transaction.TransactionID().String(),
		AccountId:      transaction.AccountID().String(),
		Kind:           transaction.Kind().String(),
		Amount:         transaction.Amount().Int64(),
		Description:    transaction.Description().String(),
		JobId:          jobID.String(),
		IdempotencyKey: idempotencyKey.String(),
		VideoId:        videoID,
		SubscriptionId: subscriptionID,
		MetadataJson:   transaction.Metadata().String(),
		CreatedAt:      transaction.CreatedAt(),
	}
}

// normalizeHistoryPaging fills zero values with defaults and clamps oversized pages.
func normalizeHistoryPaging(page int32, pageSize int32) (int, int) {
	normalizedPage := int(page)
	if normalizedPage == 0 {
		normalizedPage = defaultHistoryPage
	}
	normalizedPageSize := int(pageSize)
	if normalizedPageSize == 0 {
		normalizedPageSize = defaultHistoryPageSize
	}
	if normalizedPageSize > ledger.MaxHistoryPageSize {
		normalizedPageSize = ledger.MaxHistoryPageSize
	}
	return normalizedPage, normalizedPageSize
}

var validationCodes = []struct {
	target error
	code   string
}{
	{ledger.ErrInvalidAccountID, errorInvalidAccountID},
	{ledger.ErrInvalidJobID, errorInvalidJobID},
	{ledger.ErrInvalidIdempotencyKey, errorInvalidIdempotencyKey},
	{ledger.ErrInvalidDescription, errorInvalidDescription},
	{ledger.ErrInvalidReference, errorInvalidReference},
	{ledger.ErrInvalidCredits, errorInvalidCredits},
	{ledger.ErrInvalidTransactionKind, errorInvalidTransactionKind},
	{ledger.ErrInvalidMetadataJSON, errorInvalidMetadata},
	{ledger.ErrInvalidPage, errorInvalidPage},
	{ledger.ErrInvalidPageSize, errorInvalidPageSize},
}

func mapToGRPCError(source error) error {
	if source == nil {
		return nil
	}
	if _, isStatus := status.FromError(source); isStatus {
		return source
	}
	for _, candidate := range validationCodes {
		if errors.Is(source, candidate.target) {
			return status.Error(codes.InvalidArgument, candidate.code)
		}
	}
	switch {
	case ledger.IsValidationError(source):
		return status.Error(codes.InvalidArgument, errorInvalidArgument)
	case errors.Is(source, ledger.ErrInsufficientCredits):
		return status.Error(codes.FailedPrecondition, errorInsufficientCredits)
	case errors.Is(source, ledger.ErrAccountNotFound):
		return status.Error(codes.NotFound, errorAccountNotFound)
	case errors.Is(source, ledger.ErrTransactionNotFound):
		return status.Error(codes.NotFound, errorTransactionNotFound)
	case errors.Is(source, ledger.ErrDuplicateIdempotencyKey):
		return status.Error(codes.AlreadyExists, errorDuplicateIdempotencyKey)
	case errors.Is(source, ledger.ErrConsistencyViolation):
		return status.Error(codes.Internal, errorConsistencyViolation)
	case errors.Is(source, ledger.ErrStorage), errors.Is(source, context.DeadlineExceeded):
		return status.Error(codes.Unavailable, errorStorageUnavailable)
	case errors.Is(source, context.Canceled):
		return status.Error(codes.Canceled, source.Error())
	default:
		return status.Error(codes.Internal, errorInternal)
	}
}
