package creditsv1

import "time"

// BalanceRequest addresses a single account.
type BalanceRequest struct {
	AccountId string `json:"account_id"`
}

func (request *BalanceRequest) GetAccountId() string {
	if request == nil {
		return ""
	}
	return request.AccountId
}

type BalanceResponse struct {
	AccountId string `json:"account_id"`
	Credits   int64  `json:"credits"`
}

type HistoryRequest struct {
	AccountId string `json:"account_id"`
	Page      int32  `json:"page"`
	PageSize  int32  `json:"page_size"`
}

func (request *HistoryRequest) GetAccountId() string {
	if request == nil {
		return ""
	}
	return request.AccountId
}

func (request *HistoryRequest) GetPage() int32 {
	if request == nil {
		return 0
	}
	return request.Page
}

func (request *HistoryRequest) GetPageSize() int32 {
	if request == nil {
		return 0
	}
	return request.PageSize
}

// HistoryItem is a transaction normalized for display: Amount is absolute and IsCredit carries the sign.
type HistoryItem struct {
	TransactionId  string    `json:"transaction_id"`
	Kind           string    `json:"kind"`
	Amount         int64     `json:"amount"`
	IsCredit       bool      `json:"is_credit"`
	Description    string    `json:"description"`
	JobId          string    `json:"job_id,omitempty"`
	VideoId        string    `json:"video_id,omitempty"`
	SubscriptionId string    `json:"subscription_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Pagination struct {
	Page       int32 `json:"page"`
	PageSize   int32 `json:"page_size"`
	TotalCount int64 `json:"total_count"`
	TotalPages int32 `json:"total_pages"`
}

type HistoryResponse struct {
	Transactions []*HistoryItem `json:"transactions"`
	Pagination   *Pagination    `json:"pagination"`
}

// ChargeRequest carries a job-linked deduction or refund.
type ChargeRequest struct {
	AccountId      string `json:"account_id"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	JobId          string `json:"job_id"`
	VideoId        string `json:"video_id,omitempty"`
	SubscriptionId string `json:"subscription_id,omitempty"`
	MetadataJson   string `json:"metadata_json,omitempty"`
}

func (request *ChargeRequest) GetAccountId() string {
	if request == nil {
		return ""
	}
	return request.AccountId
}

func (request *ChargeRequest) GetAmount() int64 {
	if request == nil {
		return 0
	}
	return request.Amount
}

func (request *ChargeRequest) GetDescription() string {
	if request == nil {
		return ""
	}
	return request.Description
}

func (request *ChargeRequest) GetJobId() string {
	if request == nil {
		return ""
	}
	return request.JobId
}

func (request *ChargeRequest) GetVideoId() string {
	if request == nil {
		return ""
	}
	return request.VideoId
}

func (request *ChargeRequest) GetSubscriptionId() string {
	if request == nil {
		return ""
	}
	return request.SubscriptionId
}

func (request *ChargeRequest) GetMetadataJson() string {
	if request == nil {
		return ""
	}
	return request.MetadataJson
}

type DeductResponse struct {
	TransactionId string `json:"transaction_id"`
	Credits       int64  `json:"credits"`
}

// RefundResponse reports a refund; Queued means it was handed to the retry queue and not applied yet.
type RefundResponse struct {
	TransactionId    string `json:"transaction_id,omitempty"`
	Credits          int64  `json:"credits"`
	AlreadyProcessed bool   `json:"already_processed"`
	Queued           bool   `json:"queued"`
}

type RefundFailedJobRequest struct {
	AccountId    string `json:"account_id"`
	JobId        string `json:"job_id"`
	Description  string `json:"description"`
	MetadataJson string `json:"metadata_json,omitempty"`
	Async        bool   `json:"async"`
}

func (request *RefundFailedJobRequest) GetAccountId() string {
	if request == nil {
		return ""
	}
	return request.AccountId
}

func (request *RefundFailedJobRequest) GetJobId() string {
	if request == nil {
		return ""
	}
	return request.JobId
}

func (request *RefundFailedJobRequest) GetDescription() string {
	if request == nil {
		return ""
	}
	return request.Description
}

func (request *RefundFailedJobRequest) GetMetadataJson() string {
	if request == nil {
		return ""
	}
	return request.MetadataJson
}

func (request *RefundFailedJobRequest) GetAsync() bool {
	if request == nil {
		return false
	}
	return request.Async
}

type GrantRequest struct {
	AccountId      string `json:"account_id"`
	Kind           string `json:"kind"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
	VideoId        string `json:"video_id,omitempty"`
	SubscriptionId string `json:"subscription_id,omitempty"`
	MetadataJson   string `json:"metadata_json,omitempty"`
}

func (request *GrantRequest) GetAccountId() string {
	if request == nil {
		return ""
	}
	return request.AccountId
}

func (request *GrantRequest) GetKind() string {
	if request == nil {
		return ""
	}
	return request.Kind
}

func (request *GrantRequest) GetAmount() int64 {
	if request == nil {
		return 0
	}
	return request.Amount
}

func (request *GrantRequest) GetDescription() string {
	if request == nil {
		return ""
	}
	return request.Description
}

func (request *GrantRequest) GetIdempotencyKey() string {
	if request == nil {
		return ""
	}
	return request.IdempotencyKey
}

func (request *GrantRequest) GetVideoId() string {
	if request == nil {
		return ""
	}
	return request.VideoId
}

func (request *GrantRequest) GetSubscriptionId() string {
	if request == nil {
		return ""
	}
	return request.SubscriptionId
}

func (request *GrantRequest) GetMetadataJson() string {
	if request == nil {
		return ""
	}
	return request.MetadataJson
}

type GrantResponse struct {
	TransactionId    string `json:"transaction_id"`
	Credits          int64  `json:"credits"`
	AlreadyProcessed bool   `json:"already_processed"`
}

type JobTransactionRequest struct {
	AccountId string `json:"account_id"`
	JobId     string `json:"job_id"`
}

func (request *JobTransactionRequest) GetAccountId() string {
	if request == nil {
		return ""
	}
	return request.AccountId
}

func (request *JobTransactionRequest) GetJobId() string {
	if request == nil {
		return ""
	}
	return request.JobId
}

// Transaction is a stored ledger line with its signed amount.
type Transaction struct {
	TransactionId  string    `json:"transaction_id"`
	AccountId      string    `json:"account_id"`
	Kind           string    `json:"kind"`
	Amount         int64     `json:"amount"`
	Description    string    `json:"description"`
	JobId          string    `json:"job_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	VideoId        string    `json:"video_id,omitempty"`
	SubscriptionId string    `json:"subscription_id,omitempty"`
	MetadataJson   string    `json:"metadata_json"`
	CreatedAt      time.Time `json:"created_at"`
}

type JobTransactionResponse struct {
	Found       bool         `json:"found"`
	Transaction *Transaction `json:"transaction,omitempty"`
}
