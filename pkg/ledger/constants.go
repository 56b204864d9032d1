package ledger

const (
	operationOpenAccount     = "open_account"
	operationDeduct          = "deduct"
	operationRefund          = "refund"
	operationRefundFailedJob = "refund_failed_job"
	operationGrant           = "grant"
	operationVerify          = "verify"

	operationStatusOK               = "ok"
	operationStatusError            = "error"
	operationStatusAlreadyProcessed = "already_processed"

	idempotencyKeyDelimiter = ":"
	refundIdempotencyPrefix = "refund"

	jobDescriptionMarker    = "Task: "
	jobDescriptionSeparator = " - "

	emptyMetadataJSON    = "{}"
	maxDescriptionLength = 512
	maxReferenceLength   = 128

	// MaxHistoryPageSize bounds a single history page.
	MaxHistoryPageSize = 100
)
