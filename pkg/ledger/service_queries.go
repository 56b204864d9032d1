package ledger

import "context"

// GetBalance returns the cached balance of an account.
func (service *Service) GetBalance(ctx context.Context, accountID AccountID) (Balance, error) {
	credits, err := service.store.ReadBalance(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Credits: credits}, nil
}

// GetHistory returns one page of the account's transactions, newest first.
func (service *Service) GetHistory(ctx context.Context, accountID AccountID, page PageRequest) (History, error) {
	if _, err := service.store.ReadBalance(ctx, accountID); err != nil {
		return History{}, err
	}
	transactions, total, err := service.store.ListTransactions(ctx, accountID, page)
	if err != nil {
		return History{}, err
	}
	items := make([]HistoryItem, 0, len(transactions))
	for _, transaction := range transactions {
		items = append(items, NewHistoryItem(transaction))
	}
	return History{
		Items: items,
		Pagination: Pagination{
			Page:       page.Page(),
			PageSize:   page.PageSize(),
			TotalCount: total,
			TotalPages: totalPages(total, page.PageSize()),
		},
	}, nil
}

// FindUsage returns the usage transaction recorded for a job.
func (service *Service) FindUsage(ctx context.Context, accountID AccountID, jobID JobID) (Transaction, bool, error) {
	return service.store.FindTransactionByJob(ctx, accountID, KindUsage, jobID)
}

// FindRefund returns the refund transaction recorded for a job.
func (service *Service) FindRefund(ctx context.Context, accountID AccountID, jobID JobID) (Transaction, bool, error) {
	return service.store.FindTransactionByJob(ctx, accountID, KindRefund, jobID)
}

// VerifyAccount checks that the cached balance equals the sum of the account's transactions.
func (service *Service) VerifyAccount(ctx context.Context, accountID AccountID) (Balance, error) {
	var balance Credits
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		credits, err := transactionStore.ReadBalance(ctx, accountID)
		if err != nil {
			return err
		}
		sum, err := transactionStore.SumTransactions(ctx, accountID)
		if err != nil {
			return err
		}
		balance = credits
		return checkConsistency(accountID, credits, sum)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationVerify,
		AccountID: accountID,
		Balance:   balance,
		Error:     operationError,
	})
	if operationError != nil {
		return Balance{}, operationError
	}
	return Balance{Credits: balance}, nil
}

func totalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
