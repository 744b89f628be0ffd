package api

import "context"

type RetryItemOutcome string

const (
	RetryItemRetried   RetryItemOutcome = "retried"
	RetryItemNotFound  RetryItemOutcome = "not_found"
	RetryItemNotFailed RetryItemOutcome = "not_failed"
)

type RetryItemResult struct {
	ID      int64            `json:"id"`
	Outcome RetryItemOutcome `json:"outcome"`
}

type RetryItemsResult struct {
	RetriedCount int64             `json:"retriedCount"`
	Items        []RetryItemResult `json:"items"`
}

type RemoveItemOutcome string

const (
	RemoveItemRemoved  RemoveItemOutcome = "removed"
	RemoveItemNotFound RemoveItemOutcome = "not_found"
	RemoveItemActive   RemoveItemOutcome = "active"
)

type RemoveItemResult struct {
	ID      int64             `json:"id"`
	Outcome RemoveItemOutcome `json:"outcome"`
}

type RemoveItemsResult struct {
	RemovedCount int64              `json:"removedCount"`
	Items        []RemoveItemResult `json:"items"`
}

// QueueRetryService retries a single failed item.
type QueueRetryService interface {
	Retry(ctx context.Context, id int64) (RetryItemOutcome, error)
}

// QueueRemoveService removes a single item.
type QueueRemoveService interface {
	Remove(ctx context.Context, id int64) (RemoveItemOutcome, error)
}

// RetryItemsByID retries items one-by-one so each ID reports its own outcome.
func RetryItemsByID(ctx context.Context, service QueueRetryService, ids []int64) (RetryItemsResult, error) {
	result := RetryItemsResult{Items: make([]RetryItemResult, 0, len(ids))}
	for _, id := range ids {
		outcome, err := service.Retry(ctx, id)
		if err != nil {
			return RetryItemsResult{}, err
		}
		if outcome == RetryItemRetried {
			result.RetriedCount++
		}
		result.Items = append(result.Items, RetryItemResult{ID: id, Outcome: outcome})
	}
	return result, nil
}

// RemoveItemsByID removes items one-by-one so each ID reports its own outcome.
func RemoveItemsByID(ctx context.Context, service QueueRemoveService, ids []int64) (RemoveItemsResult, error) {
	result := RemoveItemsResult{Items: make([]RemoveItemResult, 0, len(ids))}
	for _, id := range ids {
		outcome, err := service.Remove(ctx, id)
		if err != nil {
			return RemoveItemsResult{}, err
		}
		if outcome == RemoveItemRemoved {
			result.RemovedCount++
		}
		result.Items = append(result.Items, RemoveItemResult{ID: id, Outcome: outcome})
	}
	return result, nil
}
