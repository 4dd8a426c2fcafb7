package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vault_ledger/internal/domain"
	"vault_ledger/internal/repository"

	"github.com/ethereum/go-ethereum/common"
)

type EventRepository struct {
	mu     sync.RWMutex
	events map[string]*domain.LedgerEvent
	index  map[common.Address][]string
}

func NewEventRepository() *EventRepository {
	return &EventRepository{
		events: make(map[string]*domain.LedgerEvent),
		index:  make(map[common.Address][]string),
	}
}

func (r *EventRepository) Save(ctx context.Context, event *domain.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[event.ID]; exists {
		return fmt.Errorf("%w: event %s", repository.ErrDuplicate, event.ID)
	}

	r.events[event.ID] = event
	r.index[event.User] = append(r.index[event.User], event.ID)

	return nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*domain.LedgerEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, exists := r.events[id]
	if !exists {
		return nil, fmt.Errorf("%w: event %s", repository.ErrNotFound, id)
	}
	return event, nil
}

// GetByUser returns the user's events newest first.
func (r *EventRepository) GetByUser(ctx context.Context, user common.Address, limit, offset int) ([]*domain.LedgerEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.index[user]
	result := make([]*domain.LedgerEvent, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.events[id])
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].OccurredAt.After(result[j].OccurredAt)
	})

	if offset >= len(result) {
		return []*domain.LedgerEvent{}, nil
	}
	end := len(result)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return result[offset:end], nil
}

func (r *EventRepository) GetByPeriod(ctx context.Context, from, to time.Time) ([]*domain.LedgerEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.LedgerEvent
	for _, event := range r.events {
		if !event.OccurredAt.Before(from) && !event.OccurredAt.After(to) {
			result = append(result, event)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})

	return result, nil
}
