package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
)

type CallRecordRepository struct {
	mu      sync.Mutex
	records map[domain.RoomID]domain.CallRecord
}

func NewCallRecordRepository() *CallRecordRepository {
	return &CallRecordRepository{
		records: make(map[domain.RoomID]domain.CallRecord),
	}
}

func (r *CallRecordRepository) Create(ctx context.Context, rec domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.RoomID]; ok {
		return fmt.Errorf("call %s: %w", rec.RoomID, domain.ErrAlreadyExists)
	}
	r.records[rec.RoomID] = rec
	return nil
}

func (r *CallRecordRepository) Get(ctx context.Context, roomID domain.RoomID) (domain.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[roomID]
	if !ok {
		return domain.CallRecord{}, fmt.Errorf("call %s: %w", roomID, domain.ErrNotFound)
	}
	return rec, nil
}

func (r *CallRecordRepository) UpdateStatus(ctx context.Context, roomID domain.RoomID, status domain.CallStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[roomID]
	if !ok {
		return fmt.Errorf("call %s: %w", roomID, domain.ErrNotFound)
	}
	if err := rec.Transition(status, at); err != nil {
		return err
	}
	r.records[roomID] = rec
	return nil
}
