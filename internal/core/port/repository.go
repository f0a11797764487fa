package port

import (
	"context"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
)

type CallRecordRepository interface {
	Create(ctx context.Context, rec domain.CallRecord) error
	Get(ctx context.Context, roomID domain.RoomID) (domain.CallRecord, error)
	UpdateStatus(ctx context.Context, roomID domain.RoomID, status domain.CallStatus, at time.Time) error
}
