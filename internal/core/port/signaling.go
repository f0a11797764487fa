package port

import (
	"context"

	"github.com/Wyydra/campus/internal/core/domain"
)

// SignalingChannel is the client side of the room relay.
type SignalingChannel interface {
	// Join emits join-room for roomID. It may be called again after a retry.
	Join(ctx context.Context, roomID domain.RoomID, selfID domain.UserID) error
	Send(ctx context.Context, sig domain.Signal) error
	Incoming() <-chan domain.Signal
	// Done is closed when the channel can no longer deliver; Err then explains why.
	Done() <-chan struct{}
	Err() error
	Close() error
}
