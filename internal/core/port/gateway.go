package port

import (
	"context"

	"github.com/Wyydra/campus/internal/core/domain"
)

type SignalGateway interface {
	SendSignal(ctx context.Context, clientID domain.ClientID, sig domain.Signal) error
}
