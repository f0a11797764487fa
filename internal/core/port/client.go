package port

import "github.com/Wyydra/campus/internal/core/domain"

// Client is one connection held by the relay.
type Client interface {
	ID() domain.ClientID
	Send(sig domain.Signal) error
	Close() error
}
