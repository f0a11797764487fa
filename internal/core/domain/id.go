package domain

import (
	"github.com/google/uuid"
)

type UserID string
type RoomID string
type ClientID string

func NewUserID() UserID {
	return UserID(uuid.New().String())
}

func NewRoomID() RoomID {
	return RoomID(uuid.New().String())
}

// NewClientID identifies one relay connection, not a person.
func NewClientID() ClientID {
	return ClientID(uuid.New().String())
}

func (id UserID) String() string {
	return string(id)
}

func (id RoomID) String() string {
	return string(id)
}

func (id ClientID) String() string {
	return string(id)
}
