package service

import (
	"context"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
	"github.com/rs/zerolog/log"
)

type member struct {
	room domain.RoomID
	user domain.UserID
}

type inbound struct {
	client domain.ClientID
	sig    domain.Signal
	leave  bool
}

// RoomService is the relay's room broker. Membership lives on the Run goroutine only.
type RoomService struct {
	gateway port.SignalGateway

	rooms   map[domain.RoomID]map[domain.ClientID]domain.UserID
	members map[domain.ClientID]member

	inbox chan inbound
	quit  chan struct{}
	done  chan struct{}
}

func NewRoomService(gateway port.SignalGateway) *RoomService {
	return &RoomService{
		gateway: gateway,
		rooms:   make(map[domain.RoomID]map[domain.ClientID]domain.UserID),
		members: make(map[domain.ClientID]member),
		inbox:   make(chan inbound, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Handle queues one message received from clientID.
func (s *RoomService) Handle(clientID domain.ClientID, sig domain.Signal) {
	s.enqueue(inbound{client: clientID, sig: sig})
}

func (s *RoomService) Leave(clientID domain.ClientID) {
	s.enqueue(inbound{client: clientID, leave: true})
}

func (s *RoomService) enqueue(in inbound) {
	select {
	case s.inbox <- in:
	case <-s.done:
	}
}

func (s *RoomService) Stop() {
	close(s.quit)
	<-s.done
}

func (s *RoomService) Run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			for len(s.inbox) > 0 {
				s.apply(<-s.inbox)
			}
			log.Info().Int("rooms", len(s.rooms)).Msg("Stopping RoomService")
			return

		case in := <-s.inbox:
			s.apply(in)
		}
	}
}

func (s *RoomService) apply(in inbound) {
	switch {
	case in.leave:
		s.leave(in.client)
	case in.sig.Event == domain.EventJoinRoom:
		s.join(in.client, in.sig.RoomID, in.sig.SelfID)
	case in.sig.Event.Relayed():
		s.relay(in.client, in.sig)
	default:
		log.Warn().Str("client_id", in.client.String()).Str("event", string(in.sig.Event)).Msg("Unsupported event from client")
	}
}

// Members returns the users currently in roomID. Only for use on the Run goroutine or in tests after Stop.
func (s *RoomService) Members(roomID domain.RoomID) []domain.UserID {
	var users []domain.UserID
	for _, u := range s.rooms[roomID] {
		users = append(users, u)
	}
	return users
}

func (s *RoomService) join(client domain.ClientID, roomID domain.RoomID, userID domain.UserID) {
	l := log.With().Str("client_id", client.String()).Str("room_id", roomID.String()).Logger()
	if roomID == "" {
		l.Warn().Msg("join-room without room id")
		return
	}
	// A repeated join on the same socket restarts the handshake: both sides hear about each other again.
	if m, ok := s.members[client]; ok && m.room != roomID {
		s.leave(client)
	}

	room, ok := s.rooms[roomID]
	if !ok {
		room = make(map[domain.ClientID]domain.UserID)
		s.rooms[roomID] = room
	}

	joined := domain.Signal{Event: domain.EventUserJoined, RoomID: roomID, UserID: userID, SocketID: client}
	for other, otherUser := range room {
		if other == client {
			continue
		}
		s.send(other, joined)
		s.send(client, domain.Signal{Event: domain.EventUserJoined, RoomID: roomID, UserID: otherUser, SocketID: other})
	}

	room[client] = userID
	s.members[client] = member{room: roomID, user: userID}
	l.Info().Int("count", len(room)).Str("user_id", userID.String()).Msg("Client joined room")
}

func (s *RoomService) relay(client domain.ClientID, sig domain.Signal) {
	m, ok := s.members[client]
	if !ok {
		log.Warn().Str("client_id", client.String()).Str("event", string(sig.Event)).Msg("Message from client outside any room")
		return
	}
	sig.RoomID = m.room
	sig.SocketID = client
	if sig.SelfID == "" {
		sig.SelfID = m.user
	}
	for other := range s.rooms[m.room] {
		if other != client {
			s.send(other, sig)
		}
	}
}

func (s *RoomService) leave(client domain.ClientID) {
	m, ok := s.members[client]
	if !ok {
		return
	}
	delete(s.members, client)
	room := s.rooms[m.room]
	delete(room, client)
	if len(room) == 0 {
		delete(s.rooms, m.room)
	}

	left := domain.Signal{Event: domain.EventUserLeft, RoomID: m.room, UserID: m.user, SocketID: client}
	for other := range room {
		s.send(other, left)
	}
	log.Info().Int("count", len(room)).Str("client_id", client.String()).Str("room_id", m.room.String()).Msg("Client left room")
}

func (s *RoomService) send(to domain.ClientID, sig domain.Signal) {
	if err := s.gateway.SendSignal(context.Background(), to, sig); err != nil {
		log.Error().Err(err).Str("client_id", to.String()).Str("event", string(sig.Event)).Msg("Error relaying message")
	}
}
