package http

import (
	"net/http"

	"github.com/Wyydra/campus/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the portal origin once it is configurable
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades one relay connection and feeds its messages to the room broker until it closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	clientID := domain.NewClientID()
	client := ws.NewWSClient(clientID, conn)

	l := log.With().Str("client_id", clientID.String()).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Rooms.Leave(clientID)
		h.Hub.Unregister(client)
		conn.Close()
	}()

	for {
		var sig domain.Signal
		if err := conn.ReadJSON(&sig); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}

		if sig.Event != domain.EventJoinRoom && !sig.Event.Relayed() {
			l.Warn().Str("event", string(sig.Event)).Msg("Ignoring event")
			continue
		}
		h.Rooms.Handle(clientID, sig)
	}
}
