package http

import (
	"net/http"

	"github.com/Wyydra/campus/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/campus/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	Rooms *service.RoomService
	Hub   *ws.Hub
}

func NewHandler(rooms *service.RoomService, hub *ws.Hub) *Handler {
	return &Handler{
		Rooms: rooms,
		Hub:   hub,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/ws", h.ServeWS)

	return r
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
