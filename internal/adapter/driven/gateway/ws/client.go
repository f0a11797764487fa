package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// conn is the write side of *websocket.Conn.
type conn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	Close() error
}

// WSClient is one relay connection. Writes are serialized; reads belong to the HTTP handler.
type WSClient struct {
	id   domain.ClientID
	conn conn
	mu   sync.Mutex
}

func NewWSClient(id domain.ClientID, c *websocket.Conn) *WSClient {
	return &WSClient{id: id, conn: c}
}

func (c *WSClient) ID() domain.ClientID {
	return c.id
}

func (c *WSClient) Send(sig domain.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return c.conn.WriteJSON(sig)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}
