// Package ws is the call engine's connection to the room relay.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultWriteTimeout = 5 * time.Second

var ErrClosed = errors.New("signaling channel closed")

type Option func(*Client)

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) { c.writeTimeout = d }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client implements port.SignalingChannel over one websocket. It never redials;
// a dead connection closes Done and the call decides what to do.
type Client struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	conn         *websocket.Conn
	log          zerolog.Logger

	writeMu sync.Mutex

	incoming chan domain.Signal
	done     chan struct{}
	once     sync.Once
	errMu    sync.Mutex
	err      error
}

// Dial connects to the relay at url and starts reading.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		dialer:       websocket.DefaultDialer,
		writeTimeout: DefaultWriteTimeout,
		incoming:     make(chan domain.Signal, 64),
		done:         make(chan struct{}),
		log:          log.With().Str("component", "signaling").Str("url", url).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c.conn = conn
	c.log.Info().Msg("Connected to relay")

	go c.readLoop()
	return c, nil
}

func (c *Client) Join(ctx context.Context, roomID domain.RoomID, selfID domain.UserID) error {
	return c.Send(ctx, domain.NewJoinSignal(roomID, selfID))
}

// Send writes sig within the write timeout. Timeouts and cancellation are transient;
// anything else means the connection is unusable.
func (c *Client) Send(ctx context.Context, sig domain.Signal) error {
	select {
	case <-c.done:
		return &domain.SignalingDeliveryError{Err: c.Err()}
	default:
	}
	if err := ctx.Err(); err != nil {
		return &domain.SignalingDeliveryError{Transient: true, Err: err}
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return &domain.SignalingDeliveryError{Err: err}
	}
	if err := c.conn.WriteJSON(sig); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return &domain.SignalingDeliveryError{Transient: true, Err: err}
		}
		return &domain.SignalingDeliveryError{Err: err}
	}
	return nil
}

func (c *Client) Incoming() <-chan domain.Signal {
	return c.incoming
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.shutdown(ErrClosed, true)
	return nil
}

func (c *Client) shutdown(err error, graceful bool) {
	c.once.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		if graceful {
			c.writeMu.Lock()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readLoop() {
	for {
		var sig domain.Signal
		if err := c.conn.ReadJSON(&sig); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("Relay connection lost")
			}
			c.shutdown(fmt.Errorf("relay connection lost: %w", err), false)
			return
		}

		switch sig.Event {
		case domain.EventUserJoined, domain.EventUserLeft, domain.EventOffer, domain.EventAnswer, domain.EventICECandidate:
		default:
			c.log.Warn().Str("event", string(sig.Event)).Msg("Dropping unknown event")
			continue
		}

		select {
		case c.incoming <- sig:
		case <-c.done:
			return
		}
	}
}
