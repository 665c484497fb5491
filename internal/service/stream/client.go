// Package stream is a websocket MarketStream carrying the normalized event envelope.
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"QuoteFlow/internal/domain/models"
	drepo "QuoteFlow/internal/domain/repository"
	"QuoteFlow/internal/service/codec"
	"QuoteFlow/pkg/logger"
)

// Config describes the upstream feed.
type Config struct {
	URL          string
	Subscribe    string // optional text frame sent after connecting
	PingInterval time.Duration
	ReadTimeout  time.Duration
	BufferSize   int
}

// Client implements a MarketStream over a websocket connection.
type Client struct {
	cfg Config
	log *logger.Logger

	mu        sync.Mutex // guards conn and writes
	conn      *websocket.Conn
	connected atomic.Bool
	malformed atomic.Int64
}

// New creates a new websocket MarketStream.
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &Client{cfg: cfg, log: log.With(logger.String("component", "stream"))}
}

var _ drepo.MarketStream = (*Client)(nil)

// Connect establishes the websocket connection and sends the subscribe frame.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("stream connect %s: %v: %w", c.cfg.URL, err, models.ErrDisconnected)
	}
	c.mu.Lock()
	c.conn = conn
	if c.cfg.Subscribe != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(c.cfg.Subscribe)); err != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return fmt.Errorf("stream subscribe: %v: %w", err, models.ErrDisconnected)
		}
	}
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Info("connected", logger.String("url", c.cfg.URL))
	return nil
}

// Read streams decoded events. The error channel receives exactly one error
// wrapping models.ErrDisconnected when the connection breaks, then both channels close.
func (c *Client) Read(ctx context.Context) (<-chan models.MarketDataEvent, <-chan error) {
	events := make(chan models.MarketDataEvent, c.cfg.BufferSize)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		errs <- fmt.Errorf("stream not connected: %w", models.ErrDisconnected)
		close(events)
		close(errs)
		return events, errs
	}

	readCtx, cancel := context.WithCancel(ctx)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PingInterval))
				c.mu.Unlock()
				if err != nil {
					c.log.Warn("ping failed", logger.Error(err))
				}
			}
		}
	}()

	// unblock ReadMessage when the caller goes away
	go func() {
		<-readCtx.Done()
		_ = conn.Close()
	}()

	// read loop
	go func() {
		defer close(events)
		defer close(errs)
		defer cancel()
		for {
			if c.cfg.ReadTimeout > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				c.connected.Store(false)
				if readCtx.Err() != nil {
					return
				}
				errs <- fmt.Errorf("stream read: %v: %w", err, models.ErrDisconnected)
				return
			}
			evs, err := codec.DecodeEvents(b)
			if err != nil {
				c.malformed.Add(1)
				c.log.Warn("malformed frame", logger.Error(err), logger.Int("bytes", len(b)))
				continue
			}
			for _, ev := range evs {
				select {
				case events <- ev:
				case <-readCtx.Done():
					return
				}
			}
		}
	}()

	return events, errs
}

// Malformed returns how many frames failed to decode.
func (c *Client) Malformed() int64 { return c.malformed.Load() }

// Close closes the websocket connection.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected.Load() }
