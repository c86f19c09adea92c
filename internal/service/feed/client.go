package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"InferCore/internal/domain/models"
	"InferCore/pkg/logger"
)

// Client streams events from an upstream trading-engine websocket feed. It is
// an optional ingress next to the HTTP API; frames map onto the same event
// kinds the API accepts.
type Client struct {
	url            string
	token          string
	topics         []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	conn      *websocket.Conn
	connected bool
}

func New(url, token string, topics []string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		url:            url,
		token:          token,
		topics:         topics,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// Connect establishes the websocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := c.url
	if c.token != "" {
		u = fmt.Sprintf("%s?token=%s", c.url, c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	c.log.Info("feed connected", logger.String("url", c.url))
	return nil
}

// Subscribe subscribes to the configured topics.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("feed not connected")
	}
	for _, topic := range c.topics {
		msg := map[string]string{"type": "subscribe", "topic": topic}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		c.log.Info("feed subscribed", logger.String("topic", topic))
	}
	return nil
}

// frame is the upstream wire format: the event kind plus its raw payload.
type frame struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // unix ms
	Payload   json.RawMessage `json:"payload"`
}

// Read streams decoded events until the context is cancelled or the
// connection drops. At most one error is sent before both channels close.
func (c *Client) Read(ctx context.Context) (<-chan *models.Event, <-chan error) {
	events := make(chan *models.Event, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(events)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("feed conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("feed read: %w", err)
					return
				}
				e, err := decodeFrame(b)
				if err != nil {
					// ignore frames we do not understand
					continue
				}
				select {
				case events <- e:
				default:
					c.log.Warn("feed backpressure, dropping event", logger.String("kind", string(e.Kind)))
				}
			}
		}
	}()

	return events, errs
}

func decodeFrame(b []byte) (*models.Event, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	kind := models.EventKind(f.Type)
	switch kind {
	case models.KindTrade, models.KindPriceTick, models.KindOpportunity:
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}

	ts := time.Now()
	if f.Timestamp > 0 {
		ts = time.UnixMilli(f.Timestamp).UTC()
	}
	e := &models.Event{
		ID:         "", // assigned below after payload validation
		Timestamp:  ts,
		Kind:       kind,
		RawPayload: f.Payload,
	}
	if err := e.DecodePayload(); err != nil {
		return nil, err
	}
	full, err := models.NewEvent(ts, e.Payload)
	if err != nil {
		return nil, err
	}
	return full, nil
}

// Reconnect closes and reconnects with the configured delay.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
