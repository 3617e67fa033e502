package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 256
)

type wireWSLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wireWSBookEvent struct {
	EventType string        `json:"event_type"`
	Market    string        `json:"market"`
	Bids      []wireWSLevel `json:"bids"`
	Asks      []wireWSLevel `json:"asks"`
}

type wireWSTradeEvent struct {
	EventType string `json:"event_type"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp int64  `json:"timestamp"`
}

type wireWSPrivateEvent struct {
	EventType string `json:"event_type"`
	Market    string `json:"market"`
	OrderID   string `json:"order_id"`
	TradeID   string `json:"trade_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp int64  `json:"timestamp"`
}

type wireWSSubscribe struct {
	Type    string            `json:"type"`
	Markets []string          `json:"markets"`
	Auth    map[string]string `json:"auth,omitempty"`
}

// wsFeed manages one WebSocket connection (public market feed or
// authenticated user feed). It reconnects with exponential backoff and
// re-subscribes to its tracked market on reconnect.
type wsFeed struct {
	url         string
	channelType string // "market" or "user"
	market      string
	auth        *Auth

	connMu sync.Mutex
	conn   *websocket.Conn

	bookCh    chan wireWSBookEvent
	tradeCh   chan wireWSTradeEvent
	privateCh chan wireWSPrivateEvent

	logger *slog.Logger
}

func newWSFeed(url, channelType, market string, auth *Auth, logger *slog.Logger) *wsFeed {
	return &wsFeed{
		url:         url,
		channelType: channelType,
		market:      market,
		auth:        auth,
		bookCh:      make(chan wireWSBookEvent, eventBufferSize),
		tradeCh:     make(chan wireWSTradeEvent, eventBufferSize),
		privateCh:   make(chan wireWSPrivateEvent, eventBufferSize),
		logger:      logger.With("component", "ws_"+channelType),
	}
}

// run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *wsFeed) run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *wsFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "channel", f.channelType, "market", f.market)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatch(msg)
	}
}

func (f *wsFeed) subscribe() error {
	msg := wireWSSubscribe{Type: f.channelType, Markets: []string{f.market}}
	if f.channelType == "user" && f.auth != nil {
		headers, err := f.auth.L2Headers("GET", "/ws", "")
		if err != nil {
			return err
		}
		msg.Auth = headers
	}
	return f.writeJSON(msg)
}

func (f *wsFeed) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message")
		return
	}

	switch envelope.EventType {
	case "book":
		var evt wireWSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event")
		}

	case "trade":
		var evt wireWSTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			return
		}
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event")
		}

	case "fill", "order":
		var evt wireWSPrivateEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal private event", "error", err)
			return
		}
		select {
		case f.privateCh <- evt:
		default:
			f.logger.Warn("private channel full, dropping event")
		}

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *wsFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *wsFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *wsFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
