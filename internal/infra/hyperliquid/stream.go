package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"hypertrack/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	defaultWSURL = "wss://api.hyperliquid.xyz/ws"
	maxRetries   = 10
	readTimeout  = 60 * time.Second
)

// Stream maintains a WebSocket subscription to source wallet fill events.
// It does not carry position state itself; on every fill it nudges the
// poller so the next REST snapshot happens immediately instead of waiting
// out the poll interval.
type Stream struct {
	wsURL   string
	wallets []string
	nudge   chan<- string

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewStream creates a stream worker for the given wallets. Fills are
// reported by writing the wallet address to nudge (non-blocking, dropped
// when full).
func NewStream(cfg *infra.Config, wallets []string, nudge chan<- string) *Stream {
	wsURL := cfg.API.Hyperliquid.WSURL
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &Stream{
		wsURL:   wsURL,
		wallets: wallets,
		nudge:   nudge,
	}
}

// Connect starts the WebSocket connection loop.
func (s *Stream) Connect(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop(ctx)
	return nil
}

func (s *Stream) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			slog.Warn("Hyperliquid stream connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			s.readLoop(ctx)
		}
	}
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, make(http.Header))
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	if err := s.subscribe(); err != nil {
		s.closeConnection()
		return err
	}

	slog.Info("🔌 Hyperliquid Stream Connected", slog.Int("wallets", len(s.wallets)))
	return nil
}

func (s *Stream) subscribe() error {
	for _, w := range s.wallets {
		msg := map[string]interface{}{
			"method": "subscribe",
			"subscription": map[string]string{
				"type": "userFills",
				"user": w,
			},
		}
		b, _ := json.Marshal(msg)
		if err := s.threadSafeWrite(websocket.TextMessage, b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) threadSafeWrite(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return fmt.Errorf("no conn")
	}
	return s.conn.WriteMessage(msgType, data)
}

func (s *Stream) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		if s.conn == nil {
			s.mu.RUnlock()
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.mu.RUnlock()

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.closeConnection()
			return
		}
		s.handleMessage(msg)
	}
}

// fillsMessage is the relevant slice of a userFills channel payload.
type fillsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		User       string `json:"user"`
		IsSnapshot bool   `json:"isSnapshot"`
	} `json:"data"`
}

func (s *Stream) handleMessage(msg []byte) {
	var m fillsMessage
	if json.Unmarshal(msg, &m) != nil || m.Channel != "userFills" {
		return
	}
	// The initial snapshot replays historical fills; only live fills
	// warrant an immediate re-poll.
	if m.Data.IsSnapshot || m.Data.User == "" {
		return
	}

	select {
	case s.nudge <- m.Data.User:
	default: // DROP
	}
}

func (s *Stream) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
}

// Disconnect stops the stream and waits for the connection loop to exit.
func (s *Stream) Disconnect() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}
