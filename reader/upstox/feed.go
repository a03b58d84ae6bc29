package upstox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	ratemetrics "cvdflow/internal/metrics/rate"
	"cvdflow/logger"
)

const defaultKeepAlive = 20 * time.Second

// ConnectionError reports a failure of the upstream websocket. Op is one of
// dial, subscribe or read.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("market data feed %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type subscription struct {
	GUID   string           `json:"guid"`
	Method string           `json:"method"`
	Data   subscriptionData `json:"data"`
}

type subscriptionData struct {
	Mode           string   `json:"mode"`
	InstrumentKeys []string `json:"instrumentKeys"`
}

// Session is one authorized websocket connection to the market data feed.
type Session struct {
	conn      *websocket.Conn
	client    *Client
	log       *logger.Entry
	writeMu   sync.Mutex
	closeOnce sync.Once
	stopPing  context.CancelFunc
}

// Connect authorizes and dials a new feed session. No instruments are
// subscribed yet.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	uri, err := c.Authorize(ctx)
	if err != nil {
		return nil, err
	}

	c.tracker.RegisterConnectionAttempt()
	conn, _, err := c.dialer.DialContext(ctx, uri, nil)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	return &Session{
		conn:     conn,
		client:   c,
		log:      c.log.WithComponent("upstox_feed"),
		stopPing: func() {},
	}, nil
}

// Subscribe waits the configured settle delay, sends the subscription
// control message and starts the keepalive loop.
func (s *Session) Subscribe(ctx context.Context, instrumentKeys []string) error {
	if delay := s.client.cfg.SubscribeDelay; delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	mode := s.client.cfg.Mode
	if mode == "" {
		mode = "full"
	}
	msg, err := json.Marshal(subscription{
		GUID:   uuid.NewString(),
		Method: "sub",
		Data:   subscriptionData{Mode: mode, InstrumentKeys: instrumentKeys},
	})
	if err != nil {
		return &ConnectionError{Op: "subscribe", Err: err}
	}

	// The feed only accepts binary control frames.
	if err := s.write(websocket.BinaryMessage, msg); err != nil {
		return &ConnectionError{Op: "subscribe", Err: err}
	}
	s.client.tracker.RegisterOutgoing(1)
	s.log.WithFields(logger.Fields{"instruments": instrumentKeys, "mode": mode}).Info("subscribed to market data feed")
	for _, key := range instrumentKeys {
		ratemetrics.ReportWSWeight(s.client.log, s.client.tracker, key)
	}

	s.stopPing = s.startPingLoop(ctx, s.client.cfg.PingInterval)
	return nil
}

// Receive blocks for the next binary frame. Cancelling ctx unblocks it.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &ConnectionError{Op: "read", Err: err}
		}
		if msgType != websocket.BinaryMessage {
			s.log.WithField("size", len(data)).Debug("skipping non-binary frame")
			continue
		}
		return data, nil
	}
}

// Close stops the keepalive loop and closes the connection. Safe to call more
// than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stopPing()
		_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}

func (s *Session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(messageType, data)
}

func (s *Session) startPingLoop(ctx context.Context, interval time.Duration) context.CancelFunc {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				s.writeMu.Lock()
				err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
				s.writeMu.Unlock()
				if err != nil {
					s.log.WithError(err).Warn("failed to send websocket ping")
					// Unblocks Receive so the supervisor reconnects.
					_ = s.conn.Close()
					return
				}
				s.client.tracker.RegisterOutgoing(1)
			}
		}
	}()
	return cancel
}
