package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cvdflow/internal/broadcast"
	"cvdflow/internal/symbols"
	"cvdflow/logger"
	"cvdflow/models"
)

// wsSubscriber bridges a broadcaster to one websocket client. Payloads are
// queued and written by a single writer goroutine.
type wsSubscriber struct {
	*broadcast.Queue
	conn      *websocket.Conn
	closeOnce sync.Once
}

func newWSSubscriber(conn *websocket.Conn, buffer int) *wsSubscriber {
	return &wsSubscriber{
		Queue: broadcast.NewQueue(uuid.NewString(), buffer),
		conn:  conn,
	}
}

// Send fails fast when the client is too slow; the broadcaster then drops it
// and the connection is torn down.
func (w *wsSubscriber) Send(payload []byte) error {
	if err := w.Queue.Send(payload); err != nil {
		w.close()
		return err
	}
	return nil
}

func (w *wsSubscriber) close() {
	w.closeOnce.Do(func() {
		_ = w.conn.Close()
	})
}

func (s *Server) instrumentParam(c *gin.Context) (string, bool) {
	instrument := symbols.Normalize(c.Param("instrument"))
	if err := symbols.Validate(instrument); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return instrument, true
}

func (s *Server) loadHistory(ctx context.Context, instrument string) *models.History {
	history, err := s.deps.History.Load(ctx, instrument)
	if err != nil || history == nil {
		if err != nil {
			s.log.WithComponent("server").WithInstrument(instrument).WithError(err).Warn("history load failed")
		}
		history = &models.History{Instrument: instrument}
	}
	if history.Points == nil {
		history.Points = []models.HistoryPoint{}
	}
	if history.Alerts == nil {
		history.Alerts = []json.RawMessage{}
	}
	return history
}

func (s *Server) handleHistory(c *gin.Context) {
	instrument, ok := s.instrumentParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.loadHistory(c.Request.Context(), instrument))
}

func (s *Server) handleLivePage(c *gin.Context) {
	instrument, ok := s.instrumentParam(c)
	if !ok {
		return
	}
	history := s.loadHistory(c.Request.Context(), instrument)

	points, err := json.Marshal(history.Points)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	alerts, err := json.Marshal(history.Alerts)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	c.HTML(http.StatusOK, "live.tmpl", gin.H{
		"Instrument": instrument,
		"Historical": string(points),
		"Alerts":     string(alerts),
	})
}

func (s *Server) handleLiveSocket(c *gin.Context) {
	instrument, ok := s.instrumentParam(c)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithComponent("server").WithInstrument(instrument).WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := newWSSubscriber(conn, s.cfg.SubscriberBuffer)
	log := s.log.WithComponent("server").WithInstrument(instrument).WithFields(logger.Fields{"subscriber": sub.ID()})

	if err := s.deps.Streams.Attach(instrument, sub); err != nil {
		log.WithError(err).Warn("attach failed")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(s.cfg.WriteTimeout))
		sub.close()
		return
	}
	log.Info("subscriber connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer func() {
		cancel()
		s.deps.Streams.Detach(instrument, sub)
		sub.Queue.Close()
		sub.close()
		log.Info("subscriber disconnected")
	}()

	go s.writeLoop(ctx, sub)
	s.readLoop(sub)
}

// readLoop consumes client frames until the connection fails. Clients send
// nothing meaningful; reading keeps pong and close handling running.
func (s *Server) readLoop(sub *wsSubscriber) {
	deadline := s.cfg.PingInterval * 2
	_ = sub.conn.SetReadDeadline(time.Now().Add(deadline))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, sub *wsSubscriber) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	defer sub.close()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.C():
			if !ok {
				return
			}
			_ = sub.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.log.WithComponent("server").WithError(err).Debug("websocket write failed")
				}
				return
			}
			logger.RecordFlowMessage("websocket_out", len(payload))
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
