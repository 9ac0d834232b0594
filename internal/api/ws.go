package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement belongs to the edge proxy; browsers cannot set
	// custom headers on websocket dials.
	CheckOrigin: func(*http.Request) bool { return true },
}

var errSubscriberStalled = errors.New("subscriber send buffer full")

// wsSubscriber bridges one websocket connection into the registry. Send
// never blocks: a full buffer marks the peer as stalled and the registry
// disconnects it.
type wsSubscriber struct {
	conn         *websocket.Conn
	send         chan realtime.Envelope
	writeTimeout time.Duration
	closeOnce    sync.Once
	done         chan struct{}
	logger       *zap.Logger
}

func (s *Server) newSubscriber(conn *websocket.Conn) *wsSubscriber {
	buffer := s.cfg.Realtime.SubscriberBuffer
	if buffer <= 0 {
		buffer = 64
	}
	return &wsSubscriber{
		conn:         conn,
		send:         make(chan realtime.Envelope, buffer),
		writeTimeout: time.Duration(s.cfg.Realtime.WriteTimeoutSecs) * time.Second,
		done:         make(chan struct{}),
		logger:       s.logger,
	}
}

func (ws *wsSubscriber) Send(env realtime.Envelope) error {
	select {
	case <-ws.done:
		return errors.New("subscriber closed")
	default:
	}
	select {
	case ws.send <- env:
		return nil
	default:
		return errSubscriberStalled
	}
}

func (ws *wsSubscriber) Close() {
	ws.closeOnce.Do(func() {
		close(ws.done)
		_ = ws.conn.Close()
	})
}

// writePump serializes all writes to the connection, interleaving queued
// envelopes with heartbeat frames.
func (ws *wsSubscriber) writePump(heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case env := <-ws.send:
			if ws.writeTimeout > 0 {
				_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
			}
			if err := ws.conn.WriteJSON(env); err != nil {
				ws.logger.Debug("websocket write failed", zap.Error(err))
				ws.Close()
				return
			}
		case <-ticker.C:
			env, err := realtime.NewEnvelope(realtime.TypeHeartbeat, map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			})
			if err != nil {
				continue
			}
			if ws.writeTimeout > 0 {
				_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
			}
			if err := ws.conn.WriteJSON(env); err != nil {
				ws.Close()
				return
			}
		case <-ws.done:
			return
		}
	}
}

type clientMessage struct {
	Type string `json:"type"`
}

// wsJob streams lifecycle events for one job.
func (s *Server) wsJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.newSubscriber(conn)
	s.registry.Subscribe(jobID, sub)
	go sub.writePump(s.cfg.HeartbeatDuration())

	s.sendEnvelope(sub, realtime.TypeConnectionEstablished, map[string]any{
		"job_id":    jobID,
		"timestamp": s.now().Format(time.RFC3339Nano),
	})
	// Late subscribers get the last known status immediately.
	if status, ok := s.jobs.Get(jobID); ok {
		s.sendEnvelope(sub, realtime.TypeJobProgress, status)
	}

	s.readLoop(conn, sub, func(msg clientMessage) {
		switch msg.Type {
		case "ping":
			s.sendEnvelope(sub, realtime.TypePong, map[string]string{
				"timestamp": s.now().Format(time.RFC3339Nano),
			})
		case "get_status":
			status, ok := s.jobs.Get(jobID)
			if !ok {
				status = realtime.JobStatus{JobID: jobID, Status: realtime.JobStatusPending}
			}
			s.sendEnvelope(sub, realtime.TypeJobProgress, status)
		}
	})

	s.registry.Disconnect(sub)
}

// wsNotifications streams the global topic: lead discoveries, completions,
// quality alerts, and system notifications across all jobs.
func (s *Server) wsNotifications(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.newSubscriber(conn)
	s.registry.Subscribe(realtime.TopicGlobal, sub)
	go sub.writePump(s.cfg.HeartbeatDuration())

	s.sendEnvelope(sub, realtime.TypeConnectionEstablished, map[string]any{
		"topic":     "notifications",
		"timestamp": s.now().Format(time.RFC3339Nano),
	})

	s.readLoop(conn, sub, func(msg clientMessage) {
		switch msg.Type {
		case "ping":
			s.sendEnvelope(sub, realtime.TypePong, map[string]string{
				"timestamp": s.now().Format(time.RFC3339Nano),
			})
		case "get_stats":
			s.sendEnvelope(sub, realtime.TypeConnectionStats, s.registry.SnapshotStats())
		case "get_scheduler_status":
			s.sendEnvelope(sub, realtime.TypeSchedulerStatus, s.runner.Snapshot())
		}
	})

	s.registry.Disconnect(sub)
}

// wsHealth reports connection statistics over plain HTTP for probes.
func (s *Server) wsHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.SnapshotStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"connections": stats.TotalConnections,
		"topics":      stats.Topics,
	})
}

// readLoop consumes client frames until the peer goes away, refreshing the
// read deadline on traffic and pongs.
func (s *Server) readLoop(conn *websocket.Conn, sub *wsSubscriber, handle func(clientMessage)) {
	readTimeout := time.Duration(s.cfg.Realtime.ReadTimeoutSecs) * time.Second
	if s.cfg.Realtime.MaxMessageBytes > 0 {
		conn.SetReadLimit(int64(s.cfg.Realtime.MaxMessageBytes))
	}
	resetDeadline := func() {
		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
	}
	resetDeadline()
	conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		resetDeadline()
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		handle(msg)
	}
}

func (s *Server) sendEnvelope(sub *wsSubscriber, t realtime.EventType, payload any) {
	env, err := realtime.NewEnvelope(t, payload)
	if err != nil {
		s.logger.Warn("encode websocket payload failed", zap.Error(err))
		return
	}
	if err := sub.Send(env); err != nil {
		s.logger.Debug("websocket send failed", zap.Error(err))
	}
}

func (s *Server) now() time.Time {
	if s.clock != nil {
		return s.clock.Now().UTC()
	}
	return time.Now().UTC()
}
