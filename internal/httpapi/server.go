package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/duplex/internal/config"
	"github.com/ent0n29/duplex/internal/documents"
	"github.com/ent0n29/duplex/internal/observability"
	"github.com/ent0n29/duplex/internal/protocol"
	"github.com/ent0n29/duplex/internal/session"
)

type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	documents    documents.Store
	metrics      *observability.Metrics
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, docs documents.Store, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		documents:    docs,
		metrics:      metrics,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only drive a session from the serving origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Post("/v1/voice/session/{id}/end", s.handleEndSession)
	r.Put("/v1/voice/session/{id}/document", s.handleAttachDocument)
	r.Delete("/v1/voice/session/{id}/document", s.handleDetachDocument)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		req.VoiceID = s.cfg.SynthVoice
	}

	sess := s.sessions.Create(req.VoiceID)
	s.metrics.Event("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:        sess.ID,
		Status:           sess.Status,
		VoiceID:          sess.VoiceID,
		StartedAt:        sess.StartedAt,
		LastActivityAt:   sess.LastActivityAt,
		ConnectTimeoutMS: s.sessions.ConnectTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type attachDocumentRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type attachDocumentResponse struct {
	SessionID  string    `json:"session_id"`
	Name       string    `json:"name"`
	Chars      int       `json:"chars"`
	AttachedAt time.Time `json:"attached_at"`
}

func (s *Server) handleAttachDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.documents == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "document store not configured")
		return
	}
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	var req attachDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	doc := documents.Document{
		SessionID:  id,
		Name:       strings.TrimSpace(req.Name),
		Text:       req.Text,
		AttachedAt: time.Now().UTC(),
	}
	if err := s.documents.Attach(r.Context(), doc); err != nil {
		s.logger.Warn("attach document failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "document_store_error", "could not store document")
		return
	}
	s.metrics.Event("document_attached")
	respondJSON(w, http.StatusOK, attachDocumentResponse{
		SessionID:  id,
		Name:       doc.Name,
		Chars:      len([]rune(doc.Text)),
		AttachedAt: doc.AttachedAt,
	})
}

func (s *Server) handleDetachDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.documents == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "document store not configured")
		return
	}
	err := s.documents.Detach(r.Context(), id)
	switch {
	case errors.Is(err, documents.ErrNotFound):
		respondError(w, http.StatusNotFound, "document_not_found", err.Error())
	case err != nil:
		s.logger.Warn("detach document failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "document_store_error", "could not remove document")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	sess, err := s.sessions.Attach(sessionID)
	switch {
	case errors.Is(err, session.ErrAttached):
		respondError(w, http.StatusConflict, "session_in_use", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	defer func() {
		_ = s.sessions.Disconnect(sessionID)
		s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.metrics.Event("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	// Unblocks the reader once any goroutine gives up.
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	g.Go(func() error {
		defer cancel()
		return s.orchestrator.RunConnection(gctx, sess, inbound, outbound)
	})
	g.Go(func() error {
		defer cancel()
		return s.writeLoop(gctx, conn, outbound)
	})
	g.Go(func() error {
		defer cancel()
		defer close(inbound)
		return s.readLoop(gctx, conn, inbound)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("websocket session ended", zap.String("session_id", sessionID), zap.Error(err))
	}
	s.metrics.Event("ws_disconnected")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, inbound chan<- any) error {
	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		var parsed any
		switch msgType {
		case websocket.BinaryMessage:
			parsed = protocol.ClientAudioFrame{PCM: data}
			s.metrics.WSMessage("inbound", "audio")
		case websocket.TextMessage:
			parsed, err = protocol.ParseClientMessage(data)
			if err != nil {
				// Malformed frames are dropped without closing the connection.
				s.metrics.WSMessage("inbound", "malformed")
				continue
			}
			s.metrics.WSMessage("inbound", inboundType(parsed))
		default:
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case inbound <- parsed:
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan any) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			var err error
			if frame, ok := msg.(protocol.AudioFrame); ok {
				err = conn.WriteMessage(websocket.BinaryMessage, frame.Data)
			} else {
				err = conn.WriteJSON(msg)
			}
			msgType, _ := protocol.MessageMeta(msg)
			if err != nil {
				s.metrics.WSMessage("outbound_error", msgType)
				return err
			}
			s.metrics.WSMessage("outbound", msgType)
		}
	}
}

func inboundType(msg any) string {
	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		return string(m.Type)
	case protocol.ClientControl:
		return string(m.Type)
	default:
		return "unknown"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
