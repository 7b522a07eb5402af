package mcptest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/MegaGrindStone/go-mcp-bench/mcp"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEPath and MessagesPath are the routes served by SSEHandler.
const (
	SSEPath      = "/sse"
	MessagesPath = "/messages"
)

type sseSession struct {
	id   string
	sess *sse.Session

	// mu serializes writes, the sse session isn't safe for concurrent use.
	mu     sync.Mutex
	closed bool
}

// SSEHandler returns the HTTP handler of the SSE transport: GET SSEPath opens the stream
// and announces a relative message endpoint, POST MessagesPath?sessionId=... accepts a
// message with 202 and delivers the answer over the stream.
func (s *Server) SSEHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+SSEPath, http.HandlerFunc(s.handleSSE))
	mux.Handle("POST "+MessagesPath, http.HandlerFunc(s.handleMessage))
	return mux
}

// StartSSE serves the SSE transport on a local httptest server. It returns the connect URL
// and a function that shuts everything down.
func (s *Server) StartSSE() (string, func()) {
	srv := httptest.NewServer(s.SSEHandler())
	return srv.URL + SSEPath, func() {
		s.Close()
		srv.Close()
	}
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("failed to upgrade session", "err", err)
		http.Error(w, fmt.Sprintf("failed to upgrade session: %v", err), http.StatusInternalServerError)
		return
	}

	ss := &sseSession{
		id:   uuid.New().String(),
		sess: sess,
	}

	// Registered before the endpoint is announced, the client may post right away.
	s.sessionsMu.Lock()
	s.sessions[ss.id] = ss
	s.sessionsMu.Unlock()

	msg := &sse.Message{
		Type: sse.Type("endpoint"),
	}
	msg.AppendData(fmt.Sprintf("%s?sessionId=%s", MessagesPath, ss.id))
	if err := ss.send(msg); err != nil {
		s.logger.Error("failed to write endpoint", "err", err)
		s.sessionsMu.Lock()
		delete(s.sessions, ss.id)
		s.sessionsMu.Unlock()
		return
	}

	defer func() {
		s.sessionsMu.Lock()
		delete(s.sessions, ss.id)
		s.sessionsMu.Unlock()

		ss.mu.Lock()
		ss.closed = true
		ss.mu.Unlock()
	}()

	// Keep the stream open until the client leaves or the server closes.
	select {
	case <-r.Context().Done():
	case <-s.done:
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessID := r.URL.Query().Get("sessionId")
	if sessID == "" {
		http.Error(w, "missing sessionId query parameter", http.StatusBadRequest)
		return
	}

	s.sessionsMu.Lock()
	ss, ok := s.sessions[sessID]
	s.sessionsMu.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var msg mcp.JSONRPCMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode message: %v", err), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// The answer goes over the stream, after the POST returned.
	go func() {
		res, ok := s.handle(context.Background(), msg)
		if !ok {
			return
		}
		bs, err := json.Marshal(res)
		if err != nil {
			s.logger.Error("failed to marshal message", "err", err)
			return
		}
		ev := &sse.Message{
			Type: sse.Type("message"),
		}
		ev.AppendData(string(bs))
		if err := ss.send(ev); err != nil {
			s.logger.Warn("failed to send message", "session", ss.id, "err", err)
		}
	}()
}

func (ss *sseSession) send(msg *sse.Message) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.closed {
		return fmt.Errorf("session %s is closed", ss.id)
	}
	if err := ss.sess.Send(msg); err != nil {
		return err
	}
	return ss.sess.Flush()
}
