// Package transport exposes the orchestrator over the network. The
// websocket endpoint carries control messages in and event frames out;
// a plain HTTP endpoint streams a single turn as newline-delimited
// frames for clients that cannot hold a socket open.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	orchestration "github.com/brightboard/tutor-core/core"
	"github.com/brightboard/tutor-core/core/events"
)

// controlMessage is what clients send over the websocket.
type controlMessage struct {
	Action    string                       `json:"action"`
	SessionID string                       `json:"sessionId,omitempty"`
	Question  string                       `json:"question,omitempty"`
	Context   *orchestration.ContextBundle `json:"context,omitempty"`
	TurnID    string                       `json:"turnId,omitempty"`
}

const (
	actionAsk   = "ask"
	actionStop  = "stop"
	actionRerun = "rerun"
)

// questionRequest is the body of the one-shot HTTP streaming endpoint.
type questionRequest struct {
	SessionID string                       `json:"sessionId"`
	Question  string                       `json:"question"`
	Context   *orchestration.ContextBundle `json:"context,omitempty"`
}

// turnOptions converts an optional wire-level context bundle.
func turnOptions(bundle *orchestration.ContextBundle) []orchestration.TurnOption {
	if bundle == nil {
		return nil
	}
	return []orchestration.TurnOption{orchestration.WithContextBundle(*bundle)}
}

type Server struct {
	orchestrator *orchestration.Orchestrator
	upgrader     websocket.Upgrader
}

func NewServer(orchestrator *orchestration.Orchestrator) *Server {
	return &Server{
		orchestrator: orchestrator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler mounts the transport endpoints behind HTTP instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("POST /turns", s.handleTurnStream)
	return otelhttp.NewHandler(mux, "transport")
}

// handleTurnStream runs one turn and streams its frames as the chunked
// response body. The connection closing early cancels the turn.
func (s *Server) handleTurnStream(w http.ResponseWriter, r *http.Request) {
	var request questionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	handle, err := s.orchestrator.SubmitQuestion(r.Context(), request.SessionID, request.Question, turnOptions(request.Context)...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	go func() {
		<-r.Context().Done()
		handle.Cancel()
	}()

	encoder := events.NewEncoder(w)
	for event := range handle.Events() {
		if err := encoder.Encode(event); err != nil {
			logger.WarnContext(r.Context(), "dropping turn stream",
				"turnId", handle.ID(), "error", err)
			handle.Cancel()
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleWebsocket serves a long-lived client connection. Control messages
// arrive on the read side; every turn the client starts is pumped back as
// frames on the write side.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	session := &wsSession{server: s, conn: conn}
	session.readLoop(r.Context())
}

type wsSession struct {
	server *Server
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	handle *orchestration.TurnHandle
}

func (ws *wsSession) readLoop(ctx context.Context) {
	defer ws.conn.Close()

	for {
		_, payload, err := ws.conn.ReadMessage()
		if err != nil {
			ws.mu.Lock()
			if ws.handle != nil {
				ws.handle.Cancel()
			}
			ws.mu.Unlock()
			return
		}

		var message controlMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			ws.writeError(fmt.Sprintf("invalid control message: %v", err))
			continue
		}

		switch message.Action {
		case actionAsk:
			ws.ask(ctx, message.SessionID, message.Question, message.Context)
		case actionStop:
			ws.server.orchestrator.Stop(message.TurnID)
		case actionRerun:
			ws.rerun(ctx)
		default:
			ws.writeError(fmt.Sprintf("unknown action %q", message.Action))
		}
	}
}

func (ws *wsSession) ask(ctx context.Context, sessionID, question string, bundle *orchestration.ContextBundle) {
	ctx, span := tracer.Start(ctx, "websocket ask",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	handle, err := ws.server.orchestrator.SubmitQuestion(ctx, sessionID, question, turnOptions(bundle)...)
	if err != nil {
		span.RecordError(err)
		ws.writeError(err.Error())
		return
	}

	ws.mu.Lock()
	ws.handle = handle
	ws.mu.Unlock()

	go ws.pump(handle)
}

func (ws *wsSession) rerun(ctx context.Context) {
	ws.mu.Lock()
	handle := ws.handle
	ws.mu.Unlock()

	if handle == nil {
		ws.writeError("no turn to rerun")
		return
	}

	next, err := handle.Rerun(ctx)
	if err != nil {
		ws.writeError(err.Error())
		return
	}

	ws.mu.Lock()
	ws.handle = next
	ws.mu.Unlock()

	go ws.pump(next)
}

// pump forwards one turn's events to the socket. Events of superseded
// turns keep flowing until their terminal frame, so the client always
// sees every stream settle.
func (ws *wsSession) pump(handle *orchestration.TurnHandle) {
	for event := range handle.Events() {
		frame, err := events.Marshal(event)
		if err != nil {
			logger.Warn("failed to encode event", "turnId", handle.ID(), "error", err)
			continue
		}

		ws.writeMu.Lock()
		err = ws.conn.WriteMessage(websocket.TextMessage, frame)
		ws.writeMu.Unlock()
		if err != nil {
			handle.Cancel()
			return
		}
	}
}

func (ws *wsSession) writeError(message string) {
	frame, err := events.Marshal(events.NewError(message))
	if err != nil {
		return
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	ws.conn.WriteMessage(websocket.TextMessage, frame)
}
