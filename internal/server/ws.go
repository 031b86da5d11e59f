package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mbakker/convel-go/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

const (
	wsWriteWait = 10 * time.Second
	// Long enough for a user typing the next turn
	wsReadWait = 5 * time.Minute
)

type wsTurnMessage struct {
	Speaker   string `json:"speaker"`
	Utterance string `json:"utterance"`
}

type wsResponse struct {
	Session      string                 `json:"session"`
	Conversation []models.AnnotatedTurn `json:"conversation,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// handleConversationWS runs an incremental annotation session. Every message
// appends one turn; the reply carries the whole conversation re-annotated, so
// personal mentions can resolve against antecedents from earlier turns. A
// turn that fails validation or annotation is discarded and the error is
// reported on the socket.
func (s *Server) handleConversationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	session := uuid.New().String()
	logger := s.logger.With("session", session)
	logger.Info("conversation session opened", "remote", r.RemoteAddr)

	var conv []models.Turn
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))

		var msg wsTurnMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("conversation session read error", "error", err)
			}
			break
		}

		conv = append(conv, models.Turn{Speaker: msg.Speaker, Utterance: msg.Utterance})

		annotated, err := s.annotator.Annotate(r.Context(), conv)
		if err != nil {
			// Drop the offending turn so the session can continue
			conv = conv[:len(conv)-1]
			s.writeWS(conn, logger, wsResponse{Session: session, Error: err.Error()})
			continue
		}

		s.writeWS(conn, logger, wsResponse{Session: session, Conversation: annotated})
	}

	logger.Info("conversation session closed", "turns", len(conv))
}

func (s *Server) writeWS(conn *websocket.Conn, logger *slog.Logger, resp wsResponse) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(resp); err != nil {
		logger.Warn("conversation session write error", "error", err)
	}
}
