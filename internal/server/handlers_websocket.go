package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"notitap/internal/host"
)

const maxCommandSize = 1 << 20

// Error codes of failed command results, as Home Assistant names them.
const (
	codeInvalidFormat  = "invalid_format"
	codeUnknownCommand = "unknown_command"
	codeHomeAssistant  = "home_assistant_error"
)

type commandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleWebsocket serves registered websocket commands. Each message is
// answered in order with a result message carrying the same id.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxCommandSize)
	ctx := r.Context()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Websocket read ended", "error", err)
			}
			return
		}

		if err := conn.WriteJSON(s.runCommand(ctx, raw)); err != nil {
			s.logger.Debug("Websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) runCommand(ctx context.Context, raw []byte) map[string]any {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil || msg == nil {
		return errorResult(nil, codeInvalidFormat, "Message incorrectly formatted.")
	}

	id := msg["id"]
	commandType, _ := msg["type"].(string)
	if commandType == "" {
		return errorResult(id, codeInvalidFormat, "Message incorrectly formatted.")
	}
	if commandType == "ping" {
		return map[string]any{"id": id, "type": "pong"}
	}

	err := s.deps.Commands.Handle(ctx, msg)

	var verr *host.ValidationError
	switch {
	case err == nil:
		return map[string]any{"id": id, "type": "result", "success": true, "result": nil}
	case errors.Is(err, host.ErrUnknownCommand):
		return errorResult(id, codeUnknownCommand, "Unknown command.")
	case errors.As(err, &verr):
		s.logger.Warn("Rejected websocket command", "type", commandType, "error", err)
		return errorResult(id, codeInvalidFormat, err.Error())
	default:
		s.logger.Debug("Websocket command failed", "type", commandType, "error", err)
		return errorResult(id, codeHomeAssistant, err.Error())
	}
}

func errorResult(id any, code, message string) map[string]any {
	return map[string]any{
		"id":      id,
		"type":    "result",
		"success": false,
		"error":   commandError{Code: code, Message: message},
	}
}
