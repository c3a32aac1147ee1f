package homeassistant

import (
	"encoding/json"
	"fmt"
)

const (
	msgAuthRequired = "auth_required"
	msgAuth         = "auth"
	msgAuthOK       = "auth_ok"
	msgAuthInvalid  = "auth_invalid"
	msgResult       = "result"
	msgEvent        = "event"
	msgPong         = "pong"

	cmdSubscribeEvents   = "subscribe_events"
	cmdUnsubscribeEvents = "unsubscribe_events"
	cmdFireEvent         = "fire_event"
	cmdCallService       = "call_service"
)

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

type incoming struct {
	ID        int             `json:"id"`
	Type      string          `json:"type"`
	HAVersion string          `json:"ha_version,omitempty"`
	Message   string          `json:"message,omitempty"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ResultError    `json:"error,omitempty"`
	Event     *eventPayload   `json:"event,omitempty"`
}

type eventPayload struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Origin    string         `json:"origin,omitempty"`
	TimeFired string         `json:"time_fired,omitempty"`
}

// ResultError is an unsuccessful command result.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type result struct {
	err error
}
