// Package host describes the primitives the integration borrows from the
// home automation host: the event bus, service dispatch, and websocket
// commands. The bus and outbound dispatch are implemented by the Home
// Assistant client; services and commands are registered locally and served
// over HTTP and websocket.
package host

import (
	"context"
	"errors"
)

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrServiceExists   = errors.New("service already registered")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrNotConnected    = errors.New("not connected to host")
)

type Event struct {
	Type string         `json:"event_type"`
	Data map[string]any `json:"data"`
}

type EventHandler func(ctx context.Context, event Event)

// Bus is the host event bus. Fire does not wait for delivery and is never
// retried. Listen returns a func that removes the listener.
type Bus interface {
	Fire(ctx context.Context, eventType string, data map[string]any) error
	Listen(eventType string, handler EventHandler) (func(), error)
}

// ServiceCaller invokes a service on the host and waits for it to finish.
type ServiceCaller interface {
	Call(ctx context.Context, domain, service string, data map[string]any) error
}
