// Package configflow runs the setup dialog that creates config entries.
package configflow

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"notitap/internal/entry"
)

var (
	ErrUnknownFlow    = errors.New("unknown flow")
	ErrUnknownHandler = errors.New("unknown config flow handler")
	ErrUnknownStep    = errors.New("unknown flow step")
)

const (
	StepUser = "user"

	ReasonAlreadyConfigured = "already_configured"
)

type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
	ResultAbort       ResultType = "abort"
)

type Result struct {
	Type       ResultType        `json:"type"`
	FlowID     string            `json:"flow_id"`
	Handler    string            `json:"handler"`
	StepID     string            `json:"step_id,omitempty"`
	DataSchema []any             `json:"data_schema,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Title      string            `json:"title,omitempty"`
	Version    int               `json:"version,omitempty"`
	Result     *entry.Entry      `json:"result,omitempty"`
}

// Handler implements the steps of one integration's flow.
type Handler interface {
	Version() int
	Step(f *Flow, stepID string, input map[string]any) (Result, error)
}

// Flow is one run of a handler. Handlers use its helpers to build results.
type Flow struct {
	ID       string
	Handler  string
	UniqueID string

	version int
	entries entry.Store
}

func (f *Flow) ShowForm(stepID string) Result {
	return Result{
		Type:       ResultForm,
		FlowID:     f.ID,
		Handler:    f.Handler,
		StepID:     stepID,
		DataSchema: []any{},
		Errors:     map[string]string{},
	}
}

func (f *Flow) Abort(reason string) Result {
	return Result{
		Type:    ResultAbort,
		FlowID:  f.ID,
		Handler: f.Handler,
		Reason:  reason,
	}
}

func (f *Flow) SetUniqueID(uniqueID string) {
	f.UniqueID = uniqueID
}

// UniqueIDConfigured reports whether an entry with the flow's unique id
// already exists for the handler's domain.
func (f *Flow) UniqueIDConfigured() (bool, error) {
	if f.UniqueID == "" {
		return false, nil
	}
	existing, err := f.entries.FindByUniqueID(f.Handler, f.UniqueID)
	if err != nil {
		return false, fmt.Errorf("failed to look up unique id: %w", err)
	}
	return existing != nil, nil
}

func (f *Flow) CreateEntry(title string, data map[string]any) (Result, error) {
	e := entry.New(f.Handler, title, f.UniqueID, f.version, data)
	if err := f.entries.Add(e); err != nil {
		if errors.Is(err, entry.ErrAlreadyExists) {
			return f.Abort(ReasonAlreadyConfigured), nil
		}
		return Result{}, fmt.Errorf("failed to create entry: %w", err)
	}

	return Result{
		Type:    ResultCreateEntry,
		FlowID:  f.ID,
		Handler: f.Handler,
		Title:   title,
		Version: f.version,
		Result:  &e,
	}, nil
}

type Manager struct {
	entries entry.Store
	logger  *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	flows    map[string]*progress
}

type progress struct {
	flow   *Flow
	stepID string
}

func NewManager(entries entry.Store, logger *slog.Logger) *Manager {
	return &Manager{
		entries:  entries,
		logger:   logger,
		handlers: make(map[string]Handler),
		flows:    make(map[string]*progress),
	}
}

func (m *Manager) Register(domain string, h Handler) {
	m.mu.Lock()
	m.handlers[domain] = h
	m.mu.Unlock()
}

// Init starts a flow for handler at the user step.
func (m *Manager) Init(handler string) (Result, error) {
	m.mu.Lock()
	h, ok := m.handlers[handler]
	m.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownHandler, handler)
	}

	f := &Flow{
		ID:      uuid.NewString(),
		Handler: handler,
		version: h.Version(),
		entries: m.entries,
	}
	return m.run(h, f, StepUser, nil)
}

// Configure submits user input to the step a flow is waiting on.
func (m *Manager) Configure(flowID string, input map[string]any) (Result, error) {
	m.mu.Lock()
	p, ok := m.flows[flowID]
	var h Handler
	if ok {
		h = m.handlers[p.flow.Handler]
	}
	m.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownFlow, flowID)
	}

	if input == nil {
		input = map[string]any{}
	}
	return m.run(h, p.flow, p.stepID, input)
}

func (m *Manager) Abort(flowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flows[flowID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFlow, flowID)
	}
	delete(m.flows, flowID)
	return nil
}

// InProgress lists flows waiting for input.
func (m *Manager) InProgress() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Result, 0, len(m.flows))
	for _, p := range m.flows {
		out = append(out, Result{
			Type:    ResultForm,
			FlowID:  p.flow.ID,
			Handler: p.flow.Handler,
			StepID:  p.stepID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlowID < out[j].FlowID })
	return out
}

func (m *Manager) run(h Handler, f *Flow, stepID string, input map[string]any) (Result, error) {
	res, err := h.Step(f, stepID, input)
	if err != nil {
		m.mu.Lock()
		delete(m.flows, f.ID)
		m.mu.Unlock()
		return Result{}, err
	}

	m.mu.Lock()
	if res.Type == ResultForm {
		m.flows[f.ID] = &progress{flow: f, stepID: res.StepID}
	} else {
		delete(m.flows, f.ID)
	}
	m.mu.Unlock()

	switch res.Type {
	case ResultCreateEntry:
		m.logger.Info("Created config entry", "domain", f.Handler, "entryID", res.Result.EntryID, "title", res.Title)
	case ResultAbort:
		m.logger.Info("Config flow aborted", "domain", f.Handler, "reason", res.Reason)
	}

	return res, nil
}
