package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notitap/internal/config"
	"notitap/internal/configflow"
	"notitap/internal/entry"
	"notitap/internal/host"
	"notitap/internal/integration"
	"notitap/internal/notification"
	"notitap/internal/util"
)

const apiKey = "secret"

type recorded struct {
	Kind, Name string
	Data       map[string]any
}

// recordingHost stands in for Home Assistant.
type recordingHost struct {
	mu      sync.Mutex
	seen    []recorded
	callErr error
}

func (h *recordingHost) Fire(_ context.Context, eventType string, data map[string]any) error {
	h.mu.Lock()
	h.seen = append(h.seen, recorded{Kind: "event", Name: eventType, Data: data})
	h.mu.Unlock()
	return nil
}

func (h *recordingHost) Listen(string, host.EventHandler) (func(), error) {
	return func() {}, nil
}

func (h *recordingHost) Call(_ context.Context, domain, service string, data map[string]any) error {
	h.mu.Lock()
	h.seen = append(h.seen, recorded{Kind: "call", Name: domain + "." + service, Data: data})
	h.mu.Unlock()
	return h.callErr
}

func (h *recordingHost) IsConnected() bool { return true }
func (h *recordingHost) HAVersion() string { return "2024.6.0" }

func (h *recordingHost) last(t *testing.T) recorded {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.seen)
	return h.seen[len(h.seen)-1]
}

func (h *recordingHost) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

type fixture struct {
	*httptest.Server
	ha      *recordingHost
	entries entry.Store
}

func newFixture(t *testing.T) *fixture {
	logger := util.NopLogger()
	ha := &recordingHost{}
	services := host.NewServices(logger)
	commands := host.NewCommands()
	entries := entry.NewMemoryStore()

	in := integration.New(integration.Config{}, ha, ha, services, commands, logger)
	require.NoError(t, in.Setup())

	flows := configflow.NewManager(entries, logger)
	flows.Register(notification.Domain, integration.ConfigFlow{})

	cfg := &config.Config{APIKey: apiKey, RateLimit: 100}
	s := New(cfg, Deps{
		Services:      services,
		Commands:      commands,
		Flows:         flows,
		Entries:       entries,
		HomeAssistant: ha,
		Domain:        notification.Domain,
	}, "test", logger)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{Server: ts, ha: ha, entries: entries}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.URL+"/api/services/notification_tap/notify", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(f.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_RemotePlainHTTP(t *testing.T) {
	f := newFixture(t)

	send := func(proto string) int {
		req, err := http.NewRequest(http.MethodGet, f.URL+"/api/config/config_entries/entry", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		if proto != "" {
			req.Header.Set("X-Forwarded-Proto", proto)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, send(""))
	assert.Equal(t, http.StatusUnauthorized, send("http"))
	assert.Equal(t, http.StatusOK, send("https"))
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", resp.Header.Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", resp.Header.Get("Content-Security-Policy"))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "test", health.Version)
	assert.False(t, health.Configured)
	assert.Equal(t, []string{"notification_tap.notify"}, health.Services)
	require.NotNil(t, health.HomeAssistant)
	assert.True(t, health.HomeAssistant.Connected)
	assert.Equal(t, "2024.6.0", health.HomeAssistant.Version)

	require.NoError(t, f.entries.Add(entry.New(notification.Domain, "x", notification.Domain, 1, nil)))
	_, body = f.do(t, http.MethodGet, "/health", nil)
	require.NoError(t, json.Unmarshal(body, &health))
	assert.True(t, health.Configured)
}

func TestServiceCall(t *testing.T) {
	t.Run("decorates and forwards", func(t *testing.T) {
		f := newFixture(t)

		resp, body := f.do(t, http.MethodPost, "/api/services/notification_tap/notify", map[string]any{
			"message": "Door open",
			"data":    map[string]any{"clickAction": "/lovelace/door"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `[]`, string(body))

		call := f.ha.last(t)
		assert.Equal(t, "call", call.Kind)
		assert.Equal(t, "notify.mobile_app", call.Name)
		data := call.Data["data"].(map[string]any)
		assert.Equal(t, notification.DefaultTag("Door open"), data["tag"])
		assert.Len(t, data["actions"], 1)
	})
	t.Run("schema error", func(t *testing.T) {
		f := newFixture(t)

		resp, body := f.do(t, http.MethodPost, "/api/services/notification_tap/notify", map[string]any{"title": "x"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "required key not provided @ data['message']")
	})
	t.Run("numeric message", func(t *testing.T) {
		f := newFixture(t)

		resp, _ := f.do(t, http.MethodPost, "/api/services/notification_tap/notify", map[string]any{"message": 42})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "42", f.ha.last(t).Data["message"])
	})
	t.Run("unknown service", func(t *testing.T) {
		f := newFixture(t)

		resp, _ := f.do(t, http.MethodPost, "/api/services/notification_tap/nope", map[string]any{})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
	t.Run("downstream failure", func(t *testing.T) {
		f := newFixture(t)
		f.ha.callErr = errors.New("boom")

		resp, body := f.do(t, http.MethodPost, "/api/services/notification_tap/notify", map[string]any{"message": "hi"})
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Contains(t, string(body), "boom")
	})
	t.Run("invalid json", func(t *testing.T) {
		f := newFixture(t)

		req, err := http.NewRequest(http.MethodPost, f.URL+"/api/services/notification_tap/notify", strings.NewReader("{"))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func dialWebsocket(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.URL, "http") + "/api/websocket?access_token=" + apiKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg any) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestWebsocket(t *testing.T) {
	f := newFixture(t)
	conn := dialWebsocket(t, f)

	reply := roundTrip(t, conn, map[string]any{
		"id":              1,
		"type":            notification.CommandClicked,
		"notification_id": "n-1",
		"action":          "open",
	})
	assert.Equal(t, float64(1), reply["id"])
	assert.Equal(t, "result", reply["type"])
	assert.Equal(t, true, reply["success"])

	ev := f.ha.last(t)
	assert.Equal(t, "event", ev.Kind)
	assert.Equal(t, notification.EventTapped, ev.Name)
	assert.Equal(t, map[string]any{
		"notification_id": "n-1",
		"action":          "open",
		"click_action":    nil,
		"data":            map[string]any{},
	}, ev.Data)

	reply = roundTrip(t, conn, map[string]any{"id": 2, "type": notification.CommandClicked, "action": "open"})
	assert.Equal(t, false, reply["success"])
	assert.Equal(t, codeInvalidFormat, reply["error"].(map[string]any)["code"])

	reply = roundTrip(t, conn, map[string]any{"type": notification.CommandClicked, "notification_id": "n-1", "action": "open"})
	assert.Equal(t, false, reply["success"])
	assert.Equal(t, codeInvalidFormat, reply["error"].(map[string]any)["code"])

	reply = roundTrip(t, conn, map[string]any{"id": "x", "type": notification.CommandClicked, "notification_id": "n-1", "action": "open"})
	assert.Equal(t, "x", reply["id"])
	assert.Equal(t, codeInvalidFormat, reply["error"].(map[string]any)["code"])
	assert.Equal(t, 1, f.ha.count())

	reply = roundTrip(t, conn, map[string]any{"id": 3, "type": "frontend/get_themes"})
	assert.Equal(t, codeUnknownCommand, reply["error"].(map[string]any)["code"])

	reply = roundTrip(t, conn, map[string]any{"id": 4, "type": "ping"})
	assert.Equal(t, "pong", reply["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var bad map[string]any
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Nil(t, bad["id"])
	assert.Equal(t, codeInvalidFormat, bad["error"].(map[string]any)["code"])
}

func TestConfigFlowEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/config/config_entries/flow", map[string]any{"handler": notification.Domain})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var form configflow.Result
	require.NoError(t, json.Unmarshal(body, &form))
	assert.Equal(t, configflow.ResultForm, form.Type)
	assert.Equal(t, configflow.StepUser, form.StepID)

	resp, body = f.do(t, http.MethodGet, "/api/config/config_entries/flow", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), form.FlowID)

	resp, body = f.do(t, http.MethodPost, "/api/config/config_entries/flow/"+form.FlowID, map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created configflow.Result
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, configflow.ResultCreateEntry, created.Type)
	assert.Equal(t, integration.EntryTitle, created.Title)
	require.NotNil(t, created.Result)

	resp, _ = f.do(t, http.MethodPost, "/api/config/config_entries/flow/"+form.FlowID, map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body = f.do(t, http.MethodPost, "/api/config/config_entries/flow", map[string]any{"handler": notification.Domain})
	require.NoError(t, json.Unmarshal(body, &form))
	_, body = f.do(t, http.MethodPost, "/api/config/config_entries/flow/"+form.FlowID, map[string]any{})
	var aborted configflow.Result
	require.NoError(t, json.Unmarshal(body, &aborted))
	assert.Equal(t, configflow.ResultAbort, aborted.Type)
	assert.Equal(t, configflow.ReasonAlreadyConfigured, aborted.Reason)

	resp, body = f.do(t, http.MethodGet, "/api/config/config_entries/entry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []entry.Entry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, created.Result.EntryID, entries[0].EntryID)

	resp, _ = f.do(t, http.MethodDelete, "/api/config/config_entries/entry/"+entries[0].EntryID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/config/config_entries/entry/"+entries[0].EntryID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/config/config_entries/flow", map[string]any{"handler": "hue"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	h := rateLimitMiddleware(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	status := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, status("203.0.113.7:4000"))
	assert.Equal(t, http.StatusOK, status("203.0.113.7:4000"))
	assert.Equal(t, http.StatusTooManyRequests, status("203.0.113.7:4000"))
	assert.Equal(t, http.StatusOK, status("203.0.113.8:4000"))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, status("127.0.0.1:4000"))
	}
}
