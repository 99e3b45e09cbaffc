package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crowdsim/internal/core/crowd"
	"github.com/zeusync/crowdsim/internal/core/events/bus"
	"github.com/zeusync/crowdsim/internal/core/observability/log"
)

type gatewayFixture struct {
	ts     *httptest.Server
	bus    bus.Bus
	hub    *Hub
	queued []Command
}

func newGatewayFixture(t *testing.T, token string, enqueue func(Command) error) *gatewayFixture {
	t.Helper()
	fx := &gatewayFixture{bus: bus.New()}

	hub, err := NewHub(fx.bus, 8, log.NewNop())
	require.NoError(t, err)
	fx.hub = hub
	t.Cleanup(hub.Close)

	if enqueue == nil {
		enqueue = func(cmd Command) error {
			fx.queued = append(fx.queued, cmd)
			return nil
		}
	}
	stats := func() ServerStats {
		return ServerStats{
			Sim:      crowd.Stats{Tick: 42, Agents: 3},
			Digest:   "00000000deadbeef",
			TickRate: 20,
		}
	}

	g := NewGateway("127.0.0.1:0", token, hub, stats, enqueue, log.NewNop())
	fx.ts = httptest.NewServer(g.srv.Handler)
	t.Cleanup(fx.ts.Close)
	return fx
}

func postCommand(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/command", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Command-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCommandEndpointQueuesValidCommands(t *testing.T) {
	fx := newGatewayFixture(t, "", nil)

	resp := postCommand(t, fx.ts.URL, "", `{"op":"spawn","archetype":"patron","count":3}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "spawn", body["op"])

	require.Len(t, fx.queued, 1)
	assert.Equal(t, Command{Op: OpSpawn, Archetype: "patron", Count: 3}, fx.queued[0])
}

func TestCommandEndpointRejectsBadRequests(t *testing.T) {
	fx := newGatewayFixture(t, "", nil)

	resp, err := http.Get(fx.ts.URL + "/command")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = postCommand(t, fx.ts.URL, "", `{"op":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postCommand(t, fx.ts.URL, "", `{"op":"restart"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, fx.queued)
}

func TestCommandEndpointEnforcesToken(t *testing.T) {
	fx := newGatewayFixture(t, "sesame", nil)

	resp := postCommand(t, fx.ts.URL, "", `{"op":"spawn","archetype":"patron"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postCommand(t, fx.ts.URL, "wrong", `{"op":"spawn","archetype":"patron"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postCommand(t, fx.ts.URL, "sesame", `{"op":"spawn","archetype":"patron"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// query parameter works for clients that cannot set headers
	resp, err := http.Post(fx.ts.URL+"/command?token=sesame", "application/json",
		strings.NewReader(`{"op":"spawn","archetype":"patron"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Len(t, fx.queued, 2)
}

func TestCommandEndpointReportsBackpressure(t *testing.T) {
	fx := newGatewayFixture(t, "", func(Command) error { return ErrInboxFull })

	resp := postCommand(t, fx.ts.URL, "", `{"op":"spawn","archetype":"patron"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHealthzReportsTickAndPopulation(t *testing.T) {
	fx := newGatewayFixture(t, "", nil)

	resp, err := http.Get(fx.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(42), body["tick"])
	assert.Equal(t, float64(3), body["agents"])
}

func TestStatsEndpointServesSnapshot(t *testing.T) {
	fx := newGatewayFixture(t, "", nil)

	resp, err := http.Get(fx.ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st ServerStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, uint64(42), st.Sim.Tick)
	assert.Equal(t, "00000000deadbeef", st.Digest)
	assert.Equal(t, 20.0, st.TickRate)
}

func TestFeedStreamsBusEvents(t *testing.T) {
	fx := newGatewayFixture(t, "", nil)

	wsURL := "ws" + strings.TrimPrefix(fx.ts.URL, "http") + "/feed"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	// the handler subscribes after the handshake; wait for it
	waitFor(t, func() bool { return fx.hub.Subscribers() == 1 })

	require.NoError(t, fx.bus.Publish(feedEvent{EventKind: "agent.state", AgentID: "a-000007"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var got feedEvent
	require.NoError(t, json.Unmarshal(frame, &got))
	assert.Equal(t, "agent.state", got.EventKind)
	assert.Equal(t, "a-000007", got.AgentID)

	// closing the client tears the subscription down
	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return fx.hub.Subscribers() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
