package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carscope/carscope/internal/realtime"
	"github.com/carscope/carscope/internal/search"
	"github.com/carscope/carscope/internal/store"
	"github.com/carscope/carscope/internal/task"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := realtime.NewRegistry(0)
	disp := realtime.NewDispatcher(reg)
	disp.Start()
	t.Cleanup(disp.Stop)

	agg := search.NewAggregator(time.Second,
		search.NewCatalogSource("autotrader", nil),
		search.NewCatalogSource("kijiji", nil),
	)
	pipeline := search.NewPipeline(agg, store.NewSaver(db))
	orch := task.NewOrchestrator(pipeline, disp, reg, time.Minute)

	srv := NewServer(reg, disp, realtime.NewMessageHandler(reg), orch, db)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func postJSON(t *testing.T, url string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&out))
	return out
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, body := getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_StartSearch_RequiresQuery(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, body := postJSON(t, ts.URL+"/ws/search", map[string]any{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
}

func TestServer_StartSearch_RejectsMalformedBody(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/ws/search", "application/json", strings.NewReader("{broken"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SearchLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, body := postJSON(t, ts.URL+"/ws/search", map[string]any{"query": "honda civic under 20000"})
	require.Equal(t, http.StatusOK, status)
	taskID, _ := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	require.Eventually(t, func() bool {
		_, body := getJSON(t, ts.URL+"/ws/task/"+taskID+"/status")
		ts, _ := body["task_status"].(map[string]any)
		return ts["status"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)

	_, body = getJSON(t, ts.URL+"/ws/task/"+taskID+"/status")
	snap := body["task_status"].(map[string]any)
	assert.InDelta(t, 100, snap["progress_percentage"], 0.001)
	assert.Equal(t, "honda civic under 20000", snap["query"])

	// The finished run is persisted.
	_, body = getJSON(t, ts.URL+"/api/searches/recent")
	searches, _ := body["searches"].([]any)
	assert.NotEmpty(t, searches)

	_, body = getJSON(t, ts.URL+"/api/listings/recent")
	listings, _ := body["listings"].([]any)
	assert.NotEmpty(t, listings)
}

func TestServer_TaskStatus_Unknown404(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, _ := getJSON(t, ts.URL+"/ws/task/ghost/status")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_CancelTask_Unknown404(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, _ := postJSON(t, ts.URL+"/ws/task/ghost/cancel", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_ListTasks(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	_, body := postJSON(t, ts.URL+"/ws/search", map[string]any{"query": "toyota corolla"})
	require.NotEmpty(t, body["task_id"])

	status, body := getJSON(t, ts.URL+"/ws/tasks")
	assert.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, body["total_count"], 0.001)
}

func TestServer_Connections_EmptyByDefault(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, body := getJSON(t, ts.URL+"/ws/connections")
	assert.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 0, body["active_connections"], 0.001)
}

func TestServer_Cleanup_RejectsBadMaxAge(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, _ := postJSON(t, ts.URL+"/ws/cleanup?max_age_hours=nope", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_Cleanup_EvictsFinishedTasks(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	_, body := postJSON(t, ts.URL+"/ws/search", map[string]any{"query": "honda civic"})
	taskID := body["task_id"].(string)

	require.Eventually(t, func() bool {
		_, body := getJSON(t, ts.URL+"/ws/task/"+taskID+"/status")
		snap, _ := body["task_status"].(map[string]any)
		return snap["status"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)

	status, body := postJSON(t, ts.URL+"/ws/cleanup?max_age_hours=0", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, body["cleaned_count"], 0.001)

	status, _ = getJSON(t, ts.URL+"/ws/task/"+taskID+"/status")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_PingAll_NoConnections(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, body := postJSON(t, ts.URL+"/ws/ping", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 0, body["sent_count"], 0.001)
}

func TestServer_SystemStatusBroadcast(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	status, body := postJSON(t, ts.URL+"/ws/system/status", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(frame, &out))
	return out
}

func TestServer_WebSocket_ConnectAckAndPing(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	conn := dialWS(t, ts, "/ws/client-42")

	ack := readEnvelope(t, conn)
	assert.Equal(t, "connect", ack["type"])
	assert.Equal(t, "client-42", ack["client_id"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	pong := readEnvelope(t, conn)
	assert.Equal(t, "pong", pong["type"])

	_, body := getJSON(t, ts.URL+"/ws/connections")
	assert.InDelta(t, 1, body["active_connections"], 0.001)
}

func TestServer_WebSocket_GeneratesClientID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	conn := dialWS(t, ts, "/ws")

	ack := readEnvelope(t, conn)
	assert.Equal(t, "connect", ack["type"])
	assert.NotEmpty(t, ack["client_id"])
}

func TestServer_WebSocket_SubscriberReceivesTaskEvents(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	conn := dialWS(t, ts, "/ws?client_id=watcher")
	_ = readEnvelope(t, conn) // connect ack

	_, body := postJSON(t, ts.URL+"/ws/search", map[string]any{
		"query":     "honda civic under 20000",
		"client_id": "watcher",
	})
	taskID, _ := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	// Drive the stream until the terminal event; order within is
	// progress events followed by results and completion.
	seen := map[string]bool{}
	var progress []float64
	for i := 0; i < 50; i++ {
		env := readEnvelope(t, conn)
		kind, _ := env["type"].(string)
		seen[kind] = true
		if kind == "search_progress" {
			data, _ := env["data"].(map[string]any)
			pct, ok := data["progress_percentage"].(float64)
			require.True(t, ok, "progress frame without a percentage")
			progress = append(progress, pct)
		}
		if kind == "task_complete" {
			break
		}
	}

	assert.True(t, seen["search_progress"], "expected progress events")
	assert.True(t, seen["search_results"], "expected the results event")
	assert.True(t, seen["task_complete"], "expected the completion event")

	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1],
			"progress went backwards at frame %d: %v", i, progress)
	}
	assert.InDelta(t, 100, progress[len(progress)-1], 0.001)
}

func TestServer_WebSocket_ReconnectSameClientID(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	stale := dialWS(t, ts, "/ws?client_id=dup")
	ack := readEnvelope(t, stale)
	require.Equal(t, "connect", ack["type"])

	fresh := dialWS(t, ts, "/ws?client_id=dup")
	ack = readEnvelope(t, fresh)
	require.Equal(t, "connect", ack["type"])

	// The server closes the replaced socket.
	require.NoError(t, stale.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := stale.ReadMessage()
	require.Error(t, err)

	// The replacement must stay registered and usable after the stale
	// read loop has run its cleanup.
	for i := 0; i < 5; i++ {
		require.NoError(t, fresh.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
		pong := readEnvelope(t, fresh)
		require.Equal(t, "pong", pong["type"])
		time.Sleep(50 * time.Millisecond)
	}

	_, body := getJSON(t, ts.URL+"/ws/connections")
	assert.InDelta(t, 1, body["active_connections"], 0.001)
}

func TestClientIP_PrefersForwardedHeaders(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "192.0.2.10", clientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
