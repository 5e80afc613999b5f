package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwtor7/agenthud/internal/event"
)

type wireEnvelope struct {
	Event map[string]any `json:"event"`
	Seq   uint64         `json:"seq"`
}

func newTestServer(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(nil)
	handler := NewHandler(hub, 3356, "test-version", nil)

	router := gin.New()
	handler.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env wireEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// readUntilClose drains frames until the server closes, returning the code.
func readUntilClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce, "expected a close frame, got %v", err)
		return ce.Code
	}
}

func TestConnect_SendsStatusThenSnapshot(t *testing.T) {
	hub, url := newTestServer(t)
	hub.SetOnConnect(func(send func(event.Event)) {
		send(&event.SessionStart{
			Meta:      event.NewMeta(event.TypeSessionStart),
			SessionID: "s1",
		})
	})

	conn := dial(t, url)

	status := readEnvelope(t, conn)
	assert.EqualValues(t, 1, status.Seq)
	assert.Equal(t, "connection_status", status.Event["type"])
	assert.Equal(t, "connected", status.Event["status"])
	assert.Equal(t, "test-version", status.Event["serverVersion"])

	snap := readEnvelope(t, conn)
	assert.EqualValues(t, 2, snap.Seq)
	assert.Equal(t, "session_start", snap.Event["type"])
	assert.Equal(t, "s1", snap.Event["sessionId"])
}

func TestBroadcast_SeqIsMonotonic(t *testing.T) {
	hub, url := newTestServer(t)
	conn := dial(t, url)
	readEnvelope(t, conn) // connection_status

	hub.Broadcast(&event.Thinking{Meta: event.NewMeta(event.TypeThinking), Content: "a"})
	hub.Broadcast(&event.Thinking{Meta: event.NewMeta(event.TypeThinking), Content: "b"})

	first := readEnvelope(t, conn)
	second := readEnvelope(t, conn)
	assert.Equal(t, "thinking", first.Event["type"])
	assert.Greater(t, second.Seq, first.Seq)
}

func TestBroadcast_SeqMonotonicUnderConcurrency(t *testing.T) {
	hub, url := newTestServer(t)
	conn := dial(t, url)
	readEnvelope(t, conn) // connection_status

	const writers = 16
	const perWriter = 15

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				hub.Broadcast(&event.Thinking{
					Meta:    event.NewMeta(event.TypeThinking),
					Content: "c",
				})
			}
		}()
	}

	var last uint64 = 1 // seq of the connection_status frame
	for i := 0; i < writers*perWriter; i++ {
		env := readEnvelope(t, conn)
		require.Greater(t, env.Seq, last, "frame %d out of order", i)
		last = env.Seq
	}
	wg.Wait()
}

func TestBroadcast_ReachesAllClients(t *testing.T) {
	hub, url := newTestServer(t)

	a := dial(t, url)
	b := dial(t, url)
	readEnvelope(t, a)
	readEnvelope(t, b)
	require.Equal(t, 2, hub.ClientCount())

	hub.Broadcast(&event.SessionStop{Meta: event.NewMeta(event.TypeSessionStop), SessionID: "s1"})

	assert.Equal(t, "session_stop", readEnvelope(t, a).Event["type"])
	assert.Equal(t, "session_stop", readEnvelope(t, b).Event["type"])
}

func TestAdmission_RejectsBeyondLimit(t *testing.T) {
	_, url := newTestServer(t)

	for i := 0; i < MaxClients; i++ {
		conn := dial(t, url)
		readEnvelope(t, conn)
	}

	extra := dial(t, url)
	code := readUntilClose(t, extra)
	assert.Equal(t, websocket.CloseTryAgainLater, code)
}

func TestOriginPolicy(t *testing.T) {
	_, url := newTestServer(t)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://localhost:3356"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	readEnvelope(t, conn)
}

func TestInvalidMessages_CloseAfterThreshold(t *testing.T) {
	_, url := newTestServer(t)
	conn := dial(t, url)
	readEnvelope(t, conn)

	for i := 0; i <= maxInvalidMessages; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	}

	code := readUntilClose(t, conn)
	assert.Equal(t, websocket.CloseUnsupportedData, code)
}

func TestInboundRateLimit_Closes(t *testing.T) {
	_, url := newTestServer(t)
	conn := dial(t, url)
	readEnvelope(t, conn)

	// Valid but unrecognized JSON counts against the window without
	// tripping the invalid-message counter.
	msg := []byte(`{"type":"noop"}`)
	for i := 0; i <= maxInboundPerWindow; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}

	code := readUntilClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
}

func TestOversizeFrame_Closes(t *testing.T) {
	_, url := newTestServer(t)
	conn := dial(t, url)
	readEnvelope(t, conn)

	big := strings.Repeat("a", maxFrameBytes+1)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	code := readUntilClose(t, conn)
	assert.Equal(t, websocket.CloseMessageTooBig, code)
}

func TestPlanRequest_RespondsToRequesterOnly(t *testing.T) {
	hub, url := newTestServer(t)
	hub.SetRequestHandler(func(path string, respond func(event.Event)) {
		respond(&event.PlanUpdate{
			Meta:     event.NewMeta(event.TypePlanUpdate),
			Path:     path,
			Filename: "plan.md",
			Content:  "# plan",
		})
	})

	requester := dial(t, url)
	bystander := dial(t, url)
	readEnvelope(t, requester)
	readEnvelope(t, bystander)

	req := fmt.Sprintf(`{"type":%q,"path":"/tmp/plan.md"}`, event.RequestPlan)
	require.NoError(t, requester.WriteMessage(websocket.TextMessage, []byte(req)))

	resp := readEnvelope(t, requester)
	assert.Equal(t, "plan_update", resp.Event["type"])
	assert.Equal(t, "/tmp/plan.md", resp.Event["path"])

	require.NoError(t, bystander.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := bystander.ReadMessage()
	assert.Error(t, err, "bystander must not receive the response")
}

func TestHeartbeat_DropsUnresponsiveClient(t *testing.T) {
	hub, url := newTestServer(t)
	conn := dial(t, url)
	readEnvelope(t, conn)

	// First round marks the client pending; with no pong processed the
	// second round terminates it.
	hub.heartbeat()

	hub.mu.RLock()
	for client := range hub.clients {
		client.mu.Lock()
		client.isAlive = false
		client.mu.Unlock()
	}
	hub.mu.RUnlock()

	hub.heartbeat()
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestShutdown_ClosesClientsNormally(t *testing.T) {
	hub, url := newTestServer(t)
	conn := dial(t, url)
	readEnvelope(t, conn)

	hub.Shutdown()

	code := readUntilClose(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, code)
	assert.Equal(t, 0, hub.ClientCount())
}
