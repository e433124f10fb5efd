package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortical-data/affinity.report/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientReceivesStatusGreeting(t *testing.T) {
	h := NewHub()
	defer h.Close()
	conn := dialHub(t, h)

	msg := readMessage(t, conn)
	assert.Equal(t, TypeStatus, msg["type"])
	assert.Equal(t, false, msg["connected"])
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := NewHub()
	defer h.Close()
	conn1 := dialHub(t, h)
	conn2 := dialHub(t, h)
	readMessage(t, conn1) // greeting
	readMessage(t, conn2)
	waitForClients(t, h, 2)

	h.Broadcast(SampleMessage{
		Type:      TypeSample,
		Timestamp: 1700000000.5,
		PacketNum: 42,
		Channels:  []float64{1.5, -2.5},
	})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readMessage(t, conn)
		assert.Equal(t, TypeSample, msg["type"])
		assert.Equal(t, float64(42), msg["packet_num"])
		assert.Len(t, msg["channels"], 2)
	}
}

func TestSetStatusBroadcasts(t *testing.T) {
	h := NewHub()
	defer h.Close()
	conn := dialHub(t, h)
	readMessage(t, conn) // greeting
	waitForClients(t, h, 1)

	h.SetStatus(true, "board streaming")
	msg := readMessage(t, conn)
	assert.Equal(t, TypeStatus, msg["type"])
	assert.Equal(t, true, msg["connected"])
	assert.Equal(t, "board streaming", msg["message"])
}

func TestBroadcastWithNoClients(t *testing.T) {
	h := NewHub()
	defer h.Close()
	// Must not panic or block.
	h.Broadcast(StatusMessage{Type: TypeStatus})
	assert.Zero(t, h.ClientCount())
}

func TestSlowClientDoesNotBlockBroadcast(t *testing.T) {
	h := NewHub()
	defer h.Close()
	conn := dialHub(t, h)
	_ = conn // never read beyond the TCP buffers
	waitForClients(t, h, 1)

	// Large payloads overflow the socket buffers quickly, forcing the
	// per-client queue to fill and drops to kick in.
	bulk := make([]float64, 8192)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < clientBuffer*8; i++ {
			h.Broadcast(SampleMessage{Type: TypeSample, PacketNum: uint64(i), Channels: bulk})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
	assert.Positive(t, h.Dropped())
}

func TestCloseDisconnectsClients(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h)
	readMessage(t, conn)
	waitForClients(t, h, 1)

	h.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return // connection torn down as expected
		}
	}
}
