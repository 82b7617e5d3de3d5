package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	mu        sync.Mutex
	stickers  []domain.Sticker
	err       error
	calls     int
	lastLimit int
}

func (f *fakeLister) ListVisible(_ context.Context, limit int) ([]domain.Sticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.stickers) {
		return f.stickers[:limit], nil
	}
	return f.stickers, nil
}

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}

func readEvent(t *testing.T, conn *ws.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev wireEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func expectSilence(t *testing.T, conn *ws.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no frame")
}

func testSticker(boost int) domain.Sticker {
	id := uuid.New()
	return domain.Sticker{
		UUID:        id,
		StickerID:   "sticker-" + id.String()[:8],
		StoragePath: "stickers/" + id.String()[:8] + ".webp",
		Visible:     true,
		BoostFactor: boost,
	}
}
