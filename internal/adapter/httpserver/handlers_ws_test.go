package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/broadcast"
	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/RustyBraze/Stickerwall/internal/platform/config"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_InvalidKeyClosedWithUnauthorized(t *testing.T) {
	for _, key := range []string{"", "wrong-secret-0123456789"} {
		t.Run(fmt.Sprintf("key=%q", key), func(t *testing.T) {
			env := newTestEnv(t)

			conn, _, err := env.dialProducer("/ws/producer", key)
			require.NoError(t, err, "the handshake completes before the key is checked")

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, _, err = conn.ReadMessage()
			var closeErr *ws.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, broadcast.CloseUnauthorized, closeErr.Code)
			assert.Equal(t, 0, env.hub.Registry().Count(broadcast.RoleProducer))
		})
	}
}

func TestStickerFlowsFromProducerToWall(t *testing.T) {
	env := newTestEnv(t)
	wall := env.subscriber("/ws/subscriber")
	producer := env.producer()

	sendSticker(t, producer, "7", "S1", "first")
	added := readStickerAdd(t, wall)
	assert.Equal(t, "stickers/S1.webp", added.Path)
	assert.Equal(t, 0, added.BoostFactor)

	sendSticker(t, producer, "8", "S1", "second")
	boosted := readStickerAdd(t, wall)
	assert.Equal(t, added.StickerID, boosted.StickerID)
	assert.Equal(t, 1, boosted.BoostFactor)

	resp, body := env.do(http.MethodGet, "/"+added.Path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "second", string(body))
}

func TestProducerAlias(t *testing.T) {
	env := newTestEnv(t)
	wall := env.subscriber("/ws/wall")

	producer, _, err := env.dialProducer("/ws/telegram", testProducerSecret)
	require.NoError(t, err)

	sendSticker(t, producer, "7", "S1", "x")
	assert.Equal(t, "stickers/S1.webp", readStickerAdd(t, wall).Path)
}

func TestMalformedSubmissionIsDropped(t *testing.T) {
	env := newTestEnv(t)
	wall := env.subscriber("/ws/subscriber")
	producer := env.producer()

	require.NoError(t, producer.WriteMessage(ws.TextMessage, []byte("{not json")))
	require.NoError(t, producer.WriteJSON(map[string]any{
		"type":             "sticker",
		"telegram_user_id": 7,
		"sticker_id":       "S1",
		"sticker_data":     "%%% not base64 %%%",
		"file_extension":   "webp",
	}))
	sendSticker(t, producer, "7", "S2", "ok")

	// The connection survives and only the valid sticker is shown.
	assert.Equal(t, "stickers/S2.webp", readStickerAdd(t, wall).Path)
}

func TestBotInfo(t *testing.T) {
	env := newTestEnv(t)
	wall := env.subscriber("/ws/subscriber")
	producer := env.producer()

	require.NoError(t, producer.WriteJSON(map[string]any{"type": "heartbeat", "bot_name": "wallbot"}))
	require.NoError(t, producer.WriteJSON(map[string]any{
		"type":      "bot_info",
		"username":  "wallbot",
		"full_name": "Sticker Wall Bot",
	}))

	ev := readEvent(t, wall)
	require.Equal(t, string(domain.EventBotInfo), ev.Type)
	var info domain.BotInfo
	require.NoError(t, json.Unmarshal(ev.Data, &info))
	assert.Equal(t, domain.BotInfo{Username: "wallbot", FullName: "Sticker Wall Bot"}, info)

	// Late joiners get the cached identity before the replay.
	conn, _, err := ws.DefaultDialer.Dial(env.wsURL("/ws/subscriber"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, string(domain.EventBotInfo), readEvent(t, conn).Type)
	assert.Equal(t, string(domain.EventWallClear), readEvent(t, conn).Type)

	// and can ask for it again.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_bot_info"}))
	assert.Equal(t, string(domain.EventBotInfo), readEvent(t, conn).Type)
}

func TestJoinReplaysVisibleStickers(t *testing.T) {
	env := newTestEnv(t)
	env.ingest("1", "S1", "a")
	env.ingest("1", "S2", "b")
	hidden := env.ingest("1", "S3", "c")

	resp, _ := env.do(http.MethodPost, "/api/v1/stickers/"+hidden.UUID.String(), env.adminToken, map[string]string{"type": "hide"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn, _, err := ws.DefaultDialer.Dial(env.wsURL("/ws/subscriber"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Equal(t, string(domain.EventWallClear), readEvent(t, conn).Type)
	paths := []string{readStickerAdd(t, conn).Path, readStickerAdd(t, conn).Path}
	assert.ElementsMatch(t, []string{"stickers/S1.webp", "stickers/S2.webp"}, paths)
}

func TestModerationUpdatesWall(t *testing.T) {
	env := newTestEnv(t)
	sticker := env.ingest("1", "S1", "x")
	wall := env.subscriber("/ws/subscriber")
	readStickerAdd(t, wall)
	path := "/api/v1/stickers/" + sticker.UUID.String()

	resp, _ := env.do(http.MethodPost, path, env.adminToken, map[string]string{"type": "ban", "reason": "nsfw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ev := readEvent(t, wall)
	require.Equal(t, string(domain.EventStickerRemove), ev.Type)
	var removed domain.StickerRemoveData
	require.NoError(t, json.Unmarshal(ev.Data, &removed))
	assert.Equal(t, sticker.UUID, removed.StickerID)

	resp, _ = env.do(http.MethodPost, path, env.adminToken, map[string]string{"type": "unban"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(http.MethodPost, path, env.adminToken, map[string]string{"type": "show"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Unban emits nothing; the next event is the show.
	assert.Equal(t, sticker.UUID, readStickerAdd(t, wall).StickerID)
}

func TestBannedStickerIsNotShown(t *testing.T) {
	env := newTestEnv(t)
	sticker := env.ingest("1", "S1", "x")
	resp, _ := env.do(http.MethodPost, "/api/v1/stickers/"+sticker.UUID.String(), env.adminToken, map[string]string{"type": "ban"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	wall := env.subscriber("/ws/subscriber")
	producer := env.producer()

	sendSticker(t, producer, "2", "S1", "again")
	sendSticker(t, producer, "2", "S2", "fresh")

	assert.Equal(t, "stickers/S2.webp", readStickerAdd(t, wall).Path)
}

func TestRateLimitedUserGetsNotice(t *testing.T) {
	env := newTestEnv(t)
	wall := env.subscriber("/ws/subscriber")
	producer := env.producer()

	for i := range 3 {
		sendSticker(t, producer, "7", fmt.Sprintf("S%d", i), "x")
		readStickerAdd(t, wall)
	}
	sendSticker(t, producer, "7", "S9", "x")

	ev := readEvent(t, producer)
	require.Equal(t, string(domain.EventPolicyNotice), ev.Type)
	var notice domain.PolicyNotice
	require.NoError(t, json.Unmarshal(ev.Data, &notice))
	assert.Equal(t, "7", notice.UserID)
	assert.Equal(t, "rate_limited", notice.Reason)
	assert.False(t, notice.Accepted)
	assert.NotEmpty(t, notice.Message)

	// Other users are unaffected.
	sendSticker(t, producer, "8", "S9", "x")
	assert.Equal(t, "stickers/S9.webp", readStickerAdd(t, wall).Path)
}

func TestWallClearAndReload(t *testing.T) {
	env := newTestEnv(t)
	env.ingest("1", "S1", "x")
	wall := env.subscriber("/ws/subscriber")
	readStickerAdd(t, wall)

	resp, body := env.do(http.MethodPost, "/api/v1/wall/clear", env.adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, decode[map[string]any](t, body)["subscribers"])
	assert.Equal(t, string(domain.EventWallClear), readEvent(t, wall).Type)

	resp, _ = env.do(http.MethodPost, "/api/v1/wall/reload", env.adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(domain.EventWallClear), readEvent(t, wall).Type)
	assert.Equal(t, "stickers/S1.webp", readStickerAdd(t, wall).Path)

	// Clearing the display keeps the catalog.
	resp, body = env.do(http.MethodGet, "/api/v1/stickers", env.adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]stickerResponse](t, body), 1)
}

func TestSubscriberPerIPLimit(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *config.Config) {
		cfg.MaxConnectionsPerIP = 1
	}))
	env.subscriber("/ws/subscriber")

	_, resp, err := ws.DefaultDialer.Dial(env.wsURL("/ws/subscriber"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSubscriberDisconnectReleasesSlot(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *config.Config) {
		cfg.MaxConnectionsPerIP = 1
	}))

	first := env.subscriber("/ws/subscriber")
	require.NoError(t, first.Close())
	env.waitForCount(broadcast.RoleSubscriber, 0)

	require.Eventually(t, func() bool {
		conn, _, err := ws.DefaultDialer.Dial(env.wsURL("/ws/subscriber"), nil)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
}
