package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu        sync.Mutex
	connected map[string]int
	evicted   int
	published map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{connected: map[string]int{}, published: map[string]int{}}
}

func (o *recordingObserver) ClientConnected(role string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected[role]++
}

func (o *recordingObserver) ClientDisconnected(role string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected[role]--
}

func (o *recordingObserver) EventPublished(eventType string, recipients int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.published[eventType] += recipients
}

func (o *recordingObserver) ClientEvicted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evicted++
}

func attach(t *testing.T, hub *Hub, role Role) *ws.Conn {
	t.Helper()
	server, client := newTestConnPair(t)
	c := NewClient("test", role, server, clockwork.NewRealClock(), 16)
	t.Cleanup(func() { hub.Detach(c) })
	require.NoError(t, hub.Attach(context.Background(), c))
	return client
}

func TestHub_BroadcastReachesSubscribersOnly(t *testing.T) {
	hub := NewHub(NewRegistry(), &fakeLister{}, 100, nil)
	sub1 := attach(t, hub, RoleSubscriber)
	sub2 := attach(t, hub, RoleSubscriber)
	producer := attach(t, hub, RoleProducer)

	// Drain the join replays.
	assert.Equal(t, "wall_clear", readEvent(t, sub1).Type)
	assert.Equal(t, "wall_clear", readEvent(t, sub2).Type)

	s := testSticker(2)
	delivered, err := hub.Broadcast(domain.StickerAddEvent(s))
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	for _, conn := range []*ws.Conn{sub1, sub2} {
		ev := readEvent(t, conn)
		assert.Equal(t, "sticker_add", ev.Type)

		var data domain.StickerAddData
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, s.UUID, data.StickerID)
		assert.Equal(t, s.StoragePath, data.Path)
		assert.Equal(t, 2, data.BoostFactor)
	}
	expectSilence(t, producer)
}

func TestHub_AttachSendsBotInfoThenReplay(t *testing.T) {
	stickers := []domain.Sticker{testSticker(5), testSticker(3)}
	hub := NewHub(NewRegistry(), &fakeLister{stickers: stickers}, 100, nil)
	require.NoError(t, hub.SetBotInfo(domain.BotInfo{Username: "wallbot", FullName: "Wall Bot"}))

	conn := attach(t, hub, RoleSubscriber)

	ev := readEvent(t, conn)
	require.Equal(t, "bot_info", ev.Type)
	var info domain.BotInfo
	require.NoError(t, json.Unmarshal(ev.Data, &info))
	assert.Equal(t, "wallbot", info.Username)

	assert.Equal(t, "wall_clear", readEvent(t, conn).Type)
	for _, want := range stickers {
		ev := readEvent(t, conn)
		require.Equal(t, "sticker_add", ev.Type)
		var data domain.StickerAddData
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, want.UUID, data.StickerID)
	}
}

func TestHub_AttachWithoutBotInfo(t *testing.T) {
	hub := NewHub(NewRegistry(), &fakeLister{}, 100, nil)

	conn := attach(t, hub, RoleSubscriber)

	assert.Equal(t, "wall_clear", readEvent(t, conn).Type)
	expectSilence(t, conn)
}

func TestHub_ReplayAppliesLimit(t *testing.T) {
	lister := &fakeLister{stickers: []domain.Sticker{testSticker(3), testSticker(2), testSticker(1)}}
	hub := NewHub(NewRegistry(), lister, 100, nil)
	conn := attach(t, hub, RoleSubscriber)
	readEvent(t, conn) // join clear
	for range 3 {
		readEvent(t, conn)
	}

	delivered, err := hub.Replay(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 2, lister.lastLimit)

	assert.Equal(t, "wall_clear", readEvent(t, conn).Type)
	assert.Equal(t, "sticker_add", readEvent(t, conn).Type)
	assert.Equal(t, "sticker_add", readEvent(t, conn).Type)
	expectSilence(t, conn)
}

func TestHub_ReplayError(t *testing.T) {
	lister := &fakeLister{}
	hub := NewHub(NewRegistry(), lister, 100, nil)
	lister.err = errors.New("disk on fire")

	_, err := hub.Replay(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestHub_AttachReplayError(t *testing.T) {
	hub := NewHub(NewRegistry(), &fakeLister{err: errors.New("locked")}, 100, nil)
	server, _ := newTestConnPair(t)
	c := NewClient("x", RoleSubscriber, server, clockwork.NewRealClock(), 4)
	t.Cleanup(c.Close)

	err := hub.Attach(context.Background(), c)
	require.Error(t, err)
}

func TestHub_FullQueueDetachesOnlyThatClient(t *testing.T) {
	obs := newRecordingObserver()
	hub := NewHub(NewRegistry(), &fakeLister{}, 100, obs)
	healthy := attach(t, hub, RoleSubscriber)
	readEvent(t, healthy)

	server, _ := newTestConnPair(t)
	stuck := &Client{
		id:          "stuck",
		role:        RoleSubscriber,
		connection:  server,
		clock:       clockwork.NewRealClock(),
		sendChannel: make(chan [][]byte, 1),
		doneChannel: make(chan struct{}),
	}
	hub.Registry().Register(stuck)

	first, err := hub.Broadcast(domain.StickerRemoveEvent(testSticker(1).UUID))
	require.NoError(t, err)
	assert.Equal(t, 2, first)

	second, err := hub.Broadcast(domain.StickerRemoveEvent(testSticker(1).UUID))
	require.NoError(t, err)
	assert.Equal(t, 1, second)

	assert.Equal(t, 1, hub.Registry().Count(RoleSubscriber))
	select {
	case <-stuck.Done():
	default:
		t.Fatal("stuck client should be stopped")
	}
	obs.mu.Lock()
	assert.Equal(t, 1, obs.evicted)
	obs.mu.Unlock()

	assert.Equal(t, "sticker_remove", readEvent(t, healthy).Type)
	assert.Equal(t, "sticker_remove", readEvent(t, healthy).Type)
}

func TestHub_ClosedClientIsSkipped(t *testing.T) {
	hub := NewHub(NewRegistry(), &fakeLister{}, 100, nil)
	server, _ := newTestConnPair(t)
	c := NewClient("gone", RoleSubscriber, server, clockwork.NewRealClock(), 4)
	require.NoError(t, hub.Attach(context.Background(), c))
	c.Close()

	delivered, err := hub.Broadcast(domain.ClearEvent())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, hub.Registry().Count(RoleSubscriber))
}

func TestHub_NotifyTargetsOneClient(t *testing.T) {
	hub := NewHub(NewRegistry(), &fakeLister{}, 100, nil)
	server, producerConn := newTestConnPair(t)
	producer := NewClient("p", RoleProducer, server, clockwork.NewRealClock(), 4)
	require.NoError(t, hub.Attach(context.Background(), producer))
	t.Cleanup(func() { hub.Detach(producer) })
	sub := attach(t, hub, RoleSubscriber)
	readEvent(t, sub)

	ok := hub.Notify(producer, domain.PolicyNoticeEvent(domain.PolicyNotice{
		UserID: "42", Reason: "rate_limited", Message: "slow down",
	}))
	require.True(t, ok)

	ev := readEvent(t, producerConn)
	assert.Equal(t, "policy_notice", ev.Type)
	var notice domain.PolicyNotice
	require.NoError(t, json.Unmarshal(ev.Data, &notice))
	assert.Equal(t, "42", notice.UserID)
	assert.Equal(t, "rate_limited", notice.Reason)
	expectSilence(t, sub)
}

func TestHub_BotInfoCache(t *testing.T) {
	hub := NewHub(NewRegistry(), &fakeLister{}, 100, nil)

	_, ok := hub.BotInfo()
	assert.False(t, ok)

	require.NoError(t, hub.SetBotInfo(domain.BotInfo{Username: "a"}))
	require.NoError(t, hub.SetBotInfo(domain.BotInfo{Username: "b", FullName: "B"}))

	info, ok := hub.BotInfo()
	require.True(t, ok)
	assert.Equal(t, domain.BotInfo{Username: "b", FullName: "B"}, info)
}

func TestHub_CloseSendsGoingAway(t *testing.T) {
	obs := newRecordingObserver()
	hub := NewHub(NewRegistry(), &fakeLister{}, 100, obs)
	server, conn := newTestConnPair(t)
	c := NewClient("s", RoleSubscriber, server, clockwork.NewRealClock(), 4)
	require.NoError(t, hub.Attach(context.Background(), c))
	readEvent(t, conn)

	hub.Close()

	_, _, err := conn.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, hub.Registry().Count(RoleSubscriber))
	obs.mu.Lock()
	assert.Equal(t, 0, obs.connected["subscriber"])
	obs.mu.Unlock()
}

// publishingLister publishes a sticker while the wall state is being read,
// as a concurrent submission would.
type publishingLister struct {
	hub     *Hub
	sticker domain.Sticker
	mu      sync.Mutex
	calls   int
}

func (l *publishingLister) ListVisible(context.Context, int) ([]domain.Sticker, error) {
	l.mu.Lock()
	l.calls++
	first := l.calls == 1
	l.mu.Unlock()
	if first {
		if _, err := l.hub.Broadcast(domain.StickerAddEvent(l.sticker)); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func TestHub_EventDuringJoinReplayFollowsClear(t *testing.T) {
	lister := &publishingLister{sticker: testSticker(0)}
	hub := NewHub(NewRegistry(), lister, 100, nil)
	lister.hub = hub

	conn := attach(t, hub, RoleSubscriber)

	assert.Equal(t, "wall_clear", readEvent(t, conn).Type)
	ev := readEvent(t, conn)
	require.Equal(t, "sticker_add", ev.Type)
	var data domain.StickerAddData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, lister.sticker.UUID, data.StickerID)
	expectSilence(t, conn)
}

func TestHub_EventDuringReplayFollowsClear(t *testing.T) {
	lister := &publishingLister{sticker: testSticker(0), calls: 1}
	hub := NewHub(NewRegistry(), lister, 100, nil)
	lister.hub = hub
	conn := attach(t, hub, RoleSubscriber)
	assert.Equal(t, "wall_clear", readEvent(t, conn).Type)

	lister.mu.Lock()
	lister.calls = 0
	lister.mu.Unlock()

	delivered, err := hub.Replay(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	assert.Equal(t, "wall_clear", readEvent(t, conn).Type)
	assert.Equal(t, "sticker_add", readEvent(t, conn).Type)
	expectSilence(t, conn)
}

func TestClient_HeldBatchesFollowReplay(t *testing.T) {
	server, _ := newTestConnPair(t)
	c := &Client{
		role:        RoleSubscriber,
		connection:  server,
		clock:       clockwork.NewRealClock(),
		sendChannel: make(chan [][]byte, 4),
		doneChannel: make(chan struct{}),
	}

	c.holdLive()
	require.True(t, c.Enqueue([]byte(`live`)))
	assert.Empty(t, c.sendChannel)

	require.True(t, c.releaseLive([][]byte{[]byte(`clear`)}))
	require.Len(t, c.sendChannel, 2)
	assert.Equal(t, [][]byte{[]byte(`clear`)}, <-c.sendChannel)
	assert.Equal(t, [][]byte{[]byte(`live`)}, <-c.sendChannel)

	require.True(t, c.Enqueue([]byte(`after`)))
	assert.Len(t, c.sendChannel, 1)
}
