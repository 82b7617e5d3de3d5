package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"
)

// StickerLister supplies the wall state for replays.
type StickerLister interface {
	ListVisible(ctx context.Context, limit int) ([]domain.Sticker, error)
}

// Observer receives connection and fan-out counts.
type Observer interface {
	ClientConnected(role string)
	ClientDisconnected(role string)
	EventPublished(eventType string, recipients int)
	ClientEvicted(role string)
}

type noopObserver struct{}

func (noopObserver) ClientConnected(string)     {}
func (noopObserver) ClientDisconnected(string)  {}
func (noopObserver) EventPublished(string, int) {}
func (noopObserver) ClientEvicted(string)       {}

// Hub delivers wall events to subscribers and caches the producer identity.
type Hub struct {
	registry    *Registry
	stickers    StickerLister
	observer    Observer
	replayLimit int
	replays     singleflight.Group

	botMu   sync.RWMutex
	botInfo *domain.BotInfo
}

func NewHub(registry *Registry, stickers StickerLister, replayLimit int, observer Observer) *Hub {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Hub{
		registry:    registry,
		stickers:    stickers,
		observer:    observer,
		replayLimit: replayLimit,
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) ReplayLimit() int { return h.replayLimit }

// Attach registers a client. Subscribers receive the cached bot identity and a
// full replay.
func (h *Hub) Attach(ctx context.Context, c *Client) error {
	h.registry.Register(c)
	h.observer.ClientConnected(c.role.String())
	if c.role != RoleSubscriber {
		return nil
	}

	if info, ok := h.BotInfo(); ok {
		h.Notify(c, domain.BotInfoEvent(info))
	}
	return h.ReplayTo(ctx, c, h.replayLimit)
}

// Detach unregisters and stops a client. Safe to call more than once.
func (h *Hub) Detach(c *Client) {
	if h.registry.Unregister(c) {
		h.observer.ClientDisconnected(c.role.String())
	}
	c.evict()
}

// Broadcast sends the event to every subscriber. Clients whose queue is full
// or closed are detached. It returns the number of clients that accepted it.
func (h *Hub) Broadcast(event domain.Event) (int, error) {
	frame, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	delivered := h.fanOut(frame)
	h.observer.EventPublished(string(event.Type), delivered)
	return delivered, nil
}

func (h *Hub) fanOut(frames ...[]byte) int {
	delivered := 0
	h.registry.ForEach(RoleSubscriber, func(c *Client) {
		if c.Enqueue(frames...) {
			delivered++
			return
		}
		h.evictClient(c)
	})
	return delivered
}

func (h *Hub) evictClient(c *Client) {
	if h.registry.Unregister(c) {
		h.observer.ClientDisconnected(c.role.String())
		h.observer.ClientEvicted(c.role.String())
		slog.Warn("Detached unresponsive client", "client_id", c.id, "role", c.role.String())
	}
	c.evict()
}

// Replay sends a clear followed by the visible stickers to every subscriber.
// Concurrent replays share one catalog read. Live events published while the
// catalog is read are delivered after the replay.
func (h *Hub) Replay(ctx context.Context, limit int) (int, error) {
	key := fmt.Sprintf("replay:%d", limit)
	v, err, _ := h.replays.Do(key, func() (any, error) {
		clients := h.registry.Snapshot(RoleSubscriber)
		for _, c := range clients {
			c.holdLive()
		}
		frames, err := h.replayFrames(ctx, limit)
		delivered := 0
		for _, c := range clients {
			if !c.releaseLive(frames) {
				h.evictClient(c)
				continue
			}
			delivered++
		}
		if err != nil {
			return nil, err
		}
		return delivered, nil
	})
	if err != nil {
		return 0, err
	}
	h.observer.EventPublished(string(domain.EventWallClear), v.(int))
	return v.(int), nil
}

// ReplayTo sends a clear followed by the visible stickers to one client.
func (h *Hub) ReplayTo(ctx context.Context, c *Client, limit int) error {
	c.holdLive()
	frames, err := h.replayFrames(ctx, limit)
	if !c.releaseLive(frames) {
		h.evictClient(c)
	}
	return err
}

func (h *Hub) replayFrames(ctx context.Context, limit int) ([][]byte, error) {
	stickers, err := h.stickers.ListVisible(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load wall state: %w", err)
	}

	frames := make([][]byte, 0, len(stickers)+1)
	clearFrame, err := json.Marshal(domain.ClearEvent())
	if err != nil {
		return nil, err
	}
	frames = append(frames, clearFrame)
	for _, s := range stickers {
		frame, err := json.Marshal(domain.StickerAddEvent(s))
		if err != nil {
			return nil, fmt.Errorf("failed to encode sticker %s: %w", s.UUID, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// Notify sends an event to a single client.
func (h *Hub) Notify(c *Client, event domain.Event) bool {
	frame, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode event", "event", event.Type, "error", err)
		return false
	}
	if !c.Enqueue(frame) {
		h.evictClient(c)
		return false
	}
	return true
}

// SetBotInfo caches the producer identity and pushes it to subscribers.
func (h *Hub) SetBotInfo(info domain.BotInfo) error {
	h.botMu.Lock()
	h.botInfo = &info
	h.botMu.Unlock()

	_, err := h.Broadcast(domain.BotInfoEvent(info))
	return err
}

func (h *Hub) BotInfo() (domain.BotInfo, bool) {
	h.botMu.RLock()
	defer h.botMu.RUnlock()
	if h.botInfo == nil {
		return domain.BotInfo{}, false
	}
	return *h.botInfo, true
}

// Close sends a going-away frame to every client.
func (h *Hub) Close() {
	for _, role := range []Role{RoleProducer, RoleSubscriber} {
		for _, c := range h.registry.Snapshot(role) {
			if h.registry.Unregister(c) {
				h.observer.ClientDisconnected(role.String())
			}
			c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		}
	}
}
