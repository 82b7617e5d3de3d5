package domain

import "github.com/google/uuid"

// EventType names a wall event on the wire.
type EventType string

const (
	EventWallClear     EventType = "wall_clear"
	EventStickerAdd    EventType = "sticker_add"
	EventStickerRemove EventType = "sticker_remove"
	EventBotInfo       EventType = "bot_info"
	EventPolicyNotice  EventType = "policy_notice"
)

// Event is a server-pushed JSON frame.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

type StickerAddData struct {
	StickerID   uuid.UUID `json:"sticker_id"`
	Path        string    `json:"path"`
	BoostFactor int       `json:"boost_factor"`
}

type StickerRemoveData struct {
	StickerID uuid.UUID `json:"sticker_id"`
}

// BotInfo is the producer identity shown on the wall.
type BotInfo struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// PolicyNotice tells a producer why a user's submission was held back.
type PolicyNotice struct {
	UserID   string `json:"telegram_user_id"`
	ChatRef  string `json:"chat_ref,omitempty"`
	Reason   string `json:"reason"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

func ClearEvent() Event {
	return Event{Type: EventWallClear}
}

// StickerAddEvent references the sticker by internal uuid only.
func StickerAddEvent(s Sticker) Event {
	return Event{Type: EventStickerAdd, Data: StickerAddData{
		StickerID:   s.UUID,
		Path:        s.StoragePath,
		BoostFactor: s.BoostFactor,
	}}
}

func StickerRemoveEvent(id uuid.UUID) Event {
	return Event{Type: EventStickerRemove, Data: StickerRemoveData{StickerID: id}}
}

func BotInfoEvent(info BotInfo) Event {
	return Event{Type: EventBotInfo, Data: info}
}

func PolicyNoticeEvent(n PolicyNotice) Event {
	return Event{Type: EventPolicyNotice, Data: n}
}
