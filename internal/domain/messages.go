package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound message types on the producer channel.
const (
	MessageHeartbeat  = "heartbeat"
	MessageBotInfo    = "bot_info"
	MessageSticker    = "sticker"
	MessageGetBotInfo = "get_bot_info"
)

// ExternalID accepts both JSON strings and numbers. Chat platforms send
// numeric user ids.
type ExternalID string

func (id *ExternalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ExternalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

// ProducerMessage is the envelope of every producer frame. Which fields are
// set depends on Type.
type ProducerMessage struct {
	Type string `json:"type"`

	// heartbeat
	BotName string `json:"bot_name,omitempty"`

	// bot_info
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`

	// sticker
	StickerSubmission
}

// StickerSubmission is the raw sticker payload as sent by the producer.
type StickerSubmission struct {
	TelegramUserID       ExternalID `json:"telegram_user_id" validate:"required,max=64"`
	TelegramUsername     string     `json:"telegram_username" validate:"max=256"`
	TelegramFullUsername string     `json:"telegram_full_username" validate:"max=512"`
	ChatID               ExternalID `json:"telegram_chat_id,omitempty" validate:"max=64"`
	StickerID            string     `json:"sticker_id" validate:"required,max=256,stickerid"`
	StickerData          string     `json:"sticker_data" validate:"required,base64"`
	FileExtension        string     `json:"file_extension" validate:"required,alphanum,max=8"`
}

// Profile extracts the submitting user's identity.
func (s StickerSubmission) Profile() UserProfile {
	return UserProfile{
		UserID:      string(s.TelegramUserID),
		Username:    s.TelegramUsername,
		DisplayName: s.TelegramFullUsername,
		ChatRef:     string(s.ChatID),
	}
}

// SubscriberMessage is a frame sent by a wall display.
type SubscriberMessage struct {
	Type string `json:"type"`
}
