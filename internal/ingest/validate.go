package ingest

import (
	"encoding/base64"
	"fmt"

	"github.com/RustyBraze/Stickerwall/internal/adapter/storage"
	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("stickerid", func(fl validator.FieldLevel) bool {
		return storage.ValidStickerID(fl.Field().String())
	})
	return v
}

// decodeSubmission validates the message and returns its payload bytes.
func decodeSubmission(v *validator.Validate, msg domain.StickerSubmission) ([]byte, error) {
	if err := v.Struct(msg); err != nil {
		return nil, fmt.Errorf("invalid sticker message: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(msg.StickerData)
	if err != nil {
		return nil, fmt.Errorf("invalid sticker data: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("invalid sticker data: empty payload")
	}
	return payload, nil
}
