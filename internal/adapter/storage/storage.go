// Package storage persists sticker payloads under deterministic keys of the
// form stickers/<external_id>.<ext>.
package storage

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"
	"time"
)

const keyPrefix = "stickers/"

var (
	ErrInvalidKey = errors.New("invalid storage key")
	ErrNotFound   = errors.New("object not found")
)

// Object is an opened payload with the validators HTTP caches need.
type Object struct {
	io.ReadSeekCloser
	ModTime time.Time
	// ETag is quoted, ready for the ETag header.
	ETag string
}

var (
	stickerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)
	extensionPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,8}$`)
)

// ValidStickerID reports whether id can be used in a storage key.
func ValidStickerID(id string) bool {
	return stickerIDPattern.MatchString(id)
}

// StickerKey derives the storage key for a sticker. The same id and
// extension always map to the same key, so resubmissions overwrite.
func StickerKey(stickerID, extension string) (string, error) {
	if !stickerIDPattern.MatchString(stickerID) {
		return "", fmt.Errorf("%w: sticker id %q", ErrInvalidKey, stickerID)
	}
	ext := strings.ToLower(extension)
	if !extensionPattern.MatchString(ext) {
		return "", fmt.Errorf("%w: extension %q", ErrInvalidKey, extension)
	}
	return keyPrefix + stickerID + "." + ext, nil
}

// validateKey accepts only keys produced by StickerKey.
func validateKey(key string) error {
	name, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	id, ext, ok := strings.Cut(name, ".")
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if _, err := StickerKey(id, ext); err != nil {
		return err
	}
	return nil
}

var stickerContentTypes = map[string]string{
	"webp": "image/webp",
	"webm": "video/webm",
	"tgs":  "application/x-tgsticker",
	"png":  "image/png",
	"gif":  "image/gif",
}

// ContentType guesses the MIME type from the key's extension.
func ContentType(key string) string {
	i := strings.LastIndexByte(key, '.')
	if i < 0 {
		return "application/octet-stream"
	}
	ext := key[i+1:]
	if ct, ok := stickerContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
