// Package domain defines the core domain types and interfaces of the sticker wall.
//
// Files are concept-oriented (sticker.go, user.go, auth.go, events.go, ...) and hold
// entities, the moderation transition table and repository contracts. Storage and
// transport live in adapters; this package has no I/O.
package domain
