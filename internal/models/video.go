package models

import (
	"strings"
	"time"
)

// RoomVideo lifecycle. Pending is the implicit state before any record exists.
const (
	VideoStatusPending    = "pending"
	VideoStatusProcessing = "processing"
	VideoStatusReady      = "ready"
	VideoStatusFailed     = "failed"
)

// RoomVideo is the per-room transcode job record, keyed by normalized room ID.
// ManifestURL is set only when status is ready; LastError only when failed.
type RoomVideo struct {
	RoomID      string    `json:"roomId"`
	Status      string    `json:"status"`
	SourceKey   string    `json:"fileKey,omitempty"`
	ManifestURL string    `json:"hlsUrl,omitempty"`
	LastError   string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NormalizeRoomID canonicalizes a room identifier: trimmed and lower-cased.
// All persistence and hub membership is keyed on the normalized form.
func NormalizeRoomID(roomID string) string {
	return strings.ToLower(strings.TrimSpace(roomID))
}
