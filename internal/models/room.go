package models

import "time"

// Room is a watch-together session identified by a short shareable code.
// LastActive drives the inactivity reaper; it is refreshed on join.
type Room struct {
	RoomID     string    `json:"roomId"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}
