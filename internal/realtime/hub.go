package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eclipsera/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	lookupTimeout = 3 * time.Second
)

// VideoFinder looks up a room's current video record for join replay.
type VideoFinder interface {
	FindByRoom(ctx context.Context, roomID string) (*models.RoomVideo, error)
}

// RedisPublisher publishes room events for cross-instance broadcast.
type RedisPublisher interface {
	PublishRoomEvent(roomID, origin, event string, payload []byte) error
}

// RedisSubscriber subscribes to a room's channel and invokes handler for
// incoming events.
type RedisSubscriber interface {
	SubscribeRoom(roomID string, handler func(origin, event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains room_id -> set of connections and relays playback control,
// chat and video lifecycle events between members. Membership is
// process-local and rebuilt from scratch on restart; job state lives in the
// record store.
type Hub struct {
	instanceID string
	rooms      map[string]map[string]*Client
	subs       map[string]func() // cancel Redis subscription per room
	mu         sync.RWMutex
	videos     VideoFinder
	redisPub   RedisPublisher
	redisSub   RedisSubscriber
	logger     *zap.Logger
}

// NewHub creates a new WebSocket hub. videos, redisPub and redisSub may be nil.
func NewHub(logger *zap.Logger, videos VideoFinder, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		instanceID: uuid.New().String(),
		rooms:      make(map[string]map[string]*Client),
		subs:       make(map[string]func()),
		videos:     videos,
		redisPub:   redisPub,
		redisSub:   redisSub,
		logger:     logger,
	}
}

// Register adds a client to a room, leaving its previous room first. Starts a
// Redis subscription for the room when this is its first member.
func (h *Hub) Register(c *Client, roomID string) {
	roomID = models.NormalizeRoomID(roomID)
	if roomID == "" {
		return
	}

	h.mu.Lock()
	h.removeLocked(c)
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeRoom(roomID, func(origin, event string, payload []byte) {
				if origin == h.instanceID {
					return // our own publish already went to local members
				}
				h.broadcastLocal(roomID, "", event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[roomID] = cancel
			} else {
				h.logger.Warn("room subscribe failed", zap.String("room_id", roomID), zap.Error(err))
			}
		}
	}
	h.rooms[roomID][c.ID] = c
	c.roomID = roomID
	h.mu.Unlock()

	h.logger.Debug("client joined room", zap.String("client_id", c.ID), zap.String("room_id", roomID))
}

// Unregister removes a client from its room. Cancels the Redis subscription
// when the last member leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	h.logger.Debug("client left", zap.String("client_id", c.ID))
}

func (h *Hub) removeLocked(c *Client) {
	if c.roomID == "" {
		return
	}
	if m, ok := h.rooms[c.roomID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.roomID)
			if cancel, ok := h.subs[c.roomID]; ok {
				cancel()
				delete(h.subs, c.roomID)
			}
		}
	}
	c.roomID = ""
}

// ReplayVideoState sends the room's current video to one client only, so a
// late joiner sees the video without re-triggering processing. A lookup
// failure is logged and treated as "no existing video"; it never blocks the
// join.
func (h *Hub) ReplayVideoState(c *Client, roomID string) {
	if h.videos == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	v, err := h.videos.FindByRoom(ctx, roomID)
	if err != nil {
		h.logger.Warn("join replay lookup failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	if v != nil && v.ManifestURL != "" {
		h.SendToClient(models.NormalizeRoomID(roomID), c.ID, EventVideoReady, v.ManifestURL)
	}
}

// BroadcastToRoom sends an event to every member of a room and publishes it
// for other instances. A room with no members is a silent no-op.
func (h *Hub) BroadcastToRoom(roomID, event string, payload interface{}) {
	data := marshalPayload(payload)
	h.broadcastLocal(roomID, "", event, data)
	h.publish(roomID, event, data)
}

// BroadcastToRoomExcept sends to every member of a room except the sender.
// The publish still reaches other instances in full: the sender is only ever
// connected locally.
func (h *Hub) BroadcastToRoomExcept(roomID, senderID, event string, payload interface{}) {
	data := marshalPayload(payload)
	h.broadcastLocal(roomID, senderID, event, data)
	h.publish(roomID, event, data)
}

// SendToClient sends an event to a single member of a room (local only).
func (h *Hub) SendToClient(roomID, clientID, event string, payload interface{}) {
	msg := WSMessage{Event: event, Data: marshalPayload(payload)}
	h.mu.RLock()
	c := h.rooms[roomID][clientID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// MemberCount returns the number of connected clients in a room.
func (h *Hub) MemberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[models.NormalizeRoomID(roomID)])
}

// VideoReady broadcasts a finished manifest to the whole room. Satisfies the
// coordinator's Broadcaster.
func (h *Hub) VideoReady(roomID, manifestURL string) {
	h.BroadcastToRoom(models.NormalizeRoomID(roomID), EventVideoReady, manifestURL)
}

// VideoDeleted broadcasts a video removal to the whole room.
func (h *Hub) VideoDeleted(roomID string) {
	h.BroadcastToRoom(models.NormalizeRoomID(roomID), EventVideoDeleted, nil)
}

func (h *Hub) broadcastLocal(roomID, excludeID, event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.rooms[roomID]
	h.mu.RUnlock()

	if clients == nil {
		return
	}
	for id, c := range clients {
		if id == excludeID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

func (h *Hub) publish(roomID, event string, data json.RawMessage) {
	if h.redisPub == nil {
		return
	}
	if err := h.redisPub.PublishRoomEvent(roomID, h.instanceID, event, data); err != nil {
		h.logger.Warn("room publish failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

func marshalPayload(payload interface{}) json.RawMessage {
	switch v := payload.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return v
	case []byte:
		return v
	default:
		data, _ := json.Marshal(payload)
		return data
	}
}
