package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eclipsera/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Inbound and outbound event names.
const (
	EventJoinRoom       = "join_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventPlayVideo      = "play_video"
	EventPauseVideo     = "pause_video"
	EventSeekVideo      = "seek_video"
	EventVideoReady     = "video_ready"
	EventVideoDeleted   = "video_deleted"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection. A client belongs to at
// most one room at a time; roomID is owned by the hub and guarded by its lock.
type Client struct {
	ID     string
	roomID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			hub:    hub,
			conn:   conn,
			send:   make(chan WSMessage, 256),
			logger: logger,
		}
		go client.writePump()
		client.readPump()
	}
}

type chatPayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

type playbackPayload struct {
	RoomID      string  `json:"roomId"`
	CurrentTime float64 `json:"currentTime"`
}

type videoReadyPayload struct {
	RoomID      string `json:"roomId"`
	ManifestURL string `json:"hlsUrl"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case EventJoinRoom:
			var roomID string
			if err := json.Unmarshal(msg.Data, &roomID); err != nil || roomID == "" {
				continue
			}
			c.hub.Register(c, roomID)
			c.hub.ReplayVideoState(c, roomID)

		case EventSendMessage:
			var p chatPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.RoomID == "" {
				continue
			}
			c.hub.BroadcastToRoomExcept(models.NormalizeRoomID(p.RoomID), c.ID, EventReceiveMessage, gin.H{
				"text":   p.Text,
				"sender": p.Sender,
			})

		case EventPlayVideo, EventPauseVideo, EventSeekVideo:
			var p playbackPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.RoomID == "" {
				continue
			}
			// The sender already applied the control locally; no echo.
			c.hub.BroadcastToRoomExcept(models.NormalizeRoomID(p.RoomID), c.ID, msg.Event, gin.H{
				"currentTime": p.CurrentTime,
			})

		case EventVideoReady:
			var p videoReadyPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.RoomID == "" {
				continue
			}
			c.hub.BroadcastToRoom(models.NormalizeRoomID(p.RoomID), EventVideoReady, p.ManifestURL)

		case EventVideoDeleted:
			var p roomPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.RoomID == "" {
				continue
			}
			c.hub.BroadcastToRoom(models.NormalizeRoomID(p.RoomID), EventVideoDeleted, nil)

		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
