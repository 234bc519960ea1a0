package rooms

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eclipsera/backend/internal/models"
)

// Repository handles room code persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rooms repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new room. Returns false when the code already exists.
func (r *Repository) Create(ctx context.Context, roomID string) (bool, error) {
	const q = `INSERT INTO rooms (room_id) VALUES ($1) ON CONFLICT (room_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, models.NormalizeRoomID(roomID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns a room by code, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, roomID string) (*models.Room, error) {
	const q = `SELECT room_id, created_at, last_active FROM rooms WHERE room_id = $1`
	var room models.Room
	err := r.pool.QueryRow(ctx, q, models.NormalizeRoomID(roomID)).Scan(&room.RoomID, &room.CreatedAt, &room.LastActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &room, nil
}

// Touch refreshes a room's last_active timestamp. Returns false when the room
// does not exist.
func (r *Repository) Touch(ctx context.Context, roomID string) (bool, error) {
	const q = `UPDATE rooms SET last_active = NOW() WHERE room_id = $1`
	tag, err := r.pool.Exec(ctx, q, models.NormalizeRoomID(roomID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteInactive removes rooms idle longer than ttl and returns the deleted
// room IDs.
func (r *Repository) DeleteInactive(ctx context.Context, ttl time.Duration) ([]string, error) {
	const q = `DELETE FROM rooms WHERE last_active < NOW() - make_interval(secs => $1) RETURNING room_id`
	rows, err := r.pool.Query(ctx, q, ttl.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
