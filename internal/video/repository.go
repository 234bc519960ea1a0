package video

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eclipsera/backend/internal/models"
)

// ErrClaimConflict is returned by Claim when another job for the room is
// already processing (or the room is already ready). Not a failure: the
// caller reports in-progress.
var ErrClaimConflict = errors.New("job already claimed")

// Repository handles room video persistence. Room IDs are normalized by the
// caller before they reach this layer.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a room video repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const videoColumns = `room_id, status, COALESCE(source_key,''), COALESCE(manifest_url,''), COALESCE(last_error,''), created_at, updated_at`

func scanVideo(row pgx.Row) (*models.RoomVideo, error) {
	var v models.RoomVideo
	err := row.Scan(&v.RoomID, &v.Status, &v.SourceKey, &v.ManifestURL, &v.LastError, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Find returns the video record for a room, or nil when none exists.
func (r *Repository) Find(ctx context.Context, roomID string) (*models.RoomVideo, error) {
	const q = `SELECT ` + videoColumns + ` FROM room_videos WHERE room_id = $1`
	v, err := scanVideo(r.pool.QueryRow(ctx, q, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// FindBySourceKey returns the record whose original upload key matches, or nil.
func (r *Repository) FindBySourceKey(ctx context.Context, sourceKey string) (*models.RoomVideo, error) {
	const q = `SELECT ` + videoColumns + ` FROM room_videos WHERE source_key = $1 LIMIT 1`
	v, err := scanVideo(r.pool.QueryRow(ctx, q, sourceKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// Claim atomically transitions {absent|pending|failed} -> processing in a
// single conditional upsert. The WHERE clause makes a concurrent claimer (or
// a finished job) lose: zero rows come back and ErrClaimConflict is returned.
// This is the one mutual-exclusion point of the pipeline and holds across
// server processes sharing the database.
func (r *Repository) Claim(ctx context.Context, roomID, sourceKey string) (*models.RoomVideo, error) {
	const q = `INSERT INTO room_videos (room_id, status, source_key)
		VALUES ($1, 'processing', $2)
		ON CONFLICT (room_id) DO UPDATE
		SET status = 'processing', source_key = EXCLUDED.source_key,
		    manifest_url = NULL, last_error = NULL, updated_at = NOW()
		WHERE room_videos.status NOT IN ('processing', 'ready')
		RETURNING ` + videoColumns
	v, err := scanVideo(r.pool.QueryRow(ctx, q, roomID, sourceKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClaimConflict
		}
		return nil, err
	}
	return v, nil
}

// MarkReady records a successful transcode.
func (r *Repository) MarkReady(ctx context.Context, roomID, manifestURL string) error {
	const q = `UPDATE room_videos SET status = 'ready', manifest_url = $2, last_error = NULL, updated_at = NOW()
		WHERE room_id = $1`
	_, err := r.pool.Exec(ctx, q, roomID, manifestURL)
	return err
}

// MarkFailed records a failed transcode attempt. The record stays claimable:
// a later Claim for the same room re-enters processing.
func (r *Repository) MarkFailed(ctx context.Context, roomID, lastError string) error {
	const q = `UPDATE room_videos SET status = 'failed', manifest_url = NULL, last_error = $2, updated_at = NOW()
		WHERE room_id = $1`
	_, err := r.pool.Exec(ctx, q, roomID, lastError)
	return err
}

// Delete removes the record. Returns false when no record existed.
func (r *Repository) Delete(ctx context.Context, roomID string) (bool, error) {
	const q = `DELETE FROM room_videos WHERE room_id = $1`
	tag, err := r.pool.Exec(ctx, q, roomID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FindByRoom satisfies the realtime hub's video lookup for join replay.
func (r *Repository) FindByRoom(ctx context.Context, roomID string) (*models.RoomVideo, error) {
	return r.Find(ctx, models.NormalizeRoomID(roomID))
}
