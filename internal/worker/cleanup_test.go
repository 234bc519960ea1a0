package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/eclipsera/backend/pkg/queue"
)

type fakeBlobStore struct {
	objects map[string]bool
	listErr error
}

func (s *fakeBlobStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var keys []string
	for k := range s.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *fakeBlobStore) DeleteObject(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func cleanupJob(t *testing.T, roomID, prefix string) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.BlobCleanupPayload{RoomID: roomID, Prefix: prefix})
	if err != nil {
		t.Fatal(err)
	}
	return &queue.Job{ID: "job-1", Type: queue.JobTypeBlobCleanup, Payload: payload}
}

func TestProcessDeletesOnlyPrefixedKeys(t *testing.T) {
	store := &fakeBlobStore{objects: map[string]bool{
		"rooms/a/converted/1/index.m3u8":     true,
		"rooms/a/converted/1/segment_000.ts": true,
		"rooms/a/converted/2/index.m3u8":     true,
		"rooms/b/converted/1/index.m3u8":     true,
	}}
	p := NewCleanupProcessor(store, nil, nil)

	if err := p.Process(context.Background(), cleanupJob(t, "a", "rooms/a/converted/1/")); err != nil {
		t.Fatalf("process: %v", err)
	}

	for key, want := range map[string]bool{
		"rooms/a/converted/1/index.m3u8":     false,
		"rooms/a/converted/1/segment_000.ts": false,
		"rooms/a/converted/2/index.m3u8":     true,
		"rooms/b/converted/1/index.m3u8":     true,
	} {
		if store.objects[key] != want {
			t.Errorf("key %s present=%v, want %v", key, store.objects[key], want)
		}
	}
}

func TestProcessEmptyPrefixIsReplayable(t *testing.T) {
	store := &fakeBlobStore{objects: map[string]bool{}}
	p := NewCleanupProcessor(store, nil, nil)

	// Re-running over an already-cleaned prefix succeeds.
	if err := p.Process(context.Background(), cleanupJob(t, "a", "rooms/a/converted/1/")); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestProcessRejectsBadJobs(t *testing.T) {
	p := NewCleanupProcessor(&fakeBlobStore{objects: map[string]bool{}}, nil, nil)

	if err := p.Process(context.Background(), &queue.Job{Type: "mystery"}); err == nil {
		t.Error("unknown job type accepted")
	}
	if err := p.Process(context.Background(), cleanupJob(t, "a", "")); err == nil {
		t.Error("empty prefix accepted")
	}
	bad := &queue.Job{Type: queue.JobTypeBlobCleanup, Payload: []byte("{")}
	if err := p.Process(context.Background(), bad); err == nil {
		t.Error("malformed payload accepted")
	}
}

func TestProcessPropagatesStoreErrors(t *testing.T) {
	store := &fakeBlobStore{listErr: errors.New("store unavailable")}
	p := NewCleanupProcessor(store, nil, nil)

	if err := p.Process(context.Background(), cleanupJob(t, "a", "rooms/a/converted/1/")); err == nil {
		t.Error("list failure not surfaced for retry")
	}
}
