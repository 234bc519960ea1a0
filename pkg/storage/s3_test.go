package storage

import "testing"

func TestConvertedKeys(t *testing.T) {
	if got := ConvertedPrefix("movie-night"); got != "rooms/movie-night/converted/" {
		t.Errorf("ConvertedPrefix = %q", got)
	}
	if got := ConvertedTimestampPrefix("movie-night", 1700000000000); got != "rooms/movie-night/converted/1700000000000/" {
		t.Errorf("ConvertedTimestampPrefix = %q", got)
	}
	if got := ConvertedKey("movie-night", 1700000000000, "index.m3u8"); got != "rooms/movie-night/converted/1700000000000/index.m3u8" {
		t.Errorf("ConvertedKey = %q", got)
	}
	// Filenames are basenamed so callers cannot escape the prefix.
	if got := ConvertedKey("movie-night", 1, "../../../etc/passwd"); got != "rooms/movie-night/converted/1/passwd" {
		t.Errorf("ConvertedKey with traversal = %q", got)
	}
}

func TestUploadKey(t *testing.T) {
	if got := UploadKey("abc123"); got != "uploads/abc123" {
		t.Errorf("UploadKey = %q", got)
	}
	if got := UploadKey("../secrets"); got != "uploads/secrets" {
		t.Errorf("UploadKey with traversal = %q", got)
	}
}

func TestHLSContentType(t *testing.T) {
	tests := map[string]string{
		"index.m3u8":     ContentTypeManifest,
		"segment_000.ts": ContentTypeSegment,
		"notes.txt":      "application/octet-stream",
	}
	for name, want := range tests {
		if got := HLSContentType(name); got != want {
			t.Errorf("HLSContentType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestRoomIDFromKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"rooms/movie-night/converted/1/index.m3u8", "movie-night"},
		{"/rooms/movie-night/converted/1/index.m3u8", "movie-night"},
		{"uploads/abc123", ""},
		{"rooms/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := RoomIDFromKey(tt.key); got != tt.want {
			t.Errorf("RoomIDFromKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
