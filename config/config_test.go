package config

import "testing"

func TestDSN(t *testing.T) {
	c := DatabaseConfig{URL: "postgres://db:5432/app?sslmode=disable"}
	if got := c.DSN(); got != "postgres://db:5432/app?sslmode=disable" {
		t.Errorf("DSN = %q, want URL passed through", got)
	}

	c = DatabaseConfig{
		Host: "db", Port: "5433", User: "app", Password: "secret",
		DBName: "videos", SSLMode: "require",
	}
	want := "postgres://app:secret@db:5433/videos?sslmode=require"
	if got := c.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("HLS_SEGMENT_SECONDS", "6")
	t.Setenv("ROOM_INACTIVE_TTL_HOURS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8088" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Transcode.SegmentSeconds != 6 {
		t.Errorf("segment seconds = %d", cfg.Transcode.SegmentSeconds)
	}
	if cfg.Transcode.KeyframeInterval != 48 {
		t.Errorf("keyframe interval = %d, want default", cfg.Transcode.KeyframeInterval)
	}
	if cfg.Rooms.InactiveTTLHours != 4 {
		t.Errorf("room ttl = %d, want default", cfg.Rooms.InactiveTTLHours)
	}
}

func TestWriteTimeoutDisabledByDefault(t *testing.T) {
	t.Setenv("WRITE_TIMEOUT_SEC", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// The process endpoint holds its response for the whole transcode; a
	// finite write deadline would close the connection before the outcome.
	if cfg.Server.WriteTimeout != 0 {
		t.Errorf("write timeout default = %d, want 0", cfg.Server.WriteTimeout)
	}
}
