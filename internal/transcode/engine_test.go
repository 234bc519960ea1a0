package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/eclipsera/backend/pkg/queue"
)

type fakeUploader struct {
	mu       sync.Mutex
	uploads  map[string]string // key -> content type
	failKeys map[string]bool
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{uploads: make(map[string]string), failKeys: make(map[string]bool)}
}

func (u *fakeUploader) Upload(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failKeys[key] {
		return "", errors.New("upload refused")
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	u.uploads[key] = contentType
	return "https://bucket.s3.us-east-1.amazonaws.com/" + key, nil
}

type fakeCleanup struct {
	mu       sync.Mutex
	enqueued []queue.BlobCleanupPayload
}

func (c *fakeCleanup) EnqueueBlobCleanup(_ context.Context, p queue.BlobCleanupPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueued = append(c.enqueued, p)
	return nil
}

func hasArgPair(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestBuildFFmpegArgsCopyVsReencode(t *testing.T) {
	tests := []struct {
		name      string
		probed    ProbeResult
		wantVideo string
		wantAudio string
	}{
		{"both compatible", ProbeResult{VideoCodec: "h264", AudioCodec: "aac"}, "copy", "copy"},
		{"both foreign", ProbeResult{VideoCodec: "hevc", AudioCodec: "ac3"}, "libx264", "aac"},
		{"video only reencode", ProbeResult{VideoCodec: "vp9", AudioCodec: "aac"}, "libx264", "copy"},
		{"audio only reencode", ProbeResult{VideoCodec: "h264", AudioCodec: "mp3"}, "copy", "aac"},
		{"missing streams reencode", ProbeResult{}, "libx264", "aac"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := buildFFmpegArgs("in.mp4", "/tmp/out", tt.probed, 10, 48)
			if !hasArgPair(args, "-c:v", tt.wantVideo) {
				t.Errorf("args %v missing -c:v %s", args, tt.wantVideo)
			}
			if !hasArgPair(args, "-c:a", tt.wantAudio) {
				t.Errorf("args %v missing -c:a %s", args, tt.wantAudio)
			}
			if tt.wantVideo == "libx264" && !hasArgPair(args, "-preset", "veryfast") {
				t.Errorf("args %v missing -preset veryfast for re-encode", args)
			}
		})
	}
}

func TestBuildFFmpegArgsSegmentation(t *testing.T) {
	args := buildFFmpegArgs("in.mp4", "/tmp/out", ProbeResult{VideoCodec: "h264", AudioCodec: "aac"}, 10, 48)

	for flag, value := range map[string]string{
		"-g":             "48",
		"-sc_threshold":  "0",
		"-f":             "hls",
		"-hls_time":      "10",
		"-hls_list_size": "0",
	} {
		if !hasArgPair(args, flag, value) {
			t.Errorf("args %v missing %s %s", args, flag, value)
		}
	}
	if !hasArgPair(args, "-hls_segment_filename", filepath.Join("/tmp/out", "segment_%03d.ts")) {
		t.Errorf("args %v missing segment filename template", args)
	}
	if args[len(args)-1] != filepath.Join("/tmp/out", "index.m3u8") {
		t.Errorf("last arg = %q, want manifest path", args[len(args)-1])
	}
}

func TestParseProbeOutput(t *testing.T) {
	out := []byte(`{"streams":[
		{"codec_name":"h264","codec_type":"video"},
		{"codec_name":"mjpeg","codec_type":"video"},
		{"codec_name":"aac","codec_type":"audio"}
	]}`)
	probed, err := parseProbeOutput(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if probed.VideoCodec != "h264" {
		t.Errorf("video codec = %q, want h264 (first video stream)", probed.VideoCodec)
	}
	if probed.AudioCodec != "aac" {
		t.Errorf("audio codec = %q, want aac", probed.AudioCodec)
	}

	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Error("expected error for malformed ffprobe output")
	}

	probed, err = parseProbeOutput([]byte(`{"streams":[]}`))
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if probed.VideoCodec != "" || probed.AudioCodec != "" {
		t.Errorf("probed = %+v, want empty codecs", probed)
	}
}

func TestStageErrorReason(t *testing.T) {
	err := stageErr(StageEncode, errors.New("codec not supported"))
	if got := Reason(err); got != "codec not supported" {
		t.Errorf("Reason = %q, want the bare cause", got)
	}
	if got := err.Error(); got != "encode: codec not supported" {
		t.Errorf("Error = %q, want stage-prefixed message", got)
	}

	wrapped := fmt.Errorf("convert: %w", err)
	if got := Reason(wrapped); got != "codec not supported" {
		t.Errorf("Reason through wrap = %q", got)
	}

	plain := errors.New("unexpected")
	if got := Reason(plain); got != "unexpected" {
		t.Errorf("Reason of plain error = %q", got)
	}

	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageEncode {
		t.Error("stage not recoverable via errors.As")
	}
}

func TestConvertDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	engine := NewEngine(newFakeUploader(), nil, Config{}, nil)
	_, err := engine.Convert(context.Background(), srv.URL+"/uploads/missing.mp4", "room")
	if err == nil {
		t.Fatal("expected download failure")
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageDownload {
		t.Fatalf("err = %v, want download stage error", err)
	}
}

func TestUploadOutputs(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"index.m3u8":     "#EXTM3U",
		"segment_000.ts": "seg0",
		"segment_001.ts": "seg1",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	uploader := newFakeUploader()
	engine := NewEngine(uploader, nil, Config{}, nil)

	manifestURL, err := engine.uploadOutputs(context.Background(), dir, "movie", 1700000000000)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasSuffix(manifestURL, "rooms/movie/converted/1700000000000/index.m3u8") {
		t.Fatalf("manifest URL = %q", manifestURL)
	}

	want := map[string]string{
		"rooms/movie/converted/1700000000000/index.m3u8":     "application/vnd.apple.mpegurl",
		"rooms/movie/converted/1700000000000/segment_000.ts": "video/MP2T",
		"rooms/movie/converted/1700000000000/segment_001.ts": "video/MP2T",
	}
	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	if len(uploader.uploads) != len(want) {
		t.Fatalf("uploaded %d objects, want %d: %v", len(uploader.uploads), len(want), uploader.uploads)
	}
	for key, ct := range want {
		if got := uploader.uploads[key]; got != ct {
			t.Errorf("content type for %s = %q, want %q", key, got, ct)
		}
	}
}

func TestUploadFailureEnqueuesCleanup(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte("#EXTM3U"), 0o644); err != nil {
		t.Fatal(err)
	}

	uploader := newFakeUploader()
	uploader.failKeys["rooms/movie/converted/42/index.m3u8"] = true
	cleanup := &fakeCleanup{}
	engine := NewEngine(uploader, cleanup, Config{}, nil)

	if _, err := engine.uploadOutputs(context.Background(), dir, "movie", 42); err == nil {
		t.Fatal("expected upload failure")
	}
	engine.enqueuePartialCleanup("movie", 42)

	cleanup.mu.Lock()
	defer cleanup.mu.Unlock()
	if len(cleanup.enqueued) != 1 {
		t.Fatalf("enqueued %d cleanup jobs, want 1", len(cleanup.enqueued))
	}
	if got := cleanup.enqueued[0].Prefix; got != "rooms/movie/converted/42/" {
		t.Fatalf("cleanup prefix = %q", got)
	}
}
