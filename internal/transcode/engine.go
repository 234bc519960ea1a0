package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eclipsera/backend/pkg/queue"
	"github.com/eclipsera/backend/pkg/storage"
)

// Uploader is the blob-store subset the engine needs.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// CleanupEnqueuer schedules deletion of partially uploaded output.
type CleanupEnqueuer interface {
	EnqueueBlobCleanup(ctx context.Context, payload queue.BlobCleanupPayload) error
}

// Config holds the external codec tool settings.
type Config struct {
	FFmpegPath       string
	FFprobePath      string
	SegmentSeconds   int
	KeyframeInterval int
}

// Engine converts an uploaded source video into segmented HLS output in the
// blob store: download, probe, copy-or-reencode, segment, upload manifest
// plus segments under a room- and timestamp-scoped prefix.
type Engine struct {
	store            Uploader
	cleanup          CleanupEnqueuer // optional
	ffmpegPath       string
	ffprobePath      string
	segmentSeconds   int
	keyframeInterval int
	logger           *zap.Logger
}

// NewEngine creates a transcode engine. cleanup may be nil.
func NewEngine(store Uploader, cleanup CleanupEnqueuer, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 10
	}
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = 48
	}
	return &Engine{
		store:            store,
		cleanup:          cleanup,
		ffmpegPath:       cfg.FFmpegPath,
		ffprobePath:      cfg.FFprobePath,
		segmentSeconds:   cfg.SegmentSeconds,
		keyframeInterval: cfg.KeyframeInterval,
		logger:           logger,
	}
}

// Convert runs the full pipeline and returns the public manifest URL. The
// temporary working area is removed on every exit path. Failures carry the
// stage they occurred in (download, probe, encode, upload).
func (e *Engine) Convert(ctx context.Context, sourceURL, roomID string) (string, error) {
	tempDir, err := os.MkdirTemp("", "hls-*")
	if err != nil {
		return "", stageErr(StageDownload, fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(tempDir)

	inputPath := filepath.Join(tempDir, "input.mp4")
	outputDir := filepath.Join(tempDir, "hls")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", stageErr(StageDownload, fmt.Errorf("create output dir: %w", err))
	}

	if err := e.download(ctx, sourceURL, inputPath); err != nil {
		return "", stageErr(StageDownload, err)
	}

	probed, err := e.probe(ctx, inputPath)
	if err != nil {
		return "", stageErr(StageProbe, err)
	}
	e.logger.Info("source probed",
		zap.String("room_id", roomID),
		zap.String("video_codec", probed.VideoCodec),
		zap.String("audio_codec", probed.AudioCodec),
	)

	args := buildFFmpegArgs(inputPath, outputDir, probed, e.segmentSeconds, e.keyframeInterval)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		e.logger.Error("ffmpeg failed", zap.String("room_id", roomID), zap.ByteString("output", out))
		return "", stageErr(StageEncode, fmt.Errorf("ffmpeg: %w", err))
	}

	timestamp := time.Now().UnixMilli()
	manifestURL, err := e.uploadOutputs(ctx, outputDir, roomID, timestamp)
	if err != nil {
		e.enqueuePartialCleanup(roomID, timestamp)
		return "", stageErr(StageUpload, err)
	}
	if manifestURL == "" {
		return "", stageErr(StageUpload, errors.New("no index manifest produced"))
	}
	return manifestURL, nil
}

func (e *Engine) download(ctx context.Context, sourceURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create input file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write input file: %w", err)
	}
	return nil
}

// buildFFmpegArgs decides copy-vs-reencode per stream independently: h264
// video and aac audio are already HLS-compatible and pass through untouched;
// anything else is re-encoded with a speed-biased preset. The keyframe
// interval pins a keyframe at each segment boundary.
func buildFFmpegArgs(inputPath, outputDir string, probed ProbeResult, segmentSeconds, keyframeInterval int) []string {
	args := []string{"-i", inputPath}

	if probed.VideoCodec == "h264" {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast")
	}
	if probed.AudioCodec == "aac" {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", "aac")
	}

	args = append(args,
		"-g", strconv.Itoa(keyframeInterval),
		"-sc_threshold", "0",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%03d.ts"),
		filepath.Join(outputDir, "index.m3u8"),
	)
	return args
}

func (e *Engine) uploadOutputs(ctx context.Context, outputDir, roomID string, timestamp int64) (string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}

	var manifestURL string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(outputDir, name)
		info, err := entry.Info()
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", name, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", name, err)
		}
		key := storage.ConvertedKey(roomID, timestamp, name)
		url, err := e.store.Upload(ctx, key, storage.HLSContentType(name), f, info.Size())
		f.Close()
		if err != nil {
			return "", err
		}
		if name == "index.m3u8" {
			manifestURL = url
		}
	}
	return manifestURL, nil
}

// enqueuePartialCleanup schedules removal of whatever this attempt managed to
// upload before failing, so a failed job leaves no orphan blobs behind.
func (e *Engine) enqueuePartialCleanup(roomID string, timestamp int64) {
	if e.cleanup == nil {
		return
	}
	prefix := storage.ConvertedTimestampPrefix(roomID, timestamp)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.cleanup.EnqueueBlobCleanup(ctx, queue.BlobCleanupPayload{RoomID: roomID, Prefix: prefix}); err != nil {
		e.logger.Warn("enqueue cleanup failed", zap.String("prefix", prefix), zap.Error(err))
	}
}
