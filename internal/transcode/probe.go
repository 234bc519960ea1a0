package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// ProbeResult holds the first video and audio codec identifiers found in a
// source file. Either may be empty when the stream is absent.
type ProbeResult struct {
	VideoCodec string
	AudioCodec string
}

type ffprobeOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

func (e *Engine) probe(ctx context.Context, inputPath string) (ProbeResult, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "stream=codec_name,codec_type",
		"-of", "json",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(data []byte) (ProbeResult, error) {
	var probed ffprobeOutput
	if err := json.Unmarshal(data, &probed); err != nil {
		return ProbeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	var res ProbeResult
	for _, s := range probed.Streams {
		switch s.CodecType {
		case "video":
			if res.VideoCodec == "" {
				res.VideoCodec = s.CodecName
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}
	return res, nil
}
