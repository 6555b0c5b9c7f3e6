package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

var probeCommand = Command{
	command: []string{
		"-v",            // 0
		"quiet",         // 1
		"-print_format", // 2
		"json",          // 3
		"-show_format",  // 4
		"-show_streams", // 5
		"input",         // 6
	},
}

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Channels     int    `json:"channels"`
	SampleRate   string `json:"sample_rate"`
}

// Probe asks ffprobe for format and streams and keeps the first video and the first audio stream
func (f *FFmpeg) Probe(ctx context.Context, path string) (*transcoder.ProbeResult, error) {
	f.log.Info("Probe", logger.String("input", path))

	timeout := f.cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	commands := probeCommand.ReplaceArguments([]Args{
		{
			Index: 6,
			Value: path,
		},
	})

	res, err := f.runner.CombinedOutput(ctx, f.cfg.FFprobe, commands...)
	if err != nil {
		f.log.Debug("ffprobe failed", logger.String("output", string(res)), logger.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", transcoder.ErrProbe, path, classifyRunError(ctx, f.cfg.FFprobe, err))
	}

	result, err := ParseProbeOutput(res)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return result, nil
}

// ParseProbeOutput reduces ffprobe's json document to a ProbeResult
func ParseProbeOutput(data []byte) (*transcoder.ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", transcoder.ErrProbe, err)
	}

	result := &transcoder.ProbeResult{
		FormatName: out.Format.FormatName,
		Duration:   cast.ToFloat64(out.Format.Duration),
		BitRate:    cast.ToInt64(out.Format.BitRate),
	}

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if result.Video != nil {
				continue
			}
			fps := parseFrameRate(s.AvgFrameRate)
			if fps == 0 {
				fps = parseFrameRate(s.RFrameRate)
			}
			result.Video = &transcoder.VideoStreamInfo{
				Codec:     s.CodecName,
				Width:     s.Width,
				Height:    s.Height,
				FrameRate: fps,
			}
		case "audio":
			if result.Audio != nil {
				continue
			}
			result.Audio = &transcoder.AudioStreamInfo{
				Codec:      s.CodecName,
				Channels:   s.Channels,
				SampleRate: cast.ToInt(s.SampleRate),
			}
		}
	}

	return result, nil
}

// parseFrameRate understands "30000/1001" and plain numbers
func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	if !found {
		return cast.ToFloat64(rate)
	}

	d := cast.ToFloat64(den)
	if d == 0 {
		return 0
	}
	return cast.ToFloat64(num) / d
}
