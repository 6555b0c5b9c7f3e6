package ffmpeg

import (
	"fmt"
	"strings"

	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

const (
	defaultCrop   = "iw:ih:0:0"
	defaultVolume = "1.0"
)

var qualityCommand = Command{
	command: []string{
		"-crf",    // 0
		"23",      // 1
		"-preset", // 2
		"medium",  // 3
	},
}

// Build turns the request into an argument vector. It is pure: equal inputs give equal output.
func Build(executable string, req transcoder.TranscodeRequest, profile transcoder.HardwareProfile) (transcoder.BuiltCommand, error) {
	if strings.TrimSpace(req.Input) == "" {
		return transcoder.BuiltCommand{}, fmt.Errorf("input path is empty: %w", transcoder.ErrInvalidParameter)
	}
	if strings.TrimSpace(req.Output) == "" {
		return transcoder.BuiltCommand{}, fmt.Errorf("output path is empty: %w", transcoder.ErrInvalidParameter)
	}

	args := []string{}

	// -hwaccel must come before the input
	if id, ok := profile.ResolveAccelerator(req.HWAccel); ok {
		args = append(args, "-hwaccel", id)
	}

	args = append(args, "-i", req.Input, "-y")

	if req.VideoCodec != "" && req.VideoCodec != "copy" {
		args = append(args, "-c:v", req.VideoCodec)
	}

	args = appendSelection(args, "-s", req.Resolution)
	args = appendSelection(args, "-r", req.FrameRate)

	if req.AudioCodec != "" {
		args = append(args, "-c:a", req.AudioCodec)
	}

	args = appendSelection(args, "-ar", req.SampleRate)

	if ch := strings.TrimSpace(req.Channels); ch != "" {
		args = append(args, "-ac", ch)
	}

	args = appendSelection(args, "-b:a", req.AudioBitrate)

	if vf := videoFilters(req); len(vf) > 0 {
		args = append(args, "-vf", strings.Join(vf, ","))
	}

	if af := audioFilters(req); len(af) > 0 {
		args = append(args, "-af", strings.Join(af, ","))
	}

	args = append(args, qualityArgs(req.Quality)...)

	args = append(args, req.ExtraArgs...)
	args = append(args, strings.Fields(req.RawExtraArgs)...)

	args = append(args, req.Output)

	return transcoder.NewBuiltCommand(executable, args...), nil
}

// Build uses the configured ffmpeg executable
func (f *FFmpeg) Build(req transcoder.TranscodeRequest, profile transcoder.HardwareProfile) (transcoder.BuiltCommand, error) {
	cmd, err := Build(f.cfg.FFmpeg, req, profile)
	if err != nil {
		return cmd, err
	}

	f.log.Debug("built command", loggerCommand(cmd))
	return cmd, nil
}

func appendSelection(args []string, flag string, sel transcoder.Selection) []string {
	if v, ok := sel.Resolve(); ok {
		return append(args, flag, v)
	}
	return args
}

func videoFilters(req transcoder.TranscodeRequest) []string {
	filters := []string{}

	if req.Filters.CropEnabled {
		crop := strings.TrimSpace(req.Filters.Crop)
		if crop == "" {
			crop = defaultCrop
		}
		filters = append(filters, "crop="+crop)
	}

	if req.Filters.ScaleEnabled {
		if res, ok := req.Resolution.Resolve(); ok {
			filters = append(filters, "scale="+strings.Replace(res, "x", ":", 1))
		}
	}

	if req.Filters.RotateEnabled {
		if t, ok := transposeFilter(req.Filters.RotateAngle); ok {
			filters = append(filters, t)
		}
	}

	return filters
}

// transposeFilter maps clockwise degrees to the transpose filter, other angles have no mapping
func transposeFilter(angle int) (string, bool) {
	switch ((angle % 360) + 360) % 360 {
	case 90:
		return "transpose=clock", true
	case 180:
		return "transpose=clock,transpose=clock", true
	case 270:
		return "transpose=cclock", true
	default:
		return "", false
	}
}

func audioFilters(req transcoder.TranscodeRequest) []string {
	filters := []string{}

	if req.Filters.VolumeEnabled {
		volume := strings.TrimSpace(req.Filters.Volume)
		if volume == "" {
			volume = defaultVolume
		}
		filters = append(filters, "volume="+volume)
	}

	return filters
}

func qualityArgs(q transcoder.Quality) []string {
	switch q {
	case transcoder.QualityHigh:
		return qualityCommand.ReplaceArguments([]Args{
			{Index: 1, Value: "18"},
			{Index: 3, Value: "slow"},
		})
	case transcoder.QualityMedium:
		return qualityCommand.ReplaceArguments(nil)
	case transcoder.QualityLow:
		return qualityCommand.ReplaceArguments([]Args{
			{Index: 1, Value: "28"},
			{Index: 3, Value: "fast"},
		})
	default:
		return nil
	}
}
