package transcoder

import (
	"fmt"
	"strings"
)

type PresetName string

const (
	PresetHighQualityMp4  PresetName = "high_quality_mp4"
	PresetHighQualityMp3  PresetName = "high_quality_mp3"
	PresetWebOptimized    PresetName = "web_optimized"
	PresetMobileOptimized PresetName = "mobile_optimized"
)

// Presets lists the preset names in menu order
var Presets = []PresetName{
	PresetHighQualityMp4,
	PresetHighQualityMp3,
	PresetWebOptimized,
	PresetMobileOptimized,
}

// ApplyPreset returns a copy of req with the preset's codecs, sizes and quality filled in.
// Input, output, filters and extra arguments are left untouched.
func ApplyPreset(req TranscodeRequest, name PresetName) (TranscodeRequest, error) {
	switch PresetName(strings.ToLower(string(name))) {
	case PresetHighQualityMp4:
		req.VideoCodec = "libx264"
		req.AudioCodec = "aac"
		req.AudioBitrate = Preset("192k")
		req.Quality = QualityHigh
	case PresetHighQualityMp3:
		req.VideoCodec = ""
		req.AudioCodec = "libmp3lame"
		req.AudioBitrate = Preset("320k")
		req.Quality = QualityOriginal
	case PresetWebOptimized:
		req.VideoCodec = "libx264"
		req.AudioCodec = "aac"
		req.Resolution = Preset(ResolutionHD)
		req.AudioBitrate = Preset("128k")
		req.Quality = QualityMedium
	case PresetMobileOptimized:
		req.VideoCodec = "libx264"
		req.AudioCodec = "aac"
		req.Resolution = Preset(ResolutionSD)
		req.AudioBitrate = Preset("96k")
		req.Quality = QualityLow
	default:
		return req, fmt.Errorf("unknown preset %q: %w", name, ErrInvalidParameter)
	}

	return req, nil
}
