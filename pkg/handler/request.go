package handler

import (
	"fmt"
	"strings"

	"gitlab.com/transcodeuz/media-engine/models"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

// job modes
const (
	ModeTranscode    = "transcode"
	ModeExtractAudio = "extract_audio"
	ModeExtractVideo = "extract_video"
	ModeNcmToMp3     = "ncm_to_mp3"
)

func normalizeMode(mode string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case "", ModeTranscode:
		return ModeTranscode, nil
	case ModeExtractAudio, ModeExtractVideo, ModeNcmToMp3:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q: %w", mode, transcoder.ErrInvalidParameter)
	}
}

// RequestFromMessage turns a queue message into a transcode request.
// The preset is applied first so explicit codecs and sizes in the message win.
func RequestFromMessage(msg *models.TranscodeMessage, input, output string) (transcoder.TranscodeRequest, error) {
	req := transcoder.TranscodeRequest{
		Input:  input,
		Output: output,
	}

	if msg.Preset != "" {
		var err error
		req, err = transcoder.ApplyPreset(req, transcoder.PresetName(msg.Preset))
		if err != nil {
			return req, err
		}
	}

	if msg.VideoCodec != "" {
		req.VideoCodec = msg.VideoCodec
	}
	if msg.AudioCodec != "" {
		req.AudioCodec = msg.AudioCodec
	}
	if msg.Resolution != "" {
		req.Resolution = transcoder.ParseSelection(msg.Resolution)
	}
	if msg.FrameRate != "" {
		req.FrameRate = transcoder.ParseSelection(msg.FrameRate)
	}
	if msg.SampleRate != "" {
		req.SampleRate = transcoder.ParseSelection(msg.SampleRate)
	}
	if msg.AudioBitrate != "" {
		req.AudioBitrate = transcoder.ParseSelection(msg.AudioBitrate)
	}
	if msg.Quality != "" {
		req.Quality = transcoder.ParseQuality(msg.Quality)
	}

	req.Channels = msg.Channels
	req.HWAccel = msg.HWAccel
	req.ExtraArgs = msg.ExtraArgs
	req.RawExtraArgs = msg.CustomArgs

	req.Filters = transcoder.Filters{
		CropEnabled:   msg.Filters.CropEnabled,
		Crop:          msg.Filters.Crop,
		ScaleEnabled:  msg.Filters.Scale,
		RotateEnabled: msg.Filters.Rotate != 0,
		RotateAngle:   msg.Filters.Rotate,
		VolumeEnabled: msg.Filters.Volume != "",
		Volume:        msg.Filters.Volume,
	}

	return req, nil
}
