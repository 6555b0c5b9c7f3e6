package ffmpeg

import (
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

var extractAudio = Command{
	command: []string{
		"-i",        // 0
		"input.mp4", // 1
		"-vn",       // 2
		"-c:a",      // 3
		"mp3",       // 4
		"-b:a",      // 5
		"192k",      // 6
		"-y",        // 7
		"output",    // 8
	},
}

var extractVideo = Command{
	command: []string{
		"-i",        // 0
		"input.mp4", // 1
		"-an",       // 2
		"-c:v",      // 3
		"copy",      // 4
		"-y",        // 5
		"output",    // 6
	},
}

var encryptedAudioToMp3 = Command{
	command: []string{
		"-i",         // 0
		"input",      // 1
		"-codec:a",   // 2
		"libmp3lame", // 3
		"-q:a",       // 4
		"2",          // 5
		"-y",         // 6
		"output.mp3", // 7
	},
}

// ExtractAudio drops the video and re-encodes audio to 192k mp3
func (f *FFmpeg) ExtractAudio(input, output string) transcoder.BuiltCommand {
	return transcoder.NewBuiltCommand(f.cfg.FFmpeg, extractAudio.ReplaceArguments([]Args{
		{
			Index: 1,
			Value: input,
		},
		{
			Index: 8,
			Value: output,
		},
	})...)
}

// ExtractVideo drops the audio and copies the video stream
func (f *FFmpeg) ExtractVideo(input, output string) transcoder.BuiltCommand {
	return transcoder.NewBuiltCommand(f.cfg.FFmpeg, extractVideo.ReplaceArguments([]Args{
		{
			Index: 1,
			Value: input,
		},
		{
			Index: 6,
			Value: output,
		},
	})...)
}

// EncryptedAudioToMp3 converts an already decrypted ncm payload to vbr mp3
func (f *FFmpeg) EncryptedAudioToMp3(input, output string) transcoder.BuiltCommand {
	return transcoder.NewBuiltCommand(f.cfg.FFmpeg, encryptedAudioToMp3.ReplaceArguments([]Args{
		{
			Index: 1,
			Value: input,
		},
		{
			Index: 7,
			Value: output,
		},
	})...)
}

func loggerCommand(cmd transcoder.BuiltCommand) logger.Field {
	return logger.Strings("command", cmd.Argv())
}
