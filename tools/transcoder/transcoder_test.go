package transcoder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectionResolve(t *testing.T) {
	cases := []struct {
		name  string
		sel   Selection
		value string
		emit  bool
	}{
		{"zero value keeps", Selection{}, "", false},
		{"keep", KeepOriginal(), "", false},
		{"custom", CustomValue("1920x1080"), "1920x1080", true},
		{"custom trimmed", CustomValue("  30 "), "30", true},
		{"custom empty", CustomValue(""), "", false},
		{"named", Preset("44100"), "44100", true},
		{"named empty", Preset(""), "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := tc.sel.Resolve()
			assert.Equal(t, tc.value, v)
			assert.Equal(t, tc.emit, ok)
		})
	}
}

func TestParseSelection(t *testing.T) {
	assert.True(t, ParseSelection("").IsKeep())
	assert.True(t, ParseSelection("Original").IsKeep())
	assert.Equal(t, CustomValue("640x360"), ParseSelection("custom:640x360"))
	assert.Equal(t, Preset("128k"), ParseSelection("128k"))
	assert.Equal(t, "custom:640x360", ParseSelection("custom:640x360").String())
}

func TestParseQuality(t *testing.T) {
	assert.Equal(t, QualityHigh, ParseQuality("HIGH"))
	assert.Equal(t, QualityMedium, ParseQuality("medium"))
	assert.Equal(t, QualityLow, ParseQuality(" low"))
	assert.Equal(t, QualityOriginal, ParseQuality("ultra"))
	assert.Equal(t, "original", QualityOriginal.String())
}

func TestBuiltCommandIsImmutable(t *testing.T) {
	cmd := NewBuiltCommand("ffmpeg", "-i", "a.mov", "a.mp4")

	argv := cmd.Argv()
	argv[1] = "changed"

	assert.Equal(t, []string{"ffmpeg", "-i", "a.mov", "a.mp4"}, cmd.Argv())
	assert.Equal(t, []string{"-i", "a.mov", "a.mp4"}, cmd.Args())
	assert.Equal(t, "ffmpeg", cmd.Executable())
	assert.Equal(t, "ffmpeg -i a.mov a.mp4", cmd.String())
}

func TestProcessFailedErrorIs(t *testing.T) {
	var err error = &ProcessFailedError{ExitCode: 1, Output: "boom"}

	assert.True(t, errors.Is(err, ErrProcessFailed))

	var pf *ProcessFailedError
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, 1, pf.ExitCode)
	assert.Contains(t, err.Error(), "boom")
}

func TestApplyPreset(t *testing.T) {
	base := TranscodeRequest{Input: "in.mov", Output: "out.mp4", RawExtraArgs: "-map 0"}

	web, err := ApplyPreset(base, PresetWebOptimized)
	require.NoError(t, err)
	res, ok := web.Resolution.Resolve()
	assert.True(t, ok)
	assert.Equal(t, "1280x720", res)
	assert.Equal(t, QualityMedium, web.Quality)
	assert.Equal(t, "in.mov", web.Input)
	assert.Equal(t, "-map 0", web.RawExtraArgs)

	mobile, err := ApplyPreset(base, PresetMobileOptimized)
	require.NoError(t, err)
	res, _ = mobile.Resolution.Resolve()
	assert.Equal(t, "854x480", res)

	mp3, err := ApplyPreset(base, PresetHighQualityMp3)
	require.NoError(t, err)
	br, _ := mp3.AudioBitrate.Resolve()
	assert.Equal(t, "320k", br)
	assert.Equal(t, "libmp3lame", mp3.AudioCodec)

	_, err = ApplyPreset(base, "bogus")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestJobStateTerminal(t *testing.T) {
	assert.False(t, JobRunning.Terminal())
	assert.False(t, JobFinalizing.Terminal())
	assert.True(t, JobSucceeded.Terminal())
	assert.True(t, JobCancelled.Terminal())
	assert.Equal(t, "finalizing", JobFinalizing.String())
}
