package ffmpeg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

const probeJSON = `{
    "streams": [
        {
            "index": 0,
            "codec_name": "h264",
            "codec_type": "video",
            "width": 1920,
            "height": 1080,
            "r_frame_rate": "30000/1001",
            "avg_frame_rate": "30000/1001"
        },
        {
            "index": 1,
            "codec_name": "aac",
            "codec_type": "audio",
            "sample_rate": "48000",
            "channels": 2
        },
        {
            "index": 2,
            "codec_name": "mp3",
            "codec_type": "audio",
            "sample_rate": "44100",
            "channels": 1
        }
    ],
    "format": {
        "filename": "a.mov",
        "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
        "duration": "12.480000",
        "bit_rate": "5210345"
    }
}`

func TestParseProbeOutput(t *testing.T) {
	res, err := ParseProbeOutput([]byte(probeJSON))
	require.NoError(t, err)

	assert.Equal(t, "mov,mp4,m4a,3gp,3g2,mj2", res.FormatName)
	assert.InDelta(t, 12.48, res.Duration, 0.0001)
	assert.Equal(t, int64(5210345), res.BitRate)

	require.NotNil(t, res.Video)
	assert.Equal(t, "h264", res.Video.Codec)
	assert.Equal(t, 1920, res.Video.Width)
	assert.InDelta(t, 29.97, res.Video.FrameRate, 0.01)

	require.NotNil(t, res.Audio)
	assert.Equal(t, "aac", res.Audio.Codec)
	assert.Equal(t, 2, res.Audio.Channels)
	assert.Equal(t, 48000, res.Audio.SampleRate)

	summary := res.Summary()
	assert.Contains(t, summary, "Video: h264 1920x1080")
	assert.Contains(t, summary, "Audio: aac 2 ch 48000 Hz")
}

func TestParseProbeOutputAudioOnly(t *testing.T) {
	res, err := ParseProbeOutput([]byte(`{"format":{"format_name":"mp3","duration":"3.0"},"streams":[{"codec_type":"audio","codec_name":"mp3","sample_rate":"44100","channels":2}]}`))
	require.NoError(t, err)

	assert.Nil(t, res.Video)
	require.NotNil(t, res.Audio)
	assert.Contains(t, res.Summary(), "Video: none")
}

func TestParseProbeOutputGarbage(t *testing.T) {
	_, err := ParseProbeOutput([]byte("not json"))
	assert.ErrorIs(t, err, transcoder.ErrProbe)
}

func TestProbe(t *testing.T) {
	r := &fakeRunner{responses: map[string]fakeResponse{
		"a.mov": {out: []byte(probeJSON)},
	}}
	f := newTestFFmpeg(r)

	res, err := f.Probe(context.Background(), "a.mov")
	require.NoError(t, err)
	assert.Equal(t, "h264", res.Video.Codec)
	assert.Equal(t,
		[]string{"ffprobe", "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", "a.mov"},
		r.calls[0],
	)
}

func TestProbeFailure(t *testing.T) {
	_, err := newTestFFmpeg(&fakeRunner{}).Probe(context.Background(), "missing.mov")
	assert.ErrorIs(t, err, transcoder.ErrProbe)
	assert.ErrorIs(t, err, transcoder.ErrExecutableUnavailable)
}

func TestParseFrameRate(t *testing.T) {
	assert.Equal(t, 25.0, parseFrameRate("25/1"))
	assert.Equal(t, 24.0, parseFrameRate("24"))
	assert.Equal(t, 0.0, parseFrameRate("0/0"))
	assert.Equal(t, 0.0, parseFrameRate(""))
}
