package ffmpeg

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/transcodeuz/media-engine/config"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

type fakeResponse struct {
	out []byte
	err error
}

type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     [][]string
	block     bool
}

func (r *fakeRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	resp, ok := r.responses[args[len(args)-1]]
	if !ok {
		return nil, exec.ErrNotFound
	}
	return resp.out, resp.err
}

func testConfig() *config.Config {
	return &config.Config{
		FFmpeg:        "ffmpeg",
		FFprobe:       "ffprobe",
		DetectTimeout: time.Second,
		ProbeTimeout:  time.Second,
	}
}

func newTestFFmpeg(r Runner) *FFmpeg {
	return NewFFmpegWithRunner(testConfig(), logger.NewNop(), r)
}

func TestReplaceArgumentsDoesNotMutateTemplate(t *testing.T) {
	first := extractVideo.ReplaceArguments([]Args{{Index: 1, Value: "a.mkv"}})
	second := extractVideo.ReplaceArguments(nil)

	assert.Equal(t, "a.mkv", first[1])
	assert.Equal(t, "input.mp4", second[1])
}

func TestFixedTemplates(t *testing.T) {
	f := newTestFFmpeg(&fakeRunner{})

	assert.Equal(t,
		[]string{"ffmpeg", "-i", "in.mp4", "-vn", "-c:a", "mp3", "-b:a", "192k", "-y", "out.mp3"},
		f.ExtractAudio("in.mp4", "out.mp3").Argv(),
	)
	assert.Equal(t,
		[]string{"ffmpeg", "-i", "in.mp4", "-an", "-c:v", "copy", "-y", "out.mp4"},
		f.ExtractVideo("in.mp4", "out.mp4").Argv(),
	)
	assert.Equal(t,
		[]string{"ffmpeg", "-i", "dec.flac", "-codec:a", "libmp3lame", "-q:a", "2", "-y", "song.mp3"},
		f.EncryptedAudioToMp3("dec.flac", "song.mp3").Argv(),
	)
}

func TestCheckVersion(t *testing.T) {
	f := newTestFFmpeg(&fakeRunner{responses: map[string]fakeResponse{
		"-version": {out: []byte("ffmpeg version 6.1 Copyright (c)\nbuilt with gcc\n")},
	}})

	v, err := f.CheckVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg version 6.1 Copyright (c)", v)

	_, err = newTestFFmpeg(&fakeRunner{}).CheckVersion(context.Background())
	assert.ErrorIs(t, err, transcoder.ErrExecutableUnavailable)
}

func TestClassifyRunError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	assert.ErrorIs(t, classifyRunError(ctx, "ffmpeg", errors.New("killed")), transcoder.ErrTimeout)
	assert.ErrorIs(t, classifyRunError(context.Background(), "ffmpeg", exec.ErrNotFound), transcoder.ErrExecutableUnavailable)
	assert.True(t, strings.Contains(classifyRunError(context.Background(), "ffmpeg", errors.New("eperm")).Error(), "eperm"))
}
