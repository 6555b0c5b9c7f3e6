package handler

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/transcodeuz/media-engine/config"
	"gitlab.com/transcodeuz/media-engine/models"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/tools/ffmpeg"
	"gitlab.com/transcodeuz/media-engine/tools/ncm"
	"gitlab.com/transcodeuz/media-engine/tools/storage"
	"gitlab.com/transcodeuz/media-engine/tools/supervisor"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

const probeJSON = `{"format":{"format_name":"mov,mp4","duration":"12.5","bit_rate":"800000"},
"streams":[{"codec_type":"video","codec_name":"h264","width":1280,"height":720,"avg_frame_rate":"25/1"}]}`

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []models.JobStatusMessage
}

func (p *recordingPublisher) PublishJobStatus(req *models.JobStatusMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, *req)
	return nil
}

func (p *recordingPublisher) stages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []string{}
	for _, s := range p.statuses {
		if len(out) == 0 || out[len(out)-1] != s.Stage {
			out = append(out, s.Stage)
		}
	}
	return out
}

type staticRunner struct {
	out []byte
	err error
}

func (r staticRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return r.out, r.err
}

type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return "exit status" }
func (e exitCodeError) ExitCode() int { return e.code }

type fakeProcess struct {
	waitErr error
}

func (p *fakeProcess) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return p.waitErr
}
func (p *fakeProcess) Terminate() error { return nil }
func (p *fakeProcess) Kill() error      { return nil }

type fakeStarter struct {
	waitErr error

	mu      sync.Mutex
	started []transcoder.BuiltCommand
}

func (s *fakeStarter) Start(cmd transcoder.BuiltCommand, output io.Writer) (supervisor.Process, error) {
	s.mu.Lock()
	s.started = append(s.started, cmd)
	s.mu.Unlock()

	_, _ = output.Write([]byte("frame=1 fps=25"))
	return &fakeProcess{waitErr: s.waitErr}, nil
}

type fakeCloud struct {
	uploaded []string
	err      error
}

func (c *fakeCloud) UploadToCloud(ctx context.Context, path string, target *models.CloudStorageConfig) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.uploaded = append(c.uploaded, path)
	return storage.ObjectKey(target, filepath.Base(path)), nil
}

type fakeDecryptor struct {
	dir string
	err error
}

func (d fakeDecryptor) DecryptFile(ctx context.Context, path string) (*ncm.Result, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := filepath.Join(d.dir, "ncm_decrypted_test.mp3")
	if err := os.WriteFile(out, []byte("ID3 audio"), 0o644); err != nil {
		return nil, err
	}
	return &ncm.Result{Path: out, Format: "mp3", Verified: true}, nil
}

type fixture struct {
	cfg       *config.Config
	handler   *handlerObj
	publisher *recordingPublisher
	starter   *fakeStarter
	cloud     *fakeCloud
	input     string
	decryptor fakeDecryptor
}

func testConfig(dir string) *config.Config {
	cfg := &config.Config{
		FFmpeg:           "ffmpeg",
		FFprobe:          "ffprobe",
		TempFolderPath:   dir,
		TranscodeWorkers: 1,
		UploadWorkers:    1,
	}
	cfg.Stages.Preparation = "preparation"
	cfg.Stages.Transcode = "transcode"
	cfg.Stages.Upload = "upload"
	cfg.Status.Pending = "pending"
	cfg.Status.Success = "success"
	cfg.Status.Fail = "fail"
	return cfg
}

func newFixture(t *testing.T, waitErr error) *fixture {
	t.Helper()

	workDir, srcDir := t.TempDir(), t.TempDir()
	input := filepath.Join(srcDir, "movie.mov")
	require.NoError(t, os.WriteFile(input, []byte("not really a movie"), 0o644))

	cfg := testConfig(workDir)
	log := logger.NewNop()

	f := &fixture{
		cfg:       cfg,
		publisher: &recordingPublisher{},
		starter:   &fakeStarter{waitErr: waitErr},
		cloud:     &fakeCloud{},
		input:     input,
		decryptor: fakeDecryptor{dir: workDir},
	}

	opts := supervisor.Options{
		RampInterval: time.Millisecond,
		RampStep:     30,
		RampCeiling:  90,
		PollInterval: time.Millisecond,
		StablePolls:  2,
		KillGrace:    10 * time.Millisecond,
	}
	sup := supervisor.NewWithStarter(opts, log, f.starter, func(string) (int64, error) { return 100, nil })

	f.handler = newHandler(Options{
		Config:       cfg,
		Log:          log,
		LocalStorage: storage.NewFileStorage(cfg, log),
		CloudStorage: func(*models.CloudStorageConfig, logger.Logger) (storage.CloudOperationsI, error) {
			return f.cloud, nil
		},
		Transcoder: ffmpeg.NewFFmpegWithRunner(cfg, log, staticRunner{out: []byte(probeJSON)}),
		Supervisor: sup,
		Decryptor:  f.decryptor,
		Publisher:  f.publisher,
	})
	return f
}

func TestProcessTranscodeAndUpload(t *testing.T) {
	f := newFixture(t, nil)

	msg := &models.TranscodeMessage{
		Id:         "job-1",
		InputURI:   f.input,
		OutputKey:  "out.mp4",
		Preset:     "web_optimized",
		AudioCodec: "libopus",
		Storage:    &models.CloudStorageConfig{Type: "minio", Bucket: "media", Path: "videos"},
	}

	status := f.handler.Process(context.Background(), msg)

	assert.Equal(t, "upload", status.Stage)
	assert.Equal(t, "success", status.Status)
	assert.Equal(t, Success, status.ErrorCode)
	assert.Equal(t, "videos/out.mp4", status.OutputKey)
	assert.Equal(t, 100, status.Progress)
	require.NotNil(t, status.Probe)
	assert.Equal(t, 1280, status.Probe.Video.Width)

	assert.Equal(t, []string{"preparation", "transcode", "upload"}, f.publisher.stages())

	require.Len(t, f.starter.started, 1)
	argv := f.starter.started[0].Argv()
	assert.Equal(t, "ffmpeg", argv[0])
	assert.Contains(t, argv, "libopus")
	assert.Contains(t, argv, "1280x720")
	assert.Equal(t, filepath.Join(f.cfg.TempFolderPath, "job-1", "out.mp4"), argv[len(argv)-1])

	require.Len(t, f.cloud.uploaded, 1)
	_, err := os.Stat(filepath.Join(f.cfg.TempFolderPath, "job-1"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(f.input)
	assert.NoError(t, err)
}

func TestProcessWithoutStorageStopsAfterTranscode(t *testing.T) {
	f := newFixture(t, nil)

	status := f.handler.Process(context.Background(), &models.TranscodeMessage{
		Id:        "job-2",
		Mode:      ModeExtractAudio,
		InputURI:  f.input,
		OutputKey: "audio.mp3",
	})

	assert.Equal(t, "transcode", status.Stage)
	assert.Equal(t, "success", status.Status)
	assert.Empty(t, f.cloud.uploaded)

	require.Len(t, f.starter.started, 1)
	assert.Contains(t, f.starter.started[0].Argv(), "-vn")
}

func TestProcessInvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  models.TranscodeMessage
	}{
		{"unknown mode", models.TranscodeMessage{Id: "a", Mode: "burn", InputURI: "in", OutputKey: "out"}},
		{"no input", models.TranscodeMessage{Id: "a", OutputKey: "out"}},
		{"no output", models.TranscodeMessage{Id: "a", InputURI: "in"}},
		{"unknown preset", models.TranscodeMessage{Id: "a", Preset: "ultra", InputURI: "in", OutputKey: "out"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			msg := tt.msg
			if msg.InputURI == "in" {
				msg.InputURI = f.input
			}

			status := f.handler.Process(context.Background(), &msg)

			assert.Equal(t, "fail", status.Status)
			assert.Equal(t, InvalidRequest, status.ErrorCode)
			assert.Empty(t, f.starter.started)

			last := f.publisher.statuses[len(f.publisher.statuses)-1]
			assert.Equal(t, "preparation", last.Stage)
			assert.NotEmpty(t, last.FailDescription)
		})
	}
}

func TestProcessFailedTranscoder(t *testing.T) {
	f := newFixture(t, exitCodeError{code: 1})

	status := f.handler.Process(context.Background(), &models.TranscodeMessage{
		Id:        "job-3",
		InputURI:  f.input,
		OutputKey: "out.mp4",
		Storage:   &models.CloudStorageConfig{Type: "minio"},
	})

	assert.Equal(t, "transcode", status.Stage)
	assert.Equal(t, "fail", status.Status)
	assert.Equal(t, ProcessFailed, status.ErrorCode)
	assert.Contains(t, status.FailDescription, "exit code 1")
	assert.Empty(t, f.cloud.uploaded)
}

func TestProcessUploadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.cloud.err = errors.New("bucket does not exist")

	status := f.handler.Process(context.Background(), &models.TranscodeMessage{
		Id:        "job-4",
		InputURI:  f.input,
		OutputKey: "out.mp4",
		Storage:   &models.CloudStorageConfig{Type: "s3"},
	})

	assert.Equal(t, "upload", status.Stage)
	assert.Equal(t, "fail", status.Status)
	assert.Equal(t, InternalServerError, status.ErrorCode)
	assert.Contains(t, status.FailDescription, "bucket does not exist")
}

func TestProcessNcmToMp3(t *testing.T) {
	f := newFixture(t, nil)

	status := f.handler.Process(context.Background(), &models.TranscodeMessage{
		Id:        "job-5",
		Mode:      ModeNcmToMp3,
		InputURI:  f.input,
		OutputKey: "song.mp3",
	})

	assert.Equal(t, "success", status.Status)
	require.Len(t, f.starter.started, 1)
	argv := f.starter.started[0].Argv()
	assert.Contains(t, argv, "libmp3lame")
	assert.Contains(t, argv, filepath.Join(f.decryptor.dir, "ncm_decrypted_test.mp3"))

	_, err := os.Stat(filepath.Join(f.decryptor.dir, "ncm_decrypted_test.mp3"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessDecryptFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.handler.decryptor = fakeDecryptor{err: transcoder.ErrDecryption}

	status := f.handler.Process(context.Background(), &models.TranscodeMessage{
		Id:        "job-6",
		Mode:      ModeNcmToMp3,
		InputURI:  f.input,
		OutputKey: "song.mp3",
	})

	assert.Equal(t, "fail", status.Status)
	assert.Equal(t, InvalidRequest, status.ErrorCode)
	assert.Empty(t, f.starter.started)
}

func TestRequestFromMessage(t *testing.T) {
	msg := &models.TranscodeMessage{
		Preset:       "mobile_optimized",
		AudioBitrate: "custom:64k",
		FrameRate:    "original",
		HWAccel:      "cuda",
		Quality:      "high",
		Filters:      models.FiltersMessage{Rotate: 90, Volume: "0.5"},
		CustomArgs:   "-movflags +faststart",
	}

	req, err := RequestFromMessage(msg, "in.mov", "out.mp4")
	require.NoError(t, err)

	assert.Equal(t, "libx264", req.VideoCodec)
	assert.Equal(t, transcoder.Preset(transcoder.ResolutionSD), req.Resolution)
	assert.Equal(t, transcoder.CustomValue("64k"), req.AudioBitrate)
	assert.True(t, req.FrameRate.IsKeep())
	assert.Equal(t, transcoder.QualityHigh, req.Quality)
	assert.True(t, req.Filters.RotateEnabled)
	assert.True(t, req.Filters.VolumeEnabled)
	assert.False(t, req.Filters.CropEnabled)
	assert.Equal(t, "cuda", req.HWAccel)
	assert.Equal(t, "-movflags +faststart", req.RawExtraArgs)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, Success, errorCode(nil))
	assert.Equal(t, InvalidRequest, errorCode(transcoder.ErrInvalidParameter))
	assert.Equal(t, Unavailable, errorCode(transcoder.ErrExecutableUnavailable))
	assert.Equal(t, ProcessFailed, errorCode(&transcoder.ProcessFailedError{ExitCode: 2}))
	assert.Equal(t, InternalServerError, errorCode(errors.New("disk full")))
}

func TestProcessRejectsUnsafeJobID(t *testing.T) {
	for _, id := range []string{".", "..", "../x", "a/b", `a\b`, "/abs"} {
		t.Run(id, func(t *testing.T) {
			f := newFixture(t, nil)

			sibling := filepath.Join(f.cfg.TempFolderPath, "other-job", "keep.mp4")
			require.NoError(t, os.MkdirAll(filepath.Dir(sibling), 0o755))
			require.NoError(t, os.WriteFile(sibling, []byte("still running"), 0o644))

			status := f.handler.Process(context.Background(), &models.TranscodeMessage{
				Id:        id,
				InputURI:  f.input,
				OutputKey: "out.mp4",
			})

			assert.Equal(t, "fail", status.Status)
			assert.Equal(t, InvalidRequest, status.ErrorCode)
			assert.Empty(t, f.starter.started)

			_, err := os.Stat(sibling)
			assert.NoError(t, err)
		})
	}
}

func TestCleanupStaysInsideTempRoot(t *testing.T) {
	f := newFixture(t, nil)
	root := f.cfg.TempFolderPath

	keep := filepath.Join(root, "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	// output directly in the root would make the job folder the root itself
	f.handler.cleanup(&task{output: filepath.Join(root, "out.mp4"), log: logger.NewNop()})
	_, err := os.Stat(keep)
	assert.NoError(t, err)

	outside := t.TempDir()
	f.handler.cleanup(&task{output: filepath.Join(outside, "job", "out.mp4"), log: logger.NewNop()})
	_, err = os.Stat(outside)
	assert.NoError(t, err)

	jobDir := filepath.Join(root, "job-7")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	f.handler.cleanup(&task{output: filepath.Join(jobDir, "out.mp4"), log: logger.NewNop()})
	_, err = os.Stat(jobDir)
	assert.True(t, os.IsNotExist(err))
}

func TestValidJobID(t *testing.T) {
	assert.True(t, validJobID("job-1"))
	assert.True(t, validJobID("0b8e2c1e-5f7a-4d7e-9a3b-1f2e3d4c5b6a"))
	for _, id := range []string{"", ".", "..", "../x", "a/b", `a\b`} {
		assert.False(t, validJobID(id), id)
	}
}
