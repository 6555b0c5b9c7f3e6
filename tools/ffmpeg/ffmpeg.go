package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"gitlab.com/transcodeuz/media-engine/config"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

// Runner runs a short lived command and returns stdout and stderr combined
type Runner interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpeg is structure for a tool to convert video
type FFmpeg struct {
	cfg    *config.Config
	log    logger.Logger
	runner Runner
}

// NewFFmpeg returns the pointer for ffmpeg structure
func NewFFmpeg(cfg *config.Config, log logger.Logger) *FFmpeg {
	return NewFFmpegWithRunner(cfg, log, execRunner{})
}

// NewFFmpegWithRunner is NewFFmpeg with a custom command runner
func NewFFmpegWithRunner(cfg *config.Config, log logger.Logger, runner Runner) *FFmpeg {
	return &FFmpeg{
		cfg:    cfg,
		log:    log,
		runner: runner,
	}
}

var _ transcoder.Transcoder = (*FFmpeg)(nil)

// Command is a fixed argument template
type Command struct {
	command []string
}

// Args is the argument to replace ffmpeg command list
type Args struct {
	Index int
	Value string
}

// ReplaceArguments - returns a copy of the template with the given indexes replaced
func (f Command) ReplaceArguments(args []Args) []string {
	command := make([]string, len(f.command))
	copy(command, f.command)

	for _, arg := range args {
		command[arg.Index] = arg.Value
	}

	return command
}

var versionCommand = Command{
	command: []string{"-hide_banner", "-version"},
}

// CheckVersion runs "ffmpeg -version" and returns the first line of the output
func (f *FFmpeg) CheckVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.DetectTimeout)
	defer cancel()

	out, err := f.runner.CombinedOutput(ctx, f.cfg.FFmpeg, versionCommand.ReplaceArguments(nil)...)
	if err != nil {
		return "", classifyRunError(ctx, f.cfg.FFmpeg, err)
	}

	return firstLine(string(out)), nil
}

// classifyRunError maps exec failures onto the error taxonomy
func classifyRunError(ctx context.Context, name string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", name, transcoder.ErrTimeout)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s: %w", name, transcoder.ErrExecutableUnavailable)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &transcoder.ProcessFailedError{ExitCode: exitErr.ExitCode()}
	}

	return fmt.Errorf("%s: %v: %w", name, err, transcoder.ErrExecutableUnavailable)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			return s[:i]
		}
	}
	return s
}
