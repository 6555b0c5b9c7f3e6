package ffmpeg

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

var hwaccelsCommand = Command{
	command: []string{"-hide_banner", "-hwaccels"},
}

var encodersCommand = Command{
	command: []string{"-hide_banner", "-encoders"},
}

// DetectHardware never fails: a table that could not be probed is reported as unsupported
func (f *FFmpeg) DetectHardware(ctx context.Context) transcoder.HardwareProfile {
	profile, err := f.Detect(ctx)
	if err != nil {
		f.log.Warn("hardware detection incomplete", logger.Error(err))
	}
	return profile
}

// Detect is DetectHardware that also returns every probe failure it swallowed
func (f *FFmpeg) Detect(ctx context.Context) (transcoder.HardwareProfile, error) {
	var result *multierror.Error
	start := time.Now()

	accelerators, err := f.detectAccelerators(ctx)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("hwaccels: %w", err))
	}

	encoders, err := f.detectEncoders(ctx)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("encoders: %w", err))
	}

	profile := transcoder.NewHardwareProfile(accelerators, encoders)

	f.log.Info("hardware detected",
		logger.Strings("accelerators", profile.SupportedAcceleratorNames()),
		logger.Strings("video_codecs", profile.SupportedVideoCodecs()),
		logger.Duration("took", time.Since(start)),
	)

	return profile, result.ErrorOrNil()
}

// RefreshProfile re-detects and swaps the cached profile
func (f *FFmpeg) RefreshProfile(ctx context.Context, cache *transcoder.ProfileCache) transcoder.HardwareProfile {
	profile := f.DetectHardware(ctx)
	cache.Store(profile)
	return profile
}

func (f *FFmpeg) detectAccelerators(ctx context.Context) ([]transcoder.Capability, error) {
	table := append([]transcoder.Capability{}, transcoder.KnownAccelerators...)

	out, err := f.runBounded(ctx, hwaccelsCommand.ReplaceArguments(nil))
	if err != nil {
		return table, err
	}

	MarkAccelerators(table, string(out))
	return table, nil
}

func (f *FFmpeg) detectEncoders(ctx context.Context) ([]transcoder.Capability, error) {
	table := append([]transcoder.Capability{}, transcoder.KnownEncoders...)

	out, err := f.runBounded(ctx, encodersCommand.ReplaceArguments(nil))
	if err != nil {
		return table, err
	}

	MarkEncoders(table, string(out))
	return table, nil
}

func (f *FFmpeg) runBounded(ctx context.Context, args []string) ([]byte, error) {
	timeout := f.cfg.DetectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f.log.Debug("running", logger.String("executable", f.cfg.FFmpeg), logger.Strings("args", args))

	out, err := f.runner.CombinedOutput(ctx, f.cfg.FFmpeg, args...)
	if err != nil {
		return nil, classifyRunError(ctx, f.cfg.FFmpeg, err)
	}
	return out, nil
}

// MarkAccelerators sets Supported for every accelerator id found in the -hwaccels listing
func MarkAccelerators(table []transcoder.Capability, output string) {
	output = strings.ToLower(output)
	for i := range table {
		table[i].Supported = strings.Contains(output, strings.ToLower(table[i].ID))
	}
}

// MarkEncoders sets Supported for every encoder listed as a video encoder in the -encoders listing.
// The id has to be a whole token so h264_qsv never matches h264_qsv_extra.
func MarkEncoders(table []transcoder.Capability, output string) {
	for i := range table {
		table[i].Supported = encoderPattern(table[i].ID).MatchString(output)
	}
}

func encoderPattern(id string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^\s*V\S*\s+` + regexp.QuoteMeta(id) + `(\s|$)`)
}
