package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/transcodeuz/media-engine/config"
	"gitlab.com/transcodeuz/media-engine/models"
	"gitlab.com/transcodeuz/media-engine/pkg/handler"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/tools/ffmpeg"
	"gitlab.com/transcodeuz/media-engine/tools/ncm"
	"gitlab.com/transcodeuz/media-engine/tools/supervisor"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

var (
	// Access these variables only from a main package:

	Root = &cobra.Command{
		Use:           "mediactl",
		Short:         "Inspect, build and run ffmpeg jobs from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			if LoggerLevel != "" {
				cfg.LogLevel = LoggerLevel
			}
			log = logger.New(cfg.LogLevel, "mediactl")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = log.Sync()
		},
	}

	Version = &cobra.Command{
		Use:   "version",
		Short: "Print the ffmpeg version line",
		Args:  cobra.ExactArgs(0),
		RunE:  version,
	}

	Detect = &cobra.Command{
		Use:   "detect",
		Short: "List hardware accelerators and encoders",
		Args:  cobra.ExactArgs(0),
		RunE:  detect,
	}

	Probe = &cobra.Command{
		Use:   "probe <file>",
		Short: "Show the format and first video and audio stream of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  probe,
	}

	Presets = &cobra.Command{
		Use:   "presets",
		Short: "List the preset names",
		Args:  cobra.ExactArgs(0),
		Run:   presets,
	}

	Build = &cobra.Command{
		Use:   "build <input> <output>",
		Short: "Print the ffmpeg command for the given options",
		Args:  cobra.ExactArgs(2),
		RunE:  build,
	}

	Run = &cobra.Command{
		Use:   "run <input> <output>",
		Short: "Build the command and run it with live progress",
		Args:  cobra.ExactArgs(2),
		RunE:  run,
	}

	Decrypt = &cobra.Command{
		Use:   "decrypt <file.ncm>",
		Short: "Decrypt an ncm container into a temp file",
		Args:  cobra.ExactArgs(1),
		RunE:  decrypt,
	}

	NcmToMp3 = &cobra.Command{
		Use:   "ncm2mp3 <file.ncm> <output.mp3>",
		Short: "Decrypt an ncm container and convert it to mp3",
		Args:  cobra.ExactArgs(2),
		RunE:  ncmToMp3,
	}

	LoggerLevel string

	cfg config.Config
	log logger.Logger = logger.NewNop()
)

func init() {
	Root.AddCommand(Version)
	Root.AddCommand(Detect)
	Root.AddCommand(Probe)
	Root.AddCommand(Presets)
	Root.AddCommand(Build)
	Root.AddCommand(Run)
	Root.AddCommand(Decrypt)
	Root.AddCommand(NcmToMp3)

	Root.PersistentFlags().StringVar(&LoggerLevel, "log-level", "", "debug, info, warn or error")

	Probe.Flags().Bool("json", false, "use JSON output format")
	Decrypt.Flags().Bool("json", false, "use JSON output format")

	for _, c := range []*cobra.Command{Build, Run} {
		requestFlags(c)
	}
}

func requestFlags(c *cobra.Command) {
	c.Flags().String("mode", handler.ModeTranscode, "transcode, extract_audio, extract_video or ncm_to_mp3")
	c.Flags().String("preset", "", "preset applied before the other options")
	c.Flags().String("video-codec", "", "video encoder, empty or copy keeps the stream")
	c.Flags().String("audio-codec", "", "audio encoder")
	c.Flags().String("resolution", "", "WxH, original or custom:WxH")
	c.Flags().String("frame-rate", "", "frame rate, original or custom:N")
	c.Flags().String("sample-rate", "", "sample rate, original or custom:N")
	c.Flags().String("audio-bitrate", "", "audio bitrate, original or custom:N")
	c.Flags().String("channels", "", "audio channel count")
	c.Flags().String("hwaccel", "", "accelerator id or name, none disables")
	c.Flags().String("quality", "", "original, high, medium or low")
	c.Flags().String("crop", "", "crop filter value w:h:x:y")
	c.Flags().Bool("scale", false, "apply the scale filter from the resolution")
	c.Flags().Int("rotate", 0, "rotate by 90, 180 or 270 degrees")
	c.Flags().String("volume", "", "volume filter multiplier")
	c.Flags().String("extra", "", "extra ffmpeg arguments split on whitespace")
}

func messageFromFlags(cmd *cobra.Command, input, output string) (*models.TranscodeMessage, error) {
	f := cmd.Flags()
	get := func(name string) string {
		v, _ := f.GetString(name)
		return v
	}

	scale, err := f.GetBool("scale")
	if err != nil {
		return nil, err
	}
	rotate, err := f.GetInt("rotate")
	if err != nil {
		return nil, err
	}

	crop := get("crop")
	return &models.TranscodeMessage{
		Mode:         get("mode"),
		InputURI:     input,
		OutputKey:    output,
		Preset:       get("preset"),
		VideoCodec:   get("video-codec"),
		AudioCodec:   get("audio-codec"),
		Resolution:   get("resolution"),
		FrameRate:    get("frame-rate"),
		SampleRate:   get("sample-rate"),
		AudioBitrate: get("audio-bitrate"),
		Channels:     get("channels"),
		HWAccel:      get("hwaccel"),
		Quality:      get("quality"),
		CustomArgs:   get("extra"),
		Filters: models.FiltersMessage{
			Crop:        crop,
			CropEnabled: crop != "",
			Scale:       scale,
			Rotate:      rotate,
			Volume:      get("volume"),
		},
	}, nil
}

// commandFromFlags builds the command the flags describe. Detection only runs when an accelerator is requested.
func commandFromFlags(cmd *cobra.Command, ff *ffmpeg.FFmpeg, input, output string) (transcoder.BuiltCommand, error) {
	msg, err := messageFromFlags(cmd, input, output)
	if err != nil {
		return transcoder.BuiltCommand{}, err
	}

	switch msg.Mode {
	case handler.ModeExtractAudio:
		return ff.ExtractAudio(input, output), nil
	case handler.ModeExtractVideo:
		return ff.ExtractVideo(input, output), nil
	case handler.ModeNcmToMp3:
		return ff.EncryptedAudioToMp3(input, output), nil
	}

	req, err := handler.RequestFromMessage(msg, input, output)
	if err != nil {
		return transcoder.BuiltCommand{}, err
	}

	profile := transcoder.UnsupportedProfile()
	if req.HWAccel != "" && req.HWAccel != transcoder.AcceleratorNone {
		profile = ff.DetectHardware(cmd.Context())
	}

	return ff.Build(req, profile)
}

func version(cmd *cobra.Command, args []string) error {
	v, err := ffmpeg.NewFFmpeg(&cfg, log).CheckVersion(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func detect(cmd *cobra.Command, args []string) error {
	profile := ffmpeg.NewFFmpeg(&cfg, log).DetectHardware(cmd.Context())
	fmt.Fprint(cmd.OutOrStdout(), profile.Report())
	return nil
}

func probe(cmd *cobra.Command, args []string) error {
	res, err := ffmpeg.NewFFmpeg(&cfg, log).Probe(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return jsonOutput(cmd.OutOrStdout(), res)
	}
	fmt.Fprint(cmd.OutOrStdout(), res.Summary())
	return nil
}

func presets(cmd *cobra.Command, args []string) {
	for _, p := range transcoder.Presets {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
}

func build(cmd *cobra.Command, args []string) error {
	c, err := commandFromFlags(cmd, ffmpeg.NewFFmpeg(&cfg, log), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), c.String())
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	c, err := commandFromFlags(cmd, ffmpeg.NewFFmpeg(&cfg, log), args[0], args[1])
	if err != nil {
		return err
	}
	return supervise(cmd.Context(), cmd.OutOrStdout(), c, args[1])
}

func decrypt(cmd *cobra.Command, args []string) error {
	res, err := ncm.NewDecryptor(&cfg, log).DecryptFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return jsonOutput(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Path)
	if !res.Verified {
		fmt.Fprintln(out, "warning: decrypted with the legacy transform, the output is unverified")
	}
	if md := res.Metadata; md != nil {
		fmt.Fprintf(out, "%s - %v (%s)\n", md.MusicName, md.Artists, md.Album)
	}
	return nil
}

func ncmToMp3(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	plain, err := ncm.NewDecryptor(&cfg, log).Decrypt(ctx, args[0])
	if err != nil {
		return err
	}
	defer func() {
		if err := ncm.Cleanup(plain); err != nil {
			log.Warn("could not remove decrypted file", logger.String("path", plain), logger.Error(err))
		}
	}()

	c := ffmpeg.NewFFmpeg(&cfg, log).EncryptedAudioToMp3(plain, args[1])
	return supervise(ctx, cmd.OutOrStdout(), c, args[1])
}

// supervise runs c and prints a progress line until the job is terminal
func supervise(ctx context.Context, out io.Writer, c transcoder.BuiltCommand, output string) error {
	job, err := supervisor.New(supervisor.OptionsFromConfig(&cfg), log).Start(ctx, c, output)
	if err != nil {
		return err
	}

	for ev := range job.Events() {
		snap := job.Snapshot()
		fmt.Fprintf(out, "\r[%3d%%] %-18s elapsed %-8s remaining %-8s",
			ev.Progress, ev.Message, snap.Elapsed.Round(100*time.Millisecond), snap.Remaining.Round(100*time.Millisecond))
	}
	fmt.Fprintln(out)

	snap := job.Snapshot()
	switch snap.State {
	case transcoder.JobSucceeded:
		fmt.Fprintln(out, output)
		return nil
	case transcoder.JobCancelled:
		return context.Canceled
	default:
		if snap.Err != nil {
			return snap.Err
		}
		return fmt.Errorf("%w: %s", transcoder.ErrProcessFailed, snap.Message)
	}
}

func jsonOutput(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Exit prints err and exits with a non-zero code
func Exit(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
