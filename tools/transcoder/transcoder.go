package transcoder

import (
	"context"
	"strings"
)

const (
	// ResolutionHD - 1280x720
	ResolutionHD = "1280x720"
	// ResolutionSD - 854x480
	ResolutionSD = "854x480"
)

// Transcoder is methods that transcoder must have
type Transcoder interface {
	DetectHardware(ctx context.Context) HardwareProfile
	CheckVersion(ctx context.Context) (string, error)
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	Build(req TranscodeRequest, profile HardwareProfile) (BuiltCommand, error)
	ExtractAudio(input, output string) BuiltCommand
	ExtractVideo(input, output string) BuiltCommand
	EncryptedAudioToMp3(input, output string) BuiltCommand
}

// Quality is the encoder quality tier
type Quality int

const (
	QualityOriginal Quality = iota
	QualityHigh
	QualityMedium
	QualityLow
)

func (q Quality) String() string {
	switch q {
	case QualityHigh:
		return "high"
	case QualityMedium:
		return "medium"
	case QualityLow:
		return "low"
	default:
		return "original"
	}
}

// ParseQuality maps a textual tier to Quality, unknown values become QualityOriginal
func ParseQuality(s string) Quality {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return QualityHigh
	case "medium":
		return QualityMedium
	case "low":
		return QualityLow
	default:
		return QualityOriginal
	}
}

type selectionKind int

const (
	selectionKeep selectionKind = iota
	selectionCustom
	selectionNamed
)

// Selection is a parameter that is either kept from the source, typed in by the user,
// or picked from a named preset. The zero value keeps the original.
type Selection struct {
	kind  selectionKind
	value string
}

func KeepOriginal() Selection {
	return Selection{kind: selectionKeep}
}

func CustomValue(v string) Selection {
	return Selection{kind: selectionCustom, value: strings.TrimSpace(v)}
}

func Preset(v string) Selection {
	return Selection{kind: selectionNamed, value: strings.TrimSpace(v)}
}

// Resolve returns the flag value and whether the flag must be emitted
func (s Selection) Resolve() (string, bool) {
	switch s.kind {
	case selectionCustom, selectionNamed:
		if s.value == "" {
			return "", false
		}
		return s.value, true
	default:
		return "", false
	}
}

func (s Selection) IsKeep() bool {
	_, ok := s.Resolve()
	return !ok
}

// ParseSelection understands the textual form used by queue messages and the cli:
// "" and "original" keep, "custom:<v>" is a custom value, anything else is a preset.
func ParseSelection(s string) Selection {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "original"):
		return KeepOriginal()
	case strings.HasPrefix(s, "custom:"):
		return CustomValue(strings.TrimPrefix(s, "custom:"))
	default:
		return Preset(s)
	}
}

func (s Selection) String() string {
	switch s.kind {
	case selectionCustom:
		return "custom:" + s.value
	case selectionNamed:
		return s.value
	default:
		return "original"
	}
}

// Filters is the set of optional video and audio filters
type Filters struct {
	CropEnabled   bool
	Crop          string
	ScaleEnabled  bool
	RotateEnabled bool
	RotateAngle   int
	VolumeEnabled bool
	Volume        string
}

// TranscodeRequest is the declarative description of one transcode
type TranscodeRequest struct {
	Input  string
	Output string

	VideoCodec string
	AudioCodec string

	Resolution   Selection
	FrameRate    Selection
	SampleRate   Selection
	AudioBitrate Selection
	Channels     string

	// HWAccel is an accelerator id or display name, empty and "none" mean no acceleration
	HWAccel string

	Filters Filters
	Quality Quality

	ExtraArgs    []string
	RawExtraArgs string
}

// BuiltCommand is an immutable argument vector, Argv[0] is the executable
type BuiltCommand struct {
	executable string
	argv       []string
}

func NewBuiltCommand(executable string, args ...string) BuiltCommand {
	argv := make([]string, 0, len(args)+1)
	argv = append(argv, executable)
	argv = append(argv, args...)
	return BuiltCommand{executable: executable, argv: argv}
}

func (c BuiltCommand) Executable() string {
	return c.executable
}

// Argv returns a copy of the full vector including the executable
func (c BuiltCommand) Argv() []string {
	out := make([]string, len(c.argv))
	copy(out, c.argv)
	return out
}

// Args returns a copy of the arguments without the executable
func (c BuiltCommand) Args() []string {
	if len(c.argv) == 0 {
		return nil
	}
	out := make([]string, len(c.argv)-1)
	copy(out, c.argv[1:])
	return out
}

func (c BuiltCommand) String() string {
	return strings.Join(c.argv, " ")
}
