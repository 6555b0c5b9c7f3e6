package transcoder

import (
	"fmt"
	"strings"
	"time"
)

type VideoStreamInfo struct {
	Codec     string  `json:"codec"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frame_rate"`
}

type AudioStreamInfo struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
}

// ProbeResult is the reduced ffprobe answer: container plus first video and first audio stream
type ProbeResult struct {
	FormatName string           `json:"format_name"`
	Duration   float64          `json:"duration"` // seconds
	BitRate    int64            `json:"bit_rate"`
	Video      *VideoStreamInfo `json:"video,omitempty"`
	Audio      *AudioStreamInfo `json:"audio,omitempty"`
}

// Summary renders the textual file report
func (r ProbeResult) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Format: %s\n", r.FormatName)
	fmt.Fprintf(&b, "Duration: %s\n", (time.Duration(r.Duration * float64(time.Second))).Round(time.Millisecond))
	fmt.Fprintf(&b, "Bit rate: %d kb/s\n", r.BitRate/1000)

	if r.Video != nil {
		fmt.Fprintf(&b, "Video: %s %dx%d %.2f fps\n", r.Video.Codec, r.Video.Width, r.Video.Height, r.Video.FrameRate)
	} else {
		b.WriteString("Video: none\n")
	}

	if r.Audio != nil {
		fmt.Fprintf(&b, "Audio: %s %d ch %d Hz\n", r.Audio.Codec, r.Audio.Channels, r.Audio.SampleRate)
	} else {
		b.WriteString("Audio: none\n")
	}

	return b.String()
}
