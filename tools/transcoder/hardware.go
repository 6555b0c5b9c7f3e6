package transcoder

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// AcceleratorNone is the synthetic entry meaning software decoding
const AcceleratorNone = "none"

// Capability is one accelerator or hardware encoder and whether the installed ffmpeg has it
type Capability struct {
	ID        string
	Name      string
	Supported bool
}

// KnownAccelerators is the detection order for -hwaccel values
var KnownAccelerators = []Capability{
	{ID: "cuda", Name: "NVIDIA CUDA"},
	{ID: "qsv", Name: "Intel Quick Sync"},
	{ID: "vaapi", Name: "VAAPI"},
	{ID: "d3d11va", Name: "Direct3D 11"},
	{ID: "videotoolbox", Name: "VideoToolbox"},
	{ID: "amf", Name: "AMD AMF"},
}

// KnownEncoders is the detection order for hardware video encoders
var KnownEncoders = []Capability{
	{ID: "h264_nvenc", Name: "NVIDIA H.264"},
	{ID: "hevc_nvenc", Name: "NVIDIA HEVC"},
	{ID: "h264_qsv", Name: "Intel H.264"},
	{ID: "hevc_qsv", Name: "Intel HEVC"},
	{ID: "h264_amf", Name: "AMD H.264"},
	{ID: "hevc_amf", Name: "AMD HEVC"},
	{ID: "h264_vaapi", Name: "VAAPI H.264"},
	{ID: "hevc_vaapi", Name: "VAAPI HEVC"},
	{ID: "h264_videotoolbox", Name: "VideoToolbox H.264"},
	{ID: "hevc_videotoolbox", Name: "VideoToolbox HEVC"},
}

// BaselineVideoCodecs are always offered regardless of hardware
var BaselineVideoCodecs = []string{"libx264", "libx265", "mpeg4", "vp9", "copy"}

// HardwareProfile is the immutable result of one detection pass
type HardwareProfile struct {
	accelerators []Capability
	encoders     []Capability
}

// NewHardwareProfile copies the given tables so the profile cannot be mutated afterwards
func NewHardwareProfile(accelerators, encoders []Capability) HardwareProfile {
	p := HardwareProfile{
		accelerators: make([]Capability, len(accelerators)),
		encoders:     make([]Capability, len(encoders)),
	}
	copy(p.accelerators, accelerators)
	copy(p.encoders, encoders)
	return p
}

// UnsupportedProfile lists every known entry as unsupported
func UnsupportedProfile() HardwareProfile {
	return NewHardwareProfile(KnownAccelerators, KnownEncoders)
}

func (p HardwareProfile) Accelerators() []Capability {
	out := make([]Capability, len(p.accelerators))
	copy(out, p.accelerators)
	return out
}

func (p HardwareProfile) Encoders() []Capability {
	out := make([]Capability, len(p.encoders))
	copy(out, p.encoders)
	return out
}

// SupportedAcceleratorNames is "none" followed by the display names of supported accelerators
func (p HardwareProfile) SupportedAcceleratorNames() []string {
	names := []string{AcceleratorNone}
	for _, a := range p.accelerators {
		if a.Supported {
			names = append(names, a.Name)
		}
	}
	return names
}

// SupportedVideoCodecs is the baseline list followed by supported hardware encoders in detection order
func (p HardwareProfile) SupportedVideoCodecs() []string {
	codecs := append([]string{}, BaselineVideoCodecs...)
	for _, e := range p.encoders {
		if e.Supported {
			codecs = append(codecs, e.ID)
		}
	}
	return codecs
}

// ResolveAccelerator maps an id or a display name to the accelerator id.
// Only entries present in the profile resolve; "none" and "" never do.
func (p HardwareProfile) ResolveAccelerator(selection string) (string, bool) {
	selection = strings.TrimSpace(selection)
	if selection == "" || strings.EqualFold(selection, AcceleratorNone) {
		return "", false
	}

	for _, a := range p.accelerators {
		if strings.EqualFold(a.ID, selection) || strings.EqualFold(a.Name, selection) {
			return a.ID, true
		}
	}
	return "", false
}

// Report renders the textual hardware summary
func (p HardwareProfile) Report() string {
	var b strings.Builder

	b.WriteString("Hardware accelerators:\n")
	for _, a := range p.accelerators {
		fmt.Fprintf(&b, "  %-20s %-14s %s\n", a.Name, a.ID, mark(a.Supported))
	}

	b.WriteString("Hardware encoders:\n")
	for _, e := range p.encoders {
		fmt.Fprintf(&b, "  %-20s %-18s %s\n", e.Name, e.ID, mark(e.Supported))
	}

	return b.String()
}

func mark(ok bool) string {
	if ok {
		return "supported"
	}
	return "not supported"
}

// ProfileCache shares the current profile between jobs. Refreshing swaps the whole value.
type ProfileCache struct {
	current atomic.Pointer[HardwareProfile]
}

func NewProfileCache() *ProfileCache {
	c := &ProfileCache{}
	empty := HardwareProfile{}
	c.current.Store(&empty)
	return c
}

func (c *ProfileCache) Current() HardwareProfile {
	return *c.current.Load()
}

func (c *ProfileCache) Store(p HardwareProfile) {
	c.current.Store(&p)
}
