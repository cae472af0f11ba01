/*Package awg contains the shared types for arbitrary waveform generators:
logical channels, device state, quantization of normalized samples into DAC
codes, the segment table mirror, sequence steps, and the capability
interfaces drivers implement.

Drivers for concrete hardware live in their vendor packages (e.g.
keysight).  Each driver composes the pieces it supports: a SampleEncoder
for its word format, a SegmentBackend for its memory model, and a
SequenceEncoder when the sequencer option is installed.  The Pulser
interface is the full surface the HTTP layer binds.
*/
package awg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Log receives structured events from the codec layer, which has no
// owning driver to log through.  Drivers carry their own Log fields.
var Log = zerolog.Nop()

// ChannelKind distinguishes analog channels from digital (marker) ones
type ChannelKind int

// channel kinds
const (
	Analog ChannelKind = iota
	Digital
)

func (k ChannelKind) String() string {
	if k == Analog {
		return "a"
	}
	return "d"
}

// Channel is a logical channel identity.  The wire format of its name is
// a_chN or d_chN with N >= 1.
type Channel struct {
	Kind  ChannelKind
	Index int
}

func (c Channel) String() string {
	return fmt.Sprintf("%s_ch%d", c.Kind, c.Index)
}

// ParseChannel converts a logical channel name to its identity
func ParseChannel(name string) (Channel, error) {
	var c Channel
	switch {
	case strings.HasPrefix(name, "a_ch"):
		c.Kind = Analog
	case strings.HasPrefix(name, "d_ch"):
		c.Kind = Digital
	default:
		return c, UnknownChannelError{Name: name}
	}
	idx, err := strconv.Atoi(name[4:])
	if err != nil || idx < 1 {
		return c, UnknownChannelError{Name: name}
	}
	c.Index = idx
	return c, nil
}

// Mode is the playback mode of a device
type Mode int

// playback modes; transitions to ModeSequence happen only on a successful
// sequence write, back to ModeARB on waveform load or clear
const (
	ModeARB Mode = iota
	ModeSequence
)

func (m Mode) String() string {
	if m == ModeSequence {
		return "SEQUENCE"
	}
	return "ARB"
}

// asset types reported by LoadedAssets
const (
	AssetWaveform = "waveform"
	AssetSequence = "sequence"
)

// DeviceState is a snapshot of the device-global mutable state: which
// channels are enabled, what is loaded, and how it will play back.  The
// HTTP layer assembles one per request; drivers keep no copy and treat
// the instrument as the source of truth.
type DeviceState struct {
	ActiveChannels map[string]bool `json:"active_channels"`
	LoadedAssets   map[int]string  `json:"loaded_assets"`
	LoadedKind     string          `json:"loaded_kind"`
	Running        bool            `json:"running"`
	SampleRate     float64         `json:"sample_rate"`
}

// Snapshot assembles a DeviceState from the individual accessors of p.
// The first failing accessor aborts the snapshot.
func Snapshot(p Pulser) (DeviceState, error) {
	var s DeviceState
	var err error
	s.ActiveChannels, err = p.ActiveChannels()
	if err != nil {
		return s, err
	}
	s.LoadedAssets, s.LoadedKind, err = p.LoadedAssets()
	if err != nil {
		return s, err
	}
	s.Running, err = p.Running()
	if err != nil {
		return s, err
	}
	s.SampleRate, err = p.SampleRate()
	if err != nil {
		return s, err
	}
	return s, nil
}

// SequenceStep is one row of a playback sequence before compilation.
// Waveforms holds one per-channel waveform name per active analog
// channel, ordered by channel.
type SequenceStep struct {
	Waveforms []string `json:"waveforms"`

	// Repetitions follows the convention of the pulsed toolchain: 0 means
	// play once, r means play r+1 times, -1 means repeat indefinitely
	// (approximated by the hardware's maximum loop count).
	Repetitions int `json:"repetitions"`

	// GoTo is a 1-based step index to jump to after this step, or -1
	GoTo int `json:"go_to"`

	// WaitFor pauses the step until a trigger event when true
	WaitFor bool `json:"wait_for"`

	// PatternJumpAddress makes this step externally addressable by the
	// dynamic pattern-jump port when non-nil
	PatternJumpAddress *int `json:"pattern_jump_address,omitempty"`
}

// Constraints describes the hardware limits callers can pre-validate
// against
type Constraints struct {
	SampleRateMin      float64             `json:"sample_rate_min"`
	SampleRateMax      float64             `json:"sample_rate_max"`
	DACResolution      uint                `json:"dac_resolution"`
	WaveformLengthMin  int                 `json:"waveform_length_min"`
	WaveformLengthStep int                 `json:"waveform_length_step"`
	SequenceStepsMin   int                 `json:"sequence_steps_min"`
	SequenceStepsMax   int                 `json:"sequence_steps_max"`
	RepetitionsMax     int                 `json:"repetitions_max"`
	ActivationConfigs  map[string][]string `json:"activation_configs"`
}

// LoadSpec selects which written waveforms to load for playback.  Exactly
// one arm may be set: ByChannel maps hardware channel indices to waveform
// names, ByName lists per-channel waveform names whose _chN suffixes
// identify the channels.
type LoadSpec struct {
	ByChannel map[int]string `json:"by_channel,omitempty"`
	ByName    []string       `json:"by_name,omitempty"`
}

// Resolve collapses the union to a channel index -> name map, parsing
// _chN suffixes for the ByName arm
func (l LoadSpec) Resolve() (map[int]string, error) {
	if l.ByChannel != nil && l.ByName != nil {
		return nil, BadLoadSpecError{Reason: "both by_channel and by_name set"}
	}
	if l.ByChannel != nil {
		out := make(map[int]string, len(l.ByChannel))
		for ch, name := range l.ByChannel {
			out[ch] = name
		}
		return out, nil
	}
	if l.ByName == nil {
		return nil, BadLoadSpecError{Reason: "neither by_channel nor by_name set"}
	}
	out := make(map[int]string, len(l.ByName))
	for _, name := range l.ByName {
		ch, err := ChannelSuffix(name)
		if err != nil {
			return nil, err
		}
		out[ch] = name
	}
	return out, nil
}

// ChannelSuffix parses the hardware channel index from a per-channel
// waveform name such as rabi_ch2 or rabi_ch2.bin8
func ChannelSuffix(name string) (int, error) {
	idx := strings.LastIndex(name, "_ch")
	if idx == -1 {
		return 0, BadLoadSpecError{Reason: fmt.Sprintf("name %q lacks a _chN suffix", name)}
	}
	digits := name[idx+3:]
	if dot := strings.IndexByte(digits, '.'); dot != -1 {
		digits = digits[:dot]
	}
	ch, err := strconv.Atoi(digits)
	if err != nil || ch < 1 {
		return 0, BadLoadSpecError{Reason: fmt.Sprintf("name %q has an unparseable channel suffix", name)}
	}
	return ch, nil
}

// BaseName strips the _chN suffix and any extension from a per-channel
// waveform name; rabi_ch2.bin8 => rabi
func BaseName(name string) string {
	if idx := strings.LastIndex(name, "_ch"); idx != -1 {
		return name[:idx]
	}
	if dot := strings.IndexByte(name, '.'); dot != -1 {
		return name[:dot]
	}
	return name
}

// SampleEncoder converts normalized samples and marker bit streams into
// the byte stream a device family ships over the wire.  Marker slices may
// be nil for channels without markers.
type SampleEncoder interface {
	Resolution() uint
	Encode(analog []float64, markerA, markerB []bool) ([]byte, error)
}

// SegmentBackend is the waveform storage surface; one implementation per
// memory model (device-resident segment ids, host-backed staged files)
type SegmentBackend interface {
	WriteWaveform(name string, analog map[string][]float64, digital map[string][]bool, total int) (int, []string, error)
	DeleteWaveform(name string) ([]string, error)
	WaveformNames() ([]string, error)
	WaveformExists(name string) (bool, error)
}

// SequenceEncoder compiles ordered steps into the hardware sequence table
type SequenceEncoder interface {
	WriteSequence(name string, steps []SequenceStep) (int, error)
	SequenceNames() ([]string, error)
	LoadSequence(name string) (map[int]string, error)
}

// Pulser is the full device surface the HTTP layer binds and the mock
// implements
type Pulser interface {
	SegmentBackend
	SequenceEncoder

	LoadWaveform(spec LoadSpec) (map[int]string, error)
	LoadedAssets() (map[int]string, string, error)
	ActiveChannels() (map[string]bool, error)
	SetActiveChannels(ch map[string]bool) (map[string]bool, error)
	ClearAll() error
	Run() error
	Stop() error
	Running() (bool, error)
	SampleRate() (float64, error)
	SetSampleRate(v float64) (float64, error)
	Constraints() Constraints
}

// TriggerModer is implemented by devices with selectable trigger modes
// (cont, trig, gate)
type TriggerModer interface {
	TriggerMode() (string, error)
	SetTriggerMode(mode string) error
}

// Status condenses Running into the conventional status integer:
// 1 running, 0 stopped, -1 failed request or communication
func Status(p Pulser) int {
	running, err := p.Running()
	if err != nil {
		return -1
	}
	if running {
		return 1
	}
	return 0
}
