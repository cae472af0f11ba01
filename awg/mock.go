package awg

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nasa-jpl/gopulser/util"
)

// NotImplemented is returned by operations a device does not support
var NotImplemented = errors.New("not implemented")

// Mock is an in-memory Pulser with the M8190A 14-bit personality.  It
// enforces the same validation rules as the hardware drivers, so the HTTP
// layer and consumers can be exercised without an instrument on the bench.
type Mock struct {
	sync.Mutex
	chans      ChannelMap
	limits     Constraints
	active     map[string]bool
	waveforms  map[string]int // per-channel name -> sample count
	sequences  map[string][]SequenceStep
	loaded     map[int]string
	loadedKind string
	mode       Mode
	running    bool
	rate       float64
	trigger    string
}

// NewMock returns a mock with every channel active, the maximum sample
// rate, and empty memory
func NewMock() *Mock {
	chans := M8190AChannels()
	active := make(map[string]bool)
	for _, ch := range chans.All() {
		active[ch] = true
	}
	return &Mock{
		chans: chans,
		limits: Constraints{
			SampleRateMin:      125e6,
			SampleRateMax:      8e9,
			DACResolution:      14,
			WaveformLengthMin:  240,
			WaveformLengthStep: 48,
			SequenceStepsMin:   1,
			SequenceStepsMax:   4000,
			RepetitionsMax:     65536,
			ActivationConfigs:  chans.Configs,
		},
		active:    active,
		waveforms: make(map[string]int),
		sequences: make(map[string][]SequenceStep),
		loaded:    make(map[int]string),
		mode:      ModeARB,
		rate:      8e9,
		trigger:   "cont",
	}
}

func (m *Mock) WriteWaveform(name string, analog map[string][]float64, digital map[string][]bool, total int) (int, []string, error) {
	m.Lock()
	defer m.Unlock()
	if err := CheckWaveform(m.chans, m.active, m.limits, analog, digital, total); err != nil {
		return 0, nil, err
	}
	written := make([]string, 0, len(analog))
	for ch := range analog {
		idx, err := m.chans.Resolve(ch)
		if err != nil {
			return 0, nil, err
		}
		wname := fmt.Sprintf("%s_ch%d", name, idx)
		m.waveforms[wname] = total
		written = append(written, wname)
	}
	sort.Strings(written)
	return total, written, nil
}

// DeleteWaveform removes every per-channel entry of a base name.  Deleting
// a name with no entries is not an error; the returned list is empty.
func (m *Mock) DeleteWaveform(name string) ([]string, error) {
	m.Lock()
	defer m.Unlock()
	deleted := []string{}
	for wname := range m.waveforms {
		if BaseName(wname) == name {
			delete(m.waveforms, wname)
			deleted = append(deleted, wname)
		}
	}
	sort.Strings(deleted)
	if m.loadedKind == AssetWaveform {
		for ch, asset := range m.loaded {
			if BaseName(asset) == name {
				delete(m.loaded, ch)
			}
		}
		if len(m.loaded) == 0 {
			m.loadedKind = ""
		}
	}
	return deleted, nil
}

func (m *Mock) WaveformNames() ([]string, error) {
	m.Lock()
	defer m.Unlock()
	names := make([]string, 0, len(m.waveforms))
	for name := range m.waveforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Mock) WaveformExists(name string) (bool, error) {
	m.Lock()
	defer m.Unlock()
	_, ok := m.waveforms[name]
	return ok, nil
}

func (m *Mock) WriteSequence(name string, steps []SequenceStep) (int, error) {
	m.Lock()
	defer m.Unlock()
	if err := CheckSequence(m.limits, steps); err != nil {
		return 0, err
	}
	for i, step := range steps {
		for _, wname := range step.Waveforms {
			if _, ok := m.waveforms[wname]; !ok {
				ch, _ := ChannelSuffix(wname)
				return 0, UnresolvedSegmentError{Step: i, Name: wname, Channel: ch}
			}
		}
	}
	stored := make([]SequenceStep, len(steps))
	copy(stored, steps)
	m.sequences[name] = stored
	m.loadAllActive(name)
	m.loadedKind = AssetSequence
	m.mode = ModeSequence
	return len(steps), nil
}

func (m *Mock) SequenceNames() ([]string, error) {
	m.Lock()
	defer m.Unlock()
	names := make([]string, 0, len(m.sequences))
	for name := range m.sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Mock) LoadSequence(name string) (map[int]string, error) {
	m.Lock()
	defer m.Unlock()
	if _, ok := m.sequences[name]; !ok {
		return copyAssets(m.loaded), NotFoundError{Kind: AssetSequence, Name: name}
	}
	m.loadAllActive(name)
	m.loadedKind = AssetSequence
	m.mode = ModeSequence
	return copyAssets(m.loaded), nil
}

func (m *Mock) LoadWaveform(spec LoadSpec) (map[int]string, error) {
	m.Lock()
	defer m.Unlock()
	resolved, err := spec.Resolve()
	if err != nil {
		return copyAssets(m.loaded), err
	}
	activeA := m.chans.ActiveAnalog(m.active)
	activeIdx := make(map[int]bool, len(activeA))
	for _, a := range activeA {
		idx, _ := m.chans.Resolve(a)
		activeIdx[idx] = true
	}
	supplied := make([]string, 0, len(resolved))
	for ch := range resolved {
		supplied = append(supplied, fmt.Sprintf("a_ch%d", ch))
	}
	sort.Strings(supplied)
	for ch := range resolved {
		if !activeIdx[ch] {
			return copyAssets(m.loaded), ChannelMismatchError{Active: activeA, Supplied: supplied}
		}
	}
	for ch, wname := range resolved {
		if _, ok := m.waveforms[wname]; !ok {
			return copyAssets(m.loaded), NotFoundError{Kind: AssetWaveform, Name: wname, Channel: ch}
		}
	}
	m.loaded = make(map[int]string, len(resolved))
	for ch, wname := range resolved {
		m.loaded[ch] = wname
	}
	m.loadedKind = AssetWaveform
	m.mode = ModeARB
	m.trigger = "cont"
	return copyAssets(m.loaded), nil
}

func (m *Mock) LoadedAssets() (map[int]string, string, error) {
	m.Lock()
	defer m.Unlock()
	return copyAssets(m.loaded), m.loadedKind, nil
}

func (m *Mock) ActiveChannels() (map[string]bool, error) {
	m.Lock()
	defer m.Unlock()
	return copyState(m.active), nil
}

func (m *Mock) SetActiveChannels(ch map[string]bool) (map[string]bool, error) {
	m.Lock()
	defer m.Unlock()
	next, err := m.chans.ValidateActivation(m.active, ch)
	if err != nil {
		return next, err
	}
	m.active = next
	return copyState(next), nil
}

func (m *Mock) ClearAll() error {
	m.Lock()
	defer m.Unlock()
	m.waveforms = make(map[string]int)
	m.sequences = make(map[string][]SequenceStep)
	m.loaded = make(map[int]string)
	m.loadedKind = ""
	m.mode = ModeARB
	return nil
}

func (m *Mock) Run() error {
	m.Lock()
	defer m.Unlock()
	m.running = true
	return nil
}

func (m *Mock) Stop() error {
	m.Lock()
	defer m.Unlock()
	m.running = false
	return nil
}

func (m *Mock) Running() (bool, error) {
	m.Lock()
	defer m.Unlock()
	return m.running, nil
}

func (m *Mock) SampleRate() (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.rate, nil
}

func (m *Mock) SetSampleRate(v float64) (float64, error) {
	m.Lock()
	defer m.Unlock()
	m.rate = util.Clamp(v, m.limits.SampleRateMin, m.limits.SampleRateMax)
	return m.rate, nil
}

func (m *Mock) Constraints() Constraints {
	return m.limits
}

func (m *Mock) TriggerMode() (string, error) {
	m.Lock()
	defer m.Unlock()
	return m.trigger, nil
}

func (m *Mock) SetTriggerMode(mode string) error {
	m.Lock()
	defer m.Unlock()
	switch mode {
	case "cont", "trig", "gate":
		m.trigger = mode
		return nil
	}
	return fmt.Errorf("trigger mode %q not supported, expected cont, trig or gate", mode)
}

func (m *Mock) Raw(s string) (string, error) {
	return "", NotImplemented
}

// loadAllActive points every active analog channel at one asset; callers
// hold the lock
func (m *Mock) loadAllActive(name string) {
	m.loaded = make(map[int]string)
	for _, a := range m.chans.ActiveAnalog(m.active) {
		idx, _ := m.chans.Resolve(a)
		m.loaded[idx] = name
	}
}

func copyState(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyAssets(m map[int]string) map[int]string {
	out := make(map[int]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
