package awg

import (
	"fmt"
	"sort"
)

// ChannelMap declares the channel topology of a device family: which
// logical channels exist, which digital channels ride on which analog
// channel as markers, and which activation configurations the hardware
// allows
type ChannelMap struct {
	Analog  []string
	Digital []string

	// Markers maps an analog channel to its [sample, sync] marker
	// channels; families without markers leave it nil
	Markers map[string][2]string

	// Configs are the allowed activation configurations by name.  The
	// active channel set must always exactly equal one of these.
	Configs map[string][]string
}

// M8190AChannels declares the Keysight M8190A topology: two analog
// channels, each carrying a sample and a sync marker.  Sample markers are
// more accurate than sync markers, so they get the lower d_ch numbers.
func M8190AChannels() ChannelMap {
	return ChannelMap{
		Analog:  []string{"a_ch1", "a_ch2"},
		Digital: []string{"d_ch1", "d_ch2", "d_ch3", "d_ch4"},
		Markers: map[string][2]string{
			"a_ch1": {"d_ch1", "d_ch3"},
			"a_ch2": {"d_ch2", "d_ch4"},
		},
		Configs: map[string][]string{
			"all":      {"a_ch1", "a_ch2", "d_ch1", "d_ch2", "d_ch3", "d_ch4"},
			"ch1_2mrk": {"a_ch1", "d_ch1", "d_ch3"},
			"ch2_2mrk": {"a_ch2", "d_ch2", "d_ch4"},
		},
	}
}

// M8195AChannels declares the Keysight M8195A topology for one of its DAC
// modes: MARK (one analog channel plus two markers), SING, DUAL, or FOUR
func M8195AChannels(mode string) (ChannelMap, error) {
	switch mode {
	case "MARK":
		return ChannelMap{
			Analog:  []string{"a_ch1"},
			Digital: []string{"d_ch1", "d_ch2"},
			Markers: map[string][2]string{"a_ch1": {"d_ch1", "d_ch2"}},
			Configs: map[string][]string{"all": {"a_ch1", "d_ch1", "d_ch2"}},
		}, nil
	case "SING":
		return ChannelMap{
			Analog:  []string{"a_ch1"},
			Configs: map[string][]string{"all": {"a_ch1"}},
		}, nil
	case "DUAL":
		return ChannelMap{
			Analog:  []string{"a_ch1", "a_ch2"},
			Configs: map[string][]string{"all": {"a_ch1", "a_ch2"}},
		}, nil
	case "FOUR":
		return ChannelMap{
			Analog:  []string{"a_ch1", "a_ch2", "a_ch3", "a_ch4"},
			Configs: map[string][]string{"all": {"a_ch1", "a_ch2", "a_ch3", "a_ch4"}},
		}, nil
	}
	return ChannelMap{}, fmt.Errorf("unknown M8195A DAC mode %q, expected MARK, SING, DUAL or FOUR", mode)
}

// All returns every declared channel name, sorted
func (m ChannelMap) All() []string {
	out := make([]string, 0, len(m.Analog)+len(m.Digital))
	out = append(out, m.Analog...)
	out = append(out, m.Digital...)
	sort.Strings(out)
	return out
}

// Resolve maps a logical channel name to its hardware index
func (m ChannelMap) Resolve(name string) (int, error) {
	c, err := ParseChannel(name)
	if err != nil {
		return 0, err
	}
	var pool []string
	if c.Kind == Analog {
		pool = m.Analog
	} else {
		pool = m.Digital
	}
	for _, known := range pool {
		if known == name {
			return c.Index, nil
		}
	}
	return 0, UnknownChannelError{Name: name}
}

// MarkerPair returns the sample and sync marker channels riding on an
// analog channel, if the family declares any
func (m ChannelMap) MarkerPair(analog string) (sample, sync string, ok bool) {
	pair, ok := m.Markers[analog]
	if !ok {
		return "", "", false
	}
	return pair[0], pair[1], true
}

// markerParent returns the analog channel a digital channel rides on
func (m ChannelMap) markerParent(digital string) (string, bool) {
	for analog, pair := range m.Markers {
		if pair[0] == digital || pair[1] == digital {
			return analog, true
		}
	}
	return "", false
}

// ValidateActivation merges requested channel states into a copy of
// current, slaves marker channels to their analog parent, and requires
// the resulting active set to exactly equal one of the declared
// activation configurations.  On any failure the CURRENT state is
// returned unchanged alongside the error; there is never a partial
// apply.  A nil request is a read: the current state comes back as is.
func (m ChannelMap) ValidateActivation(current, requested map[string]bool) (map[string]bool, error) {
	prev := make(map[string]bool, len(current))
	for ch, on := range current {
		prev[ch] = on
	}
	if requested == nil {
		return prev, nil
	}
	for ch := range requested {
		if _, ok := current[ch]; !ok {
			return prev, UnknownChannelError{Name: ch}
		}
	}
	next := make(map[string]bool, len(current))
	for ch, on := range current {
		next[ch] = on
	}
	for ch, on := range requested {
		next[ch] = on
	}
	// marker channels follow their analog parent
	for _, d := range m.Digital {
		if parent, ok := m.markerParent(d); ok {
			next[d] = next[parent]
		}
	}
	var active []string
	for ch, on := range next {
		if on {
			active = append(active, ch)
		}
	}
	sort.Strings(active)
	if !m.allowedActivation(active) {
		return prev, InvalidActivationError{Requested: active}
	}
	return next, nil
}

func (m ChannelMap) allowedActivation(active []string) bool {
	for _, config := range m.Configs {
		if sameSet(active, config) {
			return true
		}
	}
	return false
}

// sameSet compares two channel lists as sets; active must be sorted
func sameSet(active, config []string) bool {
	if len(active) != len(config) {
		return false
	}
	sorted := make([]string, len(config))
	copy(sorted, config)
	sort.Strings(sorted)
	for i := range sorted {
		if active[i] != sorted[i] {
			return false
		}
	}
	return true
}

// ActiveAnalog filters an activation state down to its enabled analog
// channels, sorted
func (m ChannelMap) ActiveAnalog(state map[string]bool) []string {
	var out []string
	for _, ch := range m.Analog {
		if state[ch] {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}
