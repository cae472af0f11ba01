package awg

import (
	"fmt"
	"sort"
)

// CheckWaveform validates a waveform write request against the channel
// topology, the current activation, and the hardware limits.  The analog
// keys must exactly equal the active analog channels and the digital keys
// the marker channels riding on them; every array must hold exactly total
// samples.  Stores call this before touching device memory, so a failed
// write changes nothing.
func CheckWaveform(m ChannelMap, active map[string]bool, limits Constraints, analog map[string][]float64, digital map[string][]bool, total int) error {
	if len(analog) == 0 {
		return EmptySamplesError{}
	}
	supplied := make([]string, 0, len(analog))
	for ch := range analog {
		supplied = append(supplied, ch)
	}
	sort.Strings(supplied)
	activeA := m.ActiveAnalog(active)
	if !sameSet(supplied, activeA) {
		return ChannelMismatchError{Active: activeA, Supplied: supplied}
	}
	var activeD []string
	for _, a := range activeA {
		if smp, syn, ok := m.MarkerPair(a); ok {
			activeD = append(activeD, smp, syn)
		}
	}
	sort.Strings(activeD)
	suppliedD := make([]string, 0, len(digital))
	for ch := range digital {
		suppliedD = append(suppliedD, ch)
	}
	sort.Strings(suppliedD)
	if !sameSet(suppliedD, activeD) {
		return ChannelMismatchError{Active: activeD, Supplied: suppliedD}
	}
	if total < limits.WaveformLengthMin {
		return WaveformTooShortError{Required: limits.WaveformLengthMin, Got: total}
	}
	for _, ch := range supplied {
		n := len(analog[ch])
		if n == 0 {
			return EmptySamplesError{Channel: ch}
		}
		if n != total {
			return fmt.Errorf("channel %s supplied %d samples, expected %d", ch, n, total)
		}
	}
	for _, ch := range suppliedD {
		if n := len(digital[ch]); n != total {
			return fmt.Errorf("channel %s supplied %d marker samples, expected %d", ch, n, total)
		}
	}
	return nil
}

// CheckSequence validates step structure against the hardware limits;
// waveform references are resolved separately by the compiler
func CheckSequence(limits Constraints, steps []SequenceStep) error {
	n := len(steps)
	if n < limits.SequenceStepsMin || n > limits.SequenceStepsMax {
		return fmt.Errorf("sequence of %d steps outside the supported range [%d, %d]",
			n, limits.SequenceStepsMin, limits.SequenceStepsMax)
	}
	for i, s := range steps {
		if len(s.Waveforms) == 0 {
			return fmt.Errorf("sequence step %d references no waveforms", i)
		}
		if s.Repetitions < -1 || s.Repetitions > limits.RepetitionsMax {
			return fmt.Errorf("step %d repetitions %d outside the supported range [-1, %d]",
				i, s.Repetitions, limits.RepetitionsMax)
		}
		// go_to of 0 (unset) and -1 both mean fall through to the next step
		if s.GoTo < -1 || s.GoTo > n {
			return fmt.Errorf("step %d go_to %d is not -1 or a 1-based step index at most %d", i, s.GoTo, n)
		}
	}
	return nil
}
