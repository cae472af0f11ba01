package awg_test

import (
	"errors"
	"testing"

	"github.com/nasa-jpl/gopulser/awg"
)

// fullWrite writes a waveform across every active channel of a fresh mock
func fullWrite(t *testing.T, m *awg.Mock, name string, n int) []string {
	t.Helper()
	analog := map[string][]float64{
		"a_ch1": make([]float64, n),
		"a_ch2": make([]float64, n),
	}
	digital := map[string][]bool{
		"d_ch1": make([]bool, n),
		"d_ch2": make([]bool, n),
		"d_ch3": make([]bool, n),
		"d_ch4": make([]bool, n),
	}
	total, names, err := m.WriteWaveform(name, analog, digital, n)
	if err != nil {
		t.Fatal(err)
	}
	if total != n {
		t.Fatalf("expected %d samples written, got %d", n, total)
	}
	return names
}

func TestMockWriteDeleteRoundTrip(t *testing.T) {
	m := awg.NewMock()
	names := fullWrite(t, m, "rabi", 240)
	if len(names) != 2 || names[0] != "rabi_ch1" || names[1] != "rabi_ch2" {
		t.Fatalf("expected rabi_ch1 and rabi_ch2, got %v", names)
	}
	ok, err := m.WaveformExists("rabi_ch1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected rabi_ch1 resident after write")
	}
	deleted, err := m.DeleteWaveform("rabi")
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 2 {
		t.Fatalf("expected 2 deletions, got %v", deleted)
	}
	remaining, err := m.WaveformNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected no waveforms after delete, got %v", remaining)
	}
}

func TestMockDeleteMissingIsNotAnError(t *testing.T) {
	m := awg.NewMock()
	deleted, err := m.DeleteWaveform("never_written")
	if err != nil {
		t.Fatalf("expected nil error deleting an absent name, got %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("expected an empty deletion list, got %v", deleted)
	}
}

func TestMockWriteRejectsShortWaveforms(t *testing.T) {
	m := awg.NewMock()
	analog := map[string][]float64{
		"a_ch1": make([]float64, 10),
		"a_ch2": make([]float64, 10),
	}
	digital := map[string][]bool{
		"d_ch1": make([]bool, 10),
		"d_ch2": make([]bool, 10),
		"d_ch3": make([]bool, 10),
		"d_ch4": make([]bool, 10),
	}
	_, _, err := m.WriteWaveform("runt", analog, digital, 10)
	var short awg.WaveformTooShortError
	if !errors.As(err, &short) {
		t.Fatalf("expected WaveformTooShortError, got %v", err)
	}
	if short.Required != 240 || short.Got != 10 {
		t.Errorf("expected required 240 got 10, have %+v", short)
	}
}

func TestMockWriteRejectsChannelMismatch(t *testing.T) {
	m := awg.NewMock()
	analog := map[string][]float64{"a_ch1": make([]float64, 240)}
	_, _, err := m.WriteWaveform("half", analog, nil, 240)
	var mismatch awg.ChannelMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ChannelMismatchError, got %v", err)
	}
	names, err := m.WaveformNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("failed write left debris: %v", names)
	}
}

func TestMockSequenceCompileRequiresResidentWaveforms(t *testing.T) {
	m := awg.NewMock()
	fullWrite(t, m, "rabi", 240)
	steps := []awg.SequenceStep{
		{Waveforms: []string{"rabi_ch1", "rabi_ch2"}, Repetitions: 0, GoTo: -1},
		{Waveforms: []string{"hahn_ch1", "hahn_ch2"}, Repetitions: 0, GoTo: -1},
	}
	_, err := m.WriteSequence("broken", steps)
	var unresolved awg.UnresolvedSegmentError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedSegmentError, got %v", err)
	}
	if unresolved.Step != 1 || unresolved.Name != "hahn_ch1" {
		t.Errorf("error names the wrong step or waveform: %+v", unresolved)
	}
	seqs, err := m.SequenceNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 0 {
		t.Errorf("failed compile stored a sequence: %v", seqs)
	}
}

func TestMockSequenceLifecycle(t *testing.T) {
	m := awg.NewMock()
	fullWrite(t, m, "rabi", 240)
	fullWrite(t, m, "hahn", 240)
	steps := []awg.SequenceStep{
		{Waveforms: []string{"rabi_ch1", "rabi_ch2"}, Repetitions: 9, GoTo: -1},
		{Waveforms: []string{"hahn_ch1", "hahn_ch2"}, Repetitions: -1, GoTo: 1},
	}
	n, err := m.WriteSequence("echo_train", steps)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 steps written, got %d", n)
	}
	assets, kind, err := m.LoadedAssets()
	if err != nil {
		t.Fatal(err)
	}
	if kind != awg.AssetSequence {
		t.Errorf("expected a loaded sequence, got kind %q", kind)
	}
	if assets[1] != "echo_train" || assets[2] != "echo_train" {
		t.Errorf("expected echo_train on both channels, got %v", assets)
	}
	// loading a waveform drops back to ARB
	if _, err := m.LoadWaveform(awg.LoadSpec{ByName: []string{"rabi_ch1", "rabi_ch2"}}); err != nil {
		t.Fatal(err)
	}
	assets, kind, err = m.LoadedAssets()
	if err != nil {
		t.Fatal(err)
	}
	if kind != awg.AssetWaveform {
		t.Errorf("expected a loaded waveform, got kind %q", kind)
	}
	if assets[1] != "rabi_ch1" || assets[2] != "rabi_ch2" {
		t.Errorf("expected rabi on both channels, got %v", assets)
	}
}

func TestMockLoadWaveformValidation(t *testing.T) {
	m := awg.NewMock()
	fullWrite(t, m, "rabi", 240)
	if _, err := m.LoadWaveform(awg.LoadSpec{ByName: []string{"ghost_ch1"}}); !awg.IsNotFound(err) {
		t.Errorf("expected a not found error, got %v", err)
	}
	// deactivate a_ch2, then ask for it
	if _, err := m.SetActiveChannels(map[string]bool{"a_ch2": false}); err != nil {
		t.Fatal(err)
	}
	_, err := m.LoadWaveform(awg.LoadSpec{ByChannel: map[int]string{2: "rabi_ch2"}})
	var mismatch awg.ChannelMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ChannelMismatchError for an inactive channel, got %v", err)
	}
	assets, kind, err := m.LoadedAssets()
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 0 || kind != "" {
		t.Errorf("failed loads must not change loaded assets, got %v %q", assets, kind)
	}
}

func TestMockActivationRoundTrip(t *testing.T) {
	m := awg.NewMock()
	next, err := m.SetActiveChannels(map[string]bool{"a_ch1": false})
	if err != nil {
		t.Fatal(err)
	}
	for _, ch := range []string{"a_ch1", "d_ch1", "d_ch3"} {
		if next[ch] {
			t.Errorf("expected %s off", ch)
		}
	}
	cur, err := m.ActiveChannels()
	if err != nil {
		t.Fatal(err)
	}
	if cur["a_ch1"] || !cur["a_ch2"] {
		t.Error("activation state did not persist")
	}
	// an illegal set leaves the state alone
	if _, err := m.SetActiveChannels(map[string]bool{"a_ch2": false}); err == nil {
		t.Fatal("expected an activation error, got nil")
	}
	cur, err = m.ActiveChannels()
	if err != nil {
		t.Fatal(err)
	}
	if !cur["a_ch2"] {
		t.Error("failed activation changed the state")
	}
}

func TestMockClearAll(t *testing.T) {
	m := awg.NewMock()
	fullWrite(t, m, "rabi", 240)
	if _, err := m.LoadWaveform(awg.LoadSpec{ByName: []string{"rabi_ch1", "rabi_ch2"}}); err != nil {
		t.Fatal(err)
	}
	if err := m.ClearAll(); err != nil {
		t.Fatal(err)
	}
	names, err := m.WaveformNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("expected no waveforms after clear, got %v", names)
	}
	assets, kind, err := m.LoadedAssets()
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 0 || kind != "" {
		t.Errorf("expected nothing loaded after clear, got %v %q", assets, kind)
	}
}

func TestMockRunStopStatus(t *testing.T) {
	m := awg.NewMock()
	if awg.Status(m) != 0 {
		t.Error("expected status 0 before run")
	}
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if awg.Status(m) != 1 {
		t.Error("expected status 1 while running")
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	running, err := m.Running()
	if err != nil {
		t.Fatal(err)
	}
	if running {
		t.Error("expected stopped after Stop")
	}
}

func TestMockSampleRateClamps(t *testing.T) {
	m := awg.NewMock()
	cases := []struct {
		ask  float64
		want float64
	}{
		{100e6, 125e6},
		{9e9, 8e9},
		{2.5e9, 2.5e9},
	}
	for _, c := range cases {
		got, err := m.SetSampleRate(c.ask)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("asked %g expected %g got %g", c.ask, c.want, got)
		}
	}
	rate, err := m.SampleRate()
	if err != nil {
		t.Fatal(err)
	}
	if rate != 2.5e9 {
		t.Errorf("expected the last set rate back, got %g", rate)
	}
}

func TestMockTriggerModes(t *testing.T) {
	m := awg.NewMock()
	if err := m.SetTriggerMode("gate"); err != nil {
		t.Fatal(err)
	}
	mode, err := m.TriggerMode()
	if err != nil {
		t.Fatal(err)
	}
	if mode != "gate" {
		t.Errorf("expected gate, got %s", mode)
	}
	if err := m.SetTriggerMode("sometimes"); err == nil {
		t.Error("expected an error for a bogus trigger mode, got nil")
	}
	// loading a waveform restores continuous playback
	fullWrite(t, m, "rabi", 240)
	if _, err := m.LoadWaveform(awg.LoadSpec{ByName: []string{"rabi_ch1", "rabi_ch2"}}); err != nil {
		t.Fatal(err)
	}
	mode, err = m.TriggerMode()
	if err != nil {
		t.Fatal(err)
	}
	if mode != "cont" {
		t.Errorf("expected cont after a waveform load, got %s", mode)
	}
}

func TestMockConstraintsShape(t *testing.T) {
	m := awg.NewMock()
	c := m.Constraints()
	if c.WaveformLengthMin != 240 || c.WaveformLengthStep != 48 {
		t.Errorf("unexpected length limits: %+v", c)
	}
	if c.SequenceStepsMax != 4000 || c.RepetitionsMax != 65536 {
		t.Errorf("unexpected sequence limits: %+v", c)
	}
	if len(c.ActivationConfigs) != 3 {
		t.Errorf("expected 3 activation configs, got %d", len(c.ActivationConfigs))
	}
}
