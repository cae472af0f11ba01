package keysight

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snksoft/crc"

	"github.com/nasa-jpl/gopulser/awg"
	"github.com/nasa-jpl/gopulser/comm"
	"github.com/nasa-jpl/gopulser/scpi"
)

var crcTable = crc.NewTable(crc.CCITT)

// checksum computes the CRC recorded for a staged payload
func checksum(buf []byte) uint64 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, buf)
	return uint64(crcTable.CRC16(c))
}

// M8195A is a four channel, 8 bit arbitrary waveform generator without
// device-resident named segments.  Waveforms are staged as .bin8 files
// on the instrument's disk and imported into segment memory on load.
// It has no hardware sequencer.
//
// The zero value is not usable; create one with NewM8195A.
type M8195A struct {
	scpi.SCPI

	// Log receives structured device events.  It discards them unless
	// replaced.
	Log zerolog.Logger

	mode   string
	div    int
	chans  awg.ChannelMap
	limits awg.Constraints

	// sums records the CRC of each staged file at write time, verified
	// against the readback when the file is loaded
	sums map[string]uint64
}

// NewM8195A returns a driver for the AWG at addr, a host:port string or
// usb:<vid>:<pid>.  mode selects the DAC mode (MARK, SING, DUAL, or
// FOUR) and div the extended memory sample rate divider (1, 2, or 4).
// No communication happens until the first operation.
func NewM8195A(addr, mode string, div int) (*M8195A, error) {
	chans, err := awg.M8195AChannels(mode)
	if err != nil {
		return nil, err
	}
	switch div {
	case 1, 2, 4:
	default:
		return nil, fmt.Errorf("sample rate divider %d not supported, expected 1, 2 or 4", div)
	}
	limits := awg.Constraints{
		SampleRateMin:      53.76e9 / float64(div),
		SampleRateMax:      65e9 / float64(div),
		DACResolution:      8,
		WaveformLengthMin:  1280,
		WaveformLengthStep: 256,
		SequenceStepsMin:   1,
		SequenceStepsMax:   4000,
		RepetitionsMax:     65536,
		ActivationConfigs:  chans.Configs,
	}
	maker, err := makerFor(addr)
	if err != nil {
		return nil, err
	}
	pool := comm.NewPool(1, time.Hour, maker)
	return &M8195A{
		SCPI:   scpi.SCPI{Pool: pool, Handshaking: true},
		Log:    zerolog.Nop(),
		mode:   mode,
		div:    div,
		chans:  chans,
		limits: limits,
		sums:   map[string]uint64{},
	}, nil
}

// Initialize puts the instrument into a known state: reset, reference
// clock derived from the sample clock, the configured DAC mode and
// memory divider, and arbitrary mode with extended segment memory.
func (d *M8195A) Initialize() error {
	if err := d.Rst(); err != nil {
		return err
	}
	if err := d.Write(":OUTP:ROSC:SOUR SCLK1"); err != nil {
		return err
	}
	if err := d.Write(":OUTP:ROSC:SCD 200"); err != nil {
		return err
	}
	if err := d.Write(fmt.Sprintf(":INSTrument:DACMode %s", d.mode)); err != nil {
		return err
	}
	if err := d.Write(fmt.Sprintf(":INST:MEM:EXT:RDIV DIV%d", d.div)); err != nil {
		return err
	}
	if err := d.Write(":FUNC:MODE ARB"); err != nil {
		return err
	}
	return d.Write(":TRAC1:MMOD EXT")
}

// Constraints describes the capability envelope for the configured DAC
// mode and divider.
func (d *M8195A) Constraints() awg.Constraints {
	return d.limits
}

// Resolution returns the DAC bit depth.
func (d *M8195A) Resolution() uint {
	return 8
}

// Encode converts normalized samples into int8 codes.  With markers
// present the output is byte-interleaved: analog codes at even offsets,
// a marker byte (bit 0 sample marker, bit 1 sync marker) at odd ones.
func (d *M8195A) Encode(analog []float64, markerA, markerB []bool) ([]byte, error) {
	codes, err := awg.Quantize(analog, 8)
	if err != nil {
		return nil, err
	}
	if markerA == nil && markerB == nil {
		buf := make([]byte, len(codes))
		for i, c := range codes {
			buf[i] = byte(int8(c))
		}
		return buf, nil
	}
	buf := make([]byte, 2*len(codes))
	for i, c := range codes {
		buf[2*i] = byte(int8(c))
		var m byte
		if markerA != nil && markerA[i] {
			m |= 1
		}
		if markerB != nil && markerB[i] {
			m |= 2
		}
		buf[2*i+1] = m
	}
	return buf, nil
}

// outputIndex maps a declared channel name to its physical output
// connector.  In MARK mode the markers ride on connectors 3 and 4; in
// DUAL mode the second analog channel drives connector 4.
func (d *M8195A) outputIndex(name string) int {
	switch d.mode {
	case "MARK":
		switch name {
		case "d_ch1":
			return 3
		case "d_ch2":
			return 4
		}
	case "DUAL":
		if name == "a_ch2" {
			return 4
		}
	}
	return hw(name)
}

// WriteWaveform encodes the supplied samples and stages one file per
// active analog channel, named <name>_ch<N>.bin8.  An existing file of
// the same name is deleted first.  It returns the number of samples
// written and the per-channel names without the extension.
func (d *M8195A) WriteWaveform(name string, analog map[string][]float64, digital map[string][]bool, total int) (int, []string, error) {
	active, err := d.ActiveChannels()
	if err != nil {
		return 0, nil, err
	}
	if err := awg.CheckWaveform(d.chans, active, d.limits, analog, digital, total); err != nil {
		return 0, nil, err
	}
	files, err := d.fileCatalog()
	if err != nil {
		return 0, nil, err
	}
	staged := make(map[string]bool, len(files))
	for _, f := range files {
		staged[f] = true
	}
	written := []string{}
	for _, a := range d.chans.ActiveAnalog(active) {
		n := hw(a)
		var markerA, markerB []bool
		if sample, sync, ok := d.chans.MarkerPair(a); ok {
			markerA = digital[sample]
			markerB = digital[sync]
		}
		payload, err := d.Encode(analog[a], markerA, markerB)
		if err != nil {
			return 0, written, err
		}
		file := fmt.Sprintf("%s_ch%d.bin8", name, n)
		if staged[file] {
			if err := d.Write(fmt.Sprintf(":MMEM:DEL \"%s\"", file)); err != nil {
				return 0, written, err
			}
		}
		if err := d.WriteFile(file, payload); err != nil {
			return 0, written, err
		}
		if _, err := d.AllErrorsString(); err != nil {
			return 0, written, err
		}
		d.sums[file] = checksum(payload)
		written = append(written, strings.TrimSuffix(file, ".bin8"))
		d.Log.Debug().Str("file", file).Int("bytes", len(payload)).Msg("staged waveform file")
	}
	sort.Strings(written)
	return total, written, nil
}

// fileCatalog lists the staging directory
func (d *M8195A) fileCatalog() ([]string, error) {
	resp, err := d.ReadString(":MMEM:CAT?")
	if err != nil {
		return nil, err
	}
	return parseFileCatalog(resp), nil
}

// WaveformNames lists the per-channel names staged on the instrument's
// disk, without the .bin8 extension, sorted.
func (d *M8195A) WaveformNames() ([]string, error) {
	files, err := d.fileCatalog()
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, f := range files {
		if !strings.HasSuffix(f, ".bin8") {
			continue
		}
		names = append(names, strings.TrimSuffix(f, ".bin8"))
	}
	sort.Strings(names)
	return names, nil
}

// WaveformExists reports whether the per-channel name, e.g. rabi_ch1,
// has a staged file.
func (d *M8195A) WaveformExists(name string) (bool, error) {
	names, err := d.WaveformNames()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// DeleteWaveform removes every staged file matching <name>_ch<N>.bin8.
// If the deleted waveform is loaded, segment memory is cleared too.
// Deleting a name with no files is not an error; the returned list is
// empty.
func (d *M8195A) DeleteWaveform(name string) ([]string, error) {
	files, err := d.fileCatalog()
	if err != nil {
		return nil, err
	}
	deleted := []string{}
	for _, f := range files {
		if !strings.HasSuffix(f, ".bin8") {
			continue
		}
		short := strings.TrimSuffix(f, ".bin8")
		if awg.BaseName(short) != name {
			continue
		}
		if err := d.Write(fmt.Sprintf(":MMEM:DEL \"%s\"", f)); err != nil {
			return deleted, err
		}
		delete(d.sums, f)
		deleted = append(deleted, short)
	}
	if len(deleted) > 0 {
		assets, _, err := d.LoadedAssets()
		if err != nil {
			return deleted, err
		}
		for _, loaded := range assets {
			if awg.BaseName(loaded) == name {
				if err := d.ClearAll(); err != nil {
					return deleted, err
				}
				break
			}
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// LoadWaveform clears segment memory, reads each staged file back, and
// imports it into a fresh segment on its channel.  The channels named
// by spec must be active and the files staged.  Readbacks are verified
// against the checksum recorded when the file was written.
func (d *M8195A) LoadWaveform(spec awg.LoadSpec) (map[int]string, error) {
	byCh, err := spec.Resolve()
	if err != nil {
		return nil, err
	}
	active, err := d.ActiveChannels()
	if err != nil {
		return nil, err
	}
	analog := d.chans.ActiveAnalog(active)
	supplied := make([]string, 0, len(byCh))
	for ch := range byCh {
		supplied = append(supplied, fmt.Sprintf("a_ch%d", ch))
	}
	sort.Strings(supplied)
	for _, s := range supplied {
		ok := false
		for _, a := range analog {
			if a == s {
				ok = true
				break
			}
		}
		if !ok {
			return d.failWith(awg.ChannelMismatchError{Active: analog, Supplied: supplied})
		}
	}
	names, err := d.WaveformNames()
	if err != nil {
		return nil, err
	}
	staged := make(map[string]bool, len(names))
	for _, n := range names {
		staged[n] = true
	}
	for ch, wf := range byCh {
		if !staged[wf] {
			return d.failWith(awg.NotFoundError{Kind: awg.AssetWaveform, Name: wf, Channel: ch})
		}
	}
	if err := d.ClearAll(); err != nil {
		return nil, err
	}
	chs := make([]int, 0, len(byCh))
	for ch := range byCh {
		chs = append(chs, ch)
	}
	sort.Ints(chs)
	for _, ch := range chs {
		wf := byCh[ch]
		file := wf + ".bin8"
		data, err := d.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if want, ok := d.sums[file]; ok {
			if got := checksum(data); got != want {
				return nil, awg.ChecksumError{File: file, Want: want, Got: got}
			}
		}
		samples := len(data)
		if _, _, ok := d.chans.MarkerPair(fmt.Sprintf("a_ch%d", ch)); ok {
			// marker bytes are interleaved with the analog codes
			samples = len(data) / 2
		}
		resp, err := d.ReadString(fmt.Sprintf("TRAC%d:DEF:NEW? %d, 5", ch, samples))
		if err != nil {
			return nil, awg.SegmentAllocationError{Channel: ch, Samples: samples, Reason: err.Error()}
		}
		id, err := strconv.Atoi(strings.TrimSpace(resp))
		if err != nil {
			return nil, awg.SegmentAllocationError{Channel: ch, Samples: samples, Reason: fmt.Sprintf("device answered %q to the allocation query", resp)}
		}
		if err := d.WriteBinary(fmt.Sprintf(":TRAC%d:DATA %d, 0,", ch, id), data); err != nil {
			return nil, err
		}
		if err := d.Write(fmt.Sprintf(":TRAC%d:NAME %d, \"%s\"", ch, id, wf)); err != nil {
			return nil, err
		}
		d.Log.Debug().Int("channel", ch).Str("waveform", wf).Int("samples", samples).Msg("imported staged file into segment memory")
	}
	assets, _, err := d.LoadedAssets()
	return assets, err
}

// failWith pairs a validation error with the instrument's current
// loaded assets, which remain untouched by the failed operation.
func (d *M8195A) failWith(opErr error) (map[int]string, error) {
	assets, _, err := d.LoadedAssets()
	if err != nil {
		return nil, opErr
	}
	return assets, opErr
}

// LoadedAssets derives the loaded asset per active analog channel from
// segment memory.  The kind is "waveform" or empty when nothing is
// loaded; sequences do not exist on this instrument.
func (d *M8195A) LoadedAssets() (map[int]string, string, error) {
	active, err := d.ActiveChannels()
	if err != nil {
		return nil, "", err
	}
	assets := map[int]string{}
	kind := ""
	for _, a := range d.chans.ActiveAnalog(active) {
		n := hw(a)
		resp, err := d.ReadString(fmt.Sprintf(":TRAC%d:CAT?", n))
		if err != nil {
			return nil, "", err
		}
		ids, err := parseCatalog(resp)
		if err != nil {
			return nil, "", fmt.Errorf("channel %d segment catalog: %v", n, err)
		}
		if len(ids) == 0 {
			continue
		}
		name, err := d.ReadString(fmt.Sprintf(":TRAC%d:NAME? %d", n, ids[0]))
		if err != nil {
			return nil, "", err
		}
		assets[n] = unquote(name)
		kind = awg.AssetWaveform
	}
	return assets, kind, nil
}

// WriteSequence is unsupported; the instrument has no hardware
// sequencer.
func (d *M8195A) WriteSequence(name string, steps []awg.SequenceStep) (int, error) {
	return 0, ErrNoSequencer
}

// SequenceNames always reports an empty list.
func (d *M8195A) SequenceNames() ([]string, error) {
	return []string{}, nil
}

// LoadSequence is unsupported; the instrument has no hardware
// sequencer.
func (d *M8195A) LoadSequence(name string) (map[int]string, error) {
	return nil, ErrNoSequencer
}

// ActiveChannels reports the channel activation state from the output
// enables, analog and marker channels alike.
func (d *M8195A) ActiveChannels() (map[string]bool, error) {
	state := map[string]bool{}
	for _, name := range d.chans.All() {
		on, err := d.ReadBool(fmt.Sprintf(":OUTP%d?", d.outputIndex(name)))
		if err != nil {
			return nil, err
		}
		state[name] = on
	}
	return state, nil
}

// SetActiveChannels applies a full activation state.  Partial requests
// are completed by marker slaving; a request matching no declared
// configuration is rejected without touching the device.  It returns
// the state read back afterwards.
func (d *M8195A) SetActiveChannels(req map[string]bool) (map[string]bool, error) {
	cur, err := d.ActiveChannels()
	if err != nil {
		return nil, err
	}
	want, err := d.chans.ValidateActivation(cur, req)
	if err != nil {
		return cur, err
	}
	for _, name := range d.chans.All() {
		state := "OFF"
		if want[name] {
			state = "ON"
		}
		if err := d.Write(fmt.Sprintf("OUTP%d %s", d.outputIndex(name), state)); err != nil {
			return cur, err
		}
	}
	return d.ActiveChannels()
}

// ClearAll deletes every segment from memory.  Staged files are kept.
func (d *M8195A) ClearAll() error {
	return d.Write(":TRAC:DEL:ALL")
}

// Run enables all four outputs, waits for them to report on, and
// starts playback.
func (d *M8195A) Run() error {
	for n := 1; n <= 4; n++ {
		if err := d.Write(fmt.Sprintf(":OUTP%d ON", n)); err != nil {
			return err
		}
	}
	err := waitFor("outputs on", startTimeout, func() (bool, error) {
		total := 0
		for n := 1; n <= 4; n++ {
			v, err := d.ReadInt(fmt.Sprintf(":OUTP%d?", n))
			if err != nil {
				return false, err
			}
			total += v
		}
		return total > 0, nil
	})
	if err != nil {
		return err
	}
	if err := d.Write(":INIT:IMM"); err != nil {
		return err
	}
	return d.Write("*WAI")
}

// Stop aborts playback, disables the outputs, and waits for the
// instrument to report stopped.
func (d *M8195A) Stop() error {
	if err := d.Write(":ABOR"); err != nil {
		return err
	}
	for n := 1; n <= 4; n++ {
		if err := d.Write(fmt.Sprintf(":OUTP%d OFF", n)); err != nil {
			return err
		}
	}
	return waitFor("playback stopped", startTimeout, func() (bool, error) {
		running, err := d.Running()
		return !running, err
	})
}

// Running reports whether playback is in progress.
func (d *M8195A) Running() (bool, error) {
	v, err := d.ReadInt(":STAT:OPER:RUN:COND?")
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// SampleRate reads the effective sample frequency in Hz, the DAC rate
// divided by the memory divider.
func (d *M8195A) SampleRate() (float64, error) {
	v, err := d.ReadFloat(":FREQ:RAST?")
	if err != nil {
		return 0, err
	}
	return v / float64(d.div), nil
}

// SetSampleRate programs the effective sample frequency in Hz, waits
// for the instrument to finish retuning, and returns the value it
// settled on.  Out of range requests surface as device errors.
func (d *M8195A) SetSampleRate(v float64) (float64, error) {
	ghz := v * float64(d.div) / 1e9
	if err := d.Write(fmt.Sprintf(":FREQ:RAST %.4GGHz", ghz)); err != nil {
		return 0, err
	}
	if err := opcWait(&d.SCPI, startTimeout); err != nil {
		return 0, err
	}
	time.Sleep(settleDelay)
	return d.SampleRate()
}
