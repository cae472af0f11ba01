package keysight

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nasa-jpl/gopulser/awg"
	"github.com/nasa-jpl/gopulser/comm"
	"github.com/nasa-jpl/gopulser/scpi"
)

// sequence table control word bits
const (
	ctlMarkerEnable    = 1 << 24
	ctlStartOfSequence = 1 << 28
	ctlEndOfSequence   = 1 << 30
)

// M8190A is a two channel arbitrary waveform generator with
// device-resident segment memory and a hardware sequencer.  Waveforms
// are written directly into named segments; sequences are compiled into
// the sequence table and played with dynamic selection.
//
// The zero value is not usable; create one with NewM8190A.
type M8190A struct {
	scpi.SCPI

	// Log receives structured device events.  It discards them unless
	// replaced.
	Log zerolog.Logger

	// SequenceOption marks the sequencing license as installed.
	// NewM8190A sets it; clear it for instruments without the option.
	SequenceOption bool

	bits   uint
	chans  awg.ChannelMap
	limits awg.Constraints
	table  *awg.SegmentTable
}

// NewM8190A returns a driver for the AWG at addr, a host:port string or
// usb:<vid>:<pid>.  bits selects the DAC format, 12 (speed, max 12
// GSa/s) or 14 (precision, max 8 GSa/s).  No communication happens
// until the first operation.
func NewM8190A(addr string, bits uint) (*M8190A, error) {
	var limits awg.Constraints
	switch bits {
	case 12:
		limits = awg.Constraints{
			SampleRateMin:      125e6,
			SampleRateMax:      12e9,
			DACResolution:      12,
			WaveformLengthMin:  320,
			WaveformLengthStep: 64,
		}
	case 14:
		limits = awg.Constraints{
			SampleRateMin:      125e6,
			SampleRateMax:      8e9,
			DACResolution:      14,
			WaveformLengthMin:  240,
			WaveformLengthStep: 48,
		}
	default:
		return nil, awg.ResolutionError{Bits: bits}
	}
	chans := awg.M8190AChannels()
	limits.SequenceStepsMin = 1
	limits.SequenceStepsMax = 4000
	limits.RepetitionsMax = 65536
	limits.ActivationConfigs = chans.Configs

	maker, err := makerFor(addr)
	if err != nil {
		return nil, err
	}
	pool := comm.NewPool(1, time.Hour, maker)
	d := &M8190A{
		SCPI:           scpi.SCPI{Pool: pool, Handshaking: true},
		Log:            zerolog.Nop(),
		SequenceOption: true,
		bits:           bits,
		chans:          chans,
		limits:         limits,
	}
	d.table = awg.NewSegmentTable(d, 1, 2)
	return d, nil
}

// Initialize puts the instrument into a known state: reset, internal
// reference clock, the DAC format matching the configured bit depth,
// and direct DAC output routing on both channels.
func (d *M8190A) Initialize() error {
	if err := d.Rst(); err != nil {
		return err
	}
	if err := d.Write(":ROSC:SOUR INT"); err != nil {
		return err
	}
	format := "WPR"
	if d.bits == 12 {
		format = "WSP"
	}
	for _, a := range d.chans.Analog {
		n := hw(a)
		if err := d.Write(fmt.Sprintf(":TRAC%d:DWID %s", n, format)); err != nil {
			return err
		}
		if err := d.Write(fmt.Sprintf(":OUTP%d:ROUT DAC", n)); err != nil {
			return err
		}
	}
	d.table.MarkAllDirty()
	return nil
}

// Constraints describes the capability envelope for the configured DAC
// format.
func (d *M8190A) Constraints() awg.Constraints {
	return d.limits
}

// Resolution returns the DAC bit depth.
func (d *M8190A) Resolution() uint {
	return d.bits
}

// Encode converts normalized samples and two marker streams into the
// word-interleaved wire format: each little-endian int16 carries the
// sample code in its top bits and the markers in its bottom two.
// Marker slices may be nil.
func (d *M8190A) Encode(analog []float64, markerA, markerB []bool) ([]byte, error) {
	codes, err := awg.Quantize(analog, d.bits)
	if err != nil {
		return nil, err
	}
	shift := 16 - d.bits
	buf := make([]byte, 2*len(codes))
	for i, c := range codes {
		word := c << shift
		var sample, sync bool
		if markerA != nil {
			sample = markerA[i]
		}
		if markerB != nil {
			sync = markerB[i]
		}
		word |= awg.MarkerBits(sample, sync)
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(word))
	}
	return buf, nil
}

// WriteWaveform encodes the supplied samples and writes one segment per
// active analog channel, named <name>_ch<N>.  Rewriting an existing
// name frees the old segment first.  It returns the number of samples
// written and the per-channel segment names.
func (d *M8190A) WriteWaveform(name string, analog map[string][]float64, digital map[string][]bool, total int) (int, []string, error) {
	active, err := d.ActiveChannels()
	if err != nil {
		return 0, nil, err
	}
	if err := awg.CheckWaveform(d.chans, active, d.limits, analog, digital, total); err != nil {
		return 0, nil, err
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
		segName := fmt.Sprintf("%s_ch%d", name, n)
		if err := d.writeSegment(n, segName, total, payload); err != nil {
			return 0, written, err
		}
		written = append(written, segName)
	}
	sort.Strings(written)
	return total, written, nil
}

// writeSegment allocates a fresh segment, fills it, and names it.  The
// channel's table mirror is marked dirty before the first command so a
// failure part way through never leaves a stale mirror.
func (d *M8190A) writeSegment(ch int, name string, samples int, payload []byte) error {
	old, err := d.table.NameToID(ch, name)
	if err != nil && !awg.IsNotFound(err) {
		return err
	}
	d.table.MarkDirty(ch)
	if err == nil {
		if werr := d.Write(fmt.Sprintf(":TRAC%d:DEL %d", ch, old)); werr != nil {
			return werr
		}
	}
	resp, err := d.ReadString(fmt.Sprintf(":TRAC%d:DEF:NEW? %d", ch, samples))
	if err != nil {
		return awg.SegmentAllocationError{Channel: ch, Samples: samples, Reason: err.Error()}
	}
	id, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return awg.SegmentAllocationError{Channel: ch, Samples: samples, Reason: fmt.Sprintf("device answered %q to the allocation query", resp)}
	}
	if err := d.WriteBinary(fmt.Sprintf(":TRAC%d:DATA %d, 0,", ch, id), payload); err != nil {
		return err
	}
	if err := d.Write(fmt.Sprintf(":TRAC%d:NAME %d, \"%s\"", ch, id, name)); err != nil {
		return err
	}
	if _, err := d.AllErrorsString(); err != nil {
		return err
	}
	d.Log.Debug().Int("channel", ch).Int("id", id).Int("samples", samples).Str("segment", name).Msg("wrote segment")
	return nil
}

// DeleteWaveform frees every segment whose name matches <name>_ch<N>,
// on any channel.  Deleting a name with no segments is not an error;
// the returned list is empty.
func (d *M8190A) DeleteWaveform(name string) ([]string, error) {
	deleted := []string{}
	for _, a := range d.chans.Analog {
		n := hw(a)
		entries, err := d.table.Get(n)
		if err != nil {
			return deleted, err
		}
		for _, e := range entries {
			if awg.BaseName(e.Name) != name {
				continue
			}
			d.table.MarkDirty(n)
			if err := d.Write(fmt.Sprintf(":TRAC%d:DEL %d", n, e.ID)); err != nil {
				return deleted, err
			}
			deleted = append(deleted, e.Name)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// WaveformNames lists the per-channel segment names resident in device
// memory, sorted.
func (d *M8190A) WaveformNames() ([]string, error) {
	names := []string{}
	for _, a := range d.chans.Analog {
		entries, err := d.table.Get(hw(a))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// WaveformExists reports whether the per-channel name, e.g. rabi_ch2,
// has a resident segment.  Names without a channel suffix never match.
func (d *M8190A) WaveformExists(name string) (bool, error) {
	ch, err := awg.ChannelSuffix(name)
	if err != nil {
		return false, nil
	}
	_, err = d.table.NameToID(ch, name)
	if err != nil {
		if awg.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ReadSegmentCatalog fetches the segment catalog for one channel,
// resolving each id to its name.
func (d *M8190A) ReadSegmentCatalog(ch int) ([]awg.SegmentEntry, error) {
	resp, err := d.ReadString(fmt.Sprintf(":TRAC%d:CAT?", ch))
	if err != nil {
		return nil, err
	}
	ids, err := parseCatalog(resp)
	if err != nil {
		return nil, fmt.Errorf("channel %d segment catalog: %v", ch, err)
	}
	entries := make([]awg.SegmentEntry, 0, len(ids))
	for _, id := range ids {
		name, err := d.ReadString(fmt.Sprintf(":TRAC%d:NAME? %d", ch, id))
		if err != nil {
			return nil, err
		}
		name = unquote(name)
		if name == "" {
			return nil, awg.SegmentTableCorruptionError{Channel: ch, IDs: len(ids), Names: len(entries)}
		}
		entries = append(entries, awg.SegmentEntry{ID: id, Name: name})
	}
	return entries, nil
}

// WriteSequence compiles steps into the hardware sequence table on
// every active analog channel and leaves the instrument in sequence
// mode.  Every step must name one resident waveform per active channel.
// It returns the number of steps written.
func (d *M8190A) WriteSequence(name string, steps []awg.SequenceStep) (int, error) {
	if !d.SequenceOption {
		return 0, ErrNoSequencer
	}
	if err := awg.CheckSequence(d.limits, steps); err != nil {
		return 0, err
	}
	active, err := d.ActiveChannels()
	if err != nil {
		return 0, err
	}
	analog := d.chans.ActiveAnalog(active)

	// resolve every row up front; nothing is written to the device
	// until the whole program is known good
	segIDs := make([]map[int]int, len(steps))
	for i, st := range steps {
		byCh := map[int]string{}
		for _, wf := range st.Waveforms {
			ch, err := awg.ChannelSuffix(wf)
			if err != nil {
				return 0, fmt.Errorf("sequence step %d: %v", i, err)
			}
			byCh[ch] = wf
		}
		segIDs[i] = map[int]int{}
		for _, a := range analog {
			n := hw(a)
			wf, ok := byCh[n]
			if !ok {
				return 0, fmt.Errorf("sequence step %d supplies no waveform for channel %d; every active channel needs one", i, n)
			}
			id, err := d.table.NameToID(n, wf)
			if err != nil {
				if awg.IsNotFound(err) {
					return 0, awg.UnresolvedSegmentError{Step: i, Name: wf, Channel: n}
				}
				return 0, err
			}
			segIDs[i][n] = id
		}
		if st.GoTo > 0 {
			d.Log.Warn().Int("step", i).Int("go_to", st.GoTo).Msg("sequencer cannot jump to an arbitrary step, go_to ignored")
		}
		if st.WaitFor {
			d.Log.Warn().Int("step", i).Msg("per-step trigger waits are not supported, wait_for ignored")
		}
	}

	for _, a := range analog {
		n := hw(a)
		if err := d.Write(fmt.Sprintf(":FUNC%d:MODE STS", n)); err != nil {
			return 0, err
		}
	}
	for _, a := range analog {
		if err := d.Write(fmt.Sprintf(":STAB%d:RES", hw(a))); err != nil {
			return 0, err
		}
	}
	for _, a := range analog {
		if err := d.Write(fmt.Sprintf(":SEQ%d:DEL:ALL", hw(a))); err != nil {
			return 0, err
		}
	}
	if err := d.Write(":ARM:DYNP:WIDT LOW"); err != nil {
		return 0, err
	}

	seqIDs := map[int]int{}
	for _, a := range analog {
		n := hw(a)
		resp, err := d.ReadString(fmt.Sprintf(":SEQ%d:DEF:NEW? %d", n, len(steps)))
		if err != nil {
			return 0, err
		}
		id, err := strconv.Atoi(strings.TrimSpace(resp))
		if err != nil {
			return 0, fmt.Errorf("channel %d answered %q to the sequence allocation query", n, resp)
		}
		seqIDs[n] = id
		if err := d.Write(fmt.Sprintf(":SEQ%d:NAME %d, '%s'", n, id, name)); err != nil {
			return 0, err
		}
	}
	if len(analog) == 2 && seqIDs[hw(analog[0])] != seqIDs[hw(analog[1])] {
		d.Log.Warn().Msg("channels allocated different sequence table ids")
	}

	for i, st := range steps {
		control := ctlMarkerEnable
		if i == 0 || st.PatternJumpAddress != nil {
			control |= ctlStartOfSequence
		}
		if i == len(steps)-1 || steps[i+1].PatternJumpAddress != nil {
			control |= ctlEndOfSequence
		}
		segLoop := uint32(segLoopInfinite)
		if st.Repetitions >= 0 {
			segLoop = uint32(st.Repetitions) + 1
		} else {
			d.Log.Info().Int("step", i).Uint32("loops", segLoop).Msg("approximating infinite repetition with the maximum loop count")
		}
		for _, a := range analog {
			n := hw(a)
			row := fmt.Sprintf(":STAB%d:DATA %d, %d, 1, %d, %d, 0, %d",
				n, seqIDs[n]+i, control, segLoop, segIDs[i][n], segLoopInfinite)
			if err := d.Write(row); err != nil {
				return 0, err
			}
		}
		d.Log.Debug().Int("step", i).Int("control", control).Uint32("loops", segLoop).Msg("wrote sequence table row")
	}
	return len(steps), nil
}

// SequenceNames lists the sequences defined in the channel 1 sequence
// table.  Sequences are always defined identically on both channels.
func (d *M8190A) SequenceNames() ([]string, error) {
	ids, err := d.sequenceCatalog(1)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, id := range ids {
		name, err := d.ReadString(fmt.Sprintf(":SEQ1:NAME? %d", id))
		if err != nil {
			return nil, err
		}
		names = append(names, unquote(name))
	}
	sort.Strings(names)
	return names, nil
}

func (d *M8190A) sequenceCatalog(ch int) ([]int, error) {
	resp, err := d.ReadString(fmt.Sprintf(":SEQ%d:CAT?", ch))
	if err != nil {
		return nil, err
	}
	ids, err := parseCatalog(resp)
	if err != nil {
		return nil, fmt.Errorf("channel %d sequence catalog: %v", ch, err)
	}
	return ids, nil
}

func (d *M8190A) sequenceIDByName(ch int, name string) (int, error) {
	ids, err := d.sequenceCatalog(ch)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		got, err := d.ReadString(fmt.Sprintf(":SEQ%d:NAME? %d", ch, id))
		if err != nil {
			return 0, err
		}
		if unquote(got) == name {
			return id, nil
		}
	}
	return 0, awg.NotFoundError{Kind: awg.AssetSequence, Name: name, Channel: ch}
}

// LoadSequence selects a previously written sequence for dynamic
// playback on every active analog channel.  It returns the loaded
// assets per channel.
func (d *M8190A) LoadSequence(name string) (map[int]string, error) {
	if !d.SequenceOption {
		return nil, ErrNoSequencer
	}
	active, err := d.ActiveChannels()
	if err != nil {
		return nil, err
	}
	analog := d.chans.ActiveAnalog(active)
	ids := map[int]int{}
	for _, a := range analog {
		n := hw(a)
		id, err := d.sequenceIDByName(n, name)
		if err != nil {
			return d.failWith(err)
		}
		ids[n] = id
	}
	for _, a := range analog {
		n := hw(a)
		if err := d.Write(fmt.Sprintf(":STAB%d:SEQ:SEL %d", n, ids[n])); err != nil {
			return nil, err
		}
		if err := d.Write(fmt.Sprintf(":STAB%d:DYN ON", n)); err != nil {
			return nil, err
		}
	}
	d.Log.Debug().Str("sequence", name).Msg("armed sequence for dynamic playback")
	assets, _, err := d.LoadedAssets()
	return assets, err
}

// LoadWaveform arms resident segments for arbitrary playback.  The
// channels named by spec must be active and the waveforms resident.  It
// returns the loaded assets per channel and restores continuous
// triggering.
func (d *M8190A) LoadWaveform(spec awg.LoadSpec) (map[int]string, error) {
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
	chs := make([]int, 0, len(byCh))
	for ch := range byCh {
		chs = append(chs, ch)
	}
	sort.Ints(chs)
	ids := map[int]int{}
	for _, ch := range chs {
		wf := byCh[ch]
		id, err := d.table.NameToID(ch, wf)
		if err != nil {
			if awg.IsNotFound(err) {
				return d.failWith(awg.NotFoundError{Kind: awg.AssetWaveform, Name: wf, Channel: ch})
			}
			return nil, err
		}
		ids[ch] = id
	}
	for _, ch := range chs {
		if err := d.Write(fmt.Sprintf(":FUNC%d:MODE ARB", ch)); err != nil {
			return nil, err
		}
		if err := d.Write(fmt.Sprintf(":TRAC%d:SEL %d", ch, ids[ch])); err != nil {
			return nil, err
		}
		d.Log.Debug().Int("channel", ch).Str("waveform", byCh[ch]).Int("id", ids[ch]).Msg("armed segment for playback")
	}
	if err := d.SetTriggerMode("cont"); err != nil {
		return nil, err
	}
	assets, _, err := d.LoadedAssets()
	return assets, err
}

// failWith pairs a validation error with the instrument's current
// loaded assets, which remain untouched by the failed operation.
func (d *M8190A) failWith(opErr error) (map[int]string, error) {
	assets, _, err := d.LoadedAssets()
	if err != nil {
		return nil, opErr
	}
	return assets, opErr
}

// LoadedAssets derives the loaded asset per active analog channel from
// the segment and sequence catalogs.  The kind is "waveform",
// "sequence", or empty when nothing is resident.
func (d *M8190A) LoadedAssets() (map[int]string, string, error) {
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
		segs, err := parseCatalog(resp)
		if err != nil {
			return nil, "", fmt.Errorf("channel %d segment catalog: %v", n, err)
		}
		seqs, err := d.sequenceCatalog(n)
		if err != nil {
			return nil, "", err
		}
		switch {
		case len(segs) == 0 && len(seqs) == 0:
			continue
		case len(seqs) == 1:
			if kind == awg.AssetWaveform {
				return nil, "", fmt.Errorf("channels disagree on the loaded asset type")
			}
			kind = awg.AssetSequence
			name, err := d.ReadString(fmt.Sprintf(":SEQ%d:NAME? %d", n, seqs[0]))
			if err != nil {
				return nil, "", err
			}
			assets[n] = unquote(name)
		case len(seqs) > 1:
			return nil, "", fmt.Errorf("channel %d holds %d sequences, expected at most one", n, len(seqs))
		case len(segs) == 1:
			if kind == awg.AssetSequence {
				return nil, "", fmt.Errorf("channels disagree on the loaded asset type")
			}
			kind = awg.AssetWaveform
			name, err := d.ReadString(fmt.Sprintf(":TRAC%d:NAME? %d", n, segs[0]))
			if err != nil {
				return nil, "", err
			}
			assets[n] = unquote(name)
		default:
			return nil, "", fmt.Errorf("channel %d holds %d segments but no sequence", n, len(segs))
		}
	}
	return assets, kind, nil
}

// ActiveChannels reports the channel activation state.  Markers follow
// their analog parent.
func (d *M8190A) ActiveChannels() (map[string]bool, error) {
	state := map[string]bool{}
	for _, a := range d.chans.Analog {
		on, err := d.ReadBool(fmt.Sprintf(":OUTP%d:NORM?", hw(a)))
		if err != nil {
			return nil, err
		}
		state[a] = on
		if sample, sync, ok := d.chans.MarkerPair(a); ok {
			state[sample] = on
			state[sync] = on
		}
	}
	return state, nil
}

// SetActiveChannels applies a full activation state.  Partial requests
// are completed by marker slaving; a request matching no declared
// configuration is rejected without touching the device.  It returns
// the state read back afterwards.
func (d *M8190A) SetActiveChannels(req map[string]bool) (map[string]bool, error) {
	cur, err := d.ActiveChannels()
	if err != nil {
		return nil, err
	}
	want, err := d.chans.ValidateActivation(cur, req)
	if err != nil {
		return cur, err
	}
	for _, a := range d.chans.Analog {
		state := "OFF"
		if want[a] {
			state = "ON"
		}
		if err := d.Write(fmt.Sprintf("OUTP%d:NORM %s", hw(a), state)); err != nil {
			return cur, err
		}
	}
	return d.ActiveChannels()
}

// ClearAll deletes every segment on every channel and drops back to
// arbitrary mode.
func (d *M8190A) ClearAll() error {
	for _, a := range d.chans.Analog {
		n := hw(a)
		if err := d.Write(fmt.Sprintf(":TRAC%d:DEL:ALL", n)); err != nil {
			return err
		}
		if err := d.Write(fmt.Sprintf(":FUNC%d:MODE ARB", n)); err != nil {
			return err
		}
	}
	d.table.MarkAllDirty()
	return nil
}

// Run enables both outputs, waits for them to report on, and starts
// playback.  In triggered dynamic mode it follows up with one software
// trigger so the sequencer arms.
func (d *M8190A) Run() error {
	for _, a := range d.chans.Analog {
		if err := d.Write(fmt.Sprintf(":OUTP%d:NORM ON", hw(a))); err != nil {
			return err
		}
	}
	err := waitFor("outputs on", startTimeout, func() (bool, error) {
		total := 0
		for _, a := range d.chans.Analog {
			v, err := d.ReadInt(fmt.Sprintf(":OUTP%d?", hw(a)))
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
	if err := d.Write("*WAI"); err != nil {
		return err
	}
	mode, err := d.TriggerMode()
	if err != nil {
		return err
	}
	if mode == "trig" {
		dyn, err := d.dynamicMode()
		if err != nil {
			return err
		}
		if dyn {
			// triggered dynamic playback does not arm until the first
			// trigger event arrives
			return d.SendTrigger()
		}
	}
	return nil
}

// Stop aborts playback and waits for the instrument to report stopped.
func (d *M8190A) Stop() error {
	if err := d.Write(":ABOR"); err != nil {
		return err
	}
	return waitFor("playback stopped", startTimeout, func() (bool, error) {
		running, err := d.Running()
		return !running, err
	})
}

// Running reports whether playback is in progress.
func (d *M8190A) Running() (bool, error) {
	v, err := d.ReadInt(":STAT:OPER:RUN:COND?")
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// SampleRate reads the sample frequency in Hz.
func (d *M8190A) SampleRate() (float64, error) {
	return d.ReadFloat(":FREQ:RAST?")
}

// SetSampleRate programs the sample frequency in Hz, waits for the
// instrument to finish retuning, and returns the value it settled on.
// Out of range requests surface as device errors.
func (d *M8190A) SetSampleRate(v float64) (float64, error) {
	if err := d.Write(fmt.Sprintf(":FREQ:RAST %.4GGHz", v/1e9)); err != nil {
		return 0, err
	}
	if err := opcWait(&d.SCPI, startTimeout); err != nil {
		return 0, err
	}
	time.Sleep(settleDelay)
	return d.SampleRate()
}

// TriggerMode reads the trigger mode: cont, trig, or gate.  A state
// matching no known mode, or channels that disagree, reads as an empty
// string with a logged warning.
func (d *M8190A) TriggerMode() (string, error) {
	mode := ""
	for i, a := range d.chans.Analog {
		n := hw(a)
		cont, err := d.ReadBool(fmt.Sprintf(":INIT:CONT%d:STAT?", n))
		if err != nil {
			return "", err
		}
		gate, err := d.ReadBool(fmt.Sprintf(":INIT:GATE%d:STAT?", n))
		if err != nil {
			return "", err
		}
		var m string
		switch {
		case cont && !gate:
			m = "cont"
		case !cont && !gate:
			m = "trig"
		case !cont && gate:
			m = "gate"
		default:
			d.Log.Warn().Int("channel", n).Bool("cont", cont).Bool("gate", gate).Msg("trigger state matches no known mode")
			return "", nil
		}
		if i > 0 && m != mode {
			d.Log.Warn().Str("ch1", mode).Str("other", m).Msg("channels disagree on trigger mode")
			return "", nil
		}
		mode = m
	}
	return mode, nil
}

// SetTriggerMode applies cont, trig, or gate to both channels.
func (d *M8190A) SetTriggerMode(mode string) error {
	var cont, gate string
	switch mode {
	case "cont":
		cont, gate = "ON", "OFF"
	case "trig":
		cont, gate = "OFF", "OFF"
	case "gate":
		cont, gate = "OFF", "ON"
	default:
		return fmt.Errorf("trigger mode %q not supported, expected cont, trig or gate", mode)
	}
	for _, a := range d.chans.Analog {
		n := hw(a)
		if err := d.Write(fmt.Sprintf(":INIT:CONT%d:STAT %s", n, cont)); err != nil {
			return err
		}
		if err := d.Write(fmt.Sprintf(":INIT:GATE%d:STAT %s", n, gate)); err != nil {
			return err
		}
	}
	return nil
}

// SendTrigger fires one software trigger event.
func (d *M8190A) SendTrigger() error {
	return d.Write(":TRIG:BEG")
}

// dynamicMode reports whether dynamic sequence selection is on for
// every analog channel.
func (d *M8190A) dynamicMode() (bool, error) {
	dyn := true
	for _, a := range d.chans.Analog {
		on, err := d.ReadBool(fmt.Sprintf(":STAB%d:DYN?", hw(a)))
		if err != nil {
			return false, err
		}
		dyn = dyn && on
	}
	return dyn, nil
}
