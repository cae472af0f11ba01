package awg

import (
	"errors"
	"fmt"
	"strings"
)

// The error taxonomy: validation errors are rejected before any device
// I/O; resource errors mean the device refused an allocation; consistency
// errors mean the local mirror and the device disagree; not-found errors
// mean a named asset is absent.  Transport errors from the comm/scpi
// layers pass through unchanged and belong to none of these categories.
// Nothing in this package logs-and-swallows an error.

type validationError interface{ validation() }
type resourceError interface{ resource() }
type consistencyError interface{ consistency() }
type notFoundError interface{ notFound() }

// IsValidation reports whether err is a pre-I/O input rejection
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}

// IsResource reports whether err is a device allocation failure
func IsResource(err error) bool {
	var r resourceError
	return errors.As(err, &r)
}

// IsConsistency reports whether err is a mirror/device divergence
func IsConsistency(err error) bool {
	var c consistencyError
	return errors.As(err, &c)
}

// IsNotFound reports whether err is a missing named asset
func IsNotFound(err error) bool {
	var n notFoundError
	return errors.As(err, &n)
}

// EmptySamplesError is returned when a waveform write carries no analog
// samples
type EmptySamplesError struct {
	Channel string
}

func (e EmptySamplesError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("no samples supplied for channel %s", e.Channel)
	}
	return "no analog samples supplied"
}

func (EmptySamplesError) validation() {}

// WaveformTooShortError is returned when a waveform is below the device
// minimum length
type WaveformTooShortError struct {
	Required int
	Got      int
}

func (e WaveformTooShortError) Error() string {
	return fmt.Sprintf("waveform of %d samples is below the device minimum length of %d", e.Got, e.Required)
}

func (WaveformTooShortError) validation() {}

// ChannelMismatchError is returned when the channels of the supplied
// sample arrays do not exactly equal the active channel set
type ChannelMismatchError struct {
	Active   []string
	Supplied []string
}

func (e ChannelMismatchError) Error() string {
	return fmt.Sprintf("sample arrays for channels [%s] do not match the active channel set [%s]",
		strings.Join(e.Supplied, " "), strings.Join(e.Active, " "))
}

func (ChannelMismatchError) validation() {}

// UnknownChannelError is returned for channel names the device does not
// declare
type UnknownChannelError struct {
	Name string
}

func (e UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown channel %q", e.Name)
}

func (UnknownChannelError) validation() {}

// InvalidActivationError is returned when a requested channel activation
// does not equal any declared activation configuration; the previous
// activation state is always returned alongside it, unchanged
type InvalidActivationError struct {
	Requested []string
}

func (e InvalidActivationError) Error() string {
	return fmt.Sprintf("activation {%s} does not match any allowed activation configuration", strings.Join(e.Requested, " "))
}

func (InvalidActivationError) validation() {}

// BadLoadSpecError is returned when a LoadSpec has zero or two arms set,
// or a name in the ByName arm cannot be attributed to a channel
type BadLoadSpecError struct {
	Reason string
}

func (e BadLoadSpecError) Error() string {
	return "bad load spec: " + e.Reason
}

func (BadLoadSpecError) validation() {}

// ResolutionError is returned for bit depths outside what an int16 code
// can hold
type ResolutionError struct {
	Bits uint
}

func (e ResolutionError) Error() string {
	return fmt.Sprintf("bit depth %d outside the supported range 1..16", e.Bits)
}

func (ResolutionError) validation() {}

// SegmentAllocationError is returned when the device refuses to define a
// new segment
type SegmentAllocationError struct {
	Channel int
	Samples int
	Reason  string
}

func (e SegmentAllocationError) Error() string {
	return fmt.Sprintf("could not allocate a %d sample segment on channel %d: %s", e.Samples, e.Channel, e.Reason)
}

func (SegmentAllocationError) resource() {}

// SegmentTableCorruptionError is returned when the device catalog yields
// differing numbers of segment ids and names
type SegmentTableCorruptionError struct {
	Channel int
	IDs     int
	Names   int
}

func (e SegmentTableCorruptionError) Error() string {
	return fmt.Sprintf("segment table on channel %d is unaligned: %d ids, %d names", e.Channel, e.IDs, e.Names)
}

func (SegmentTableCorruptionError) consistency() {}

// ChecksumError is returned when a staged payload reads back with a
// different checksum than was recorded at write time
type ChecksumError struct {
	File string
	Want uint64
	Got  uint64
}

func (e ChecksumError) Error() string {
	return fmt.Sprintf("staged file %s read back with CRC %#x, recorded %#x at write time", e.File, e.Got, e.Want)
}

func (ChecksumError) consistency() {}

// NotFoundError is returned when a named waveform, sequence, or segment
// is absent.  Channel is zero when the lookup was not per-channel.
type NotFoundError struct {
	Kind    string
	Name    string
	Channel int
}

func (e NotFoundError) Error() string {
	if e.Channel > 0 {
		return fmt.Sprintf("no %s named %q on channel %d", e.Kind, e.Name, e.Channel)
	}
	return fmt.Sprintf("no %s named %q", e.Kind, e.Name)
}

func (NotFoundError) notFound() {}

// UnresolvedSegmentError aborts a sequence compile when a step references
// a waveform with no resident segment
type UnresolvedSegmentError struct {
	Step    int
	Name    string
	Channel int
}

func (e UnresolvedSegmentError) Error() string {
	return fmt.Sprintf("sequence step %d references %q, which has no segment on channel %d", e.Step, e.Name, e.Channel)
}

func (UnresolvedSegmentError) notFound() {}
