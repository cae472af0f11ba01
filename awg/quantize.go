package awg

import "math"

// Quantize linearly maps normalized samples onto the signed integer range
// of a DAC with the given bit depth, [-2^(b-1), 2^(b-1)-1].  Inputs are
// expected in [-1, 1]; if any sample exceeds unit magnitude the observed
// peak becomes the span instead, so the batch lands in range without
// wraparound, and a warning is logged.  The fractional part of each
// mapped value is truncated toward zero.
func Quantize(samples []float64, bits uint) ([]int16, error) {
	if len(samples) == 0 {
		return nil, EmptySamplesError{}
	}
	if bits < 1 || bits > 16 {
		return nil, ResolutionError{Bits: bits}
	}
	bitsize := float64(int64(1) << bits)
	minI := -bitsize / 2
	maxI := bitsize/2 - 1

	span := 1.0
	peak := 0.0
	for _, v := range samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak > 1 {
		Log.Warn().Float64("peak", peak).Uint("bits", bits).
			Msg("samples out of range, normalizing to the observed peak")
		span = peak
	}

	scale := (maxI - minI) / (2 * span)
	out := make([]int16, len(samples))
	for i, v := range samples {
		out[i] = int16(minI + (v+span)*scale)
	}
	return out, nil
}

// MarkerBits packs the two marker streams of one sample into the low
// word bits: bit 0 carries the sample marker, bit 1 the sync marker
func MarkerBits(sample, sync bool) int16 {
	var b int16
	if sample {
		b |= 0x1
	}
	if sync {
		b |= 0x2
	}
	return b
}
