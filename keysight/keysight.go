// Package keysight provides access to their arbitrary waveform generators in Go
package keysight

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/gopulser/awg"
	"github.com/nasa-jpl/gopulser/comm"
	"github.com/nasa-jpl/gopulser/scpi"
	"github.com/nasa-jpl/gopulser/usbtmc"
)

// ErrNoSequencer is returned by sequence operations when the instrument
// lacks the sequencing license.
var ErrNoSequencer = errors.New("sequencer option not installed")

const (
	// pollInterval spaces successive queries while waiting on the
	// instrument to finish something
	pollInterval = 250 * time.Millisecond

	// startTimeout bounds how long Run, Stop, and sample rate changes
	// wait for the instrument to report the new state
	startTimeout = 30 * time.Second

	// settleDelay is the pause after *OPC? reports complete before the
	// instrument answers queries with post-change values
	settleDelay = 200 * time.Millisecond

	// segLoopInfinite is the hardware maximum for a 32-bit sequence
	// table field.  It approximates infinite repetition and doubles as
	// the play-to-end sentinel in a table row.
	segLoopInfinite = 4294967295
)

// waitFor polls pred at pollInterval until it reports done, an error,
// or timeout elapses.
func waitFor(desc string, timeout time.Duration, pred func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := pred()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %v waiting for %s", timeout, desc)
		}
		time.Sleep(pollInterval)
	}
}

// opcWait blocks until the instrument reports pending operations
// complete via *OPC?
func opcWait(s *scpi.SCPI, timeout time.Duration) error {
	return waitFor("operation complete", timeout, func() (bool, error) {
		resp, err := s.ReadString("*OPC?")
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(resp) == "1", nil
	})
}

// parseCatalog extracts the ids from a TRAC:CAT? or SEQ:CAT? response,
// which is a flat list of <id>,<length> pairs.  An empty catalog reads
// back as "0,0".
func parseCatalog(resp string) ([]int, error) {
	resp = strings.TrimSpace(resp)
	if resp == "" || resp == "0,0" {
		return nil, nil
	}
	pieces := strings.Split(resp, ",")
	if len(pieces)%2 != 0 {
		return nil, fmt.Errorf("catalog %q does not split into id,length pairs", resp)
	}
	ids := make([]int, 0, len(pieces)/2)
	for i := 0; i < len(pieces); i += 2 {
		id, err := strconv.Atoi(strings.TrimSpace(pieces[i]))
		if err != nil {
			return nil, fmt.Errorf("catalog %q holds non-numeric id %q", resp, pieces[i])
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseFileCatalog extracts the file names from an MMEM:CAT? response,
// formatted <bytes used>,<bytes free>{,"<name>,<type>,<size>"}
func parseFileCatalog(resp string) []string {
	clean := strings.NewReplacer(`"`, "", "'", "").Replace(resp)
	pieces := strings.Split(clean, ",")
	names := []string{}
	for i := 2; i < len(pieces); i += 3 {
		name := strings.TrimSpace(pieces[i])
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// makerFor returns a connection maker for addr.  Addresses of the form
// usb:<vid>:<pid> (hex, e.g. usb:0957:1b8d) open a USBTMC session; any
// other address is dialed as host:port over TCP.
func makerFor(addr string) (comm.CreationFunc, error) {
	if strings.HasPrefix(strings.ToLower(addr), "usb:") {
		vid, pid, err := usbtmc.ParseAddr(addr)
		if err != nil {
			return nil, err
		}
		return usbtmc.ConnMaker(vid, pid), nil
	}
	return comm.BackingOffTCPConnMaker(addr, 1*time.Second), nil
}

// unquote strips the quoting instruments wrap around returned names
func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

// hw returns the hardware index of a declared channel name, e.g. 2 for
// a_ch2
func hw(name string) int {
	n, _ := awg.ChannelSuffix(name)
	return n
}
