/*Package comm provides connection plumbing for communication with lab hardware.

Devices are talked to through a Pool of io.ReadWriteCloser connections.  The
pool is fed by a CreationFunc ("maker") that knows how to dial the device,
and drains itself when the device has been idle for a while, since many lab
instruments only tolerate a small number of concurrent sockets and some
misbehave when connections are held open indefinitely.

Most device types in this module are built as:

	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	dev := &SomeDevice{scpi.SCPI{Pool: pool}}

The NewTerminator and NewTimeout wrappers decorate a pooled connection with
message framing and per-operation deadlines without the device code having
to know whether the underlying link is TCP, serial, or USB.
*/
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when an operation is attempted on a nil connection.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// CreationFunc is a function which returns a new "connection" to something.
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr over TCP,
// retrying with exponential backoff when the remote refuses the connection.
// Several instruments in the lab do not like being connection thrashed and
// refuse for a short window after a disconnect; the backoff rides that out.
// A timeout is not retried, since it more likely means the device is off
// or unplugged.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		wasTimeout := false
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			if err != nil {
				errS := strings.ToLower(err.Error())
				if strings.Contains(errS, "refused") {
					return err
				}
				wasTimeout = true
				return nil
			}
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err == nil && !wasTimeout {
			return conn, nil
		}
		if wasTimeout {
			return nil, fmt.Errorf("connection timeout to %s", addr)
		}
		return nil, err
	}
}

// SerialConnMaker returns a CreationFunc which opens the serial port
// described by conf
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// Terminator decorates a connection with message framing: writes have the
// Tx terminator appended if absent, and reads consume the underlying stream
// up to and including the Rx terminator.  Bytes past the terminator are
// held for the next Read call.
type Terminator struct {
	rw     io.ReadWriter
	br     *bufio.Reader
	rx, tx byte
	stash  []byte
}

// NewTerminator returns a Terminator wrapping rw with the given Rx and Tx
// termination bytes
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReader(rw), rx: rx, tx: tx}
}

func (t *Terminator) Write(p []byte) (int, error) {
	l := len(p)
	if l == 0 || p[l-1] != t.tx {
		p = append(p, t.tx)
	}
	n, err := t.rw.Write(p)
	if n > l {
		n = l
	}
	return n, err
}

func (t *Terminator) Read(p []byte) (int, error) {
	if len(t.stash) > 0 {
		n := copy(p, t.stash)
		t.stash = t.stash[n:]
		return n, nil
	}
	buf, err := t.br.ReadBytes(t.rx)
	if err != nil {
		if len(buf) > 0 {
			// partial message, hand it over with the transport error
			n := copy(p, buf)
			return n, err
		}
		return 0, err
	}
	n := copy(p, buf)
	if n < len(buf) {
		t.stash = append(t.stash, buf[n:]...)
	}
	return n, nil
}

// deadliner is the subset of net.Conn used to impose timeouts
type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Timeout decorates a connection, arming a fresh deadline before each
// read or write
type Timeout struct {
	rw      io.ReadWriter
	d       deadliner
	timeout time.Duration
}

// NewTimeout wraps rw so that each operation is bounded by timeout.  If the
// underlying connection does not support deadlines (serial ports, in-memory
// fakes) rw is returned unmodified; those links bound their operations by
// other means.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	type unwrapper interface {
		Underlying() io.ReadWriter
	}
	probe := rw
	if u, ok := probe.(unwrapper); ok {
		probe = u.Underlying()
	}
	if d, ok := probe.(deadliner); ok {
		return &Timeout{rw: rw, d: d, timeout: timeout}, nil
	}
	return rw, nil
}

// Underlying returns the connection beneath the terminator, so deadline
// support can be probed through the wrapper
func (t *Terminator) Underlying() io.ReadWriter {
	return t.rw
}

func (t *Timeout) Read(p []byte) (int, error) {
	err := t.d.SetReadDeadline(time.Now().Add(t.timeout))
	if err != nil {
		return 0, err
	}
	return t.rw.Read(p)
}

func (t *Timeout) Write(p []byte) (int, error) {
	err := t.d.SetWriteDeadline(time.Now().Add(t.timeout))
	if err != nil {
		return 0, err
	}
	return t.rw.Write(p)
}
