// Package scpi provides primitives for working with devices that
// have SCPI interfaces.
//
// The SCPI type wraps a comm.Pool and layers message framing, optional
// error handshaking, and typed query parsing on top of it.  Binary
// transfers (arbitrary waveform data, mass memory files) live in
// binary.go and speak IEEE 488.2 definite-length blocks.
package scpi

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nasa-jpl/gopulser/comm"
)

const (
	timeout = 5 * time.Second

	tcpFrameSize = 1500

	// instruments hold at most 30 entries in the error queue; draining
	// stops there so a chatty device cannot wedge the caller
	maxErrorQueue = 30
)

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Pace throttles bulk binary writes when non-nil.  The limit is in
	// bytes per second; chunks shrink to the limiter's burst if needed.
	Pace *rate.Limiter
}

// errorOK parses a SYSTem:ERRor? response; the leading integer is zero
// when the queue is empty.  Keysight firmwares write +0, Agilent 0.
func errorOK(resp string) bool {
	idx := strings.IndexByte(resp, ',')
	if idx == -1 {
		idx = len(resp)
	}
	code, err := strconv.Atoi(strings.TrimSpace(resp[:idx]))
	if err != nil {
		return false
	}
	return code == 0
}

// readUntilTerminator reads from r until a chunk ending in '\n' has been
// delivered.  Responses longer than one TCP frame (segment catalogs,
// error queues) arrive over multiple reads.
func readUntilTerminator(r io.Reader) ([]byte, error) {
	var out []byte
	buf := make([]byte, tcpFrameSize)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out, err
		}
		if n > 0 && buf[n-1] == '\n' {
			return out, nil
		}
	}
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap = comm.NewTerminator(conn, '\n', '\n')
	wrap, err = comm.NewTimeout(wrap, timeout)
	if err != nil {
		return err
	}
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	_, err = io.WriteString(wrap, str)
	if err != nil {
		return err
	}
	if s.Handshaking {
		var resp []byte
		resp, err = readUntilTerminator(wrap)
		if err != nil {
			return err
		}
		str := strings.TrimRight(string(resp), "\r\n")
		if !errorOK(str) {
			err = errors.New(str)
			return err
		}
		return nil
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	var resp []byte
	conn, err := s.Pool.Get()
	if err != nil {
		return resp, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap = comm.NewTerminator(conn, '\n', '\n')
	wrap, err = comm.NewTimeout(wrap, timeout)
	if err != nil {
		return resp, err
	}
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	_, err = io.WriteString(wrap, str)
	if err != nil {
		return resp, err
	}
	resp, err = readUntilTerminator(wrap)
	if err != nil {
		return resp, err
	}
	if s.Handshaking {
		pieces := bytes.Split(resp, []byte{';'})
		errS := strings.TrimRight(string(pieces[len(pieces)-1]), "\r\n")
		if !errorOK(errS) {
			err = errors.New(errS)
			return resp, err
		}
		return bytes.Join(pieces[:len(pieces)-1], []byte{}), nil
	}
	return resp, err
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err == nil {
		if len(resp) > 0 && resp[len(resp)-1] == '\n' {
			resp = resp[:len(resp)-1]
		}
		if len(resp) > 0 && resp[len(resp)-1] == '\r' {
			resp = resp[:len(resp)-1]
		}
	}
	return string(resp), err
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(resp)
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(resp)
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	if errorOK(str) {
		return nil
	}
	return errors.New(str)
}

// AllErrors drains the error queue on the device and returns the
// entries as a list.  At most maxErrorQueue entries are read.
func (s *SCPI) AllErrors() []error {
	var errs []error
	var err error
	for i := 0; i < maxErrorQueue; i++ {
		err = s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
	}
	return errs
}

// AllErrorsString is equivalent to AllErrors, but joining by newline
// if there were no errors, the error return value is nil, otherwise
// it is the first error in the list and has no particular meaning
func (s *SCPI) AllErrorsString() (string, error) {
	errs := s.AllErrors()
	if len(errs) == 0 {
		return "", nil
	}
	strs := make([]string, len(errs))
	for i := 0; i < len(errs); i++ {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "\n"), errs[0]
}

// Idn queries the identification string of the device
func (s *SCPI) Idn() (string, error) {
	return s.ReadString("*IDN?")
}

// Rst issues a bus reset and clears the status registers
func (s *SCPI) Rst() error {
	return s.Write("*RST;*CLS")
}
