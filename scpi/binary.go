package scpi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/gopulser/comm"
)

const (
	// bulk waveform uploads run to minutes at gigasample record lengths
	uploadTimeout = 2 * time.Minute

	binChunkSize = 1 << 16
)

// blockHeader formats the IEEE 488.2 definite-length block header for a
// payload of n bytes, e.g. 512 => #3512
func blockHeader(n int) []byte {
	digits := strconv.Itoa(n)
	return []byte("#" + strconv.Itoa(len(digits)) + digits)
}

// readDefiniteBlock consumes an IEEE 488.2 definite-length block and the
// trailing terminator from r and returns the payload
func readDefiniteBlock(r io.Reader) ([]byte, error) {
	buf := make([]byte, tcpFrameSize)
	var data []byte
	more := func(atLeast int) error {
		for len(data) < atLeast {
			n, err := r.Read(buf)
			data = append(data, buf[:n]...)
			if err != nil {
				return err
			}
		}
		return nil
	}
	if err := more(2); err != nil {
		return nil, err
	}
	if data[0] != '#' {
		return nil, fmt.Errorf("first byte in response was %v, expected #", data[0])
	}
	ndigits := int(data[1]) - 48 // shift down by 48, ASCII->int
	if ndigits < 1 || ndigits > 9 {
		return nil, fmt.Errorf("block header digit count %d out of range", ndigits)
	}
	upper := 2 + ndigits
	if err := more(upper); err != nil {
		return nil, err
	}
	nbytes, err := strconv.Atoi(string(data[2:upper]))
	if err != nil {
		return nil, err
	}
	data = data[upper:]
	// +1 consumes the terminator so the connection returns to the pool clean
	if err := more(nbytes + 1); err != nil {
		return nil, err
	}
	return data[:nbytes], nil
}

// WriteBinary sends cmd immediately followed by data framed as an IEEE
// 488.2 definite-length block.  cmd must carry its own trailing separator,
// e.g. "TRACe1:DATA 1,0,".  Writes are chunked, and paced when s.Pace is
// set.  If s.Handshaking is true the device error queue is checked after
// the transfer.
func (s *SCPI) WriteBinary(cmd string, data []byte) error {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	w, err := comm.NewTimeout(conn, uploadTimeout)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, cmd)
	if err != nil {
		return err
	}
	_, err = w.Write(blockHeader(len(data)))
	if err != nil {
		return err
	}
	chunk := binChunkSize
	if s.Pace != nil {
		if b := s.Pace.Burst(); b > 0 && b < chunk {
			chunk = b
		}
	}
	for len(data) > 0 {
		piece := data
		if len(piece) > chunk {
			piece = piece[:chunk]
		}
		if s.Pace != nil {
			err = s.Pace.WaitN(context.Background(), len(piece))
			if err != nil {
				return err
			}
		}
		_, err = w.Write(piece)
		if err != nil {
			return err
		}
		data = data[len(piece):]
	}
	_, err = io.WriteString(w, "\n")
	if err != nil {
		return err
	}
	if s.Handshaking {
		term := comm.NewTerminator(w, '\n', '\n')
		_, err = io.WriteString(term, ":SYSTem:ERRor?")
		if err != nil {
			return err
		}
		var resp []byte
		resp, err = readUntilTerminator(term)
		if err != nil {
			return err
		}
		str := strings.TrimRight(string(resp), "\r\n")
		if !errorOK(str) {
			err = errors.New(str)
			return err
		}
	}
	return nil
}

// ReadBinary sends a query and reads back an IEEE 488.2 definite-length
// block.  Handshaking is not applied; callers drain the error queue
// separately after bulk transfers.
func (s *SCPI) ReadBinary(cmds ...string) ([]byte, error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	w, err := comm.NewTimeout(conn, uploadTimeout)
	if err != nil {
		return nil, err
	}
	str := strings.Join(cmds, " ")
	_, err = io.WriteString(w, str+"\n")
	if err != nil {
		return nil, err
	}
	var data []byte
	data, err = readDefiniteBlock(w)
	return data, err
}

// WriteFile stores data as the named file on the device mass memory
func (s *SCPI) WriteFile(name string, data []byte) error {
	return s.WriteBinary(fmt.Sprintf("MMEMory:DATA \"%s\", ", name), data)
}

// ReadFile retrieves the named file from the device mass memory
func (s *SCPI) ReadFile(name string) ([]byte, error) {
	return s.ReadBinary(fmt.Sprintf("MMEMory:DATA? \"%s\"", name))
}
