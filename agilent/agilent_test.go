package agilent_test

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/nasa-jpl/gopulser/agilent"
	"github.com/nasa-jpl/gopulser/comm"
)

type scriptConn struct {
	queue  [][]byte
	tx     bytes.Buffer
	closed bool
}

func (s *scriptConn) Read(p []byte) (int, error) {
	if len(s.queue) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.queue[0])
	if n < len(s.queue[0]) {
		s.queue[0] = s.queue[0][n:]
	} else {
		s.queue = s.queue[1:]
	}
	return n, nil
}

func (s *scriptConn) Write(p []byte) (int, error) { return s.tx.Write(p) }
func (s *scriptConn) Close() error                { s.closed = true; return nil }

func rig(t *testing.T, responses ...string) (*scriptConn, *agilent.FunctionGenerator) {
	t.Helper()
	fg := agilent.NewFunctionGenerator("fungen.example:5025", false)
	c := &scriptConn{}
	for _, r := range responses {
		c.queue = append(c.queue, []byte(r))
	}
	fg.Pool = comm.NewPool(1, time.Hour, func() (io.ReadWriteCloser, error) { return c, nil })
	fg.Handshaking = false
	return c, fg
}

func TestSetVoltageCommandShape(t *testing.T) {
	c, fg := rig(t)
	if err := fg.SetVoltage(2.5); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := c.tx.String(); got != "VOLT 2.5 VPP\n" {
		t.Errorf("expected VOLT 2.5 VPP, got %q", got)
	}
}

func TestSetFunctionCommandShape(t *testing.T) {
	c, fg := rig(t)
	if err := fg.SetFunction("SIN"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := c.tx.String(); got != "FUNC:SHAP SIN\n" {
		t.Errorf("expected FUNC:SHAP SIN, got %q", got)
	}
}

func TestGetFrequencyParsesExponent(t *testing.T) {
	_, fg := rig(t, "2.5E+03\n")
	hz, err := fg.GetFrequency()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if hz != 2500 {
		t.Errorf("expected 2500, got %v", hz)
	}
}

func TestGetOutput(t *testing.T) {
	c, fg := rig(t, "1\n")
	on, err := fg.GetOutput()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !on {
		t.Error("expected output on")
	}
	if !strings.Contains(c.tx.String(), "OUTP?\n") {
		t.Errorf("expected OUTP? on the wire, got %q", c.tx.String())
	}
}

func TestEnableDisableOutput(t *testing.T) {
	c, fg := rig(t)
	if err := fg.EnableOutput(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := fg.DisableOutput(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := c.tx.String(); got != "OUTP ON\nOUTP OFF\n" {
		t.Errorf("unexpected wire traffic %q", got)
	}
}
