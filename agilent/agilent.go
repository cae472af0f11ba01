// Package agilent provides an interface to agilent test and measurement equipment
package agilent

import (
	"strconv"
	"time"

	"github.com/tarm/serial"

	"github.com/nasa-jpl/gopulser/comm"
	"github.com/nasa-jpl/gopulser/scpi"
)

// makeSerConf makes a new serial.Config with correct parity, baud, etc, set.
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        57600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 10 * time.Minute}
}

// FunctionGenerator is an interface to hardware of the same name
type FunctionGenerator struct {
	scpi.SCPI
}

// NewFunctionGenerator creates a new FunctionGenerator instance with
// the communication set up
func NewFunctionGenerator(addr string, serialConn bool) *FunctionGenerator {
	var maker comm.CreationFunc
	if serialConn {
		maker = comm.SerialConnMaker(makeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 1*time.Second)
	}
	pool := comm.NewPool(1, time.Hour, maker)
	return &FunctionGenerator{SCPI: scpi.SCPI{Pool: pool, Handshaking: true}}
}

// SetFunction configures the output function used by the generator
func (f *FunctionGenerator) SetFunction(fcn string) error {
	return f.Write("FUNC:SHAP", fcn)
}

// GetFunction returns the current function type used by the generator
func (f *FunctionGenerator) GetFunction() (string, error) {
	return f.ReadString("FUNC:SHAP?")
}

// SetFrequency configures the output frequency of the generator in Hz
func (f *FunctionGenerator) SetFrequency(hz float64) error {
	s := strconv.FormatFloat(hz, 'G', -1, 64)
	return f.Write("FREQ", s)
}

// GetFrequency returns the frequency of the generator in Hz
func (f *FunctionGenerator) GetFrequency() (float64, error) {
	return f.ReadFloat("FREQ?")
}

// SetVoltage configures the output voltage (Vpp) of the signal
func (f *FunctionGenerator) SetVoltage(volts float64) error {
	s := strconv.FormatFloat(volts, 'G', -1, 64)
	return f.Write("VOLT", s, "VPP")
}

// GetVoltage returns the current output voltage of the generator
func (f *FunctionGenerator) GetVoltage() (float64, error) {
	return f.ReadFloat("VOLT?")
}

// SetOffset configures the output voltage offset
func (f *FunctionGenerator) SetOffset(volts float64) error {
	s := strconv.FormatFloat(volts, 'G', -1, 64)
	return f.Write("VOLT:OFFSET", s)
}

// GetOffset gets the current voltage offset
func (f *FunctionGenerator) GetOffset() (float64, error) {
	return f.ReadFloat("VOLT:OFFSET?")
}

// SetOutputLoad configures the adjustments inside the generator for the
// impedance of the load circuit
func (f *FunctionGenerator) SetOutputLoad(ohms float64) error {
	s := strconv.FormatFloat(ohms, 'G', -1, 64)
	return f.Write("OUTP:LOAD", s)
}

// EnableOutput enables the output on the front connector of the function generator
func (f *FunctionGenerator) EnableOutput() error {
	return f.Write("OUTP ON")
}

// DisableOutput disables the output on the front connector of the function generator
func (f *FunctionGenerator) DisableOutput() error {
	return f.Write("OUTP OFF")
}

// GetOutput returns True if the generator is currently outputting a signal
func (f *FunctionGenerator) GetOutput() (bool, error) {
	return f.ReadBool("OUTP?")
}
