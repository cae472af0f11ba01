// Package tmc provides an HTTP interface to test and measurement devices
package tmc

import (
	"net/http"

	"github.com/nasa-jpl/gopulser/generichttp"
)

// FunctionGenerator describes an interface to a function generator
type FunctionGenerator interface {
	// SetFunctions sets the function
	SetFunction(string) error

	// GetFunction returns the current function type used
	GetFunction() (string, error)

	// SetFrequency configures the frequency of the output waveform
	SetFrequency(float64) error

	// GetFrequency gets the frequency of the output waveform
	GetFrequency() (float64, error)

	// SetVoltage configures the voltage of the output waveform
	SetVoltage(float64) error

	// GetVoltage retrieves the voltage of the output waveform
	GetVoltage() (float64, error)

	// SetOffset configures the offset of the output waveform
	SetOffset(float64) error

	// GetOffset retrieves the offset of the output waveform
	GetOffset() (float64, error)

	// EnableOutput begins outputting the signal on the output connector
	EnableOutput() error

	// DisableOutput ceases output on the output connector
	DisableOutput() error

	// GetOutput queries if the generator output is active
	GetOutput() (bool, error)
}

// HTTPFunctionGenerator wraps a function generator in an HTTP route table
type HTTPFunctionGenerator struct {
	FG FunctionGenerator

	RouteTable generichttp.RouteTable
}

// NewHTTPFunctionGenerator wraps a function generator in an HTTP interface
func NewHTTPFunctionGenerator(fg FunctionGenerator) HTTPFunctionGenerator {
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/function"}:   GetFunction(fg),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/function"}:  SetFunction(fg),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/frequency"}:  GetFrequency(fg),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/frequency"}: SetFrequency(fg),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/voltage"}:    GetVoltage(fg),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/voltage"}:   SetVoltage(fg),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/offset"}:     GetOffset(fg),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/offset"}:    SetOffset(fg),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/output"}:     GetOutput(fg),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/output"}:    SetOutput(fg),
	}
	return HTTPFunctionGenerator{FG: fg, RouteTable: rt}
}

// RT satisfies generichttp.HTTPer
func (h HTTPFunctionGenerator) RT() generichttp.RouteTable {
	return h.RouteTable
}

// SetFunction exposes an HTTP interface to the SetFunction method
func SetFunction(fg FunctionGenerator) http.HandlerFunc {
	return generichttp.SetString(fg.SetFunction)
}

// GetFunction exposes an HTTP interface to the GetFunction method
func GetFunction(fg FunctionGenerator) http.HandlerFunc {
	return generichttp.GetString(fg.GetFunction)
}

// SetFrequency exposes an HTTP interface to the SetFrequency method
func SetFrequency(fg FunctionGenerator) http.HandlerFunc {
	return generichttp.SetFloat(fg.SetFrequency)
}

// GetFrequency exposes an HTTP interface to the GetFrequency method
func GetFrequency(fg FunctionGenerator) http.HandlerFunc {
	return generichttp.GetFloat(fg.GetFrequency)
}

// SetVoltage exposes an HTTP interface to the SetVoltage method
func SetVoltage(fg FunctionGenerator) http.HandlerFunc {
	return generichttp.SetFloat(fg.SetVoltage)
}

// GetVoltage exposes an HTTP interface to the GetVoltage method
func GetVoltage(fg FunctionGenerator) http.HandlerFunc {
	return generichttp.GetFloat(fg.GetVoltage)
}

// SetOffset exposes an HTTP interface to the SetOffset method
func SetOffset(fg FunctionGenerator) http.HandlerFunc {
	return generichttp.SetFloat(fg.SetOffset)
}

// GetOffset exposes an HTTP interface to the GetOffset method
func GetOffset(fg FunctionGenerator) http.HandlerFunc {
	return generichttp.GetFloat(fg.GetOffset)
}

// SetOutput exposes an HTTP interface to the Output control methods
func SetOutput(fg FunctionGenerator) http.HandlerFunc {
	return generichttp.SetBool(func(b bool) error {
		if b {
			return fg.EnableOutput()
		}
		return fg.DisableOutput()
	})
}

// GetOutput exposes an HTTP interface to the GetOutput method
func GetOutput(fg FunctionGenerator) http.HandlerFunc {
	return generichttp.GetBool(fg.GetOutput)
}
