package tmc_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/gopulser/generichttp/tmc"
)

// fakeFG is an in-memory function generator
type fakeFG struct {
	function  string
	frequency float64
	voltage   float64
	offset    float64
	output    bool
}

func (f *fakeFG) SetFunction(s string) error      { f.function = s; return nil }
func (f *fakeFG) GetFunction() (string, error)    { return f.function, nil }
func (f *fakeFG) SetFrequency(v float64) error    { f.frequency = v; return nil }
func (f *fakeFG) GetFrequency() (float64, error)  { return f.frequency, nil }
func (f *fakeFG) SetVoltage(v float64) error      { f.voltage = v; return nil }
func (f *fakeFG) GetVoltage() (float64, error)    { return f.voltage, nil }
func (f *fakeFG) SetOffset(v float64) error       { f.offset = v; return nil }
func (f *fakeFG) GetOffset() (float64, error)     { return f.offset, nil }
func (f *fakeFG) EnableOutput() error             { f.output = true; return nil }
func (f *fakeFG) DisableOutput() error            { f.output = false; return nil }
func (f *fakeFG) GetOutput() (bool, error)        { return f.output, nil }

func serveFG(fg tmc.FunctionGenerator) *httptest.Server {
	httper := tmc.NewHTTPFunctionGenerator(fg)
	r := chi.NewRouter()
	httper.RT().Bind(r)
	return httptest.NewServer(r)
}

func TestHTTPFunctionGeneratorRouteCount(t *testing.T) {
	httper := tmc.NewHTTPFunctionGenerator(&fakeFG{})
	eps := httper.RT().Endpoints()
	if len(eps) != 10 {
		t.Errorf("expected 10 endpoints got %d, %v", len(eps), eps)
	}
}

func TestSetFrequencyOverHTTP(t *testing.T) {
	fg := &fakeFG{}
	srv := serveFG(fg)
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/frequency", "application/json", strings.NewReader(`{"f64": 1e6}`))
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 got %d", resp.StatusCode)
	}
	if fg.frequency != 1e6 {
		t.Errorf("expected 1e6 got %g", fg.frequency)
	}
}

func TestGetFunctionOverHTTP(t *testing.T) {
	fg := &fakeFG{function: "SQU"}
	srv := serveFG(fg)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/function")
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	resp.Body.Close()
	body := strings.TrimSpace(string(buf[:n]))
	if body != `{"str":"SQU"}` {
		t.Errorf("expected {\"str\":\"SQU\"} got %s", body)
	}
}

func TestSetOutputtogglesEnableDisable(t *testing.T) {
	fg := &fakeFG{}
	srv := serveFG(fg)
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/output", "application/json", strings.NewReader(`{"bool": true}`))
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	resp.Body.Close()
	if !fg.output {
		t.Errorf("expected output enabled")
	}
	resp, err = http.Post(srv.URL+"/output", "application/json", strings.NewReader(`{"bool": false}`))
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	resp.Body.Close()
	if fg.output {
		t.Errorf("expected output disabled")
	}
}

func TestVoltageRoundTripOverHTTP(t *testing.T) {
	fg := &fakeFG{}
	srv := serveFG(fg)
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/voltage", "application/json", strings.NewReader(`{"f64": 0.25}`))
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	resp.Body.Close()
	resp, err = http.Get(srv.URL + "/voltage")
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	resp.Body.Close()
	body := strings.TrimSpace(string(buf[:n]))
	if body != `{"f64":0.25}` {
		t.Errorf("expected {\"f64\":0.25} got %s", body)
	}
}
