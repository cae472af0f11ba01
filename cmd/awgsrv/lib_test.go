package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func mockServer() *httptest.Server {
	c := Config{
		Addr: ":8000",
		Mock: true,
		Nodes: []ObjSetup{
			{Endpoint: "nv/awg", Type: "m8190"},
			{Endpoint: "nv/awg2", Type: "m8195"},
		},
	}
	return httptest.NewServer(BuildMux(c))
}

func TestBuildMuxServesEndpointsGraph(t *testing.T) {
	srv := mockServer()
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/endpoints")
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	defer resp.Body.Close()
	graph := map[string][]string{}
	err = json.NewDecoder(resp.Body).Decode(&graph)
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	for _, mount := range []string{"/nv/awg/*", "/nv/awg2/*"} {
		eps, ok := graph[mount]
		if !ok {
			t.Fatalf("expected %s in graph got %v", mount, graph)
		}
		found := false
		for _, ep := range eps {
			if ep == "GET /constraints" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected GET /constraints under %s got %v", mount, eps)
		}
	}
}

func TestBuildMuxRoutesToMockNode(t *testing.T) {
	srv := mockServer()
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/nv/awg/sample-rate")
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	rate := struct {
		F64 float64 `json:"f64"`
	}{}
	err = json.NewDecoder(resp.Body).Decode(&rate)
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	if rate.F64 != 8e9 {
		t.Errorf("expected 8e9 got %g", rate.F64)
	}
}

func TestBuildMuxLockProtectsNode(t *testing.T) {
	srv := mockServer()
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/nv/awg/lock", "application/json", strings.NewReader(`{"bool": true}`))
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	resp.Body.Close()
	resp, err = http.Post(srv.URL+"/nv/awg/run", "application/json", nil)
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusLocked {
		t.Errorf("expected 423 got %d", resp.StatusCode)
	}
	resp, err = http.Post(srv.URL+"/nv/awg/lock", "application/json", strings.NewReader(`{"bool": false}`))
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	resp.Body.Close()
	resp, err = http.Post(srv.URL+"/nv/awg/run", "application/json", nil)
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 got %d", resp.StatusCode)
	}
	// the other node's lock is independent
	resp, err = http.Get(srv.URL + "/nv/awg2/running")
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 got %d", resp.StatusCode)
	}
}

func TestBuildMuxInjectsRawOnMockNodes(t *testing.T) {
	srv := mockServer()
	defer srv.Close()
	resp, err := http.Post(srv.URL+"/nv/awg/raw", "application/json", strings.NewReader(`{"str": "*IDN?"}`))
	if err != nil {
		t.Fatalf("expected nil error got %v", err)
	}
	resp.Body.Close()
	// the mock has no transport behind Raw, so the route exists but errors
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 got %d", resp.StatusCode)
	}
}

func TestArgHelpersTolerateDecoderTypes(t *testing.T) {
	args := map[string]interface{}{
		"Bits":    float64(12),
		"Divider": 2,
		"DACMode": "DUAL",
		"Init":    true,
	}
	if got := intArg(args, "Bits", 14); got != 12 {
		t.Errorf("expected 12 got %d", got)
	}
	if got := intArg(args, "Divider", 1); got != 2 {
		t.Errorf("expected 2 got %d", got)
	}
	if got := intArg(args, "Missing", 7); got != 7 {
		t.Errorf("expected 7 got %d", got)
	}
	if got := strArg(args, "DACMode", "SING"); got != "DUAL" {
		t.Errorf("expected DUAL got %s", got)
	}
	if got := strArg(nil, "DACMode", "SING"); got != "SING" {
		t.Errorf("expected SING got %s", got)
	}
	if !boolArg(args, "Init", false) {
		t.Errorf("expected true")
	}
	if got := floatArg(args, "Divider", 0); got != 2 {
		t.Errorf("expected 2 got %g", got)
	}
	if got := floatArg(args, "Missing", 1.5); got != 1.5 {
		t.Errorf("expected 1.5 got %g", got)
	}
}

func TestPacerOnlyBuiltWhenAsked(t *testing.T) {
	if p := pacer(nil); p != nil {
		t.Errorf("expected nil limiter without PaceMBps, got %v", p)
	}
	p := pacer(map[string]interface{}{"PaceMBps": 10.0})
	if p == nil {
		t.Fatal("expected a limiter for PaceMBps 10, got nil")
	}
	if p.Limit() != 10e6 {
		t.Errorf("expected 10e6 bytes per second, got %v", p.Limit())
	}
}
