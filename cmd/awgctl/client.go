package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nasa-jpl/gopulser/awg"
	httpawg "github.com/nasa-jpl/gopulser/generichttp/awg"
	"github.com/nasa-jpl/gopulser/server"
)

// Client speaks to one AWG node of an awgsrv instance
type Client struct {
	// BaseURL is the node mount, e.g. http://localhost:8000/nv/awg
	BaseURL string

	HTTP *http.Client
}

// NewClient returns a client for the node mounted at baseURL.  The
// timeout is generous because waveform uploads move real data.
func NewClient(baseURL string) Client {
	return Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// roundTrip does one JSON exchange with the node.  body and into may be
// nil; a non-200 reply becomes an error carrying the server's message.
func (c Client) roundTrip(method, path string, body, into interface{}) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if into == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

// Status returns the conventional status integer: 1 running, 0 stopped,
// -1 failed request
func (c Client) Status() (int, error) {
	i := server.IntT{}
	err := c.roundTrip(http.MethodGet, "/status", nil, &i)
	return i.Int, err
}

// State returns a snapshot of the device state
func (c Client) State() (awg.DeviceState, error) {
	s := awg.DeviceState{}
	err := c.roundTrip(http.MethodGet, "/state", nil, &s)
	return s, err
}

// Constraints returns the hardware limits
func (c Client) Constraints() (awg.Constraints, error) {
	con := awg.Constraints{}
	err := c.roundTrip(http.MethodGet, "/constraints", nil, &con)
	return con, err
}

// WaveformNames lists the written per-channel waveform names
func (c Client) WaveformNames() ([]string, error) {
	names := httpawg.NamesReply{}
	err := c.roundTrip(http.MethodGet, "/waveform/names", nil, &names)
	return names.Names, err
}

// SequenceNames lists the written sequence names
func (c Client) SequenceNames() ([]string, error) {
	names := httpawg.NamesReply{}
	err := c.roundTrip(http.MethodGet, "/sequence/names", nil, &names)
	return names.Names, err
}

// WriteWaveform ships a waveform to the device
func (c Client) WriteWaveform(up httpawg.WaveformUpload) (httpawg.WriteReply, error) {
	reply := httpawg.WriteReply{}
	err := c.roundTrip(http.MethodPost, "/waveform", up, &reply)
	return reply, err
}

// DeleteWaveform removes every per-channel entry of a base name and
// returns what was deleted
func (c Client) DeleteWaveform(name string) ([]string, error) {
	reply := httpawg.NamesReply{}
	err := c.roundTrip(http.MethodDelete, "/waveform/"+url.PathEscape(name), nil, &reply)
	return reply.Names, err
}

// WriteSequence ships a sequence program and returns the number of steps
// written
func (c Client) WriteSequence(up httpawg.SequenceUpload) (int, error) {
	i := server.IntT{}
	err := c.roundTrip(http.MethodPost, "/sequence", up, &i)
	return i.Int, err
}

// LoadWaveforms arms written waveforms for playback by their per-channel
// names
func (c Client) LoadWaveforms(names []string) (httpawg.AssetsReply, error) {
	reply := httpawg.AssetsReply{}
	err := c.roundTrip(http.MethodPost, "/load/waveform", awg.LoadSpec{ByName: names}, &reply)
	return reply, err
}

// LoadSequence arms a written sequence for playback
func (c Client) LoadSequence(name string) (httpawg.AssetsReply, error) {
	reply := httpawg.AssetsReply{}
	err := c.roundTrip(http.MethodPost, "/load/sequence", server.StrT{Str: name}, &reply)
	return reply, err
}

// LoadedAssets reports what is armed for playback
func (c Client) LoadedAssets() (httpawg.AssetsReply, error) {
	reply := httpawg.AssetsReply{}
	err := c.roundTrip(http.MethodGet, "/assets", nil, &reply)
	return reply, err
}

// Run starts playback
func (c Client) Run() error {
	return c.roundTrip(http.MethodPost, "/run", nil, nil)
}

// Stop halts playback
func (c Client) Stop() error {
	return c.roundTrip(http.MethodPost, "/stop", nil, nil)
}

// ClearAll wipes device waveform and sequence memory
func (c Client) ClearAll() error {
	return c.roundTrip(http.MethodPost, "/clear-all", nil, nil)
}

// SampleRate reads the sample clock in Hz
func (c Client) SampleRate() (float64, error) {
	f := server.FloatT{}
	err := c.roundTrip(http.MethodGet, "/sample-rate", nil, &f)
	return f.F64, err
}

// SetSampleRate sets the sample clock and returns the rate the device
// settled on
func (c Client) SetSampleRate(v float64) (float64, error) {
	f := server.FloatT{}
	err := c.roundTrip(http.MethodPost, "/sample-rate", server.FloatT{F64: v}, &f)
	return f.F64, err
}

// TriggerMode reads the trigger mode
func (c Client) TriggerMode() (string, error) {
	s := server.StrT{}
	err := c.roundTrip(http.MethodGet, "/trigger-mode", nil, &s)
	return s.Str, err
}

// SetTriggerMode sets the trigger mode: cont, trig, or gate
func (c Client) SetTriggerMode(mode string) error {
	return c.roundTrip(http.MethodPost, "/trigger-mode", server.StrT{Str: mode}, nil)
}

// Raw sends a raw command to the device, returning the response for
// queries
func (c Client) Raw(cmd string) (string, error) {
	s := server.StrT{}
	err := c.roundTrip(http.MethodPost, "/raw", server.StrT{Str: cmd}, &s)
	return s.Str, err
}

// Endpoints returns the server's full route graph; it talks to the
// server root rather than the node mount
func (c Client) Endpoints() (map[string][]string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/endpoints"
	resp, err := c.HTTP.Get(u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET /endpoints: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	graph := map[string][]string{}
	err = json.NewDecoder(resp.Body).Decode(&graph)
	return graph, err
}
