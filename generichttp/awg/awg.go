// Package awg exposes arbitrary waveform generators over HTTP
package awg

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/gopulser/awg"
	"github.com/nasa-jpl/gopulser/generichttp"
	"github.com/nasa-jpl/gopulser/server"
)

// WaveformUpload is the POST /waveform body.  Total may be omitted, in
// which case it is taken from the longest analog array.
type WaveformUpload struct {
	Name    string               `json:"name"`
	Analog  map[string][]float64 `json:"analog"`
	Digital map[string][]bool    `json:"digital"`
	Total   int                  `json:"total"`
}

// SequenceUpload is the POST /sequence body
type SequenceUpload struct {
	Name  string             `json:"name"`
	Steps []awg.SequenceStep `json:"steps"`
}

// WriteReply reports a completed waveform write
type WriteReply struct {
	Samples int      `json:"samples"`
	Names   []string `json:"names"`
}

// NamesReply carries a list of asset names
type NamesReply struct {
	Names []string `json:"names"`
}

// AssetsReply reports the per-channel loaded assets and their kind
type AssetsReply struct {
	Assets map[int]string `json:"assets"`
	Kind   string         `json:"kind"`
}

// httpError maps the error taxonomy onto status codes: input rejections
// are the caller's fault, missing assets are 404, everything else is the
// device's or our own
func httpError(w http.ResponseWriter, err error) {
	switch {
	case awg.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case awg.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func encodeJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(obj)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetConstraints exposes the hardware limits
func GetConstraints(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encodeJSON(w, p.Constraints())
	}
}

// GetState exposes a snapshot of the mutable device state
func GetState(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := awg.Snapshot(p)
		if err != nil {
			httpError(w, err)
			return
		}
		encodeJSON(w, state)
	}
}

// WriteWaveform exposes an HTTP interface to the WriteWaveform method
func WriteWaveform(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		up := WaveformUpload{}
		err := json.NewDecoder(r.Body).Decode(&up)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if up.Total == 0 {
			for _, samples := range up.Analog {
				if len(samples) > up.Total {
					up.Total = len(samples)
				}
			}
		}
		samples, names, err := p.WriteWaveform(up.Name, up.Analog, up.Digital, up.Total)
		if err != nil {
			httpError(w, err)
			return
		}
		encodeJSON(w, WriteReply{Samples: samples, Names: names})
	}
}

// DeleteWaveform exposes an HTTP interface to the DeleteWaveform method.
// Deleting a name with no entries returns an empty list, not an error.
func DeleteWaveform(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		deleted, err := p.DeleteWaveform(name)
		if err != nil {
			httpError(w, err)
			return
		}
		encodeJSON(w, NamesReply{Names: deleted})
	}
}

// GetWaveformNames lists the written per-channel waveform names
func GetWaveformNames(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := p.WaveformNames()
		if err != nil {
			httpError(w, err)
			return
		}
		encodeJSON(w, NamesReply{Names: names})
	}
}

// GetWaveformExists reports whether a per-channel waveform name is written
func GetWaveformExists(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		exists, err := p.WaveformExists(name)
		if err != nil {
			httpError(w, err)
			return
		}
		hp := server.HumanPayload{T: types.Bool, Bool: exists}
		hp.EncodeAndRespond(w, r)
	}
}

// WriteSequence exposes an HTTP interface to the WriteSequence method
func WriteSequence(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		up := SequenceUpload{}
		err := json.NewDecoder(r.Body).Decode(&up)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		steps, err := p.WriteSequence(up.Name, up.Steps)
		if err != nil {
			httpError(w, err)
			return
		}
		hp := server.HumanPayload{T: types.Int, Int: steps}
		hp.EncodeAndRespond(w, r)
	}
}

// GetSequenceNames lists the written sequence names
func GetSequenceNames(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := p.SequenceNames()
		if err != nil {
			httpError(w, err)
			return
		}
		encodeJSON(w, NamesReply{Names: names})
	}
}

// LoadWaveform exposes an HTTP interface to the LoadWaveform method
func LoadWaveform(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := awg.LoadSpec{}
		err := json.NewDecoder(r.Body).Decode(&spec)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assets, err := p.LoadWaveform(spec)
		if err != nil {
			httpError(w, err)
			return
		}
		encodeJSON(w, AssetsReply{Assets: assets, Kind: awg.AssetWaveform})
	}
}

// LoadSequence exposes an HTTP interface to the LoadSequence method
func LoadSequence(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		str := server.StrT{}
		err := json.NewDecoder(r.Body).Decode(&str)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assets, err := p.LoadSequence(str.Str)
		if err != nil {
			httpError(w, err)
			return
		}
		encodeJSON(w, AssetsReply{Assets: assets, Kind: awg.AssetSequence})
	}
}

// GetLoadedAssets reports the per-channel loaded assets
func GetLoadedAssets(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assets, kind, err := p.LoadedAssets()
		if err != nil {
			httpError(w, err)
			return
		}
		encodeJSON(w, AssetsReply{Assets: assets, Kind: kind})
	}
}

// GetActiveChannels reports the channel activation state
func GetActiveChannels(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active, err := p.ActiveChannels()
		if err != nil {
			httpError(w, err)
			return
		}
		encodeJSON(w, active)
	}
}

// SetActiveChannels applies a channel activation and returns the state
// read back afterwards.  A rejected activation returns 400 and leaves
// the device unchanged.
func SetActiveChannels(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := map[string]bool{}
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		active, err := p.SetActiveChannels(req)
		if err != nil {
			httpError(w, err)
			return
		}
		encodeJSON(w, active)
	}
}

// ClearAll exposes an HTTP interface to the ClearAll method
func ClearAll(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := p.ClearAll()
		if err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Run exposes an HTTP interface to the Run method
func Run(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := p.Run()
		if err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Stop exposes an HTTP interface to the Stop method
func Stop(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := p.Stop()
		if err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetRunning reports whether the device is playing back
func GetRunning(p awg.Pulser) http.HandlerFunc {
	return generichttp.GetBool(p.Running)
}

// GetStatus reports the conventional status integer: 1 running, 0
// stopped, -1 failed request
func GetStatus(p awg.Pulser) http.HandlerFunc {
	return generichttp.GetInt(func() (int, error) {
		return awg.Status(p), nil
	})
}

// GetSampleRate reports the sample clock in Hz
func GetSampleRate(p awg.Pulser) http.HandlerFunc {
	return generichttp.GetFloat(p.SampleRate)
}

// SetSampleRate sets the sample clock and returns the rate the device
// actually settled on
func SetSampleRate(p awg.Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := server.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		actual, err := p.SetSampleRate(f.F64)
		if err != nil {
			httpError(w, err)
			return
		}
		hp := server.HumanPayload{T: types.Float64, Float: actual}
		hp.EncodeAndRespond(w, r)
	}
}

// HTTPPulser wraps a Pulser in an HTTP route table
type HTTPPulser struct {
	P awg.Pulser

	RouteTable generichttp.RouteTable
}

// NewHTTPPulser binds every Pulser operation to a route.  Devices with
// selectable trigger modes get /trigger-mode routes as well.
func NewHTTPPulser(p awg.Pulser) HTTPPulser {
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/constraints"}:            GetConstraints(p),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/state"}:                  GetState(p),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/waveform"}:              WriteWaveform(p),
		generichttp.MethodPath{Method: http.MethodDelete, Path: "/waveform/{name}"}:     DeleteWaveform(p),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/waveform/names"}:         GetWaveformNames(p),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/waveform/{name}/exists"}: GetWaveformExists(p),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/sequence"}:              WriteSequence(p),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/sequence/names"}:         GetSequenceNames(p),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/load/waveform"}:         LoadWaveform(p),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/load/sequence"}:         LoadSequence(p),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/assets"}:                 GetLoadedAssets(p),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/active-channels"}:        GetActiveChannels(p),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/active-channels"}:       SetActiveChannels(p),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/clear-all"}:             ClearAll(p),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/run"}:                   Run(p),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}:                  Stop(p),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/running"}:                GetRunning(p),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:                 GetStatus(p),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/sample-rate"}:            GetSampleRate(p),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/sample-rate"}:           SetSampleRate(p),
	}
	if tm, ok := p.(awg.TriggerModer); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/trigger-mode"}] = generichttp.GetString(tm.TriggerMode)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trigger-mode"}] = generichttp.SetString(tm.SetTriggerMode)
	}
	return HTTPPulser{P: p, RouteTable: rt}
}

// RT satisfies generichttp.HTTPer
func (h HTTPPulser) RT() generichttp.RouteTable {
	return h.RouteTable
}
