package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nasa-jpl/gopulser/agilent"
	"github.com/nasa-jpl/gopulser/awg"
	"github.com/nasa-jpl/gopulser/generichttp"
	"github.com/nasa-jpl/gopulser/generichttp/ascii"
	httpawg "github.com/nasa-jpl/gopulser/generichttp/awg"
	"github.com/nasa-jpl/gopulser/generichttp/tmc"
	"github.com/nasa-jpl/gopulser/keysight"
	"github.com/nasa-jpl/gopulser/server/middleware/locker"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-yaml/yaml"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ObjSetup holds the typical triplet of args for a New<device> call.
// Serial is not always used, and need not be populated in the config file
// if not used.
type ObjSetup struct {
	// Addr holds the network or bus address of the remote device,
	// e.g. 192.168.100.123:5025 for a VISA socket, usb:0957:1b8d for a
	// USBTMC instrument, or /dev/ttyS4 for an RS232 device on a serial
	// cable
	Addr string `yaml:"Addr"`

	// Endpoint is the final "directory" to put object functionality under,
	// ex. Endpoint="/nv/awg" will produce routes of /nv/awg/waveform, etc.
	Endpoint string `yaml:"Endpoint"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial"`

	// Type is the "type" of the object, e.g. m8190
	Type string `yaml:"Type"`

	// Args holds any arguments to pass into the constructor for the object
	Args map[string]interface{} `yaml:"Args"`
}

// Config is a struct that holds the initialization parameters for various
// HTTP adapted devices.  It is to be populated by a yaml/unmarshal call.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock backs every AWG node with an in-memory device
	Mock bool `yaml:"Mock"`

	// Nodes is the list of nodes to set up
	Nodes []ObjSetup `yaml:"Nodes"`
}

// LoadYaml converts a (path to a) yaml file into a Config struct
func LoadYaml(path string) (Config, error) {
	cfg := Config{}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}

	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

// intArg reads an integer constructor argument, tolerating the float64
// that some decoders produce for YAML numbers
func intArg(args map[string]interface{}, key string, fallback int) int {
	if args == nil {
		return fallback
	}
	switch n := args[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return fallback
}

func strArg(args map[string]interface{}, key, fallback string) string {
	if args == nil {
		return fallback
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return fallback
}

func boolArg(args map[string]interface{}, key string, fallback bool) bool {
	if args == nil {
		return fallback
	}
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func floatArg(args map[string]interface{}, key string, fallback float64) float64 {
	if args == nil {
		return fallback
	}
	switch n := args[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return fallback
}

// pacer converts a PaceMBps argument into a byte rate limiter for bulk
// binary writes; the burst matches the write chunking
func pacer(args map[string]interface{}) *rate.Limiter {
	mbps := floatArg(args, "PaceMBps", 0)
	if mbps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(mbps*1e6), 64*1024)
}

// initDevice runs the optional power-on setup for a node.  A failure is
// logged and playback setup continues with the instrument as found.
func initDevice(init func() error, lg zerolog.Logger) {
	if err := init(); err != nil {
		lg.Error().Err(err).Msg("initialization failed, continuing with the instrument as found")
	}
}

// BuildMux builds a chi router from the configured nodes.  The mux serves
// a special route, /endpoints, which returns a map of all mounted routes
// as JSON.
func BuildMux(c Config) chi.Router {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	awg.Log = logger.With().Str("component", "codec").Logger()

	// make the root handler
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	// for every node specified, build a submux
	for _, node := range c.Nodes {
		var httper generichttp.HTTPer
		typ := strings.ToLower(node.Type)
		nodeLog := logger.With().Str("node", node.Endpoint).Str("type", typ).Logger()
		switch typ {

		case "m8190", "keysight-m8190":
			var p awg.Pulser
			if c.Mock {
				p = awg.NewMock()
			} else {
				bits := uint(intArg(node.Args, "Bits", 14))
				d, err := keysight.NewM8190A(node.Addr, bits)
				if err != nil {
					log.Fatal(err)
				}
				d.Log = nodeLog
				d.Pace = pacer(node.Args)
				if boolArg(node.Args, "Initialize", false) {
					initDevice(d.Initialize, nodeLog)
				}
				p = d
			}
			httper = httpawg.NewHTTPPulser(p)
			if rc, ok := p.(ascii.RawCommunicator); ok {
				ascii.InjectRawComm(httper.RT(), rc)
			}

		case "m8195", "keysight-m8195":
			var p awg.Pulser
			if c.Mock {
				p = awg.NewMock()
			} else {
				mode := strArg(node.Args, "DACMode", "SING")
				div := intArg(node.Args, "Divider", 1)
				d, err := keysight.NewM8195A(node.Addr, mode, div)
				if err != nil {
					log.Fatal(err)
				}
				d.Log = nodeLog
				d.Pace = pacer(node.Args)
				if boolArg(node.Args, "Initialize", false) {
					initDevice(d.Initialize, nodeLog)
				}
				p = d
			}
			httper = httpawg.NewHTTPPulser(p)
			if rc, ok := p.(ascii.RawCommunicator); ok {
				ascii.InjectRawComm(httper.RT(), rc)
			}

		case "agilent-function-generator", "33250a":
			if c.Mock {
				log.Fatal("agilent function generator mock interface is not yet implemented")
			}
			gen := agilent.NewFunctionGenerator(node.Addr, node.Serial)
			httper = tmc.NewHTTPFunctionGenerator(gen)

		default:
			log.Fatal("type ", typ, " not understood")
		}

		// prepare the URL, "nv/awg" => "/nv/awg/*"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)

		// add the endpoints to the graph
		supergraph[hndlS] = httper.RT().Endpoints()

		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(httper, lock)

		// bind to the mux
		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
