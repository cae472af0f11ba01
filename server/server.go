// Package server contains the JSON envelope shared by the HTTP layers.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
)

// FloatT is a struct holding a single float64, used for JSON body encoding
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct holding a single int, used for JSON body encoding
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct holding a single string, used for JSON body encoding
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct holding a single bool, used for JSON body encoding
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload holds one primitive value tagged with its type.  It
// encodes to the same single-key JSON documents the typed structs
// decode from, so clients see symmetric requests and replies.
type HumanPayload struct {
	// T holds the type of the data
	T types.BasicKind

	// Bool holds a bool
	Bool bool

	// Int holds an int
	Int int

	// Float holds a float64
	Float float64

	// String holds a string
	String string
}

// EncodeAndRespond writes the payload to w as JSON keyed by its type,
// e.g. {"f64": 3.14} for a Float64 payload
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	switch hp.T {
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	default:
		http.Error(w, fmt.Sprintf("payload type %v not encodable", hp.T), http.StatusInternalServerError)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
