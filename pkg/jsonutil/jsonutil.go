// Package jsonutil wraps github.com/go-json-experiment/json with the
// options vulnscan relies on: map keys are always sorted so the same
// value encodes to the same bytes, and nil slices encode as [] rather
// than null.
//
// Usage:
//
//	data, err := jsonutil.Marshal(report)
//	err = jsonutil.Write(w, report, "  ")
package jsonutil

import (
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

var deterministic = json.Deterministic(true)

// Marshal returns the deterministic JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v, deterministic)
}

// MarshalIndent is Marshal with each level indented by indent.
func MarshalIndent(v any, indent string) ([]byte, error) {
	return json.Marshal(v, deterministic, jsontext.WithIndent(indent))
}

// Unmarshal parses data into v. Unknown object members are ignored.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// UnmarshalStrict parses data into v and rejects unknown object members.
// Used for request bodies, where a typo should fail loudly.
func UnmarshalStrict(data []byte, v any) error {
	return json.Unmarshal(data, v, json.RejectUnknownMembers(true))
}

// Write encodes v to w followed by a newline. An empty indent writes a
// single line.
func Write(w io.Writer, v any, indent string) error {
	var err error
	if indent != "" {
		err = json.MarshalWrite(w, v, deterministic, jsontext.WithIndent(indent))
	} else {
		err = json.MarshalWrite(w, v, deterministic)
	}
	if err != nil {
		return err
	}
	_, err = w.Write([]byte{'\n'})
	return err
}

// Read decodes a single JSON value from r into v.
func Read(r io.Reader, v any) error {
	return json.UnmarshalRead(r, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return jsontext.Value(data).IsValid()
}
