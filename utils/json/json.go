// Package json allows for different implementations of JSON serializing. The
// default driver is github.com/goccy/go-json, which is API-compatible with
// encoding/json.
package json

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// Driver is a JSON implementation.
type Driver interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	DecodeStream(r io.Reader, v interface{}) error
}

// GoJSON is the Driver backed by goccy/go-json.
type GoJSON struct{}

func (GoJSON) Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

func (GoJSON) Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

func (GoJSON) DecodeStream(r io.Reader, v interface{}) error {
	return gojson.NewDecoder(r).Decode(v)
}

// Default is the driver used by the package-level functions.
var Default Driver = GoJSON{}

// Marshal uses the default driver.
func Marshal(v interface{}) ([]byte, error) {
	return Default.Marshal(v)
}

// Unmarshal uses the default driver.
func Unmarshal(data []byte, v interface{}) error {
	return Default.Unmarshal(data, v)
}

// DecodeStream uses the default driver.
func DecodeStream(r io.Reader, v interface{}) error {
	return Default.DecodeStream(r, v)
}
