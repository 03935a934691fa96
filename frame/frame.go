// Package frame decodes the sensor's single-line response format.
//
// A well-formed frame is
//
//	StringFromSensor<sensor>_<measure>_<value>
//
// where sensor and measure are unsigned decimal integers and value is a
// floating point literal. Nothing else may appear on the line.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Prefix is the literal every frame starts with.
const Prefix = "StringFromSensor"

// ErrMalformed is wrapped by every Parse failure.
var ErrMalformed = errors.New("malformed frame")

// Reading is one decoded sensor value.
type Reading struct {
	SensorID  uint32  `json:"sensor_id"`
	MeasureID uint32  `json:"measure_id"`
	Value     float64 `json:"value"`
}

// String formats the reading the way the device console prints it.
func (r Reading) String() string {
	return fmt.Sprintf("%d %d %08.3f", r.SensorID, r.MeasureID, r.Value)
}

// Parse decodes one line. A single trailing newline is accepted.
func Parse(line []byte) (Reading, error) {
	line = bytes.TrimSuffix(line, []byte{'\n'})

	rest, ok := bytes.CutPrefix(line, []byte(Prefix))
	if !ok {
		return Reading{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, Prefix)
	}

	sensorField, rest, ok := bytes.Cut(rest, []byte{'_'})
	if !ok {
		return Reading{}, fmt.Errorf("%w: missing separator after sensor id", ErrMalformed)
	}
	measureField, valueField, ok := bytes.Cut(rest, []byte{'_'})
	if !ok {
		return Reading{}, fmt.Errorf("%w: missing separator after measure id", ErrMalformed)
	}

	sensor, err := parseUint(sensorField)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: sensor id: %w", ErrMalformed, err)
	}
	measure, err := parseUint(measureField)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: measure id: %w", ErrMalformed, err)
	}
	value, err := parseValue(valueField)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: value: %w", ErrMalformed, err)
	}

	return Reading{SensorID: sensor, MeasureID: measure, Value: value}, nil
}

// parseUint accepts decimal digits only: no sign, no spaces, no base prefix.
func parseUint(b []byte) (uint32, error) {
	if len(b) == 0 {
		return 0, errors.New("empty")
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("unexpected character %q", c)
		}
	}
	v, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseValue(b []byte) (float64, error) {
	if len(b) == 0 {
		return 0, errors.New("empty")
	}
	// ParseFloat would take '_' as a digit separator
	if bytes.IndexByte(b, '_') >= 0 {
		return 0, fmt.Errorf("unexpected character %q", '_')
	}
	// ParseFloat rejects surrounding whitespace and any trailing garbage
	return strconv.ParseFloat(string(b), 64)
}
