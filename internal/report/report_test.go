package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/go-sensor-termio/driver"
	"github.com/luhtfiimanal/go-sensor-termio/frame"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLogReporter_Report(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(zerolog.New(&buf))

	r.Report(driver.Outcome{Kind: driver.KindReading, Cycle: 1,
		Reading: frame.Reading{SensorID: 3, MeasureID: 7, Value: 12.5}})
	r.Report(driver.Outcome{Kind: driver.KindMalformed, Cycle: 2,
		Raw: []byte("Garb\x01age\n"), Length: 9, Err: frame.ErrMalformed})
	r.Report(driver.Outcome{Kind: driver.KindTimedOut, Cycle: 3, Elapsed: 620 * time.Millisecond})
	r.Report(driver.Outcome{Kind: driver.KindOverflowed, Cycle: 4, Length: driver.Capacity})
	r.Report(driver.Outcome{Kind: driver.KindCancelled, Cycle: 5})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 5)

	require.Equal(t, "info", lines[0]["level"])
	require.Equal(t, "3 7 0012.500", lines[0]["message"])
	require.EqualValues(t, 3, lines[0]["sensor"])
	require.EqualValues(t, 7, lines[0]["measure"])
	require.EqualValues(t, 12.5, lines[0]["value"])

	require.Equal(t, "warn", lines[1]["level"])
	require.Equal(t, `Garb\x01age\n`, lines[1]["raw"])
	require.Contains(t, lines[1]["error"], "malformed")

	require.Equal(t, "warn", lines[2]["level"])
	require.EqualValues(t, 620, lines[2]["elapsed"])

	require.Equal(t, "warn", lines[3]["level"])
	require.EqualValues(t, driver.Capacity, lines[3]["length"])

	require.Equal(t, "info", lines[4]["level"])
	require.EqualValues(t, 5, lines[4]["cycle"])
}

func TestFanout(t *testing.T) {
	var a, b []driver.Kind
	f := Fanout{
		driver.ReporterFunc(func(o driver.Outcome) { a = append(a, o.Kind) }),
		driver.ReporterFunc(func(o driver.Outcome) { b = append(b, o.Kind) }),
	}
	f.Report(driver.Outcome{Kind: driver.KindReading})
	f.Report(driver.Outcome{Kind: driver.KindCancelled})

	want := []driver.Kind{driver.KindReading, driver.KindCancelled}
	require.Equal(t, want, a)
	require.Equal(t, want, b)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	require.Equal(t, "shown", lines[0]["message"])
	require.Contains(t, lines[0], "time")

	buf.Reset()
	l, err = NewLogger(&buf, "debug", "console")
	require.NoError(t, err)
	l.Debug().Str("device", "/dev/ttyS0").Msg("console line")
	require.Contains(t, buf.String(), "console line")
	require.Contains(t, buf.String(), "/dev/ttyS0")

	_, err = NewLogger(&buf, "loud", "json")
	require.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	require.Error(t, err)
}

func TestLogReporter_MalformedWithoutErr(t *testing.T) {
	var buf bytes.Buffer
	NewLogReporter(zerolog.New(&buf)).Report(driver.Outcome{Kind: driver.KindMalformed, Raw: []byte("x")})
	require.NotContains(t, buf.String(), `"error"`)
	require.Contains(t, buf.String(), `"raw":"x"`)
}
