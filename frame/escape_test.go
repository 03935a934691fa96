package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"A\nB", `A\nB`},
		{"tab\there", `tab\there`},
		{"cr\r", `cr\r`},
		{"\x00\x01\x1f", `\x00\x01\x1f`},
		{"\x1b[0m", `\x1b[0m`},
		{"plain text 123_!", "plain text 123_!"},
		{"\x7f\xff", "\x7f\xff"},
		{"", ""},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, Escape([]byte(tt.in)), "input %q", tt.in)
	}
}

func TestEscape_NoControlBytes(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}

	out := Escape(all)
	for i := 0; i < len(out); i++ {
		require.GreaterOrEqual(t, out[i], byte(32), "control byte at %d in %q", i, out)
	}
}
