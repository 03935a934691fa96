package frame

import (
	"fmt"
	"strings"
)

// Escape renders arbitrary bytes as a printable diagnostic string.
// Tab, newline and carriage return become \t, \n and \r; other control
// bytes become \xNN; everything else is copied as is.
func Escape(p []byte) string {
	var sb strings.Builder
	sb.Grow(len(p))
	for _, c := range p {
		switch c {
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if c < 32 {
				fmt.Fprintf(&sb, `\x%02x`, c)
			} else {
				sb.WriteByte(c)
			}
		}
	}
	return sb.String()
}
