package at

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedString(p *parser, s string) {
	for i := 0; i < len(s); i++ {
		p.feed(s[i])
	}
}

func TestParserLineAssembly(t *testing.T) {
	patterns := []struct {
		name string
		in   string
		want []string
	}{
		{"crlf", "OK\r\n", []string{"OK"}},
		{"cr only", "OK\r", []string{"OK"}},
		{"lf only", "OK\n", []string{"OK"}},
		{"two lines", "+CSQ: 20,99\r\nOK\r\n", []string{"+CSQ: 20,99", "OK"}},
		{"blank lines collapsed", "\r\n\r\nOK\r\n", []string{"OK"}},
	}
	for _, p := range patterns {
		t.Run(p.name, func(t *testing.T) {
			var got []string
			parser := newParser(func(u unit) {
				require.Equal(t, unitLine, u.kind)
				got = append(got, u.line)
			})
			feedString(parser, p.in)
			assert.Equal(t, p.want, got)
		})
	}
}

func TestParserDataPrompt(t *testing.T) {
	var got []string
	parser := newParser(func(u unit) { got = append(got, u.line) })
	parser.dataPrompt = "> "
	feedString(parser, "AT+CMGS=5\r\n> ")
	assert.Equal(t, []string{"AT+CMGS=5", "> "}, got)
}

func TestParserHexPayload(t *testing.T) {
	var units []unit
	parser := newParser(func(u unit) { units = append(units, u) })
	feedString(parser, "+QIRD: 3\r\n")
	require.Len(t, units, 1)
	parser.beginHexPayload(3)
	feedString(parser, "0A1B2C")
	require.Len(t, units, 2)
	assert.Equal(t, unitHexPayload, units[1].kind)
	assert.Equal(t, []byte{0x0A, 0x1B, 0x2C}, units[1].data)
}

func TestParserHexPayloadTruncated(t *testing.T) {
	var units []unit
	parser := newParser(func(u unit) { units = append(units, u) })
	feedString(parser, "+QIRD: 3\r\n")
	require.Len(t, units, 1)
	parser.beginHexPayload(3)
	// Only one byte's worth of hex digits arrive before the modem moves on
	// to an ordinary line; the payload is emitted short and the parser
	// recovers in line mode rather than waiting forever for bytes that
	// never come.
	feedString(parser, "0AOK\r\n")
	require.Len(t, units, 3)
	assert.Equal(t, unitHexPayload, units[1].kind)
	assert.Equal(t, []byte{0x0A}, units[1].data)
	assert.Equal(t, unitLine, units[2].kind)
	assert.Equal(t, "OK", units[2].line)
}

func TestParserHexPayloadWhitespaceTolerated(t *testing.T) {
	var units []unit
	parser := newParser(func(u unit) { units = append(units, u) })
	parser.beginHexPayload(2)
	feedString(parser, "0A \r\n1B")
	require.Len(t, units, 1)
	assert.Equal(t, unitHexPayload, units[0].kind)
	assert.Equal(t, []byte{0x0A, 0x1B}, units[0].data)
}

func TestParserRawPayload(t *testing.T) {
	var units []unit
	parser := newParser(func(u unit) { units = append(units, u) })
	parser.beginRawPayload(4)
	for _, b := range []byte{1, 2, 3, 4} {
		parser.feed(b)
	}
	require.Len(t, units, 1)
	assert.Equal(t, unitRawPayload, units[0].kind)
	assert.Equal(t, []byte{1, 2, 3, 4}, units[0].data)
	// parser is back in line mode afterwards
	feedString(parser, "OK\r\n")
	require.Len(t, units, 2)
	assert.Equal(t, "OK", units[1].line)
}

func TestParserCharacterHandler(t *testing.T) {
	var got []string
	parser := newParser(func(u unit) { got = append(got, u.line) })
	// swallow every '#' and stop after the first one seen.
	swallowed := false
	parser.setCharacterHandler(func(ch byte, soFar []byte, arg interface{}) (byte, bool, bool) {
		if ch == '#' && !swallowed {
			swallowed = true
			return ch, false, true
		}
		return ch, true, false
	}, nil)
	feedString(parser, "#OK\r\n")
	assert.Equal(t, []string{"OK"}, got)
}

func TestParserReset(t *testing.T) {
	var got []string
	parser := newParser(func(u unit) { got = append(got, u.line) })
	feedString(parser, "partial line no terminator")
	parser.reset()
	feedString(parser, "OK\r\n")
	assert.Equal(t, []string{"OK"}, got)
}
