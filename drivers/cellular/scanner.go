package cellular

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudyourcar/atmodem/at"
)

// parseSocketStatus recognizes a socket status line of the form
// "<id>, CONNECT OK" / "<id>, CONNECT FAIL" / "<id>, ALREADY CONNECT" /
// "<id>, CLOSED", delivered as a URC independent of any command in
// flight.
func parseSocketStatus(line string) (id int, status socketStatus, ok bool) {
	comma := strings.Index(line, ", ")
	if comma != 1 {
		return 0, 0, false
	}
	n, err := strconv.Atoi(line[:1])
	if err != nil || n < 0 || n >= maxSockets {
		return 0, 0, false
	}
	switch line[comma+2:] {
	case "CONNECT OK":
		return n, socketConnected, true
	case "CONNECT FAIL", "ALREADY CONNECT", "CLOSED":
		return n, socketClosed, true
	}
	return 0, 0, false
}

// parseDataAvailable recognizes the "+CIPRXGET: 1,<id>" notification mode
// URC announcing that data has arrived for socket id without it having
// been read yet.
func parseDataAvailable(line string) (id int, ok bool) {
	var mode int
	if n, _ := fmt.Sscanf(line, "+CIPRXGET: %d,%d", &mode, &id); n == 2 && mode == 1 {
		return id, true
	}
	return 0, false
}

// scanLine is the channel-wide scanner installed by New: it recognizes the
// lines this driver treats as URCs, so they are delivered to handleURC
// instead of being accumulated into whatever command happens to be in
// flight.
func (m *Modem) scanLine(line string, _ interface{}) at.Classification {
	if _, _, ok := parseSocketStatus(line); ok {
		return at.Urc
	}
	if _, ok := parseDataAvailable(line); ok {
		return at.Urc
	}
	if strings.HasPrefix(line, "+PDP: DEACT") {
		return at.Urc
	}
	return at.Classification{}
}

// scanCIPStatus collects a +CIPSTATUS response past its leading OK, up to
// the "C: <n>" state line.
func scanCIPStatus(line string, _ interface{}) at.Classification {
	if line == "OK" {
		return at.Intermediate
	}
	if strings.HasPrefix(line, "C: ") {
		return at.Final
	}
	return at.Classification{}
}

// scanCIFSR accepts a dotted-quad IP address as the successful terminator
// of +CIFSR, which otherwise returns no OK of its own.
func scanCIFSR(line string, _ interface{}) at.Classification {
	var a, b, c, d int
	if n, _ := fmt.Sscanf(line, "%d.%d.%d.%d", &a, &b, &c, &d); n == 4 {
		return at.FinalOk
	}
	return at.Classification{}
}

// scanShutOK recognizes +CIPSHUT's non-standard "SHUT OK" terminator.
func scanShutOK(line string, _ interface{}) at.Classification {
	if line == "SHUT OK" {
		return at.FinalOk
	}
	return at.Classification{}
}

// scanSend recognizes the various completion lines a +CIPSEND exchange
// may use across firmware versions, with or without a leading connection
// id.
func scanSend(line string, _ interface{}) at.Classification {
	switch {
	case line == "SEND OK", strings.HasSuffix(line, ", SEND OK"), strings.Contains(line, "DATA ACCEPT:"):
		return at.FinalOk
	case line == "SEND FAIL", strings.HasSuffix(line, ", SEND FAIL"):
		return at.Final
	}
	return at.Classification{}
}

// scanRecv recognizes a +CIPRXGET: 2,... response announcing that read
// bytes of raw payload immediately follow.
func scanRecv(line string, _ interface{}) at.Classification {
	var connID, read, left int
	if n, _ := fmt.Sscanf(line, "+CIPRXGET: 2,%d,%d,%d", &connID, &read, &left); n == 3 && read > 0 {
		return at.RawDataFollows(read)
	}
	return at.Classification{}
}
