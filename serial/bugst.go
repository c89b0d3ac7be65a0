package serial

import (
	"fmt"

	bugst "go.bug.st/serial"

	"github.com/cloudyourcar/atmodem/at"
)

// BugstDialer opens a modem connection using go.bug.st/serial, an
// alternative to the tarm/serial-backed Dialer with cross-platform port
// enumeration and a richer Mode (parity, stop bits, flow control).
type BugstDialer struct {
	Port string
	Mode *bugst.Mode // nil selects the library default (9600 8N1)
}

// Dial implements at.Dialer.
func (d BugstDialer) Dial() (at.Transport, error) {
	if d.Port == "" {
		return nil, fmt.Errorf("serial: port name is required")
	}
	p, err := bugst.Open(d.Port, d.Mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %q: %w", d.Port, err)
	}
	return p, nil
}

// Ports lists the serial ports go.bug.st/serial can enumerate on this
// platform, for a driver's discovery/pick-a-modem flow.
func Ports() ([]string, error) {
	return bugst.GetPortsList()
}
