// Package signal is a tiny driver-side utility for tracking radio signal
// quality (AT+CSQ) over a Channel. It is not part of the core: reading
// signal quality carries no protocol state of its own, it just issues a
// command and keeps a running window of the result.
package signal

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/cloudyourcar/atmodem/at"
)

// ErrUnknown is returned when the modem reports rssi == 99, its "not known
// or not detectable" sentinel.
var ErrUnknown = errors.New("signal: rssi not known or not detectable")

// Reading is one +CSQ sample, already converted out of the command's raw
// integer codes.
type Reading struct {
	// RSSI is the received signal strength in dBm.
	RSSI float64
	// BER is the bit error rate as a percentage, or -1 if the modem did not
	// report one (ber == 99).
	BER float64
}

// rssiToDBm converts the AT+CSQ rssi code (0-31) to dBm, per 3GPP TS 27.007:
// 0 maps to -113 dBm or less, 31 to -51 dBm or greater, in 2 dBm steps.
func rssiToDBm(rssi int) float64 {
	return -113 + 2*float64(rssi)
}

// berToPercent converts the AT+CSQ ber code (0-7, a GSM RXQUAL index) to an
// approximate bit error rate percentage.
var berTable = [8]float64{0.14, 0.28, 0.57, 1.13, 2.26, 4.53, 9.05, 18.1}

func berToPercent(ber int) float64 {
	if ber < 0 || ber > 7 {
		return -1
	}
	return berTable[ber]
}

// Query issues AT+CSQ and parses its response.
func Query(ctx context.Context, ch *at.Channel) (Reading, error) {
	resp, err := ch.Command(ctx, "+CSQ")
	if err != nil {
		return Reading{}, err
	}
	if ferr := at.IsFinalError(resp); ferr != nil {
		return Reading{}, ferr
	}
	var rssi, ber int
	if _, err := fmt.Sscanf(resp, "+CSQ: %d,%d", &rssi, &ber); err != nil {
		return Reading{}, errors.Wrap(err, "signal: unparseable +CSQ response")
	}
	if rssi == 99 {
		return Reading{}, ErrUnknown
	}
	return Reading{RSSI: rssiToDBm(rssi), BER: berToPercent(ber)}, nil
}

// Monitor keeps a bounded window of recent RSSI readings and reports a
// smoothed value, so a single noisy sample doesn't flap a caller's idea of
// link quality.
type Monitor struct {
	ch     *at.Channel
	window []float64
	cap    int
	next   int
	filled bool
}

// NewMonitor creates a Monitor that keeps the last windowSize RSSI samples.
func NewMonitor(ch *at.Channel, windowSize int) *Monitor {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Monitor{ch: ch, window: make([]float64, windowSize), cap: windowSize}
}

// Sample queries the modem once and folds the result into the window,
// returning the raw reading.
func (m *Monitor) Sample(ctx context.Context) (Reading, error) {
	r, err := Query(ctx, m.ch)
	if err != nil {
		return Reading{}, err
	}
	m.window[m.next] = r.RSSI
	m.next++
	if m.next == m.cap {
		m.next = 0
		m.filled = true
	}
	return r, nil
}

// Smoothed returns the unweighted mean RSSI (dBm) across the window sampled
// so far. It returns 0, false if Sample has never been called.
func (m *Monitor) Smoothed() (float64, bool) {
	n := m.next
	if m.filled {
		n = m.cap
	}
	if n == 0 {
		return 0, false
	}
	return stat.Mean(m.window[:n], nil), true
}
