package signal

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudyourcar/atmodem/at"
)

type fakeTransport struct {
	fromModem chan []byte
	writes    chan []byte
	closedCh  chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		fromModem: make(chan []byte, 16),
		writes:    make(chan []byte, 16),
		closedCh:  make(chan struct{}),
	}
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	select {
	case data, ok := <-f.fromModem:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, data), nil
	case <-f.closedCh:
		return 0, io.EOF
	}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case f.writes <- buf:
	default:
	}
	return len(p), nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closedCh) })
	return nil
}

func (f *fakeTransport) send(s string) { f.fromModem <- []byte(s) }

type fakeDialer struct{ t *fakeTransport }

func (d fakeDialer) Dial() (at.Transport, error) { return d.t, nil }

func newChannel(t *testing.T) (*at.Channel, *fakeTransport) {
	ft := newFakeTransport()
	ch := at.New(fakeDialer{ft})
	require.NoError(t, ch.Open())
	return ch, ft
}

func TestQuery(t *testing.T) {
	ch, ft := newChannel(t)
	defer ch.Free()

	go func() {
		w := <-ft.writes
		assert.Equal(t, "AT+CSQ\r", string(w))
		ft.send("\r\n+CSQ: 20,3\r\nOK\r\n")
	}()
	r, err := Query(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, -73.0, r.RSSI)
	assert.Equal(t, berTable[3], r.BER)
}

func TestQueryUnknown(t *testing.T) {
	ch, ft := newChannel(t)
	defer ch.Free()

	go func() {
		<-ft.writes
		ft.send("\r\n+CSQ: 99,99\r\nOK\r\n")
	}()
	_, err := Query(context.Background(), ch)
	assert.Equal(t, ErrUnknown, err)
}

func TestMonitorSmoothed(t *testing.T) {
	ch, ft := newChannel(t)
	defer ch.Free()

	m := NewMonitor(ch, 3)
	if _, ok := m.Smoothed(); ok {
		t.Fatal("expected no smoothed value before any sample")
	}

	readings := []int{10, 20, 30, 40} // dBm: -93, -73, -53, -33
	go func() {
		for _, rssi := range readings {
			w := <-ft.writes
			assert.Equal(t, "AT+CSQ\r", string(w))
			ft.send("\r\n+CSQ: " + strconv.Itoa(rssi) + ",99\r\nOK\r\n")
		}
	}()

	for range readings {
		_, err := m.Sample(context.Background())
		require.NoError(t, err)
	}

	// Window size 3, four samples taken: the oldest (10 -> -93 dBm) has
	// rolled out, leaving 20, 30, 40 -> -73, -53, -33, mean -53.
	mean, ok := m.Smoothed()
	require.True(t, ok)
	assert.InDelta(t, -53.0, mean, 1e-9)
}
