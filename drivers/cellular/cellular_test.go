package cellular

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudyourcar/atmodem/at"
)

// fakeTransport mirrors at's own test double: canned bytes in, captured
// writes out, no attempt at emulating serial framing.
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

func newCellular(t *testing.T) (*Modem, *fakeTransport, *at.Channel) {
	ft := newFakeTransport()
	ch := at.New(fakeDialer{ft})
	require.NoError(t, ch.Open())
	return New(ch), ft, ch
}

func TestOpenAlreadyUp(t *testing.T) {
	m, ft, ch := newCellular(t)
	defer ch.Free()
	defer m.Free()

	go func() {
		w := <-ft.writes
		assert.Equal(t, "AT+CIPMUX=1\r", string(w))
		ft.send("\r\nOK\r\n")
		w = <-ft.writes
		assert.Equal(t, "AT+CIPRXGET=1\r", string(w))
		ft.send("\r\nOK\r\n")
		w = <-ft.writes
		assert.Equal(t, "AT+CIPQSEND=1\r", string(w))
		ft.send("\r\nOK\r\n")
		w = <-ft.writes
		assert.Equal(t, "AT+CIPSTATUS\r", string(w))
		ft.send("\r\nOK\r\n\r\nSTATE: IP STATUS\r\nC: 5\r\n")
	}()
	require.NoError(t, m.Open(context.Background(), "internet"))
}

func TestOpenBringsUpFreshContext(t *testing.T) {
	m, ft, ch := newCellular(t)
	defer ch.Free()
	defer m.Free()

	go func() {
		for _, cmd := range []string{"AT+CIPMUX=1\r", "AT+CIPRXGET=1\r", "AT+CIPQSEND=1\r"} {
			w := <-ft.writes
			assert.Equal(t, cmd, string(w))
			ft.send("\r\nOK\r\n")
		}
		w := <-ft.writes // first CIPSTATUS: not yet up
		assert.Equal(t, "AT+CIPSTATUS\r", string(w))
		ft.send("\r\nOK\r\n\r\nSTATE: IP INITIAL\r\nC: 5\r\n")

		w = <-ft.writes
		assert.Equal(t, `AT+CSTT="internet"`+"\r", string(w))
		ft.send("\r\nOK\r\n")
		w = <-ft.writes
		assert.Equal(t, "AT+CIICR\r", string(w))
		ft.send("\r\nOK\r\n")
		w = <-ft.writes
		assert.Equal(t, "AT+CIFSR\r", string(w))
		ft.send("10.0.0.5\r\n")

		w = <-ft.writes // second CIPSTATUS: now up
		assert.Equal(t, "AT+CIPSTATUS\r", string(w))
		ft.send("\r\nOK\r\n\r\nSTATE: IP STATUS\r\nC: 5\r\n")
	}()
	require.NoError(t, m.Open(context.Background(), "internet"))
	assert.Equal(t, 0, m.pdpFailures)
	assert.Equal(t, pdpRetryThresholdInitial, m.pdpThreshold)
}

func TestConnect(t *testing.T) {
	m, ft, ch := newCellular(t)
	defer ch.Free()
	defer m.Free()

	go func() {
		w := <-ft.writes
		assert.Equal(t, `AT+CIPSTART=0,TCP,"example.com",80`+"\r", string(w))
		ft.send("\r\nOK\r\n0, CONNECT OK\r\n")
	}()
	sock, err := m.Connect(context.Background(), "example.com", 80)
	require.NoError(t, err)
	assert.Equal(t, 0, sock.connID)
}

func TestConnectFails(t *testing.T) {
	m, ft, ch := newCellular(t)
	defer ch.Free()
	defer m.Free()

	go func() {
		<-ft.writes
		ft.send("\r\nOK\r\n0, CONNECT FAIL\r\n")
	}()
	_, err := m.Connect(context.Background(), "example.com", 80)
	assert.Equal(t, ErrConnectFailed, err)
}

func TestConnectNoFreeSockets(t *testing.T) {
	m, _, ch := newCellular(t)
	defer ch.Free()
	defer m.Free()

	for i := range m.status {
		m.status[i] = socketOpening
	}
	_, err := m.Connect(context.Background(), "example.com", 80)
	assert.Equal(t, ErrNoFreeSockets, err)
}

func TestSocketSend(t *testing.T) {
	m, ft, ch := newCellular(t)
	defer ch.Free()
	defer m.Free()

	go func() {
		w := <-ft.writes
		assert.Equal(t, `AT+CIPSTART=0,TCP,"example.com",80`+"\r", string(w))
		ft.send("\r\nOK\r\n0, CONNECT OK\r\n")
	}()
	sock, err := m.Connect(context.Background(), "example.com", 80)
	require.NoError(t, err)

	go func() {
		w := <-ft.writes
		assert.Equal(t, "AT+CIPSEND=0,5\r", string(w))
		ft.send("\r\n> ")
		w = <-ft.writes
		assert.Equal(t, "hello", string(w))
		ft.send("\r\nSEND OK\r\n")
	}()
	n, err := sock.Send(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestSocketRecv(t *testing.T) {
	m, ft, ch := newCellular(t)
	defer ch.Free()
	defer m.Free()

	go func() {
		w := <-ft.writes
		assert.Equal(t, `AT+CIPSTART=0,TCP,"example.com",80`+"\r", string(w))
		ft.send("\r\nOK\r\n0, CONNECT OK\r\n")
	}()
	sock, err := m.Connect(context.Background(), "example.com", 80)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w := <-ft.writes
		assert.Equal(t, "AT+CIPRXGET=2,0,1460\r", string(w))
		ft.send("\r\n+CIPRXGET: 2,0,5,0\r\nhello\r\nOK\r\n")
	}()
	ft.send("\r\n+CIPRXGET: 1,0\r\n")

	b, err := sock.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	<-done
}

func TestSocketClose(t *testing.T) {
	m, ft, ch := newCellular(t)
	defer ch.Free()
	defer m.Free()

	go func() {
		w := <-ft.writes
		assert.Equal(t, `AT+CIPSTART=0,TCP,"example.com",80`+"\r", string(w))
		ft.send("\r\nOK\r\n0, CONNECT OK\r\n")
		w = <-ft.writes
		assert.Equal(t, "AT+CIPCLOSE=0\r", string(w))
		ft.send("\r\nOK\r\n")
	}()
	sock, err := m.Connect(context.Background(), "example.com", 80)
	require.NoError(t, err)
	require.NoError(t, sock.Close(context.Background()))
	assert.Equal(t, socketFree, m.status[0])
	require.NoError(t, sock.Close(context.Background())) // idempotent
}
