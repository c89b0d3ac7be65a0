// Package cellular is a vendor driver over the at package's Channel,
// implementing the GPRS/PDP socket command set shared by SIMCom-family
// modems (AT+CIPMUX, +CIPSTART, +CIPSEND, +CIPRXGET, ...): PDP context
// bring-up with exponential backoff across repeated failures, and a pool
// of multiplexed TCP sockets whose received data uses the channel's raw
// payload framing.
package cellular

import (
	"context"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/cloudyourcar/atmodem/at"
)

const (
	maxSockets   = 6
	maxSendChunk = 1460
	maxRecvChunk = 1460

	pdpRetryThresholdInitial    = 3
	pdpRetryThresholdMultiplier = 2
	pdpOpenAttempts             = 3
)

type socketStatus int

const (
	socketFree socketStatus = iota
	socketOpening
	socketConnected
	socketClosed
)

// Modem is a PDP/socket driver over an already-opened Channel. New installs
// channel-wide callbacks, so only one Modem should be attached to a given
// Channel at a time.
type Modem struct {
	ch  *at.Channel
	apn string

	pdpFailures  int
	pdpThreshold int

	mu      sync.Mutex
	status  [maxSockets]socketStatus
	waiters [maxSockets]chan socketStatus
	inbox   [maxSockets]chan []byte

	// cmdMu serializes SetCommandScanner+Command pairs. SetCommandScanner is
	// its own control round-trip, separate from the Command call that
	// consumes it, so two goroutines issuing scanner-bearing commands
	// concurrently (a Socket.Send against the background recvLoop's
	// +CIPRXGET poll, say) could otherwise install each other's scanner
	// before either's issue() runs.
	cmdMu sync.Mutex

	avail     chan int
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Modem driving ch, and starts the background goroutine that
// turns a "data available" URC into a follow-up +CIPRXGET read (see Open
// Question decisions in the design notes: the core never lets a URC
// complete a command, so the driver issues that read itself).
func New(ch *at.Channel) *Modem {
	m := &Modem{
		ch:           ch,
		pdpThreshold: pdpRetryThresholdInitial,
		avail:        make(chan int, maxSockets),
		done:         make(chan struct{}),
	}
	ch.SetCallbacks(at.Callbacks{ScanLine: m.scanLine, HandleURC: m.handleURC})
	go m.recvLoop()
	return m
}

// Free stops the background receive-notification loop. It does not close
// the underlying Channel.
func (m *Modem) Free() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Open configures the IP application (CIPMUX/CIPRXGET/CIPQSEND) and brings
// up the PDP context for apn if it is not already open. A context that
// fails to open is retried with exponential backoff; the retry threshold
// itself grows the more times Open has failed across calls, and resets
// once one succeeds, mirroring the "possibly stuck PDP context" recovery a
// real deployment needs.
func (m *Modem) Open(ctx context.Context, apn string) error {
	m.apn = apn

	if _, err := m.ch.Config(ctx, "CIPMUX", []string{"1"}); err != nil {
		return errors.WithMessage(err, "CIPMUX")
	}
	if _, err := m.ch.Config(ctx, "CIPRXGET", []string{"1"}); err != nil {
		return errors.WithMessage(err, "CIPRXGET")
	}
	if _, err := m.ch.Config(ctx, "CIPQSEND", []string{"1"}); err != nil {
		return errors.WithMessage(err, "CIPQSEND")
	}

	if m.pdpFailures >= m.pdpThreshold {
		// Possibly stuck context from a previous run; close it and back
		// off harder next time.
		_ = m.Close(ctx)
		m.pdpThreshold *= pdpRetryThresholdMultiplier
	}

	if m.ipStatus(ctx) == nil {
		return nil
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err := backoff.Retry(func() error { return m.pdpOpenOnce(ctx) }, backoff.WithMaxRetries(bo, pdpOpenAttempts-1))
	if err != nil {
		m.pdpFailures++
		return errors.WithMessage(err, "pdp open")
	}
	m.pdpFailures = 0
	m.pdpThreshold = pdpRetryThresholdInitial
	return nil
}

// pdpOpenOnce issues the command sequence that transitions the modem
// through its GPRS attach states into IP STATUS, without itself retrying.
// The intermediate commands' responses are deliberately not all checked:
// the final +CIPSTATUS query is what actually decides success, matching
// the vendor's own documented bring-up sequence.
func (m *Modem) pdpOpenOnce(ctx context.Context) error {
	if _, err := m.ch.Command(ctx, `+CSTT="%s"`, m.apn); err != nil {
		return err
	}
	if _, err := m.ch.Command(ctx, "+CIICR"); err != nil {
		return err
	}
	m.cmdMu.Lock()
	m.ch.SetCommandScanner(scanCIFSR, nil)
	_, err := m.ch.Command(ctx, "+CIFSR")
	m.cmdMu.Unlock()
	if err != nil {
		return err
	}
	return m.ipStatus(ctx)
}

// ipStatus queries +CIPSTATUS and reports whether the PDP context is up.
func (m *Modem) ipStatus(ctx context.Context) error {
	m.cmdMu.Lock()
	m.ch.SetCommandScanner(scanCIPStatus, nil)
	resp, err := m.ch.Command(ctx, "+CIPSTATUS")
	m.cmdMu.Unlock()
	if err != nil {
		return err
	}
	for _, l := range strings.Split(resp, "\n") {
		idx := strings.Index(l, "STATE: ")
		if idx < 0 {
			continue
		}
		state := l[idx+len("STATE: "):]
		if strings.HasPrefix(state, "IP STATUS") || strings.HasPrefix(state, "IP PROCESSING") {
			return nil
		}
	}
	return ErrPDPNotOpen
}

// Close tears down the PDP context with +CIPSHUT.
func (m *Modem) Close(ctx context.Context) error {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	m.ch.SetCommandScanner(scanShutOK, nil)
	_, err := m.ch.Command(ctx, "+CIPSHUT")
	return err
}

// allocSocket reserves the lowest-numbered free connection id.
func (m *Modem) allocSocket() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.status {
		if s == socketFree {
			m.status[i] = socketOpening
			return i, nil
		}
	}
	return 0, ErrNoFreeSockets
}

func (m *Modem) freeSocket(id int) {
	m.mu.Lock()
	m.status[id] = socketFree
	m.inbox[id] = nil
	m.mu.Unlock()
}

// handleURC is installed as Callbacks.HandleURC; it runs on the Channel's
// reader goroutine, so it only ever updates local state or makes a
// non-blocking send, never calls back into the Channel.
func (m *Modem) handleURC(line string, _ interface{}) {
	if id, status, ok := parseSocketStatus(line); ok {
		m.mu.Lock()
		m.status[id] = status
		w := m.waiters[id]
		m.mu.Unlock()
		if w != nil {
			select {
			case w <- status:
			default:
			}
		}
		return
	}
	if id, ok := parseDataAvailable(line); ok {
		select {
		case m.avail <- id:
		default:
		}
	}
}

// recvLoop is the driver's own goroutine, distinct from the Channel's
// reader goroutine: it is the one that actually issues the follow-up
// +CIPRXGET read a data-available URC calls for.
func (m *Modem) recvLoop() {
	for {
		select {
		case <-m.done:
			return
		case id := <-m.avail:
			m.pollRecv(id)
		}
	}
}

func (m *Modem) pollRecv(id int) {
	m.mu.Lock()
	inbox := m.inbox[id]
	m.mu.Unlock()
	if inbox == nil {
		return // no open Socket waiting; stale notification after Close
	}
	m.cmdMu.Lock()
	m.ch.SetCommandScanner(scanRecv, nil)
	resp, err := m.ch.Command(context.Background(), "+CIPRXGET=2,%d,%d", id, maxRecvChunk)
	m.cmdMu.Unlock()
	if err != nil || at.IsFinalError(resp) != nil {
		return
	}
	for _, l := range strings.Split(resp, "\n") {
		if l == "" {
			continue
		}
		select {
		case inbox <- []byte(l):
		default:
			// Inbox full; caller isn't reading fast enough, drop rather
			// than block the recv loop indefinitely.
		}
	}
}

// Connect opens a TCP socket to host:port and blocks until the modem
// reports the connection result. The connection attempt itself is bounded
// by ctx.
func (m *Modem) Connect(ctx context.Context, host string, port int) (*Socket, error) {
	id, err := m.allocSocket()
	if err != nil {
		return nil, err
	}
	waiter := make(chan socketStatus, 1)
	inbox := make(chan []byte, 32)
	m.mu.Lock()
	m.waiters[id] = waiter
	m.inbox[id] = inbox
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.waiters[id] = nil
		m.mu.Unlock()
	}()

	resp, err := m.ch.Command(ctx, `+CIPSTART=%d,TCP,"%s",%d`, id, host, port)
	if err != nil {
		m.freeSocket(id)
		return nil, err
	}
	if ferr := at.IsFinalError(resp); ferr != nil {
		m.freeSocket(id)
		return nil, ferr
	}

	select {
	case <-ctx.Done():
		m.freeSocket(id)
		return nil, ctx.Err()
	case st := <-waiter:
		if st != socketConnected {
			m.freeSocket(id)
			return nil, ErrConnectFailed
		}
	}
	return &Socket{modem: m, connID: id, inbox: inbox}, nil
}
