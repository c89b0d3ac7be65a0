package at

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

const minAccumulatorSize = 512

// Channel coordinates one AT-command modem connection (component C4): a
// single reader goroutine owns the Transport, the parser and all per-command
// ephemeral state, and synchronous callers hand it work over channels. There
// is never more than one Transport read outstanding and never more than one
// command in flight, by construction, not by locking.
//
// A Channel must be created with New, opened with Open, and eventually
// released with Free. Once Free returns the Channel cannot be reused.
type Channel struct {
	dialer Dialer

	// ctrlCh carries configuration/control closures into the reader
	// goroutine; each closure runs with exclusive access to the reader's
	// local state and signals completion itself (most via a channel
	// captured in the closure).
	ctrlCh chan func(*reader)
	// cmdCh carries one in-flight command request at a time.
	cmdCh chan *commandReq

	closed chan struct{} // closed exactly once, when the reader goroutine exits
	closeErr error

	sem *semaphore.Weighted // single-in-flight-command debug assertion
}

// reader holds all state that is only ever touched by the reader goroutine:
// the transport, the parser, the persistent callbacks/scanners, and the
// per-command ephemerals that the design notes call out as clearing on
// command completion (scanner, character handler, dataprompt) versus on use
// (delay, one-shot) versus persisting until changed (timeout).
type reader struct {
	transport Transport
	p         *parser

	callbacks Callbacks

	cmdScanner LineScanner
	cmdArg     interface{}
	dataPrompt string

	delay   time.Duration
	timeout time.Duration

	suspended bool

	// pendingData holds a body to push the instant the active command's
	// dataPrompt line is seen, for a two-step exchange (SMS text entry,
	// a socket send command, ...): the reader goroutine writes it
	// itself, inline, rather than have a second caller race a Send
	// against the still-active command.
	pendingData []byte

	acc *accumulator
}

// commandReq is one Command/CommandRaw/Send/SendRaw/SendHex invocation
// handed to the reader goroutine.
type commandReq struct {
	ctx     context.Context
	payload []byte // fully formatted bytes to write, including any terminator
	raw     bool   // raw: write payload and return immediately with no response wait (Send/SendRaw/SendHex)
	timeout time.Duration

	scanner LineScanner
	arg     interface{}

	// dataPrompt/dataBody arm a one-shot two-step exchange: once the
	// reader sees a line matching dataPrompt, it writes dataBody straight
	// to the transport and clears both, before the command's final
	// response arrives. Used by DataCommand (and SMSCommand, a thin
	// wrapper over it).
	dataPrompt string
	dataBody   []byte

	result chan commandResult
}

type commandResult struct {
	text string
	err  error
}

// New creates a Channel bound to dialer. The Transport is not opened until
// Open is called.
func New(dialer Dialer) *Channel {
	return &Channel{
		dialer: dialer,
		ctrlCh: make(chan func(*reader)),
		cmdCh:  make(chan *commandReq),
		closed: make(chan struct{}),
		sem:    semaphore.NewWeighted(1),
	}
}

// Open dials the Transport and starts the reader goroutine. Open must be
// called exactly once, before any other Channel method.
func (c *Channel) Open() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	t, err := c.dialer.Dial()
	if err != nil {
		return err
	}
	r := &reader{transport: t, acc: newAccumulator(minAccumulatorSize), timeout: 5 * time.Second}
	r.p = newParser(func(u unit) { r.handleUnit(u) })
	go c.run(r)
	return nil
}

// Closed returns a channel that is closed when the Channel's Transport has
// failed or Close has been called; all outstanding and future commands then
// return ErrClosed.
func (c *Channel) Closed() <-chan struct{} {
	return c.closed
}

// Close shuts down the reader goroutine and the underlying Transport. It is
// idempotent.
func (c *Channel) Close() error {
	select {
	case <-c.closed:
		return c.closeErr
	case c.ctrlCh <- func(r *reader) { r.transport.Close() }:
		<-c.closed
		return c.closeErr
	}
}

// Free releases all resources associated with the Channel. After Free the
// Channel must not be used again. It is the Go equivalent of at_free: unlike
// at_close, Free does not expect a further reopen.
func (c *Channel) Free() error {
	return c.Close()
}

// Suspend pauses the reader goroutine's interpretation of incoming bytes
// without closing the Transport, matching at_suspend's "hold the port open,
// stop parsing" semantics, e.g. to hand the wire to a firmware update tool.
func (c *Channel) Suspend() {
	c.control(func(r *reader) { r.suspended = true })
}

// Resume reverses Suspend.
func (c *Channel) Resume() {
	c.control(func(r *reader) { r.suspended = false })
}

// SetCallbacks installs the channel-wide scanner and URC handler. It
// replaces, rather than merges with, any previous Callbacks.
func (c *Channel) SetCallbacks(cb Callbacks) {
	c.control(func(r *reader) { r.callbacks = cb })
}

// SetTimeout sets the response timeout applied to every Command/CommandRaw/
// DataCommand; a context deadline, if earlier, ends the command first. Zero
// disables it. Unlike the per-command ephemerals below, this persists until
// changed again.
func (c *Channel) SetTimeout(d time.Duration) {
	c.control(func(r *reader) { r.timeout = d })
}

// SetDelay arms a one-shot pre-write delay: the next Command/CommandRaw
// sleeps for d immediately before writing, then clears d back to zero. It
// exists to let a driver pace a modem that needs quiet time after certain
// responses (e.g. after an SMS prompt escape) without every caller having to
// remember to sleep themselves.
func (c *Channel) SetDelay(d time.Duration) {
	c.control(func(r *reader) { r.delay = d })
}

// SetCommandScanner installs a scanner used for the next command only; it is
// cleared when that command completes (FinalOk, Final, Timeout, or Closed),
// matching at_set_command_scanner's per-command lifetime.
func (c *Channel) SetCommandScanner(s LineScanner, arg interface{}) {
	c.control(func(r *reader) { r.cmdScanner, r.cmdArg = s, arg })
}

// SetCharacterHandler installs a CharacterHandler used for the next command
// only; it also clears on command completion, or earlier if the handler
// itself reports done.
func (c *Channel) SetCharacterHandler(h CharacterHandler, arg interface{}) {
	c.control(func(r *reader) { r.p.setCharacterHandler(h, arg) })
}

// ExpectDataPrompt arms a one-shot recognizer for prompt, a literal that
// terminates line mode without a CR/LF (e.g. "> " for SMS text entry, "@"
// for some socket-write commands). The prompt is handed to the scanners as a
// line of its own as soon as it matches; it does not complete the command by
// itself. It clears on command completion, like the other per-command
// ephemerals.
func (c *Channel) ExpectDataPrompt(prompt string) {
	c.control(func(r *reader) { r.dataPrompt, r.p.dataPrompt = prompt, prompt })
}

// control runs fn on the reader goroutine and waits for it to finish. It is
// a no-op if the Channel is already closed.
func (c *Channel) control(fn func(*reader)) {
	done := make(chan struct{})
	select {
	case <-c.closed:
	case c.ctrlCh <- func(r *reader) { fn(r); close(done) }:
		<-done
	}
}

// run is the reader goroutine body: it owns r and the Transport exclusively,
// performing one blocking Read at a time and interleaving control/command
// requests between reads via select. This mirrors the single reader thread
// of the system this channel is modeled on, generalized from callback
// dispatch to Go's channel-based handoff.
func (c *Channel) run(r *reader) {
	defer func() {
		r.transport.Close()
		c.closeErr = ErrClosed
		close(c.closed)
	}()

	readCh := make(chan readResult)
	go transportReader(r.transport, readCh)

	var active *commandReq
	var timer *time.Timer
	var timerC <-chan time.Time
	var ctxDone <-chan struct{}

	finishActive := func(res commandResult) {
		active.result <- res
		c.clearEphemerals(r)
		active = nil
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		timerC, ctxDone = nil, nil
	}

	for {
		select {
		case res := <-readCh:
			if !r.suspended {
				for _, b := range res.buf {
					r.p.feed(b)
				}
			}
			c.drainURCs(r)
			if active != nil {
				if done, result := r.acc.poll(); done {
					finishActive(result)
				}
			}
			if res.err != nil {
				return
			}
			go transportReader(r.transport, readCh)
		case fn := <-c.ctrlCh:
			fn(r)
		case <-timerC:
			finishActive(commandResult{err: ErrTimeout})
			r.p.reset()
		case <-ctxDone:
			finishActive(commandResult{err: active.ctx.Err()})
			r.p.reset()
		case req := <-c.cmdCh:
			if req.raw {
				// A raw send pushes data the modem is already prompting
				// for mid-command (an SMS body, a socket payload): it
				// must be allowed through even while a command's
				// response is still being accumulated.
				_, err := r.transport.Write(req.payload)
				req.result <- commandResult{err: err}
				continue
			}
			if active != nil {
				req.result <- commandResult{err: ErrReentrant}
				continue
			}
			if err := c.issue(r, req); err != nil {
				req.result <- commandResult{err: err}
				continue
			}
			active = req
			r.acc.begin()
			ctxDone = req.ctx.Done()
			effTimeout := req.timeout
			if effTimeout <= 0 {
				effTimeout = r.timeout
			}
			if effTimeout > 0 {
				timer = time.NewTimer(effTimeout)
				timerC = timer.C
			}
		}
	}
}

// issue applies the one-shot delay, writes the command bytes, and installs
// the per-request scanner, all under exclusive reader ownership.
func (c *Channel) issue(r *reader, req *commandReq) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
		r.delay = 0
	}
	if req.scanner != nil {
		r.cmdScanner, r.cmdArg = req.scanner, req.arg
	}
	if req.dataPrompt != "" {
		r.dataPrompt, r.p.dataPrompt = req.dataPrompt, req.dataPrompt
		r.pendingData = req.dataBody
	}
	_, err := r.transport.Write(req.payload)
	return err
}

// clearEphemerals resets the per-command scanner, character handler and
// data prompt once a command completes, per the design notes' ephemeral
// lifetime rules.
func (c *Channel) clearEphemerals(r *reader) {
	r.cmdScanner, r.cmdArg = nil, nil
	r.dataPrompt, r.p.dataPrompt = "", ""
	r.pendingData = nil
	r.p.setCharacterHandler(nil, nil)
}

// handleUnit is the parser's emit callback: it classifies a completed line
// or routes a completed payload straight into the active accumulator.
func (r *reader) handleUnit(u unit) {
	switch u.kind {
	case unitHexPayload, unitRawPayload:
		// Payload bytes are kept as a line in their own right, in arrival
		// order relative to surrounding text lines; Go strings are byte
		// sequences, so this holds arbitrary binary without a separate
		// accumulator channel.
		r.acc.appendLine(string(u.data))
		return
	}
	if r.pendingData != nil && r.dataPrompt != "" && u.line == r.dataPrompt {
		r.transport.Write(r.pendingData)
		r.pendingData = nil
		r.dataPrompt = ""
		return
	}
	cls := classify(u.line, r.cmdScanner, r.cmdArg, r.callbacks.ScanLine, nil)
	switch cls.Kind {
	case KindUrc:
		r.acc.pendingURCs = append(r.acc.pendingURCs, u.line)
	case KindHexData:
		r.p.beginHexPayload(cls.N)
	case KindRawData:
		r.p.beginRawPayload(cls.N)
	case KindFinalOk:
		r.acc.finish(false, "")
	case KindFinal:
		r.acc.finish(true, u.line)
	default: // Intermediate, Unknown
		r.acc.appendLine(u.line)
	}
}

// drainURCs delivers any URC lines queued during the last Read to the
// installed handler, on this (the reader) goroutine, per Callbacks.HandleURC's
// contract.
func (c *Channel) drainURCs(r *reader) {
	if len(r.acc.pendingURCs) == 0 {
		return
	}
	lines := r.acc.pendingURCs
	r.acc.pendingURCs = nil
	if r.callbacks.HandleURC == nil {
		return
	}
	for _, l := range lines {
		r.callbacks.HandleURC(l, nil)
	}
}

type readResult struct {
	buf []byte
	err error
}

// transportReader performs one blocking read of whatever is immediately
// available, reports it as the single value sent on out, then exits; run
// spawns a fresh transportReader after each read it accepts, keeping exactly
// one Read outstanding at a time.
func transportReader(t Transport, out chan<- readResult) {
	buf := make([]byte, 256)
	n, err := t.Read(buf)
	out <- readResult{buf: buf[:n], err: err}
}
