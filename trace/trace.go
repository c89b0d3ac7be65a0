// Package trace provides a decorator for io.ReadWriter that logs all reads
// and writes, and an at.Dialer wrapper that traces whatever transport the
// wrapped Dialer produces.
package trace

import (
	"io"
	"log"

	"github.com/cloudyourcar/atmodem/at"
)

// Trace is a trace log on an io.ReadWriter. All reads and writes are
// written to the logger.
type Trace struct {
	rw   io.ReadWriter
	l    *log.Logger
	wfmt string
	rfmt string
}

// Option modifies a Trace object created by New.
type Option func(*Trace)

// New creates a new trace on the io.ReadWriter. With no options, it logs to
// the standard logger in "r: %s"/"w: %s" format.
func New(rw io.ReadWriter, opts ...Option) *Trace {
	t := &Trace{rw: rw, l: log.Default(), wfmt: "w: %s", rfmt: "r: %s"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithLogger overrides the destination logger.
func WithLogger(l *log.Logger) Option {
	return func(t *Trace) { t.l = l }
}

// WithReadFormat sets the format used for read logs.
func WithReadFormat(format string) Option {
	return func(t *Trace) { t.rfmt = format }
}

// WithWriteFormat sets the format used for write logs.
func WithWriteFormat(format string) Option {
	return func(t *Trace) { t.wfmt = format }
}

func (t *Trace) Read(p []byte) (n int, err error) {
	n, err = t.rw.Read(p)
	if n > 0 {
		t.l.Printf(t.rfmt, p[:n])
	}
	return n, err
}

func (t *Trace) Write(p []byte) (n int, err error) {
	n, err = t.rw.Write(p)
	if n > 0 {
		t.l.Printf(t.wfmt, p[:n])
	}
	return n, err
}

// Close closes the underlying ReadWriter if it is also an io.Closer, so a
// *Trace wrapping a serial port or socket remains a valid at.Transport.
func (t *Trace) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Dialer is an at.Dialer wrapping another at.Dialer: every Transport it
// produces is wrapped in a Trace before being handed back. Used to enable
// wire-level tracing of a Channel without changing how it is constructed.
type Dialer struct {
	next at.Dialer
	opts []Option
}

// NewDialer wraps next so every dialed Transport is traced with opts.
func NewDialer(next at.Dialer, opts ...Option) Dialer {
	return Dialer{next: next, opts: opts}
}

// Dial implements at.Dialer.
func (d Dialer) Dial() (at.Transport, error) {
	rw, err := d.next.Dial()
	if err != nil {
		return nil, err
	}
	return New(rw, d.opts...), nil
}
