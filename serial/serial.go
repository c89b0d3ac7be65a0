// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// Package serial provides Dialers that connect an at.Channel to a physical
// modem over a local serial port.
package serial

import (
	"github.com/tarm/serial"

	"github.com/cloudyourcar/atmodem/at"
)

// Config holds the parameters of a serial connection. The zero value is not
// usable directly; New starts from the platform's defaultConfig and applies
// Options on top of it.
type Config struct {
	port string
	baud int
}

// Option modifies a Config built by New or NewDialer.
type Option func(*Config)

// WithPort overrides the default port name (e.g. "/dev/ttyUSB0", "COM3").
func WithPort(port string) Option {
	return func(c *Config) { c.port = port }
}

// WithBaud overrides the default baud rate.
func WithBaud(baud int) Option {
	return func(c *Config) { c.baud = baud }
}

// New opens a serial port using github.com/tarm/serial, the teacher
// library's original transport. It returns an at.Transport: an
// io.ReadWriteCloser suitable for at.Dialer.Dial or direct use.
func New(opts ...Option) (at.Transport, error) {
	cfg := defaultConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := serial.OpenPort(&serial.Config{Name: cfg.port, Baud: cfg.baud})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Dialer is an at.Dialer that opens a tarm/serial port on demand, when the
// Channel's Open calls Dial, so the caller never holds a live *serial.Port
// itself.
type Dialer struct {
	opts []Option
}

// NewDialer builds a Dialer with the given options, applied fresh on every
// Dial.
func NewDialer(opts ...Option) Dialer {
	return Dialer{opts: opts}
}

// Dial implements at.Dialer.
func (d Dialer) Dial() (at.Transport, error) {
	return New(d.opts...)
}
