package at

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrClosed indicates the channel is closed, or was closed while an
	// operation was outstanding. Command/CommandRaw return it as a value of
	// its own, distinct from ErrTimeout.
	ErrClosed = errors.New("at: channel closed")

	// ErrTimeout indicates the response deadline elapsed with no final
	// classification reached. The parser is reset as a side effect.
	ErrTimeout = errors.New("at: command timed out")

	// ErrOverflow indicates a formatted command did not fit in the send
	// buffer. Nothing is written to the transport.
	ErrOverflow = errors.New("at: command too long to format")

	// ErrReentrant indicates a second command was issued while one was
	// already in flight on this channel. The public API does not
	// serialize callers; this is a debug-time assertion of the
	// single-caller-thread invariant, not a recoverable condition.
	ErrReentrant = errors.New("at: command already in flight")

	// ErrNoDialer indicates Open was called on a channel with no Dialer
	// configured.
	ErrNoDialer = errors.New("at: no dialer configured")

	// ErrConfigNoOptions indicates Config was called with an empty options
	// list. When every option is rejected by the modem, Config returns the
	// modem's error for the last option instead.
	ErrConfigNoOptions = errors.New("at: no configuration option accepted")
)

// CMEError indicates a +CME ERROR: final response. The value is the
// trailing text, verbatim (numeric or textual depending on modem
// configuration).
type CMEError string

func (e CMEError) Error() string { return "at: CME error: " + string(e) }

// CMSError indicates a +CMS ERROR: final response.
type CMSError string

func (e CMSError) Error() string { return "at: CMS error: " + string(e) }

// classifyError turns a Final response's accumulated text into a Go error
// for callers that want one instead of inspecting the raw text themselves.
// This is a driver-layer convenience — the core Command/CommandRaw contract
// itself returns the literal final text on both FinalOk and Final, per the
// component design; only Timeout and Closed are reported as errors from the
// core.
func classifyError(text string) error {
	// A Final line is always the last line of the accumulated text.
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	switch {
	case text == "ERROR":
		return errors.New("at: ERROR")
	case text == "NO DIALTONE", text == "NO ANSWER", text == "BUSY":
		return errors.New("at: " + text)
	case text == "NO CARRIER":
		return errors.New("at: NO CARRIER")
	case text == "COMMAND NOT SUPPORT":
		return errors.New("at: COMMAND NOT SUPPORT")
	case strings.HasPrefix(text, "+CME ERROR:"):
		return CMEError(strings.TrimSpace(strings.TrimPrefix(text, "+CME ERROR:")))
	case strings.HasPrefix(text, "+CMS ERROR:"):
		return CMSError(strings.TrimSpace(strings.TrimPrefix(text, "+CMS ERROR:")))
	}
	return nil
}

// IsFinalError reports whether text (as returned by Command or CommandRaw)
// represents a Final (error) classification rather than a FinalOk one, and
// if so returns the corresponding error. Drivers use this instead of the
// core raising an error itself, since the core has no notion of which
// final lines are "errors" beyond the default scanner's universal markers
// — a command-specific scanner may declare its own final markers (a power
// down command whose success line is "NORMAL POWER DOWN", say) that this
// helper would not recognise.
func IsFinalError(text string) error {
	return classifyError(text)
}
