package at

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"
)

// maxCommandLength bounds a single formatted command line, mirroring the
// fixed AT_COMMAND_LENGTH buffer of the system this is modeled on: a
// command that would not fit is rejected with ErrOverflow rather than
// silently truncated.
const maxCommandLength = 256

// Command formats "AT"+fmt.Sprintf(format, args...) followed by a carriage
// return, writes it, and waits for a terminal classification (component C5
// write path feeding into C4). The returned string is the accumulated
// intermediate lines, newline-joined; on a Final (as opposed to FinalOk)
// classification the terminating line (e.g. "ERROR" or a +CME ERROR: line)
// is included as the last line. The returned error is nil, ErrOverflow,
// ErrReentrant, ErrTimeout, ErrClosed, the context's error, or a transport
// write error — never a reflection of the modem's response text. Use
// IsFinalError on the text to detect a modem-reported error.
func (c *Channel) Command(ctx context.Context, format string, args ...interface{}) (string, error) {
	cmd := fmt.Sprintf(format, args...)
	if len(cmd) > maxCommandLength-4 {
		return "", ErrOverflow
	}
	return c.do(ctx, "AT"+cmd+"\r", nil)
}

// CommandRaw writes line verbatim (the caller supplies any "AT" prefix and
// terminator) and waits for a terminal classification exactly as Command
// does.
func (c *Channel) CommandRaw(ctx context.Context, line string) (string, error) {
	if len(line) > maxCommandLength {
		return "", ErrOverflow
	}
	return c.do(ctx, line, nil)
}

// do is the shared implementation behind Command and CommandRaw.
func (c *Channel) do(ctx context.Context, line string, scanner LineScanner) (string, error) {
	if !c.sem.TryAcquire(1) {
		return "", ErrReentrant
	}
	defer c.sem.Release(1)

	result := make(chan commandResult, 1)
	req := &commandReq{
		ctx:     ctx,
		payload: []byte(line),
		scanner: scanner,
		result:  result,
	}
	select {
	case <-c.closed:
		return "", ErrClosed
	case c.cmdCh <- req:
	}
	select {
	case <-c.closed:
		return "", ErrClosed
	case res := <-result:
		return res.text, res.err
	}
}

// ctrlZ terminates an SMS text body; a modem in PDU mode also accepts it
// after the hex-coded TPDU.
const ctrlZ = 0x1A

// DataCommand issues cmd, and the instant the modem's response begins with
// the literal prompt (no CR/LF, e.g. "> " for SMS text entry or a socket
// send command), writes body verbatim before waiting for the command's
// final response. This is the two-step exchange used by SMS submission
// commands (+CMGS) and by socket/PDP send commands (+CIPSEND and similar)
// that frame their own payload length; the reader goroutine performs the
// second write itself, so it can never race a caller's own Send against the
// command it belongs to.
func (c *Channel) DataCommand(ctx context.Context, cmd string, prompt string, body []byte) (string, error) {
	if len(cmd)+2 > maxCommandLength {
		return "", ErrOverflow
	}
	if !c.sem.TryAcquire(1) {
		return "", ErrReentrant
	}
	defer c.sem.Release(1)

	result := make(chan commandResult, 1)
	req := &commandReq{
		ctx:        ctx,
		payload:    []byte("AT" + cmd + "\r"),
		dataPrompt: prompt,
		dataBody:   body,
		result:     result,
	}
	select {
	case <-c.closed:
		return "", ErrClosed
	case c.cmdCh <- req:
	}
	select {
	case <-c.closed:
		return "", ErrClosed
	case res := <-result:
		return res.text, res.err
	}
}

// SMSCommand is DataCommand with the SMS text-mode Ctrl-Z terminator
// appended to body.
func (c *Channel) SMSCommand(ctx context.Context, cmd string, prompt string, body string) (string, error) {
	return c.DataCommand(ctx, cmd, prompt, append([]byte(body), ctrlZ))
}

// Send writes a formatted line with no carriage return added and no wait
// for a response; it is for pushing data the modem is already prompting
// for mid-command (e.g. an SMS body or socket payload), not for issuing a
// new AT command.
func (c *Channel) Send(format string, args ...interface{}) error {
	return c.SendRaw([]byte(fmt.Sprintf(format, args...)))
}

// SendRaw writes raw bytes with no wait for a response.
func (c *Channel) SendRaw(data []byte) error {
	result := make(chan commandResult, 1)
	select {
	case <-c.closed:
		return ErrClosed
	case c.cmdCh <- &commandReq{ctx: context.Background(), payload: data, raw: true, result: result}:
	}
	select {
	case <-c.closed:
		return ErrClosed
	case res := <-result:
		return res.err
	}
}

// SendHex hex-encodes data (uppercase, matching the modem firmware's usual
// convention) and writes it with no wait for a response.
func (c *Channel) SendHex(data []byte) error {
	enc := make([]byte, hex.EncodedLen(len(data)))
	hex.Encode(enc, data)
	return c.SendRaw(bytes.ToUpper(enc))
}

// Config tries each value in options in turn, issuing "AT+"+cmdPrefix+"="+value
// and returning the first value whose response is not a Final error,
// sleeping between attempts. This mirrors the option-negotiation helper of
// the system this package is modeled on, where a modem may reject an
// unsupported configuration value without otherwise disturbing the channel.
func (c *Channel) Config(ctx context.Context, cmdPrefix string, options []string) (string, error) {
	var lastErr error
	for _, opt := range options {
		resp, err := c.Command(ctx, "+%s=%s", cmdPrefix, opt)
		if err != nil {
			return "", err
		}
		ferr := IsFinalError(resp)
		if ferr == nil {
			return opt, nil
		}
		lastErr = ferr
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if lastErr == nil {
		lastErr = ErrConfigNoOptions
	}
	return "", lastErr
}
