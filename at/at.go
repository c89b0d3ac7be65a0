// Package at is a streaming AT-command channel engine for GSM/LTE/NB-IoT
// cellular modems and other AT-command radios.
//
// It turns a half-duplex, line-and-prompt text protocol — polluted by
// unsolicited result codes (URCs), embedded binary payloads, freeform
// vendor chatter and prompt characters — into a synchronous request/
// response API with clean ownership of the serial transport.
//
// The package is deliberately narrow: it owns the line/payload parser, the
// request/response coordination, and the reader/writer concurrency
// discipline for sharing one Transport between a background reader and
// synchronous callers. Vendor modem semantics (socket I/O, SMS, PDP
// contexts, registration queries) are not part of this package; they are
// clients built on top of it, the way drivers/gsm and drivers/cellular
// are in this repository.
//
// # No echo mode
//
// The channel assumes the modem has echo disabled (ATE0); this package
// does not special-case echoed command lines.
//
// # Usage
//
//	ch := at.New(serial.NewDialer(serial.WithPort("/dev/ttyUSB0")))
//	if err := ch.Open(); err != nil {
//		log.Fatal(err)
//	}
//	defer ch.Free()
//	ch.SetTimeout(5 * time.Second)
//	resp, err := ch.Command(ctx, "+CSQ")
package at

import "io"

// Kind tags a Classification. Unknown lets a lower-priority scanner have
// the final say; the other kinds are returned by scanners or the default
// scanner and consumed by the channel's reader loop.
type Kind int

const (
	// Unknown means the scanner has no opinion; the next layer is tried.
	Unknown Kind = iota
	// KindUrc delivers the line immediately to the URC handler; it is
	// never accumulated into a response.
	KindUrc
	// KindIntermediate keeps accumulating lines into the response.
	KindIntermediate
	// KindFinalOk terminates the command; the result is the accumulated
	// lines without the line that triggered this.
	KindFinalOk
	// KindFinal terminates the command; the result includes the line
	// that triggered this (e.g. the ERROR/+CME ERROR text).
	KindFinal
	// KindHexData means the next N hex-encoded bytes are a payload.
	KindHexData
	// KindRawData means the next N bytes are a raw binary payload.
	KindRawData
)

// Classification is the tagged result of scanning one line. N is only
// meaningful for KindHexData/KindRawData, where it is the payload size in
// bytes.
type Classification struct {
	Kind Kind
	N    int
}

// Scanner-visible classification values for the common cases. Scanners
// needing HexDataFollows/RawDataFollows construct one with the N they
// parsed from the line (see HexDataFollows, RawDataFollows below).
var (
	// Intermediate is a response line that is part of the answer but
	// neither a URC nor a terminator.
	Intermediate = Classification{Kind: KindIntermediate}
	// Urc marks a line as an unsolicited result code.
	Urc = Classification{Kind: KindUrc}
	// FinalOk marks a line as the successful terminator of a command.
	FinalOk = Classification{Kind: KindFinalOk}
	// Final marks a line as the (possibly erroneous) terminator of a
	// command; its text is kept in the response.
	Final = Classification{Kind: KindFinal}
)

// HexDataFollows returns a classification indicating the next n bytes of
// payload follow as 2n hex digits.
func HexDataFollows(n int) Classification { return Classification{Kind: KindHexData, N: n} }

// RawDataFollows returns a classification indicating the next n bytes of
// payload follow as raw binary.
func RawDataFollows(n int) Classification { return Classification{Kind: KindRawData, N: n} }

// LineScanner classifies one line. It must not block and must not call
// back into Channel operations — it is a pure function of the line text
// (and whatever private state arg points to).
type LineScanner func(line string, arg interface{}) Classification

// CharacterHandler inspects and may rewrite every byte fed to the line
// assembler before default processing, while the channel is in line mode.
//
// It returns the byte to use in place of ch (out), whether that byte
// should be appended to the line being assembled at all (keep — returning
// keep=false lets the handler consume/swallow a byte, e.g. to strip a
// framing character), and whether the handler has finished its structural
// work and should be cleared before the next byte (done). This expands the
// single-return "ch -> ch'" contract into explicit result values instead of
// relying on a sentinel byte value to mean "done" or "drop".
type CharacterHandler func(ch byte, lineSoFar []byte, arg interface{}) (out byte, keep bool, done bool)

// ResponseHandler receives a URC line as it is classified, and is always
// invoked on the channel's reader goroutine.
type ResponseHandler func(line string, arg interface{})

// Transport is a byte stream connection to a modem: the core only ever
// performs a blocking read of available bytes and a best-effort write.
// Platform and backend specifics (baud rate, flow control, ioctls) live
// entirely behind this interface, never in a struct the channel casts to
// — see the serial package's Dialers for concrete Transports.
type Transport interface {
	io.ReadWriter
	io.Closer
}

// Dialer opens a Transport. Open calls Dial once to acquire the port; the
// Dialer itself is not needed afterwards.
type Dialer interface {
	Dial() (Transport, error)
}

// Callbacks are the persistent, channel-wide hooks installed by
// SetCallbacks. They are not copied.
type Callbacks struct {
	// ScanLine is tried after any per-command scanner and before the
	// default scanner, typically to recognize vendor-specific URC
	// prefixes or override terminal markers for one driver's commands.
	ScanLine LineScanner
	// HandleURC is invoked, on the reader goroutine, for every line
	// classified as a URC.
	HandleURC ResponseHandler
}
