// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

package serial

import (
	"os"
	"syscall"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"

	"github.com/cloudyourcar/atmodem/at"
)

// termios2 mirrors struct termios2 from <asm-generic/termbits.h>. The extra
// ISpeed/OSpeed fields let BOTHER carry an arbitrary integer baud rate that
// has no entry in the historical Bxxxxx table, which some cellular modules
// (and most USB-CDC-ACM ports) need.
type termios2 struct {
	Iflag, Oflag, Cflag, Lflag uint32
	Line                       byte
	Cc                         [19]byte
	ISpeed, OSpeed             uint32
}

var (
	tcgets2 = ioctl.IOR('T', 0x2A, unsafe.Sizeof(termios2{}))
	tcsets2 = ioctl.IOW('T', 0x2B, unsafe.Sizeof(termios2{}))
)

const (
	cBaud   = 0010017
	cBaudEx = 0010000
	bOther  = cBaudEx

	iGNPAR = 0000004
	cREAD  = 0000200
	cS8    = 0000060
	cLOCAL = 0004000
)

// RawTTYDialer opens a tty device directly with O_NOCTTY/O_RDWR and drives
// it into raw, 8N1, BOTHER mode via TCSETS2, rather than going through
// tarm/serial's fixed baud table. It exists for modems whose AT-mode baud
// (often set by the module's firmware rather than chosen by the host) does
// not land on one of the standard rates.
type RawTTYDialer struct {
	Path string
	Baud uint32
}

// Dial implements at.Dialer.
func (d RawTTYDialer) Dial() (at.Transport, error) {
	f, err := os.OpenFile(d.Path, syscall.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, err
	}
	fd := f.Fd()

	var tio termios2
	if err := ioctl.Ioctl(fd, tcgets2, uintptr(unsafe.Pointer(&tio))); err != nil {
		f.Close()
		return nil, err
	}

	tio.Iflag = 0
	tio.Oflag = 0
	tio.Lflag = 0
	tio.Cflag = (tio.Cflag &^ (cBaud | cS8 | iGNPAR)) | cS8 | cREAD | cLOCAL | bOther
	tio.ISpeed = d.Baud
	tio.OSpeed = d.Baud
	tio.Cc[6] = 1 // VMIN: return as soon as 1 byte is available
	tio.Cc[5] = 0 // VTIME: no inter-byte timeout

	if err := ioctl.Ioctl(fd, tcsets2, uintptr(unsafe.Pointer(&tio))); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
