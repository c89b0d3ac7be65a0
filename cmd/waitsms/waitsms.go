// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// waitsms waits for SMSs to be received by the modem, and dumps them to
// stdout.
//
// This provides an example of using URCs, as well as a test that the
// library works with the modem.
//
// The modem device provided must support notifications, or no SMSs will be
// seen. (the notification port is typically USB2, hence the default)
package main

import (
	"context"
	"flag"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/pdumode"
	"github.com/warthog618/sms/encoding/tpdu"

	"github.com/cloudyourcar/atmodem/at"
	"github.com/cloudyourcar/atmodem/drivers/gsm"
	"github.com/cloudyourcar/atmodem/drivers/signal"
	"github.com/cloudyourcar/atmodem/serial"
	"github.com/cloudyourcar/atmodem/trace"
)

func main() {
	dev := flag.String("d", "/dev/ttyUSB2", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	period := flag.Duration("p", 10*time.Minute, "period to wait")
	timeout := flag.Duration("t", 400*time.Millisecond, "command timeout period")
	verbose := flag.Bool("v", false, "log modem interactions")
	flag.Parse()

	var dialer at.Dialer = serial.NewDialer(serial.WithPort(*dev), serial.WithBaud(*baud))
	if *verbose {
		dialer = trace.NewDialer(dialer)
	}
	ch := at.New(dialer)
	if err := ch.Open(); err != nil {
		log.Println(err)
		return
	}
	defer ch.Free()
	ch.SetTimeout(*timeout)

	g := gsm.New(ch)
	g.SetPDUMode()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	err := g.Init(ctx)
	cancel()
	if err != nil {
		log.Println(err)
		return
	}

	ctx, cancel = context.WithTimeout(context.Background(), *period)
	defer cancel()
	go pollSignalQuality(ctx, ch)
	waitForSMSs(ctx, ch, *timeout)
}

// pollSignalQuality polls the modem to read signal quality every minute.
//
// This is run in parallel to waitForSMSs to demonstrate separate goroutines
// interacting with the modem.
func pollSignalQuality(ctx context.Context, ch *at.Channel) {
	for {
		select {
		case <-time.After(time.Minute):
			r, err := signal.Query(ctx, ch)
			if err != nil {
				log.Println(err)
			} else {
				log.Printf("Signal quality: %.0f dBm\n", r.RSSI)
			}
		case <-ctx.Done():
			return
		}
	}
}

// cmtCollector reassembles a +CMT: PDU-mode notification, which arrives as
// two lines (the header, then the TPDU hex on its own line), into a single
// value on out. It runs entirely on the Channel's reader goroutine: ScanLine
// and HandleURC are only ever called from there, so its state needs no lock.
type cmtCollector struct {
	pending string
	out     chan [2]string

	// expectPDU is scanLine's own note that the next line is the TPDU of a
	// +CMT: header it has just classified. The Channel scans every line of
	// a Read before it delivers any of them to handleURC, so scanLine cannot
	// rely on pending for this.
	expectPDU bool
}

func (c *cmtCollector) scanLine(line string, _ interface{}) at.Classification {
	if strings.HasPrefix(line, "+CMT:") {
		c.expectPDU = true
		return at.Urc
	}
	if c.expectPDU {
		c.expectPDU = false
		return at.Urc
	}
	return at.Classification{}
}

func (c *cmtCollector) handleURC(line string, _ interface{}) {
	if strings.HasPrefix(line, "+CMT:") {
		c.pending = line
		return
	}
	header := c.pending
	c.pending = ""
	if header == "" {
		return
	}
	select {
	case c.out <- [2]string{header, line}:
	default:
		log.Println("waitsms: dropped a CMT notification, receiver not keeping up")
	}
}

// waitForSMSs installs the CMT collector and prints any received SMSs. It
// reassembles multi-part SMSs into a complete message before display, and
// runs until ctx is done.
func waitForSMSs(ctx context.Context, ch *at.Channel, timeout time.Duration) {
	collector := &cmtCollector{out: make(chan [2]string, 8)}
	ch.SetCallbacks(at.Callbacks{ScanLine: collector.scanLine, HandleURC: collector.handleURC})

	cctx, cancel := context.WithTimeout(ctx, timeout)
	// Mode 2: the modem pushes the PDU directly instead of just notifying
	// that one is stored, so CNMA below is required to acknowledge it.
	if _, err := ch.Command(cctx, "+CNMI=1,2,2,1,0"); err != nil {
		log.Println(err)
		cancel()
		return
	}
	cancel()

	reassemblyTimeout := func(tpdus []*tpdu.TPDU) {
		log.Printf("reassembly timeout: %v", tpdus)
	}
	collectr := sms.NewCollector(sms.WithReassemblyTimeout(time.Hour, reassemblyTimeout))
	defer collectr.Close()

	for {
		select {
		case <-ctx.Done():
			log.Println("exiting...")
			return
		case pair := <-collector.out:
			handleCMT(ctx, ch, collectr, pair[0], pair[1], timeout)
		}
	}
}

func handleCMT(ctx context.Context, ch *at.Channel, c *sms.Collector, header, pduHex string, timeout time.Duration) {
	actx, acancel := context.WithTimeout(ctx, timeout)
	ch.Command(actx, "+CNMA")
	acancel()

	fields := strings.Split(header, ",")
	l, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		log.Printf("err: %v\n", err)
		return
	}
	pdu, err := pdumode.UnmarshalHexString(pduHex)
	if err != nil {
		log.Printf("err: %v\n", err)
		return
	}
	if l != len(pdu.TPDU) {
		log.Printf("length mismatch - expected %d, got %d", l, len(pdu.TPDU))
		return
	}
	tp := tpdu.TPDU{}
	if err := tp.UnmarshalBinary(pdu.TPDU); err != nil {
		log.Printf("err: %v\n", err)
		return
	}
	tpdus, err := c.Collect(tp)
	if err != nil {
		log.Printf("err: %v\n", err)
		return
	}
	m, err := sms.Decode(tpdus)
	if err != nil {
		log.Printf("err: %v\n", err)
	}
	if m != nil {
		log.Printf("%s: %s\n", tpdus[0].OA.Number(), m)
	}
}
