// SPDX-License-Identifier: MIT
//
// Copyright © 2020 Kent Gibson <warthog618@gmail.com>.

// ussd sends a USSD message using the modem.
//
// This provides an example of using the GSM driver's USSD command.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cloudyourcar/atmodem/at"
	"github.com/cloudyourcar/atmodem/drivers/gsm"
	"github.com/cloudyourcar/atmodem/info"
	"github.com/cloudyourcar/atmodem/serial"
	"github.com/cloudyourcar/atmodem/trace"
)

var version = "undefined"

func main() {
	dev := flag.String("d", "/dev/ttyUSB0", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	msg := flag.String("m", "*101#", "the message to send")
	timeout := flag.Duration("t", 5*time.Second, "command timeout period")
	verbose := flag.Bool("v", false, "log modem interactions")
	vsn := flag.Bool("version", false, "report version and exit")
	flag.Parse()
	if *vsn {
		fmt.Printf("%s %s\n", os.Args[0], version)
		os.Exit(0)
	}

	var dialer at.Dialer = serial.NewDialer(serial.WithPort(*dev), serial.WithBaud(*baud))
	if *verbose {
		dialer = trace.NewDialer(dialer)
	}
	ch := at.New(dialer)
	if err := ch.Open(); err != nil {
		log.Fatal(err)
	}
	defer ch.Free()
	ch.SetTimeout(*timeout)

	g := gsm.New(ch)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := g.Init(ctx); err != nil {
		log.Fatal(err)
	}

	resp, err := g.USSD(ctx, *msg)
	if err != nil {
		log.Fatal(err)
	}
	for _, l := range strings.Split(resp, "\n") {
		if !info.HasPrefix(l, "+CUSD") {
			continue
		}
		fields := strings.Split(info.TrimPrefix(l, "+CUSD"), ",")
		if len(fields) < 2 {
			continue
		}
		fmt.Println(strings.Trim(fields[1], "\""))
		return
	}
	fmt.Println(resp)
}
