// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// modeminfo collects and displays information related to the modem and its
// current configuration.
//
// This serves as an example of how interact with a modem, as well as
// providing information which may be useful for debugging.
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
	"github.com/cloudyourcar/atmodem/serial"
	"github.com/cloudyourcar/atmodem/trace"
)

var version = "undefined"

func main() {
	dev := flag.String("d", "/dev/ttyUSB0", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	timeout := flag.Duration("t", 400*time.Millisecond, "command timeout period")
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
		log.Println(err)
		return
	}
	defer ch.Free()
	ch.SetTimeout(*timeout)

	cmds := []string{
		"I",
		"+GCAP",
		"+CMEE=2",
		"+CGMI",
		"+CGMM",
		"+CGMR",
		"+CGSN",
		"+CSQ",
		"+CIMI",
		"+CREG?",
		"+CNUM",
		"+CPIN?",
		"+CEER",
		"+CSCA?",
		"+CSMS?",
		"+CSMS=?",
		"+CPMS=?",
		"+CCID?",
		"+CCID=?",
		"^ICCID?",
		"+CNMI?",
		"+CNMI=?",
		"+CNMA=?",
		"+CMGF?",
		"+CMGF=?",
		"+CUSD?",
		"+CUSD=?",
		"^USSDMODE?",
		"^USSDMODE=?",
	}
	ctx := context.Background()
	for _, cmd := range cmds {
		cctx, cancel := context.WithTimeout(ctx, *timeout)
		resp, err := ch.Command(cctx, "%s", cmd)
		cancel()
		fmt.Println("AT" + cmd)
		if err != nil {
			fmt.Printf(" %s\n", err)
			continue
		}
		if ferr := at.IsFinalError(resp); ferr != nil {
			fmt.Printf(" %s\n", ferr)
			continue
		}
		for _, l := range strings.Split(resp, "\n") {
			if l == "" {
				continue
			}
			fmt.Printf(" %s\n", l)
		}
	}
}
