// SPDX-License-Identifier: MIT
//
// Copyright © 2018 Kent Gibson <warthog618@gmail.com>.

// phonebook dumps the contents of the modem SIM phonebook.
//
// This provides an example of processing the info returned by the modem.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudyourcar/atmodem/at"
	"github.com/cloudyourcar/atmodem/drivers/gsm"
	"github.com/cloudyourcar/atmodem/info"
	"github.com/cloudyourcar/atmodem/serial"
	"github.com/cloudyourcar/atmodem/trace"
)

func main() {
	dev := flag.String("d", "/dev/ttyUSB0", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
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
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	err := g.Init(ctx)
	cancel()
	if err != nil {
		log.Println(err)
		return
	}

	ctx, cancel = context.WithTimeout(context.Background(), *timeout)
	resp, err := ch.Command(ctx, "+CPBR=1,99")
	cancel()
	if err != nil {
		log.Println(err)
		return
	}
	for _, l := range strings.Split(resp, "\n") {
		if !info.HasPrefix(l, "+CPBR") {
			continue
		}
		entry := strings.Split(info.TrimPrefix(l, "+CPBR"), ",")
		nameh := []byte(strings.Trim(entry[3], "\""))
		name := make([]byte, hex.DecodedLen(len(nameh)))
		n, err := hex.Decode(name, nameh)
		if err != nil {
			log.Fatal("decode error ", err)
		}
		fmt.Printf("%2s %-10s %s\n", entry[0], strings.Trim(entry[1], "\""), name[:n])
	}
}
