// atconsole is an interactive REPL over a Channel: it exists to let a
// developer poke at a modem by hand the way the C library's at_command/
// at_send pair invites, without writing a throwaway Go program each time.
//
// Each line typed is tokenized with a shell-like quoting rule (so a
// quoted argument can contain spaces) and dispatched to one of a small set
// of builtin verbs:
//
//	at <command>     issue "AT"+<command>+"\r" and print the response
//	send <text>      push text with no CR, for a command already waiting
//	                  on a data prompt ("> ")
//	quit / exit      leave the console
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/cloudyourcar/atmodem/at"
	"github.com/cloudyourcar/atmodem/serial"
	"github.com/cloudyourcar/atmodem/trace"
)

var version = "undefined"

func main() {
	dev := flag.String("d", "/dev/ttyUSB0", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	timeout := flag.Duration("t", 2*time.Second, "command timeout period")
	verbose := flag.Bool("v", false, "log raw reads and writes to the modem")
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

	fmt.Println("atconsole: at <command> | send <text> | quit")
	if err := repl(os.Stdin, os.Stdout, ch); err != nil && err != io.EOF {
		log.Fatal(err)
	}
}

func repl(r io.Reader, w io.Writer, ch *at.Channel) error {
	ctx := context.Background()
	scanner := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		tokens, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintln(w, "parse error:", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}

		verb := strings.ToLower(tokens[0])
		args := strings.Join(tokens[1:], " ")
		switch verb {
		case "quit", "exit":
			return nil
		case "at":
			resp, err := ch.Command(ctx, "%s", args)
			report(w, resp, err)
		case "send":
			if err := ch.Send("%s", args); err != nil {
				fmt.Fprintln(w, "error:", err)
			}
		default:
			fmt.Fprintf(w, "unknown command %q (want at, send, quit)\n", verb)
		}
	}
}

func report(w io.Writer, resp string, err error) {
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return
	}
	if ferr := at.IsFinalError(resp); ferr != nil {
		fmt.Fprintln(w, "modem error:", ferr)
		return
	}
	if resp != "" {
		fmt.Fprintln(w, resp)
	}
	fmt.Fprintln(w, "OK")
}
