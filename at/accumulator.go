package at

import "strings"

// accumulator is the response accumulator (component C3): it collects the
// intermediate lines (and any payload bytes, kept as lines in their own
// right) belonging to the in-flight command, and queues URC lines
// separately for delivery between reads. It is only ever touched from the
// reader goroutine.
type accumulator struct {
	lines []string

	pendingURCs []string

	done      bool
	isErr     bool
	finalLine string
}

func newAccumulator(capacity int) *accumulator {
	return &accumulator{lines: make([]string, 0, capacity)}
}

// begin resets accumulation state for a new in-flight command. The
// underlying lines buffer's capacity is kept, never shrunk.
func (a *accumulator) begin() {
	a.lines = a.lines[:0]
	a.done = false
	a.isErr = false
	a.finalLine = ""
}

func (a *accumulator) appendLine(line string) {
	a.lines = append(a.lines, line)
}

// finish records that a terminal classification was reached. isErr
// distinguishes KindFinal (the triggering line is kept) from KindFinalOk
// (it is dropped).
func (a *accumulator) finish(isErr bool, finalLine string) {
	a.done = true
	a.isErr = isErr
	a.finalLine = finalLine
}

// poll reports whether the command has reached a terminal classification
// and, if so, the assembled result.
func (a *accumulator) poll() (bool, commandResult) {
	if !a.done {
		return false, commandResult{}
	}
	lines := a.lines
	if a.isErr && a.finalLine != "" {
		lines = append(lines, a.finalLine)
	}
	return true, commandResult{text: strings.Join(lines, "\n")}
}
