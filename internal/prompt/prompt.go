// Package prompt is the user-facing question surface: stall warnings,
// store-size advisories, and edit-suppression notices. Prompts are
// invoked from the asking account's own goroutine so an open question
// never blocks other accounts.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Prompter asks the user modal questions.
type Prompter interface {
	// AskYesNo asks a yes/no question and reports the answer.
	AskYesNo(title, body string) bool

	// Confirm asks an OK/cancel question and reports whether the user
	// confirmed.
	Confirm(title, body string) bool

	// Warn shows a notice requiring no decision.
	Warn(title, body string)
}

// Terminal is a Prompter reading answers from an input stream, stdin
// by default. Access is serialized so interleaved questions from
// different accounts do not garble the stream.
type Terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTerminal creates a prompter on the given streams. Nil streams
// default to stdin and stderr.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	return &Terminal{in: bufio.NewReader(in), out: out}
}

// AskYesNo prints the question and reads a y/n answer. Anything that
// is not an explicit yes counts as no.
func (t *Terminal) AskYesNo(title, body string) bool {
	return t.ask(title, body, "[y/N]")
}

// Confirm prints the question and reads an ok/cancel answer.
func (t *Terminal) Confirm(title, body string) bool {
	return t.ask(title, body, "[ok/cancel]")
}

// Warn prints the notice without waiting for input.
func (t *Terminal) Warn(title, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "\n%s\n%s\n", title, body)
}

func (t *Terminal) ask(title, body, hint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "\n%s\n%s\n%s ", title, body, hint)

	line, err := t.in.ReadString('\n')
	if err != nil {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "ok":
		return true
	}
	return false
}
