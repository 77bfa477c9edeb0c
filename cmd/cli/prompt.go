package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

var errNotInteractive = errors.New("stdin is not a terminal; pass the value as a flag")

// prompter asks for missing values. It refuses to prompt unless stdin is a
// terminal so scripted runs fail instead of hanging.
type prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

func newPrompter(in *os.File, out io.Writer) *prompter {
	return &prompter{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: term.IsTerminal(int(in.Fd())),
	}
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ask reads a free-form value.
func (p *prompter) ask(label string) (string, error) {
	if !p.interactive {
		return "", fmt.Errorf("%s is required: %w", label, errNotInteractive)
	}
	fmt.Fprintf(p.out, "%s: ", label)
	value, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	if value == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	return value, nil
}

// choose prints options numbered from 1 and returns the zero-based index
// of the chosen one.
func (p *prompter) choose(label string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("no %s to choose from", label)
	}
	if !p.interactive {
		return 0, fmt.Errorf("%s is required: %w", label, errNotInteractive)
	}
	for i, option := range options {
		fmt.Fprintf(p.out, "%3d) %s\n", i+1, option)
	}
	fmt.Fprintf(p.out, "select %s [1-%d]: ", label, len(options))
	line, err := p.readLine()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", label, err)
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(options) {
		return 0, fmt.Errorf("invalid %s selection %q", label, line)
	}
	return n - 1, nil
}
