// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package console is the operator-facing terminal: styled prompts, hidden
// scan input and single-line progress.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	retryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Background(lipgloss.Color("235")).
			Bold(true).
			Padding(0, 1)

	failureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("9")).
			Bold(true).
			Padding(0, 1)
)

// Console reads operator input and writes operator output
type Console struct {
	in  *bufio.Reader
	fd  int
	tty bool
	out io.Writer

	mu       sync.Mutex
	progress bool
}

// New creates a console. Hidden input is only hidden when in is a terminal.
func New(in io.Reader, out io.Writer) *Console {
	c := &Console{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
		c.tty = true
	}
	return c
}

// Stdio returns a console on the process standard streams
func Stdio() *Console {
	return New(os.Stdin, os.Stdout)
}

type readResult struct {
	line string
	err  error
}

func (c *Console) await(ctx context.Context, read func() (string, error)) (string, error) {
	done := make(chan readResult, 1)
	go func() {
		line, err := read()
		done <- readResult{line, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.line, r.err
	}
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Console) label(text string, retry bool) string {
	if retry {
		return retryStyle.Render(text)
	}
	return promptStyle.Render(text)
}

// Prompt shows label and reads one line. A retry prompt is shown in red.
func (c *Console) Prompt(ctx context.Context, label string, retry bool) (string, error) {
	c.endProgress()
	fmt.Fprint(c.out, c.label(label, retry)+": ")
	return c.await(ctx, c.readLine)
}

// PromptSecret reads one line without echo
func (c *Console) PromptSecret(ctx context.Context, label string, retry bool) (string, error) {
	if !c.tty {
		return c.Prompt(ctx, label, retry)
	}
	c.endProgress()
	fmt.Fprint(c.out, c.label(label, retry)+": ")
	line, err := c.await(ctx, func() (string, error) {
		b, err := term.ReadPassword(c.fd)
		return string(b), err
	})
	fmt.Fprintln(c.out)
	return strings.TrimRight(line, "\r\n"), err
}

// Infof prints a line of information
func (c *Console) Infof(format string, args ...any) {
	c.line(infoStyle, format, args...)
}

func (c *Console) Warnf(format string, args ...any) {
	c.line(warnStyle, format, args...)
}

// Printf prints unstyled text, used for indented detail lines
func (c *Console) Printf(format string, args ...any) {
	c.endProgress()
	fmt.Fprintf(c.out, format, args...)
}

// Success prints the final pass banner
func (c *Console) Success(msg string) {
	c.endProgress()
	fmt.Fprintln(c.out, successStyle.Render(msg))
}

// Failure prints the final fail banner
func (c *Console) Failure(msg string) {
	c.endProgress()
	fmt.Fprintln(c.out, failureStyle.Render(msg))
}

// Progress rewrites the current status line
func (c *Console) Progress(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text := fmt.Sprintf(format, args...)
	fmt.Fprint(c.out, "\r"+promptStyle.Render(text)+"\x1b[K")
	c.progress = true
}

// EndProgress finishes the status line with msg
func (c *Console) EndProgress(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress {
		fmt.Fprint(c.out, "\r\x1b[K")
		c.progress = false
	}
	fmt.Fprintln(c.out, msg)
}

func (c *Console) endProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress {
		fmt.Fprintln(c.out)
		c.progress = false
	}
}

func (c *Console) line(style lipgloss.Style, format string, args ...any) {
	c.endProgress()
	fmt.Fprintln(c.out, style.Render(fmt.Sprintf(format, args...)))
}
