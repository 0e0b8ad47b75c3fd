// Package input reads human responses for Input steps.
package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// ErrNoInput is returned when no response can be read, for example when
// stdin is closed or not interactive.
var ErrNoInput = errors.New("no input available")

// Request describes one question put to the user.
type Request struct {
	Prompt     string
	Name       string
	Type       string
	Options    []string
	Default    any
	HasDefault bool
	Required   bool
}

// Prompter asks the user a question and returns the raw answer.
type Prompter interface {
	Ask(ctx context.Context, req Request) (string, error)
}

// TerminalPrompter reads answers line by line. The prompt text is written
// only when the input is an interactive terminal, so piped input stays quiet.
type TerminalPrompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool

	mu sync.Mutex
	// pending is a read still in flight from an Ask whose context ended.
	pending chan lineResult
}

// NewTerminalPrompter prompts on out and reads in. It is interactive when
// in is a terminal.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return NewPrompter(in, out, IsTerminal(in))
}

// IsTerminal reports whether r is a terminal device.
func IsTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewPrompter creates a TerminalPrompter over arbitrary streams.
func NewPrompter(in io.Reader, out io.Writer, interactive bool) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out, interactive: interactive}
}

type lineResult struct {
	line string
	err  error
}

// Ask writes the prompt and waits for one line or for ctx to end.
func (p *TerminalPrompter) Ask(ctx context.Context, req Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interactive {
		fmt.Fprint(p.out, formatPrompt(req))
	}

	if p.pending == nil {
		ch := make(chan lineResult, 1)
		go func() {
			line, err := p.in.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				ch <- lineResult{err: ErrNoInput}
				return
			}
			ch <- lineResult{line: strings.TrimRight(line, "\r\n")}
		}()
		p.pending = ch
	}

	select {
	case res := <-p.pending:
		p.pending = nil
		return res.line, res.err
	case <-ctx.Done():
		if p.interactive {
			fmt.Fprintln(p.out)
		}
		return "", ctx.Err()
	}
}

func formatPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if len(req.Options) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(req.Options, "/"))
		b.WriteString("]")
	}
	if req.Type == "boolean" {
		b.WriteString(" (y/n)")
	}
	if req.HasDefault && req.Type != "password" {
		fmt.Fprintf(&b, " (default: %v)", req.Default)
	}
	b.WriteString(": ")
	return b.String()
}

var _ Prompter = (*TerminalPrompter)(nil)
