// Package prompt collects input from the operator: captcha codes typed after
// looking at the challenge, and credentials.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNoInput is returned when the input stream ends before a line is read.
var ErrNoInput = errors.New("no input available")

type lineResult struct {
	line string
	err  error
}

// CliPrompter reads answers line by line from in and writes questions to out.
type CliPrompter struct {
	in     io.Reader
	reader *bufio.Reader
	out    io.Writer

	mu      sync.Mutex
	pending chan lineResult
}

// NewCliPrompter creates a new CliPrompter.
func NewCliPrompter(in io.Reader, out io.Writer) *CliPrompter {
	return &CliPrompter{in: in, reader: bufio.NewReader(in), out: out}
}

// IsInteractive checks if the input is a terminal.
func (p *CliPrompter) IsInteractive() bool {
	f, ok := p.in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Ask prints label and returns the next line with surrounding whitespace
// removed. It returns ctx.Err() as soon as ctx is done; the abandoned read
// is kept and answers the next call.
func (p *CliPrompter) Ask(ctx context.Context, label string) (string, error) {
	_, _ = fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.readLine(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// AskSecret is Ask without echo when the input is a terminal.
func (p *CliPrompter) AskSecret(ctx context.Context, label string) (string, error) {
	if !p.IsInteractive() {
		return p.Ask(ctx, label)
	}

	_, _ = fmt.Fprintf(p.out, "%s: ", label)
	fd := int(p.in.(*os.File).Fd())
	done := make(chan lineResult, 1)
	go func() {
		b, err := term.ReadPassword(fd)
		done <- lineResult{line: string(b), err: err}
	}()

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(p.out)
		return "", ctx.Err()
	case r := <-done:
		_, _ = fmt.Fprintln(p.out)
		if r.err != nil {
			return "", fmt.Errorf("read secret: %w", r.err)
		}
		return r.line, nil
	}
}

func (p *CliPrompter) readLine(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.pending == nil {
		ch := make(chan lineResult, 1)
		p.pending = ch
		go func() {
			line, err := p.reader.ReadString('\n')
			ch <- lineResult{line: line, err: err}
		}()
	}
	pending := p.pending
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-pending:
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()

		if r.err != nil {
			if errors.Is(r.err, io.EOF) && r.line != "" {
				return r.line, nil
			}
			if errors.Is(r.err, io.EOF) {
				return "", ErrNoInput
			}
			return "", fmt.Errorf("read input: %w", r.err)
		}
		return r.line, nil
	}
}
