package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/jmcleod/ticketizer/captcha"
	"github.com/jmcleod/ticketizer/purchase"
)

// console reads answers line by line from the command's input.
type console struct {
	raw io.Reader
	in  *bufio.Reader
	out io.Writer
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{raw: in, in: bufio.NewReader(in), out: out}
}

// ask prints prompt and returns the trimmed answer, or def for an empty one.
func (c *console) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(c.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(c.out, "%s: ", prompt)
	}
	line, err := c.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// password reads a line without echo when the input is a terminal.
func (c *console) password(prompt string) ([]byte, error) {
	if f, ok := c.raw.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(c.out, "%s: ", prompt)
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.out)
		return pw, err
	}
	line, err := c.ask(prompt, "")
	if err != nil {
		return nil, err
	}
	return []byte(line), nil
}

// parseIndexes reads a comma separated list of distinct indexes below n.
func parseIndexes(answer string, n int) ([]int, error) {
	var out []int
	seen := map[int]bool{}
	for _, part := range strings.Split(answer, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil || i < 0 || i >= n {
			return nil, fmt.Errorf("%q is not a number between 0 and %d", part, n-1)
		}
		if seen[i] {
			return nil, fmt.Errorf("%d is listed twice", i)
		}
		seen[i] = true
		out = append(out, i)
	}
	if len(out) == 0 {
		return nil, errors.New("nothing selected")
	}
	return out, nil
}

// choose asks until the answer parses, or the input ends.
func (c *console) choose(prompt string, n int) ([]int, error) {
	for {
		answer, err := c.ask(prompt, "")
		if err != nil {
			return nil, err
		}
		idx, err := parseIndexes(answer, n)
		if err == nil {
			return idx, nil
		}
		fmt.Fprintln(c.out, "Invalid input:", err)
	}
}

// captchaSolver writes each image to dir and asks for the answer. CHANGE
// submits nothing, which fails verification and fetches a new image; ABORT
// stops the operation.
func (c *console) captchaSolver(dir string) captcha.Solver {
	return func(ctx context.Context, image []byte) captcha.Outcome {
		path := filepath.Join(dir, "ticketizer-captcha.jpg")
		if err := os.WriteFile(path, image, 0o600); err != nil {
			fmt.Fprintln(c.out, "Could not save captcha image:", err)
			return captcha.Abort()
		}
		defer os.Remove(path)

		fmt.Fprintf(c.out, "Captcha image saved to %s\n", path)
		answer, err := c.ask("Enter captcha answer (CHANGE for a new image, ABORT to stop)", "")
		if err != nil || ctx.Err() != nil {
			return captcha.Abort()
		}
		switch strings.ToUpper(answer) {
		case "ABORT":
			return captcha.Abort()
		case "CHANGE":
			return captcha.Answer("")
		}
		return captcha.Answer(answer)
	}
}

// queueObserver reports each poll. Unless wait is set, it asks whether to keep
// waiting.
func (c *console) queueObserver(wait bool) purchase.Observer {
	return func(ctx context.Context, s purchase.QueueStatus) purchase.Decision {
		if s.Wait > 0 {
			fmt.Fprintf(c.out, "Waiting in line, %d ahead (about %s)\n", s.Count, s.Wait)
		} else {
			fmt.Fprintf(c.out, "Waiting in line, %d ahead\n", s.Count)
		}
		if wait {
			return purchase.Continue
		}
		answer, err := c.ask("Type ABORT to abort, or press Enter to check again", "")
		if err != nil || ctx.Err() != nil || strings.EqualFold(answer, "ABORT") {
			return purchase.Abort
		}
		return purchase.Continue
	}
}
