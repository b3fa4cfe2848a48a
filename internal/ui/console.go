// Package ui renders the interactive terminal: styled output, numbered
// menus and prompts.
package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// ErrInputClosed is returned when the input ends while a prompt waits.
var ErrInputClosed = errors.New("input closed")

// ErrAborted is returned when the user aborts a secret prompt.
var ErrAborted = errors.New("aborted")

// SecretReader reads a value without echoing it.
type SecretReader func(prompt string) (string, error)

// Console reads answers from in and writes styled output to out.
type Console struct {
	in     *bufio.Reader
	out    io.Writer
	secret SecretReader
	th     theme
}

// Option configures a Console.
type Option func(*Console)

// WithSecretReader replaces how secrets are read.
func WithSecretReader(r SecretReader) Option {
	return func(c *Console) { c.secret = r }
}

// New creates a console. Secrets are read as plain lines unless a
// SecretReader is supplied.
func New(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		in:  bufio.NewReader(in),
		out: out,
		th:  newTheme(lipgloss.NewRenderer(out)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stdio creates a console on the process terminal. When stdin is a TTY,
// secrets are typed into a masked input field.
func Stdio() *Console {
	var opts []Option
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		opts = append(opts, WithSecretReader(func(prompt string) (string, error) {
			return readMasked(os.Stdin, os.Stdout, prompt)
		}))
	}
	return New(os.Stdin, os.Stdout, opts...)
}

// Header prints the application banner.
func (c *Console) Header(title, subtitle string) {
	body := c.th.title.Render(title)
	if subtitle != "" {
		body += "\n" + c.th.subtitle.Render(subtitle)
	}
	fmt.Fprintln(c.out, c.th.panel.Render(body))
}

// Section prints a section heading.
func (c *Console) Section(title string) {
	fmt.Fprintln(c.out, c.th.section.Render(title))
}

// Println prints plain text.
func (c *Console) Println(a ...any) { fmt.Fprintln(c.out, a...) }

// Printf prints formatted plain text.
func (c *Console) Printf(format string, a ...any) { fmt.Fprintf(c.out, format, a...) }

func (c *Console) Info(format string, a ...any) {
	fmt.Fprintln(c.out, c.th.info.Render(fmt.Sprintf(format, a...)))
}

func (c *Console) Success(format string, a ...any) {
	fmt.Fprintln(c.out, c.th.success.Render("✓ "+fmt.Sprintf(format, a...)))
}

func (c *Console) Warn(format string, a ...any) {
	fmt.Fprintln(c.out, c.th.warning.Render("! "+fmt.Sprintf(format, a...)))
}

func (c *Console) Error(format string, a ...any) {
	fmt.Fprintln(c.out, c.th.err.Render("✗ "+fmt.Sprintf(format, a...)))
}

func (c *Console) Muted(format string, a ...any) {
	fmt.Fprintln(c.out, c.th.muted.Render(fmt.Sprintf(format, a...)))
}

// KeyValues prints aligned label/value pairs inside a panel.
func (c *Console) KeyValues(title string, pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	lines := make([]string, 0, len(pairs)+1)
	if title != "" {
		lines = append(lines, c.th.title.Render(title))
	}
	for _, p := range pairs {
		lines = append(lines, c.th.label.Render(fmt.Sprintf("%-*s", width, p[0]))+"  "+p[1])
	}
	fmt.Fprintln(c.out, c.th.panel.Render(strings.Join(lines, "\n")))
}

// Table prints rows under headers.
func (c *Console) Table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(c.th.muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return c.th.header
			}
			return c.th.cell
		})
	fmt.Fprintln(c.out, t.Render())
}

// Menu prints numbered items.
func (c *Console) Menu(title string, items []string) {
	if title != "" {
		c.Section(title)
	}
	for i, item := range items {
		fmt.Fprintf(c.out, "  %s %s\n", c.th.number.Render(strconv.Itoa(i+1)+"."), item)
	}
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrInputClosed
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Console) prompt(label, def string) {
	if def != "" {
		fmt.Fprintf(c.out, "%s %s: ", c.th.label.Render(label), c.th.muted.Render("["+def+"]"))
		return
	}
	fmt.Fprintf(c.out, "%s: ", c.th.label.Render(label))
}

// Ask reads a line; an empty answer yields def.
func (c *Console) Ask(label, def string) (string, error) {
	c.prompt(label, def)
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return def, nil
	}
	return line, nil
}

// AskValid repeats Ask until validate accepts the answer, printing each
// rejection inline.
func (c *Console) AskValid(label, def string, validate func(string) error) (string, error) {
	for {
		v, err := c.Ask(label, def)
		if err != nil {
			return "", err
		}
		if verr := validate(v); verr != nil {
			c.Error("%v", verr)
			continue
		}
		return v, nil
	}
}

// Choose reads a number between 1 and n. def of 0 means no default.
func (c *Console) Choose(label string, n, def int) (int, error) {
	d := ""
	if def > 0 {
		d = strconv.Itoa(def)
	}
	for {
		v, err := c.Ask(label, d)
		if err != nil {
			return 0, err
		}
		i, err := strconv.Atoi(v)
		if err != nil || i < 1 || i > n {
			c.Error("Enter a number between 1 and %d", n)
			continue
		}
		return i, nil
	}
}

// Confirm asks a yes/no question.
func (c *Console) Confirm(label string, def bool) (bool, error) {
	d := "y/N"
	if def {
		d = "Y/n"
	}
	for {
		c.prompt(label, d)
		line, err := c.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		c.Error("Answer y or n")
	}
}

// Secret reads a value without echo when possible.
func (c *Console) Secret(label string) (string, error) {
	if c.secret != nil {
		v, err := c.secret(label)
		return strings.TrimSpace(v), err
	}
	c.prompt(label, "")
	line, err := c.readLine()
	return strings.TrimSpace(line), err
}
