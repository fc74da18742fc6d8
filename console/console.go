package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// ErrNoTerminal is returned when a secret prompt has no terminal to read from.
var ErrNoTerminal = errors.New("no terminal available for interactive prompt")

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 2).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("12"))
	warnStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("9"))
	warnTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(18)
)

// Console writes operator-facing text and reads confirmations. Styling is
// applied only when out is a terminal.
type Console struct {
	out    io.Writer
	in     *bufio.Reader
	inFile *os.File
	styled bool
}

// New creates a Console over in and out.
func New(in io.Reader, out io.Writer) *Console {
	c := &Console{out: out, in: bufio.NewReader(in)}
	if f, ok := in.(*os.File); ok {
		c.inFile = f
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.styled = true
	}
	return c
}

// Stdio is the console of the current process.
func Stdio() *Console {
	return New(os.Stdin, os.Stdout)
}

func (c *Console) render(style lipgloss.Style, s string) string {
	if !c.styled {
		return s
	}
	return style.Render(s)
}

// Banner prints a section heading.
func (c *Console) Banner(title string) {
	if c.styled {
		fmt.Fprintln(c.out, bannerStyle.Render(title))
		return
	}
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(c.out, "\n%s\n%s\n%s\n\n", rule, title, rule)
}

// Progress prints a progress line.
func (c *Console) Progress(msg string) {
	fmt.Fprintln(c.out, msg)
}

// Success prints a success line.
func (c *Console) Success(msg string) {
	fmt.Fprintln(c.out, c.render(okStyle, "OK  "+msg))
}

// Fail prints a failure line.
func (c *Console) Fail(msg string) {
	fmt.Fprintln(c.out, c.render(failStyle, "ERR "+msg))
}

// Warn prints a warning block.
func (c *Console) Warn(title string, lines ...string) {
	if !c.styled {
		fmt.Fprintf(c.out, "WARNING: %s\n", title)
		for _, l := range lines {
			fmt.Fprintf(c.out, "  %s\n", l)
		}
		return
	}
	body := warnTitleStyle.Render(title)
	if len(lines) > 0 {
		body += "\n" + strings.Join(lines, "\n")
	}
	fmt.Fprintln(c.out, warnStyle.Render(body))
}

// Field prints an aligned label/value pair.
func (c *Console) Field(label string, value any) {
	fmt.Fprintf(c.out, "  %s %v\n", c.render(labelStyle, label+":"), value)
}

// ConfirmInput prompts for phrase and returns the reader the answer is read
// from. The caller reads exactly one line.
func (c *Console) ConfirmInput(phrase string) io.Reader {
	fmt.Fprintf(c.out, "\nType '%s' to continue: ", phrase)
	return c.in
}

// ReadPassphrase prompts for a secret with echo disabled. With confirm set the
// passphrase is asked twice and must match.
func (c *Console) ReadPassphrase(prompt string, confirm bool) ([]byte, error) {
	if c.inFile == nil || !term.IsTerminal(int(c.inFile.Fd())) {
		return nil, ErrNoTerminal
	}

	read := func(p string) ([]byte, error) {
		fmt.Fprint(c.out, p)
		pass, err := term.ReadPassword(int(c.inFile.Fd()))
		fmt.Fprintln(c.out)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		return pass, nil
	}

	pass, err := read(prompt + ": ")
	if err != nil {
		return nil, err
	}
	if !confirm {
		return pass, nil
	}
	again, err := read("Repeat " + strings.ToLower(prompt) + ": ")
	if err != nil {
		return nil, err
	}
	if string(pass) != string(again) {
		return nil, errors.New("passphrases do not match")
	}
	return pass, nil
}
