package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/GoCodeAlone/provision/pipeline"
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

type consoleStyles struct {
	title    lipgloss.Style
	progress lipgloss.Style
	message  lipgloss.Style
	prompt   lipgloss.Style
	ok       lipgloss.Style
	warn     lipgloss.Style
	fail     lipgloss.Style
}

func newConsoleStyles(out io.Writer) consoleStyles {
	r := lipgloss.NewRenderer(out)
	return consoleStyles{
		title:    r.NewStyle().Bold(true),
		progress: r.NewStyle().Faint(true),
		message:  r.NewStyle(),
		prompt:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		ok:       r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("11")),
		fail:     r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// ConsoleController prints progress and messages as a run goes and asks the
// operator for confirmations. An interrupt sets the cooperative abort flag
// instead of killing the process.
type ConsoleController struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	styles      consoleStyles

	aborted atomic.Bool

	mu       sync.Mutex
	messages []string
}

// NewConsoleController creates a controller reading answers from in.
// Without interactive, confirmations are declined without prompting.
func NewConsoleController(in io.Reader, out io.Writer, interactive bool) *ConsoleController {
	return &ConsoleController{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
		styles:      newConsoleStyles(out),
	}
}

// HandleInterrupts turns SIGINT and SIGTERM into a cooperative abort until
// the returned function is called.
func (c *ConsoleController) HandleInterrupts() func() {
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-sig:
				c.Interrupt()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sig)
			close(done)
		})
	}
}

// Interrupt requests a cooperative abort.
func (c *ConsoleController) Interrupt() {
	if c.aborted.CompareAndSwap(false, true) {
		fmt.Fprintln(c.out, c.styles.warn.Render("Interrupt received, stopping at the next cancellation point"))
	}
}

func (c *ConsoleController) ReportMessage(text string) {
	c.mu.Lock()
	c.messages = append(c.messages, text)
	c.mu.Unlock()
	fmt.Fprintln(c.out, c.styles.message.Render(text))
}

func (c *ConsoleController) ShouldAbort() bool { return c.aborted.Load() }

func (c *ConsoleController) RequestConfirmation(prompt string) bool {
	if !c.interactive {
		fmt.Fprintln(c.out, c.styles.warn.Render(prompt+" (not a terminal, answering no; use --yes)"))
		return false
	}
	fmt.Fprint(c.out, c.styles.prompt.Render(prompt)+" [y/N] ")
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Message returns the last reported message.
func (c *ConsoleController) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[len(c.messages)-1]
}

// Messages returns every reported message in order.
func (c *ConsoleController) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func (c *ConsoleController) PipelineStarted(name, title string, total int) {
	if title == "" {
		title = name
	}
	fmt.Fprintln(c.out, c.styles.title.Render(title))
}

func (c *ConsoleController) ProcessorStarted(index, total int, processorType string) {
	fmt.Fprintln(c.out, c.styles.progress.Render(fmt.Sprintf("[%d/%d] %s", index+1, total, processorType)))
}

func (c *ConsoleController) PipelineFinished(status pipeline.RunStatus) {
	style := c.styles.ok
	switch status {
	case pipeline.StatusAborted:
		style = c.styles.warn
	case pipeline.StatusFailed:
		style = c.styles.fail
	}
	fmt.Fprintln(c.out, style.Render(string(status)))
}

var (
	_ pipeline.Controller       = (*ConsoleController)(nil)
	_ pipeline.ProgressReporter = (*ConsoleController)(nil)
)
