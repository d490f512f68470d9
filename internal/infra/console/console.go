// Package console is the operator-facing output sink: panels, phase status lines,
// live progress and the yes/no prompt.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	bar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/whhaicheng/DB-StreamBench/internal/domain/phase"
	"github.com/whhaicheng/DB-StreamBench/internal/domain/progress"
	"github.com/whhaicheng/DB-StreamBench/internal/infra/timing"
)

// Options configures a Console.
type Options struct {
	// TotalBatches is the progress bar denominator. Zero uses the total printed by the workload.
	TotalBatches int
	// BarWidth is the progress bar width in cells.
	BarWidth int
}

type styles struct {
	title   lipgloss.Style
	panel   lipgloss.Style
	section lipgloss.Style
	ok      lipgloss.Style
	fail    lipgloss.Style
	warn    lipgloss.Style
	dim     lipgloss.Style
	bold    lipgloss.Style
}

// Console writes to one output stream and reads answers from one input stream.
// All methods are safe for concurrent use; progress arrives from the monitor goroutine.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	in  *bufio.Reader
	tty bool

	st           styles
	bar          bar.Model
	totalBatches int

	// live is set while an in-place progress line is on screen.
	live bool
	// lastPct is the last 5% step printed in line mode.
	lastPct int
}

// New creates a console. in may be nil when no prompts will be issued.
func New(out io.Writer, in io.Reader, opts Options) *Console {
	r := lipgloss.NewRenderer(out)
	width := opts.BarWidth
	if width <= 0 {
		width = 40
	}

	c := &Console{
		out:          out,
		tty:          isTerminal(out),
		totalBatches: opts.TotalBatches,
		lastPct:      -1,
		bar:          bar.New(bar.WithDefaultGradient(), bar.WithWidth(width), bar.WithoutPercentage()),
		st: styles{
			title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
			panel:   r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("75")).Padding(0, 2),
			section: r.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
			ok:      r.NewStyle().Foreground(lipgloss.Color("82")),
			fail:    r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
			warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
			dim:     r.NewStyle().Faint(true),
			bold:    r.NewStyle().Bold(true),
		},
	}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// println writes a complete line, first ending any in-place progress line. Caller holds mu.
func (c *Console) println(s string) {
	if c.live {
		fmt.Fprintln(c.out)
		c.live = false
	}
	fmt.Fprintln(c.out, s)
}

// Panel prints a bordered panel with a title and body.
func (c *Console) Panel(title, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content := c.st.title.Render(title)
	if body != "" {
		content += "\n\n" + body
	}
	c.println(c.st.panel.Render(content))
}

// Header prints the run header panel.
func (c *Console) Header(title string, fields [][2]string) {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", f[0], f[1])
	}
	c.Panel(title, b.String())
}

// Section prints a stage heading.
func (c *Console) Section(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println("")
	c.println(c.st.section.Render("━━━ " + title + " ━━━"))
}

// PhaseStart announces a phase.
func (c *Console) PhaseStart(p phase.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPct = -1
	c.println(c.st.bold.Render(fmt.Sprintf("▶ Phase %s: %s", p.ID, p.Name)))
}

// PhaseSuccess reports a phase that exited zero.
func (c *Console) PhaseSuccess(p phase.Phase, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.st.ok.Render(fmt.Sprintf("✅ %s completed in %s", p.Name, timing.FormatDuration(d))))
}

// PhaseFailure reports a failed phase with the log to inspect.
func (c *Console) PhaseFailure(p phase.Phase, reason, logPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.st.fail.Render(fmt.Sprintf("❌ Phase %s (%s) failed: %s", p.ID, p.Name, reason)))
	if logPath != "" {
		c.println(c.st.dim.Render("   Check log: " + logPath))
	}
}

// Success prints a positive note.
func (c *Console) Success(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.st.ok.Render("✅ " + msg))
}

// Warning prints an advisory note.
func (c *Console) Warning(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.st.warn.Render("⚠️  " + msg))
}

// Error prints an error note.
func (c *Console) Error(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.st.fail.Render("❌ " + msg))
}

// Info prints a plain note.
func (c *Console) Info(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(msg)
}

// Progress renders one live progress event. On a terminal batch progress is redrawn
// in place; otherwise a line is printed at each 5% step.
func (c *Console) Progress(ev progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case progress.KindBatch:
		total := c.totalBatches
		if total <= 0 {
			total = ev.BatchTotal
		}
		pct := 0.0
		if total > 0 {
			pct = float64(ev.Batch) / float64(total)
			if pct > 1 {
				pct = 1
			}
		}
		line := fmt.Sprintf("%s Batch %d/%d | Hour %d | %s rows | %.1fM total",
			c.bar.ViewAs(pct), ev.Batch, total, ev.Hour, humanize.Comma(int64(ev.Size)), ev.TotalRows)

		if c.tty {
			fmt.Fprint(c.out, "\r\033[K"+line)
			c.live = true
			return
		}
		step := int(pct * 20)
		if step != c.lastPct || ev.Batch == total {
			c.lastPct = step
			c.println(line)
		}

	case progress.KindCheckpoint:
		c.println(c.st.dim.Render(fmt.Sprintf("   📍 Checkpoint: %s batches, %.1fM rows", humanize.Comma(int64(ev.Batches)), ev.Rows)))

	case progress.KindComplete:
		c.println(c.st.ok.Render("   ✔ Stream complete"))
	}
}

// Confirm asks a yes/no question. An empty answer, "y" or "yes" is yes.
// End of input is no. Cancelling ctx returns ctx.Err().
func (c *Console) Confirm(ctx context.Context, question string) (bool, error) {
	c.mu.Lock()
	if c.live {
		fmt.Fprintln(c.out)
		c.live = false
	}
	fmt.Fprintf(c.out, "%s [Y/n]: ", question)
	in := c.in
	c.mu.Unlock()

	if in == nil {
		return false, errors.New("console: no input for prompt")
	}

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, fmt.Errorf("read answer: %w", a.err)
		}
		if errors.Is(a.err, io.EOF) && a.line == "" {
			return false, nil
		}
		return IsYes(a.line), nil
	}
}

// IsYes interprets an answer to a [Y/n] prompt.
func IsYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return true
	default:
		return false
	}
}
