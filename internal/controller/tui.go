package controller

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

const (
	maxRecentFailures = 5
	maxProgressWidth  = 60
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	timeoutStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

type scenarioMsg struct{ scenario *m.Scenario }

type finishMsg struct{ summary m.Summary }

type failMsg struct{ err error }

// TUIReporter shows live progress of a run in a Bubble Tea program.
type TUIReporter struct {
	out      io.Writer
	input    io.Reader
	onCancel func()

	program *tea.Program
	done    chan error
}

// TUIOption configures a TUIReporter.
type TUIOption func(*TUIReporter)

// WithInput reads key presses from r. Without it the program takes no input.
func WithInput(r io.Reader) TUIOption {
	return func(t *TUIReporter) {
		t.input = r
	}
}

// WithCancel is called when the user quits the program before the run ends.
func WithCancel(cancel func()) TUIOption {
	return func(t *TUIReporter) {
		t.onCancel = cancel
	}
}

// NewTUIReporter creates a TUIReporter drawing to out.
func NewTUIReporter(out io.Writer, opts ...TUIOption) *TUIReporter {
	t := &TUIReporter{out: out}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start implements Reporter.
func (t *TUIReporter) Start(ctx context.Context, info RunInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.program = tea.NewProgram(
		newRunModel(info, time.Now),
		tea.WithOutput(t.out),
		tea.WithInput(t.input),
		tea.WithoutSignalHandler(),
	)
	t.done = make(chan error, 1)

	go func() {
		final, err := t.program.Run()
		if err == nil {
			if rm, ok := final.(runModel); ok && rm.interrupted && t.onCancel != nil {
				t.onCancel()
			}
		}

		t.done <- err
	}()

	return nil
}

// Report implements Reporter.
func (t *TUIReporter) Report(ctx context.Context, scenario *m.Scenario) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.program.Send(scenarioMsg{scenario: scenario})

	return nil
}

// Finish implements Reporter. It returns once the program has exited.
func (t *TUIReporter) Finish(_ context.Context, summary m.Summary) error {
	t.program.Send(finishMsg{summary: summary})

	return t.wait()
}

// Fail implements Reporter.
func (t *TUIReporter) Fail(_ context.Context, err error) {
	if t.program == nil {
		_, _ = fmt.Fprintf(t.out, "harness error: %v\n", err)
		return
	}

	t.program.Send(failMsg{err: err})
	_ = t.wait()
}

func (t *TUIReporter) wait() error {
	if err := <-t.done; err != nil {
		return fmt.Errorf("tui: %w", err)
	}

	return nil
}

type runModel struct {
	info     RunInfo
	now      func() time.Time
	started  time.Time
	spinner  spinner.Model
	progress progress.Model

	counts   m.Summary
	failures []string

	final       *m.Summary
	err         error
	interrupted bool
}

func newRunModel(info RunInfo, now func() time.Time) runModel {
	return runModel{
		info:     info,
		now:      now,
		started:  now(),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(faintStyle)),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (rm runModel) Init() tea.Cmd {
	return rm.spinner.Tick
}

func (rm runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case scenarioMsg:
		rm.record(msg.scenario)
		return rm, nil
	case finishMsg:
		summary := msg.summary
		rm.final = &summary

		return rm, tea.Quit
	case failMsg:
		rm.err = msg.err
		return rm, tea.Quit
	case tea.WindowSizeMsg:
		rm.progress.Width = min(max(msg.Width-4, 10), maxProgressWidth)
		return rm, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			rm.interrupted = true
			return rm, tea.Quit
		}

		return rm, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		rm.spinner, cmd = rm.spinner.Update(msg)

		return rm, cmd
	}

	return rm, nil
}

func (rm *runModel) record(scenario *m.Scenario) {
	rm.counts.Add(scenario)

	label := OutcomeLabel(scenario)
	if label == "PASS" {
		return
	}

	line := label + " " + scenario.Key()
	if scenario.Result != nil && scenario.Result.Message != "" {
		line += ": " + firstLine(scenario.Result.Message)
	}

	rm.failures = append(rm.failures, line)
	if len(rm.failures) > maxRecentFailures {
		rm.failures = rm.failures[len(rm.failures)-maxRecentFailures:]
	}
}

func (rm runModel) View() string {
	var b strings.Builder

	counts := rm.counts
	status := rm.spinner.View() + " Running"

	switch {
	case rm.err != nil:
		status = failStyle.Render("Aborted")
	case rm.final != nil:
		counts = *rm.final
		status = passStyle.Render("Done")
	case rm.interrupted:
		status = timeoutStyle.Render("Interrupted")
	}

	host := rm.info.HostType
	if rm.info.HostPath != "" {
		host += " " + rm.info.HostPath
	}

	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("test262"), faintStyle.Render(fmt.Sprintf("%d worker(s) on %s%s", rm.info.Threads, host, shardLabel(rm.info))))
	fmt.Fprintf(&b, "%s  %d scenario(s)\n\n", status, counts.Total)
	fmt.Fprintf(&b, "%s %s\n", rm.progress.ViewAs(counts.PassRate()), faintStyle.Render("pass rate"))
	fmt.Fprintf(&b, "%s  %s  %s\n",
		passStyle.Render(fmt.Sprintf("%d passed", counts.Passed)),
		failStyle.Render(fmt.Sprintf("%d failed", counts.Failed)),
		timeoutStyle.Render(fmt.Sprintf("%d timed out", counts.TimedOut)),
	)

	if len(rm.failures) > 0 {
		b.WriteString("\n" + titleStyle.Render("Recent failures") + "\n")

		for _, line := range rm.failures {
			b.WriteString("  " + failStyle.Render(line) + "\n")
		}
	}

	switch {
	case rm.err != nil:
		fmt.Fprintf(&b, "\nharness error: %v\n", rm.err)
	case rm.final != nil:
		fmt.Fprintf(&b, "\nDuration: %s\n", rm.final.Duration.Round(time.Millisecond))
	default:
		fmt.Fprintf(&b, "\n%s\n", faintStyle.Render(fmt.Sprintf("elapsed %s, q to quit", rm.now().Sub(rm.started).Round(time.Second))))
	}

	return b.String()
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}

	return text
}
