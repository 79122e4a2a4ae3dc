package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/trackline/internal/models"
)

const (
	DefaultInterval = time.Second
	maxBarWidth     = 60
)

// ProgressSource returns the current record of an import session.
type ProgressSource interface {
	ImportProgress(ctx context.Context, sessionID string) (*models.ProgressRecord, error)
}

// Watcher polls one import session until it completes, fails or the user quits.
type Watcher struct {
	ctx      context.Context
	source   ProgressSource
	session  string
	interval time.Duration

	record *models.ProgressRecord
	err    error
	done   bool

	bar     progress.Model
	spinner spinner.Model
	help    help.Model
	quit    key.Binding
}

// NewWatcher creates a watcher for session. A non-positive interval uses [DefaultInterval].
func NewWatcher(ctx context.Context, source ProgressSource, session string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		ctx:      ctx,
		source:   source,
		session:  session,
		interval: interval,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(maxBarWidth)),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:     help.New(),
		quit:     newKeyMap().quit,
	}
}

// Record returns the last record received, or nil.
func (w *Watcher) Record() *models.ProgressRecord {
	return w.record
}

// Err returns the error that ended the watch, if any.
func (w *Watcher) Err() error {
	return w.err
}

// Init fetches the first record and starts the spinner.
func (w *Watcher) Init() tea.Cmd {
	return tea.Batch(w.fetch(), w.spinner.Tick)
}

// Update handles incoming messages and updates the model state.
func (w *Watcher) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		w.bar.Width = min(msg.Width-4, maxBarWidth)
		return w, nil

	case tea.KeyMsg:
		if key.Matches(msg, w.quit) {
			return w, tea.Quit
		}
		return w, nil

	case spinner.TickMsg:
		if w.done {
			return w, nil
		}
		var cmd tea.Cmd
		w.spinner, cmd = w.spinner.Update(msg)
		return w, cmd

	case Msg:
		switch msg.kind {
		case MsgTick:
			return w, w.fetch()
		case MsgProgressFetched:
			data := msg.data.(progressFetched)
			if data.err != nil {
				w.err = data.err
				w.done = true
				return w, tea.Quit
			}
			w.record = data.record
			if data.record.Terminal() {
				w.done = true
				return w, tea.Quit
			}
			return w, w.tick()
		}
	}
	return w, nil
}

// View renders the session status, a progress bar and the counters.
func (w *Watcher) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Import " + w.session))
	b.WriteString("\n")

	if w.record == nil {
		if w.err != nil {
			b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", w.err)))
			b.WriteString("\n")
			return b.String()
		}
		b.WriteString(w.spinner.View() + " waiting for the server...\n")
		return b.String()
	}

	r := w.record
	b.WriteString(w.bar.ViewAs(float64(r.Percent()) / 100))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s %s\n", styles.label.Render("status"), styles.Progress(r.Status))
	fmt.Fprintf(&b, "%s %d/%d\n", styles.label.Render("imported"), r.Imported, r.Total)
	if r.Failed > 0 {
		fmt.Fprintf(&b, "%s %s\n", styles.label.Render("failed"), styles.warn.Render(fmt.Sprint(r.Failed)))
	}
	if r.Message != "" {
		fmt.Fprintf(&b, "%s %s\n", styles.label.Render("message"), r.Message)
	}
	if r.Error != nil {
		b.WriteString(styles.err.Render("Error: "+*r.Error) + "\n")
	}
	if w.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", w.err)) + "\n")
	}

	if !w.done {
		b.WriteString("\n" + w.help.ShortHelpView([]key.Binding{w.quit}))
	}
	return b.String()
}

func (w *Watcher) fetch() tea.Cmd {
	return func() tea.Msg {
		rec, err := w.source.ImportProgress(w.ctx, w.session)
		return progressFetchedMsg(rec, err)
	}
}

func (w *Watcher) tick() tea.Cmd {
	return tea.Tick(w.interval, func(time.Time) tea.Msg { return tickMsg() })
}

// Run runs model as a full program and returns it once the program exits.
func Run(ctx context.Context, model tea.Model, opts ...tea.ProgramOption) (tea.Model, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	return tea.NewProgram(model, opts...).Run()
}
