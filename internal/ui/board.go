package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/trackline/internal/models"
)

const boardLimit = 200

// TrackSource lists tracks and applies single-track actions.
type TrackSource interface {
	ListTracks(ctx context.Context, statuses []models.Status, genreID *int64, limit int) ([]models.Track, error)
	StartTrack(ctx context.Context, id int64, force bool) (*models.ActionResult, error)
	StopTrack(ctx context.Context, id int64) (*models.ActionResult, error)
	RetryTrack(ctx context.Context, id int64) (*models.ActionResult, error)
}

// Board is a live track list. It refreshes on an interval and starts, stops or retries the selected track.
type Board struct {
	ctx      context.Context
	source   TrackSource
	statuses []models.Status
	interval time.Duration

	list   list.Model
	help   help.Model
	keys   keyMap
	status string
	err    error
	width  int
	height int
}

// NewBoard creates a board showing tracks in statuses, or every track when statuses is empty.
func NewBoard(ctx context.Context, source TrackSource, statuses []models.Status, interval time.Duration) *Board {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Tracks"
	l.SetShowHelp(false)

	return &Board{
		ctx:      ctx,
		source:   source,
		statuses: statuses,
		interval: interval,
		list:     l,
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init fetches the first page of tracks.
func (b *Board) Init() tea.Cmd {
	return b.fetch()
}

// Update handles incoming messages and updates the model state.
func (b *Board) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width, b.height = msg.Width, msg.Height
		b.list.SetSize(msg.Width-4, msg.Height-6)
		return b, nil

	case tea.KeyMsg:
		if b.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, b.keys.quit):
			return b, tea.Quit
		case key.Matches(msg, b.keys.refresh):
			return b, b.fetch()
		case key.Matches(msg, b.keys.start):
			return b, b.act(models.ActionStart)
		case key.Matches(msg, b.keys.stop):
			return b, b.act(models.ActionStop)
		case key.Matches(msg, b.keys.retry):
			return b, b.act(models.ActionRetry)
		}

	case Msg:
		switch msg.kind {
		case MsgTick:
			return b, b.fetch()
		case MsgTracksFetched:
			data := msg.data.(tracksFetched)
			b.err = data.err
			if data.err != nil {
				return b, b.tick()
			}
			return b, tea.Batch(b.list.SetItems(trackItems(data.tracks)), b.tick())
		case MsgActionDone:
			data := msg.data.(actionDone)
			if data.err != nil {
				b.status = styles.err.Render(fmt.Sprintf("%s failed: %v", data.action, data.err))
				return b, nil
			}
			b.status = styles.ok.Render(fmt.Sprintf("%s: track %d is %s", data.action, data.result.ID, data.result.Status))
			return b, b.fetch()
		}
		return b, nil
	}

	var cmd tea.Cmd
	b.list, cmd = b.list.Update(msg)
	return b, cmd
}

// View renders the list, the last action result and the key help.
func (b *Board) View() string {
	out := b.list.View()
	if b.err != nil {
		out += "\n" + styles.err.Render(fmt.Sprintf("Error: %v", b.err))
	}
	if b.status != "" {
		out += "\n" + b.status
	}
	return out + "\n" + b.help.View(b.keys)
}

// Selected returns the highlighted track.
func (b *Board) Selected() (models.Track, bool) {
	item, ok := b.list.SelectedItem().(trackItem)
	if !ok {
		return models.Track{}, false
	}
	return item.track, true
}

func (b *Board) act(action models.Action) tea.Cmd {
	track, ok := b.Selected()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		var (
			res *models.ActionResult
			err error
		)
		switch action {
		case models.ActionStart:
			res, err = b.source.StartTrack(b.ctx, track.ID, false)
		case models.ActionStop:
			res, err = b.source.StopTrack(b.ctx, track.ID)
		case models.ActionRetry:
			res, err = b.source.RetryTrack(b.ctx, track.ID)
		}
		return actionDoneMsg(action, res, err)
	}
}

func (b *Board) fetch() tea.Cmd {
	return func() tea.Msg {
		tracks, err := b.source.ListTracks(b.ctx, b.statuses, nil, boardLimit)
		return tracksFetchedMsg(tracks, err)
	}
}

func (b *Board) tick() tea.Cmd {
	return tea.Tick(b.interval, func(time.Time) tea.Msg { return tickMsg() })
}
