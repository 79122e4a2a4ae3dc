package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/trackline/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgProgressFetched MsgKind = iota
	MsgTracksFetched
	MsgActionDone
	MsgTick
)

type progressFetched struct {
	record *models.ProgressRecord
	err    error
}

type tracksFetched struct {
	tracks []models.Track
	err    error
}

type actionDone struct {
	action models.Action
	result *models.ActionResult
	err    error
}

// progressFetchedMsg is the constructor for [MsgProgressFetched]
func progressFetchedMsg(record *models.ProgressRecord, err error) Msg {
	return Msg{kind: MsgProgressFetched, data: progressFetched{record, err}}
}

// tracksFetchedMsg is the constructor for [MsgTracksFetched]
func tracksFetchedMsg(tracks []models.Track, err error) Msg {
	return Msg{kind: MsgTracksFetched, data: tracksFetched{tracks, err}}
}

// actionDoneMsg is the constructor for [MsgActionDone]
func actionDoneMsg(action models.Action, result *models.ActionResult, err error) Msg {
	return Msg{kind: MsgActionDone, data: actionDone{action, result, err}}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg() Msg {
	return Msg{kind: MsgTick}
}
