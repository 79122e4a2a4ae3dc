package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/trackline/internal/models"
)

var _ list.Item = trackItem{}

// trackItem wraps [models.Track] to implement [list.Item].
type trackItem struct {
	track models.Track
}

func (i trackItem) FilterValue() string { return i.track.Title }

func (i trackItem) Title() string {
	if i.track.Artist == "" {
		return fmt.Sprintf("#%d %s", i.track.ID, i.track.Title)
	}
	return fmt.Sprintf("#%d %s - %s", i.track.ID, i.track.Artist, i.track.Title)
}

func (i trackItem) Description() string {
	desc := fmt.Sprintf("%s • %d%%", styles.Status(i.track.Status), i.track.Progress)
	if i.track.ErrorMessage != nil {
		desc = fmt.Sprintf("%s • %s", desc, *i.track.ErrorMessage)
	}
	return desc
}

func trackItems(tracks []models.Track) []list.Item {
	items := make([]list.Item, len(tracks))
	for i, t := range tracks {
		items[i] = trackItem{track: t}
	}
	return items
}
