package media

import (
	"errors"
	"fmt"
	"io"

	"github.com/dhowden/tag"
)

// Tags is the embedded metadata of an audio file.
type Tags struct {
	Title  string
	Artist string
	Album  string
	Genre  string
	Year   int
	Format string
}

// ReadTags reads the embedded tags of an audio file. Untagged files return empty tags.
func ReadTags(r io.ReadSeeker) (Tags, error) {
	m, err := tag.ReadFrom(r)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return Tags{}, nil
	}
	if err != nil {
		return Tags{}, fmt.Errorf("failed to read tags: %w", err)
	}

	return Tags{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
		Genre:  m.Genre(),
		Year:   m.Year(),
		Format: string(m.Format()),
	}, nil
}
