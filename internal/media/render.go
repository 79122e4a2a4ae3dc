package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// RenderRequest names the stored files of one render.
type RenderRequest struct {
	ImagePath  string
	AudioPath  string
	OutputPath string
}

// Renderer turns a cover image and an audio file into a video.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) error
}

// FFmpegRenderer renders a still-image video with the ffmpeg binary.
type FFmpegRenderer struct {
	binary string
	store  *Store
}

// NewFFmpegRenderer renders files of store. An empty binary uses "ffmpeg" from PATH.
func NewFFmpegRenderer(binary string, store *Store) *FFmpegRenderer {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegRenderer{binary: binary, store: store}
}

// Args returns the ffmpeg arguments for rendering the given local files.
func (r *FFmpegRenderer) Args(image, audio, output string) []string {
	still := ffmpeg.Input(image, ffmpeg.KwArgs{"loop": 1})
	sound := ffmpeg.Input(audio)

	return ffmpeg.Output([]*ffmpeg.Stream{still, sound}, output, ffmpeg.KwArgs{
		"c:v":      "libx264",
		"tune":     "stillimage",
		"pix_fmt":  "yuv420p",
		"vf":       "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"c:a":      "aac",
		"b:a":      "192k",
		"shortest": nil,
	}).OverWriteOutput().GetArgs()
}

// Render runs ffmpeg until it exits or ctx is cancelled.
func (r *FFmpegRenderer) Render(ctx context.Context, req RenderRequest) error {
	var local [3]string
	for i, p := range []string{req.ImagePath, req.AudioPath, req.OutputPath} {
		lp, err := r.store.LocalPath(p)
		if err != nil {
			return err
		}
		local[i] = lp
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, r.Args(local[0], local[1], local[2])...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
