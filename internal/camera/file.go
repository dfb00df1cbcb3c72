package camera

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/disintegration/imaging"
)

// FileGrabber serves a still image from disk, re-reading it on every grab so
// an external process can keep replacing the file.
type FileGrabber struct {
	path    string
	cfg     Config
	frameID atomic.Uint64
}

// NewFileGrabber creates a grabber for the image at path
func NewFileGrabber(path string, cfg Config) *FileGrabber {
	return &FileGrabber{path: path, cfg: cfg}
}

// Name returns the grabber type name
func (g *FileGrabber) Name() string {
	return "image"
}

// Path returns the image path
func (g *FileGrabber) Path() string {
	return g.path
}

// Grab loads, preprocesses and re-encodes the image
func (g *FileGrabber) Grab(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Open(g.path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", g.path, err)
	}

	return encodeFrame(Prepare(img, g.cfg), g.cfg.Quality, g.frameID.Add(1))
}
