package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// ScreenshotSink stores captured screenshots and returns where they went.
type ScreenshotSink interface {
	Save(ctx context.Context, threadID, tag string, png []byte) (string, error)
}

// DirSink writes screenshots to Root/<thread>/<timestamp>_<tag>.png.
type DirSink struct {
	Root string
	now  func() time.Time
}

// NewDirSink creates a sink rooted at dir.
func NewDirSink(dir string) *DirSink {
	return &DirSink{Root: dir, now: time.Now}
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func (d *DirSink) Save(ctx context.Context, threadID, tag string, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	thread := unsafeName.ReplaceAllString(threadID, "_")
	if thread == "" {
		thread = "default"
	}
	dir := filepath.Join(d.Root, thread)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	name := d.now().UTC().Format("20060102_150405.000")
	if tag = unsafeName.ReplaceAllString(tag, "_"); tag != "" {
		name += "_" + tag
	}
	path := filepath.Join(dir, name+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
