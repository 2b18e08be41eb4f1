package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"home-controller/internal/application"
	"home-controller/internal/domain"
)

var clipExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".webm": true,
	".ogg":  true,
	".aac":  true,
}

var errNoClip = errors.New("no audio clip available")

// FileCapture stands in for a microphone: each recording takes the oldest clip
// dropped into a directory, and marks it processed.
type FileCapture struct {
	dir string
	mu  sync.Mutex
}

func NewFileCapture(dir string) *FileCapture {
	return &FileCapture{dir: dir}
}

func (f *FileCapture) Name() string {
	return "file"
}

func (f *FileCapture) Open(_ context.Context) (application.CaptureStream, error) {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("creating audio dir: %w", err)
	}
	return &fileClip{capture: f}, nil
}

type fileClip struct {
	capture *FileCapture
	mime    string
}

func (c *fileClip) MIMEType() string {
	return c.mime
}

func (c *fileClip) Finish(_ context.Context) ([]byte, error) {
	data, err := c.capture.next()
	if err != nil {
		return nil, err
	}
	c.mime = mimetype.Detect(data).String()
	return data, nil
}

func (f *FileCapture) next() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("reading dir: %w", err)
	}

	type candidate struct {
		path    string
		modTime int64
	}
	var clips []candidate
	for _, entry := range entries {
		if entry.IsDir() || !clipExtensions[filepath.Ext(entry.Name())] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		clips = append(clips, candidate{path: filepath.Join(f.dir, entry.Name()), modTime: info.ModTime().UnixNano()})
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("%w in %s", errNoClip, f.dir)
	}
	sort.Slice(clips, func(i, j int) bool {
		if clips[i].modTime != clips[j].modTime {
			return clips[i].modTime < clips[j].modTime
		}
		return clips[i].path < clips[j].path
	})

	path := clips[0].path
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	if err := os.Rename(path, path+".processed"); err != nil {
		return nil, fmt.Errorf("marking %s processed: %w", path, err)
	}
	return data, nil
}
