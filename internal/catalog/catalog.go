// Package catalog tracks the recordings available under the base
// recording directory so the control plane can list them and resolve
// names without touching the disk on every request.
package catalog

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Entry is one recording file on disk.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Catalog watches the base recording directory and keeps an in-memory
// view of the recording files in it.
type Catalog struct {
	baseDir string
	log     zerolog.Logger

	mu      sync.Mutex
	entries map[string]Entry

	watcher *fsnotify.Watcher
	done    chan struct{}

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
}

func New(baseDir string, log zerolog.Logger) *Catalog {
	return &Catalog{
		baseDir:        baseDir,
		log:            log.With().Str("component", "catalog").Logger(),
		entries:        make(map[string]Entry),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}
}

func isRecordingFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".json.zstd")
}

// Start scans the directory and begins watching it for changes. The
// directory is created if missing so a fresh install starts clean.
func (c *Catalog) Start() error {
	if err := os.MkdirAll(c.baseDir, 0o755); err != nil {
		return err
	}
	if err := c.scan(); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	c.watcher = w

	dirCount := 0
	err = filepath.WalkDir(c.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				c.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	c.log.Info().
		Int("directories", dirCount).
		Int("recordings", c.Len()).
		Str("base_dir", c.baseDir).
		Msg("recording catalog initialized")

	go c.watchLoop()
	return nil
}

// Stop closes the watcher.
func (c *Catalog) Stop() {
	close(c.done)
	if c.watcher != nil {
		c.watcher.Close()
	}
}

func (c *Catalog) watchLoop() {
	for {
		select {
		case <-c.done:
			return

		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				c.remove(event.Name)
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New subdirectory: watch it too.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := c.watcher.Add(event.Name); err != nil {
					c.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				}
				continue
			}

			if !isRecordingFile(event.Name) {
				continue
			}
			c.scheduleRefresh(event.Name)

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleRefresh debounces stat calls by 500ms so a file still being
// written is picked up once, with its final size.
func (c *Catalog) scheduleRefresh(path string) {
	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()

	if t, ok := c.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	c.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		c.debounceMu.Lock()
		delete(c.debounceTimers, path)
		c.debounceMu.Unlock()

		c.refresh(path)
	})
}

func (c *Catalog) refresh(path string) {
	info, err := os.Stat(path)
	if err != nil {
		c.remove(path)
		return
	}
	rel, err := filepath.Rel(c.baseDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	c.mu.Lock()
	c.entries[path] = Entry{
		Name:    rel,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	c.mu.Unlock()
	c.log.Debug().Str("recording", rel).Int64("size", info.Size()).Msg("catalog updated")
}

func (c *Catalog) remove(path string) {
	c.mu.Lock()
	_, had := c.entries[path]
	delete(c.entries, path)
	c.mu.Unlock()
	if had {
		c.log.Debug().Str("path", path).Msg("recording removed from catalog")
	}
}

// scan walks the base dir and replaces the entry set.
func (c *Catalog) scan() error {
	fresh := make(map[string]Entry)
	err := filepath.WalkDir(c.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !isRecordingFile(path) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(c.baseDir, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}
		fresh[path] = Entry{Name: rel, Path: path, Size: info.Size(), ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.entries = fresh
	c.mu.Unlock()
	return nil
}

// List returns the known recordings sorted by name.
func (c *Catalog) List() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of known recordings.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
