package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const watchDebounceInterval = 300 * time.Millisecond

// FileSource reads a newline-delimited key list from disk. Lines starting
// with '#' are comments.
type FileSource struct {
	path      string
	watchOnce sync.Once
	reloadCh  chan struct{}
}

// NewFileSource creates a key source for the given file path.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:     path,
		reloadCh: make(chan struct{}, 1),
	}
}

func (f *FileSource) Name() string { return "file" }

// ListKeys parses the key file, deduplicating while keeping first-seen order.
func (f *FileSource) ListKeys(ctx context.Context) ([]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}

	seen := make(map[string]struct{})
	var keys []string
	for _, line := range strings.Split(string(data), "\n") {
		key := strings.TrimSpace(line)
		if key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// Watch enables hot reload for the key file. onChange fires once per
// debounced burst of filesystem events, typically wired to a pool reset.
func (f *FileSource) Watch(ctx context.Context, onChange func()) {
	f.watchOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.WithError(err).Warn("key file source: failed to start watcher")
			return
		}
		if err := watcher.Add(f.path); err != nil {
			log.WithError(err).Warnf("key file source: failed to watch %s", f.path)
			_ = watcher.Close()
			return
		}
		go f.watchLoop(ctx, watcher)
		go f.reloadLoop(ctx, onChange)
		log.Infof("key file source: watching %s for changes", f.path)
	})
}

func (f *FileSource) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				f.requestReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("key file watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (f *FileSource) requestReload() {
	select {
	case f.reloadCh <- struct{}{}:
	default:
	}
}

func (f *FileSource) reloadLoop(ctx context.Context, onChange func()) {
	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-f.reloadCh:
			if timer == nil {
				timer = time.NewTimer(watchDebounceInterval)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounceInterval)
			}
		case <-timerCh:
			if onChange != nil {
				onChange()
			}
			timerCh = nil
			timer = nil
		}
	}
}
