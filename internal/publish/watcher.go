// Package publish uploads the engine's finalized HLS artifacts to object
// storage while a session runs.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultTempSuffix is what the engine appends while an artifact is being written.
const DefaultTempSuffix = ".tmp"

// pendingTTL bounds how long a rename-away of a temp name waits for its
// matching arrival before it is forgotten.
const pendingTTL = 5 * time.Second

// Finalized reports an artifact atomically renamed into its permanent name.
type Finalized struct {
	Path string
	Name string
	At   time.Time
}

// Watch observes dir and returns a channel of finalize events. The channel is
// closed, and the underlying watch released, once ctx is cancelled.
//
// A finalize is a rename of "<name><tempSuffix>" to "<name>" inside dir. On
// inotify that arrives as a Rename for the temp name followed by a Create for
// the final name. A Create without the preceding rename (a plain write, or a
// file moved in from elsewhere) is not a finalize.
func Watch(ctx context.Context, dir, tempSuffix string, log *slog.Logger) (<-chan Finalized, error) {
	if tempSuffix == "" {
		tempSuffix = DefaultTempSuffix
	}
	if log == nil {
		log = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	out := make(chan Finalized, 64)
	go func() {
		defer close(out)
		defer fw.Close()

		// temp names renamed away, waiting for their final name to appear
		pending := make(map[string]time.Time)

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				now := time.Now()
				name := filepath.Base(ev.Name)

				switch {
				case ev.Has(fsnotify.Rename) && strings.HasSuffix(name, tempSuffix):
					pending[name] = now

				case ev.Has(fsnotify.Create) && !strings.HasSuffix(name, tempSuffix):
					tmp := name + tempSuffix
					if _, ok := pending[tmp]; !ok {
						continue
					}
					delete(pending, tmp)
					select {
					case out <- Finalized{Path: ev.Name, Name: name, At: now}:
					case <-ctx.Done():
						return
					}
				}

				for k, at := range pending {
					if now.Sub(at) > pendingTTL {
						delete(pending, k)
					}
				}

			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				// Overflow or transient read errors; keep watching.
				log.Warn("watch error", slog.String("dir", dir), slog.String("error", err.Error()))
			}
		}
	}()
	return out, nil
}
