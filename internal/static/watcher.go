package static

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher triggers an out-of-cycle bundle rebuild when a curated input file
// is written. Rapid write bursts on the same directory are coalesced into
// one rebuild.
type Watcher struct {
	service *Service
	dir     string
	log     zerolog.Logger

	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func NewWatcher(service *Service, dir string, log zerolog.Logger) *Watcher {
	return &Watcher{
		service:  service,
		dir:      dir,
		log:      log.With().Str("component", "watcher").Logger(),
		debounce: 2 * time.Second,
	}
}

// Run watches the input directory until the context ends.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.log.Info().Str("dir", w.dir).Msg("watching input directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			w.schedule(filepath.Base(event.Name))
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.log.Info().Str("file", name).Msg("input changed, rebuilding bundle")
		if err := w.service.RunOnce(); err != nil {
			w.log.Error().Err(err).Msg("triggered rebuild failed")
		}
	})
}
