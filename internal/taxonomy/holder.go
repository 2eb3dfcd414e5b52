package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/spigell/hh-pricer/internal/ai"
	"github.com/spigell/hh-pricer/internal/matching"
	"github.com/spigell/hh-pricer/internal/pricing"
	"github.com/spigell/hh-pricer/internal/utils"
)

const defaultDebounce = 500 * time.Millisecond

// Recorder receives reload outcomes.
type Recorder interface {
	SetIndexRoles(n int)
	ObserveReload(err error)
}

type snapshot struct {
	index   *matching.Index
	catalog *Catalog
}

// Holder owns the current taxonomy. Reloads build a new snapshot off the
// request path and swap it in atomically; callers that already hold an
// index keep using it.
type Holder struct {
	path     string
	embedder ai.Embedder
	recorder Recorder
	logger   *zap.Logger
	debounce time.Duration

	current atomic.Pointer[snapshot]
	mu      sync.Mutex
}

type Options struct {
	Embedder ai.Embedder
	Recorder Recorder
	Logger   *zap.Logger
	Debounce time.Duration
}

// Open loads path and builds the first snapshot.
func Open(ctx context.Context, path string, opts Options) (*Holder, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	h := &Holder{
		path:     filepath.Clean(path),
		embedder: opts.Embedder,
		recorder: opts.Recorder,
		logger:   opts.Logger.With(zap.String("taxonomy", path)),
		debounce: opts.Debounce,
	}
	if err := h.Reload(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Index implements matching.IndexSource.
func (h *Holder) Index() *matching.Index {
	return h.current.Load().index
}

func (h *Holder) Catalog() *Catalog {
	return h.current.Load().catalog
}

// Role looks a role up in the current index.
func (h *Holder) Role(id string) (pricing.CanonicalRole, bool) {
	return h.Index().Role(id)
}

// Reload rebuilds the snapshot from disk. On failure the previous snapshot
// stays active.
func (h *Holder) Reload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.reload(ctx)
	if h.recorder != nil {
		h.recorder.ObserveReload(err)
	}
	return err
}

func (h *Holder) reload(ctx context.Context) error {
	roles, err := Load(h.path)
	if err != nil {
		return err
	}
	index, err := Build(ctx, roles, h.embedder)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	catalog, err := NewCatalog(roles)
	if err != nil {
		return err
	}

	previous := h.current.Swap(&snapshot{index: index, catalog: catalog})
	if h.recorder != nil {
		h.recorder.SetIndexRoles(index.Len())
	}

	fields := []zap.Field{zap.Int("roles", index.Len()), zap.String("version", index.Version())}
	if previous != nil {
		fields = append(fields, zap.String("previous_version", previous.index.Version()))
		// Searches still holding the old catalog fail after this point.
		if err := previous.catalog.Close(); err != nil {
			h.logger.Warn("closing the previous keyword index", zap.Error(err))
		}
	}
	h.logger.Info("taxonomy loaded", fields...)
	return nil
}

// Watch reloads the taxonomy whenever its file changes until ctx is done.
// The parent directory is watched so editors that save by rename are seen.
func (h *Holder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		return err
	}
	h.logger.Info("watching taxonomy for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != h.path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}

			// Coalesce the burst of events a single save produces.
			if err := utils.WaitFor(ctx, h.debounce); err != nil {
				return nil
			}
			drain(watcher.Events)

			if err := h.Reload(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				h.logger.Error("taxonomy reload failed, keeping previous index", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Error("taxonomy watcher error", zap.Error(err))
		}
	}
}

func (h *Holder) Close() error {
	if s := h.current.Load(); s != nil {
		return s.catalog.Close()
	}
	return nil
}

func drain(events <-chan fsnotify.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
