// Package plan watches the plans directory and serves plan snapshots and
// per-client plan content requests.
package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jwtor7/agenthud/internal/bound"
	"github.com/jwtor7/agenthud/internal/common/logger"
	"github.com/jwtor7/agenthud/internal/event"
	"github.com/jwtor7/agenthud/internal/hashutil"
	"github.com/jwtor7/agenthud/internal/pathsafe"
	"github.com/jwtor7/agenthud/internal/redact"
)

const rootWaitInterval = 5 * time.Second

// Broadcaster pushes events to connected clients.
type Broadcaster interface {
	Broadcast(ev event.Event)
}

type trackedPlan struct {
	path         string
	filename     string
	lastModified int64 // unix ms
	hash         string
}

// Watcher tracks .md files in the plans root, emitting plan_update on
// content change and plan_delete on removal.
type Watcher struct {
	root         string
	pollInterval time.Duration
	hub          Broadcaster
	logger       *logger.Logger

	mu    sync.Mutex
	plans map[string]*trackedPlan
}

// New creates a plan watcher rooted at root.
func New(root string, pollInterval time.Duration, hub Broadcaster, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.Default()
	}
	return &Watcher{
		root:         root,
		pollInterval: pollInterval,
		hub:          hub,
		plans:        make(map[string]*trackedPlan),
		logger:       log.WithFields(zap.String("component", "plan_watcher")),
	}
}

// Run blocks until ctx is cancelled. The filesystem watcher gives fast
// reaction; the poll catches changes the watcher misses.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.waitForRoot(ctx) {
		return ctx.Err()
	}

	// Seed the tracked set silently so connect-time snapshots work
	// without replaying every existing plan as an update.
	w.scan(false)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(w.root); err != nil {
		w.logger.Warn("Failed to watch plans root", zap.Error(err))
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("Plan watcher started", zap.String("root", w.root))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if strings.HasSuffix(ev.Name, ".md") {
				w.scan(true)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Filesystem watcher error", zap.Error(err))
		case <-ticker.C:
			w.scan(true)
		}
	}
}

func (w *Watcher) waitForRoot(ctx context.Context) bool {
	for {
		if info, err := os.Stat(w.root); err == nil && info.IsDir() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(rootWaitInterval):
		}
	}
}

// scan reconciles the tracked set against the directory. With emit set,
// changes broadcast plan_update and disappearances broadcast plan_delete.
func (w *Watcher) scan(emit bool) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.logger.Debug("Failed to read plans root", zap.Error(err))
		return
	}

	observed := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(w.root, entry.Name())
		observed[path] = true

		info, err := entry.Info()
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		hash := hashutil.Hash(string(data))

		w.mu.Lock()
		tracked, known := w.plans[path]
		changed := !known || tracked.hash != hash
		w.plans[path] = &trackedPlan{
			path:         path,
			filename:     entry.Name(),
			lastModified: info.ModTime().UnixMilli(),
			hash:         hash,
		}
		w.mu.Unlock()

		if changed && emit {
			w.hub.Broadcast(&event.PlanUpdate{
				Meta:         event.NewMeta(event.TypePlanUpdate),
				Path:         path,
				Filename:     entry.Name(),
				Content:      sanitize(data),
				LastModified: info.ModTime().UnixMilli(),
			})
		}
	}

	w.mu.Lock()
	var removed []*trackedPlan
	for path, tracked := range w.plans {
		if !observed[path] {
			removed = append(removed, tracked)
			delete(w.plans, path)
		}
	}
	w.mu.Unlock()

	if emit {
		for _, tracked := range removed {
			w.hub.Broadcast(&event.PlanDelete{
				Meta:     event.NewMeta(event.TypePlanDelete),
				Path:     tracked.path,
				Filename: tracked.filename,
			})
		}
	}
}

// PlanListEvent snapshots the tracked plans, most recently modified first.
func (w *Watcher) PlanListEvent() *event.PlanList {
	w.mu.Lock()
	plans := make([]event.PlanInfo, 0, len(w.plans))
	for _, tracked := range w.plans {
		plans = append(plans, event.PlanInfo{
			Path:         tracked.path,
			Filename:     tracked.filename,
			LastModified: tracked.lastModified,
		})
	}
	w.mu.Unlock()

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].LastModified > plans[j].LastModified
	})
	return &event.PlanList{
		Meta:  event.NewMeta(event.TypePlanList),
		Plans: plans,
	}
}

// MostRecentPlanEvent returns the full content of the most recently
// modified plan, or nil when none is tracked.
func (w *Watcher) MostRecentPlanEvent() *event.PlanUpdate {
	list := w.PlanListEvent()
	if len(list.Plans) == 0 {
		return nil
	}
	ev, err := w.PlanContent(list.Plans[0].Path)
	if err != nil {
		w.logger.Warn("Failed to read most recent plan", zap.Error(err))
		return nil
	}
	return ev
}

// PlanContent reads one plan by path. The path must resolve inside the
// plans root.
func (w *Watcher) PlanContent(path string) (*event.PlanUpdate, error) {
	normalized, err := pathsafe.Normalize(path)
	if err != nil {
		return nil, err
	}
	if !pathsafe.Within(normalized, w.root) {
		return nil, fmt.Errorf("plan path outside plans root: %s", path)
	}

	info, err := os.Stat(normalized)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(normalized)
	if err != nil {
		return nil, err
	}

	return &event.PlanUpdate{
		Meta:         event.NewMeta(event.TypePlanUpdate),
		Path:         normalized,
		Filename:     filepath.Base(normalized),
		Content:      sanitize(data),
		LastModified: info.ModTime().UnixMilli(),
	}, nil
}

// HandlePlanRequest serves a client plan_request; the response goes only
// to the requesting client via respond.
func (w *Watcher) HandlePlanRequest(path string, respond func(event.Event)) {
	ev, err := w.PlanContent(path)
	if err != nil {
		w.logger.Warn("Plan request failed",
			zap.String("path", path), zap.Error(err))
		return
	}
	respond(ev)
}

func sanitize(data []byte) string {
	return redact.Redact(bound.TruncateField(string(data)))
}
