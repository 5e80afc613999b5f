// Package teamtask polls the teams and tasks roots and broadcasts team
// membership and task list changes.
package teamtask

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jwtor7/agenthud/internal/bound"
	"github.com/jwtor7/agenthud/internal/common/logger"
	"github.com/jwtor7/agenthud/internal/event"
	"github.com/jwtor7/agenthud/internal/hashutil"
	"github.com/jwtor7/agenthud/internal/pathsafe"
	"github.com/jwtor7/agenthud/internal/redact"
)

const taskReadConcurrency = 4

// Broadcaster pushes events to connected clients.
type Broadcaster interface {
	Broadcast(ev event.Event)
}

type trackedTeam struct {
	hash       string
	detectedAt string
	members    []event.TeamMember
}

type trackedTaskDir struct {
	hash  string
	tasks []event.TaskItem
}

// Watcher polls the teams and tasks roots. Change detection is hash based,
// so touch-without-change never re-emits.
type Watcher struct {
	teamsRoot    string
	tasksRoot    string
	pollInterval time.Duration
	hub          Broadcaster
	logger       *logger.Logger

	mu       sync.Mutex
	teams    map[string]*trackedTeam
	taskDirs map[string]*trackedTaskDir
}

// New creates a team/task watcher over the two roots.
func New(teamsRoot, tasksRoot string, pollInterval time.Duration, hub Broadcaster, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.Default()
	}
	return &Watcher{
		teamsRoot:    teamsRoot,
		tasksRoot:    tasksRoot,
		pollInterval: pollInterval,
		hub:          hub,
		teams:        make(map[string]*trackedTeam),
		taskDirs:     make(map[string]*trackedTaskDir),
		logger:       log.WithFields(zap.String("component", "teamtask_watcher")),
	}
}

// Run polls both roots until ctx is cancelled. Missing roots simply clear
// their tracked state; they may appear later.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("Team/task watcher started",
		zap.String("teams_root", w.teamsRoot),
		zap.String("tasks_root", w.tasksRoot))

	w.poll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	w.pollTeams()
	w.pollTasks()
}

func (w *Watcher) pollTeams() {
	entries, err := os.ReadDir(w.teamsRoot)
	if err != nil {
		w.mu.Lock()
		w.teams = make(map[string]*trackedTeam)
		w.mu.Unlock()
		return
	}

	observed := make(map[string]bool)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		dir := filepath.Join(w.teamsRoot, name)
		if !pathsafe.Within(dir, w.teamsRoot) {
			w.logger.Warn("Skipping team directory outside root", zap.String("path", dir))
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, "config.json"))
		if err != nil {
			continue
		}
		observed[name] = true
		hash := hashutil.Hash(string(data))

		w.mu.Lock()
		tracked, known := w.teams[name]
		if known && tracked.hash == hash {
			w.mu.Unlock()
			continue
		}
		members := parseTeamConfig(data)
		detectedAt := event.Now()
		if known {
			detectedAt = tracked.detectedAt
		}
		w.teams[name] = &trackedTeam{hash: hash, detectedAt: detectedAt, members: members}
		w.mu.Unlock()

		w.hub.Broadcast(&event.TeamUpdate{
			Meta:       event.NewMeta(event.TypeTeamUpdate),
			TeamName:   name,
			Members:    members,
			DetectedAt: detectedAt,
		})
	}

	for _, name := range w.dropMissingTeams(observed) {
		w.hub.Broadcast(&event.TeamUpdate{
			Meta:     event.NewMeta(event.TypeTeamUpdate),
			TeamName: name,
			Members:  []event.TeamMember{},
		})
	}
}

func (w *Watcher) dropMissingTeams(observed map[string]bool) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var removed []string
	for name := range w.teams {
		if !observed[name] {
			removed = append(removed, name)
			delete(w.teams, name)
		}
	}
	sort.Strings(removed)
	return removed
}

func (w *Watcher) pollTasks() {
	entries, err := os.ReadDir(w.tasksRoot)
	if err != nil {
		w.mu.Lock()
		w.taskDirs = make(map[string]*trackedTaskDir)
		w.mu.Unlock()
		return
	}

	observed := make(map[string]bool)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		dir := filepath.Join(w.tasksRoot, name)
		if !pathsafe.Within(dir, w.tasksRoot) {
			w.logger.Warn("Skipping task directory outside root", zap.String("path", dir))
			continue
		}
		observed[name] = true

		files, contents, err := readTaskFiles(dir)
		if err != nil {
			w.logger.Debug("Failed to read task directory", zap.String("path", dir), zap.Error(err))
			continue
		}

		parts := make([]string, 0, len(files)*2)
		for i, f := range files {
			parts = append(parts, f, contents[i])
		}
		hash := hashutil.HashParts(parts)

		w.mu.Lock()
		tracked, known := w.taskDirs[name]
		if known && tracked.hash == hash {
			w.mu.Unlock()
			continue
		}
		tasks := make([]event.TaskItem, 0, len(contents))
		for _, content := range contents {
			if item, ok := parseTask([]byte(content)); ok {
				tasks = append(tasks, item)
			}
		}
		w.taskDirs[name] = &trackedTaskDir{hash: hash, tasks: tasks}
		w.mu.Unlock()

		w.hub.Broadcast(&event.TaskUpdate{
			Meta:   event.NewMeta(event.TypeTaskUpdate),
			TeamID: name,
			Tasks:  tasks,
		})
	}

	for _, name := range w.dropMissingTaskDirs(observed) {
		w.hub.Broadcast(&event.TaskUpdate{
			Meta:   event.NewMeta(event.TypeTaskUpdate),
			TeamID: name,
			Tasks:  []event.TaskItem{},
		})
	}
}

func (w *Watcher) dropMissingTaskDirs(observed map[string]bool) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var removed []string
	for name := range w.taskDirs {
		if !observed[name] {
			removed = append(removed, name)
			delete(w.taskDirs, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// readTaskFiles lists the directory's .json files sorted by filename and
// reads them concurrently. Unreadable files read as empty content so the
// hash still reflects their presence.
func readTaskFiles(dir string) ([]string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	contents := make([]string, len(files))
	var g errgroup.Group
	g.SetLimit(taskReadConcurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			data, err := os.ReadFile(filepath.Join(dir, f))
			if err == nil {
				contents[i] = string(data)
			}
			return nil
		})
	}
	_ = g.Wait()

	return files, contents, nil
}

// parseTeamConfig extracts the member list: objects with a string name,
// with string coercion for the remaining fields. Entries that are not
// objects are filtered out, not fatal for the whole list.
func parseTeamConfig(data []byte) []event.TeamMember {
	var cfg struct {
		Members []json.RawMessage `json:"members"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return []event.TeamMember{}
	}

	members := make([]event.TeamMember, 0, len(cfg.Members))
	for _, raw := range cfg.Members {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		name, ok := m["name"].(string)
		if !ok || name == "" {
			continue
		}
		members = append(members, event.TeamMember{
			Name:      name,
			AgentID:   coerceString(m["agentId"]),
			AgentType: coerceString(m["agentType"]),
			Status:    coerceString(m["status"]),
		})
	}
	return members
}

// parseTask decodes one task file, redacting free text and normalizing
// status. Unknown statuses collapse to pending.
func parseTask(data []byte) (event.TaskItem, bool) {
	var raw struct {
		ID          string   `json:"id"`
		Subject     string   `json:"subject"`
		Description string   `json:"description"`
		ActiveForm  string   `json:"activeForm"`
		Status      string   `json:"status"`
		Owner       string   `json:"owner"`
		Blocks      []string `json:"blocks"`
		BlockedBy   []string `json:"blockedBy"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return event.TaskItem{}, false
	}

	item := event.TaskItem{
		ID:          raw.ID,
		Subject:     redact.Redact(bound.TruncateField(raw.Subject)),
		Description: redact.Redact(bound.TruncateField(raw.Description)),
		ActiveForm:  raw.ActiveForm,
		Status:      normalizeStatus(raw.Status),
		Owner:       raw.Owner,
		Blocks:      raw.Blocks,
		BlockedBy:   raw.BlockedBy,
	}
	if item.Blocks == nil {
		item.Blocks = []string{}
	}
	if item.BlockedBy == nil {
		item.BlockedBy = []string{}
	}
	return item, true
}

func normalizeStatus(s string) string {
	switch s {
	case "pending", "in_progress", "completed":
		return s
	default:
		return "pending"
	}
}

func coerceString(v any) string {
	s, _ := v.(string)
	return s
}

// TeamEvents snapshots the tracked teams as team_update events, sorted by
// team name. DetectedAt keeps snapshot timestamps stable across connects.
func (w *Watcher) TeamEvents() []event.Event {
	w.mu.Lock()
	names := make([]string, 0, len(w.teams))
	for name := range w.teams {
		names = append(names, name)
	}
	sort.Strings(names)

	events := make([]event.Event, 0, len(names))
	for _, name := range names {
		tracked := w.teams[name]
		events = append(events, &event.TeamUpdate{
			Meta:       event.NewMeta(event.TypeTeamUpdate),
			TeamName:   name,
			Members:    tracked.members,
			DetectedAt: tracked.detectedAt,
		})
	}
	w.mu.Unlock()
	return events
}

// TaskEvents snapshots the tracked task directories as task_update events,
// sorted by team id.
func (w *Watcher) TaskEvents() []event.Event {
	w.mu.Lock()
	names := make([]string, 0, len(w.taskDirs))
	for name := range w.taskDirs {
		names = append(names, name)
	}
	sort.Strings(names)

	events := make([]event.Event, 0, len(names))
	for _, name := range names {
		events = append(events, &event.TaskUpdate{
			Meta:   event.NewMeta(event.TypeTaskUpdate),
			TeamID: name,
			Tasks:  w.taskDirs[name].tasks,
		})
	}
	w.mu.Unlock()
	return events
}
