// Package transcript tails session transcript files and surfaces the
// assistant's reasoning blocks as thinking events.
package transcript

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jwtor7/agenthud/internal/bound"
	"github.com/jwtor7/agenthud/internal/common/logger"
	"github.com/jwtor7/agenthud/internal/correlate"
	"github.com/jwtor7/agenthud/internal/event"
	"github.com/jwtor7/agenthud/internal/redact"
)

const rootWaitInterval = 5 * time.Second

// Broadcaster pushes events to connected clients.
type Broadcaster interface {
	Broadcast(ev event.Event)
}

// trackedFile carries the tail position of one transcript.
type trackedFile struct {
	projectDir string
	lastSize   int64
	lastLines  int
}

// Watcher follows the projects root: per-project directories holding
// .jsonl transcripts, possibly with subagent sidecar trees below them.
type Watcher struct {
	root         string
	pollInterval time.Duration
	hub          Broadcaster
	sessions     *correlate.SessionSet
	logger       *logger.Logger

	mu    sync.Mutex
	files map[string]*trackedFile
}

// New creates a transcript watcher rooted at root. pollInterval governs
// the tail poll cadence.
func New(root string, pollInterval time.Duration, hub Broadcaster, sessions *correlate.SessionSet, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.Default()
	}
	return &Watcher{
		root:         root,
		pollInterval: pollInterval,
		hub:          hub,
		sessions:     sessions,
		logger:       log.WithFields(zap.String("component", "transcript_watcher")),
	}
}

// Run blocks until ctx is cancelled. A missing root is polled for until it
// appears.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.waitForRoot(ctx) {
		return ctx.Err()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.root); err != nil {
		w.logger.Warn("Failed to watch projects root", zap.Error(err))
	}
	w.bootstrap(fsw)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("Transcript watcher started", zap.String("root", w.root))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleFsEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Filesystem watcher error", zap.Error(err))
		case <-ticker.C:
			w.pollTrackedFiles()
		}
	}
}

func (w *Watcher) waitForRoot(ctx context.Context) bool {
	for {
		if info, err := os.Stat(w.root); err == nil && info.IsDir() {
			return true
		}
		w.logger.Debug("Projects root missing, waiting", zap.String("root", w.root))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(rootWaitInterval):
		}
	}
}

// bootstrap walks existing project directories, wiring watches and seeding
// tail positions at EOF so only lines written after startup are emitted.
func (w *Watcher) bootstrap(fsw *fsnotify.Watcher) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.logger.Warn("Failed to read projects root", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.addProjectDir(fsw, filepath.Join(w.root, entry.Name()), true)
		}
	}
}

// addProjectDir watches a project directory tree and tracks its transcripts.
// seedAtEnd controls whether existing content is skipped.
func (w *Watcher) addProjectDir(fsw *fsnotify.Watcher, dir string, seedAtEnd bool) {
	projectDir := filepath.Base(dir)

	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				w.logger.Debug("Failed to watch directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if strings.HasSuffix(path, ".jsonl") {
			w.track(path, projectDir, seedAtEnd)
		}
		return nil
	})
}

// track registers a transcript file if not already known.
func (w *Watcher) track(path, projectDir string, seedAtEnd bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.files[path]; exists {
		return
	}
	if w.files == nil {
		w.files = make(map[string]*trackedFile)
	}

	tf := &trackedFile{projectDir: projectDir}
	if seedAtEnd {
		if data, err := os.ReadFile(path); err == nil {
			tf.lastSize = int64(len(data))
			tf.lastLines = countLines(data)
		}
	}
	w.files[path] = tf
	w.logger.Debug("Tracking transcript", zap.String("path", path))
}

func (w *Watcher) handleFsEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// New project subdirectory or a subagents tree below one.
			w.addProjectDir(fsw, ev.Name, false)
			return
		}
		if strings.HasSuffix(ev.Name, ".jsonl") {
			w.track(ev.Name, w.projectDirOf(ev.Name), false)
		}

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.dropUnder(ev.Name)
	}
}

// projectDirOf returns the top-level project directory name for a path
// under the root.
func (w *Watcher) projectDirOf(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(rel, string(os.PathSeparator))
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

// dropUnder forgets tracked files at or below a removed path.
func (w *Watcher) dropUnder(path string) {
	prefix := path + string(os.PathSeparator)

	w.mu.Lock()
	defer w.mu.Unlock()
	for p := range w.files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(w.files, p)
			w.logger.Debug("Dropped transcript", zap.String("path", p))
		}
	}
}

// pollTrackedFiles reads the tail of every tracked file that grew.
func (w *Watcher) pollTrackedFiles() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, path := range paths {
		w.pollFile(path)
	}
}

func (w *Watcher) pollFile(path string) {
	w.mu.Lock()
	tf, ok := w.files[path]
	w.mu.Unlock()
	if !ok {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		w.dropUnder(path)
		return
	}
	if info.Size() <= tf.lastSize {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Debug("Failed to read transcript", zap.String("path", path), zap.Error(err))
		return
	}

	lines := nonEmptyLines(data)
	start := tf.lastLines
	if start > len(lines) {
		start = 0 // truncated and rewritten
	}
	for _, line := range lines[start:] {
		w.processLine(line, tf.projectDir)
	}

	w.mu.Lock()
	tf.lastSize = int64(len(data))
	tf.lastLines = len(lines)
	w.mu.Unlock()
}

// processLine extracts thinking blocks from one transcript line and emits
// sanitized thinking events.
func (w *Watcher) processLine(line []byte, projectDir string) {
	blocks, meta := extractThinking(line)

	if meta.sessionID != "" && w.sessions != nil {
		w.sessions.Observe(meta.sessionID, workingDirFromProject(projectDir), meta.timestamp)
	}

	for _, text := range blocks {
		ts := meta.timestamp
		if ts == "" {
			ts = event.Now()
		}
		w.hub.Broadcast(&event.Thinking{
			Meta:      event.Meta{Type: event.TypeThinking, Timestamp: ts},
			Content:   redact.Redact(bound.TruncateField(text)),
			SessionID: meta.sessionID,
			AgentID:   meta.agentID,
		})
	}
}

type lineMeta struct {
	sessionID string
	agentID   string
	timestamp string
}

// extractThinking pulls every thinking block out of a transcript line.
// The line is either a message envelope with message.content[] or, for
// subagent sidecar files, one extra level of wrapping around that shape.
func extractThinking(line []byte) ([]string, lineMeta) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil, lineMeta{}
	}

	meta := metaFrom(obj)
	if blocks := blocksFrom(obj); len(blocks) > 0 {
		return blocks, meta
	}

	for _, raw := range obj {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			continue
		}
		if blocks := blocksFrom(inner); len(blocks) > 0 {
			innerMeta := metaFrom(inner)
			if innerMeta.sessionID != "" {
				meta.sessionID = innerMeta.sessionID
			}
			if innerMeta.agentID != "" {
				meta.agentID = innerMeta.agentID
			}
			if innerMeta.timestamp != "" {
				meta.timestamp = innerMeta.timestamp
			}
			return blocks, meta
		}
	}
	return nil, meta
}

func metaFrom(obj map[string]json.RawMessage) lineMeta {
	return lineMeta{
		sessionID: stringField(obj, "sessionId"),
		agentID:   stringField(obj, "agentId"),
		timestamp: stringField(obj, "timestamp"),
	}
}

func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// blocksFrom extracts thinking texts from an object's message.content array.
func blocksFrom(obj map[string]json.RawMessage) []string {
	rawMsg, ok := obj["message"]
	if !ok {
		return nil
	}
	var msg struct {
		Content []struct {
			Type     string `json:"type"`
			Thinking string `json:"thinking"`
		} `json:"content"`
	}
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		return nil
	}

	var blocks []string
	for _, block := range msg.Content {
		if block.Type == "thinking" && block.Thinking != "" {
			blocks = append(blocks, block.Thinking)
		}
	}
	return blocks
}

// workingDirFromProject reverses the path-to-dashes transform used for
// project directory names, e.g. "-home-user-app" becomes "/home/user/app".
// Directory names that do not follow the transform yield "".
func workingDirFromProject(projectDir string) string {
	if !strings.HasPrefix(projectDir, "-") {
		return ""
	}
	return strings.ReplaceAll(projectDir, "-", "/")
}

func nonEmptyLines(data []byte) [][]byte {
	raw := strings.Split(string(data), "\n")
	lines := make([][]byte, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, []byte(l))
		}
	}
	return lines
}

func countLines(data []byte) int {
	return len(nonEmptyLines(data))
}
