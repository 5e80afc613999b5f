package correlate

import (
	"sort"
	"sync"
)

// SessionInfo is one known session, used for connect-time snapshots.
type SessionInfo struct {
	SessionID        string
	WorkingDirectory string
	StartTime        string
}

// SessionSet tracks the sessions the hub currently knows about. Entries come
// from session_start ingress events and from the transcript watcher, which
// can recover a session's working directory from the project tree.
type SessionSet struct {
	mu       sync.Mutex
	sessions map[string]*SessionInfo
}

// NewSessionSet creates an empty session registry.
func NewSessionSet() *SessionSet {
	return &SessionSet{sessions: make(map[string]*SessionInfo)}
}

// Observe records a session, merging the working directory if a later
// observation supplies one the earlier lacked.
func (s *SessionSet) Observe(sessionID, workingDirectory, startTime string) {
	if sessionID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.sessions[sessionID]
	if !ok {
		s.sessions[sessionID] = &SessionInfo{
			SessionID:        sessionID,
			WorkingDirectory: workingDirectory,
			StartTime:        startTime,
		}
		return
	}
	if workingDirectory != "" {
		info.WorkingDirectory = workingDirectory
	}
}

// Remove drops a session.
func (s *SessionSet) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Snapshot returns the known sessions sorted by session id.
func (s *SessionSet) Snapshot() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SessionID < infos[j].SessionID
	})
	return infos
}
