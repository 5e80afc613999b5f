// Package event defines the hub's event model: one variant per recognized
// wire type, the broadcast envelope, and validation from untyped JSON.
package event

import "time"

// Type discriminates event variants on the wire.
type Type string

const (
	TypeToolStart        Type = "tool_start"
	TypeToolEnd          Type = "tool_end"
	TypeThinking         Type = "thinking"
	TypeAgentStart       Type = "agent_start"
	TypeAgentStop        Type = "agent_stop"
	TypeSessionStart     Type = "session_start"
	TypeSessionStop      Type = "session_stop"
	TypePlanUpdate       Type = "plan_update"
	TypePlanDelete       Type = "plan_delete"
	TypePlanList         Type = "plan_list"
	TypeTeamUpdate       Type = "team_update"
	TypeTaskUpdate       Type = "task_update"
	TypeSubagentMapping  Type = "subagent_mapping"
	TypeConnectionStatus Type = "connection_status"
)

// ingressTypes are the variants accepted on POST /event. The remaining
// variants are only ever synthesized by the hub itself.
var ingressTypes = map[Type]bool{
	TypeToolStart:    true,
	TypeToolEnd:      true,
	TypeThinking:     true,
	TypeAgentStart:   true,
	TypeAgentStop:    true,
	TypeSessionStart: true,
	TypeSessionStop:  true,
}

// Event is implemented by every variant.
type Event interface {
	EventType() Type
}

// Meta carries the fields shared by all variants.
type Meta struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
}

// EventType implements Event.
func (m Meta) EventType() Type { return m.Type }

// NewMeta returns a Meta stamped with the current UTC time.
func NewMeta(t Type) Meta {
	return Meta{Type: t, Timestamp: Now()}
}

// Now returns the current time in the wire timestamp format.
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// Envelope is the wire frame pushed to every client: the event plus a
// per-hub monotonically increasing sequence number starting at 1.
type Envelope struct {
	Event Event  `json:"event"`
	Seq   uint64 `json:"seq"`
}

// ToolStart reports the beginning of a tool invocation.
type ToolStart struct {
	Meta
	ToolName   string `json:"toolName"`
	Input      string `json:"input,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

// ToolEnd reports the completion of a tool invocation. DurationMs is
// backfilled from the tracked start time when the hook omits it.
type ToolEnd struct {
	Meta
	ToolName   string `json:"toolName"`
	Output     string `json:"output,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	DurationMs *int64 `json:"durationMs,omitempty"`
}

// Thinking carries one extracted reasoning block from a transcript.
type Thinking struct {
	Meta
	Content   string `json:"content"`
	SessionID string `json:"sessionId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
}

// AgentStart announces a spawned subagent.
type AgentStart struct {
	Meta
	AgentID       string `json:"agentId"`
	SessionID     string `json:"sessionId,omitempty"`
	AgentName     string `json:"agentName,omitempty"`
	ParentAgentID string `json:"parentAgentId,omitempty"`
}

// AgentStop announces a subagent finishing.
type AgentStop struct {
	Meta
	AgentID string `json:"agentId"`
	Status  string `json:"status,omitempty"` // success, failure, cancelled
}

// SessionStart announces a top-level assistant session.
type SessionStart struct {
	Meta
	SessionID        string `json:"sessionId"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

// SessionStop announces the end of a session.
type SessionStop struct {
	Meta
	SessionID string `json:"sessionId"`
}

// PlanInfo describes one plan file in a plan_list.
type PlanInfo struct {
	Path         string `json:"path"`
	Filename     string `json:"filename"`
	LastModified int64  `json:"lastModified"`
}

// PlanUpdate reports a created or changed plan file.
type PlanUpdate struct {
	Meta
	Path         string `json:"path"`
	Filename     string `json:"filename"`
	Content      string `json:"content,omitempty"`
	LastModified int64  `json:"lastModified,omitempty"`
}

// PlanDelete reports a removed plan file.
type PlanDelete struct {
	Meta
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// PlanList carries the current plan inventory.
type PlanList struct {
	Meta
	Plans []PlanInfo `json:"plans"`
}

// TeamMember is one configured member of a team.
type TeamMember struct {
	Name      string `json:"name"`
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType"`
	Status    string `json:"status"`
}

// TeamUpdate reports a team's current member list. An empty member list is
// the removal signal for the team.
type TeamUpdate struct {
	Meta
	TeamName string       `json:"teamName"`
	Members  []TeamMember `json:"members"`
	// DetectedAt is when the team was first observed; stable across
	// re-emits while the broadcast timestamp moves.
	DetectedAt string `json:"detectedAt,omitempty"`
}

// TaskItem is one work item in a team's task directory.
type TaskItem struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description,omitempty"`
	ActiveForm  string   `json:"activeForm,omitempty"`
	Status      string   `json:"status"` // pending, in_progress, completed
	Owner       string   `json:"owner,omitempty"`
	Blocks      []string `json:"blocks"`
	BlockedBy   []string `json:"blockedBy"`
}

// TaskUpdate reports a team's current task set. An empty task list is the
// removal signal for the team's task directory.
type TaskUpdate struct {
	Meta
	TeamID string     `json:"teamId"`
	Tasks  []TaskItem `json:"tasks"`
}

// SubagentInfo is the external representation of one tracked subagent.
type SubagentInfo struct {
	AgentID         string `json:"agentId"`
	ParentSessionID string `json:"parentSessionId"`
	Name            string `json:"name"`
	StartTime       string `json:"startTime"`
	Status          string `json:"status"`
	EndTime         string `json:"endTime,omitempty"`
}

// SubagentMapping carries the full current agent-to-session mapping.
type SubagentMapping struct {
	Meta
	Mappings []SubagentInfo `json:"mappings"`
}

// ConnectionStatus is sent to a client right after it connects.
type ConnectionStatus struct {
	Meta
	Status        string `json:"status"` // connected, disconnected
	ServerVersion string `json:"serverVersion"`
	ClientCount   int    `json:"clientCount"`
}
