package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubagentMap_RegisterAndLookup(t *testing.T) {
	m := NewSubagentMap()
	defer m.Close()

	m.Register("a1", "s1", "explore", "2026-01-01T00:00:00Z")

	parent, ok := m.ParentOf("a1")
	require.True(t, ok)
	assert.Equal(t, "s1", parent)

	info, ok := m.Lookup("a1")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, info.Status)
	assert.Equal(t, "explore", info.Name)
	assert.Empty(t, info.EndTime)
}

func TestSubagentMap_ReverseIndexIsInverse(t *testing.T) {
	m := NewSubagentMap()
	defer m.Close()

	m.Register("a1", "s1", "", "t0")
	m.Register("a2", "s1", "", "t0")
	m.Register("a3", "s2", "", "t0")

	s1 := m.BySession("s1")
	require.Len(t, s1, 2)
	assert.Equal(t, "a1", s1[0].AgentID)
	assert.Equal(t, "a2", s1[1].AgentID)

	for _, info := range m.Snapshot() {
		found := false
		for _, sibling := range m.BySession(info.ParentSessionID) {
			if sibling.AgentID == info.AgentID {
				found = true
			}
		}
		assert.True(t, found, "agent %s missing from its session's set", info.AgentID)
	}
}

func TestSubagentMap_StopSchedulesRemoval(t *testing.T) {
	m := NewSubagentMap()
	defer m.Close()
	m.SetRemovalDelay(20 * time.Millisecond)

	m.Register("a1", "s1", "", "t0")
	m.Stop("a1", "success", "t1")

	info, ok := m.Lookup("a1")
	require.True(t, ok)
	assert.Equal(t, "success", info.Status)
	assert.Equal(t, "t1", info.EndTime)

	assert.Eventually(t, func() bool {
		_, ok := m.Lookup("a1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, m.BySession("s1"))
}

func TestSubagentMap_ReRegisterCancelsRemoval(t *testing.T) {
	m := NewSubagentMap()
	defer m.Close()
	m.SetRemovalDelay(30 * time.Millisecond)

	m.Register("a1", "s1", "", "t0")
	m.Stop("a1", "failure", "t1")
	m.Register("a1", "s1", "retry", "t2")

	time.Sleep(60 * time.Millisecond)

	info, ok := m.Lookup("a1")
	require.True(t, ok, "re-register must cancel the pending removal")
	assert.Equal(t, StatusRunning, info.Status)
	assert.Equal(t, "retry", info.Name)
	assert.Empty(t, info.EndTime)
}

func TestSubagentMap_SessionCleanupIsImmediate(t *testing.T) {
	m := NewSubagentMap()
	defer m.Close()

	m.Register("a1", "s1", "", "t0")
	m.Register("a2", "s1", "", "t0")
	m.Stop("a2", "success", "t1")
	m.Register("b1", "s2", "", "t0")

	m.SessionCleanup("s1")

	_, ok := m.Lookup("a1")
	assert.False(t, ok)
	_, ok = m.Lookup("a2")
	assert.False(t, ok)
	_, ok = m.Lookup("b1")
	assert.True(t, ok, "other sessions untouched")
	assert.Empty(t, m.BySession("s1"))
}

func TestSubagentMap_RegisterMovesSession(t *testing.T) {
	m := NewSubagentMap()
	defer m.Close()

	m.Register("a1", "s1", "", "t0")
	m.Register("a1", "s2", "", "t1")

	assert.Empty(t, m.BySession("s1"))
	require.Len(t, m.BySession("s2"), 1)
}

func TestSubagentMap_MappingEvent(t *testing.T) {
	m := NewSubagentMap()
	defer m.Close()

	m.Register("a1", "s1", "explore", "t0")
	ev := m.MappingEvent()

	assert.Equal(t, "subagent_mapping", string(ev.EventType()))
	require.Len(t, ev.Mappings, 1)
	assert.Equal(t, "a1", ev.Mappings[0].AgentID)
	assert.Equal(t, "s1", ev.Mappings[0].ParentSessionID)
	assert.NotEmpty(t, ev.Timestamp)
}
