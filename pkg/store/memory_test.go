package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wan-doctor/pkg/model"
)

func session(id, deviceID string, status model.SessionStatus, started time.Time) *model.Session {
	return &model.Session{ID: id, DeviceID: deviceID, Status: status, StartedAt: &started}
}

func TestSessionRoundTrip(t *testing.T) {
	m := NewMemoryStore()

	_, ok, err := m.GetSession("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	s := session("s1", "dev-1", model.SessionStatusRunning, time.Now())
	require.NoError(t, m.SaveSession(s))

	got, ok, err := m.GetSession("s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dev-1", got.DeviceID)

	require.NoError(t, m.DeleteSession("s1"))
	_, ok, _ = m.GetSession("s1")
	assert.False(t, ok)

	assert.Error(t, m.SaveSession(nil))
	assert.Error(t, m.SaveSession(&model.Session{}))
}

func TestListSessionsByDeviceOrdered(t *testing.T) {
	m := NewMemoryStore()
	base := time.Now()
	require.NoError(t, m.SaveSession(session("s2", "dev-1", model.SessionStatusCompleted, base.Add(time.Minute))))
	require.NoError(t, m.SaveSession(session("s1", "dev-1", model.SessionStatusCompleted, base)))
	require.NoError(t, m.SaveSession(session("s3", "dev-2", model.SessionStatusCompleted, base)))

	out, err := m.ListSessionsByDevice("dev-1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "s1", out[0].ID)
	assert.Equal(t, "s2", out[1].ID)

	out, err = m.ListSessionsByDevice("dev-9")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPruneExpired(t *testing.T) {
	m := NewMemoryStore()
	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()

	expired := session("expired", "dev-1", model.SessionStatusCompleted, old)
	expired.CompletedAt = &old
	recent := session("recent", "dev-1", model.SessionStatusCompleted, fresh)
	recent.CompletedAt = &fresh
	active := session("active", "dev-1", model.SessionStatusRunning, old)
	cancelled := session("cancelled", "dev-1", model.SessionStatusCancelled, old)
	cancelled.CompletedAt = &old

	for _, s := range []*model.Session{expired, recent, active, cancelled} {
		require.NoError(t, m.SaveSession(s))
	}

	m.pruneExpired(time.Now().Add(-time.Hour))

	_, ok, _ := m.GetSession("expired")
	assert.False(t, ok)
	_, ok, _ = m.GetSession("cancelled")
	assert.False(t, ok)
	_, ok, _ = m.GetSession("recent")
	assert.True(t, ok)
	_, ok, _ = m.GetSession("active")
	assert.True(t, ok, "in-flight sessions are never pruned, regardless of age")
}

func TestRetentionFromSettings(t *testing.T) {
	m := NewMemoryStore()
	ttl, interval := m.retention()
	assert.Equal(t, time.Hour, ttl)
	assert.Equal(t, 5*time.Minute, interval)

	s, _ := m.GetSettings()
	s.Session.TTL = "30m"
	s.Session.CleanupInterval = "1m"
	require.NoError(t, m.UpdateSettings(s))
	ttl, interval = m.retention()
	assert.Equal(t, 30*time.Minute, ttl)
	assert.Equal(t, time.Minute, interval)

	s.Session.TTL = "bogus"
	require.NoError(t, m.UpdateSettings(s))
	ttl, _ = m.retention()
	assert.Equal(t, time.Hour, ttl, "unparseable TTL falls back to the default")
}

func TestUpsertDevicePreservesCreatedAt(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.UpsertDevice(model.Device{})
	assert.Error(t, err)

	first, err := m.UpsertDevice(model.Device{ID: "dev-1", Name: "lab router"})
	require.NoError(t, err)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := m.UpsertDevice(model.Device{ID: "dev-1", Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "renamed", second.Name)
}

func TestMarkDeviceConnected(t *testing.T) {
	m := NewMemoryStore()

	// connecting an unknown device registers it
	require.NoError(t, m.MarkDeviceConnected("dev-1", true))
	d, ok, _ := m.GetDevice("dev-1")
	require.True(t, ok)
	assert.True(t, d.Connected)
	assert.False(t, d.LastSeen.IsZero())

	require.NoError(t, m.MarkDeviceConnected("dev-1", false))
	d, _, _ = m.GetDevice("dev-1")
	assert.False(t, d.Connected)
}

func TestListDevicesSorted(t *testing.T) {
	m := NewMemoryStore()
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		_, err := m.UpsertDevice(model.Device{ID: id})
		require.NoError(t, err)
	}
	out, err := m.ListDevices()
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "alpha", out[0].ID)
	assert.Equal(t, "bravo", out[1].ID)
	assert.Equal(t, "charlie", out[2].ID)
}

func TestListAuditLimit(t *testing.T) {
	m := NewMemoryStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendAudit(model.AuditEntry{
			Actor:  "tester",
			Action: fmt.Sprintf("troubleshoot.start-%d", i),
		}))
	}

	out, err := m.ListAudit(2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "troubleshoot.start-3", out[0].Action)
	assert.Equal(t, "troubleshoot.start-4", out[1].Action)
	assert.False(t, out[0].Timestamp.IsZero(), "missing timestamps are filled on append")

	out, _ = m.ListAudit(0)
	assert.Len(t, out, 5)
	out, _ = m.ListAudit(50)
	assert.Len(t, out, 5)
}

func TestConcurrentAccess(t *testing.T) {
	m := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", n)
			now := time.Now()
			_ = m.SaveSession(session(id, "dev-1", model.SessionStatusRunning, now))
			_, _, _ = m.GetSession(id)
			_, _ = m.ListSessionsByDevice("dev-1")
			_ = m.MarkDeviceConnected("dev-1", n%2 == 0)
			_ = m.AppendAudit(model.AuditEntry{Actor: "tester", Action: "troubleshoot.start"})
		}(i)
	}
	wg.Wait()

	out, err := m.ListSessionsByDevice("dev-1")
	require.NoError(t, err)
	assert.Len(t, out, 8)
}
