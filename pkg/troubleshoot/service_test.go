package troubleshoot

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wan-doctor/pkg/device"
	"wan-doctor/pkg/model"
	"wan-doctor/pkg/store"
)

type stubPorts struct {
	port device.Port
	err  error
}

func (s stubPorts) PortFor(string) (device.Port, error) { return s.port, s.err }

// newTestService wires a service to an in-memory store and a pre-seeded
// wizard so tests control the device end to end.
func newTestService(t *testing.T, port device.Port) (*Service, *Wizard, store.Store) {
	t.Helper()
	st := store.NewMemory()
	svc := NewService(st, stubPorts{port: port})
	w := newTestWizard(port)
	w.onUpdate = svc.persist
	svc.byDevice["dev-1"] = w
	return svc, w, st
}

func TestServiceStartPersistsAndAudits(t *testing.T) {
	port := newFakePort()
	svc, w, st := newTestService(t, port)

	sess, err := svc.Start("dev-1", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	waitState(t, w, "completed")

	require.Eventually(t, func() bool {
		saved, ok, _ := st.GetSession(sess.ID)
		return ok && saved.Status == model.SessionStatusCompleted
	}, 2*time.Second, 10*time.Millisecond, "completion snapshot must be persisted")

	audit, err := st.ListAudit(10)
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	assert.Equal(t, "troubleshoot.start", audit[0].Action)
	assert.Equal(t, "alice", audit[0].Actor)
	assert.Equal(t, "dev-1", audit[0].Target)
}

func TestServiceStartUnknownDevice(t *testing.T) {
	svc := NewService(store.NewMemory(), stubPorts{err: fmt.Errorf("device dev-9 not connected")})
	_, err := svc.Start("dev-9", "alice")
	assert.ErrorContains(t, err, "not connected")
}

func TestServiceGetLiveAndFallback(t *testing.T) {
	port := newFakePort()
	svc, w, _ := newTestService(t, port)

	sess, err := svc.Start("dev-1", "alice")
	require.NoError(t, err)
	waitState(t, w, "completed")

	status, err := svc.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.State)
	assert.Equal(t, 5, status.Progress.Total)
	require.NotNil(t, status.Session)

	// after restart the wizard forgets the run; Get serves the snapshot
	require.NoError(t, svc.Restart(sess.ID, "alice"))
	status, err = svc.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, string(model.SessionStatusCompleted), status.State)
	require.NotNil(t, status.Session)

	_, err = svc.Get("nope")
	assert.ErrorContains(t, err, "not found")
}

func TestServiceRejectsSupersededSession(t *testing.T) {
	port := newFakePort()
	svc, w, _ := newTestService(t, port)

	first, err := svc.Start("dev-1", "alice")
	require.NoError(t, err)
	waitState(t, w, "completed")
	require.NoError(t, svc.Restart(first.ID, "alice"))

	second, err := svc.Start("dev-1", "alice")
	require.NoError(t, err)
	waitState(t, w, "completed")
	assert.NotEqual(t, first.ID, second.ID)

	// the first session id no longer routes anywhere
	err = svc.Cancel(first.ID, "alice")
	assert.ErrorContains(t, err, "not found")
}

func TestServiceSummaryFromStore(t *testing.T) {
	port := newFakePort()
	svc, w, _ := newTestService(t, port)

	sess, err := svc.Start("dev-1", "alice")
	require.NoError(t, err)
	waitState(t, w, "completed")

	live, err := svc.Summary(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusAllPassed, live.FinalStatus)

	require.NoError(t, svc.Restart(sess.ID, "alice"))
	persisted, err := svc.Summary(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, live.FinalStatus, persisted.FinalStatus)
}

func TestServiceHistory(t *testing.T) {
	port := newFakePort()
	svc, w, _ := newTestService(t, port)

	first, err := svc.Start("dev-1", "alice")
	require.NoError(t, err)
	waitState(t, w, "completed")
	require.NoError(t, svc.Restart(first.ID, "alice"))

	second, err := svc.Start("dev-1", "alice")
	require.NoError(t, err)
	waitState(t, w, "completed")

	history, err := svc.History("dev-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, second.ID, history[1].ID)
}
