package troubleshoot

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wan-doctor/pkg/device"
	"wan-doctor/pkg/model"
)

// fakePort simulates a managed device whose health the test controls. All
// state is mutex-guarded because the wizard calls from its own goroutines.
type fakePort struct {
	mu    sync.Mutex
	calls []device.Command

	routeOK     bool
	wanUp       bool
	gatewayOK   bool
	internetOK  bool
	dnsOK       bool
	natOK       bool
	dnsServers  string
	dnsSetHeals bool
	wanErr      error

	block chan struct{} // when set, commands stall until closed or ctx ends
}

func newFakePort() *fakePort {
	return &fakePort{
		routeOK:    true,
		wanUp:      true,
		gatewayOK:  true,
		internetOK: true,
		dnsOK:      true,
		natOK:      true,
		dnsServers: "10.0.0.53",
	}
}

func (p *fakePort) ExecuteCommand(ctx context.Context, cmd device.Command) (*device.CommandResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, cmd)
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch cmd.Path {
	case "/ip/route":
		if !p.routeOK {
			return ok(), nil
		}
		return ok(map[string]string{"dst-address": "0.0.0.0/0", "gateway": "192.168.1.1", "interface": "ether1"}), nil
	case "/ip/dhcp-client":
		return ok(), nil
	case "/interface":
		if p.wanErr != nil {
			return nil, p.wanErr
		}
		return ok(map[string]string{"name": "ether1", "disabled": "false", "running": boolString(p.wanUp)}), nil
	case "/ping":
		reachable := p.internetOK
		if cmd.Args["address"] == "192.168.1.1" {
			reachable = p.gatewayOK
		}
		if reachable {
			return ok(map[string]string{"sent": "3", "received": "3", "packet-loss": "0"}), nil
		}
		return ok(map[string]string{"sent": "3", "received": "0", "packet-loss": "100"}), nil
	case "/tool/dns-lookup":
		if p.dnsOK {
			return ok(map[string]string{"name": cmd.Args["name"], "address": "142.250.80.46"}), nil
		}
		return &device.CommandResult{Success: false, Error: "server failure"}, nil
	case "/ip/dns":
		if cmd.Action == "print" {
			if p.dnsServers == "" {
				return ok(), nil
			}
			return ok(map[string]string{"servers": p.dnsServers}), nil
		}
		p.dnsServers = cmd.Args["servers"]
		if p.dnsSetHeals {
			p.dnsOK = true
		}
		return &device.CommandResult{Success: true}, nil
	case "/ip/firewall/nat":
		if cmd.Action == "print" {
			if !p.natOK {
				return ok(), nil
			}
			return ok(map[string]string{"action": "masquerade", "disabled": "false"}), nil
		}
		p.natOK = true
		return &device.CommandResult{Success: true}, nil
	}
	return nil, fmt.Errorf("fake port: unexpected command %s", cmd.String())
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func (p *fakePort) commands(path, action string) []device.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []device.Command
	for _, c := range p.calls {
		if (path == "" || c.Path == path) && (action == "" || c.Action == action) {
			out = append(out, c)
		}
	}
	return out
}

type offlineTransport struct{}

func (offlineTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, fmt.Errorf("no outbound network in tests")
}

func newTestWizard(p device.Port) *Wizard {
	w := NewWizard("dev-1", p, model.Settings{
		Diag: model.DiagConfig{StepTimeout: "1s", DetectTimeout: "1s"},
	}, nil)
	w.det.http = &http.Client{Transport: offlineTransport{}}
	return w
}

func waitState(t *testing.T, w *Wizard, name string) {
	t.Helper()
	require.Eventually(t, func() bool { return w.StateName() == name },
		3*time.Second, 10*time.Millisecond, "never reached state %s (now %s)", name, w.StateName())
}

func TestWizardAllStepsPass(t *testing.T) {
	port := newFakePort()
	w := newTestWizard(port)

	require.NoError(t, w.Start())
	waitState(t, w, "completed")

	for _, step := range w.Steps() {
		assert.Equal(t, model.StepStatusPassed, step.Status, string(step.Definition.ID))
	}
	progress := w.Progress()
	assert.Equal(t, Progress{Current: 5, Total: 5, Percentage: 100}, progress)

	summary, err := w.Summary()
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusAllPassed, summary.FinalStatus)
	assert.Equal(t, 5, summary.PassedSteps)

	sess := w.Session()
	require.NotNil(t, sess)
	assert.Equal(t, model.SessionStatusCompleted, sess.Status)
	assert.Equal(t, "ether1", sess.WanInterface)
	assert.Equal(t, "192.168.1.1", sess.Gateway)
}

func TestWizardDetectionFailureIsFatal(t *testing.T) {
	port := newFakePort()
	port.routeOK = false
	w := newTestWizard(port)

	require.NoError(t, w.Start())
	waitState(t, w, "idle")

	assert.Contains(t, w.Err(), "network detection failed")
	sess := w.Session()
	require.NotNil(t, sess)
	assert.Equal(t, model.SessionStatusFailed, sess.Status)
	assert.Empty(t, port.commands("/interface", ""), "no step may run without a network context")

	// a failed initialization leaves the machine startable again
	require.NoError(t, w.Start())
}

func TestWizardFixAppliedAndVerified(t *testing.T) {
	port := newFakePort()
	port.dnsOK = false
	port.dnsSetHeals = true
	w := newTestWizard(port)

	require.NoError(t, w.Start())
	waitState(t, w, "running.awaitingFixDecision")

	steps := w.Steps()
	dns := steps[3]
	require.Equal(t, model.StepTypeDNS, dns.Definition.ID)
	assert.Equal(t, model.StepStatusFailed, dns.Status)
	require.NotNil(t, dns.Fix)
	assert.Equal(t, "DNS_FAILED", dns.Fix.IssueCode)

	require.NoError(t, w.ApplyFix())
	waitState(t, w, "completed")

	require.Len(t, port.commands("/ip/dns", "set"), 1)
	assert.Len(t, port.commands("/ip/dns", "print"), 1, "rollback capture before the mutation")

	summary, err := w.Summary()
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusIssuesResolved, summary.FinalStatus)
	assert.Equal(t, []string{"DNS_FAILED"}, summary.AppliedFixes)

	sess := w.Session()
	require.Len(t, sess.AppliedFixes, 1)
	applied := sess.AppliedFixes[0]
	assert.True(t, applied.Success)
	assert.True(t, applied.RollbackAvailable)
	assert.False(t, applied.RolledBack)
	assert.Equal(t, model.StepStatusPassed, sess.Steps[3].Status)
}

func TestWizardVerifyFailureRollsBack(t *testing.T) {
	port := newFakePort()
	port.dnsOK = false // the set command does not heal resolution
	w := newTestWizard(port)

	require.NoError(t, w.Start())
	waitState(t, w, "running.awaitingFixDecision")
	require.NoError(t, w.ApplyFix())
	waitState(t, w, "running.awaitingFixDecision")

	sets := port.commands("/ip/dns", "set")
	require.Len(t, sets, 2, "fix dispatch plus rollback")
	assert.Equal(t, "8.8.8.8,1.1.1.1", sets[0].Args["servers"])
	assert.Equal(t, "10.0.0.53", sets[1].Args["servers"], "rollback restores the captured servers")

	sess := w.Session()
	require.Len(t, sess.AppliedFixes, 1)
	assert.False(t, sess.AppliedFixes[0].Success)
	assert.True(t, sess.AppliedFixes[0].RolledBack)
	assert.Equal(t, model.StepStatusFailed, sess.Steps[3].Status)

	// skipping moves on; the failure stands in the summary
	require.NoError(t, w.SkipFix())
	waitState(t, w, "completed")
	summary, err := w.Summary()
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusIssuesRemaining, summary.FinalStatus)
	assert.Equal(t, 1, summary.FailedSteps)
}

func TestWizardManualFixAndContactISP(t *testing.T) {
	port := newFakePort()
	port.internetOK = false
	w := newTestWizard(port)

	require.NoError(t, w.Start())
	waitState(t, w, "running.awaitingFixDecision")

	internet := w.Steps()[2]
	require.Equal(t, model.StepTypeInternet, internet.Definition.ID)
	require.NotNil(t, internet.Fix)
	assert.True(t, internet.Fix.IsManualFix)

	before := len(port.commands("", ""))
	require.NoError(t, w.ApplyFix())
	waitState(t, w, "running.awaitingFixDecision")

	res := w.LastFixResult()
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, model.FixStatusAvailable, res.Status)
	assert.Equal(t, before, len(port.commands("", "")), "manual fixes never reach the device")

	require.NoError(t, w.SkipFix())
	waitState(t, w, "completed")
	summary, err := w.Summary()
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusContactISP, summary.FinalStatus)
}

func TestWizardApplyWithoutSuggestionFails(t *testing.T) {
	port := newFakePort()
	port.wanErr = fmt.Errorf("device rebooting")
	w := newTestWizard(port)

	require.NoError(t, w.Start())
	waitState(t, w, "running.awaitingFixDecision")

	step := w.Steps()[0]
	assert.Equal(t, model.StepStatusFailed, step.Status)
	assert.Nil(t, step.Fix, "transport failures carry no suggestion")
	assert.ErrorContains(t, w.ApplyFix(), "no fix available")
}

func TestWizardRejectsEventsWhileBusy(t *testing.T) {
	port := newFakePort()
	port.block = make(chan struct{})
	w := newTestWizard(port)

	require.NoError(t, w.Start())
	assert.ErrorIs(t, w.Start(), ErrInvalidTransition)
	assert.ErrorIs(t, w.ApplyFix(), ErrInvalidTransition)
	assert.ErrorIs(t, w.SkipFix(), ErrInvalidTransition)
	assert.ErrorIs(t, w.Restart(), ErrInvalidTransition)

	require.NoError(t, w.Cancel())
	close(port.block)
}

func TestWizardCancelDiscardsStaleResults(t *testing.T) {
	port := newFakePort()
	port.block = make(chan struct{})
	w := newTestWizard(port)

	require.NoError(t, w.Start())
	// detection is stalled on the blocked port; cancel while in flight
	require.NoError(t, w.Cancel())
	assert.Equal(t, "idle", w.StateName())
	assert.Nil(t, w.Session(), "a cancelled run's context is discarded")

	// the blocked call returns after cancellation; its result must not
	// resurrect the old run
	close(port.block)
	require.NoError(t, w.Start())
	waitState(t, w, "completed")
	sess := w.Session()
	require.NotNil(t, sess)
	assert.Equal(t, model.SessionStatusCompleted, sess.Status)
}

func TestWizardRestart(t *testing.T) {
	port := newFakePort()
	w := newTestWizard(port)

	require.NoError(t, w.Start())
	waitState(t, w, "completed")
	firstID := w.Session().ID

	require.NoError(t, w.Restart())
	assert.Equal(t, "idle", w.StateName())
	assert.Nil(t, w.Session())

	require.NoError(t, w.Start())
	waitState(t, w, "completed")
	assert.NotEqual(t, firstID, w.Session().ID)
}

func TestWizardCancelRejectedWhenIdleOrCompleted(t *testing.T) {
	port := newFakePort()
	w := newTestWizard(port)
	assert.ErrorIs(t, w.Cancel(), ErrInvalidTransition)

	require.NoError(t, w.Start())
	waitState(t, w, "completed")
	assert.ErrorIs(t, w.Cancel(), ErrInvalidTransition)
}
