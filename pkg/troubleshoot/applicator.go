package troubleshoot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"wan-doctor/pkg/device"
	"wan-doctor/pkg/model"
)

const defaultApplyTimeout = 20 * time.Second

// ApplyResult is the applicator's single outcome shape. Transport errors and
// command failures both land here; the caller never sees an exception path.
type ApplyResult struct {
	Success         bool
	Message         string
	Status          model.FixApplicationStatus
	RollbackCommand string // effective rollback, possibly captured dynamically
}

// Applicator dispatches automated fixes to the device and owns rollback
// capture. Manual fixes are rejected locally before any remote call.
type Applicator struct {
	port    device.Port
	timeout time.Duration
}

func NewApplicator(port device.Port) *Applicator {
	return &Applicator{port: port, timeout: defaultApplyTimeout}
}

// Apply runs one fix. For fixes that rewrite dynamic prior state (DNS server
// lists) the previous state is read and turned into an undo command before
// anything changes, so rollback never depends on device-side history.
func (a *Applicator) Apply(ctx context.Context, sess *model.Session, fix *model.FixSuggestion) ApplyResult {
	if fix.IsManualFix || fix.Command == "" {
		msg := "This fix requires manual intervention"
		if len(fix.ManualSteps) > 0 {
			msg += ": " + strings.Join(fix.ManualSteps, "; ")
		}
		return ApplyResult{Success: false, Message: msg, Status: model.FixStatusAvailable}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rollback := a.expand(sess, fix.RollbackCommand)
	if strings.HasPrefix(fix.Command, "/ip/dns/set") {
		if captured := a.storeDNSConfigForRollback(ctx); captured != "" {
			rollback = captured
		}
	}

	command := a.expand(sess, fix.Command)
	result, err := a.port.ExecuteCommand(ctx, parseCommand(command))
	if err != nil {
		return ApplyResult{
			Success: false,
			Message: fmt.Sprintf("Failed to execute fix command: %s", err.Error()),
			Status:  model.FixStatusFailed,
		}
	}
	if !result.Success {
		msg := "Fix command failed on device"
		if result.Error != "" {
			msg += ": " + result.Error
		}
		return ApplyResult{Success: false, Message: msg, Status: model.FixStatusFailed}
	}
	return ApplyResult{
		Success:         true,
		Message:         "Fix applied successfully",
		Status:          model.FixStatusApplied,
		RollbackCommand: rollback,
	}
}

// Rollback issues a previously captured undo command. Failures are reported
// but never escalate: a broken rollback must not take the wizard down.
func (a *Applicator) Rollback(ctx context.Context, sess *model.Session, command string) error {
	if command == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	result, err := a.port.ExecuteCommand(ctx, parseCommand(a.expand(sess, command)))
	if err != nil {
		return fmt.Errorf("rollback command: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("rollback command failed: %s", result.Error)
	}
	return nil
}

// storeDNSConfigForRollback reads the current DNS server list and builds the
// undo command for it. Returns "" when the query fails or no servers are
// configured; never an error, per the rollback-capture contract.
func (a *Applicator) storeDNSConfigForRollback(ctx context.Context) string {
	result, err := a.port.ExecuteCommand(ctx, device.Command{Path: "/ip/dns", Action: "print"})
	if err != nil {
		log.Printf("dns rollback capture failed: %v", err)
		return ""
	}
	if !result.Success || len(result.Data) == 0 {
		return ""
	}
	servers := result.Data[0]["servers"]
	if servers == "" {
		return ""
	}
	return "/ip/dns/set servers=" + servers
}

// expand substitutes the {wan} and {gateway} placeholders with the session's
// detected network context.
func (a *Applicator) expand(sess *model.Session, command string) string {
	if command == "" {
		return ""
	}
	command = strings.ReplaceAll(command, "{wan}", sess.WanInterface)
	command = strings.ReplaceAll(command, "{gateway}", sess.Gateway)
	return command
}

// parseCommand splits a registry command string into the device command shape.
// The last path element is the action verb; everything after the first space
// is key=value arguments.
func parseCommand(cmdStr string) device.Command {
	fields := strings.Fields(cmdStr)
	if len(fields) == 0 {
		return device.Command{}
	}
	path := fields[0]
	action := ""
	if i := strings.LastIndex(path, "/"); i > 0 {
		action = path[i+1:]
		path = path[:i]
	}
	args := make(map[string]string)
	for _, f := range fields[1:] {
		if kv := strings.SplitN(f, "=", 2); len(kv) == 2 {
			args[kv[0]] = kv[1]
		}
	}
	return device.Command{Path: path, Action: action, Args: args}
}
