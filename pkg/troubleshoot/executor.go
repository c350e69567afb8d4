package troubleshoot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wan-doctor/pkg/device"
	"wan-doctor/pkg/model"
)

const (
	defaultPingTarget  = "8.8.8.8"
	defaultProbeDomain = "google.com"
	defaultStepTimeout = 15 * time.Second
)

// Executor runs one diagnostic step against a device port and normalizes
// every outcome, including transport errors, into a StepResult. It is the
// engine's single failure channel for diagnostics: Run never returns an error.
type Executor struct {
	port        device.Port
	pingTarget  string
	probeDomain string
	timeout     time.Duration
}

func NewExecutor(port device.Port, cfg model.DiagConfig) *Executor {
	e := &Executor{
		port:        port,
		pingTarget:  defaultPingTarget,
		probeDomain: defaultProbeDomain,
		timeout:     defaultStepTimeout,
	}
	if cfg.PingTarget != "" {
		e.pingTarget = cfg.PingTarget
	}
	if cfg.ProbeDomain != "" {
		e.probeDomain = cfg.ProbeDomain
	}
	if d, err := time.ParseDuration(cfg.StepTimeout); err == nil && d > 0 {
		e.timeout = d
	}
	return e
}

// Run executes the given step. wanInterface and gateway come from the
// session's detected network context.
func (e *Executor) Run(ctx context.Context, step model.StepType, wanInterface, gateway string) *model.StepResult {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	start := time.Now()

	switch step {
	case model.StepTypeWAN:
		return e.checkWAN(ctx, wanInterface, start)
	case model.StepTypeGateway:
		return e.checkGateway(ctx, gateway, start)
	case model.StepTypeInternet:
		return e.checkInternet(ctx, start)
	case model.StepTypeDNS:
		return e.checkDNS(ctx, start)
	case model.StepTypeNAT:
		return e.checkNAT(ctx, start)
	default:
		ids := make([]string, 0, len(StepRegistry))
		for _, def := range StepRegistry {
			ids = append(ids, string(def.ID))
		}
		return &model.StepResult{
			Success:         false,
			Message:         fmt.Sprintf("Unsupported diagnostic step %q", step),
			Details:         "supported steps: " + strings.Join(ids, ", "),
			ExecutionTimeMs: elapsedMs(start),
		}
	}
}

func (e *Executor) checkWAN(ctx context.Context, wanInterface string, start time.Time) *model.StepResult {
	result, err := e.port.ExecuteCommand(ctx, device.Command{
		Path:   "/interface",
		Action: "print",
		Query:  "where name=" + wanInterface,
	})
	if err != nil {
		return transportFailure("WAN interface check failed", err, start)
	}
	if len(result.Data) == 0 {
		return &model.StepResult{
			Success:         false,
			Message:         "WAN interface not found",
			IssueCode:       "WAN_NOT_FOUND",
			Target:          wanInterface,
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	iface := result.Data[0]
	if iface["disabled"] == "true" {
		return &model.StepResult{
			Success:         false,
			Message:         "WAN interface is disabled",
			IssueCode:       "WAN_DISABLED",
			Target:          wanInterface,
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	if iface["running"] != "true" {
		return &model.StepResult{
			Success:         false,
			Message:         "WAN interface link is down",
			IssueCode:       "WAN_LINK_DOWN",
			Target:          wanInterface,
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	return &model.StepResult{
		Success:         true,
		Message:         "WAN interface is up and operational",
		Target:          wanInterface,
		ExecutionTimeMs: elapsedMs(start),
	}
}

func (e *Executor) checkGateway(ctx context.Context, gateway string, start time.Time) *model.StepResult {
	if gateway == "" {
		return &model.StepResult{
			Success:         false,
			Message:         "No gateway detected",
			IssueCode:       "GATEWAY_UNREACHABLE",
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	result, err := e.ping(ctx, gateway)
	if err != nil {
		return &model.StepResult{
			Success:         false,
			Message:         "Gateway probe timed out",
			IssueCode:       "GATEWAY_TIMEOUT",
			Details:         err.Error(),
			Target:          gateway,
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	if pingReachable(result) {
		return &model.StepResult{
			Success:         true,
			Message:         "Gateway is reachable",
			Target:          gateway,
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	return &model.StepResult{
		Success:         false,
		Message:         "Gateway is unreachable",
		IssueCode:       "GATEWAY_UNREACHABLE",
		Target:          gateway,
		ExecutionTimeMs: elapsedMs(start),
	}
}

func (e *Executor) checkInternet(ctx context.Context, start time.Time) *model.StepResult {
	result, err := e.ping(ctx, e.pingTarget)
	if err != nil {
		return &model.StepResult{
			Success:         false,
			Message:         "Internet probe timed out",
			IssueCode:       "INTERNET_TIMEOUT",
			Details:         err.Error(),
			Target:          e.pingTarget,
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	if pingReachable(result) {
		return &model.StepResult{
			Success:         true,
			Message:         "Internet is reachable",
			Target:          e.pingTarget,
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	return &model.StepResult{
		Success:         false,
		Message:         "Cannot reach the internet",
		IssueCode:       "NO_INTERNET",
		Target:          e.pingTarget,
		ExecutionTimeMs: elapsedMs(start),
	}
}

func (e *Executor) checkDNS(ctx context.Context, start time.Time) *model.StepResult {
	result, err := e.port.ExecuteCommand(ctx, device.Command{
		Path:   "/tool/dns-lookup",
		Action: "execute",
		Args:   map[string]string{"name": e.probeDomain},
	})
	if err != nil {
		return &model.StepResult{
			Success:         false,
			Message:         "DNS lookup timed out",
			IssueCode:       "DNS_TIMEOUT",
			Details:         err.Error(),
			Target:          e.probeDomain,
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	if !result.Success || len(result.Data) == 0 || result.Data[0]["address"] == "" {
		return &model.StepResult{
			Success:         false,
			Message:         "DNS resolution failed",
			IssueCode:       "DNS_FAILED",
			Target:          e.probeDomain,
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	return &model.StepResult{
		Success:         true,
		Message:         "DNS is working correctly",
		Details:         e.probeDomain + " -> " + result.Data[0]["address"],
		Target:          e.probeDomain,
		ExecutionTimeMs: elapsedMs(start),
	}
}

func (e *Executor) checkNAT(ctx context.Context, start time.Time) *model.StepResult {
	result, err := e.port.ExecuteCommand(ctx, device.Command{
		Path:   "/ip/firewall/nat",
		Action: "print",
		Query:  "where action=masquerade",
	})
	if err != nil {
		return transportFailure("NAT check failed", err, start)
	}
	if len(result.Data) == 0 {
		return &model.StepResult{
			Success:         false,
			Message:         "NAT masquerade rule is missing",
			IssueCode:       "NAT_MISSING",
			ExecutionTimeMs: elapsedMs(start),
		}
	}
	for _, rule := range result.Data {
		if rule["disabled"] != "true" {
			return &model.StepResult{
				Success:         true,
				Message:         "NAT is configured correctly",
				ExecutionTimeMs: elapsedMs(start),
			}
		}
	}
	return &model.StepResult{
		Success:         false,
		Message:         "NAT masquerade rule is disabled",
		IssueCode:       "NAT_DISABLED",
		ExecutionTimeMs: elapsedMs(start),
	}
}

func (e *Executor) ping(ctx context.Context, target string) (*device.CommandResult, error) {
	return e.port.ExecuteCommand(ctx, device.Command{
		Path:   "/ping",
		Action: "execute",
		Args:   map[string]string{"address": target, "count": "3"},
	})
}

// pingReachable interprets a ping command result: the probe counts as passed
// only when replies actually came back.
func pingReachable(result *device.CommandResult) bool {
	if !result.Success {
		return false
	}
	if len(result.Data) == 0 {
		return false
	}
	d := result.Data[0]
	if recv, err := strconv.Atoi(d["received"]); err == nil && recv == 0 {
		return false
	}
	if loss, err := strconv.ParseFloat(d["packet-loss"], 64); err == nil && loss >= 100 {
		return false
	}
	return true
}

// transportFailure converts a port error into a failed result with no issue
// code; there is nothing to suggest when the command plane itself broke.
func transportFailure(msg string, err error, start time.Time) *model.StepResult {
	return &model.StepResult{
		Success:         false,
		Message:         msg,
		Details:         err.Error(),
		ExecutionTimeMs: elapsedMs(start),
	}
}

func elapsedMs(start time.Time) int {
	return int(time.Since(start).Milliseconds())
}
