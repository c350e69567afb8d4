package model

import "time"

// SessionStatus is the coarse lifecycle of a troubleshoot session.
type SessionStatus string

const (
	SessionStatusIdle         SessionStatus = "idle"
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusRunning      SessionStatus = "running"
	SessionStatusApplyingFix  SessionStatus = "applying_fix"
	SessionStatusCompleted    SessionStatus = "completed"
	SessionStatusCancelled    SessionStatus = "cancelled"
	SessionStatusFailed       SessionStatus = "failed"
)

// StepStatus tracks one diagnostic step through pending -> running -> terminal.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusPassed  StepStatus = "passed"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// StepType identifies one of the five diagnostic checks.
type StepType string

const (
	StepTypeWAN      StepType = "wan"
	StepTypeGateway  StepType = "gateway"
	StepTypeInternet StepType = "internet"
	StepTypeDNS      StepType = "dns"
	StepTypeNAT      StepType = "nat"
)

// StepDefinition is the static catalog entry for a diagnostic step.
type StepDefinition struct {
	ID          StepType `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
}

// StepResult captures the outcome of a single executor invocation.
// IssueCode is set only on failure and keys into the fix registry.
type StepResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Details         string `json:"details,omitempty"`
	IssueCode       string `json:"issueCode,omitempty"`
	Target          string `json:"target,omitempty"`
	ExecutionTimeMs int    `json:"executionTimeMs"`
}

// Step is the run-time instance of a step definition within one session.
type Step struct {
	Definition  StepDefinition `json:"definition"`
	Status      StepStatus     `json:"status"`
	Result      *StepResult    `json:"result,omitempty"`
	Fix         *FixSuggestion `json:"fix,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// Session is the mutable state container for one wizard run. It is owned
// exclusively by the wizard that created it and discarded on restart/cancel.
type Session struct {
	ID           string        `json:"id"`
	DeviceID     string        `json:"deviceId"`
	WanInterface string        `json:"wanInterface,omitempty"`
	Gateway      string        `json:"gateway,omitempty"`
	ISPInfo      *ISPInfo      `json:"ispInfo,omitempty"`
	Status       SessionStatus `json:"status"`
	Steps        []*Step       `json:"steps"`
	CurrentStep  int           `json:"currentStep"`
	AppliedFixes []AppliedFix  `json:"appliedFixes"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// FailedSteps counts steps still in failed state.
func (s *Session) FailedSteps() int {
	n := 0
	for _, st := range s.Steps {
		if st.Status == StepStatusFailed {
			n++
		}
	}
	return n
}

// StepByType returns the run-time step for the given type, or nil.
func (s *Session) StepByType(t StepType) *Step {
	for _, st := range s.Steps {
		if st.Definition.ID == t {
			return st
		}
	}
	return nil
}
