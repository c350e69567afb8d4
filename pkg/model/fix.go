package model

// FixConfidence grades how likely a suggested remediation is to resolve the issue.
type FixConfidence string

const (
	FixConfidenceHigh   FixConfidence = "high"
	FixConfidenceMedium FixConfidence = "medium"
	FixConfidenceLow    FixConfidence = "low"
)

// FixApplicationStatus is reported back to the caller after an apply attempt.
type FixApplicationStatus string

const (
	FixStatusApplied    FixApplicationStatus = "applied"
	FixStatusFailed     FixApplicationStatus = "failed"
	FixStatusAvailable  FixApplicationStatus = "available"   // manual fix, nothing dispatched
	FixStatusRolledBack FixApplicationStatus = "rolled_back" // applied but reverted after verify
)

// FixSuggestion is a candidate remediation for an issue code.
// Manual fixes carry ordered steps and no command; automated fixes carry a
// device command and optionally a rollback command.
type FixSuggestion struct {
	IssueCode            string        `json:"issueCode"`
	Title                string        `json:"title"`
	Explanation          string        `json:"explanation"`
	Command              string        `json:"command,omitempty"`
	RollbackCommand      string        `json:"rollbackCommand,omitempty"`
	Confidence           FixConfidence `json:"confidence,omitempty"`
	RequiresConfirmation bool          `json:"requiresConfirmation"`
	IsManualFix          bool          `json:"isManualFix"`
	ManualSteps          []string      `json:"manualSteps,omitempty"`
}

// AppliedFix is the append-only audit record of one apply attempt that was
// dispatched to the device.
type AppliedFix struct {
	IssueCode         string `json:"issueCode"`
	Command           string `json:"command"`
	Success           bool   `json:"success"`
	RollbackAvailable bool   `json:"rollbackAvailable"`
	RolledBack        bool   `json:"rolledBack,omitempty"`
}
