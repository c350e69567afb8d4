package model

// FinalStatus classifies a finished troubleshoot run.
type FinalStatus string

const (
	FinalStatusAllPassed       FinalStatus = "all_passed"
	FinalStatusIssuesResolved  FinalStatus = "issues_resolved"
	FinalStatusContactISP      FinalStatus = "contact_isp"
	FinalStatusIssuesRemaining FinalStatus = "issues_remaining"
)

// Summary is the read-only snapshot computed once a session has completed.
type Summary struct {
	SessionID    string      `json:"sessionId"`
	DeviceID     string      `json:"deviceId"`
	TotalSteps   int         `json:"totalSteps"`
	PassedSteps  int         `json:"passedSteps"`
	FailedSteps  int         `json:"failedSteps"`
	SkippedSteps int         `json:"skippedSteps"`
	AppliedFixes []string    `json:"appliedFixes"`
	DurationMs   int64       `json:"durationMs"`
	FinalStatus  FinalStatus `json:"finalStatus"`
	ISPInfo      *ISPInfo    `json:"ispInfo,omitempty"`
}
