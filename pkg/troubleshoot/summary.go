package troubleshoot

import (
	"fmt"

	"wan-doctor/pkg/model"
)

// Summarize reduces a finished session to its summary. Calling it before both
// timestamps are set is a caller bug and returns an error rather than a
// half-computed snapshot.
func Summarize(sess *model.Session) (*model.Summary, error) {
	if sess == nil || sess.StartedAt == nil || sess.CompletedAt == nil {
		return nil, fmt.Errorf("session has not completed")
	}

	s := &model.Summary{
		SessionID:  sess.ID,
		DeviceID:   sess.DeviceID,
		TotalSteps: len(sess.Steps),
		ISPInfo:    sess.ISPInfo,
		DurationMs: sess.CompletedAt.Sub(*sess.StartedAt).Milliseconds(),
	}
	for _, step := range sess.Steps {
		switch step.Status {
		case model.StepStatusPassed:
			s.PassedSteps++
		case model.StepStatusFailed:
			s.FailedSteps++
		case model.StepStatusSkipped:
			s.SkippedSteps++
		}
	}
	s.AppliedFixes = []string{}
	for _, fix := range sess.AppliedFixes {
		if fix.Success {
			s.AppliedFixes = append(s.AppliedFixes, fix.IssueCode)
		}
	}
	s.FinalStatus = classify(sess, s)
	return s, nil
}

// classify picks the final status, first match wins. A fix only counts as
// applied after its re-verification passed, so issues_resolved implies no
// remaining failed steps by construction; the explicit check keeps the
// invariant local.
func classify(sess *model.Session, s *model.Summary) model.FinalStatus {
	switch {
	case s.FailedSteps == 0 && len(s.AppliedFixes) > 0:
		return model.FinalStatusIssuesResolved
	case s.FailedSteps == 0:
		return model.FinalStatusAllPassed
	case internetStillDown(sess):
		return model.FinalStatusContactISP
	default:
		return model.FinalStatusIssuesRemaining
	}
}

// internetStillDown reports whether the internet-reachability step failed and
// no fix for it was successfully applied.
func internetStillDown(sess *model.Session) bool {
	step := sess.StepByType(model.StepTypeInternet)
	if step == nil || step.Status != model.StepStatusFailed {
		return false
	}
	if step.Result == nil {
		return true
	}
	for _, fix := range sess.AppliedFixes {
		if fix.IssueCode == step.Result.IssueCode && fix.Success {
			return false
		}
	}
	return true
}
