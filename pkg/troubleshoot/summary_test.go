package troubleshoot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wan-doctor/pkg/model"
)

func finishedSession(mutate func(*model.Session)) *model.Session {
	start := time.Now().Add(-45 * time.Second)
	end := time.Now()
	sess := &model.Session{
		ID:        "sess-1",
		DeviceID:  "dev-1",
		Status:    model.SessionStatusCompleted,
		Steps:     NewSteps(),
		StartedAt: &start, CompletedAt: &end,
	}
	for _, st := range sess.Steps {
		st.Status = model.StepStatusPassed
	}
	if mutate != nil {
		mutate(sess)
	}
	return sess
}

func failStep(sess *model.Session, t model.StepType, issue string) {
	st := sess.StepByType(t)
	st.Status = model.StepStatusFailed
	st.Result = &model.StepResult{Success: false, IssueCode: issue}
}

func TestSummarizeAllPassed(t *testing.T) {
	s, err := Summarize(finishedSession(nil))
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusAllPassed, s.FinalStatus)
	assert.Equal(t, 5, s.TotalSteps)
	assert.Equal(t, 5, s.PassedSteps)
	assert.Zero(t, s.FailedSteps)
	assert.Empty(t, s.AppliedFixes)
	assert.GreaterOrEqual(t, s.DurationMs, int64(45000))
}

func TestSummarizeIssuesResolved(t *testing.T) {
	sess := finishedSession(func(sess *model.Session) {
		sess.AppliedFixes = []model.AppliedFix{
			{IssueCode: "DNS_FAILED", Success: true},
		}
	})
	s, err := Summarize(sess)
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusIssuesResolved, s.FinalStatus)
	assert.Equal(t, []string{"DNS_FAILED"}, s.AppliedFixes)
}

func TestSummarizeFailedApplyDoesNotCount(t *testing.T) {
	// a dispatched fix that never verified is not a resolution
	sess := finishedSession(func(sess *model.Session) {
		sess.AppliedFixes = []model.AppliedFix{
			{IssueCode: "DNS_FAILED", Success: false},
		}
	})
	s, err := Summarize(sess)
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusAllPassed, s.FinalStatus)
	assert.Empty(t, s.AppliedFixes)
}

func TestSummarizeContactISP(t *testing.T) {
	sess := finishedSession(func(sess *model.Session) {
		failStep(sess, model.StepTypeInternet, "NO_INTERNET")
	})
	s, err := Summarize(sess)
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusContactISP, s.FinalStatus)
	assert.Equal(t, 1, s.FailedSteps)
}

func TestSummarizeIssuesRemaining(t *testing.T) {
	sess := finishedSession(func(sess *model.Session) {
		failStep(sess, model.StepTypeNAT, "NAT_MISSING")
	})
	s, err := Summarize(sess)
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusIssuesRemaining, s.FinalStatus)
}

func TestSummarizeInternetFixedOtherFailureRemains(t *testing.T) {
	// the internet step failed but its fix verified; a later NAT failure
	// should not read as an ISP problem
	sess := finishedSession(func(sess *model.Session) {
		failStep(sess, model.StepTypeNAT, "NAT_MISSING")
		internet := sess.StepByType(model.StepTypeInternet)
		internet.Result = &model.StepResult{Success: true}
		sess.AppliedFixes = []model.AppliedFix{
			{IssueCode: "NO_DEFAULT_ROUTE", Success: true},
		}
	})
	s, err := Summarize(sess)
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusIssuesRemaining, s.FinalStatus)
}

func TestSummarizeSkippedSteps(t *testing.T) {
	sess := finishedSession(func(sess *model.Session) {
		sess.StepByType(model.StepTypeDNS).Status = model.StepStatusSkipped
	})
	s, err := Summarize(sess)
	require.NoError(t, err)
	assert.Equal(t, 1, s.SkippedSteps)
	assert.Equal(t, 4, s.PassedSteps)
	assert.Equal(t, model.FinalStatusAllPassed, s.FinalStatus)
}

func TestSummarizeRequiresFinishedSession(t *testing.T) {
	_, err := Summarize(nil)
	assert.Error(t, err)

	sess := finishedSession(nil)
	sess.CompletedAt = nil
	_, err = Summarize(sess)
	assert.Error(t, err)
}
