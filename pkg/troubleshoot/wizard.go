package troubleshoot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"wan-doctor/pkg/device"
	"wan-doctor/pkg/model"
)

// Progress is the caller-facing run progress.
type Progress struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// Wizard drives one troubleshoot run end to end: detection, the ordered
// diagnostic steps, the fix-decision loop, and rollback on verification
// regressions.
//
// The wizard is cooperative-single-threaded: at most one remote call is in
// flight, external events other than CANCEL are rejected while one is
// outstanding, and every completion carries the run id it belongs to. A
// completion for a stale run id is discarded without touching state, so a
// cancelled call can never corrupt a later run.
type Wizard struct {
	deviceID string
	exec     *Executor
	det      *Detector
	appl     *Applicator
	onUpdate func(*model.Session)

	mu        sync.Mutex
	state     State
	sess      *model.Session
	runID     string
	runCtx    context.Context
	cancelRun context.CancelFunc

	lastFix *ApplyResult

	// pending fix context between applyingFix and verifyingFix
	pendingFixCode  string
	pendingCommand  string
	pendingRollback string
}

// NewWizard builds a wizard for one device. onUpdate, if non-nil, receives a
// session snapshot after every state change (used by the service layer to
// persist sessions); it is called without the wizard lock held.
func NewWizard(deviceID string, port device.Port, settings model.Settings, onUpdate func(*model.Session)) *Wizard {
	return &Wizard{
		deviceID: deviceID,
		exec:     NewExecutor(port, settings.Diag),
		det:      NewDetector(port, settings.Diag),
		appl:     NewApplicator(port),
		onUpdate: onUpdate,
		state:    stateIdle,
	}
}

// Start begins a new run. Valid only from idle.
func (w *Wizard) Start() error {
	w.mu.Lock()
	next, err := Transition(w.state, EventStart, false)
	if err != nil {
		w.mu.Unlock()
		return err
	}

	now := time.Now()
	w.sess = &model.Session{
		ID:           uuid.NewString(),
		DeviceID:     w.deviceID,
		Status:       model.SessionStatusInitializing,
		Steps:        NewSteps(),
		CurrentStep:  0,
		AppliedFixes: []model.AppliedFix{},
		StartedAt:    &now,
	}
	w.runID = w.sess.ID
	w.state = next
	w.lastFix = nil

	ctx, cancel := context.WithCancel(context.Background())
	w.runCtx = ctx
	w.cancelRun = cancel
	runID := w.runID
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)

	go func() {
		cfg, err := w.det.Detect(ctx, w.deviceID)
		w.finishDetect(runID, cfg, err)
	}()
	return nil
}

// ApplyFix dispatches the current step's suggested fix. Valid only while the
// wizard is awaiting a fix decision and the step actually has a suggestion.
func (w *Wizard) ApplyFix() error {
	w.mu.Lock()
	next, err := Transition(w.state, EventApplyFix, false)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	step := w.sess.Steps[w.sess.CurrentStep]
	if step.Status != model.StepStatusFailed || step.Fix == nil {
		w.mu.Unlock()
		return fmt.Errorf("no fix available for step %s", step.Definition.ID)
	}
	w.state = next
	w.sess.Status = model.SessionStatusApplyingFix
	fix := *step.Fix
	runID := w.runID
	ctx := w.runContextLocked()
	sessCtx := &model.Session{WanInterface: w.sess.WanInterface, Gateway: w.sess.Gateway}
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)

	go func() {
		res := w.appl.Apply(ctx, sessCtx, &fix)
		w.finishApply(runID, &fix, res)
	}()
	return nil
}

// SkipFix declines the current step's fix and moves on. The step keeps its
// failed result; skipping resolves nothing.
func (w *Wizard) SkipFix() error {
	w.mu.Lock()
	hasNext := w.hasNextLocked()
	next, err := Transition(w.state, EventSkipFix, hasNext)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.state = next
	w.advanceLocked(hasNext)
	return nil // advanceLocked released the lock
}

// Cancel aborts the run. The in-flight remote call, if any, is cancelled
// best-effort; local state returns to idle immediately and any late result
// for this run is discarded.
func (w *Wizard) Cancel() error {
	w.mu.Lock()
	next, err := Transition(w.state, EventCancel, false)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if w.cancelRun != nil {
		w.cancelRun()
		w.cancelRun = nil
	}
	w.runID = "" // in-flight completions become stale
	now := time.Now()
	w.sess.Status = model.SessionStatusCancelled
	w.sess.CompletedAt = &now
	for _, step := range w.sess.Steps {
		if step.Status == model.StepStatusPending || step.Status == model.StepStatusRunning {
			step.Status = model.StepStatusSkipped
		}
	}
	w.state = next
	snap := w.snapshotLocked()
	w.sess = nil
	w.mu.Unlock()
	w.notify(snap)
	return nil
}

// Restart discards a completed run so a new one can start.
func (w *Wizard) Restart() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, err := Transition(w.state, EventRestart, false)
	if err != nil {
		return err
	}
	w.state = next
	w.sess = nil
	w.runID = ""
	w.lastFix = nil
	return nil
}

// --- completions ---

func (w *Wizard) finishDetect(runID string, cfg *model.NetworkConfig, detErr error) {
	w.mu.Lock()
	if runID != w.runID {
		w.mu.Unlock()
		log.Printf("wizard: discarding stale detection result run=%s", runID)
		return
	}

	if detErr != nil {
		next, _ := Transition(w.state, eventDetectFailed, false)
		w.state = next
		now := time.Now()
		w.sess.Status = model.SessionStatusFailed
		w.sess.Error = fmt.Sprintf("network detection failed: %s", detErr.Error())
		w.sess.CompletedAt = &now
		w.runID = ""
		if w.cancelRun != nil {
			w.cancelRun()
			w.cancelRun = nil
		}
		snap := w.snapshotLocked()
		w.mu.Unlock()
		w.notify(snap)
		return
	}

	next, _ := Transition(w.state, eventDetectOK, false)
	w.state = next
	w.sess.WanInterface = cfg.WanInterface
	w.sess.Gateway = cfg.Gateway
	w.sess.ISPInfo = cfg.ISPInfo
	w.sess.Status = model.SessionStatusRunning
	w.startStepLocked(runID)
}

func (w *Wizard) finishStep(runID string, res *model.StepResult) {
	w.mu.Lock()
	if runID != w.runID {
		w.mu.Unlock()
		log.Printf("wizard: discarding stale step result run=%s", runID)
		return
	}

	step := w.sess.Steps[w.sess.CurrentStep]
	now := time.Now()
	step.Result = res
	step.CompletedAt = &now

	if res.Success {
		hasNext := w.hasNextLocked()
		next, _ := Transition(w.state, eventStepPassed, hasNext)
		step.Status = model.StepStatusPassed
		w.state = next
		w.advanceLocked(hasNext)
		return
	}

	next, _ := Transition(w.state, eventStepFailed, false)
	step.Status = model.StepStatusFailed
	step.Fix = GetFix(res.IssueCode)
	w.state = next
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)
}

func (w *Wizard) finishApply(runID string, fix *model.FixSuggestion, res ApplyResult) {
	w.mu.Lock()
	if runID != w.runID {
		w.mu.Unlock()
		log.Printf("wizard: discarding stale fix result run=%s", runID)
		return
	}
	w.lastFix = &res

	if !res.Success {
		next, _ := Transition(w.state, eventFixFailed, false)
		w.state = next
		w.sess.Status = model.SessionStatusRunning
		snap := w.snapshotLocked()
		w.mu.Unlock()
		w.notify(snap)
		return
	}

	next, _ := Transition(w.state, eventFixApplied, false)
	w.state = next
	w.sess.Status = model.SessionStatusRunning
	w.pendingFixCode = fix.IssueCode
	w.pendingCommand = fix.Command
	w.pendingRollback = res.RollbackCommand

	stepType := w.sess.Steps[w.sess.CurrentStep].Definition.ID
	wan, gw := w.sess.WanInterface, w.sess.Gateway
	ctx := w.runContextLocked()
	sessCtx := &model.Session{WanInterface: wan, Gateway: gw}
	rollback := w.pendingRollback
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)

	go func() {
		verify := w.exec.Run(ctx, stepType, wan, gw)
		rolledBack := false
		if !verify.Success && rollback != "" {
			// verified non-improvement: undo before reporting back
			if err := w.appl.Rollback(ctx, sessCtx, rollback); err != nil {
				log.Printf("wizard: rollback failed run=%s fix=%s: %v", runID, fix.IssueCode, err)
			} else {
				rolledBack = true
			}
		}
		w.finishVerify(runID, verify, rolledBack)
	}()
}

func (w *Wizard) finishVerify(runID string, res *model.StepResult, rolledBack bool) {
	w.mu.Lock()
	if runID != w.runID {
		w.mu.Unlock()
		log.Printf("wizard: discarding stale verification result run=%s", runID)
		return
	}

	step := w.sess.Steps[w.sess.CurrentStep]
	now := time.Now()
	step.Result = res
	step.CompletedAt = &now

	record := model.AppliedFix{
		IssueCode:         w.pendingFixCode,
		Command:           w.pendingCommand,
		Success:           res.Success,
		RollbackAvailable: w.pendingRollback != "",
		RolledBack:        rolledBack,
	}
	w.sess.AppliedFixes = append(w.sess.AppliedFixes, record)
	w.pendingFixCode, w.pendingCommand, w.pendingRollback = "", "", ""

	if res.Success {
		hasNext := w.hasNextLocked()
		next, _ := Transition(w.state, eventVerifyPassed, hasNext)
		step.Status = model.StepStatusPassed
		w.state = next
		w.advanceLocked(hasNext)
		return
	}

	next, _ := Transition(w.state, eventVerifyFailed, false)
	w.state = next
	// step stays failed; the caller decides between retry, skip and cancel
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)
}

// advanceLocked moves the cursor forward or completes the run. It takes
// ownership of the held lock and releases it.
func (w *Wizard) advanceLocked(hasNext bool) {
	if hasNext {
		w.sess.CurrentStep++
		w.startStepLocked(w.runID)
		return
	}
	now := time.Now()
	w.sess.Status = model.SessionStatusCompleted
	w.sess.CompletedAt = &now
	if w.cancelRun != nil {
		w.cancelRun()
		w.cancelRun = nil
	}
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)
}

// startStepLocked marks the current step running and launches its executor
// call. It takes ownership of the held lock and releases it.
func (w *Wizard) startStepLocked(runID string) {
	step := w.sess.Steps[w.sess.CurrentStep]
	now := time.Now()
	step.Status = model.StepStatusRunning
	step.StartedAt = &now

	stepType := step.Definition.ID
	wan, gw := w.sess.WanInterface, w.sess.Gateway
	ctx := w.runContextLocked()
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.notify(snap)

	go func() {
		res := w.exec.Run(ctx, stepType, wan, gw)
		w.finishStep(runID, res)
	}()
}

func (w *Wizard) runContextLocked() context.Context {
	// cancelRun's context is recreated per run; completed/cancelled runs use
	// a background context for trailing best-effort work.
	if w.cancelRun == nil {
		return context.Background()
	}
	return w.runCtx
}

// --- observers ---

// StateName returns the dotted machine state, e.g. "running.executingStep".
func (w *Wizard) StateName() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Name()
}

// Steps returns a deep copy of the run-time step list.
func (w *Wizard) Steps() []model.Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess == nil {
		return nil
	}
	out := make([]model.Step, 0, len(w.sess.Steps))
	for _, s := range w.sess.Steps {
		out = append(out, copyStep(s))
	}
	return out
}

// Progress reports how far the run has come.
func (w *Wizard) Progress() Progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := len(StepRegistry)
	if w.sess == nil {
		return Progress{Total: total}
	}
	done := 0
	for i, s := range w.sess.Steps {
		switch s.Status {
		case model.StepStatusPassed, model.StepStatusSkipped:
			done++
		case model.StepStatusFailed:
			// a failed step is behind us once the cursor moved past it
			if i < w.sess.CurrentStep || w.state.Phase == PhaseCompleted {
				done++
			}
		}
	}
	current := w.sess.CurrentStep + 1
	if w.state.Phase == PhaseCompleted {
		current = total
	}
	return Progress{Current: current, Total: total, Percentage: done * 100 / total}
}

// AppliedFixCodes lists the issue codes of fixes dispatched so far.
func (w *Wizard) AppliedFixCodes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess == nil {
		return nil
	}
	out := make([]string, 0, len(w.sess.AppliedFixes))
	for _, f := range w.sess.AppliedFixes {
		out = append(out, f.IssueCode)
	}
	return out
}

// Err returns the initialization error, if the run failed before any step.
func (w *Wizard) Err() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess == nil {
		return ""
	}
	return w.sess.Error
}

// LastFixResult returns the outcome of the most recent apply attempt.
func (w *Wizard) LastFixResult() *ApplyResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastFix == nil {
		return nil
	}
	res := *w.lastFix
	return &res
}

// Session returns a deep-copied snapshot of the current session, or nil.
func (w *Wizard) Session() *model.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Summary computes the final report. Valid only once the run completed.
func (w *Wizard) Summary() (*model.Summary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Phase != PhaseCompleted {
		return nil, fmt.Errorf("run has not completed (state %s)", w.state.Name())
	}
	return Summarize(w.sess)
}

// --- internals ---

func (w *Wizard) hasNextLocked() bool {
	return w.sess != nil && w.sess.CurrentStep+1 < len(w.sess.Steps)
}

func (w *Wizard) snapshotLocked() *model.Session {
	if w.sess == nil {
		return nil
	}
	snap := *w.sess
	snap.Steps = make([]*model.Step, 0, len(w.sess.Steps))
	for _, s := range w.sess.Steps {
		c := copyStep(s)
		snap.Steps = append(snap.Steps, &c)
	}
	snap.AppliedFixes = append([]model.AppliedFix(nil), w.sess.AppliedFixes...)
	return &snap
}

func (w *Wizard) notify(snap *model.Session) {
	if w.onUpdate != nil && snap != nil {
		w.onUpdate(snap)
	}
}

func copyStep(s *model.Step) model.Step {
	c := *s
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	if s.Fix != nil {
		f := *s.Fix
		c.Fix = &f
	}
	return c
}
