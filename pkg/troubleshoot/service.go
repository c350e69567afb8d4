package troubleshoot

import (
	"fmt"
	"log"
	"sync"
	"time"

	"wan-doctor/pkg/device"
	"wan-doctor/pkg/model"
	"wan-doctor/pkg/store"
)

// PortProvider resolves the command channel for a device, typically the
// WebSocket hub on the controller.
type PortProvider interface {
	PortFor(deviceID string) (device.Port, error)
}

// Status is the caller-facing view of a run, assembled from the wizard's
// observers.
type Status struct {
	SessionID string         `json:"sessionId"`
	DeviceID  string         `json:"deviceId"`
	State     string         `json:"state"`
	Progress  Progress       `json:"progress"`
	Steps     []model.Step   `json:"steps"`
	Fixes     []string       `json:"appliedFixCodes"`
	Error     string         `json:"error,omitempty"`
	Session   *model.Session `json:"session,omitempty"`
}

// Service manages one wizard per device and routes session-scoped operations
// to the owning wizard. Snapshots are persisted through the store on every
// wizard state change.
type Service struct {
	store store.Store
	ports PortProvider

	mu        sync.Mutex
	byDevice  map[string]*Wizard
	bySession map[string]*Wizard
}

func NewService(st store.Store, ports PortProvider) *Service {
	return &Service{
		store:     st,
		ports:     ports,
		byDevice:  make(map[string]*Wizard),
		bySession: make(map[string]*Wizard),
	}
}

// Start begins a run for a device. At most one run per device may be active;
// a completed run must be restarted (or a new Start issued after restart).
func (s *Service) Start(deviceID, actor string) (*model.Session, error) {
	s.mu.Lock()
	w, ok := s.byDevice[deviceID]
	if !ok {
		port, err := s.ports.PortFor(deviceID)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("device %s: %w", deviceID, err)
		}
		settings, err := s.store.GetSettings()
		if err != nil {
			log.Printf("troubleshoot: settings unavailable, using defaults: %v", err)
		}
		w = NewWizard(deviceID, port, settings, s.persist)
		s.byDevice[deviceID] = w
	}
	s.mu.Unlock()

	if err := w.Start(); err != nil {
		return nil, err
	}
	sess := w.Session()

	s.mu.Lock()
	s.bySession[sess.ID] = w
	s.mu.Unlock()

	s.audit(actor, "troubleshoot.start", deviceID, "session="+sess.ID)
	return sess, nil
}

// Get returns the live status for a session, falling back to the persisted
// snapshot for runs whose wizard has moved on.
func (s *Service) Get(sessionID string) (*Status, error) {
	if w, ok := s.wizard(sessionID); ok {
		if sess := w.Session(); sess != nil && sess.ID == sessionID {
			return s.statusOf(w, sess), nil
		}
	}
	sess, ok, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return &Status{
		SessionID: sess.ID,
		DeviceID:  sess.DeviceID,
		State:     string(sess.Status),
		Error:     sess.Error,
		Session:   sess,
	}, nil
}

// ApplyFix dispatches the suggested fix for the session's current step.
func (s *Service) ApplyFix(sessionID, actor string) error {
	w, err := s.activeWizard(sessionID)
	if err != nil {
		return err
	}
	if err := w.ApplyFix(); err != nil {
		return err
	}
	s.audit(actor, "troubleshoot.apply_fix", sessionID, "")
	return nil
}

// SkipFix skips the session's current failed step.
func (s *Service) SkipFix(sessionID, actor string) error {
	w, err := s.activeWizard(sessionID)
	if err != nil {
		return err
	}
	if err := w.SkipFix(); err != nil {
		return err
	}
	s.audit(actor, "troubleshoot.skip_fix", sessionID, "")
	return nil
}

// Cancel aborts the session's run.
func (s *Service) Cancel(sessionID, actor string) error {
	w, err := s.activeWizard(sessionID)
	if err != nil {
		return err
	}
	if err := w.Cancel(); err != nil {
		return err
	}
	s.audit(actor, "troubleshoot.cancel", sessionID, "")
	return nil
}

// Restart clears a completed run so the device can start a fresh one.
func (s *Service) Restart(sessionID, actor string) error {
	w, err := s.activeWizard(sessionID)
	if err != nil {
		return err
	}
	if err := w.Restart(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.bySession, sessionID)
	s.mu.Unlock()
	s.audit(actor, "troubleshoot.restart", sessionID, "")
	return nil
}

// Summary returns the final report for a completed session.
func (s *Service) Summary(sessionID string) (*model.Summary, error) {
	if w, ok := s.wizard(sessionID); ok {
		if sess := w.Session(); sess != nil && sess.ID == sessionID {
			return w.Summary()
		}
	}
	sess, ok, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return Summarize(sess)
}

// LastFixResult surfaces the outcome of the session's most recent apply.
func (s *Service) LastFixResult(sessionID string) *ApplyResult {
	if w, ok := s.wizard(sessionID); ok {
		return w.LastFixResult()
	}
	return nil
}

// History lists persisted sessions for a device, oldest first.
func (s *Service) History(deviceID string) ([]*model.Session, error) {
	return s.store.ListSessionsByDevice(deviceID)
}

func (s *Service) wizard(sessionID string) (*Wizard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.bySession[sessionID]
	return w, ok
}

// activeWizard resolves a session to its wizard only while the wizard still
// owns that session. Operations on superseded sessions fail cleanly.
func (s *Service) activeWizard(sessionID string) (*Wizard, error) {
	w, ok := s.wizard(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if sess := w.Session(); sess != nil && sess.ID != sessionID {
		return nil, fmt.Errorf("session %s is no longer active", sessionID)
	}
	return w, nil
}

func (s *Service) statusOf(w *Wizard, sess *model.Session) *Status {
	return &Status{
		SessionID: sess.ID,
		DeviceID:  sess.DeviceID,
		State:     w.StateName(),
		Progress:  w.Progress(),
		Steps:     w.Steps(),
		Fixes:     w.AppliedFixCodes(),
		Error:     w.Err(),
		Session:   sess,
	}
}

func (s *Service) persist(sess *model.Session) {
	if err := s.store.SaveSession(sess); err != nil {
		log.Printf("troubleshoot: persist session %s: %v", sess.ID, err)
	}
}

func (s *Service) audit(actor, action, target, detail string) {
	err := s.store.AppendAudit(model.AuditEntry{
		Actor:     actor,
		Action:    action,
		Target:    target,
		Detail:    detail,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Printf("troubleshoot: audit append failed: %v", err)
	}
}
