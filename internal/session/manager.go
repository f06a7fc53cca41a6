package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"attendboard/internal/apperr"
	"attendboard/internal/command"
	appLog "attendboard/internal/log"
	"attendboard/internal/metrics"
	"attendboard/internal/model"
	"attendboard/internal/poller"
)

// Commands issues the state-changing requests.
type Commands interface {
	CheckIn(ctx context.Context, eventID int, rawStudentID string) (command.CheckInResult, error)
	CheckOut(ctx context.Context, eventID int, rawStudentID string) (command.CheckOutResult, error)
	Finalize(ctx context.Context, eventID int) (command.FinalizeResult, error)
}

// StatusSource reports the server's attendance status for an event.
type StatusSource interface {
	FinalizedAttendance(ctx context.Context, eventID int) (model.FinalizedAttendance, error)
}

// Events is the EventStore as seen by the manager.
type Events interface {
	FindByID(id int) (model.Event, bool)
	Refresh(ctx context.Context) error
	Subscribe(fn func([]model.Event))
}

// Options configures a Manager.
type Options struct {
	Commands     Commands
	Status       StatusSource
	Events       Events
	Roster       poller.Fetcher
	PollInterval time.Duration
	Metrics      *metrics.Metrics
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Manager owns every session and the single active-session pointer. One
// Manager exists per running dashboard.
//
// Lock order: opMu before mu. Poller calls are never made while holding mu,
// since the poll loop reads the active id through mu.
type Manager struct {
	commands Commands
	status   StatusSource
	events   Events
	poller   *poller.Poller
	metrics  *metrics.Metrics
	now      func() time.Time

	// opMu serialises activation changes so that stopping one loop and
	// starting the next is never interleaved with another Open or Close.
	opMu sync.Mutex

	mu        sync.Mutex
	sessions  map[int]*session
	active    int
	hasActive bool

	subMu sync.Mutex
	subs  []func()

	// statusLoads shares one status request per event between Open and
	// the command guards.
	statusLoads singleflight.Group

	bg sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		commands: opts.Commands,
		status:   opts.Status,
		events:   opts.Events,
		metrics:  opts.Metrics,
		now:      now,
		sessions: map[int]*session{},
	}
	m.poller = poller.New(opts.Roster, m, opts.PollInterval, opts.Metrics)
	if m.events != nil {
		m.events.Subscribe(m.revalidate)
	}
	return m
}

// Subscribe registers fn to run after any session change. fn runs outside
// the manager lock.
func (m *Manager) Subscribe(fn func()) {
	m.subMu.Lock()
	m.subs = append(m.subs, fn)
	m.subMu.Unlock()
}

func (m *Manager) notify() {
	m.subMu.Lock()
	subs := append([]func(){}, m.subs...)
	m.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// Open attaches eventID's session to the popup. The server's attendance
// status is loaded before the session is activated; if that fails the
// session is shown with commands disabled. The previous session's loop is
// stopped before this one starts polling. Finalized sessions are shown but
// not polled.
func (m *Manager) Open(ctx context.Context, eventID int) (State, error) {
	if _, ok := m.events.FindByID(eventID); !ok {
		return State{}, apperr.NotFound("open", fmt.Sprintf("event %d does not exist", eventID))
	}

	if cur, ok := m.State(eventID); !ok || cur.Status != Finalized {
		if err := m.loadStatus(ctx, eventID); err != nil {
			appLog.Warn("attendance status lookup failed; commands disabled", "event_id", eventID, "err", err)
		}
	}

	m.opMu.Lock()
	m.poller.Stop()

	m.mu.Lock()
	s := m.sessionLocked(eventID)
	m.active, m.hasActive = eventID, true
	st := s.state(true)
	m.mu.Unlock()

	if st.Status != Finalized {
		m.poller.Start(eventID)
	}
	m.opMu.Unlock()

	m.metrics.ActiveSession(eventID)
	appLog.Info("attendance session opened", "event_id", eventID, "status", st.Status, "status_known", st.StatusKnown)
	m.notify()
	return st, nil
}

// Close detaches the active session. Its status and last snapshot are kept
// for the next Open.
func (m *Manager) Close() {
	m.opMu.Lock()
	m.poller.Stop()
	m.mu.Lock()
	was, id := m.hasActive, m.active
	m.active, m.hasActive = 0, false
	m.mu.Unlock()
	m.opMu.Unlock()

	if !was {
		return
	}
	m.metrics.ActiveSession(0)
	appLog.Info("attendance session closed", "event_id", id)
	m.notify()
}

// closeIf closes the active session only if it is still eventID.
func (m *Manager) closeIf(eventID int) {
	m.opMu.Lock()
	m.mu.Lock()
	match := m.hasActive && m.active == eventID
	m.mu.Unlock()
	if !match {
		m.opMu.Unlock()
		return
	}
	m.poller.Stop()
	m.mu.Lock()
	m.active, m.hasActive = 0, false
	m.mu.Unlock()
	m.opMu.Unlock()

	m.metrics.ActiveSession(0)
	m.notify()
}

// stopPollingFor stops the loop if it belongs to eventID.
func (m *Manager) stopPollingFor(eventID int) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if id, ok := m.poller.Running(); ok && id == eventID {
		m.poller.Stop()
	}
}

// ActiveEventID implements poller.Sink.
func (m *Manager) ActiveEventID() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.hasActive
}

// Deliver implements poller.Sink. The active id is re-read here, at apply
// time, so a response for a session that was closed (or replaced) while
// its fetch was in flight is dropped. Finalized sessions take no more
// snapshots. A session whose status never loaded retries the load after
// each good poll.
func (m *Manager) Deliver(eventID int, snap model.LiveSnapshot, err error) bool {
	m.mu.Lock()
	if !m.hasActive || m.active != eventID {
		m.mu.Unlock()
		return false
	}
	s := m.sessions[eventID]
	if s == nil || s.status == Finalized {
		m.mu.Unlock()
		return false
	}
	if err != nil {
		s.markUnknown(m.now())
	} else {
		s.applySnapshot(snap, m.now())
	}
	retry := err == nil && !s.statusKnown
	m.mu.Unlock()

	if retry {
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			if err := m.loadStatus(context.Background(), eventID); err != nil {
				appLog.Warn("attendance status retry failed", "event_id", eventID, "err", err)
			}
		}()
	}
	m.notify()
	return true
}

// Active returns the state of the active session.
func (m *Manager) Active() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasActive {
		return State{}, false
	}
	s := m.sessions[m.active]
	if s == nil {
		return State{}, false
	}
	return s.state(true), true
}

// State returns the state of eventID's session, if one was ever created.
func (m *Manager) State(eventID int) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[eventID]
	if s == nil {
		return State{}, false
	}
	return s.state(m.hasActive && m.active == eventID), true
}

// CheckIn records a student's arrival. It is refused without a request
// when the session is Finalized or a finalize is in flight. On success the
// live roster is polled immediately.
func (m *Manager) CheckIn(ctx context.Context, eventID int, rawStudentID string) (command.CheckInResult, error) {
	if err := m.guardRecording(ctx, "checkin", eventID); err != nil {
		return command.CheckInResult{}, err
	}
	res, err := m.commands.CheckIn(ctx, eventID, rawStudentID)
	if err != nil {
		return command.CheckInResult{}, err
	}
	m.poller.Trigger(eventID)
	return res, nil
}

// CheckOut records a student's departure; same guards as CheckIn.
func (m *Manager) CheckOut(ctx context.Context, eventID int, rawStudentID string) (command.CheckOutResult, error) {
	if err := m.guardRecording(ctx, "checkout", eventID); err != nil {
		return command.CheckOutResult{}, err
	}
	res, err := m.commands.CheckOut(ctx, eventID, rawStudentID)
	if err != nil {
		return command.CheckOutResult{}, err
	}
	m.poller.Trigger(eventID)
	return res, nil
}

// guardRecording refuses a command before any request is sent. A status
// that never loaded is loaded now; if that fails the command fails with it.
func (m *Manager) guardRecording(ctx context.Context, op string, eventID int) error {
	if _, ok := m.events.FindByID(eventID); !ok {
		return apperr.NotFound(op, fmt.Sprintf("event %d does not exist", eventID))
	}
	if st, ok := m.State(eventID); !ok || !st.StatusKnown {
		if err := m.loadStatus(ctx, eventID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[eventID]
	switch {
	case s == nil || !s.statusKnown:
		return apperr.InvalidTransition(op, "attendance status is not known yet")
	case s.status == Finalized:
		return apperr.InvalidTransition(op, "attendance for this event is finalized")
	case s.finalizing:
		return apperr.InvalidTransition(op, "finalize is in progress")
	}
	return nil
}

// Finalize converts the live check-ins into the permanent record. It is
// refused while another finalize for the event is in flight and once the
// session is Finalized. Failures leave the session unchanged and are not
// retried. On success polling stops and the event list is re-fetched.
func (m *Manager) Finalize(ctx context.Context, eventID int) (command.FinalizeResult, error) {
	if err := m.guardRecording(ctx, "finalize", eventID); err != nil {
		return command.FinalizeResult{}, err
	}

	// guardRecording released the lock; check again before claiming.
	m.mu.Lock()
	s := m.sessionLocked(eventID)
	switch {
	case s.status == Finalized:
		m.mu.Unlock()
		return command.FinalizeResult{}, apperr.InvalidTransition("finalize", "event is already finalized")
	case s.finalizing:
		m.mu.Unlock()
		return command.FinalizeResult{}, apperr.InvalidTransition("finalize", "finalize is already in progress")
	}
	s.finalizing = true
	m.mu.Unlock()
	m.notify()

	// 실패해도 재시도하지 않는다.
	res, err := m.commands.Finalize(ctx, eventID)

	m.mu.Lock()
	if err != nil {
		s.finalizing = false
		m.mu.Unlock()
		m.notify()
		return command.FinalizeResult{}, err
	}
	s.finalized(res.TotalAttendees, m.now())
	m.mu.Unlock()

	m.stopPollingFor(eventID)
	m.notify()

	if err := m.events.Refresh(context.WithoutCancel(ctx)); err != nil {
		appLog.Error("event refresh after finalize failed", err, "event_id", eventID)
	}
	return res, nil
}

// loadStatus fetches the server's attendance status for eventID and
// adopts it, creating the session if needed. Concurrent loads for one
// event share a single request.
func (m *Manager) loadStatus(ctx context.Context, eventID int) error {
	if m.status == nil {
		m.mu.Lock()
		m.sessionLocked(eventID)
		m.mu.Unlock()
		return nil
	}

	v, err, _ := m.statusLoads.Do(strconv.Itoa(eventID), func() (any, error) {
		return m.status.FinalizedAttendance(ctx, eventID)
	})
	if err != nil {
		return err
	}
	fa := v.(model.FinalizedAttendance)

	m.mu.Lock()
	s := m.sessionLocked(eventID)
	changed := s.adoptServerStatus(fa, m.now())
	nowFinal := s.status == Finalized
	m.mu.Unlock()

	if !changed {
		return nil
	}
	appLog.Info("attendance status synced", "event_id", eventID, "status", fa.Status)
	if nowFinal {
		m.stopPollingFor(eventID)
	}
	m.notify()
	return nil
}

// revalidate runs after every EventStore replacement. The active session
// is keyed by event id, so it survives a re-fetch as long as the id is
// still present.
func (m *Manager) revalidate(events []model.Event) {
	id, ok := m.ActiveEventID()
	if !ok {
		return
	}
	for _, ev := range events {
		if ev.ID == id {
			return
		}
	}
	appLog.Info("active event disappeared after refresh; closing session", "event_id", id)
	m.closeIf(id)
}

func (m *Manager) sessionLocked(eventID int) *session {
	s := m.sessions[eventID]
	if s == nil {
		// 상태 조회가 없으면 처음부터 알려진 것으로 본다.
		s = &session{eventID: eventID, statusKnown: m.status == nil}
		m.sessions[eventID] = s
	}
	return s
}

// Shutdown stops polling and waits for background work.
func (m *Manager) Shutdown() {
	m.opMu.Lock()
	m.poller.Close()
	m.opMu.Unlock()
	m.bg.Wait()
}

// Poller exposes the poll loop for diagnostics.
func (m *Manager) Poller() *poller.Poller { return m.poller }
