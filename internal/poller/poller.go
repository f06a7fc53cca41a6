// Package poller runs the live-roster polling loop for the one attendance
// session attached to the open popup.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	appLog "attendboard/internal/log"
	"attendboard/internal/metrics"
	"attendboard/internal/model"
)

// DefaultInterval is the fixed gap between ticks.
const DefaultInterval = 3 * time.Second

// Fetcher loads one live roster snapshot.
type Fetcher interface {
	LiveRoster(ctx context.Context, eventID int) (model.LiveSnapshot, error)
}

// Sink owns the active-session pointer. The poller asks it before every
// tick and hands it every response; Deliver must re-read the active id at
// that moment and report whether the result was applied.
type Sink interface {
	ActiveEventID() (int, bool)
	Deliver(eventID int, snap model.LiveSnapshot, err error) bool
}

// Poller drives at most one loop at a time.
type Poller struct {
	fetch    Fetcher
	sink     Sink
	interval time.Duration
	metrics  *metrics.Metrics

	// base scopes in-flight fetches; they outlive Stop on purpose and are
	// cancelled only by Close.
	base       context.Context
	cancelBase context.CancelFunc
	inflight   sync.WaitGroup

	mu  sync.Mutex
	cur *loop

	loops atomic.Int32
}

type loop struct {
	eventID int
	cancel  context.CancelFunc
	trigger chan struct{}
	done    chan struct{}
}

func New(fetch Fetcher, sink Sink, interval time.Duration, m *metrics.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	base, cancel := context.WithCancel(context.Background())
	return &Poller{
		fetch:      fetch,
		sink:       sink,
		interval:   interval,
		metrics:    m,
		base:       base,
		cancelBase: cancel,
	}
}

// Start stops any running loop, waits for it to exit, then starts a loop
// for eventID that polls immediately and then every interval.
func (p *Poller) Start(eventID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	ctx, cancel := context.WithCancel(p.base)
	l := &loop{
		eventID: eventID,
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	p.cur = l
	p.loops.Add(1)
	go p.run(ctx, l)
	appLog.Debug("poller started", "event_id", eventID, "interval", p.interval)
}

// Stop cancels the running loop and waits for it to exit. Fetches already
// in flight are left to finish; the sink discards their results.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.cur == nil {
		return
	}
	l := p.cur
	p.cur = nil
	l.cancel()
	<-l.done
	appLog.Debug("poller stopped", "event_id", l.eventID)
}

// Trigger requests an out-of-band poll for eventID. The interval timer
// restarts from that poll. Requests for a loop that is not running are
// ignored, and pending requests are coalesced.
func (p *Poller) Trigger(eventID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil || p.cur.eventID != eventID {
		return
	}
	select {
	case p.cur.trigger <- struct{}{}:
	default:
	}
}

// Running reports the event id of the running loop.
func (p *Poller) Running() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return 0, false
	}
	return p.cur.eventID, true
}

// Close stops the loop and waits for in-flight fetches.
func (p *Poller) Close() {
	p.Stop()
	p.cancelBase()
	p.inflight.Wait()
}

// Wait blocks until every fetch issued so far has been delivered.
func (p *Poller) Wait() {
	p.inflight.Wait()
}

func (p *Poller) run(ctx context.Context, l *loop) {
	defer close(l.done)
	defer p.loops.Add(-1)

	p.tick(ctx, l.eventID)
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.tick(ctx, l.eventID)
			timer.Reset(p.interval)
		case <-l.trigger:
			p.tick(ctx, l.eventID)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.interval)
		}
	}
}

func (p *Poller) tick(ctx context.Context, eventID int) {
	if ctx.Err() != nil {
		return
	}
	if active, ok := p.sink.ActiveEventID(); !ok || active != eventID {
		return
	}
	p.metrics.PollTick()

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		snap, err := p.fetch.LiveRoster(p.base, eventID)
		if err != nil {
			appLog.Warn("live roster poll failed", "event_id", eventID, "err", err)
		}
		if !p.sink.Deliver(eventID, snap, err) {
			p.metrics.PollResult("discarded")
			return
		}
		if err != nil {
			p.metrics.PollResult("failed")
			return
		}
		p.metrics.PollResult("applied")
	}()
}
