package watch

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// EventKind names what reported a possible navigation.
type EventKind string

const (
	EventMutation EventKind = "mutation"
	EventPush     EventKind = "push_state"
	EventReplace  EventKind = "replace_state"
	EventPopState EventKind = "popstate"
	// EventSameDocument is the browser's same-document navigation signal.
	EventSameDocument EventKind = "same_document"
	// EventDocument is a full document load; session state starts over.
	EventDocument EventKind = "document"
)

// Event carries the page location at the time it was reported.
type Event struct {
	Kind EventKind `json:"kind"`
	Href string    `json:"href"`
}

// EventSource delivers navigation signals for one tab. The returned func
// unsubscribes the handler.
type EventSource interface {
	OnNavigate(handler func(Event)) (unsubscribe func())
}

const eventQueueSize = 64

// Watcher turns navigation signals into identity checks and injection loops.
type Watcher struct {
	session *Session
	sched   *Scheduler
	repair  *rate.Limiter
	log     *slog.Logger

	mu         sync.Mutex
	cancelLoop context.CancelFunc
	loops      sync.WaitGroup
}

// NewWatcher returns a watcher over session. repair limits opportunistic
// injection attempts triggered by DOM mutations; nil means unlimited.
func NewWatcher(session *Session, sched *Scheduler, repair *rate.Limiter, log *slog.Logger) *Watcher {
	if repair == nil {
		repair = rate.NewLimiter(rate.Inf, 1)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{session: session, sched: sched, repair: repair, log: log}
}

// Check compares the identity in href with the last seen one. On a change it
// returns the next snapshot, with the injection record cleared, and true.
// It has no side effects.
func (w *Watcher) Check(state SessionState, href string) (SessionState, bool) {
	id := VideoID(href)
	if id == "" || id == state.LastSeenVideoID {
		return state, false
	}
	return SessionState{LastSeenVideoID: id}, true
}

// Start subscribes to src and processes its events in arrival order until
// ctx ends or the returned stop func is called. initialHref is checked
// immediately, as for a page that was already open at attach time.
//
// The subscription handler never blocks. When the queue is full, events are
// coalesced into the newest one, keeping any pending document reset.
func (w *Watcher) Start(ctx context.Context, src EventSource, initialHref string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	q := &eventQueue{events: make(chan Event, eventQueueSize), kick: make(chan struct{}, 1)}

	unsubscribe := src.OnNavigate(q.push)

	var dispatch sync.WaitGroup
	dispatch.Add(1)
	go func() {
		defer dispatch.Done()
		if initialHref != "" {
			w.handle(ctx, Event{Kind: EventDocument, Href: initialHref})
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-q.events:
				w.handle(ctx, ev)
			case <-q.kick:
			}
			if ev, ok := q.takeOverflow(); ok {
				w.handle(ctx, ev)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			cancel()
			dispatch.Wait()
			w.loops.Wait()
		})
	}
}

type eventQueue struct {
	events chan Event
	kick   chan struct{}

	mu       sync.Mutex
	overflow *Event
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.overflow == nil {
		select {
		case q.events <- ev:
			return
		default:
		}
	} else if q.overflow.Kind == EventDocument {
		ev.Kind = EventDocument
	}
	q.overflow = &ev
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// takeOverflow returns the coalesced event once everything queued before it
// has been handled.
func (q *eventQueue) takeOverflow() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.overflow == nil || len(q.events) > 0 {
		return Event{}, false
	}
	ev := *q.overflow
	q.overflow = nil
	return ev, true
}

// handle processes one event. The reset is committed before any retry loop
// starts.
func (w *Watcher) handle(ctx context.Context, ev Event) {
	if ev.Kind == EventDocument {
		w.session.Reset()
	}

	var changed bool
	next := w.session.Update(func(cur SessionState) SessionState {
		n, c := w.Check(cur, ev.Href)
		changed = c
		return n
	})

	if changed {
		w.log.Info("watch identity changed", "video_id", next.LastSeenVideoID, "kind", ev.Kind)
		w.schedule(ctx, next.LastSeenVideoID)
		return
	}

	if ev.Kind == EventMutation && next.LastSeenVideoID != "" && w.repair.Allow() {
		w.sched.InjectOnce(ctx, next.LastSeenVideoID)
	}
}

// schedule replaces any running retry loop with one for videoID.
func (w *Watcher) schedule(ctx context.Context, videoID string) {
	w.mu.Lock()
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	w.mu.Unlock()

	w.loops.Add(1)
	go func() {
		defer w.loops.Done()
		defer cancel()
		w.sched.Run(loopCtx, videoID)
	}()
}

// Wait blocks until running retry loops finish.
func (w *Watcher) Wait() {
	w.loops.Wait()
}
