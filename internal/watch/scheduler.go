package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/tubeprompt/internal/poll"
)

// Injector is the page surface needed to place the action control.
type Injector interface {
	// Count returns the number of elements matching selector.
	Count(ctx context.Context, selector string) (int, error)
	// ControlPresent reports whether the action control is in the document.
	ControlPresent(ctx context.Context) (bool, error)
	// InjectControl removes any stale control and prepends a fresh one,
	// wired to the click relay, to the first element matching anchor.
	InjectControl(ctx context.Context, anchor, videoID string) error
}

// SchedulerOptions bounds the injection retry loop.
type SchedulerOptions struct {
	Attempts int
	Interval time.Duration
}

// DefaultSchedulerOptions retries for ~10s, long enough for the watch page
// metadata to render after a navigation.
var DefaultSchedulerOptions = SchedulerOptions{
	Attempts: 20,
	Interval: 500 * time.Millisecond,
}

// Scheduler (re)injects the action control for the current video.
type Scheduler struct {
	inj     Injector
	session *Session
	anchors []string
	opts    SchedulerOptions
	log     *slog.Logger

	// mu serializes attempts for the tab.
	mu sync.Mutex
}

func NewScheduler(inj Injector, session *Session, anchors []string, opts SchedulerOptions, log *slog.Logger) *Scheduler {
	if opts.Attempts < 1 {
		opts.Attempts = DefaultSchedulerOptions.Attempts
	}
	if opts.Interval < 0 {
		opts.Interval = DefaultSchedulerOptions.Interval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{inj: inj, session: session, anchors: anchors, opts: opts, log: log}
}

// Run attempts injection until it succeeds, the attempts are exhausted, or
// ctx ends. It reports whether the control is in place for videoID.
func (s *Scheduler) Run(ctx context.Context, videoID string) bool {
	done := poll.Until(ctx, s.opts.Interval, s.opts.Attempts, func(ctx context.Context) bool {
		return s.InjectOnce(ctx, videoID)
	})
	if !done && ctx.Err() == nil {
		s.log.Debug("watch injection gave up", "video_id", videoID, "attempts", s.opts.Attempts)
	}
	return done
}

// InjectOnce makes one injection attempt and reports whether no further
// attempt is needed. It is safe to call redundantly: when the control is
// already present for videoID nothing is touched. An attempt for a video the
// tab has navigated away from is abandoned.
func (s *Scheduler) InjectOnce(ctx context.Context, videoID string) bool {
	if videoID == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.session.Snapshot()
	if st.LastSeenVideoID != videoID {
		return true
	}
	if st.InjectedForVideoID == videoID {
		present, err := s.inj.ControlPresent(ctx)
		if err == nil && present {
			return true
		}
	}

	anchor, ok := s.findAnchor(ctx)
	if !ok {
		return false
	}
	if err := s.inj.InjectControl(ctx, anchor, videoID); err != nil {
		s.log.Debug("watch inject failed", "video_id", videoID, "anchor", anchor, "error", err)
		return false
	}

	s.session.Update(func(cur SessionState) SessionState {
		if cur.LastSeenVideoID == videoID {
			cur.InjectedForVideoID = videoID
		}
		return cur
	})
	s.log.Info("watch control injected", "video_id", videoID, "anchor", anchor)
	return true
}

func (s *Scheduler) findAnchor(ctx context.Context) (string, bool) {
	for _, sel := range s.anchors {
		n, err := s.inj.Count(ctx, sel)
		if err == nil && n > 0 {
			return sel, true
		}
	}
	return "", false
}
