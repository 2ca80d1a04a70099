// Package agent wires the watch and transcript pipelines to the attached
// browser tabs and exposes them to the control API.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/tubeprompt/internal/cdpcontrol"
	"github.com/dgnsrekt/tubeprompt/internal/config"
	"github.com/dgnsrekt/tubeprompt/internal/events"
	"github.com/dgnsrekt/tubeprompt/internal/lookup"
	"github.com/dgnsrekt/tubeprompt/internal/transcript"
	"github.com/dgnsrekt/tubeprompt/internal/watch"
)

// Notices shown in the page after a control click.
const (
	NoticeNoTranscript = "No transcript found for this video"
	NoticeCopied       = "Prompt + transcript copied"
	NoticeCopyFailed   = "Copy failed"
	NoticeBusy         = "Still working on the previous request"
)

// clickTimeout bounds one click-triggered acquisition.
const clickTimeout = 2 * time.Minute

// ErrNoTranscript is returned when every acquisition strategy failed.
var ErrNoTranscript = errors.New("no transcript found for this video")

// Page is everything the agent drives in one tab.
type Page interface {
	transcript.DOM
	transcript.PlayerSource
	transcript.FeedTransport
	watch.Injector
	watch.EventSource

	TabID() string
	Ensure(ctx context.Context) error
	Location(ctx context.Context) (string, error)
	SetBusy(ctx context.Context, busy bool) error
	Notify(ctx context.Context, message string) error
	WriteClipboard(ctx context.Context, text string) (bool, error)
	OnControlClick(handler func(cdpcontrol.ControlClick)) func()
}

// Browser lists and attaches video tabs.
type Browser interface {
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	Attach(ctx context.Context, tabID string) (Page, error)
}

type cdpBrowser struct {
	*cdpcontrol.Client
}

func (b cdpBrowser) Attach(ctx context.Context, tabID string) (Page, error) {
	return b.Client.Attach(ctx, tabID)
}

// Options configures the per-tab pipelines. RepairPerSecond 0 leaves
// mutation repair unthrottled.
type Options struct {
	Tables          *lookup.Tables
	Scheduler       watch.SchedulerOptions
	RepairPerSecond int
	FeedMode        string
	FeedTimeout     time.Duration
	Unlock          transcript.UnlockTiming
	// Events receives tab, navigation and acquisition activity. Optional.
	Events *events.Broker
}

// OptionsFromConfig maps agent settings onto pipeline options.
func OptionsFromConfig(cfg *config.Config, tables *lookup.Tables) Options {
	return Options{
		Tables: tables,
		Scheduler: watch.SchedulerOptions{
			Attempts: cfg.InjectAttempts,
			Interval: cfg.InjectInterval,
		},
		RepairPerSecond: cfg.RepairPerSecond,
		FeedMode:        cfg.FeedMode,
		FeedTimeout:     cfg.FeedTimeout,
		Unlock:          transcript.DefaultUnlockTiming,
	}
}

// Service tracks attached tabs and runs acquisitions on them.
type Service struct {
	browser Browser
	opts    Options

	// ctx scopes watchers and click handling; set by Run.
	ctx context.Context

	// syncMu serializes attach and detach.
	syncMu sync.Mutex

	mu   sync.Mutex
	tabs map[string]*tab

	clicks sync.WaitGroup
}

type tab struct {
	id       string
	page     Page
	session  *watch.Session
	sched    *watch.Scheduler
	watcher  *watch.Watcher
	feed     *transcript.FeedFetcher
	acquirer *transcript.Acquirer
	busy     atomic.Bool
	// pageBusy is set while the running acquisition owns the control's
	// busy state in the page.
	pageBusy atomic.Bool
	log      *slog.Logger

	stopWatch  func()
	stopClicks func()
	stopNav    func()
}

// NewService returns a service over a CDP client.
func NewService(client *cdpcontrol.Client, opts Options) *Service {
	return newService(cdpBrowser{client}, opts)
}

func newService(b Browser, opts Options) *Service {
	if opts.Tables == nil {
		opts.Tables = lookup.Default()
	}
	if opts.Unlock == (transcript.UnlockTiming{}) {
		opts.Unlock = transcript.DefaultUnlockTiming
	}
	if opts.FeedMode == "" {
		opts.FeedMode = config.FeedModePage
	}
	return &Service{
		browser: b,
		opts:    opts,
		ctx:     context.Background(),
		tabs:    make(map[string]*tab),
	}
}

// Run syncs tabs every interval until ctx ends, then detaches everything.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Sync(ctx); err != nil {
		slog.Warn("agent initial tab sync failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				slog.Warn("agent tab sync failed", "error", err)
			}
		}
	}
}

// Sync attaches new video tabs, re-prepares known ones and drops closed ones.
func (s *Service) Sync(ctx context.Context) error {
	_, err := s.syncTabs(ctx)
	return err
}

// syncTabs is Sync returning the tab list it worked from.
func (s *Service) syncTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	infos, err := s.browser.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		seen[info.TabID] = true
		s.mu.Lock()
		t := s.tabs[info.TabID]
		s.mu.Unlock()
		if t != nil {
			if err := t.page.Ensure(ctx); err != nil {
				t.log.Warn("agent tab re-attach failed", "error", err)
			}
			continue
		}
		if err := s.attach(ctx, info.TabID); err != nil {
			slog.Warn("agent tab attach failed", "tab_id", info.TabID, "error", err)
		}
	}

	s.mu.Lock()
	var gone []*tab
	for id, t := range s.tabs {
		if !seen[id] {
			gone = append(gone, t)
			delete(s.tabs, id)
		}
	}
	s.mu.Unlock()
	for _, t := range gone {
		t.stop()
		t.log.Info("agent tab detached")
		s.opts.Events.Publish(events.Event{Kind: events.KindTabDetached, TabID: t.id})
	}
	return infos, nil
}

func (s *Service) attach(ctx context.Context, tabID string) error {
	page, err := s.browser.Attach(ctx, tabID)
	if err != nil {
		return err
	}
	t := s.newTab(page)

	href, err := page.Location(ctx)
	if err != nil {
		t.log.Debug("agent initial location failed", "error", err)
	}

	s.mu.Lock()
	if _, dup := s.tabs[tabID]; dup {
		s.mu.Unlock()
		return nil
	}
	s.tabs[tabID] = t
	runCtx := s.ctx
	s.mu.Unlock()

	t.stopWatch = t.watcher.Start(runCtx, page, href)
	t.stopClicks = page.OnControlClick(func(cl cdpcontrol.ControlClick) {
		s.clicks.Add(1)
		go func() {
			defer s.clicks.Done()
			s.handleClick(runCtx, t, cl)
		}()
	})
	if s.opts.Events != nil {
		t.stopNav = page.OnNavigate(func(ev watch.Event) {
			s.opts.Events.Publish(events.Event{
				Kind:  events.KindNavigation,
				TabID: t.id,
				Data:  map[string]any{"kind": string(ev.Kind), "href": ev.Href, "video_id": watch.VideoID(ev.Href)},
			})
		})
	}
	t.log.Info("agent tab attached", "href", href)
	s.opts.Events.Publish(events.Event{Kind: events.KindTabAttached, TabID: t.id, Data: map[string]any{"href": href}})
	return nil
}

func (s *Service) newTab(page Page) *tab {
	log := slog.Default().With("tab_id", page.TabID())
	session := &watch.Session{}
	sched := watch.NewScheduler(page, session, s.opts.Tables.Anchors, s.opts.Scheduler, log)

	var repair *rate.Limiter
	if s.opts.RepairPerSecond > 0 {
		repair = rate.NewLimiter(rate.Limit(s.opts.RepairPerSecond), 1)
	}

	var transport transcript.FeedTransport = timeoutTransport{next: page, timeout: s.opts.FeedTimeout}
	if s.opts.FeedMode == config.FeedModeDirect {
		transport = &transcript.HTTPTransport{Client: &http.Client{Timeout: s.opts.FeedTimeout}}
	}
	feed := &transcript.FeedFetcher{Player: page, Transport: transport}

	return &tab{
		id:      page.TabID(),
		page:    page,
		session: session,
		sched:   sched,
		watcher: watch.NewWatcher(session, sched, repair, log),
		feed:    feed,
		acquirer: transcript.NewAcquirer(
			&transcript.PanelReader{DOM: page, Tables: s.opts.Tables},
			&transcript.PanelUnlocker{DOM: page, Tables: s.opts.Tables, Timing: s.opts.Unlock},
			feed,
		),
		log: log,
	}
}

func (t *tab) stop() {
	if t.stopNav != nil {
		t.stopNav()
	}
	if t.stopClicks != nil {
		t.stopClicks()
	}
	if t.stopWatch != nil {
		t.stopWatch()
	}
}

// Close stops every tab's watcher and waits for in-flight click handling.
func (s *Service) Close() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	tabs := s.tabs
	s.tabs = make(map[string]*tab)
	s.mu.Unlock()
	for _, t := range tabs {
		t.stop()
	}
	s.clicks.Wait()
}

func (s *Service) lookupTab(tabID string) (*tab, error) {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "tab_id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[tabID]
	if !ok {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not attached: " + tabID}
	}
	return t, nil
}

// TabStatus is an attached tab with its session snapshot.
type TabStatus struct {
	cdpcontrol.TabInfo
	Session watch.SessionState `json:"session"`
	Busy    bool               `json:"busy"`
}

// ListTabs syncs and returns every attached tab.
func (s *Service) ListTabs(ctx context.Context) ([]TabStatus, error) {
	infos, err := s.syncTabs(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TabStatus, 0, len(infos))
	for _, info := range infos {
		t, ok := s.tabs[info.TabID]
		if !ok {
			continue
		}
		out = append(out, TabStatus{TabInfo: info, Session: t.session.Snapshot(), Busy: t.busy.Load()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out, nil
}

// Session returns the tab's current session snapshot.
func (s *Service) Session(_ context.Context, tabID string) (watch.SessionState, error) {
	t, err := s.lookupTab(tabID)
	if err != nil {
		return watch.SessionState{}, err
	}
	return t.session.Snapshot(), nil
}

// InjectResult reports the outcome of an on-demand injection loop.
type InjectResult struct {
	VideoID  string             `json:"video_id"`
	Injected bool               `json:"injected"`
	Session  watch.SessionState `json:"session"`
}

// Inject checks the tab's identity and runs the injection retry loop now.
func (s *Service) Inject(ctx context.Context, tabID string) (InjectResult, error) {
	t, err := s.lookupTab(tabID)
	if err != nil {
		return InjectResult{}, err
	}
	href, err := t.page.Location(ctx)
	if err != nil {
		return InjectResult{}, err
	}
	id := watch.VideoID(href)
	if id == "" {
		return InjectResult{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "tab is not on a video page"}
	}
	t.session.Update(func(cur watch.SessionState) watch.SessionState {
		next, _ := t.watcher.Check(cur, href)
		return next
	})
	ok := t.sched.Run(ctx, id)
	return InjectResult{VideoID: id, Injected: ok, Session: t.session.Snapshot()}, nil
}

// TracksResult lists the caption tracks and the one the feed would use.
type TracksResult struct {
	Tracks   []transcript.CaptionTrack `json:"tracks"`
	Selected *transcript.CaptionTrack  `json:"selected,omitempty"`
}

// Tracks reads the caption tracks advertised by the tab's player.
func (s *Service) Tracks(ctx context.Context, tabID string) (TracksResult, error) {
	t, err := s.lookupTab(tabID)
	if err != nil {
		return TracksResult{}, err
	}
	tracks := t.feed.Tracks(ctx)
	res := TracksResult{Tracks: tracks}
	if res.Tracks == nil {
		res.Tracks = []transcript.CaptionTrack{}
	}
	if sel, ok := transcript.SelectTrack(tracks); ok {
		res.Selected = &sel
	}
	return res, nil
}

type timeoutTransport struct {
	next    transcript.FeedTransport
	timeout time.Duration
}

func (t timeoutTransport) Get(ctx context.Context, rawURL string) (int, []byte, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.next.Get(ctx, rawURL)
}

func newAcquisitionID() string {
	return uuid.NewString()
}
