package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dgnsrekt/tubeprompt/internal/cdpcontrol"
	"github.com/dgnsrekt/tubeprompt/internal/events"
	"github.com/dgnsrekt/tubeprompt/internal/lookup"
	"github.com/dgnsrekt/tubeprompt/internal/prompt"
	"github.com/dgnsrekt/tubeprompt/internal/transcript"
)

// AcquireResult is one completed acquisition.
type AcquireResult struct {
	ID         string   `json:"id"`
	TabID      string   `json:"tab_id"`
	Source     string   `json:"source"`
	Title      string   `json:"title"`
	Channel    string   `json:"channel"`
	URL        string   `json:"url"`
	Lines      []string `json:"lines"`
	Transcript string   `json:"transcript"`
	Prompt     string   `json:"prompt"`
	Copied     bool     `json:"copied"`
}

// Acquire runs the acquisition ladder on a tab. With toClipboard set it also
// writes the prompt to the clipboard and shows the outcome in the page.
func (s *Service) Acquire(ctx context.Context, tabID string, toClipboard bool) (*AcquireResult, error) {
	t, err := s.lookupTab(tabID)
	if err != nil {
		return nil, err
	}
	return s.acquire(ctx, t, toClipboard)
}

func (s *Service) acquire(ctx context.Context, t *tab, toClipboard bool) (*AcquireResult, error) {
	if !t.busy.CompareAndSwap(false, true) {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeBusy, Message: "an acquisition is already running on this tab"}
	}
	defer t.busy.Store(false)

	id := newAcquisitionID()
	log := t.log.With("acquisition_id", id)

	if toClipboard {
		t.pageBusy.Store(true)
		defer t.pageBusy.Store(false)
		s.setBusy(ctx, t, true)
		defer s.setBusy(context.WithoutCancel(ctx), t, false)
	}

	res := t.acquirer.Acquire(ctx)
	if res == nil {
		log.Info("agent no transcript found")
		if toClipboard {
			s.notify(ctx, t, NoticeNoTranscript)
		}
		s.publishAcquisition(t, id, nil, false)
		return nil, ErrNoTranscript
	}

	out := s.buildResult(ctx, t, res)
	out.ID = id
	log.Info("agent transcript acquired", "source", res.Source, "lines", len(res.Lines))

	if toClipboard {
		ok, err := t.page.WriteClipboard(ctx, out.Prompt)
		if err != nil {
			log.Warn("agent clipboard write failed", "error", err)
		}
		out.Copied = ok && err == nil
		if out.Copied {
			s.notify(ctx, t, NoticeCopied)
		} else {
			s.notify(ctx, t, NoticeCopyFailed)
		}
	}
	s.publishAcquisition(t, id, out, out.Copied)
	return out, nil
}

func (s *Service) publishAcquisition(t *tab, id string, out *AcquireResult, copied bool) {
	data := map[string]any{"id": id, "found": out != nil, "copied": copied}
	if out != nil {
		data["source"] = out.Source
		data["lines"] = len(out.Lines)
		data["url"] = out.URL
	}
	s.opts.Events.Publish(events.Event{Kind: events.KindAcquisition, TabID: t.id, Data: data})
}

func (s *Service) buildResult(ctx context.Context, t *tab, res *transcript.Result) *AcquireResult {
	href, err := t.page.Location(ctx)
	if err != nil {
		t.log.Debug("agent location read failed", "error", err)
	}
	pc := prompt.Context{
		Title:   lookup.FirstValue(ctx, t.page, s.opts.Tables.Title),
		Channel: lookup.FirstValue(ctx, t.page, s.opts.Tables.Channel),
		URL:     href,
	}.WithDefaults()
	text := res.Text()
	return &AcquireResult{
		TabID:      t.id,
		Source:     res.Source,
		Title:      pc.Title,
		Channel:    pc.Channel,
		URL:        pc.URL,
		Lines:      res.Lines,
		Transcript: text,
		Prompt:     prompt.Build(pc, text),
	}
}

// handleClick services a control click relayed from the page.
func (s *Service) handleClick(parent context.Context, t *tab, cl cdpcontrol.ControlClick) {
	ctx, cancel := context.WithTimeout(parent, clickTimeout)
	defer cancel()

	t.log.Info("agent control clicked", "video_id", cl.VideoID)
	s.opts.Events.Publish(events.Event{Kind: events.KindControlClick, TabID: t.id, Data: map[string]any{"video_id": cl.VideoID, "href": cl.Href}})
	if _, err := s.acquire(ctx, t, true); err != nil {
		if cdpcontrol.CodeOf(err) == cdpcontrol.CodeBusy {
			// The page disabled the control on click. Only a clipboard
			// acquisition restores it when done, so restore it here otherwise.
			if !t.pageBusy.Load() {
				s.setBusy(ctx, t, false)
			}
			s.notify(ctx, t, NoticeBusy)
			return
		}
		if !errors.Is(err, ErrNoTranscript) {
			t.log.Warn("agent click acquisition failed", "error", err)
		}
	}
}

func (s *Service) setBusy(ctx context.Context, t *tab, busy bool) {
	if err := t.page.SetBusy(ctx, busy); err != nil {
		t.log.Debug("agent set busy failed", "busy", busy, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, t *tab, msg string) {
	if err := t.page.Notify(ctx, msg); err != nil {
		slog.Debug("agent notice failed", "tab_id", t.id, "message", msg, "error", err)
	}
}
