package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	playerResponseVar = "ytInitialPlayerResponse"
	feedFormat        = "json3"
	maxFeedBytes      = 8 << 20
)

var playerAssignRE = regexp.MustCompile(playerResponseVar + `\s*=\s*`)

// PlayerSource exposes the page-embedded player configuration.
type PlayerSource interface {
	// PlayerResponse returns the JSON of the global player response, or nil
	// when the global is not set.
	PlayerResponse(ctx context.Context) (json.RawMessage, error)
	// DocumentHTML returns the serialized document for inline script scanning.
	DocumentHTML(ctx context.Context) (string, error)
}

// FeedTransport performs the credential-less caption feed request.
type FeedTransport interface {
	Get(ctx context.Context, rawURL string) (status int, body []byte, err error)
}

// HTTPTransport fetches the feed from this process. The client must not
// carry a cookie jar.
type HTTPTransport struct {
	Client *http.Client
}

func (t *HTTPTransport) Get(ctx context.Context, rawURL string) (int, []byte, error) {
	c := t.Client
	if c == nil {
		c = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// FeedFetcher is the caption feed strategy.
type FeedFetcher struct {
	Player    PlayerSource
	Transport FeedTransport
}

// Tracks reads the caption track list from the player configuration, trying
// the global binding first and inline scripts second.
func (f *FeedFetcher) Tracks(ctx context.Context) []CaptionTrack {
	raw, err := f.Player.PlayerResponse(ctx)
	if err != nil {
		slog.Debug("transcript player response read failed", "error", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		html, err := f.Player.DocumentHTML(ctx)
		if err != nil {
			slog.Debug("transcript document read failed", "error", err)
			return nil
		}
		var ok bool
		if raw, ok = ExtractPlayerResponse(html); !ok {
			return nil
		}
	}
	return TracksFromPlayerResponse(raw)
}

// Fetch selects a track and downloads its feed. Every failure yields nil;
// there is no retry.
func (f *FeedFetcher) Fetch(ctx context.Context) *Result {
	tracks := f.Tracks(ctx)
	if len(tracks) == 0 {
		slog.Debug("transcript feed: no caption tracks")
		return nil
	}
	track, ok := SelectTrack(tracks)
	if !ok || track.SourceURL == "" {
		return nil
	}

	feedURL, err := FeedURL(track.SourceURL)
	if err != nil {
		slog.Debug("transcript feed: bad track url", "error", err)
		return nil
	}

	status, body, err := f.Transport.Get(ctx, feedURL)
	if err != nil {
		slog.Debug("transcript feed request failed", "lang", track.LanguageCode, "error", err)
		return nil
	}
	if status < 200 || status >= 300 {
		slog.Debug("transcript feed non-success status", "lang", track.LanguageCode, "status", status)
		return nil
	}

	lines, err := ParseFeed(body)
	if err != nil {
		slog.Debug("transcript feed parse failed", "lang", track.LanguageCode, "error", err)
		return nil
	}
	if len(lines) == 0 {
		return nil
	}
	return NewResult(strings.Join(lines, "\n"))
}

// FeedURL forces the structured JSON captioning format on a track URL.
func FeedURL(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("track url is not absolute: %q", src)
	}
	q := u.Query()
	q.Set("fmt", feedFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type feedDoc struct {
	Events []struct {
		Segs []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// ParseFeed extracts one line per timed event by concatenating its segment
// fragments, removing zero-width spaces and trimming. Empty events are
// dropped.
func ParseFeed(body []byte) ([]string, error) {
	var doc feedDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(doc.Events))
	for _, ev := range doc.Events {
		var sb strings.Builder
		for _, s := range ev.Segs {
			sb.WriteString(s.UTF8)
		}
		text := strings.TrimSpace(strings.ReplaceAll(sb.String(), "\u200b", ""))
		if text != "" {
			lines = append(lines, text)
		}
	}
	return lines, nil
}

// ExtractPlayerResponse scans inline scripts for the player response
// assignment and decodes the object on its right-hand side. Trailing script
// content after the object is ignored.
func ExtractPlayerResponse(html string) (json.RawMessage, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}
	var out json.RawMessage
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		txt := s.Text()
		if !strings.Contains(txt, playerResponseVar) {
			return true
		}
		for _, loc := range playerAssignRE.FindAllStringIndex(txt, -1) {
			rest := txt[loc[1]:]
			if !strings.HasPrefix(rest, "{") {
				continue
			}
			var raw json.RawMessage
			if err := json.NewDecoder(strings.NewReader(rest)).Decode(&raw); err != nil {
				continue
			}
			out = raw
			return false
		}
		return true
	})
	return out, out != nil
}
