// Package browser opens video pages in the running browser.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/tubeprompt/internal/watch"
)

// CheckWatchURL accepts only absolute http(s) URLs that carry a video id.
func CheckWatchURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must be http or https", raw)
	}
	if watch.VideoID(u.String()) == "" {
		return fmt.Errorf("url %q has no video id", raw)
	}
	return nil
}

// OpenTab creates a new tab at rawURL in the browser behind cdpURL and
// returns its target id. The tab outlives this call.
func OpenTab(ctx context.Context, cdpURL, rawURL string) (string, error) {
	if err := CheckWatchURL(rawURL); err != nil {
		return "", err
	}

	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, cdpURL)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var id target.ID
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		var err error
		id, err = target.CreateTarget(rawURL).Do(cdp.WithExecutor(ctx, c.Browser))
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("open tab: %w", err)
	}
	slog.Info("browser tab opened", "tab_id", id, "url", rawURL)
	return string(id), nil
}
